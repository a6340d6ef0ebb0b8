package stacktape

import (
	"sort"
	"strings"
)

// sensitiveKeywords mark environment variables whose values are masked in
// the environment marker.
var sensitiveKeywords = []string{
	"activation_code", "api_key", "apikey", "auth", "bearer", "cert",
	"askpass", "token", "cloud_key", "cloudkey",
	"logname", "username", "path", "user", "userid", "user_id",
	"home", "gopath", "goproxy", "netrc",
	"certificate", "connection_string", "cookie", "cred", "credential",
	"database_url", "dsn", "hash", "jwt", "key", "nonce", "oauth", "passwd",
	"password", "private", "pwd", "salt", "secret", "serial", "session",
	"signature", "webhook",
}

// IsSensitiveKey reports whether an environment variable may hold a secret
// or personal information.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// MaskValue replaces value with asterisks when key is sensitive.
func MaskValue(key, value string) string {
	if IsSensitiveKey(key) {
		return strings.Repeat("*", len(value))
	}
	return value
}

// SafeEnvironment parses KEY=VALUE pairs, masking sensitive values.
func SafeEnvironment(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		key, value, _ := strings.Cut(kv, "=")
		if key == "" {
			continue
		}
		env[key] = MaskValue(key, value)
	}
	return env
}

// environmentReport renders the command line and the masked environment as
// markdown.
func environmentReport(args, environ []string) string {
	env := SafeEnvironment(environ)
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("## Command line\n")
	b.WriteString(strings.Join(args, " "))
	b.WriteString("\n## Environment\n")
	for _, k := range keys {
		b.WriteString(" - " + k + ": " + env[k] + "\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}
