package stacktape

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSensitiveKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"AWS_SECRET_ACCESS_KEY", true},
		{"GITHUB_TOKEN", true},
		{"DATABASE_URL", true},
		{"HOME", true},
		{"PATH", true},
		{"db_password", true},
		{"LANG", false},
		{"GOMAXPROCS", false},
		{"STACKTAPE_SAMPLE_DELAY", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSensitiveKey(tt.key))
		})
	}
}

func TestMaskValue(t *testing.T) {
	assert.Equal(t, "******", MaskValue("API_KEY", "abc123"))
	assert.Equal(t, "en_US.UTF-8", MaskValue("LANG", "en_US.UTF-8"))
}

func TestSafeEnvironment(t *testing.T) {
	env := SafeEnvironment([]string{"LANG=C", "API_TOKEN=xyz", "EMPTY=", "=ignored", "A=b=c"})
	assert.Equal(t, map[string]string{
		"LANG":      "C",
		"API_TOKEN": "***",
		"EMPTY":     "",
		"A":         "b=c",
	}, env)
}

func TestEnvironmentReport(t *testing.T) {
	got := environmentReport([]string{"/usr/bin/app", "--fast"}, []string{"LANG=C", "SECRET=hunter2"})
	assert.Equal(t, "## Command line\n/usr/bin/app --fast\n## Environment\n - LANG: C\n - SECRET: *******", got)
}
