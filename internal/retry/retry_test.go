package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("viewer unavailable")

func fastConfig(retries int) Config {
	return Config{MaxRetries: retries, InitialBackoff: time.Millisecond}
}

// failing returns fn failing n times with err before succeeding, and a
// pointer to its call count.
func failing(n int, err error) (func() error, *int) {
	calls := 0
	return func() error {
		calls++
		if calls <= n {
			return err
		}
		return nil
	}, &calls
}

func TestDo(t *testing.T) {
	tests := []struct {
		name        string
		retries     int
		failures    int
		err         error
		shouldRetry ShouldRetryFunc
		wantCalls   int
		wantErr     bool
	}{
		{name: "first attempt succeeds", retries: 3, failures: 0, err: errFlaky, wantCalls: 1},
		{name: "succeeds on last attempt", retries: 3, failures: 2, err: errFlaky, wantCalls: 3},
		{name: "exhausts retries", retries: 3, failures: 5, err: errFlaky, wantCalls: 3, wantErr: true},
		{
			name:        "rejected by shouldRetry",
			retries:     3,
			failures:    5,
			err:         errors.New("bad request"),
			shouldRetry: func(err error) bool { return errors.Is(err, errFlaky) },
			wantCalls:   1,
			wantErr:     true,
		},
		{
			name:        "accepted by shouldRetry",
			retries:     4,
			failures:    2,
			err:         errFlaky,
			shouldRetry: func(err error) bool { return errors.Is(err, errFlaky) },
			wantCalls:   3,
		},
		{name: "permanent error", retries: 3, failures: 5, err: Permanent(errFlaky), wantCalls: 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, calls := failing(tt.failures, tt.err)
			err := Do(context.Background(), fastConfig(tt.retries), fn, tt.shouldRetry)
			assert.Equal(t, tt.wantCalls, *calls)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDo_ExhaustedWrapsLastError(t *testing.T) {
	fn, _ := failing(10, errFlaky)
	err := Do(context.Background(), fastConfig(2), fn, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, "failed after 2 retries: viewer unavailable", err.Error())
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	fn, calls := failing(10, errFlaky)
	cfg := Config{MaxRetries: 5, InitialBackoff: time.Second}
	err := Do(ctx, cfg, fn, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, *calls)
}

func TestPermanent(t *testing.T) {
	assert.NoError(t, Permanent(nil))

	err := Permanent(errFlaky)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, errFlaky.Error(), err.Error())
	assert.False(t, IsPermanent(errFlaky))
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		attempt int
		want    time.Duration
	}{
		{
			name:    "first retry uses the initial backoff",
			cfg:     Config{MaxRetries: 5, InitialBackoff: 100 * time.Millisecond},
			attempt: 1,
			want:    100 * time.Millisecond,
		},
		{
			name:    "doubles per attempt",
			cfg:     Config{MaxRetries: 5, InitialBackoff: 100 * time.Millisecond},
			attempt: 3,
			want:    400 * time.Millisecond,
		},
		{
			name:    "capped",
			cfg:     Config{MaxRetries: 5, InitialBackoff: 100 * time.Millisecond, MaxBackoff: 250 * time.Millisecond},
			attempt: 3,
			want:    250 * time.Millisecond,
		},
		{
			name:    "jitter grows with the attempt",
			cfg:     Config{MaxRetries: 5, InitialBackoff: 100 * time.Millisecond, Jitter: 0.5},
			attempt: 2,
			want:    240 * time.Millisecond,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, calculateBackoff(tt.cfg, tt.attempt))
		})
	}
}
