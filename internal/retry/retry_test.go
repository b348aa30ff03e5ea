package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRetrier(policy Policy, slept *[]time.Duration) *Retrier {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(policy, logger, WithSleepFunc(func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}))
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	var slept []time.Duration
	r := testRetrier(DefaultPolicy(), &slept)

	calls := 0
	result, err := Do(context.Background(), r, "op", func(context.Context) (int, error) {
		calls++
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 1, calls)
	assert.Empty(t, slept)
}

func TestDo_RetryExhaustion_503(t *testing.T) {
	var slept []time.Duration
	policy := Policy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2}
	r := testRetrier(policy, &slept)

	upstream := &HTTPStatusError{StatusCode: 503}
	calls := 0
	_, err := Do(context.Background(), r, "op", func(context.Context) (int, error) {
		calls++
		return 0, upstream
	})

	require.Error(t, err)
	assert.Equal(t, upstream, err, "last error must propagate unchanged")
	assert.Equal(t, 4, calls, "maxRetries+1 total attempts")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, slept)
}

func TestDo_DelayCappedAtMax(t *testing.T) {
	var slept []time.Duration
	policy := Policy{MaxRetries: 5, BaseDelay: 10 * time.Second, MaxDelay: 30 * time.Second, Multiplier: 2}
	r := testRetrier(policy, &slept)

	_, err := Do(context.Background(), r, "op", func(context.Context) (int, error) {
		return 0, &HTTPStatusError{StatusCode: 500}
	})

	require.Error(t, err)
	assert.Equal(t, []time.Duration{
		10 * time.Second,
		20 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}, slept)
}

func TestDo_NonRetryableShortCircuit(t *testing.T) {
	var slept []time.Duration
	r := testRetrier(DefaultPolicy(), &slept)

	calls := 0
	_, err := Do(context.Background(), r, "op", func(context.Context) (int, error) {
		calls++
		return 0, &HTTPStatusError{StatusCode: 400}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-transient errors must not be retried")
	assert.Empty(t, slept)
}

func TestDo_RecoversAfterTransientFailure(t *testing.T) {
	var slept []time.Duration
	r := testRetrier(DefaultPolicy(), &slept)

	calls := 0
	result, err := Do(context.Background(), r, "op", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", syscall.ECONNRESET
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
	assert.Len(t, slept, 2)
}

func TestDo_ContextCanceledDuringSleep(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(DefaultPolicy(), logger, WithSleepFunc(func(ctx context.Context, _ time.Duration) error {
		return context.Canceled
	}))

	_, err := Do(context.Background(), r, "op", func(context.Context) (int, error) {
		return 0, &HTTPStatusError{StatusCode: 502}
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"http 429", &HTTPStatusError{StatusCode: 429}, true},
		{"http 500", &HTTPStatusError{StatusCode: 500}, true},
		{"http 502", &HTTPStatusError{StatusCode: 502}, true},
		{"http 503", &HTTPStatusError{StatusCode: 503}, true},
		{"http 504", &HTTPStatusError{StatusCode: 504}, true},
		{"http 400", &HTTPStatusError{StatusCode: 400}, false},
		{"http 404", &HTTPStatusError{StatusCode: 404}, false},
		{"conn reset", syscall.ECONNRESET, true},
		{"conn refused", syscall.ECONNREFUSED, true},
		{"timed out", syscall.ETIMEDOUT, true},
		{"dns failure", &net.DNSError{Err: "no such host", Name: "api.example.com"}, true},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 30*time.Second, p.Delay(10))
}
