package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(maxRetries int) *Config {
	return &Config{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 5*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.Multiplier)
	assert.Equal(t, 5, cfg.MaxSameErrorType)
}

func TestApplyJitter_StaysWithinBounds(t *testing.T) {
	delay := 100 * time.Millisecond
	for i := 0; i < 100; i++ {
		got := applyJitter(delay, 0.1)
		assert.GreaterOrEqual(t, got, 90*time.Millisecond)
		assert.LessOrEqual(t, got, 110*time.Millisecond)
	}
	assert.Equal(t, delay, applyJitter(delay, 0))
}

func TestDoWithResult_SuccessAfterRetries(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(3), func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection refused")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestDoWithResult_MaxRetriesExhausted(t *testing.T) {
	calls := 0
	_, err := DoWithResult(context.Background(), fastConfig(2), func() (int, error) {
		calls++
		return 0, errors.New("still down")
	})

	require.EqualError(t, err, "still down")
	assert.Equal(t, 3, calls)
}

func TestDoWithResult_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{MaxRetries: 5, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}

	calls := 0
	_, err := DoWithResult(ctx, cfg, func() (int, error) {
		calls++
		cancel()
		return 0, errors.New("fail")
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock detected", &pgconn.PgError{Code: "40P01"}, true},
		{"connection exception", &pgconn.PgError{Code: "08006"}, true},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"syntax error", &pgconn.PgError{Code: "42601"}, false},
		{"wrapped pg error", fmt.Errorf("insert failed: %w", &pgconn.PgError{Code: "40001"}), true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"i/o timeout", errors.New("read tcp: i/o timeout"), true},
		{"bad input", errors.New("invalid input syntax"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestDoIfRetryable_RetriesTransientErrors(t *testing.T) {
	calls := 0
	err := DoIfRetryable(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 2 {
			return &pgconn.PgError{Code: "40P01"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoIfRetryable_StopsOnPermanentError(t *testing.T) {
	permanent := &pgconn.PgError{Code: "23505"}
	calls := 0
	err := DoIfRetryable(context.Background(), fastConfig(3), func() error {
		calls++
		return permanent
	})

	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoIfRetryable_EscalatesRepeatedErrorType(t *testing.T) {
	cfg := fastConfig(10)
	cfg.MaxSameErrorType = 3

	calls := 0
	err := DoIfRetryable(context.Background(), cfg, func() error {
		calls++
		return errors.New("connection refused")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "repeated error (3 times, type=connection)")
	assert.Equal(t, 3, calls)
}

func TestDoIfRetryable_NilConfigUsesDefaults(t *testing.T) {
	calls := 0
	err := DoIfRetryable(context.Background(), nil, func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
