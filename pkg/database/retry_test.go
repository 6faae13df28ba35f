package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsBusyError(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"database is locked":         true,
		"database table is locked":   true,
		"SQLITE_BUSY":                true,
		"SQLITE_LOCKED":              true,
		"error (5): database busy":   true,
		"error (6): database locked": true,
		"connection refused":         false,
		"UNIQUE constraint failed":   false,
	}
	for msg, expected := range tests {
		assert.Equal(t, expected, isBusyError(errors.New(msg)), msg)
	}
	assert.False(t, isBusyError(nil))
}

func TestRetryWithBackoff(t *testing.T) {
	t.Parallel()

	t.Run("retries busy errors", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		err := retryWithBackoff(context.Background(), 5, func() error {
			attempts++
			if attempts < 3 {
				return errors.New("database is locked")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("other errors are returned at once", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		err := retryWithBackoff(context.Background(), 5, func() error {
			attempts++
			return errors.New("UNIQUE constraint failed")
		})
		require.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("gives up after the last retry", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		err := retryWithBackoff(context.Background(), 2, func() error {
			attempts++
			return errors.New("SQLITE_BUSY")
		})
		require.Error(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("stops when cancelled", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		attempts := 0
		err := retryWithBackoff(ctx, 20, func() error {
			attempts++
			return errors.New("database is locked")
		})
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, attempts, 20)
	})
}
