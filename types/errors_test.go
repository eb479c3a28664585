package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSentinelErrors(t *testing.T) {
	t.Run("wrapped errors maintain identity", func(t *testing.T) {
		wrapped := fmt.Errorf("open transport: %w", ErrTransportUnavailable)
		require.ErrorIs(t, wrapped, ErrTransportUnavailable)
		require.NotErrorIs(t, wrapped, ErrTransportClosed)
	})

	t.Run("all errors are distinct", func(t *testing.T) {
		allErrors := []error{
			ErrInvalidConfig,
			ErrAlreadyStarted,
			ErrNotStarted,
			ErrUnknownBackend,
			ErrBackendUnavailable,
			ErrTransportUnavailable,
			ErrTransportClosed,
			ErrRelayClosed,
			ErrWriteRejected,
			ErrConnectivity,
			ErrContextCanceled,
			ErrNoKeysFound,
		}

		for i, err1 := range allErrors {
			for j, err2 := range allErrors {
				if i == j {
					require.True(t, errors.Is(err1, err2), "error should equal itself: %v", err1)
				} else {
					require.False(t, errors.Is(err1, err2), "errors should be distinct: %v vs %v", err1, err2)
				}
			}
		}
	})
}

func TestIsNoKeysFoundError(t *testing.T) {
	t.Run("returns false for nil error", func(t *testing.T) {
		require.False(t, IsNoKeysFoundError(nil))
	})

	t.Run("returns true for wrapped sentinel", func(t *testing.T) {
		require.True(t, IsNoKeysFoundError(errors.Join(ErrNoKeysFound, errors.New("ctx"))))
	})

	t.Run("returns true for NATS error message", func(t *testing.T) {
		require.True(t, IsNoKeysFoundError(errors.New("failed to list KV keys: nats: no keys found")))
	})

	t.Run("returns false for unrelated error", func(t *testing.T) {
		require.False(t, IsNoKeysFoundError(ErrWriteRejected))
	})
}

func TestMessageTypeValid(t *testing.T) {
	require.True(t, MessageHeartbeat.Valid())
	require.True(t, MessageRestart.Valid())
	require.True(t, MessageAck.Valid())
	require.False(t, MessageType("reload").Valid())
}
