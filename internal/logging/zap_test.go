package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/lifeline/types"
)

func TestNewZap(t *testing.T) {
	t.Run("writes rotated file output", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "lifeline.log")

		logger, err := NewZap(ZapOptions{Level: "debug", Format: "json", File: path, MaxSizeMB: 1})
		require.NoError(t, err)

		var _ types.Logger = logger

		logger.Info("escalation", "attempt", 3)
		_ = logger.Sync()

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Contains(t, string(data), `"msg":"escalation"`)
		require.Contains(t, string(data), `"attempt":3`)
	})

	t.Run("rejects unknown level", func(t *testing.T) {
		_, err := NewZap(ZapOptions{Level: "loud"})
		require.Error(t, err)
	})
}
