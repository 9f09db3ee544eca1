package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Run("should reject an unknown level", func(t *testing.T) {
		// act
		_, err := NewLogger("svc", "test", "loud", "")

		// assert
		assert.Error(t, err)
	})

	t.Run("should duplicate entries into the log file", func(t *testing.T) {
		// arrange
		path := filepath.Join(t.TempDir(), "logs", "service.log")
		logger, err := NewLogger("svc", "test", "debug", path)
		require.NoError(t, err)

		// act
		WithTrace(logger, "", SystemSpanID).Info("hello")
		_ = logger.Sync()

		// assert
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		var entry map[string]any
		require.NoError(t, json.Unmarshal(raw, &entry))
		assert.Equal(t, "hello", entry["msg"])
		assert.Equal(t, "svc", entry["service"])
		assert.Equal(t, "unknown", entry["trace_id"])
		assert.Equal(t, SystemSpanID, entry["span_id"])
	})
}
