package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "kanon/pkg/domain-errors"
)

func TestNew(t *testing.T) {
	t.Run("json at warn drops info", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := New(&buf, "warn", "json")
		require.NoError(t, err)
		l.Info("hidden")
		l.Warn("shown", "k", 5)
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), `"msg":"shown"`)
		assert.Contains(t, buf.String(), `"k":5`)
	})

	t.Run("text format", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := New(&buf, "DEBUG", "text")
		require.NoError(t, err)
		l.Debug("details")
		assert.Contains(t, buf.String(), "msg=details")
	})

	t.Run("rejects unknown settings", func(t *testing.T) {
		_, err := New(&bytes.Buffer{}, "verbose", "json")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConfig))
		_, err = New(&bytes.Buffer{}, "info", "xml")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConfig))
	})
}
