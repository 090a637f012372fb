package kafka

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "kanon/pkg/platform/audit"
)

func TestCodec(t *testing.T) {
	t.Run("decode restores what encode wrote", func(t *testing.T) {
		event := audit.Event{
			ID:          uuid.New(),
			Timestamp:   time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC),
			RunID:       "run-7",
			Action:      string(audit.EventAuditFailed),
			Fingerprint: "deadbeef",
			Decision:    "FAIL",
			Reason:      "1 violating class",
			K:           3,
			Records:     12,
		}
		key, value, err := encode(event)
		require.NoError(t, err)
		assert.Equal(t, event.ID.String(), string(key))

		got, err := decode(key, value)
		require.NoError(t, err)
		event.Category = audit.CategoryCompliance
		assert.Equal(t, event, got)
	})

	t.Run("missing id is assigned", func(t *testing.T) {
		key, _, err := encode(audit.Event{Action: "audit_passed"})
		require.NoError(t, err)
		_, err = uuid.ParseBytes(key)
		assert.NoError(t, err)
	})

	t.Run("bad key is rejected", func(t *testing.T) {
		_, err := decode([]byte("not-a-uuid"), []byte(`{}`))
		assert.Error(t, err)
	})
}
