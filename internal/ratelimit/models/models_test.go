package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimitEnabled(t *testing.T) {
	assert.True(t, Limit{Requests: 1, Window: time.Second}.Enabled())
	assert.False(t, Limit{Requests: 0, Window: time.Second}.Enabled())
	assert.False(t, Limit{Requests: 5}.Enabled())
}

func TestRetryAfterSeconds(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		resetAt time.Time
		want    int
	}{
		{"whole seconds", now.Add(30 * time.Second), 30},
		{"rounds up", now.Add(1500 * time.Millisecond), 2},
		{"already past", now.Add(-time.Second), 1},
		{"sub-second", now.Add(10 * time.Millisecond), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RetryAfterSeconds(now, tt.resetAt))
		})
	}
}

func TestClientKey(t *testing.T) {
	assert.Equal(t, "kanon:ratelimit:audit:10.0.0.1", ClientKey("audit", "10.0.0.1"))
}
