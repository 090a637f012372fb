package admin

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"kanon/pkg/requestcontext"
)

func TestRequireAdminToken(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var actor string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor = requestcontext.ActorID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name     string
		expected string
		sent     string
		status   int
	}{
		{"matching token", "s3cret", "s3cret", http.StatusNoContent},
		{"wrong token", "s3cret", "guess", http.StatusUnauthorized},
		{"missing token", "s3cret", "", http.StatusUnauthorized},
		{"unconfigured token rejects all", "", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actor = ""
			req := httptest.NewRequest(http.MethodGet, "/reports/x", nil)
			if tt.sent != "" {
				req.Header.Set(TokenHeader, tt.sent)
			}
			rr := httptest.NewRecorder()
			RequireAdminToken(tt.expected, logger)(next).ServeHTTP(rr, req)
			assert.Equal(t, tt.status, rr.Code)
			if tt.status == http.StatusNoContent {
				assert.Equal(t, Actor, actor)
			}
		})
	}
}
