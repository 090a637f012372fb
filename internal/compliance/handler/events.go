package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	dErrors "kanon/pkg/domain-errors"
	audit "kanon/pkg/platform/audit"
	"kanon/pkg/platform/httputil"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// EventReader lists recorded audit events.
type EventReader interface {
	ListByRun(ctx context.Context, runID string) ([]audit.Event, error)
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)
}

// WithEventReader exposes the audit trail under /events and
// /reports/{id}/events.
func WithEventReader(events EventReader) Option {
	return func(h *Handler) {
		h.events = events
	}
}

type eventResponse struct {
	ID          string    `json:"id"`
	Category    string    `json:"category"`
	Timestamp   time.Time `json:"timestamp"`
	RunID       string    `json:"run_id"`
	Action      string    `json:"action"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Decision    string    `json:"decision,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	K           int       `json:"k,omitempty"`
	Records     int       `json:"records"`
	Suppressed  int       `json:"suppressed"`
	RequestID   string    `json:"request_id,omitempty"`
	ActorID     string    `json:"actor_id,omitempty"`
}

func toEventResponses(events []audit.Event) []eventResponse {
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{
			ID:          e.ID.String(),
			Category:    string(e.Category),
			Timestamp:   e.Timestamp,
			RunID:       e.RunID,
			Action:      e.Action,
			Fingerprint: e.Fingerprint,
			Decision:    e.Decision,
			Reason:      e.Reason,
			K:           e.K,
			Records:     e.Records,
			Suppressed:  e.Suppressed,
			RequestID:   e.RequestID,
			ActorID:     e.ActorID,
		})
	}
	return out
}

// handleReportEvents lists the events recorded for one report. Report ids
// double as the run id of their audit events.
func (h *Handler) handleReportEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.ListByRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(r.Context(), w, dErrors.Wrap(err, dErrors.CodeInternal, "list events"), "list report events")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": toEventResponses(events)})
}

func (h *Handler) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, dErrors.Newf(dErrors.CodeBadRequest, "limit must be a positive integer, got %q", raw))
			return
		}
		limit = min(n, maxEventLimit)
	}
	events, err := h.events.ListRecent(r.Context(), limit)
	if err != nil {
		h.writeServiceError(r.Context(), w, dErrors.Wrap(err, dErrors.CodeInternal, "list events"), "list recent events")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": toEventResponses(events)})
}
