// Package handler exposes snapshot certification over HTTP.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"kanon/internal/compliance/models"
	"kanon/internal/dataset"
	"kanon/internal/platform/config"
	dErrors "kanon/pkg/domain-errors"
	"kanon/pkg/platform/httputil"
	"kanon/pkg/platform/middleware/admin"
	pstrings "kanon/pkg/platform/strings"
	"kanon/pkg/requestcontext"
)

// DefaultMaxBodyBytes bounds uploaded snapshots.
const DefaultMaxBodyBytes int64 = 64 << 20

// Service defines the certification operations the endpoints delegate to.
type Service interface {
	Audit(ctx context.Context, ds *dataset.Dataset, req models.AuditRequest) (*models.AuditReport, error)
	Get(ctx context.Context, id string) (*models.AuditReport, error)
	History(ctx context.Context, fingerprint string) ([]*models.AuditReport, error)
}

// ProfileSource supplies the audit profile in force. The profile provides
// the CSV dialect and the default audit request.
type ProfileSource interface {
	Current() *config.Profile
}

// Handler handles the audit endpoints.
type Handler struct {
	service      Service
	profiles     ProfileSource
	events       EventReader
	logger       *slog.Logger
	adminToken   string
	timeout      time.Duration
	maxBodyBytes int64
	rateLimit    func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithTimeout bounds each request. Audits of large snapshots need more than
// the default.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.timeout = d
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		h.maxBodyBytes = n
	}
}

// WithRateLimit installs per-client throttling ahead of the admin token
// check, so token guessing spends the same budget.
func WithRateLimit(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.rateLimit = mw
	}
}

// New creates a new audit Handler.
func New(service Service, profiles ProfileSource, adminToken string, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service:      service,
		profiles:     profiles,
		logger:       logger,
		adminToken:   adminToken,
		timeout:      60 * time.Second,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the audit routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(h.timeout))
		if h.rateLimit != nil {
			r.Use(h.rateLimit)
		}
		r.Use(admin.RequireAdminToken(h.adminToken, h.logger))
		r.Post("/audit", h.handleAudit)
		r.Get("/reports", h.handleListReports)
		r.Get("/reports/{id}", h.handleGetReport)
		if h.events != nil {
			r.Get("/reports/{id}/events", h.handleReportEvents)
			r.Get("/events", h.handleRecentEvents)
		}
	})
}

type reportResponse struct {
	*models.AuditReport
	Status string   `json:"status"`
	Issues []string `json:"issues"`
}

func newReportResponse(rep *models.AuditReport) reportResponse {
	return reportResponse{AuditReport: rep, Status: rep.Status(), Issues: rep.Issues()}
}

// handleAudit certifies the CSV snapshot in the request body. A PASS answers
// 200 and a FAIL answers 422; both carry the full report.
func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	profile := h.profiles.Current()
	if profile == nil {
		h.logger.ErrorContext(ctx, "no audit profile loaded", "request_id", requestID)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "audit profile unavailable"))
		return
	}
	req, err := auditRequestFromQuery(r, profile.AuditRequest())
	if err != nil {
		h.logger.WarnContext(ctx, "invalid audit request",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	codec, err := profile.Codec()
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "audit profile codec"))
		return
	}

	ds, err := codec.Read(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error":             "payload_too_large",
				"error_description": "snapshot exceeds " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes",
			})
			return
		}
		h.logger.WarnContext(ctx, "unreadable snapshot",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	rep, err := h.service.Audit(ctx, ds, req)
	if err != nil {
		h.writeServiceError(ctx, w, err, "audit snapshot")
		return
	}

	status := http.StatusOK
	if !rep.Passed {
		status = http.StatusUnprocessableEntity
	}
	httputil.WriteJSON(w, status, newReportResponse(rep))
}

func (h *Handler) handleGetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(r.Context(), w, err, "get report")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newReportResponse(rep))
}

func (h *Handler) handleListReports(w http.ResponseWriter, r *http.Request) {
	reps, err := h.service.History(r.Context(), strings.TrimSpace(r.URL.Query().Get("fingerprint")))
	if err != nil {
		h.writeServiceError(r.Context(), w, err, "list reports")
		return
	}
	out := make([]reportResponse, 0, len(reps))
	for _, rep := range reps {
		out = append(out, newReportResponse(rep))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"reports": out})
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, err error, op string) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "failed to "+op,
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}

// auditRequestFromQuery overlays the query parameters k, qi, forbidden and
// required on the profile defaults. List parameters accept repeated keys and
// comma-separated values.
func auditRequestFromQuery(r *http.Request, defaults models.AuditRequest) (models.AuditRequest, error) {
	q := r.URL.Query()
	req := defaults
	if raw := strings.TrimSpace(q.Get("k")); raw != "" {
		k, err := strconv.Atoi(raw)
		if err != nil {
			return models.AuditRequest{}, dErrors.Newf(dErrors.CodeBadRequest, "k must be an integer, got %q", raw)
		}
		req.K = k
	}
	if q.Has("qi") {
		req.QuasiIdentifiers = listParam(q["qi"])
	}
	if q.Has("forbidden") {
		req.Forbidden = listParam(q["forbidden"])
	}
	if q.Has("required") {
		req.Required = listParam(q["required"])
	}
	return req, nil
}

func listParam(values []string) []string {
	var out []string
	for _, v := range values {
		out = append(out, strings.Split(v, ",")...)
	}
	return pstrings.DedupeAndTrim(out)
}
