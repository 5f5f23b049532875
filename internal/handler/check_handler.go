package handler

import (
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dandantas/certwatch/internal/metrics"
	"github.com/dandantas/certwatch/internal/model"
	"github.com/dandantas/certwatch/internal/source"
)

// MaxBodyBytes caps the size of a push request body
const MaxBodyBytes = 1 << 20

// JobQueue accepts jobs without blocking and reports its occupancy
type JobQueue interface {
	Enqueue(job model.Job) error
	Len() int
	Cap() int
}

// CheckHandler accepts pushed certificate checks
type CheckHandler struct {
	authToken []byte
	policy    model.SchemePolicy
	queue     JobQueue
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewCheckHandler creates a new check handler
func NewCheckHandler(authToken string, policy model.SchemePolicy, queue JobQueue, logger *slog.Logger, m *metrics.Metrics) *CheckHandler {
	return &CheckHandler{
		authToken: []byte(authToken),
		policy:    policy,
		queue:     queue,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// CheckResponse is returned when a job is queued
type CheckResponse struct {
	Queued    bool   `json:"queued"`
	RequestID string `json:"request_id"`
}

// Check handles POST /api/check. The job is only validated and queued; the
// probe runs later on a worker.
func (h *CheckHandler) Check(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := h.authorize(r); err != nil {
		status := http.StatusForbidden
		if errors.Is(err, model.ErrUnauthorized) {
			status = http.StatusUnauthorized
		}
		h.metrics.IncIngested(model.InitiatorPush, "unauthorized")
		h.logger.WarnContext(r.Context(), "Rejected check request", "error", err, "remote_addr", r.RemoteAddr)
		writeError(w, status, err.Error())
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		h.reject(w, r, "Request body is unreadable or too large")
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		h.reject(w, r, "Request body is empty")
		return
	}

	raw, err := source.DecodeTask(body)
	if err != nil {
		h.reject(w, r, "Invalid JSON body")
		return
	}

	job, err := source.NormalizeTask(raw, model.InitiatorPush, h.now())
	if err != nil {
		h.reject(w, r, "id is required")
		return
	}
	if job.Target.SiteURL == "" && job.Target.Host == "" {
		h.reject(w, r, "site_url is required")
		return
	}
	if job.Callback == "" {
		h.reject(w, r, "callback is required")
		return
	}
	resolved, err := job.Target.Resolve(h.policy)
	if err != nil {
		h.reject(w, r, "Invalid target: "+err.Error())
		return
	}
	job.Target = resolved

	if err := h.queue.Enqueue(job); err != nil {
		h.metrics.IncIngested(model.InitiatorPush, "dropped")
		h.logger.WarnContext(r.Context(), "Job queue is full",
			"job_id", job.ID.String(),
			"request_id", job.RequestID,
			"capacity", h.queue.Cap(),
		)
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "Job queue is full")
		return
	}

	h.metrics.IncIngested(model.InitiatorPush, "accepted")
	h.logger.InfoContext(r.Context(), "Check queued",
		"job_id", job.ID.String(),
		"request_id", job.RequestID,
		"queued", h.queue.Len(),
	)

	writeJSON(w, http.StatusAccepted, CheckResponse{
		Queued:    true,
		RequestID: job.RequestID,
	})
}

// authorize validates the bearer token in constant time
func (h *CheckHandler) authorize(r *http.Request) error {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return model.ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(token), h.authToken) != 1 {
		return model.ErrForbidden
	}
	return nil
}

func (h *CheckHandler) reject(w http.ResponseWriter, r *http.Request, message string) {
	h.metrics.IncIngested(model.InitiatorPush, "rejected")
	h.logger.InfoContext(r.Context(), "Invalid check request", "reason", message)
	writeError(w, http.StatusBadRequest, message)
}
