package handler_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dandantas/certwatch/internal/handler"
	"github.com/dandantas/certwatch/internal/metrics"
	"github.com/dandantas/certwatch/internal/model"
	"github.com/dandantas/certwatch/internal/queue"

	"github.com/stretchr/testify/require"
)

const authToken = "push-secret"

func newRouter(t *testing.T, q *queue.Queue, policy model.SchemePolicy) http.Handler {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(q)
	return handler.NewRouter(
		handler.NewCheckHandler(authToken, policy, q, logger, m),
		handler.NewHealthHandler(q, "test"),
		m.Handler(),
		logger,
	).Handler()
}

func checkRequest(body, auth string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/check", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	return req
}

func TestCheckAccepted(t *testing.T) {
	t.Parallel()

	q := queue.New(10)
	router := newRouter(t, q, model.SchemePolicyHTTPSOnly)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, checkRequest(`{
		"id": 17,
		"site_url": "https://example.com",
		"callback": "https://site.example/callback",
		"token": "job-token",
		"request_id": "req-17",
		"context": {"target_port": 443}
	}`, "Bearer "+authToken))

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"queued": true, "request_id": "req-17"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
	require.Equal(t, 1, q.Len())

	job, ok := q.Dequeue(t.Context(), time.Second)
	require.True(t, ok)
	require.Equal(t, "17", job.ID.String())
	require.True(t, job.ID.IsNumeric())
	require.Equal(t, model.InitiatorPush, job.Initiator)
	require.Equal(t, "https://site.example/callback", job.Callback)
	require.Equal(t, "job-token", job.CallbackToken)
	require.Equal(t, "example.com", job.Target.Host)
	require.Equal(t, "https", job.Target.Scheme)
	require.Equal(t, 443, job.Target.Port)
}

func TestCheckGeneratesRequestID(t *testing.T) {
	t.Parallel()

	q := queue.New(10)
	router := newRouter(t, q, model.SchemePolicyDeclared)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, checkRequest(`{"id": "a1", "site_url": "example.com", "callback": "https://cb"}`, "Bearer "+authToken))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp handler.CheckResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Queued)
	require.NotEmpty(t, resp.RequestID)

	job, ok := q.Dequeue(t.Context(), time.Second)
	require.True(t, ok)
	require.Equal(t, resp.RequestID, job.RequestID)
	require.Equal(t, "example.com", job.Target.Host)
	require.Equal(t, "https", job.Target.Scheme)
	require.Equal(t, 443, job.Target.Port)
}

func TestCheckRejected(t *testing.T) {
	t.Parallel()

	valid := `{"id": 1, "site_url": "https://example.com", "callback": "https://cb"}`

	var testCases = []struct {
		scenario string
		policy   model.SchemePolicy
		method   string
		auth     string
		body     string
		then     int
	}{
		{scenario: "wrong method", method: http.MethodGet, auth: "Bearer " + authToken, then: http.StatusMethodNotAllowed},
		{scenario: "missing authorization", body: valid, then: http.StatusUnauthorized},
		{scenario: "non-bearer authorization", auth: "Basic " + authToken, body: valid, then: http.StatusUnauthorized},
		{scenario: "empty bearer token", auth: "Bearer ", body: valid, then: http.StatusUnauthorized},
		{scenario: "wrong token", auth: "Bearer nope", body: valid, then: http.StatusForbidden},
		{scenario: "empty body", auth: "Bearer " + authToken, body: "  ", then: http.StatusBadRequest},
		{scenario: "invalid json", auth: "Bearer " + authToken, body: `{"id":`, then: http.StatusBadRequest},
		{scenario: "missing id", auth: "Bearer " + authToken, body: `{"site_url": "https://example.com", "callback": "https://cb"}`, then: http.StatusBadRequest},
		{scenario: "missing site_url", auth: "Bearer " + authToken, body: `{"id": 1, "callback": "https://cb"}`, then: http.StatusBadRequest},
		{scenario: "missing callback", auth: "Bearer " + authToken, body: `{"id": 1, "site_url": "https://example.com"}`, then: http.StatusBadRequest},
		{scenario: "unresolvable target", auth: "Bearer " + authToken, body: `{"id": 5, "site_url": "https://x", "callback": "https://cb", "context": {"target_host": "bad host name"}}`, then: http.StatusBadRequest},
		{
			scenario: "plain http under https-only",
			policy:   model.SchemePolicyHTTPSOnly,
			auth:     "Bearer " + authToken,
			body:     `{"id": 1, "site_url": "http://example.com", "callback": "https://cb"}`,
			then:     http.StatusBadRequest,
		},
		{
			scenario: "oversized body",
			auth:     "Bearer " + authToken,
			body:     `{"id": 1, "site_url": "https://example.com", "callback": "https://cb", "pad": "` + strings.Repeat("x", handler.MaxBodyBytes) + `"}`,
			then:     http.StatusBadRequest,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			policy := tc.policy
			if policy == "" {
				policy = model.SchemePolicyDeclared
			}
			q := queue.New(10)
			router := newRouter(t, q, policy)

			req := checkRequest(tc.body, tc.auth)
			if tc.method != "" {
				req.Method = tc.method
			}

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			require.Equal(t, tc.then, rec.Code)
			require.Equal(t, 0, q.Len())

			var resp handler.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.NotEmpty(t, resp.Message)
		})
	}
}

func TestCheckQueueFull(t *testing.T) {
	t.Parallel()

	q := queue.New(1)
	router := newRouter(t, q, model.SchemePolicyDeclared)
	body := `{"id": 1, "site_url": "https://example.com", "callback": "https://cb"}`

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, checkRequest(body, "Bearer "+authToken))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, checkRequest(body, "Bearer "+authToken))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
	require.Equal(t, 1, q.Len())
}

func TestHealthAndReady(t *testing.T) {
	t.Parallel()

	q := queue.New(1)
	router := newRouter(t, q, model.SchemePolicyDeclared)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health handler.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.Equal(t, "ok", health.Status)
	require.Equal(t, 0, health.Queued)
	require.InDelta(t, time.Now().Unix(), health.Timestamp, 5)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, q.Enqueue(model.Job{ID: model.NumericJobID("1")}))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.Equal(t, 1, health.Queued)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	q := queue.New(5)
	router := newRouter(t, q, model.SchemePolicyDeclared)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "certwatch_queue_capacity 5")
}

func TestCorrelationIDIsPropagated(t *testing.T) {
	t.Parallel()

	router := newRouter(t, queue.New(1), model.SchemePolicyDeclared)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Correlation-ID", "corr-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, "corr-1", rec.Header().Get("X-Correlation-ID"))
}
