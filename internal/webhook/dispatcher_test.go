package webhook_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dandantas/certwatch/internal/model"
	"github.com/dandantas/certwatch/internal/webhook"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okResult(id string) model.Result {
	ts := int64(1893455999)
	res := model.NewResult(model.Job{ID: model.NumericJobID(json.Number(id)), RequestID: "req-" + id, Initiator: model.InitiatorPoll})
	res.Status = model.StatusOK
	res.CertFields = &model.CertFields{ExpiryTS: &ts, NotAfter: "Dec 31 23:59:59 2029 GMT", SubjectAltNames: []string{}}
	res.ExecutedAt = "2026-01-01T00:00:00Z"
	return res
}

type capture struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
}

func (c *capture) record(r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, r)
	c.bodies = append(c.bodies, body)
}

func (c *capture) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func TestDispatcherReportSuccess(t *testing.T) {
	t.Parallel()

	var c capture
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.record(r)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	d := webhook.NewDispatcher(srv.Client(), webhook.DispatcherConfig{
		AgentToken: "agent-secret",
		UserAgent:  "certwatch/test",
	}, discardLogger(), nil)

	err := d.Report(t.Context(), webhook.Delivery{
		Endpoint: srv.URL,
		Token:    "job-token",
		Results:  []model.Result{okResult("5")},
	})
	require.NoError(t, err)
	require.Equal(t, 1, c.len())

	req := c.requests[0]
	require.Equal(t, http.MethodPost, req.Method)
	require.Equal(t, "application/json", req.Header.Get("Content-Type"))
	require.Equal(t, "certwatch/test", req.Header.Get("User-Agent"))
	require.Equal(t, "agent-secret", req.Header.Get("X-Agent-Token"))
	require.Equal(t, "job-token", req.Header.Get("X-SSL-Token"))

	var payload struct {
		Results []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal(c.bodies[0], &payload))
	require.Len(t, payload.Results, 1)
	require.Equal(t, float64(5), payload.Results[0]["id"])
	require.Equal(t, "ok", payload.Results[0]["status"])
	require.Equal(t, float64(1893455999), payload.Results[0]["expiry_ts"])
}

func TestDispatcherReportFailures(t *testing.T) {
	t.Parallel()

	var testCases = []struct {
		scenario string
		status   int
	}{
		{scenario: "server error", status: http.StatusInternalServerError},
		{scenario: "created is not success", status: http.StatusCreated},
		{scenario: "unauthorized", status: http.StatusUnauthorized},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			var calls atomic.Int64
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte("nope"))
			}))
			t.Cleanup(srv.Close)

			d := webhook.NewDispatcher(srv.Client(), webhook.DispatcherConfig{}, discardLogger(), nil)
			err := d.Report(t.Context(), webhook.Delivery{Endpoint: srv.URL, Results: []model.Result{okResult("1")}})
			require.Error(t, err)
			require.Equal(t, model.KindTransport, model.KindOf(err))
			require.Equal(t, int64(1), calls.Load())
		})
	}
}

func TestDispatcherReportTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	d := webhook.NewDispatcher(http.DefaultClient, webhook.DispatcherConfig{Timeout: time.Second}, discardLogger(), nil)
	err := d.Report(t.Context(), webhook.Delivery{Endpoint: url, Results: []model.Result{okResult("1")}})
	require.Error(t, err)
	require.Equal(t, model.KindTransport, model.KindOf(err))
	require.True(t, model.IsRetryable(err))
}

func TestDispatcherRetriesWhenConfigured(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	d := webhook.NewDispatcher(srv.Client(), webhook.DispatcherConfig{
		Retry: webhook.RetryConfig{MaxAttempts: 3, InitialDelayMs: 1, MaxDelayMs: 5},
	}, discardLogger(), nil)

	err := d.Report(t.Context(), webhook.Delivery{Endpoint: srv.URL, Results: []model.Result{okResult("1")}})
	require.NoError(t, err)
	require.Equal(t, int64(3), calls.Load())
}

func TestDispatcherCircuitBreakerSkipsOpenEndpoint(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	d := webhook.NewDispatcher(srv.Client(), webhook.DispatcherConfig{
		BreakerThreshold: 2,
		BreakerCooldown:  time.Hour,
	}, discardLogger(), nil)

	delivery := webhook.Delivery{Endpoint: srv.URL, Results: []model.Result{okResult("1")}}
	require.Error(t, d.Report(t.Context(), delivery))
	require.Error(t, d.Report(t.Context(), delivery))

	err := d.Report(t.Context(), delivery)
	require.ErrorIs(t, err, webhook.ErrCircuitOpen)
	require.Equal(t, int64(2), calls.Load())
}

func TestDispatcherCircuitBreakerIgnoresClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path == "/wrong" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	d := webhook.NewDispatcher(srv.Client(), webhook.DispatcherConfig{
		BreakerThreshold: 2,
		BreakerCooldown:  time.Hour,
	}, discardLogger(), nil)

	wrong := webhook.Delivery{Endpoint: srv.URL + "/wrong", Results: []model.Result{okResult("1")}}
	for range 3 {
		err := d.Report(t.Context(), wrong)
		require.Error(t, err)
		require.NotErrorIs(t, err, webhook.ErrCircuitOpen)
	}

	right := webhook.Delivery{Endpoint: srv.URL + "/report", Results: []model.Result{okResult("2")}}
	require.NoError(t, d.Report(t.Context(), right))
	require.Equal(t, int64(4), calls.Load())
}

func TestDispatcherRequiresEndpoint(t *testing.T) {
	t.Parallel()

	d := webhook.NewDispatcher(http.DefaultClient, webhook.DispatcherConfig{}, discardLogger(), nil)
	err := d.Report(t.Context(), webhook.Delivery{Results: []model.Result{okResult("1")}})
	require.Error(t, err)
	require.Equal(t, model.KindTransport, model.KindOf(err))
}
