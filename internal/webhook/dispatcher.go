package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dandantas/certwatch/internal/metrics"
	"github.com/dandantas/certwatch/internal/model"
)

// ErrCircuitOpen is returned when deliveries to an endpoint are suspended
var ErrCircuitOpen = errors.New("circuit breaker is open")

const bodySnippetLimit = 512

// DispatcherConfig configures report delivery
type DispatcherConfig struct {
	AgentToken       string
	UserAgent        string
	Timeout          time.Duration
	Retry            RetryConfig
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Dispatcher delivers results to report endpoints
type Dispatcher struct {
	httpClient *http.Client
	cfg        DispatcherConfig
	breakers   *breakerSet
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewDispatcher creates a new report dispatcher
func NewDispatcher(client *http.Client, cfg DispatcherConfig, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 60 * time.Second
	}
	return &Dispatcher{
		httpClient: client,
		cfg:        cfg,
		breakers:   newBreakerSet(cfg.BreakerThreshold, cfg.BreakerCooldown),
		logger:     logger,
		metrics:    m,
	}
}

// Report posts the delivery's results as one request. Only HTTP 200 counts
// as success; failures are returned as transport errors for the caller to
// log and are never retried beyond the configured attempts.
func (d *Dispatcher) Report(ctx context.Context, delivery Delivery) error {
	if delivery.Endpoint == "" {
		return model.NewTransportError(errors.New("no report endpoint"), false)
	}

	breaker := d.breakers.get(delivery.Endpoint)
	if breaker != nil && !breaker.CanAttempt() {
		d.metrics.IncDelivery("report", "skipped")
		d.logger.WarnContext(ctx, "Circuit breaker is open, skipping report delivery",
			"endpoint", delivery.Endpoint,
			"results", len(delivery.Results),
		)
		return model.NewTransportError(ErrCircuitOpen, true)
	}

	body, err := json.Marshal(ReportPayload{Results: delivery.Results})
	if err != nil {
		return model.NewTransportError(fmt.Errorf("failed to marshal report: %w", err), false)
	}

	timeout := delivery.Timeout
	if timeout <= 0 {
		timeout = d.cfg.Timeout
	}

	retryStrategy := NewRetryStrategy(d.cfg.Retry)

	var (
		statusCode int
		snippet    string
	)
attempts:
	for attempt := 1; attempt <= retryStrategy.GetMaxAttempts(); attempt++ {
		start := time.Now()
		statusCode, snippet, err = d.post(ctx, delivery, body, timeout)

		if err == nil && statusCode == http.StatusOK {
			d.metrics.IncDelivery("report", "success")
			if breaker != nil {
				breaker.RecordSuccess()
			}
			d.logger.InfoContext(ctx, "Report delivered",
				"endpoint", delivery.Endpoint,
				"results", len(delivery.Results),
				"attempt", attempt,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return nil
		}

		if !retryStrategy.ShouldRetry(attempt, statusCode, err) {
			break
		}

		delay := retryStrategy.CalculateDelay(attempt)
		d.logger.WarnContext(ctx, "Report delivery failed, retrying",
			"endpoint", delivery.Endpoint,
			"attempt", attempt,
			"status_code", statusCode,
			"next_retry_ms", delay.Milliseconds(),
			"error", err,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			err = ctx.Err()
			statusCode = 0
			break attempts
		}
	}

	d.metrics.IncDelivery("report", "failure")
	if breaker != nil && endpointUnhealthy(statusCode) {
		breaker.RecordFailure()
	}

	if err == nil {
		err = fmt.Errorf("report endpoint returned status %d", statusCode)
	}
	d.logger.ErrorContext(ctx, "Report delivery failed",
		"endpoint", delivery.Endpoint,
		"results", len(delivery.Results),
		"status_code", statusCode,
		"body", snippet,
		"error", err,
	)

	return model.NewTransportError(err, statusCode == 0 || statusCode >= 500)
}

// endpointUnhealthy reports whether a failed delivery counts against the
// endpoint's breaker. Client errors such as a wrong callback path do not.
func endpointUnhealthy(statusCode int) bool {
	return statusCode == 0 || statusCode == http.StatusTooManyRequests || statusCode >= 500
}

// post performs a single delivery attempt
func (d *Dispatcher) post(ctx context.Context, delivery Delivery, body []byte, timeout time.Duration) (int, string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, delivery.Endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}
	if d.cfg.AgentToken != "" {
		req.Header.Set("X-Agent-Token", d.cfg.AgentToken)
	}
	if delivery.Token != "" {
		req.Header.Set("X-SSL-Token", delivery.Token)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode, readSnippet(resp.Body), nil
}

// readSnippet reads a bounded prefix of a response body for logging
func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, bodySnippetLimit))
	return string(b)
}
