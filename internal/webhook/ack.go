package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dandantas/certwatch/internal/metrics"
	"github.com/dandantas/certwatch/internal/model"
)

// AckSender tells the controller which jobs were accepted
type AckSender struct {
	httpClient *http.Client
	url        string
	agentToken string
	userAgent  string
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewAckSender creates a new acknowledgment sender
func NewAckSender(client *http.Client, url, agentToken, userAgent string, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *AckSender {
	return &AckSender{
		httpClient: client,
		url:        url,
		agentToken: agentToken,
		userAgent:  userAgent,
		timeout:    timeout,
		logger:     logger,
		metrics:    m,
	}
}

// Send posts one acknowledgment for all entries. An empty list sends nothing.
// Any 2xx status is success.
func (a *AckSender) Send(ctx context.Context, entries []AckEntry) error {
	if len(entries) == 0 || a.url == "" {
		return nil
	}

	body, err := json.Marshal(AckPayload{Tasks: entries})
	if err != nil {
		return model.NewTransportError(fmt.Errorf("failed to marshal ack: %w", err), false)
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return model.NewTransportError(fmt.Errorf("failed to create ack request: %w", err), false)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}
	if a.agentToken != "" {
		req.Header.Set("X-Agent-Token", a.agentToken)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.metrics.IncDelivery("ack", "failure")
		return model.NewTransportError(fmt.Errorf("ack request failed: %w", err), true)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.metrics.IncDelivery("ack", "failure")
		return model.NewTransportError(
			fmt.Errorf("ack endpoint returned status %d: %s", resp.StatusCode, readSnippet(resp.Body)),
			resp.StatusCode >= 500,
		)
	}

	a.metrics.IncDelivery("ack", "success")
	a.logger.DebugContext(ctx, "Acknowledged jobs", "count", len(entries))
	return nil
}
