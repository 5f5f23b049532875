package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/dandantas/certwatch/internal/metrics"
	"github.com/dandantas/certwatch/internal/model"
	"github.com/dandantas/certwatch/internal/webhook"
	"github.com/oliveagle/jsonpath"
	"github.com/robfig/cron/v3"
)

const (
	// DefaultTasksPath locates the task list in a poll response
	DefaultTasksPath = "$.tasks"
	// jobsPath is accepted as an alias of the default task list
	jobsPath = "$.jobs"

	minIdleDelay     = time.Second
	maxResponseBytes = 10 << 20
)

// Enqueuer accepts jobs without blocking
type Enqueuer interface {
	Enqueue(job model.Job) error
}

// Acker acknowledges accepted jobs to the controller
type Acker interface {
	Send(ctx context.Context, entries []webhook.AckEntry) error
}

// PollerConfig configures the pull loop
type PollerConfig struct {
	URL        string
	Interval   time.Duration
	DrainDelay time.Duration
	Timeout    time.Duration
	BatchLimit int
	AgentToken string
	UserAgent  string
	TasksPath  string
	Schedule   string
}

// Poller periodically fetches tasks from the controller and enqueues them
type Poller struct {
	cfg        PollerConfig
	httpClient *http.Client
	queue      Enqueuer
	acker      Acker
	paths      []*jsonpath.Compiled
	schedule   cron.Schedule
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewPoller creates a poller. The task path and optional cron schedule are
// compiled up front so configuration errors surface at startup.
func NewPoller(cfg PollerConfig, client *http.Client, queue Enqueuer, acker Acker, logger *slog.Logger, m *metrics.Metrics) (*Poller, error) {
	if cfg.URL == "" {
		return nil, errors.New("poll URL is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.DrainDelay <= 0 {
		cfg.DrainDelay = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 50
	}
	if cfg.TasksPath == "" {
		cfg.TasksPath = DefaultTasksPath
	}

	expressions := []string{cfg.TasksPath}
	if cfg.TasksPath == DefaultTasksPath {
		expressions = append(expressions, jobsPath)
	}

	paths := make([]*jsonpath.Compiled, 0, len(expressions))
	for _, expr := range expressions {
		compiled, err := jsonpath.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid JSONPath expression '%s': %w", expr, err)
		}
		paths = append(paths, compiled)
	}

	p := &Poller{
		cfg:        cfg,
		httpClient: client,
		queue:      queue,
		acker:      acker,
		paths:      paths,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
	}

	if cfg.Schedule != "" {
		schedule, err := cron.ParseStandard(cfg.Schedule)
		if err != nil {
			return nil, fmt.Errorf("invalid poll schedule '%s': %w", cfg.Schedule, err)
		}
		p.schedule = schedule
	}

	return p, nil
}

// Run polls until ctx is cancelled. Every wait observes ctx.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "Starting poll loop",
		"url", p.cfg.URL,
		"interval", p.cfg.Interval,
		"batch_limit", p.cfg.BatchLimit,
		"schedule", p.cfg.Schedule,
	)

	for {
		if ctx.Err() != nil {
			p.logger.InfoContext(ctx, "Poll loop stopped")
			return nil
		}

		start := p.now()
		enqueued := p.Cycle(ctx)
		delay := p.NextDelay(enqueued, p.now().Sub(start), p.now())

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "Poll loop stopped")
			return nil
		}
	}
}

// Cycle performs one poll, enqueue and ack round and returns the number of
// jobs enqueued. A panic inside the cycle is recovered and counted as zero.
func (p *Poller) Cycle(ctx context.Context) (enqueued int) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.IncPollCycle("panic")
			p.logger.ErrorContext(ctx, "Poll cycle panicked",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			enqueued = 0
		}
	}()

	start := p.now()

	tasks, err := p.fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.metrics.IncPollCycle("failure")
			p.logger.WarnContext(ctx, "Poll request failed", "error", err)
		}
		return 0
	}
	p.metrics.IncPollCycle("success")

	acks := p.ingest(ctx, tasks)

	if len(acks) > 0 && p.acker != nil {
		if err := p.acker.Send(ctx, acks); err != nil {
			p.logger.WarnContext(ctx, "Failed to acknowledge jobs",
				"count", len(acks),
				"error", err,
			)
		}
	}

	if len(tasks) > 0 {
		p.logger.InfoContext(ctx, "Poll cycle completed",
			"fetched", len(tasks),
			"enqueued", len(acks),
			"duration_ms", p.now().Sub(start).Milliseconds(),
		)
	} else {
		p.logger.DebugContext(ctx, "No tasks available")
	}

	return len(acks)
}

// NextDelay returns how long to wait before the next cycle
func (p *Poller) NextDelay(enqueued int, elapsed time.Duration, now time.Time) time.Duration {
	if enqueued > 0 {
		return p.cfg.DrainDelay
	}

	var delay time.Duration
	if p.schedule != nil {
		delay = p.schedule.Next(now).Sub(now)
	} else {
		delay = p.cfg.Interval - elapsed
	}
	return max(delay, minIdleDelay)
}

// fetch requests one batch of tasks. A response without a task list yields
// no tasks and no error.
func (p *Poller) fetch(ctx context.Context) ([]any, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.pollURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}
	if p.cfg.AgentToken != "" {
		req.Header.Set("X-Agent-Token", p.cfg.AgentToken)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read poll response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll endpoint returned status %d: %s", resp.StatusCode, snippet(body))
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var data any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to parse poll response: %w", err)
	}

	for _, path := range p.paths {
		found, err := path.Lookup(data)
		if err != nil {
			continue
		}
		if tasks, ok := found.([]any); ok {
			return tasks, nil
		}
	}

	return nil, nil
}

// ingest normalizes and enqueues tasks, returning ack entries for the jobs
// that were accepted
func (p *Poller) ingest(ctx context.Context, tasks []any) []webhook.AckEntry {
	acks := make([]webhook.AckEntry, 0, len(tasks))

	for i, task := range tasks {
		raw, ok := task.(map[string]any)
		if !ok {
			p.metrics.IncIngested(model.InitiatorPoll, "rejected")
			p.logger.WarnContext(ctx, "Skipping task that is not an object", "index", i)
			continue
		}

		job, err := NormalizeTask(raw, model.InitiatorPoll, p.now())
		if err != nil {
			p.metrics.IncIngested(model.InitiatorPoll, "rejected")
			p.logger.WarnContext(ctx, "Skipping task", "index", i, "error", err)
			continue
		}

		if err := p.queue.Enqueue(job); err != nil {
			p.metrics.IncIngested(model.InitiatorPoll, "dropped")
			p.logger.WarnContext(ctx, "Dropping task",
				"job_id", job.ID.String(),
				"request_id", job.RequestID,
				"error", err,
			)
			continue
		}

		p.metrics.IncIngested(model.InitiatorPoll, "accepted")
		acks = append(acks, webhook.AckEntry{ID: job.ID, RequestID: job.RequestID})
	}

	return acks
}

func (p *Poller) pollURL() string {
	sep := "?"
	if strings.Contains(p.cfg.URL, "?") {
		sep = "&"
	}
	return p.cfg.URL + sep + "limit=" + strconv.Itoa(p.cfg.BatchLimit)
}

func snippet(body []byte) string {
	if len(body) > 512 {
		body = body[:512]
	}
	return string(body)
}
