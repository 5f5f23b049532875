package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/dandantas/certwatch/internal/metrics"
	"github.com/dandantas/certwatch/internal/model"
	"github.com/dandantas/certwatch/internal/probe"
	"github.com/dandantas/certwatch/internal/webhook"
)

// Prober retrieves the leaf certificate of a TLS endpoint
type Prober interface {
	Probe(ctx context.Context, host string, port int) probe.Outcome
}

// Archiver stores a copy of each result
type Archiver interface {
	Archive(ctx context.Context, res model.Result) error
}

// ExecutorConfig configures job execution
type ExecutorConfig struct {
	Policy        model.SchemePolicy
	ReportURL     string
	ReportTimeout time.Duration
}

// Executor turns a job into a result and delivers it
type Executor struct {
	cfg      ExecutorConfig
	prober   Prober
	reporter webhook.Reporter
	archiver Archiver
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewExecutor creates a new executor. archiver may be nil.
func NewExecutor(
	cfg ExecutorConfig,
	prober Prober,
	reporter webhook.Reporter,
	archiver Archiver,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Executor {
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = 20 * time.Second
	}
	return &Executor{
		cfg:      cfg,
		prober:   prober,
		reporter: reporter,
		archiver: archiver,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// Execute checks the job's target and builds its result. It never fails:
// every problem is expressed through the result status.
func (e *Executor) Execute(ctx context.Context, job model.Job) model.Result {
	res := model.NewResult(job)

	target, err := job.Target.Resolve(e.cfg.Policy)
	if err != nil {
		res.TargetHost = job.Target.Host
		res.TargetPort = job.Target.Port
		res.Scheme = job.Target.Scheme
		res.Fail(model.StatusInvalidURL, err.Error())
		return e.finish(res)
	}

	res.TargetHost = target.Host
	res.TargetPort = target.Port
	res.Scheme = target.Scheme

	outcome := e.prober.Probe(ctx, target.Host, target.Port)
	if outcome.Started {
		res.SetLatency(outcome.Latency)
		e.metrics.ObserveProbe(string(outcome.Status), outcome.Latency)
	}

	if outcome.Certificate != nil {
		fields := probe.Extract(probe.FromX509(outcome.Certificate))
		res.CertFields = &fields
	}

	switch {
	case outcome.Status == model.StatusOK && res.CertFields.HasExpiry():
		res.Status = model.StatusOK
	case outcome.Status == model.StatusOK:
		res.Fail(model.StatusError, "missing expiry_ts")
	default:
		var msg string
		if outcome.Err != nil {
			msg = outcome.Err.Error()
		}
		res.Fail(outcome.Status, msg)
	}

	return e.finish(res)
}

// Process executes the job, archives the result when an archive is
// configured, and reports it to the job callback or the default endpoint.
// Delivery failures are logged; the job is never retried.
func (e *Executor) Process(ctx context.Context, job model.Job) {
	start := e.now()
	res := e.Execute(ctx, job)

	e.logger.InfoContext(ctx, "Certificate check completed",
		"status", res.Status,
		"target_host", res.TargetHost,
		"target_port", res.TargetPort,
		"initiator", job.Initiator,
		"duration_ms", e.now().Sub(start).Milliseconds(),
	)

	if e.archiver != nil {
		if err := e.archiver.Archive(ctx, res); err != nil {
			e.logger.WarnContext(ctx, "Failed to archive result", "error", err)
		}
	}

	endpoint := job.Callback
	if endpoint == "" {
		endpoint = e.cfg.ReportURL
	}
	if endpoint == "" {
		e.logger.WarnContext(ctx, "No report endpoint for job, result discarded")
		return
	}

	timeout := job.ReportTimeout
	if timeout <= 0 {
		timeout = e.cfg.ReportTimeout
	}

	err := e.reporter.Report(ctx, webhook.Delivery{
		Endpoint: endpoint,
		Token:    job.CallbackToken,
		Timeout:  timeout,
		Results:  []model.Result{res},
	})
	if err != nil {
		e.logger.WarnContext(ctx, "Result was not delivered",
			"endpoint", endpoint,
			"error", err,
		)
	}
}

func (e *Executor) finish(res model.Result) model.Result {
	res.SetExecutedAt(e.now())
	e.metrics.IncResult(string(res.Status))
	return res
}
