package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/dandantas/certwatch/internal/archive"
	"github.com/dandantas/certwatch/internal/config"
	"github.com/dandantas/certwatch/internal/handler"
	"github.com/dandantas/certwatch/internal/metrics"
	"github.com/dandantas/certwatch/internal/probe"
	"github.com/dandantas/certwatch/internal/queue"
	"github.com/dandantas/certwatch/internal/service"
	"github.com/dandantas/certwatch/internal/source"
	"github.com/dandantas/certwatch/internal/webhook"
	"github.com/dandantas/certwatch/internal/worker"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	reportBatchSize = 50
	breakerCooldown = 60 * time.Second
)

// Agent wires a task source, the job queue, the worker pool and the report
// path together and owns their lifecycle
type Agent struct {
	cfg    *config.Config
	mode   config.Mode
	logger *slog.Logger

	client  *http.Client
	queue   *queue.Queue
	metrics *metrics.Metrics
	pool    *worker.WorkerPool
	batcher *webhook.Batcher
	poller  *source.Poller
	archive *archive.MongoDB

	server   *http.Server
	listener net.Listener
}

// New builds an agent for mode. Listeners are bound here so address
// conflicts are reported before any job is accepted.
func New(ctx context.Context, cfg *config.Config, mode config.Mode, logger *slog.Logger, version string) (*Agent, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &Agent{
		cfg:    cfg,
		mode:   mode,
		logger: logger,
	}

	outboundCAs, err := webhook.LoadCertPool(cfg.CABundlePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load CA_BUNDLE_PATH: %w", err)
	}
	probeCAs, err := webhook.LoadCertPool(cfg.ProbeCABundle)
	if err != nil {
		return nil, fmt.Errorf("failed to load PROBE_CA_BUNDLE: %w", err)
	}

	a.client = webhook.NewHTTPClient(cfg.VerifyCallbackTLS, outboundCAs)
	a.queue = queue.New(cfg.QueueCapacity)
	a.metrics = metrics.New(a.queue)

	var limiter *rate.Limiter
	if cfg.ProbeRateLimit > 0 {
		burst := max(1, int(math.Ceil(cfg.ProbeRateLimit)))
		limiter = rate.NewLimiter(rate.Limit(cfg.ProbeRateLimit), burst)
	}
	prober := probe.NewProber(probe.Options{
		Timeout:          cfg.ConnectTimeout,
		RootCAs:          probeCAs,
		InsecureFallback: cfg.ProbeInsecureFallback,
		Limiter:          limiter,
	})

	userAgent := "certwatch/" + version
	endpoints := source.ResolveEndpoints(cfg.ServerBase, cfg.PollURL, cfg.AckURL, cfg.ReportURL)

	dispatcher := webhook.NewDispatcher(a.client, webhook.DispatcherConfig{
		AgentToken:       cfg.AgentToken,
		UserAgent:        userAgent,
		Timeout:          cfg.ReportTimeout,
		Retry:            webhook.RetryConfig{MaxAttempts: cfg.ReportMaxAttempts},
		BreakerThreshold: cfg.ReportBreakerThreshold,
		BreakerCooldown:  breakerCooldown,
	}, logger, a.metrics)

	var reporter webhook.Reporter = dispatcher
	if cfg.ReportBatching {
		a.batcher = webhook.NewBatcher(dispatcher, cfg.ReportBatchInterval, reportBatchSize, logger)
		reporter = a.batcher
	}

	var archiver service.Archiver
	if cfg.MongoURI != "" {
		a.archive, err = archive.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoTimeout, logger)
		if err != nil {
			return nil, err
		}
		collection := a.archive.GetCollection(archive.CollectionResults)
		if err := archive.CreateIndexes(ctx, collection); err != nil {
			logger.Warn("Failed to create archive indexes", "error", err)
		}
		archiver = archive.NewResultRepository(collection)
	}

	executor := service.NewExecutor(service.ExecutorConfig{
		Policy:        cfg.SchemePolicy(),
		ReportURL:     endpoints.Report,
		ReportTimeout: cfg.ReportTimeout,
	}, prober, reporter, archiver, logger, a.metrics)

	a.pool = worker.NewWorkerPool(cfg.WorkerCount, a.queue, executor, cfg.DequeueTimeout, logger, a.metrics)

	if err := a.setupSource(mode, endpoints, userAgent, version); err != nil {
		a.closeArchive(ctx)
		return nil, err
	}

	return a, nil
}

func (a *Agent) setupSource(mode config.Mode, endpoints source.Endpoints, userAgent, version string) error {
	health := handler.NewHealthHandler(a.queue, version)

	switch mode {
	case config.ModePull:
		acker := webhook.NewAckSender(a.client, endpoints.Ack, a.cfg.AgentToken, userAgent, a.cfg.PollTimeout, a.logger, a.metrics)
		poller, err := source.NewPoller(source.PollerConfig{
			URL:        endpoints.Poll,
			Interval:   a.cfg.PollInterval,
			DrainDelay: a.cfg.PollDrainDelay,
			Timeout:    a.cfg.PollTimeout,
			BatchLimit: a.cfg.BatchLimit,
			AgentToken: a.cfg.AgentToken,
			UserAgent:  userAgent,
			TasksPath:  a.cfg.PollTasksPath,
			Schedule:   a.cfg.PollSchedule,
		}, a.client, a.queue, acker, a.logger, a.metrics)
		if err != nil {
			return err
		}
		a.poller = poller

		if a.cfg.MetricsAddr == "" {
			return nil
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		mux.HandleFunc("/health", health.Health)
		mux.HandleFunc("/ready", health.Ready)
		return a.listen(a.cfg.MetricsAddr, mux)

	case config.ModePush:
		check := handler.NewCheckHandler(a.cfg.AuthToken, a.cfg.SchemePolicy(), a.queue, a.logger, a.metrics)
		router := handler.NewRouter(check, health, a.metrics.Handler(), a.logger)
		return a.listen(a.cfg.HTTPAddr, router.Handler())
	}

	return fmt.Errorf("unknown mode: %s", mode)
}

func (a *Agent) listen(addr string, h http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	a.listener = ln
	a.server = &http.Server{
		Handler:           h,
		ReadTimeout:       a.cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      a.cfg.HTTPWriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	return nil
}

// Addr returns the bound HTTP address, or an empty string when the agent
// serves no HTTP endpoint
func (a *Agent) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Run starts every component and blocks until ctx is cancelled. In-flight
// jobs are finished and their results delivered before Run returns; jobs
// still queued at that point are discarded.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("Starting certwatch agent",
		"mode", a.mode,
		"workers", a.cfg.WorkerCount,
		"queue_capacity", a.queue.Cap(),
		"addr", a.Addr(),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.pool.Run(gctx)
		if a.batcher != nil {
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.ShutdownTimeout)
			defer cancel()
			a.batcher.Flush(flushCtx)
		}
		return nil
	})

	if a.batcher != nil {
		g.Go(func() error {
			a.batcher.Run(gctx)
			return nil
		})
	}

	if a.poller != nil {
		g.Go(func() error {
			return a.poller.Run(gctx)
		})
	}

	if a.server != nil {
		g.Go(func() error {
			var err error
			if a.cfg.TLSCertFile != "" {
				err = a.server.ServeTLS(a.listener, a.cfg.TLSCertFile, a.cfg.TLSKeyFile)
			} else {
				err = a.server.Serve(a.listener)
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("HTTP server failed: %w", err)
		})

		g.Go(func() error {
			<-gctx.Done()
			a.logger.Info("Shutting down HTTP server")

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("HTTP server shutdown failed: %w", err)
			}
			return nil
		})
	}

	err := g.Wait()

	if pending := a.queue.Len(); pending > 0 {
		a.logger.Warn("Discarding queued jobs at shutdown", "count", pending)
	}
	a.closeArchive(ctx)
	a.client.CloseIdleConnections()

	a.logger.Info("Agent stopped")
	return err
}

func (a *Agent) closeArchive(ctx context.Context) {
	if a.archive == nil {
		return
	}
	disconnectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.archive.Disconnect(disconnectCtx); err != nil {
		a.logger.Warn("Failed to disconnect archive", "error", err)
	}
}
