package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/dandantas/certwatch/internal/model"
	"github.com/robfig/cron/v3"
)

// Mode selects how the agent receives jobs
type Mode string

const (
	ModePull Mode = "pull"
	ModePush Mode = "push"
)

// Config holds all agent configuration. It is built once at startup and
// treated as read-only afterwards.
type Config struct {
	// Upstream Controller Configuration
	ServerBase string
	PollURL    string
	AckURL     string
	ReportURL  string
	AgentToken string

	// Poll Loop Configuration
	PollInterval   time.Duration
	PollDrainDelay time.Duration
	PollSchedule   string
	PollTimeout    time.Duration
	PollTasksPath  string
	BatchLimit     int

	// Queue and Worker Configuration
	WorkerCount    int
	QueueCapacity  int
	DequeueTimeout time.Duration

	// Probe Configuration
	ConnectTimeout        time.Duration
	ProbeInsecureFallback bool
	ProbeCABundle         string
	ProbeRateLimit        float64
	TargetSchemePolicy    string

	// Report Configuration
	ReportTimeout          time.Duration
	ReportMaxAttempts      int
	ReportBreakerThreshold int
	ReportBatching         bool
	ReportBatchInterval    time.Duration
	VerifyCallbackTLS      bool
	CABundlePath           string

	// HTTP Server Configuration
	HTTPAddr         string
	AuthToken        string
	TLSCertFile      string
	TLSKeyFile       string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	MetricsAddr      string
	ShutdownTimeout  time.Duration

	// Logging Configuration
	LogLevel  string
	LogFormat string

	// MongoDB Archive Configuration
	MongoURI      string
	MongoDatabase string
	MongoTimeout  time.Duration
}

// Load reads configuration from environment variables with sensible defaults
func Load() *Config {
	return &Config{
		// Upstream
		ServerBase: getEnv("SERVER_BASE", ""),
		PollURL:    getEnv("POLL_URL", ""),
		AckURL:     getEnv("ACK_URL", ""),
		ReportURL:  getEnv("REPORT_URL", ""),
		AgentToken: getEnv("AGENT_TOKEN", ""),

		// Poll loop
		PollInterval:   getDurationEnv("POLL_INTERVAL_SEC", 60) * time.Second,
		PollDrainDelay: getDurationEnv("POLL_DRAIN_DELAY_MS", 1000) * time.Millisecond,
		PollSchedule:   getEnv("POLL_SCHEDULE", ""),
		PollTimeout:    getDurationEnv("POLL_TIMEOUT_SEC", 20) * time.Second,
		PollTasksPath:  getEnv("POLL_TASKS_PATH", "$.tasks"),
		BatchLimit:     getIntEnv("BATCH_LIMIT", 50),

		// Queue and workers
		WorkerCount:    getIntEnv("WORKER_COUNT", 4),
		QueueCapacity:  getIntEnv("QUEUE_CAPACITY", 5000),
		DequeueTimeout: getDurationEnv("DEQUEUE_TIMEOUT_MS", 1000) * time.Millisecond,

		// Probe
		ConnectTimeout:        getDurationEnv("CONNECT_TIMEOUT_SEC", 15) * time.Second,
		ProbeInsecureFallback: getBoolEnv("PROBE_INSECURE_FALLBACK", true),
		ProbeCABundle:         getEnv("PROBE_CA_BUNDLE", ""),
		ProbeRateLimit:        getFloatEnv("PROBE_RATE_LIMIT", 0),
		TargetSchemePolicy:    getEnv("TARGET_SCHEME_POLICY", string(model.SchemePolicyDeclared)),

		// Report
		ReportTimeout:          getDurationEnv("REPORT_TIMEOUT_SEC", 20) * time.Second,
		ReportMaxAttempts:      getIntEnv("REPORT_MAX_ATTEMPTS", 1),
		ReportBreakerThreshold: getIntEnv("REPORT_BREAKER_THRESHOLD", 0),
		ReportBatching:         getBoolEnv("REPORT_BATCHING", false),
		ReportBatchInterval:    getDurationEnv("REPORT_BATCH_INTERVAL_MS", 1000) * time.Millisecond,
		VerifyCallbackTLS:      getBoolEnv("VERIFY_CALLBACK_TLS", true),
		CABundlePath:           getEnv("CA_BUNDLE_PATH", ""),

		// HTTP server
		HTTPAddr:         getEnv("HTTP_ADDR", ":8443"),
		AuthToken:        getEnv("AUTH_TOKEN", ""),
		TLSCertFile:      getEnv("TLS_CERT_FILE", ""),
		TLSKeyFile:       getEnv("TLS_KEY_FILE", ""),
		HTTPReadTimeout:  getDurationEnv("HTTP_READ_TIMEOUT_SEC", 30) * time.Second,
		HTTPWriteTimeout: getDurationEnv("HTTP_WRITE_TIMEOUT_SEC", 30) * time.Second,
		MetricsAddr:      getEnv("METRICS_ADDR", ""),
		ShutdownTimeout:  getDurationEnv("SHUTDOWN_TIMEOUT_SEC", 30) * time.Second,

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// MongoDB
		MongoURI:      getEnv("MONGO_URI", ""),
		MongoDatabase: getEnv("MONGO_DATABASE", "certwatch"),
		MongoTimeout:  getDurationEnv("MONGO_TIMEOUT_SEC", 10) * time.Second,
	}
}

// Validate checks that the configuration can run in the given mode
func (c *Config) Validate(mode Mode) error {
	var errs []error

	if c.WorkerCount < 1 {
		errs = append(errs, errors.New("WORKER_COUNT must be at least 1"))
	}
	if c.QueueCapacity < 1 {
		errs = append(errs, errors.New("QUEUE_CAPACITY must be at least 1"))
	}
	if c.DequeueTimeout <= 0 {
		errs = append(errs, errors.New("DEQUEUE_TIMEOUT_MS must be positive"))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("CONNECT_TIMEOUT_SEC must be positive"))
	}
	if c.ReportTimeout <= 0 {
		errs = append(errs, errors.New("REPORT_TIMEOUT_SEC must be positive"))
	}
	if c.ProbeRateLimit < 0 {
		errs = append(errs, errors.New("PROBE_RATE_LIMIT must not be negative"))
	}
	if _, err := model.ParseSchemePolicy(c.TargetSchemePolicy); err != nil {
		errs = append(errs, err)
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		errs = append(errs, errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together"))
	}

	switch mode {
	case ModePull:
		if c.ServerBase == "" && c.PollURL == "" {
			errs = append(errs, errors.New("SERVER_BASE or POLL_URL is required in pull mode"))
		}
		if c.BatchLimit < 1 || c.BatchLimit > 100 {
			errs = append(errs, errors.New("BATCH_LIMIT must be between 1 and 100"))
		}
		if c.PollInterval <= 0 || c.PollDrainDelay <= 0 {
			errs = append(errs, errors.New("POLL_INTERVAL_SEC and POLL_DRAIN_DELAY_MS must be positive"))
		}
		if c.PollSchedule != "" {
			if _, err := cron.ParseStandard(c.PollSchedule); err != nil {
				errs = append(errs, fmt.Errorf("invalid POLL_SCHEDULE: %w", err))
			}
		}
	case ModePush:
		if c.AuthToken == "" {
			errs = append(errs, errors.New("AUTH_TOKEN is required in push mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mode: %s", mode))
	}

	return errors.Join(errs...)
}

// SchemePolicy returns the parsed target scheme policy
func (c *Config) SchemePolicy() model.SchemePolicy {
	policy, err := model.ParseSchemePolicy(c.TargetSchemePolicy)
	if err != nil {
		return model.SchemePolicyDeclared
	}
	return policy
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		log.Printf("Warning: Invalid integer value for %s, using default %d", key, defaultValue)
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
		log.Printf("Warning: Invalid number value for %s, using default %g", key, defaultValue)
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return time.Duration(intVal)
		}
		log.Printf("Warning: Invalid duration value for %s, using default %d", key, defaultValue)
	}
	return time.Duration(defaultValue)
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
		log.Printf("Warning: Invalid boolean value for %s, using default %t", key, defaultValue)
	}
	return defaultValue
}
