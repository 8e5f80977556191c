package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// WorkerMode selects which queue the worker consumes and how the browser
// is launched.
type WorkerMode string

const (
	// WorkerModeStandard consumes the standard queue with a headless browser
	WorkerModeStandard WorkerMode = "standard"
	// WorkerModeLiveView consumes the live-view queue with a headed browser
	WorkerModeLiveView WorkerMode = "live-view"
)

// Config represents the worker configuration
type Config struct {
	Worker    WorkerConfig    `toml:"worker"`
	Queue     QueueConfig     `toml:"queue"`
	Storage   StorageConfig   `toml:"storage"`
	Browser   BrowserConfig   `toml:"browser"`
	Visual    VisualConfig    `toml:"visual"`
	Reporting ReportingConfig `toml:"reporting"`
	Logging   LoggingConfig   `toml:"logging"`
}

type WorkerConfig struct {
	Mode WorkerMode `toml:"mode"` // "standard" (headless) or "live-view" (headed)
}

type QueueConfig struct {
	StandardQueue     string `toml:"standard_queue"`     // Queue name for headless execution jobs
	LiveViewQueue     string `toml:"live_view_queue"`    // Queue name for headed live-view jobs
	PollInterval      string `toml:"poll_interval"`      // e.g. "1s" - how often the worker polls for messages
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g. "10m" - redelivery window for in-flight messages
	MaxReceive        int    `toml:"max_receive"`        // Max deliveries before a message is dropped as a poison pill
	RetryBackoff      string `toml:"retry_backoff"`      // Fixed backoff between reconnect attempts on queue errors
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// BrowserConfig controls how chromedp sessions are launched and bounded.
type BrowserConfig struct {
	WindowWidth       int    `toml:"window_width"`
	WindowHeight      int    `toml:"window_height"`
	NoSandbox         bool   `toml:"no_sandbox"`         // Required when running inside containers
	DisableGPU        bool   `toml:"disable_gpu"`
	NavigationTimeout string `toml:"navigation_timeout"` // Bounded wait for page navigation
	StepTimeout       string `toml:"step_timeout"`       // Bounded wait for element visibility per step
	SettleTime        string `toml:"settle_time"`        // Post-click DOM settling wait
	SlowMo            string `toml:"slow_mo"`            // Per-action delay in live-view mode
	TraceEnabled      bool   `toml:"trace_enabled"`      // Collect CDP console/network trace per session
}

// VisualConfig bounds the pixel comparison against stored baselines.
type VisualConfig struct {
	PixelTolerance    int     `toml:"pixel_tolerance"`    // Max per-channel delta (0-255) treated as equal
	MismatchThreshold float64 `toml:"mismatch_threshold"` // Max ratio of mismatched pixels before FAIL
}

// ReportingConfig points at the external run-record store and live-progress
// channel.
type ReportingConfig struct {
	RunRecordURL      string  `toml:"run_record_url"`     // Base URL of the run-record store
	RealtimeURL       string  `toml:"realtime_url"`       // Base URL of the live-progress channel
	RequestTimeout    string  `toml:"request_timeout"`    // Timeout for outbound reporting calls
	UpdateRateLimit   float64 `toml:"update_rate_limit"`  // Max live-progress updates per second
	ReconcileSchedule string  `toml:"reconcile_schedule"` // Cron schedule for the final-status reconciliation sweep
	ReconcileMaxAttempts int  `toml:"reconcile_max_attempts"` // Drop a pending final after this many sweep attempts
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
func NewDefaultConfig() *Config {
	return &Config{
		Worker: WorkerConfig{
			Mode: WorkerModeStandard,
		},
		Queue: QueueConfig{
			StandardQueue:     "execution_queue",
			LiveViewQueue:     "execution_queue_live",
			PollInterval:      "1s",
			VisibilityTimeout: "10m", // Longer than any bounded run so in-flight jobs are not redelivered mid-run
			MaxReceive:        3,
			RetryBackoff:      "5s",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Browser: BrowserConfig{
			WindowWidth:       1920,
			WindowHeight:      1080,
			NoSandbox:         false,
			DisableGPU:        true,
			NavigationTimeout: "60s",
			StepTimeout:       "10s",
			SettleTime:        "500ms",
			SlowMo:            "50ms",
			TraceEnabled:      true,
		},
		Visual: VisualConfig{
			PixelTolerance:    16,    // Absorbs anti-aliasing and font rendering noise
			MismatchThreshold: 0.001, // 0.1% of pixels may differ before a FAIL
		},
		Reporting: ReportingConfig{
			RunRecordURL:         "http://localhost:8000",
			RealtimeURL:          "http://localhost:8001",
			RequestTimeout:       "10s",
			UpdateRateLimit:      10,
			ReconcileSchedule:    "@every 1m",
			ReconcileMaxAttempts: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFiles loads configuration with layered precedence:
// defaults -> config files (later files override earlier) -> environment.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides applies PROBATIO_* environment variables over file values
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("PROBATIO_MODE"); v != "" {
		config.Worker.Mode = WorkerMode(v)
	}
	if v := os.Getenv("PROBATIO_DATA_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("PROBATIO_RUN_RECORD_URL"); v != "" {
		config.Reporting.RunRecordURL = v
	}
	if v := os.Getenv("PROBATIO_REALTIME_URL"); v != "" {
		config.Reporting.RealtimeURL = v
	}
	if v := os.Getenv("PROBATIO_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("PROBATIO_NO_SANDBOX"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Browser.NoSandbox = b
		}
	}
}

// ApplyFlagOverrides applies command-line flag values (highest priority)
func ApplyFlagOverrides(config *Config, mode string, dataPath string) {
	if mode != "" {
		config.Worker.Mode = WorkerMode(mode)
	}
	if dataPath != "" {
		config.Storage.Badger.Path = dataPath
	}
}

// Validate checks cross-field constraints that TOML decoding cannot express
func (c *Config) Validate() error {
	if c.Worker.Mode != WorkerModeStandard && c.Worker.Mode != WorkerModeLiveView {
		return fmt.Errorf("invalid worker mode %q (expected %q or %q)", c.Worker.Mode, WorkerModeStandard, WorkerModeLiveView)
	}
	if c.Visual.MismatchThreshold < 0 || c.Visual.MismatchThreshold > 1 {
		return fmt.Errorf("visual mismatch_threshold must be within [0,1], got %v", c.Visual.MismatchThreshold)
	}
	if c.Visual.PixelTolerance < 0 || c.Visual.PixelTolerance > 255 {
		return fmt.Errorf("visual pixel_tolerance must be within [0,255], got %d", c.Visual.PixelTolerance)
	}
	if _, err := ParseDuration(c.Queue.PollInterval, 0); err != nil {
		return fmt.Errorf("invalid queue poll_interval: %w", err)
	}
	if _, err := ParseDuration(c.Queue.VisibilityTimeout, 0); err != nil {
		return fmt.Errorf("invalid queue visibility_timeout: %w", err)
	}
	return nil
}

// QueueName returns the queue this worker consumes, selected by mode.
func (c *Config) QueueName() string {
	if c.Worker.Mode == WorkerModeLiveView {
		return c.Queue.LiveViewQueue
	}
	return c.Queue.StandardQueue
}

// ParseDuration parses a duration string, falling back to a default when
// the value is empty.
func ParseDuration(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	return d, nil
}

// MustDuration parses a duration string, returning the fallback on any error.
// Use for values already checked by Validate.
func MustDuration(value string, fallback time.Duration) time.Duration {
	d, err := ParseDuration(value, fallback)
	if err != nil {
		return fallback
	}
	return d
}
