package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration settings.
type Config struct {
	HTTPPort        int           `envconfig:"HTTP_PORT" default:"8080"`
	HTTPTimeout     time.Duration `envconfig:"HTTP_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	WorkDir    string `envconfig:"WORK_DIR" default:"./uploads"`
	ResultsDir string `envconfig:"RESULTS_DIR" default:"./results"`
	StateFile  string `envconfig:"STATE_FILE" default:"./state/tasks.json"`

	MaxArtifactSize int64         `envconfig:"MAX_ARTIFACT_SIZE" default:"524288000"`
	DownloadTimeout time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"30m"`
	StageRetryMax   int           `envconfig:"STAGE_RETRY_MAX" default:"3"`
	StageRetryDelay time.Duration `envconfig:"STAGE_RETRY_DELAY" default:"2s"`

	TranscriberURL     string        `envconfig:"TRANSCRIBER_URL" default:"http://localhost:9000"`
	TranscriberTimeout time.Duration `envconfig:"TRANSCRIBER_TIMEOUT" default:"15m"`

	GeminiAPIKey    string        `envconfig:"GEMINI_API_KEY"`
	GeminiModel     string        `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	AnalysisTimeout time.Duration `envconfig:"ANALYSIS_TIMEOUT" default:"5m"`

	SweepInterval   time.Duration `envconfig:"SWEEP_INTERVAL" default:"1h"`
	RetentionWindow time.Duration `envconfig:"RETENTION_WINDOW" default:"168h"`
	OrphanThreshold time.Duration `envconfig:"ORPHAN_THRESHOLD" default:"24h"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Validate checks the configuration for invalid or missing values.
// Returns an error describing the first invalid setting found.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.MaxArtifactSize <= 0 {
		return fmt.Errorf("max artifact size must be positive: %d", c.MaxArtifactSize)
	}

	if c.StageRetryMax < 0 {
		return fmt.Errorf("stage retry max cannot be negative: %d", c.StageRetryMax)
	}

	if c.WorkDir == "" {
		return fmt.Errorf("working directory cannot be empty")
	}
	if c.ResultsDir == "" {
		return fmt.Errorf("results directory cannot be empty")
	}
	if c.StateFile == "" {
		return fmt.Errorf("state file cannot be empty")
	}

	if c.TranscriberURL == "" {
		return fmt.Errorf("transcriber URL cannot be empty")
	}
	if c.GeminiModel == "" {
		return fmt.Errorf("analysis model cannot be empty")
	}

	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive: %s", c.SweepInterval)
	}
	if c.RetentionWindow <= 0 {
		return fmt.Errorf("retention window must be positive: %s", c.RetentionWindow)
	}
	if c.OrphanThreshold <= 0 {
		return fmt.Errorf("orphan threshold must be positive: %s", c.OrphanThreshold)
	}

	return nil
}
