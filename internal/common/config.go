package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Crawler     CrawlerConfig   `toml:"crawler"`
	Analysis    AnalysisConfig  `toml:"analysis"`
	Batch       BatchConfig     `toml:"batch"`
	Workers     WorkersConfig   `toml:"workers"`
	Gemini      GeminiConfig    `toml:"gemini"`
	Claude      ClaudeConfig    `toml:"claude"`
	LLM         LLMConfig       `toml:"llm"`
	Staleness   StalenessConfig `toml:"staleness"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger      BadgerConfig `toml:"badger"`
	Screenshots string       `toml:"screenshots"` // Directory for captured page screenshots
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
}

// CrawlerConfig controls the browser fetcher
type CrawlerConfig struct {
	UserAgent      string        `toml:"user_agent"`       // User agent string for page fetches
	RequestTimeout time.Duration `toml:"request_timeout"`  // Per-fetch timeout
	RenderWaitTime time.Duration `toml:"render_wait_time"` // Time to let JavaScript settle before capture
	PerHostDelay   time.Duration `toml:"per_host_delay"`   // Minimum delay between fetches to the same host
	EnableBrowser  bool          `toml:"enable_browser"`   // Render with headless Chrome; plain HTTP fallback when false
	Screenshots    bool          `toml:"screenshots"`      // Capture a full-page screenshot per fetch
	AllowPrivate   bool          `toml:"allow_private"`    // Permit loopback/private targets (development only)
}

// AnalysisConfig controls the single-URL pipeline
type AnalysisConfig struct {
	ScorerTimeout time.Duration `toml:"scorer_timeout"`  // Per-attempt semantic scorer timeout
	RetryAttempts int           `toml:"retry_attempts"`  // Semantic scorer attempts before giving up
	RetryBackoff  time.Duration `toml:"retry_backoff"`   // Initial backoff between attempts
	RetryMaxDelay time.Duration `toml:"retry_max_delay"` // Backoff ceiling
}

// BatchConfig controls comparison batch fan-out
type BatchConfig struct {
	Concurrency int           `toml:"concurrency"` // Max children analysed at once within a batch
	Timeout     time.Duration `toml:"timeout"`     // Optional whole-batch deadline (0 = none)
}

// WorkersConfig sizes the two dispatcher pools. These are independent
// of batch.concurrency, which bounds children inside one batch.
type WorkersConfig struct {
	Jobs    int `toml:"jobs"`    // Standalone analysis workers
	Batches int `toml:"batches"` // Batches running at once
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`     // Google Gemini API key
	Model       string  `toml:"model"`       // Model for scoring operations
	Temperature float32 `toml:"temperature"` // Completion temperature
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`    // Anthropic API key
	Model       string  `toml:"model"`      // Model for scoring operations
	MaxTokens   int     `toml:"max_tokens"` // Maximum tokens in response
	Temperature float32 `toml:"temperature"`
}

// LLMConfig selects the provider used for semantic scoring and comparisons
type LLMConfig struct {
	DefaultProvider string `toml:"default_provider"` // "claude" or "gemini"
}

// StalenessConfig controls the abandoned-work sweeper
type StalenessConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // Cron schedule for sweep runs
	MaxAge   string `toml:"max_age"`  // Processing entries older than this are failed
}

// NewDefaultConfig creates a configuration with default values.
// Only user-facing settings are exposed in specto.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
			Screenshots: "./data/screenshots",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Crawler: CrawlerConfig{
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			RequestTimeout: 30 * time.Second,
			RenderWaitTime: 2 * time.Second,
			PerHostDelay:   1 * time.Second,
			EnableBrowser:  true,
			Screenshots:    true,
		},
		Analysis: AnalysisConfig{
			ScorerTimeout: 30 * time.Second,
			RetryAttempts: 3,
			RetryBackoff:  1 * time.Second,
			RetryMaxDelay: 10 * time.Second,
		},
		Batch: BatchConfig{
			Concurrency: 3,
		},
		Workers: WorkersConfig{
			Jobs:    3,
			Batches: 3,
		},
		Gemini: GeminiConfig{
			APIKey:      "",
			Model:       "gemini-3-flash-preview",
			Temperature: 0.3,
		},
		Claude: ClaudeConfig{
			APIKey:      "",
			Model:       "claude-haiku-3-5-20241022",
			MaxTokens:   4096,
			Temperature: 0.3,
		},
		LLM: LLMConfig{
			DefaultProvider: "claude",
		},
		Staleness: StalenessConfig{
			Enabled:  true,
			Schedule: "0 */10 * * * *", // Every 10 minutes
			MaxAge:   "30m",
		},
	}
}

// LoadFromFiles loads configuration from files with priority:
// defaults -> file1 -> file2 -> ... -> env. Later files override
// earlier files; environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("SPECTO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("SPECTO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("SPECTO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if badgerPath := os.Getenv("SPECTO_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if screenshots := os.Getenv("SPECTO_SCREENSHOTS_PATH"); screenshots != "" {
		config.Storage.Screenshots = screenshots
	}

	if level := os.Getenv("SPECTO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("SPECTO_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}

	if userAgent := os.Getenv("SPECTO_CRAWLER_USER_AGENT"); userAgent != "" {
		config.Crawler.UserAgent = userAgent
	}
	if timeout := os.Getenv("SPECTO_CRAWLER_REQUEST_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Crawler.RequestTimeout = d
		}
	}
	if wait := os.Getenv("SPECTO_CRAWLER_RENDER_WAIT_TIME"); wait != "" {
		if d, err := time.ParseDuration(wait); err == nil {
			config.Crawler.RenderWaitTime = d
		}
	}
	if enabled := os.Getenv("SPECTO_CRAWLER_ENABLE_BROWSER"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Crawler.EnableBrowser = b
		}
	}

	if concurrency := os.Getenv("SPECTO_BATCH_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Batch.Concurrency = c
		}
	}
	if timeout := os.Getenv("SPECTO_BATCH_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Batch.Timeout = d
		}
	}

	if jobs := os.Getenv("SPECTO_WORKERS_JOBS"); jobs != "" {
		if n, err := strconv.Atoi(jobs); err == nil {
			config.Workers.Jobs = n
		}
	}
	if batches := os.Getenv("SPECTO_WORKERS_BATCHES"); batches != "" {
		if n, err := strconv.Atoi(batches); err == nil {
			config.Workers.Batches = n
		}
	}

	if apiKey := os.Getenv("SPECTO_GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	} else if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	}
	if model := os.Getenv("SPECTO_GEMINI_MODEL"); model != "" {
		config.Gemini.Model = model
	}

	if apiKey := os.Getenv("SPECTO_CLAUDE_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey
	} else if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey
	}
	if model := os.Getenv("SPECTO_CLAUDE_MODEL"); model != "" {
		config.Claude.Model = model
	}

	if provider := os.Getenv("SPECTO_LLM_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = provider
	}
}

// FlagOverrides holds CLI flag values that take precedence over
// config files and environment variables
type FlagOverrides struct {
	Port     int
	Host     string
	LogLevel string
	DataPath string
}

// ApplyFlagOverrides applies CLI flag values to the config.
// Flags have the highest priority in the configuration chain.
func (c *Config) ApplyFlagOverrides(flags FlagOverrides) {
	if flags.Port > 0 {
		c.Server.Port = flags.Port
	}
	if flags.Host != "" {
		c.Server.Host = flags.Host
	}
	if flags.LogLevel != "" {
		c.Logging.Level = flags.LogLevel
	}
	if flags.DataPath != "" {
		c.Storage.Badger.Path = flags.DataPath
	}
}

// Validate checks the configuration for values the process cannot run with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Batch.Concurrency < 1 {
		return fmt.Errorf("batch concurrency must be at least 1, got %d", c.Batch.Concurrency)
	}
	if c.Workers.Jobs < 1 || c.Workers.Batches < 1 {
		return fmt.Errorf("worker counts must be at least 1, got jobs=%d batches=%d", c.Workers.Jobs, c.Workers.Batches)
	}
	if c.Analysis.RetryAttempts < 1 {
		return fmt.Errorf("analysis retry attempts must be at least 1, got %d", c.Analysis.RetryAttempts)
	}
	switch c.LLM.DefaultProvider {
	case "claude", "gemini":
	default:
		return fmt.Errorf("unknown llm provider: %s", c.LLM.DefaultProvider)
	}
	return nil
}

// IsDevelopment reports whether the process runs in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment != "production"
}
