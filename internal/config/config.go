package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// Accepting this instead of *Config keeps the engine mockable in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Engine() EngineConfig
	Skills() SkillsConfig
	DOM() DOMConfig
	LLM() LLMConfig
	Browser() BrowserConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerC   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseC DatabaseConfig `mapstructure:"database" yaml:"database"`
	EngineC   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	SkillsC   SkillsConfig   `mapstructure:"skills" yaml:"skills"`
	DOMC      DOMConfig      `mapstructure:"dom" yaml:"dom"`
	LLMC      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	BrowserC  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
}

func (c *Config) Logger() LoggerConfig     { return c.LoggerC }
func (c *Config) Database() DatabaseConfig { return c.DatabaseC }
func (c *Config) Engine() EngineConfig     { return c.EngineC }
func (c *Config) Skills() SkillsConfig     { return c.SkillsC }
func (c *Config) DOM() DOMConfig           { return c.DOMC }
func (c *Config) LLM() LLMConfig           { return c.LLMC }
func (c *Config) Browser() BrowserConfig   { return c.BrowserC }

// LoggerConfig controls the zap logger bootstrap.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// DatabaseConfig selects and configures the persistence backend.
type DatabaseConfig struct {
	// Backend is "postgres" or "memory". The in-memory backend exists for
	// tests and single-process evaluation runs.
	Backend string `mapstructure:"backend" yaml:"backend"`
	URL     string `mapstructure:"url" yaml:"url"`
}

// EngineConfig tunes the task state machine.
type EngineConfig struct {
	// MaxCorrectionAttempts bounds the correction sub-flow per original step.
	MaxCorrectionAttempts int `mapstructure:"max_correction_attempts" yaml:"max_correction_attempts"`
	// StaleTaskThreshold is how long an active-family task may go without an
	// update before the reaper flips it to interrupted.
	StaleTaskThreshold time.Duration `mapstructure:"stale_task_threshold" yaml:"stale_task_threshold"`
	// HistoryWindow is how many prior steps are handed to the proposer.
	HistoryWindow int `mapstructure:"history_window" yaml:"history_window"`
	// StepTimeout caps one full propose/apply/verify cycle.
	StepTimeout time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
}

// SkillsConfig tunes the skill library.
type SkillsConfig struct {
	MinSuccessRate float64       `mapstructure:"min_success_rate" yaml:"min_success_rate"`
	LookupLimit    int           `mapstructure:"lookup_limit" yaml:"lookup_limit"`
	TTL            time.Duration `mapstructure:"ttl" yaml:"ttl"`
	MaxPerTenant   int           `mapstructure:"max_per_tenant" yaml:"max_per_tenant"`
	// SweepInterval is how often the background janitor purges expired
	// skills.
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// DOMConfig tunes the DOM normalizer.
type DOMConfig struct {
	MaxTextLength  int `mapstructure:"max_text_length" yaml:"max_text_length"`
	HashByteBudget int `mapstructure:"hash_byte_budget" yaml:"hash_byte_budget"`
}

// LLMProvider identifies a supported proposer backend.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMConfig configures the action proposer collaborator.
type LLMConfig struct {
	Provider          LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model             string        `mapstructure:"model" yaml:"model"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature       float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxOutputTokens   int           `mapstructure:"max_output_tokens" yaml:"max_output_tokens"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// BrowserConfig configures the chromedp actuator.
type BrowserConfig struct {
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ActionTimeout   time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	SettleWait      time.Duration `mapstructure:"settle_wait" yaml:"settle_wait"`
	Args            []string      `mapstructure:"args" yaml:"args"`
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pagepilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Database --
	v.SetDefault("database.backend", "memory")
	v.SetDefault("database.url", "")

	// -- Engine --
	v.SetDefault("engine.max_correction_attempts", 2)
	v.SetDefault("engine.stale_task_threshold", "30m")
	v.SetDefault("engine.history_window", 10)
	v.SetDefault("engine.step_timeout", "3m")

	// -- Skills --
	v.SetDefault("skills.min_success_rate", 0.5)
	v.SetDefault("skills.lookup_limit", 5)
	v.SetDefault("skills.ttl", "2160h") // 90 days
	v.SetDefault("skills.max_per_tenant", 10000)
	v.SetDefault("skills.sweep_interval", "1h")

	// -- DOM --
	v.SetDefault("dom.max_text_length", 100)
	v.SetDefault("dom.hash_byte_budget", 50000)

	// -- LLM --
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.api_timeout", "60s")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_output_tokens", 4096)
	v.SetDefault("llm.requests_per_minute", 30)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.action_timeout", "30s")
	v.SetDefault("browser.settle_wait", "1s")
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	_ = v.BindEnv("llm.api_key", "PAGEPILOT_LLM_API_KEY")
	_ = v.BindEnv("database.url", "PAGEPILOT_DATABASE_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.EngineC.MaxCorrectionAttempts < 0 {
		return fmt.Errorf("engine.max_correction_attempts must not be negative")
	}
	if c.EngineC.StaleTaskThreshold <= 0 {
		return fmt.Errorf("engine.stale_task_threshold must be a positive duration")
	}
	if c.SkillsC.MinSuccessRate < 0.0 || c.SkillsC.MinSuccessRate > 1.0 {
		return fmt.Errorf("skills.min_success_rate must be between 0.0 and 1.0")
	}
	if c.SkillsC.LookupLimit <= 0 {
		return fmt.Errorf("skills.lookup_limit must be a positive integer")
	}
	if c.SkillsC.MaxPerTenant <= 0 {
		return fmt.Errorf("skills.max_per_tenant must be a positive integer")
	}
	if c.DOMC.HashByteBudget <= 0 {
		return fmt.Errorf("dom.hash_byte_budget must be a positive integer")
	}
	switch c.DatabaseC.Backend {
	case "postgres":
		if c.DatabaseC.URL == "" {
			return fmt.Errorf("database.url is required when database.backend is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database.backend: %q (supported: postgres, memory)", c.DatabaseC.Backend)
	}
	return nil
}

var _ Interface = (*Config)(nil)
