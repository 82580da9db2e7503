package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"gracebot/internal/domain"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Feishu    FeishuConfig    `yaml:"feishu"`
	Models    ModelsConfig    `yaml:"models"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Agent     AgentConfig     `yaml:"agent"`
	Queue     QueueConfig     `yaml:"queue"`
	Tools     ToolsConfig     `yaml:"tools"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	DataDir   string          `yaml:"data_dir"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int     `yaml:"port"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// FeishuConfig holds chat gateway credentials.
type FeishuConfig struct {
	AppID             string `yaml:"app_id"`
	AppSecret         string `yaml:"app_secret"`
	VerificationToken string `yaml:"verification_token"`
	EncryptKey        string `yaml:"encrypt_key"`
	BaseURL           string `yaml:"base_url"` // override for tests
}

// ModelsConfig holds model routing settings.
type ModelsConfig struct {
	Primary         string               `yaml:"primary"`
	Fallbacks       []string             `yaml:"fallbacks"`
	CompactionModel string               `yaml:"compaction_model"`
	Profiles        []domain.AuthProfile `yaml:"profiles"`
	ConnTimeout     time.Duration        `yaml:"conn_timeout"`
	RespTimeout     time.Duration        `yaml:"resp_timeout"`
}

// EmbeddingConfig holds memory embedding settings.
type EmbeddingConfig struct {
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Endpoint   string `yaml:"endpoint"`
	Dimensions int    `yaml:"dimensions"`
	CacheSize  int    `yaml:"cache_size"`
}

// AgentConfig holds agent loop settings.
type AgentConfig struct {
	MaxToolRounds   int `yaml:"max_tool_rounds"`
	ToolResultLimit int `yaml:"tool_result_limit"`
}

// QueueConfig holds task queue settings.
type QueueConfig struct {
	Concurrency int    `yaml:"concurrency"`
	Retries     int    `yaml:"retries"`
	Dir         string `yaml:"dir"`
}

// ToolsConfig holds builtin tool settings.
type ToolsConfig struct {
	ExecAllowed    []string      `yaml:"exec_allowed"`
	ExecTimeout    time.Duration `yaml:"exec_timeout"`
	ExecRateLimit  int           `yaml:"exec_rate_limit"`
	ExecRateWindow time.Duration `yaml:"exec_rate_window"`
	FetchMaxBytes  int64         `yaml:"fetch_max_bytes"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// ScheduledTaskConfig defines one recurring maintenance task.
type ScheduledTaskConfig struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"` // cron expression or duration
	Action   string `yaml:"action"`
}

// SchedulerConfig holds recurring maintenance settings.
type SchedulerConfig struct {
	Enabled        bool                  `yaml:"enabled"`
	SessionMaxIdle time.Duration         `yaml:"session_max_idle"`
	Tasks          []ScheduledTaskConfig `yaml:"tasks"`
}

// Load reads, env-expands, parses, defaults, and validates a YAML config.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// ${VAR} references resolve from the environment; unset vars expand
	// to empty and are caught by Validate when required.
	expanded := os.Expand(string(raw), os.Getenv)

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero-valued fields with working defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RateLimitRPS == 0 {
		c.Server.RateLimitRPS = 20
	}
	if c.Server.RateLimitBurst == 0 {
		c.Server.RateLimitBurst = 40
	}
	if c.Agent.MaxToolRounds == 0 {
		c.Agent.MaxToolRounds = 20
	}
	if c.Agent.ToolResultLimit == 0 {
		c.Agent.ToolResultLimit = 8000
	}
	if c.Queue.Concurrency == 0 {
		c.Queue.Concurrency = 2
	}
	if c.Queue.Retries == 0 {
		c.Queue.Retries = 1
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Queue.Dir == "" {
		c.Queue.Dir = c.DataDir + "/queue"
	}
	if c.Models.CompactionModel == "" {
		c.Models.CompactionModel = c.Models.Primary
	}
	if c.Models.ConnTimeout == 0 {
		c.Models.ConnTimeout = 30 * time.Second
	}
	if c.Models.RespTimeout == 0 {
		c.Models.RespTimeout = 120 * time.Second
	}
	if len(c.Tools.ExecAllowed) == 0 {
		c.Tools.ExecAllowed = []string{"ls", "cat", "head", "tail", "grep", "find", "wc", "date", "echo"}
	}
	if c.Tools.ExecTimeout == 0 {
		c.Tools.ExecTimeout = 60 * time.Second
	}
	if c.Tools.ExecRateLimit == 0 {
		c.Tools.ExecRateLimit = 20
	}
	if c.Tools.ExecRateWindow == 0 {
		c.Tools.ExecRateWindow = time.Minute
	}
	if c.Tools.FetchMaxBytes == 0 {
		c.Tools.FetchMaxBytes = 2 << 20 // 2 MB
	}
	if c.Scheduler.SessionMaxIdle == 0 {
		c.Scheduler.SessionMaxIdle = 30 * 24 * time.Hour
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.CacheSize == 0 {
		c.Embedding.CacheSize = 512
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Output == "" {
		c.Logger.Output = "stderr"
	}
}

// Validate checks the parts of the config that have no safe default.
func (c *Config) Validate() error {
	if c.Models.Primary == "" {
		return fmt.Errorf("config: models.primary is required")
	}
	if len(c.Models.Profiles) == 0 {
		return fmt.Errorf("config: at least one auth profile is required")
	}
	seen := make(map[string]bool, len(c.Models.Profiles))
	for i, p := range c.Models.Profiles {
		if p.Name == "" {
			return fmt.Errorf("config: profile %d has no name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("config: duplicate profile name %q", p.Name)
		}
		seen[p.Name] = true
		switch p.Provider {
		case domain.ProviderAnthropic, domain.ProviderOpenAI, domain.ProviderKimi, domain.ProviderVolcengine:
		default:
			return fmt.Errorf("config: profile %q has unsupported provider %q", p.Name, p.Provider)
		}
		if p.APIKey == "" {
			return fmt.Errorf("config: profile %q has no api key", p.Name)
		}
	}
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("config: queue.concurrency must be >= 1")
	}
	if c.Queue.Retries < 0 {
		return fmt.Errorf("config: queue.retries must be >= 0")
	}
	return nil
}
