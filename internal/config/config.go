package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	AI         AIConfig         `yaml:"ai"`
	Memory     MemoryConfig     `yaml:"memory"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	SQLite SQLiteConfig `yaml:"sqlite"`
	Redis  RedisConfig  `yaml:"redis"`
	Qdrant QdrantConfig `yaml:"qdrant"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`
	VectorSize int    `yaml:"vector_size"`
}

type AIConfig struct {
	Provider  ProviderConfig  `yaml:"provider"`
	Embedding EmbeddingConfig `yaml:"embedding"`
}

type ProviderConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

type EmbeddingConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

type MemoryConfig struct {
	RetentionPerAgent int           `yaml:"retention_per_agent"`
	SearchLimit       int           `yaml:"search_limit"`
	SummaryWindow     time.Duration `yaml:"summary_window"`
}

type SchedulerConfig struct {
	CooldownMin      time.Duration      `yaml:"cooldown_min"`
	CooldownMax      time.Duration      `yaml:"cooldown_max"`
	PriorityCooldown time.Duration      `yaml:"priority_cooldown"`
	ChangeThreshold  float64            `yaml:"change_threshold"`
	NeedThresholds   map[string]float64 `yaml:"need_thresholds"`
}

type DispatcherConfig struct {
	MaxConcurrent  int           `yaml:"max_concurrent"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()

	// Apply environment variable overrides
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.AI.Provider.APIKey = apiKey
		cfg.AI.Embedding.APIKey = apiKey
	}
	if apiKey := os.Getenv("QDRANT_API_KEY"); apiKey != "" {
		cfg.Database.Qdrant.APIKey = apiKey
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Memory.RetentionPerAgent == 0 {
		c.Memory.RetentionPerAgent = 500
	}
	if c.Memory.SearchLimit == 0 {
		c.Memory.SearchLimit = 5
	}
	if c.Memory.SummaryWindow == 0 {
		c.Memory.SummaryWindow = time.Hour
	}
	if c.Scheduler.CooldownMin == 0 {
		c.Scheduler.CooldownMin = 10 * time.Second
	}
	if c.Scheduler.CooldownMax == 0 {
		c.Scheduler.CooldownMax = 20 * time.Second
	}
	if c.Scheduler.ChangeThreshold == 0 {
		c.Scheduler.ChangeThreshold = 0.15
	}
	if c.Dispatcher.MaxConcurrent == 0 {
		c.Dispatcher.MaxConcurrent = 4
	}
	if c.Dispatcher.RequestTimeout == 0 {
		c.Dispatcher.RequestTimeout = 30 * time.Second
	}
	if c.Dispatcher.CacheTTL == 0 {
		c.Dispatcher.CacheTTL = 5 * time.Minute
	}
	if c.Database.Qdrant.VectorSize == 0 {
		c.Database.Qdrant.VectorSize = 1536
	}
}
