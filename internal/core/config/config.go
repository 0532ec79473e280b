package config

import (
	"time"

	"github.com/vuive/marketsync/internal/core/domain"
	redisclient "github.com/vuive/marketsync/internal/infra/redis"
	"github.com/vuive/marketsync/internal/infra/storage/postgres"
	"github.com/vuive/marketsync/internal/sync/queue"
	"github.com/vuive/marketsync/internal/sync/retry"
	"github.com/vuive/marketsync/internal/sync/worker"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig                     `yaml:"server"`
	Database  postgres.Config                  `yaml:"database"`
	Redis     redisclient.Config               `yaml:"redis"`
	Logging   LoggingConfig                    `yaml:"logging"`
	Queue     queue.Config                     `yaml:"queue"`
	Worker    worker.Config                    `yaml:"worker"`
	Retry     map[domain.Platform]retry.Config `yaml:"retry"`
	Retention RetentionConfig                  `yaml:"retention"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// RetentionConfig bounds how long finished work is kept around.
type RetentionConfig struct {
	// JobHistory is how long terminal job rows survive.
	JobHistory time.Duration `yaml:"job_history"`

	// DeadLetterDays is how many days dead-letter entries survive.
	DeadLetterDays int `yaml:"dead_letter_days"`

	// SweepInterval is how often the retention sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RetryPolicy builds the retry policy from the configured per-platform
// overrides layered over the built-in defaults.
func (c *AppConfig) RetryPolicy() *retry.Policy {
	configs := make(map[domain.Platform]retry.Config, len(retry.DefaultPlatformConfigs))
	for p, cfg := range retry.DefaultPlatformConfigs {
		configs[p] = cfg
	}
	for p, cfg := range c.Retry {
		configs[p] = cfg
	}
	return retry.NewPolicy(configs, retry.DefaultConfig)
}
