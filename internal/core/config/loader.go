package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vuive/marketsync/internal/sync/queue"
	"github.com/vuive/marketsync/internal/sync/worker"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	defQueue := queue.DefaultConfig()
	if c.Queue.StaggerDelay == 0 {
		c.Queue.StaggerDelay = defQueue.StaggerDelay
	}
	if c.Queue.SchedulerInterval == 0 {
		c.Queue.SchedulerInterval = defQueue.SchedulerInterval
	}
	if c.Queue.SchedulerBatch == 0 {
		c.Queue.SchedulerBatch = defQueue.SchedulerBatch
	}

	defWorker := worker.DefaultConfig()
	if c.Worker.JobWorkers == 0 {
		c.Worker.JobWorkers = defWorker.JobWorkers
	}
	if c.Worker.BatchWorkers == 0 {
		c.Worker.BatchWorkers = defWorker.BatchWorkers
	}
	if c.Worker.ClaimTimeout == 0 {
		c.Worker.ClaimTimeout = defWorker.ClaimTimeout
	}
	if c.Worker.IdleSleep == 0 {
		c.Worker.IdleSleep = defWorker.IdleSleep
	}
	if c.Worker.CoordinatorPoll == 0 {
		c.Worker.CoordinatorPoll = defWorker.CoordinatorPoll
	}
	if c.Worker.CoordinatorRequeue == 0 {
		c.Worker.CoordinatorRequeue = defWorker.CoordinatorRequeue
	}
	if c.Worker.DeadLetterRetry == 0 {
		c.Worker.DeadLetterRetry = defWorker.DeadLetterRetry
	}
	if c.Worker.EventBuffer == 0 {
		c.Worker.EventBuffer = defWorker.EventBuffer
	}

	if c.Retention.JobHistory == 0 {
		c.Retention.JobHistory = 7 * 24 * time.Hour
	}
	if c.Retention.DeadLetterDays == 0 {
		c.Retention.DeadLetterDays = 30
	}
	if c.Retention.SweepInterval == 0 {
		c.Retention.SweepInterval = time.Hour
	}
}
