// Package retry computes per-platform backoff schedules and retry decisions.
package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/vuive/marketsync/internal/core/domain"
	"github.com/vuive/marketsync/internal/sync/classify"
)

// Config defines retry behavior for one platform. Immutable once the policy
// is built.
type Config struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	Jitter            bool          `yaml:"jitter"`
}

// DefaultConfig applies when a platform has no dedicated entry.
var DefaultConfig = Config{
	MaxAttempts:       3,
	BaseDelay:         1 * time.Second,
	MaxDelay:          5 * time.Minute,
	BackoffMultiplier: 2.0,
	Jitter:            true,
}

// DefaultPlatformConfigs carries the per-platform tuning. Stricter platforms
// get fewer attempts and longer base delays; this is data, never algorithm
// changes.
var DefaultPlatformConfigs = map[domain.Platform]Config{
	domain.PlatformShopee: {
		MaxAttempts:       5,
		BaseDelay:         1 * time.Second,
		MaxDelay:          5 * time.Minute,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	},
	domain.PlatformTikTok: {
		MaxAttempts:       3,
		BaseDelay:         2 * time.Second,
		MaxDelay:          10 * time.Minute,
		BackoffMultiplier: 2.5,
		Jitter:            true,
	},
}

// Decision is the policy verdict for one failed attempt.
type Decision struct {
	Retry          bool
	Reason         string
	NextDelay      time.Duration
	Classification domain.ErrorClassification
}

// Policy answers retry questions from immutable configuration; it needs no
// locking.
type Policy struct {
	configs  map[domain.Platform]Config
	fallback Config
}

// NewPolicy builds a policy from per-platform configs plus a fallback.
func NewPolicy(configs map[domain.Platform]Config, fallback Config) *Policy {
	cp := make(map[domain.Platform]Config, len(configs))
	for p, c := range configs {
		cp[p] = c
	}
	return &Policy{configs: cp, fallback: fallback}
}

// NewDefaultPolicy builds a policy with the stock platform tuning.
func NewDefaultPolicy() *Policy {
	return NewPolicy(DefaultPlatformConfigs, DefaultConfig)
}

// ConfigFor returns the platform's config, falling back to the default.
func (p *Policy) ConfigFor(platform domain.Platform) Config {
	if c, ok := p.configs[platform]; ok {
		return c
	}
	return p.fallback
}

// Delay computes the backoff before the given attempt: exponential in the
// attempt number, clamped to MaxDelay, optionally jittered +-10% to avoid
// synchronized retry storms. Attempt numbers are 1-based.
func Delay(attempt int, cfg Config) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(cfg.BaseDelay) * math.Pow(cfg.BackoffMultiplier, float64(attempt-1))
	if d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		// uniform in [0.9d, 1.1d], still bounded by MaxDelay
		d *= 0.9 + rand.Float64()*0.2
		if d > float64(cfg.MaxDelay) {
			d = float64(cfg.MaxDelay)
		}
	}
	return time.Duration(d)
}

// Decide reports whether a failed attempt should be retried and, when it
// should, the delay before the next one. attempt is the number of attempts
// already made.
func (p *Policy) Decide(err error, attempt int, platform domain.Platform) Decision {
	cfg := p.ConfigFor(platform)
	cls := classify.Classify(err)

	if attempt >= cfg.MaxAttempts {
		return Decision{
			Retry:          false,
			Reason:         "max retry attempts exhausted",
			Classification: cls,
		}
	}
	if !cls.Retryable {
		return Decision{
			Retry:          false,
			Reason:         "non-retryable error: " + string(cls.Category),
			Classification: cls,
		}
	}
	return Decision{
		Retry:          true,
		Reason:         "retry scheduled",
		NextDelay:      Delay(attempt, cfg),
		Classification: cls,
	}
}
