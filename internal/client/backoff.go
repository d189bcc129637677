package client

import (
	"time"

	"github.com/cbeuw/tangle/internal/common"
)

// BackoffConfig defines reconnect backoff behavior
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
		Jitter:       true,
	}
}

// NextBackoffDelay returns the delay before retry number attempt, counting from 0. With Jitter the
// delay is drawn from the upper half of the exponential value.
func NextBackoffDelay(cfg BackoffConfig, attempt int, worldState common.WorldState) time.Duration {
	delay := float64(cfg.InitialDelay)
	for i := 0; i < attempt && delay < float64(cfg.MaxDelay); i++ {
		delay *= cfg.Multiplier
	}
	d := time.Duration(delay)
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	if cfg.Jitter {
		d = worldState.Jitter(d)
	}
	return d
}
