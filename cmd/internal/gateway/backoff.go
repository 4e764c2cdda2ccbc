package gateway

import (
	"math/rand/v2"
	"time"
)

// reconnectDelay computes the backoff before reconnect attempt number
// attempt (1-based): min(base * 2^(attempt-1) + jitter, cap).
func reconnectDelay(cfg Config, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.CapDelay || d < 0 {
			d = cfg.CapDelay
			break
		}
	}

	if cfg.JitterMax > 0 {
		d += rand.N(cfg.JitterMax)
	}
	if d > cfg.CapDelay {
		d = cfg.CapDelay
	}
	return d
}

// dispatchCooldown is the suspend interval after a transient webhook failure.
func dispatchCooldown(cfg Config) time.Duration {
	d := cfg.CooldownBase
	if cfg.CooldownJitter > 0 {
		d += rand.N(cfg.CooldownJitter)
	}
	return d
}
