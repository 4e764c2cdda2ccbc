package gateway

import (
	"testing"
	"time"
)

func TestReconnectDelay_GrowsExponentially(t *testing.T) {
	t.Parallel()

	cfg := Config{
		BaseDelay: 5 * time.Second,
		JitterMax: 2 * time.Second,
		CapDelay:  5 * time.Minute,
	}

	cases := []struct {
		attempt int
		min     time.Duration
	}{
		{attempt: 1, min: 5 * time.Second},
		{attempt: 2, min: 10 * time.Second},
		{attempt: 3, min: 20 * time.Second},
		{attempt: 4, min: 40 * time.Second},
		{attempt: 5, min: 80 * time.Second},
	}

	for _, tc := range cases {
		got := reconnectDelay(cfg, tc.attempt)
		if got < tc.min || got > tc.min+cfg.JitterMax {
			t.Fatalf("attempt %d: delay %v outside [%v, %v]", tc.attempt, got, tc.min, tc.min+cfg.JitterMax)
		}
	}
}

func TestReconnectDelay_Caps(t *testing.T) {
	t.Parallel()

	cfg := Config{
		BaseDelay: 5 * time.Second,
		JitterMax: 2 * time.Second,
		CapDelay:  5 * time.Minute,
	}

	for _, attempt := range []int{7, 10, 20, 63} {
		got := reconnectDelay(cfg, attempt)
		if got > cfg.CapDelay {
			t.Fatalf("attempt %d: delay %v exceeds cap %v", attempt, got, cfg.CapDelay)
		}
		if got < cfg.CapDelay-cfg.JitterMax {
			t.Fatalf("attempt %d: delay %v below cap region", attempt, got)
		}
	}
}

func TestReconnectDelay_ClampsAttempt(t *testing.T) {
	t.Parallel()

	cfg := Config{BaseDelay: time.Second, CapDelay: time.Minute}
	if got := reconnectDelay(cfg, 0); got != time.Second {
		t.Fatalf("attempt 0: got %v want %v", got, time.Second)
	}
	if got := reconnectDelay(cfg, -3); got != time.Second {
		t.Fatalf("attempt -3: got %v want %v", got, time.Second)
	}
}

func TestDispatchCooldown_WithinWindow(t *testing.T) {
	t.Parallel()

	cfg := Config{CooldownBase: 5 * time.Second, CooldownJitter: 5 * time.Second}
	for range 50 {
		got := dispatchCooldown(cfg)
		if got < 5*time.Second || got >= 10*time.Second {
			t.Fatalf("cooldown %v outside [5s, 10s)", got)
		}
	}
}
