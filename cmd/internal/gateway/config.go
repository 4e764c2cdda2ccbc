package gateway

import "time"

// Engine timing defaults.
const (
	defaultBaseDelay = 5 * time.Second
	defaultJitterMax = 2 * time.Second
	defaultCapDelay  = 5 * time.Minute
	defaultMaxRetry  = 5

	defaultInterSendDelay = 1 * time.Second

	defaultMaxWebhookRetries = 3
	defaultPostSuccessDelay  = 500 * time.Millisecond
	defaultCooldownBase      = 5 * time.Second
	defaultCooldownJitter    = 5 * time.Second

	defaultWebhookTimeout    = 30 * time.Second
	defaultMediaFetchTimeout = 60 * time.Second
)

// maxMediaBytes caps a fetched media body before base64 embedding.
const maxMediaBytes = 64 << 20

// Config tunes engine timing and retry ceilings. The zero value selects the
// defaults above; tests shrink the delays to keep runs fast.
type Config struct {
	// Reconnection backoff (socket variant).
	BaseDelay time.Duration
	JitterMax time.Duration
	CapDelay  time.Duration
	MaxRetry  int

	// Outbound drain pacing between consecutive provider sends.
	InterSendDelay time.Duration

	// Webhook delivery retry ceiling and pacing.
	MaxWebhookRetries int
	PostSuccessDelay  time.Duration
	CooldownBase      time.Duration
	CooldownJitter    time.Duration

	// Deadlines so a stalled downstream endpoint cannot wedge a queue.
	WebhookTimeout    time.Duration
	MediaFetchTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseDelay
	}
	if c.JitterMax <= 0 {
		c.JitterMax = defaultJitterMax
	}
	if c.CapDelay <= 0 {
		c.CapDelay = defaultCapDelay
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = defaultMaxRetry
	}
	if c.InterSendDelay <= 0 {
		c.InterSendDelay = defaultInterSendDelay
	}
	if c.MaxWebhookRetries <= 0 {
		c.MaxWebhookRetries = defaultMaxWebhookRetries
	}
	if c.PostSuccessDelay <= 0 {
		c.PostSuccessDelay = defaultPostSuccessDelay
	}
	if c.CooldownBase <= 0 {
		c.CooldownBase = defaultCooldownBase
	}
	if c.CooldownJitter <= 0 {
		c.CooldownJitter = defaultCooldownJitter
	}
	if c.WebhookTimeout <= 0 {
		c.WebhookTimeout = defaultWebhookTimeout
	}
	if c.MediaFetchTimeout <= 0 {
		c.MediaFetchTimeout = defaultMediaFetchTimeout
	}
	return c
}
