package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// APIToken, when set, gates every /api route behind a bearer token.
	APIToken string

	// PairingQR renders socket pairing challenges as a terminal QR code.
	PairingQR bool

	// SMTP alerting. Alerts stay log-only when SMTPAddr is empty.
	SMTPAddr string
	SMTPFrom string
	SMTPTo   string
	SMTPUser string
	SMTPPass string

	// Engine timing overrides; zero selects the engine default.
	ReconnectBaseDelay time.Duration
	ReconnectCapDelay  time.Duration
	ReconnectMaxRetry  int
	InterSendDelay     time.Duration
	WebhookTimeout     time.Duration
	MediaFetchTimeout  time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("COURIER_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("COURIER_LOG_LEVEL", "info"),
		LogFormat: EnvString("COURIER_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("COURIER_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("COURIER_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("COURIER_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("COURIER_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("COURIER_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("COURIER_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("COURIER_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("COURIER_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("COURIER_READINESS_REQUIRE_DB", false),

		APIToken: EnvString("COURIER_API_TOKEN", ""),

		PairingQR: EnvBool("COURIER_PAIRING_QR", false),

		SMTPAddr: EnvString("COURIER_SMTP_ADDR", ""),
		SMTPFrom: EnvString("COURIER_SMTP_FROM", ""),
		SMTPTo:   EnvString("COURIER_SMTP_TO", ""),
		SMTPUser: EnvString("COURIER_SMTP_USER", ""),
		SMTPPass: EnvString("COURIER_SMTP_PASS", ""),

		ReconnectBaseDelay: EnvDuration("COURIER_RECONNECT_BASE_DELAY", 0),
		ReconnectCapDelay:  EnvDuration("COURIER_RECONNECT_CAP_DELAY", 0),
		ReconnectMaxRetry:  EnvInt("COURIER_RECONNECT_MAX_RETRY", 0),
		InterSendDelay:     EnvDuration("COURIER_INTER_SEND_DELAY", 0),
		WebhookTimeout:     EnvDuration("COURIER_WEBHOOK_TIMEOUT", 0),
		MediaFetchTimeout:  EnvDuration("COURIER_MEDIA_FETCH_TIMEOUT", 0),
	}
}
