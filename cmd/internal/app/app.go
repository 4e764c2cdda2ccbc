// Package app wires the courier runtime: config, logging, metrics, the
// session registry, and the HTTP control plane.
package app

import (
	"context"
	"errors"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"courier/cmd/internal/gateway"
	"courier/cmd/internal/transport"
)

// App owns the HTTP server and the session registry lifecycle.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool

	store    gateway.MetadataStore
	registry *gateway.Registry
	promReg  *prometheus.Registry
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	store, dbPool, dbEnabled, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	registry := gateway.NewRegistry(
		log,
		gateway.Config{
			BaseDelay:         cfg.ReconnectBaseDelay,
			CapDelay:          cfg.ReconnectCapDelay,
			MaxRetry:          cfg.ReconnectMaxRetry,
			InterSendDelay:    cfg.InterSendDelay,
			WebhookTimeout:    cfg.WebhookTimeout,
			MediaFetchTimeout: cfg.MediaFetchTimeout,
		},
		store,
		newNotifier(cfg, log),
		transport.NewFactory(log, cfg.PairingQR),
		gateway.NewMetrics(promReg),
	)

	return &App{
		cfg:       cfg,
		log:       log,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		store:     store,
		registry:  registry,
		promReg:   promReg,
	}, nil
}

// Registry exposes the session registry for tests and embedded uses.
func (a *App) Registry() *gateway.Registry { return a.registry }

// Run restores persisted sessions, starts the HTTP server, and blocks until
// context cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	a.registry.RestoreAll(ctx)

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.registry, a.promReg)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled, "sessions", a.registry.Count())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	// Sessions halt without remote logout so the fleet restores next start.
	a.registry.Shutdown()

	if err := a.store.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStore decides between Postgres-backed persistence and in-memory dev store.
//
// Ownership model:
// - app owns the pool lifecycle
// - PostgresStore.Close() is a no-op
func newStore(ctx context.Context, cfg Config, log Logger) (gateway.MetadataStore, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return gateway.NewInMemoryStore(), nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	store, err := gateway.NewPostgresStore(pool) // default schema "courier"
	if err != nil {
		pool.Close()
		return nil, nil, false, err
	}

	log.Info("db.enabled.postgres_store")
	return store, pool, true, nil
}

func newNotifier(cfg Config, log Logger) gateway.Notifier {
	if cfg.SMTPAddr == "" || cfg.SMTPFrom == "" || cfg.SMTPTo == "" {
		return gateway.LogNotifier{Log: log}
	}

	var auth smtp.Auth
	if cfg.SMTPUser != "" {
		host := cfg.SMTPAddr
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPass, host)
	}

	to := strings.Split(cfg.SMTPTo, ",")
	for i := range to {
		to[i] = strings.TrimSpace(to[i])
	}

	log.Info("notify.smtp.enabled", "addr", cfg.SMTPAddr, "recipients", len(to))
	return &gateway.SMTPNotifier{
		Log:  log,
		Addr: cfg.SMTPAddr,
		From: cfg.SMTPFrom,
		To:   to,
		Auth: auth,
	}
}
