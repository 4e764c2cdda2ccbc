package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Registry is the process-wide map from session id to live Session. It owns
// creation, restart, hot update, deletion, and bulk restoration at startup.
// Construct exactly one per process and inject it into every consumer.
type Registry struct {
	log     *slog.Logger
	cfg     Config
	store   MetadataStore
	notify  Notifier
	factory ProviderFactory
	metrics *Metrics
	deliver *deliveryClient

	baseCtx context.Context

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry wires the engine together. metrics may be nil, in which case
// no collectors are registered and every observation is a no-op.
func NewRegistry(log *slog.Logger, cfg Config, store MetadataStore, notify Notifier, factory ProviderFactory, metrics *Metrics) *Registry {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	if notify == nil {
		notify = &LogNotifier{Log: log}
	}
	cfg = cfg.withDefaults()

	return &Registry{
		log:      log,
		cfg:      cfg,
		store:    store,
		notify:   notify,
		factory:  factory,
		metrics:  metrics,
		deliver:  newDeliveryClient(cfg),
		baseCtx:  context.Background(),
		sessions: make(map[string]*Session),
	}
}

// Start returns the live session for id, creating it when absent.
//
// An existing session comes back unchanged, except one parked in
// StatusMaxRetries: that one has its retry budget reset and init re-invoked.
// The registry lock covers the exists-check through construction, so
// concurrent Start calls for one id can never race two providers into
// existence.
func (r *Registry) Start(ctx context.Context, id, webhookURL string, tc TransportConfig) (*Session, error) {
	if id == "" {
		return nil, &ConfigError{Reason: "missing session id"}
	}
	if tc.Kind() == KindSocket && tc.SocketAddress == "" {
		return nil, &ConfigError{Reason: "socket transport requires an address"}
	}

	r.mu.Lock()
	if s, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		if s.restart() {
			r.log.Info("registry.session.restarted", "session_id", id)
		}
		return s, nil
	}

	// Persist metadata before the provider exists so a crash between the
	// two leaves a restorable record rather than an orphan connection.
	rec, err := r.store.Save(ctx, id, RecordPatch{
		WebhookURL: &webhookURL,
		Transport:  &tc,
	})
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("persist session metadata: %w", err)
	}

	p, err := r.factory.New(id, rec.Transport)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	s := r.newSession(id, rec, p)
	r.sessions[id] = s
	r.mu.Unlock()

	r.metrics.sessionAdded()
	r.metrics.transition(StatusStarting)
	r.log.Info("registry.session.start", "session_id", id, "kind", p.Kind(), "webhook", webhookURL != "")

	s.startLoops()
	return s, nil
}

// Get is a pure lookup with no side effects.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Update patches a session's persisted metadata. A webhook-only change is a
// hot in-place mutation on the live session; a transport change logs the
// current provider out and starts the session again under the merged config.
// Returns ErrNotFound when no record exists for id.
func (r *Registry) Update(ctx context.Context, id string, patch RecordPatch) (Record, error) {
	if _, err := r.store.Read(ctx, id); err != nil {
		return Record{}, err
	}

	rec, err := r.store.Save(ctx, id, patch)
	if err != nil {
		return Record{}, fmt.Errorf("persist session metadata: %w", err)
	}

	if patch.Transport == nil {
		if s, ok := r.Get(id); ok {
			s.setWebhook(rec.WebhookURL, rec.WebhookSecret)
		}
		r.log.Info("registry.session.updated", "session_id", id, "hot", true)
		return rec, nil
	}

	if s := r.takeLive(id); s != nil {
		s.close(ctx)
		r.metrics.sessionRemoved()
	}
	r.log.Info("registry.session.updated", "session_id", id, "hot", false)

	if _, err := r.Start(ctx, id, rec.WebhookURL, rec.Transport); err != nil {
		return rec, fmt.Errorf("restart after transport change: %w", err)
	}
	return rec, nil
}

// Delete logs the provider out (best effort), removes the session from the
// registry and the store, and reports whether anything existed to delete.
func (r *Registry) Delete(ctx context.Context, id string) (bool, error) {
	deleted := false

	if s := r.takeLive(id); s != nil {
		s.close(ctx)
		r.metrics.sessionRemoved()
		deleted = true
	}

	if _, err := r.store.Read(ctx, id); err == nil {
		deleted = true
	} else if !errors.Is(err, ErrNotFound) {
		return deleted, err
	}
	if err := r.store.Remove(ctx, id); err != nil {
		return deleted, err
	}

	if deleted {
		r.log.Info("registry.session.deleted", "session_id", id)
	}
	return deleted, nil
}

// RestoreAll starts a session for every persisted record. One record's
// failure is logged and never aborts restoration of the rest.
func (r *Registry) RestoreAll(ctx context.Context) {
	ids, err := r.store.ListAll(ctx)
	if err != nil {
		r.log.Error("registry.restore.list.fail", "err", err)
		return
	}

	restored := 0
	for _, id := range ids {
		rec, err := r.store.Read(ctx, id)
		if err != nil {
			r.log.Error("registry.restore.read.fail", "session_id", id, "err", err)
			continue
		}
		if _, err := r.Start(ctx, id, rec.WebhookURL, rec.Transport); err != nil {
			r.log.Error("registry.restore.fail", "session_id", id, "err", err)
			continue
		}
		restored++
	}
	r.log.Info("registry.restore.done", "known", len(ids), "restored", restored)
}

// Shutdown halts every live session without logging providers out or
// touching persisted metadata, so the whole fleet restores on next start.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range all {
		s.halt()
		r.metrics.sessionRemoved()
	}
	r.log.Info("registry.shutdown", "sessions", len(all))
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// List returns a snapshot of every live session, ordering unspecified.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(all))
	for _, s := range all {
		out = append(out, s.Snapshot())
	}
	return out
}

// takeLive removes and returns the live session for id, nil when absent.
func (r *Registry) takeLive(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[id]
	delete(r.sessions, id)
	return s
}

// dropLive removes a session that purged itself after deauthorization.
func (r *Registry) dropLive(id string) {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		r.metrics.sessionRemoved()
		r.log.Info("registry.session.purged", "session_id", id)
	}
}
