package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Status is a session's lifecycle state.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusOpen       Status = "open"
	StatusClosed     Status = "closed"
	StatusError      Status = "error"
	StatusMaxRetries Status = "max_retries_reached"
)

// Session owns one transport provider, its connection state machine, and its
// two FIFO queues.
//
// Concurrency model:
//   - Every mutable field is guarded by mu.
//   - outboundDraining/inboundDraining are single-flight guards: at most one
//     drain execution per queue per session, which is what enforces FIFO and
//     prevents duplicate sends.
//   - The provider pushes typed events into its inbox channel; the session
//     owns exactly one consumer goroutine over it.
type Session struct {
	ID string

	log      *slog.Logger
	cfg      Config
	provider Provider
	store    MetadataStore
	notify   Notifier
	metrics  *Metrics
	deliver  *deliveryClient

	// onTerminate removes the session from the registry after an explicit
	// transport-side deauthorization.
	onTerminate func(id string)

	// baseCtx bounds provider and HTTP calls made from drain loops and
	// timers, which have no caller context.
	baseCtx context.Context

	// pacer enforces the inter-send courtesy delay toward the provider.
	pacer *rate.Limiter

	mu               sync.Mutex
	status           Status
	retryCount       int
	webhookURL       string
	webhookSecret    string
	pairingChallenge string
	selfID           string

	outbound         []OutboundJob
	inbound          []DeliveryJob
	outboundDraining bool
	inboundDraining  bool

	// reconnect is the pending reconnection timer, nil when none. Holding
	// the handle lets close/delete suppress a scheduled reconnect
	// deterministically; the status re-check in reconnectFired covers the
	// window where Stop loses the race.
	reconnect *time.Timer

	closed bool

	consumerDone chan struct{}
}

// Snapshot is a point-in-time view of a session's externally visible state.
type Snapshot struct {
	ID               string       `json:"id"`
	Status           Status       `json:"status"`
	Kind             ProviderKind `json:"kind"`
	RetryCount       int          `json:"retry_count"`
	PairingChallenge string       `json:"pairing_challenge,omitempty"`
	OutboundQueued   int          `json:"outbound_queued"`
	InboundQueued    int          `json:"inbound_queued"`
}

func (r *Registry) newSession(id string, rec Record, p Provider) *Session {
	return &Session{
		ID:            id,
		log:           r.log.With("session_id", id),
		cfg:           r.cfg,
		provider:      p,
		store:         r.store,
		notify:        r.notify,
		metrics:       r.metrics,
		deliver:       r.deliver,
		onTerminate:   r.dropLive,
		baseCtx:       r.baseCtx,
		pacer:         rate.NewLimiter(rate.Every(r.cfg.InterSendDelay), 1),
		status:        StatusStarting,
		webhookURL:    rec.WebhookURL,
		webhookSecret: rec.WebhookSecret,
		consumerDone:  make(chan struct{}),
	}
}

// startLoops spawns the inbox consumer and kicks off provider init.
// Init runs async so callers get the session handle while it connects.
func (s *Session) startLoops() {
	go s.consumeEvents()
	go s.initProvider()
}

// Status returns the session's current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot returns the session's externally visible state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:               s.ID,
		Status:           s.status,
		Kind:             s.provider.Kind(),
		RetryCount:       s.retryCount,
		PairingChallenge: s.pairingChallenge,
		OutboundQueued:   len(s.outbound),
		InboundQueued:    len(s.inbound),
	}
}

// setWebhook is the hot in-place webhook mutation; it never touches the
// provider.
func (s *Session) setWebhook(url, secret string) {
	s.mu.Lock()
	s.webhookURL = url
	s.webhookSecret = secret
	pending := len(s.inbound) > 0
	s.mu.Unlock()

	// A webhook configured after events queued up should start flowing.
	if pending {
		s.drainInbound()
	}
}

// initProvider invokes provider init and classifies its failure modes.
// It must never crash the registry or sibling sessions.
func (s *Session) initProvider() {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("session.init.panic", "panic", rec)
			s.setStatus(StatusError)
		}
	}()

	err := s.provider.Init(s.baseCtx)
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, ErrAuthTerminated):
		s.log.Warn("session.init.deauthorized", "err", err)
		s.terminate()
	case IsPermanent(err):
		s.log.Error("session.init.rejected", "err", err)
		s.setStatus(StatusError)
	default:
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			s.log.Error("session.init.misconfigured", "err", err)
			s.setStatus(StatusError)
			return
		}
		s.log.Warn("session.init.retry", "err", err)
		s.scheduleReconnect(err)
	}
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.status = st
	s.mu.Unlock()
	s.metrics.transition(st)
}

// consumeEvents is the single consumer loop over the provider inbox.
// It exits when the provider closes its events channel after logout.
func (s *Session) consumeEvents() {
	defer close(s.consumerDone)

	for ev := range s.provider.Events() {
		switch {
		case ev.Pairing != nil:
			s.handlePairing(*ev.Pairing)
		case ev.Open != nil:
			s.handleOpen(*ev.Open)
		case ev.Closed != nil:
			s.handleClosed(*ev.Closed)
		case ev.Message != nil:
			s.handleMessage(*ev.Message)
		}
	}
}

func (s *Session) handlePairing(ev PairingEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pairingChallenge = ev.Challenge
	s.mu.Unlock()

	s.log.Info("session.pairing", "challenge_len", len(ev.Challenge))
}

// handleOpen is the single transition into StatusOpen: it clears the retry
// budget and the pairing challenge, then triggers a drain of both queues.
func (s *Session) handleOpen(ev OpenEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.status = StatusOpen
	s.retryCount = 0
	s.pairingChallenge = ""
	s.selfID = ev.SelfID
	s.mu.Unlock()

	s.metrics.transition(StatusOpen)
	s.log.Info("session.open", "self_id", ev.SelfID)

	s.drainOutbound()
	s.drainInbound()
}

func (s *Session) handleClosed(ev ClosedEvent) {
	if ev.Reason == ReasonLoggedOut {
		s.log.Warn("session.deauthorized", "err", ev.Err)
		s.terminate()
		return
	}

	s.log.Warn("session.disconnected", "err", ev.Err)
	s.scheduleReconnect(ev.Err)
}

// handleMessage enqueues a delivery job for every non-self-originated,
// content-bearing inbound event.
func (s *Session) handleMessage(ev MessageEvent) {
	if ev.FromSelf || !ev.HasContent {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.webhookURL == "" {
		s.mu.Unlock()
		s.log.Debug("session.inbound.no_webhook")
		return
	}
	s.inbound = append(s.inbound, DeliveryJob{Raw: ev.Raw, EnqueuedAt: time.Now().UTC()})
	s.mu.Unlock()

	s.metrics.queueDelta("inbound", 1)
	s.drainInbound()
}

// scheduleReconnect applies the reconnection backoff. Once retryCount
// exceeds the budget the session parks in StatusMaxRetries with no timer
// pending; only an explicit Start can revive it.
func (s *Session) scheduleReconnect(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	s.retryCount++
	if s.retryCount > s.cfg.MaxRetry {
		s.status = StatusMaxRetries
		s.reconnect = nil
		s.mu.Unlock()

		s.metrics.transition(StatusMaxRetries)
		s.log.Error("session.retries.exhausted", "attempts", s.cfg.MaxRetry, "err", cause)
		s.notify.Alert(
			"courier: session "+s.ID+" gave up reconnecting",
			fmt.Sprintf("session %s exceeded %d reconnect attempts; last error: %v", s.ID, s.cfg.MaxRetry, cause),
		)
		return
	}

	s.status = StatusStarting
	attempt := s.retryCount
	delay := reconnectDelay(s.cfg, attempt)
	s.reconnect = time.AfterFunc(delay, s.reconnectFired)
	s.mu.Unlock()

	s.metrics.transition(StatusStarting)
	s.metrics.reconnectScheduled()
	s.log.Info("session.reconnect.scheduled", "attempt", attempt, "delay", delay)
}

// reconnectFired runs on the timer goroutine. The status re-check guards
// against a stale fire racing a concurrent logout.
func (s *Session) reconnectFired() {
	s.mu.Lock()
	s.reconnect = nil
	if s.closed || s.status != StatusStarting {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.initProvider()
}

// restart revives a session parked in StatusMaxRetries: retry budget reset,
// init re-invoked exactly once. Reports whether a restart happened.
func (s *Session) restart() bool {
	s.mu.Lock()
	if s.closed || s.status != StatusMaxRetries {
		s.mu.Unlock()
		return false
	}
	s.retryCount = 0
	s.status = StatusStarting
	s.mu.Unlock()

	s.metrics.transition(StatusStarting)
	s.log.Info("session.restart")
	go s.initProvider()
	return true
}

// terminate is the terminal cleanup after an explicit deauthorization:
// credentials leave the store, the session leaves the registry, and no
// further transitions happen.
func (s *Session) terminate() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.status = StatusClosed
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	s.mu.Unlock()

	s.metrics.transition(StatusClosed)

	ctx, cancel := context.WithTimeout(s.baseCtx, 5*time.Second)
	defer cancel()

	if err := s.provider.Logout(ctx); err != nil {
		s.log.Warn("session.logout.fail", "err", err)
	}
	if err := s.store.Remove(ctx, s.ID); err != nil {
		s.log.Error("session.purge.fail", "err", err)
	}

	s.notify.Alert(
		"courier: session "+s.ID+" deauthorized",
		"the transport revoked this session's credentials; it was removed and must be paired again",
	)

	if s.onTerminate != nil {
		s.onTerminate(s.ID)
	}
}

// close logs the provider out (best effort) and stops all session activity,
// discarding both queues. Persisted metadata is the caller's concern:
// delete removes it, a transport-config update rewrites it.
func (s *Session) close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.status = StatusClosed
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	droppedOut := len(s.outbound)
	droppedIn := len(s.inbound)
	s.outbound = nil
	s.inbound = nil
	s.mu.Unlock()

	s.metrics.transition(StatusClosed)
	s.metrics.queueDelta("outbound", -float64(droppedOut))
	s.metrics.queueDelta("inbound", -float64(droppedIn))
	if droppedOut+droppedIn > 0 {
		s.log.Info("session.queues.discarded", "outbound", droppedOut, "inbound", droppedIn)
	}

	if err := s.provider.Logout(ctx); err != nil {
		s.log.Warn("session.logout.fail", "err", err)
	}
}

// halt stops timers and drains without logging the provider out, so socket
// credentials stay linked for restoration. Used at process shutdown.
func (s *Session) halt() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.status = StatusClosed
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	s.mu.Unlock()
}
