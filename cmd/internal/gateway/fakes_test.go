package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// testConfig shrinks every engine delay so state machine tests run in
// milliseconds.
func testConfig() Config {
	return Config{
		BaseDelay:         time.Millisecond,
		JitterMax:         time.Millisecond,
		CapDelay:          10 * time.Millisecond,
		MaxRetry:          2,
		InterSendDelay:    time.Millisecond,
		MaxWebhookRetries: 3,
		PostSuccessDelay:  time.Millisecond,
		CooldownBase:      time.Millisecond,
		CooldownJitter:    time.Millisecond,
		WebhookTimeout:    2 * time.Second,
		MediaFetchTimeout: 2 * time.Second,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type fakeSend struct {
	target string
	kind   ContentKind
	text   string
}

// fakeProvider is a scriptable Provider: tests drive its inbox directly and
// control send behavior.
type fakeProvider struct {
	events chan Event

	mu          sync.Mutex
	initCalls   int
	logoutCalls int
	initErr     error
	sendErr     error
	sends       []fakeSend

	closeOnce sync.Once
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{events: make(chan Event, 64)}
}

func (p *fakeProvider) Kind() ProviderKind   { return KindSocket }
func (p *fakeProvider) Events() <-chan Event { return p.events }

func (p *fakeProvider) Init(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initCalls++
	return p.initErr
}

func (p *fakeProvider) SendText(_ context.Context, target, text string) (string, error) {
	return p.record(fakeSend{target: target, kind: KindText, text: text})
}

func (p *fakeProvider) SendMedia(_ context.Context, target string, kind ContentKind, _ Media) (string, error) {
	return p.record(fakeSend{target: target, kind: kind})
}

func (p *fakeProvider) SendInteractive(_ context.Context, target string, _ Interactive) (string, error) {
	return p.record(fakeSend{target: target, kind: KindInteractive})
}

func (p *fakeProvider) Logout(_ context.Context) error {
	p.mu.Lock()
	p.logoutCalls++
	p.mu.Unlock()
	p.closeOnce.Do(func() { close(p.events) })
	return nil
}

func (p *fakeProvider) record(s fakeSend) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return "", p.sendErr
	}
	p.sends = append(p.sends, s)
	return fmt.Sprintf("m-%d", len(p.sends)), nil
}

func (p *fakeProvider) setSendErr(err error) {
	p.mu.Lock()
	p.sendErr = err
	p.mu.Unlock()
}

func (p *fakeProvider) setInitErr(err error) {
	p.mu.Lock()
	p.initErr = err
	p.mu.Unlock()
}

func (p *fakeProvider) sentTargets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.sends))
	for _, s := range p.sends {
		out = append(out, s.target)
	}
	return out
}

func (p *fakeProvider) sendCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sends)
}

func (p *fakeProvider) initCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initCalls
}

func (p *fakeProvider) logoutCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logoutCalls
}

// Inbox drivers.

func (p *fakeProvider) open(selfID string) {
	p.events <- Event{Open: &OpenEvent{SelfID: selfID}}
}

func (p *fakeProvider) pair(challenge string) {
	p.events <- Event{Pairing: &PairingEvent{Challenge: challenge}}
}

func (p *fakeProvider) dropRecoverable(err error) {
	p.events <- Event{Closed: &ClosedEvent{Reason: ReasonRecoverable, Err: err}}
}

func (p *fakeProvider) dropLoggedOut() {
	p.events <- Event{Closed: &ClosedEvent{Reason: ReasonLoggedOut}}
}

func (p *fakeProvider) message(raw string) {
	fromSelf, hasContent := SummarizeInbound(json.RawMessage(raw))
	p.events <- Event{Message: &MessageEvent{
		Raw:        json.RawMessage(raw),
		FromSelf:   fromSelf,
		HasContent: hasContent,
	}}
}

// fakeFactory hands out one fakeProvider per session id.
type fakeFactory struct {
	mu        sync.Mutex
	providers map[string]*fakeProvider
	created   int
	errFor    map[string]error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		providers: make(map[string]*fakeProvider),
		errFor:    make(map[string]error),
	}
}

func (f *fakeFactory) New(id string, _ TransportConfig) (Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errFor[id]; err != nil {
		return nil, err
	}
	p := newFakeProvider()
	f.providers[id] = p
	f.created++
	return p, nil
}

func (f *fakeFactory) provider(id string) *fakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.providers[id]
}

func (f *fakeFactory) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// fakeNotifier records alerts.
type fakeNotifier struct {
	mu       sync.Mutex
	subjects []string
}

func (n *fakeNotifier) Alert(subject, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subjects = append(n.subjects, subject)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subjects)
}

func (n *fakeNotifier) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.subjects) == 0 {
		return ""
	}
	return n.subjects[len(n.subjects)-1]
}

func newTestRegistry(t *testing.T) (*Registry, *fakeFactory, *fakeNotifier, *InMemoryStore) {
	t.Helper()
	factory := newFakeFactory()
	notifier := &fakeNotifier{}
	store := NewInMemoryStore()
	reg := NewRegistry(testLogger(), testConfig(), store, notifier, factory, nil)
	return reg, factory, notifier, store
}

func socketConfig() TransportConfig {
	return TransportConfig{SocketAddress: "ws://127.0.0.1:1/transport"}
}
