package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/mdp/qrterminal"

	"courier/cmd/internal/gateway"
)

const (
	maxReadBytes = 1 << 20 // 1MiB; inbound events carry media by URL, not bytes
	writeTimeout = 10 * time.Second
	ackTimeout   = 30 * time.Second

	// eventBuffer bounds the inbox. A full inbox applies backpressure to the
	// read pump instead of dropping events.
	eventBuffer = 256
)

type sendOutcome struct {
	msgID string
	err   error
}

// SocketProvider is the pairing-based transport: one persistent WebSocket
// per session, envelopes in both directions, acks correlated by envelope id.
//
// Init may be called again after a recoverable disconnect; the events
// channel survives reconnects and closes only at Logout. The read pump is
// the sole producer on it.
type SocketProvider struct {
	log       *slog.Logger
	sessionID string
	cfg       gateway.TransportConfig
	renderQR  bool

	events chan gateway.Event

	mu        sync.Mutex
	conn      *websocket.Conn
	pumpDone  chan struct{}
	pending   map[string]chan sendOutcome
	loggedOut bool
	closed    bool
}

// NewSocketProvider builds a disconnected provider; Init dials.
func NewSocketProvider(log *slog.Logger, sessionID string, cfg gateway.TransportConfig, renderQR bool) *SocketProvider {
	return &SocketProvider{
		log:       log.With("session_id", sessionID, "transport", gateway.KindSocket),
		sessionID: sessionID,
		cfg:       cfg,
		renderQR:  renderQR,
		events:    make(chan gateway.Event, eventBuffer),
		pending:   make(map[string]chan sendOutcome),
	}
}

func (p *SocketProvider) Kind() gateway.ProviderKind { return gateway.KindSocket }

func (p *SocketProvider) Events() <-chan gateway.Event { return p.events }

// Init dials the socket address and starts the read pump. Pairing progress
// and the eventual open arrive as events, not as the return value.
func (p *SocketProvider) Init(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("%w: provider logged out", gateway.ErrPermanentTransport)
	}
	if p.conn != nil {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	opts := &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
	}
	conn, _, err := websocket.Dial(ctx, p.cfg.SocketAddress, opts)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", gateway.ErrTransientTransport, p.cfg.SocketAddress, err)
	}
	if conn.Subprotocol() != Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return fmt.Errorf("%w: server did not negotiate %s", gateway.ErrTransientTransport, Subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	done := make(chan struct{})
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "logged out")
		return fmt.Errorf("%w: provider logged out", gateway.ErrPermanentTransport)
	}
	p.conn = conn
	p.pumpDone = done
	p.mu.Unlock()

	go p.readPump(conn, done)
	p.log.Debug("socket.connected", "addr", p.cfg.SocketAddress)
	return nil
}

func (p *SocketProvider) SendText(ctx context.Context, target, text string) (string, error) {
	return p.send(ctx, TypeSendText, SendTextPayload{Target: target, Text: text})
}

func (p *SocketProvider) SendMedia(ctx context.Context, target string, kind gateway.ContentKind, m gateway.Media) (string, error) {
	return p.send(ctx, TypeSendMedia, SendMediaPayload{
		Target:   target,
		Kind:     string(kind),
		Data:     m.Data,
		URL:      m.URL,
		Mimetype: m.Mimetype,
		FileName: m.FileName,
		Caption:  m.Caption,
	})
}

func (p *SocketProvider) SendInteractive(ctx context.Context, target string, in gateway.Interactive) (string, error) {
	return p.send(ctx, TypeSendInteractive, SendInteractivePayload{Target: target, Prompt: in})
}

// Logout announces the unlink, closes the connection, waits for the pump to
// stop, and closes the events channel. The provider is dead afterwards.
func (p *SocketProvider) Logout(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.loggedOut = true
	conn := p.conn
	done := p.pumpDone
	p.conn = nil
	p.mu.Unlock()

	if conn != nil {
		env := Envelope{V: ProtocolVersion, Type: TypeLogout, TS: time.Now().UTC()}
		if b, err := json.Marshal(env); err == nil {
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			_ = conn.Write(wctx, websocket.MessageText, b)
			cancel()
		}
		_ = conn.Close(websocket.StatusNormalClosure, "logout")
		if done != nil {
			select {
			case <-done:
			case <-ctx.Done():
			}
		}
	}

	close(p.events)
	return nil
}

// send writes a correlated envelope and blocks until its ack, error, the
// caller context, or the ack timeout.
func (p *SocketProvider) send(ctx context.Context, typ string, payload any) (string, error) {
	id, err := gateway.NewID(time.Now())
	if err != nil {
		return "", fmt.Errorf("%w: envelope id: %v", gateway.ErrTransientTransport, err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: encode %s: %v", gateway.ErrTransientTransport, typ, err)
	}
	env := Envelope{V: ProtocolVersion, Type: typ, ID: id, TS: time.Now().UTC(), Payload: body}
	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("%w: encode envelope: %v", gateway.ErrTransientTransport, err)
	}

	p.mu.Lock()
	conn := p.conn
	if conn == nil || p.closed {
		p.mu.Unlock()
		return "", fmt.Errorf("%w: socket not connected", gateway.ErrTransientTransport)
	}
	ch := make(chan sendOutcome, 1)
	p.pending[id] = ch
	p.mu.Unlock()
	defer p.dropPending(id)

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, b); err != nil {
		return "", fmt.Errorf("%w: write %s: %v", gateway.ErrTransientTransport, typ, err)
	}

	select {
	case out := <-ch:
		return out.msgID, out.err
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", gateway.ErrTransientTransport, ctx.Err())
	case <-time.After(ackTimeout):
		return "", fmt.Errorf("%w: ack timeout for %s", gateway.ErrTransientTransport, typ)
	}
}

func (p *SocketProvider) dropPending(id string) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

// resolve completes the in-flight send referenced by ref. The outcome
// channel is buffered so a timed-out waiter never blocks the pump.
func (p *SocketProvider) resolve(ref string, out sendOutcome) {
	p.mu.Lock()
	ch, ok := p.pending[ref]
	delete(p.pending, ref)
	p.mu.Unlock()

	if ok {
		ch <- out
	}
}

func (p *SocketProvider) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	ctx := context.Background()
	for {
		mt, data, err := conn.Read(ctx)
		if err != nil {
			p.pumpStopped(err)
			return
		}
		if mt != websocket.MessageText && mt != websocket.MessageBinary {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			p.log.Warn("socket.frame.malformed", "err", err)
			continue
		}
		p.route(env)
	}
}

// pumpStopped classifies the end of a connection. All in-flight sends fail
// transient; logout and a logged_out disconnect suppress the recoverable
// Closed event so the session never reconnects a dead identity.
func (p *SocketProvider) pumpStopped(err error) {
	p.mu.Lock()
	p.conn = nil
	suppress := p.loggedOut || p.closed
	for id, ch := range p.pending {
		ch <- sendOutcome{err: fmt.Errorf("%w: connection lost", gateway.ErrTransientTransport)}
		delete(p.pending, id)
	}
	p.mu.Unlock()

	if suppress {
		return
	}
	p.events <- gateway.Event{Closed: &gateway.ClosedEvent{Reason: gateway.ReasonRecoverable, Err: err}}
}

func (p *SocketProvider) route(env Envelope) {
	switch env.Type {
	case TypePairChallenge:
		var pl PairChallengePayload
		if err := json.Unmarshal(env.Payload, &pl); err != nil {
			p.log.Warn("socket.payload.malformed", "type", env.Type, "err", err)
			return
		}
		if p.renderQR {
			qrterminal.GenerateHalfBlock(pl.Code, qrterminal.L, os.Stdout)
		}
		p.events <- gateway.Event{Pairing: &gateway.PairingEvent{Challenge: pl.Code}}

	case TypeSessionOpen:
		var pl SessionOpenPayload
		if err := json.Unmarshal(env.Payload, &pl); err != nil {
			p.log.Warn("socket.payload.malformed", "type", env.Type, "err", err)
			return
		}
		p.events <- gateway.Event{Open: &gateway.OpenEvent{SelfID: pl.SelfID}}

	case TypeMessage:
		fromSelf, hasContent := gateway.SummarizeInbound(env.Payload)
		p.events <- gateway.Event{Message: &gateway.MessageEvent{
			Raw:        env.Payload,
			FromSelf:   fromSelf,
			HasContent: hasContent,
		}}

	case TypeDisconnect:
		var pl DisconnectPayload
		_ = json.Unmarshal(env.Payload, &pl)
		if pl.Reason == "logged_out" {
			p.mu.Lock()
			p.loggedOut = true
			p.mu.Unlock()
			p.events <- gateway.Event{Closed: &gateway.ClosedEvent{
				Reason: gateway.ReasonLoggedOut,
				Err:    errors.New("server revoked session credentials"),
			}}
			return
		}
		// Recoverable announce: the server closes the conn right after, and
		// the read error emits the single Closed event.
		p.log.Info("socket.disconnect.announced", "reason", pl.Reason)

	case TypeSendAck:
		var pl SendAckPayload
		if err := json.Unmarshal(env.Payload, &pl); err != nil {
			p.log.Warn("socket.payload.malformed", "type", env.Type, "err", err)
			return
		}
		p.resolve(pl.Ref, sendOutcome{msgID: pl.MsgID})

	case TypeSendErr:
		var pl SendErrPayload
		if err := json.Unmarshal(env.Payload, &pl); err != nil {
			p.log.Warn("socket.payload.malformed", "type", env.Type, "err", err)
			return
		}
		sentinel := gateway.ErrTransientTransport
		if pl.Permanent {
			sentinel = gateway.ErrPermanentTransport
		}
		p.resolve(pl.Ref, sendOutcome{err: fmt.Errorf("%w: %s: %s", sentinel, pl.Code, pl.Message)})

	default:
		p.log.Debug("socket.frame.ignored", "type", env.Type)
	}
}
