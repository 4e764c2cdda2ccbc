package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"courier/cmd/internal/gateway"
)

const restRequestTimeout = 30 * time.Second

// RestProvider is the stateless credentialed transport: every send is one
// authenticated POST. It reports itself open from Init and never
// disconnects, so the session state machine sees it as permanently open.
type RestProvider struct {
	log       *slog.Logger
	sessionID string
	baseURL   string
	token     string
	client    *http.Client

	events chan gateway.Event

	mu     sync.Mutex
	closed bool
}

// NewRestProvider builds a provider for the given REST credentials.
func NewRestProvider(log *slog.Logger, sessionID string, cfg gateway.TransportConfig) *RestProvider {
	return &RestProvider{
		log:       log.With("session_id", sessionID, "transport", gateway.KindRest),
		sessionID: sessionID,
		baseURL:   strings.TrimRight(cfg.RestBaseURL, "/"),
		token:     cfg.RestToken,
		client:    &http.Client{Timeout: restRequestTimeout},
		events:    make(chan gateway.Event, eventBuffer),
	}
}

func (p *RestProvider) Kind() gateway.ProviderKind { return gateway.KindRest }

func (p *RestProvider) Events() <-chan gateway.Event { return p.events }

// Init emits the open event immediately; there is no handshake to run.
func (p *RestProvider) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("%w: provider logged out", gateway.ErrPermanentTransport)
	}
	p.events <- gateway.Event{Open: &gateway.OpenEvent{SelfID: "rest:" + p.sessionID}}
	return nil
}

type restSendRequest struct {
	Target   string               `json:"target"`
	Type     string               `json:"type"`
	Text     string               `json:"text,omitempty"`
	Data     []byte               `json:"data,omitempty"`
	URL      string               `json:"url,omitempty"`
	Mimetype string               `json:"mimetype,omitempty"`
	FileName string               `json:"file_name,omitempty"`
	Caption  string               `json:"caption,omitempty"`
	Prompt   *gateway.Interactive `json:"prompt,omitempty"`
}

type restSendResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

func (p *RestProvider) SendText(ctx context.Context, target, text string) (string, error) {
	return p.post(ctx, restSendRequest{Target: target, Type: string(gateway.KindText), Text: text})
}

func (p *RestProvider) SendMedia(ctx context.Context, target string, kind gateway.ContentKind, m gateway.Media) (string, error) {
	return p.post(ctx, restSendRequest{
		Target:   target,
		Type:     string(kind),
		Data:     m.Data,
		URL:      m.URL,
		Mimetype: m.Mimetype,
		FileName: m.FileName,
		Caption:  m.Caption,
	})
}

func (p *RestProvider) SendInteractive(ctx context.Context, target string, in gateway.Interactive) (string, error) {
	return p.post(ctx, restSendRequest{Target: target, Type: string(gateway.KindInteractive), Prompt: &in})
}

// Logout closes the events channel. There are no remote credentials to
// revoke; the bearer token stays valid for a later session.
func (p *RestProvider) Logout(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.events)
	return nil
}

// post maps the upstream status onto the transport error taxonomy: 401/403
// terminates the session, other 4xx is permanent, everything else transient.
func (p *RestProvider) post(ctx context.Context, body restSendRequest) (string, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", gateway.ErrTransientTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", gateway.ErrTransientTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", gateway.ErrTransientTransport, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	var out restSendResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return out.MessageID, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: upstream status %d", gateway.ErrAuthTerminated, resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "", fmt.Errorf("%w: upstream status %d: %s", gateway.ErrPermanentTransport, resp.StatusCode, out.Error)
	default:
		return "", fmt.Errorf("%w: upstream status %d: %s", gateway.ErrTransientTransport, resp.StatusCode, out.Error)
	}
}
