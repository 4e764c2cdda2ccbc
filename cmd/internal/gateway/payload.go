package gateway

import (
	"encoding/json"
	"fmt"
	"time"
)

// WebhookMessage is the canonical message body inside a webhook payload.
// Media is embedded base64-encoded when the inbound event carried any.
type WebhookMessage struct {
	ID         string `json:"id"`
	From       string `json:"from"`
	SenderName string `json:"senderName,omitempty"`
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Media      string `json:"media,omitempty"`
	Mimetype   string `json:"mimetype,omitempty"`
	FileName   string `json:"fileName,omitempty"`
}

// WebhookPayload is the canonical body POSTed to a session's webhook.
type WebhookPayload struct {
	SessionID string         `json:"sessionId"`
	Timestamp time.Time      `json:"timestamp"`
	Message   WebhookMessage `json:"message"`
}

// rawInbound is the transport-native inbound event shape. Both provider
// variants emit this JSON form; anything else fails normalization and is
// classified transient.
type rawInbound struct {
	ID         string           `json:"id"`
	From       string           `json:"from"`
	SenderName string           `json:"sender_name,omitempty"`
	Type       string           `json:"type"`
	Text       string           `json:"text,omitempty"`
	Caption    string           `json:"caption,omitempty"`
	TS         int64            `json:"ts,omitempty"` // unix millis
	FromSelf   bool             `json:"from_self,omitempty"`
	Media      *rawInboundMedia `json:"media,omitempty"`
}

type rawInboundMedia struct {
	URL      string `json:"url"`
	Mimetype string `json:"mimetype,omitempty"`
	FileName string `json:"file_name,omitempty"`
}

// SummarizeInbound pre-parses a raw inbound event just enough to decide
// whether it deserves a delivery job: self-originated and content-free
// events are never forwarded.
func SummarizeInbound(raw json.RawMessage) (fromSelf, hasContent bool) {
	var in rawInbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return false, false
	}
	return in.FromSelf, in.Text != "" || in.Caption != "" || in.Media != nil
}

// normalizeInbound converts a raw inbound event into the canonical webhook
// payload. Media is NOT fetched here; the dispatcher fetches it under the
// same retry budget as the delivery itself.
func normalizeInbound(sessionID string, raw json.RawMessage) (WebhookPayload, *rawInboundMedia, error) {
	var in rawInbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return WebhookPayload{}, nil, fmt.Errorf("decode inbound event: %w", err)
	}
	if in.ID == "" || in.From == "" {
		return WebhookPayload{}, nil, fmt.Errorf("inbound event missing id/from")
	}

	ts := time.Now().UTC()
	if in.TS > 0 {
		ts = time.UnixMilli(in.TS).UTC()
	}

	typ := in.Type
	if typ == "" {
		typ = "text"
	}

	text := in.Text
	if text == "" {
		text = in.Caption
	}

	msg := WebhookMessage{
		ID:         in.ID,
		From:       in.From,
		SenderName: in.SenderName,
		Type:       typ,
	}
	msg.Text = text

	if in.Media != nil {
		msg.Mimetype = in.Media.Mimetype
		msg.FileName = in.Media.FileName
	}

	return WebhookPayload{
		SessionID: sessionID,
		Timestamp: ts,
		Message:   msg,
	}, in.Media, nil
}
