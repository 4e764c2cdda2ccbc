package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// deliveryClient is the HTTP side of the delivery dispatcher: webhook POSTs
// and media fetches, each bounded by its own deadline.
type deliveryClient struct {
	webhook *http.Client
	media   *http.Client
}

func newDeliveryClient(cfg Config) *deliveryClient {
	return &deliveryClient{
		webhook: &http.Client{Timeout: cfg.WebhookTimeout},
		media:   &http.Client{Timeout: cfg.MediaFetchTimeout},
	}
}

type deliverOutcome int

const (
	deliverOK deliverOutcome = iota
	deliverDropPermanent
	deliverRetry
)

// drainInbound starts the dispatcher loop unless one is already running.
// The single-flight guard keeps webhook deliveries strictly ordered.
func (s *Session) drainInbound() {
	s.mu.Lock()
	if s.closed || s.inboundDraining || len(s.inbound) == 0 || s.webhookURL == "" {
		s.mu.Unlock()
		return
	}
	s.inboundDraining = true
	s.mu.Unlock()

	go s.inboundLoop()
}

// inboundLoop pops delivery jobs head-first and classifies each attempt:
// success keeps draining after a short pause, a client rejection drops the
// job with an alert, anything else retries in place up to the budget.
func (s *Session) inboundLoop() {
	for {
		s.mu.Lock()
		if s.closed || len(s.inbound) == 0 || s.webhookURL == "" {
			s.inboundDraining = false
			s.mu.Unlock()
			return
		}
		job := s.inbound[0]
		s.inbound = s.inbound[1:]
		url := s.webhookURL
		secret := s.webhookSecret
		s.mu.Unlock()

		outcome, err := s.deliverWebhook(job, url, secret)
		switch outcome {
		case deliverOK:
			s.metrics.queueDelta("inbound", -1)
			s.metrics.deliveryResult("delivered")
			time.Sleep(s.cfg.PostSuccessDelay)

		case deliverDropPermanent:
			s.metrics.queueDelta("inbound", -1)
			s.metrics.deliveryResult("dropped_rejected")
			s.log.Warn("webhook.deliver.rejected", "err", err)
			s.notify.Alert(
				"courier: webhook rejected an event for session "+s.ID,
				fmt.Sprintf("the webhook at %s permanently rejected an inbound event: %v", url, err),
			)

		case deliverRetry:
			job.RetryCount++
			if job.RetryCount >= s.cfg.MaxWebhookRetries {
				s.metrics.queueDelta("inbound", -1)
				s.metrics.deliveryResult("dropped_retries")
				s.log.Error("webhook.deliver.gaveup", "attempts", job.RetryCount, "err", err)
				s.notify.Alert(
					"courier: webhook delivery gave up for session "+s.ID,
					fmt.Sprintf("an inbound event failed %d delivery attempts to %s; last error: %v", job.RetryCount, url, err),
				)
				continue
			}
			s.metrics.deliveryResult("retried")
			s.log.Warn("webhook.deliver.retry", "attempt", job.RetryCount, "err", err)
			s.requeueInbound(job)
			time.Sleep(dispatchCooldown(s.cfg))
		}
	}
}

func (s *Session) requeueInbound(job DeliveryJob) {
	s.mu.Lock()
	s.inbound = append([]DeliveryJob{job}, s.inbound...)
	s.mu.Unlock()
}

// deliverWebhook normalizes the raw transport event, pulls media into the
// payload when the event references it, and POSTs to the webhook. Media
// fetch failures count against the same retry budget as the POST itself.
func (s *Session) deliverWebhook(job DeliveryJob, url, secret string) (deliverOutcome, error) {
	payload, media, err := normalizeInbound(s.ID, job.Raw)
	if err != nil {
		return deliverRetry, fmt.Errorf("normalize inbound: %w", err)
	}

	if media != nil && media.URL != "" {
		data, mimetype, err := s.deliver.fetchMedia(s.baseCtx, media.URL)
		if err != nil {
			return deliverRetry, fmt.Errorf("fetch media: %w", err)
		}
		payload.Message.Media = base64.StdEncoding.EncodeToString(data)
		if payload.Message.Mimetype == "" {
			payload.Message.Mimetype = mimetype
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return deliverRetry, fmt.Errorf("encode payload: %w", err)
	}

	status, err := s.deliver.post(s.baseCtx, url, secret, body)
	if err != nil {
		return deliverRetry, err
	}

	switch {
	case status >= 200 && status < 300:
		return deliverOK, nil
	case status >= 400 && status < 500:
		return deliverDropPermanent, fmt.Errorf("%w: webhook status %d", ErrPermanentTransport, status)
	default:
		return deliverRetry, fmt.Errorf("%w: webhook status %d", ErrTransientTransport, status)
	}
}

func (c *deliveryClient) post(ctx context.Context, url, secret string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTransientTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("X-Courier-Signature", signBody(secret, body))
	}

	resp, err := c.webhook.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTransientTransport, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	return resp.StatusCode, nil
}

// signBody computes the webhook body signature carried in
// X-Courier-Signature: "sha256=" + hex(HMAC-SHA256(secret, body)).
func signBody(secret string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

func (c *deliveryClient) fetchMedia(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrTransientTransport, err)
	}

	resp, err := c.media.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrTransientTransport, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: media status %d", ErrTransientTransport, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read media: %v", ErrTransientTransport, err)
	}
	if len(data) > maxMediaBytes {
		return nil, "", fmt.Errorf("%w: media exceeds %d bytes", ErrTransientTransport, maxMediaBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
