package gateway

import (
	"context"
	"fmt"
	"time"
)

// SendResult reports how a send request was handled: delivered inline with
// the provider's message id, or accepted into the queue.
type SendResult struct {
	Queued    bool   `json:"queued"`
	MessageID string `json:"message_id,omitempty"`
}

// Send submits content for delivery to target. The job is delivered inline
// when the session is open with an idle drain and an empty queue; any other
// state enqueues it in FIFO order behind whatever is already pending.
func (s *Session) Send(ctx context.Context, target string, c Content) (SendResult, error) {
	if target == "" {
		return SendResult{}, &ConfigError{Reason: "missing target"}
	}
	if err := c.Validate(); err != nil {
		return SendResult{}, err
	}

	job := OutboundJob{Target: target, Content: c, EnqueuedAt: time.Now().UTC()}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return SendResult{}, ErrNotFound
	}
	if s.status != StatusOpen || s.outboundDraining || len(s.outbound) > 0 {
		s.outbound = append(s.outbound, job)
		open := s.status == StatusOpen
		s.mu.Unlock()

		s.metrics.queueDelta("outbound", 1)
		s.log.Debug("outbound.queued", "target", target, "kind", c.Kind)
		if open {
			s.drainOutbound()
		}
		return SendResult{Queued: true}, nil
	}
	// Inline path: claim the single-flight guard so a drain started by a
	// concurrent event cannot interleave with this send.
	s.outboundDraining = true
	s.mu.Unlock()

	defer s.releaseOutboundInline()

	if err := s.pacer.Wait(ctx); err != nil {
		return SendResult{}, fmt.Errorf("%w: %v", ErrTransientTransport, err)
	}

	id, err := s.deliverJob(ctx, job)
	if err != nil {
		s.metrics.sendResult(c.Kind, "failed")
		return SendResult{}, err
	}
	s.metrics.sendResult(c.Kind, "delivered")
	s.log.Debug("outbound.sent", "target", target, "kind", c.Kind, "msg_id", id)
	return SendResult{MessageID: id}, nil
}

// releaseOutboundInline drops the single-flight guard after an inline send
// and restarts the drain if jobs piled up while it was held.
func (s *Session) releaseOutboundInline() {
	s.mu.Lock()
	s.outboundDraining = false
	pending := !s.closed && s.status == StatusOpen && len(s.outbound) > 0
	s.mu.Unlock()

	if pending {
		s.drainOutbound()
	}
}

// drainOutbound starts the outbound drain loop unless one is already
// running or the session is not open.
func (s *Session) drainOutbound() {
	s.mu.Lock()
	if s.closed || s.outboundDraining || s.status != StatusOpen || len(s.outbound) == 0 {
		s.mu.Unlock()
		return
	}
	s.outboundDraining = true
	s.mu.Unlock()

	go s.outboundLoop()
}

// outboundLoop pops and delivers jobs head-first. A failed job returns to
// the front of the queue and the loop halts until the next trigger, so
// ordering survives transport failures at the cost of head-of-line blocking.
func (s *Session) outboundLoop() {
	for {
		s.mu.Lock()
		if s.closed || s.status != StatusOpen || len(s.outbound) == 0 {
			s.outboundDraining = false
			s.mu.Unlock()
			return
		}
		job := s.outbound[0]
		s.outbound = s.outbound[1:]
		s.mu.Unlock()

		if err := s.pacer.Wait(s.baseCtx); err != nil {
			s.haltOutbound(job)
			return
		}

		id, err := s.deliverJob(s.baseCtx, job)
		if err != nil {
			s.metrics.sendResult(job.Content.Kind, "failed")
			s.log.Warn("outbound.drain.halt", "target", job.Target, "kind", job.Content.Kind, "err", err)
			s.haltOutbound(job)
			return
		}

		s.metrics.queueDelta("outbound", -1)
		s.metrics.sendResult(job.Content.Kind, "delivered")
		s.log.Debug("outbound.sent", "target", job.Target, "kind", job.Content.Kind, "msg_id", id)
	}
}

// haltOutbound pushes the failed job back to the front and releases the
// guard without retriggering the drain.
func (s *Session) haltOutbound(job OutboundJob) {
	s.mu.Lock()
	s.outbound = append([]OutboundJob{job}, s.outbound...)
	s.outboundDraining = false
	s.mu.Unlock()
}

func (s *Session) deliverJob(ctx context.Context, job OutboundJob) (string, error) {
	switch job.Content.Kind {
	case KindText:
		return s.provider.SendText(ctx, job.Target, job.Content.Text)
	case KindInteractive:
		return s.provider.SendInteractive(ctx, job.Target, *job.Content.Interactive)
	default:
		return s.provider.SendMedia(ctx, job.Target, job.Content.Kind, *job.Content.Media)
	}
}
