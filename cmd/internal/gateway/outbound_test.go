package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func textContent(s string) Content {
	return Content{Kind: KindText, Text: s}
}

func openTestSession(t *testing.T) (*Session, *fakeProvider) {
	t.Helper()
	reg, factory, _, _ := newTestRegistry(t)
	s, err := reg.Start(context.Background(), "s1", "", socketConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	p := factory.provider("s1")
	p.open("self-1")
	waitFor(t, time.Second, "open", func() bool { return s.Status() == StatusOpen })
	return s, p
}

func TestSend_InlineWhenOpenAndIdle(t *testing.T) {
	t.Parallel()

	s, p := openTestSession(t)

	res, err := s.Send(context.Background(), "peer-1", textContent("hello"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Queued {
		t.Fatalf("idle open session must deliver inline")
	}
	if res.MessageID == "" {
		t.Fatalf("inline delivery must return the message id")
	}
	if p.sendCount() != 1 {
		t.Fatalf("provider sends: %d", p.sendCount())
	}
}

func TestSend_QueuesBeforeOpenThenDrainsFIFO(t *testing.T) {
	t.Parallel()

	reg, factory, _, _ := newTestRegistry(t)
	s, err := reg.Start(context.Background(), "s1", "", socketConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	p := factory.provider("s1")

	for i := 1; i <= 3; i++ {
		res, err := s.Send(context.Background(), fmt.Sprintf("peer-%d", i), textContent("hi"))
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		if !res.Queued {
			t.Fatalf("send %d must queue while not open", i)
		}
	}
	if n := s.Snapshot().OutboundQueued; n != 3 {
		t.Fatalf("queued=%d want 3", n)
	}

	p.open("self-1")

	waitFor(t, 2*time.Second, "queue drained", func() bool {
		return p.sendCount() == 3 && s.Snapshot().OutboundQueued == 0
	})

	got := p.sentTargets()
	want := []string{"peer-1", "peer-2", "peer-3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order broken: got %v want %v", got, want)
		}
	}
}

func TestSend_RejectsInvalidContent(t *testing.T) {
	t.Parallel()

	s, _ := openTestSession(t)

	var cfgErr *ConfigError
	if _, err := s.Send(context.Background(), "", textContent("x")); !errors.As(err, &cfgErr) {
		t.Fatalf("missing target: got %v", err)
	}
	if _, err := s.Send(context.Background(), "peer", Content{Kind: KindText}); !errors.As(err, &cfgErr) {
		t.Fatalf("empty text: got %v", err)
	}
	if _, err := s.Send(context.Background(), "peer", Content{Kind: KindImage}); !errors.As(err, &cfgErr) {
		t.Fatalf("media without body: got %v", err)
	}
	if _, err := s.Send(context.Background(), "peer", Content{Kind: "sticker"}); !errors.As(err, &cfgErr) {
		t.Fatalf("unknown kind: got %v", err)
	}
}

func TestSend_FailureKeepsHeadAndHaltsDrain(t *testing.T) {
	t.Parallel()

	reg, factory, _, _ := newTestRegistry(t)
	s, err := reg.Start(context.Background(), "s1", "", socketConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	p := factory.provider("s1")

	for i := 1; i <= 2; i++ {
		if _, err := s.Send(context.Background(), fmt.Sprintf("peer-%d", i), textContent("hi")); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	p.setSendErr(fmt.Errorf("%w: upstream wobble", ErrTransientTransport))
	p.open("self-1")
	waitFor(t, time.Second, "open", func() bool { return s.Status() == StatusOpen })

	// The drain hits the failing head and halts; both jobs stay queued in
	// order.
	time.Sleep(30 * time.Millisecond)
	if n := s.Snapshot().OutboundQueued; n != 2 {
		t.Fatalf("queued=%d want 2 after halt", n)
	}
	if p.sendCount() != 0 {
		t.Fatalf("no send should have succeeded")
	}

	// Recovery: the next open retriggers the drain from the same head.
	p.setSendErr(nil)
	p.open("self-1")
	waitFor(t, 2*time.Second, "drain after recovery", func() bool {
		return p.sendCount() == 2
	})
	got := p.sentTargets()
	if got[0] != "peer-1" || got[1] != "peer-2" {
		t.Fatalf("order broken after recovery: %v", got)
	}
}

func TestSend_QueuesWhileDrainBusy(t *testing.T) {
	t.Parallel()

	s, p := openTestSession(t)

	// Saturate the pacer so the second send finds the first still in flight
	// or the queue non-empty, forcing the queued path.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			_, _ = s.Send(context.Background(), "peer-a", textContent("x"))
		}
	}()
	<-done

	waitFor(t, 2*time.Second, "all sends delivered", func() bool {
		return p.sendCount() == 3 && s.Snapshot().OutboundQueued == 0
	})
}

func TestSend_ClosedSession(t *testing.T) {
	t.Parallel()

	reg, factory, _, _ := newTestRegistry(t)
	ctx := context.Background()
	s, err := reg.Start(ctx, "s1", "", socketConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	factory.provider("s1").open("self-1")
	waitFor(t, time.Second, "open", func() bool { return s.Status() == StatusOpen })

	if _, err := reg.Delete(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Send(ctx, "peer", textContent("late")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("send on closed session: got %v", err)
	}
}
