// Command transport-sim is a dev stand-in for a socket transport server.
//
// It speaks the courier.transport.v1 envelope protocol: pairing challenge,
// session open, send acks, periodic inbound messages, and scripted
// disconnects, so the gateway can be exercised end to end without a real
// upstream.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

const subprotocol = "courier.transport.v1"

type envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var msgSeq atomic.Int64

func main() {
	var (
		addr      = flag.String("addr", "127.0.0.1:9090", "listen address")
		pairDelay = flag.Duration("pair-delay", 500*time.Millisecond, "delay before the pairing challenge")
		openDelay = flag.Duration("open-delay", 1*time.Second, "delay between challenge and session open")
		emitEvery = flag.Duration("emit-every", 0, "emit a synthetic inbound message at this interval (0 disables)")
		dropAfter = flag.Duration("drop-after", 0, "close the connection after this duration (0 disables)")
		logout    = flag.Bool("logout", false, "announce logged_out instead of a recoverable drop")
	)
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("/transport", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:       []string{subprotocol},
			InsecureSkipVerify: true,
		})
		if err != nil {
			log.Printf("accept: %v", err)
			return
		}
		if conn.Subprotocol() != subprotocol {
			_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
			return
		}
		conn.SetReadLimit(96 << 20)

		go serve(conn, *pairDelay, *openDelay, *emitEvery, *dropAfter, *logout)
	})

	log.Printf("transport-sim listening on ws://%s/transport", *addr)
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Fatal(srv.ListenAndServe())
}

func serve(conn *websocket.Conn, pairDelay, openDelay, emitEvery, dropAfter time.Duration, logout bool) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	selfID := "sim:" + randomHex(4)

	time.Sleep(pairDelay)
	write(ctx, conn, "pair.challenge", map[string]string{"code": randomHex(16)})

	time.Sleep(openDelay)
	write(ctx, conn, "session.open", map[string]string{"self_id": selfID})
	log.Printf("session open: %s", selfID)

	if emitEvery > 0 {
		go emitInbound(ctx, conn, emitEvery)
	}
	if dropAfter > 0 {
		go dropLater(ctx, conn, dropAfter, logout)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			log.Printf("read: %v", err)
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("malformed frame: %v", err)
			continue
		}

		switch env.Type {
		case "send.text", "send.media", "send.interactive":
			msgID := fmt.Sprintf("sim-msg-%d", msgSeq.Add(1))
			write(ctx, conn, "send.ack", map[string]string{"ref": env.ID, "msg_id": msgID})
			log.Printf("acked %s as %s", env.Type, msgID)
		case "logout":
			log.Printf("logout received")
			return
		default:
			log.Printf("ignored frame type %q", env.Type)
		}
	}
}

func emitInbound(ctx context.Context, conn *websocket.Conn, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n := msgSeq.Add(1)
			write(ctx, conn, "message", map[string]any{
				"id":   fmt.Sprintf("sim-in-%d", n),
				"from": "sim-peer",
				"type": "text",
				"text": fmt.Sprintf("synthetic inbound %d", n),
				"ts":   time.Now().UnixMilli(),
			})
		}
	}
}

func dropLater(ctx context.Context, conn *websocket.Conn, after time.Duration, logout bool) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(after):
	}

	reason := "restart"
	if logout {
		reason = "logged_out"
	}
	write(ctx, conn, "disconnect", map[string]string{"reason": reason})
	_ = conn.Close(websocket.StatusGoingAway, reason)
	log.Printf("dropped connection: %s", reason)
}

func write(ctx context.Context, conn *websocket.Conn, typ string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("encode %s: %v", typ, err)
		return
	}
	env := envelope{V: 1, Type: typ, TS: time.Now().UTC(), Payload: body}
	b, err := json.Marshal(env)
	if err != nil {
		log.Printf("encode envelope: %v", err)
		return
	}

	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, b); err != nil {
		log.Printf("write %s: %v", typ, err)
	}
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
