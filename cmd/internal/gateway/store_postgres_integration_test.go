package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when COURIER_DATABASE_URL is set.
// This keeps local "go test ./..." fast and deterministic without Postgres.

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("COURIER_DATABASE_URL")
	if dsn == "" {
		t.Skip("COURIER_DATABASE_URL not set; skipping Postgres integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	schema := fmt.Sprintf("courier_it_%d", rand.Uint64()%1_000_000)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA %q`, schema)); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE %q.sessions (
			session_id     text PRIMARY KEY,
			webhook_url    text NOT NULL DEFAULT '',
			webhook_secret text NOT NULL DEFAULT '',
			transport      jsonb NOT NULL DEFAULT '{}'::jsonb,
			created_at     timestamptz NOT NULL,
			updated_at     timestamptz NOT NULL
		)`, schema)); err != nil {
		t.Fatalf("create table: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, fmt.Sprintf(`DROP SCHEMA %q CASCADE`, schema))
	})
	return schema
}

func TestPostgresStore_SaveReadRoundtrip(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()
	schema := mustCreateTestSchema(t, pool)

	store, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	tc := TransportConfig{SocketAddress: "ws://up.example/transport", DeviceName: "dev-1"}
	rec, err := store.Save(ctx, "it-s1", RecordPatch{
		WebhookURL: String("https://hook.example/in"),
		Transport:  &tc,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if rec.WebhookURL != "https://hook.example/in" {
		t.Fatalf("saved record: %+v", rec)
	}

	got, err := store.Read(ctx, "it-s1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Transport.SocketAddress != tc.SocketAddress || got.Transport.DeviceName != tc.DeviceName {
		t.Fatalf("transport roundtrip: %+v", got.Transport)
	}
	if got.WebhookURL != rec.WebhookURL {
		t.Fatalf("webhook roundtrip: %q", got.WebhookURL)
	}
}

func TestPostgresStore_PartialPatchMerges(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()
	schema := mustCreateTestSchema(t, pool)

	store, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	tc := TransportConfig{SocketAddress: "ws://a/transport", DeviceName: "dev-1"}
	if _, err := store.Save(ctx, "it-s2", RecordPatch{
		WebhookURL: String("https://h/1"),
		Transport:  &tc,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec, err := store.Save(ctx, "it-s2", RecordPatch{
		WebhookSecret: String("sec"),
		Transport:     &TransportConfig{SocketAddress: "ws://b/transport"},
	})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if rec.WebhookURL != "https://h/1" {
		t.Fatalf("webhook lost: %q", rec.WebhookURL)
	}
	if rec.WebhookSecret != "sec" {
		t.Fatalf("secret not applied")
	}
	if rec.Transport.SocketAddress != "ws://b/transport" || rec.Transport.DeviceName != "dev-1" {
		t.Fatalf("transport merge: %+v", rec.Transport)
	}
}

func TestPostgresStore_ListAndRemove(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()
	schema := mustCreateTestSchema(t, pool)

	store, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	for _, id := range []string{"it-a", "it-b"} {
		if _, err := store.Save(ctx, id, RecordPatch{}); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	ids, err := store.ListAll(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ids=%v", ids)
	}

	if err := store.Remove(ctx, "it-a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := store.Remove(ctx, "it-a"); err != nil {
		t.Fatalf("removing absent id: %v", err)
	}
	if _, err := store.Read(ctx, "it-a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("removed id still readable: %v", err)
	}
}
