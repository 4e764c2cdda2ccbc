package gateway

import (
	"context"
	"time"
)

// Record is one persisted session's metadata.
//
// The store is the source of truth only during startup restoration; once a
// live Session exists it is authoritative, and store writes are side effects
// of in-memory mutation, never the reverse.
type Record struct {
	SessionID     string          `json:"session_id"`
	WebhookURL    string          `json:"webhook_url,omitempty"`
	WebhookSecret string          `json:"-"`
	Transport     TransportConfig `json:"transport"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// RecordPatch is a partial metadata update; nil fields are left unchanged.
type RecordPatch struct {
	WebhookURL    *string
	WebhookSecret *string
	Transport     *TransportConfig
}

// MetadataStore persists session metadata.
//
// Save merges the patch into the existing record (creating it when absent)
// and returns the merged result. Read returns ErrNotFound for unknown ids.
type MetadataStore interface {
	Save(ctx context.Context, id string, patch RecordPatch) (Record, error)
	Read(ctx context.Context, id string) (Record, error)
	ListAll(ctx context.Context) ([]string, error)
	Remove(ctx context.Context, id string) error
	Close() error
}

// String returns a pointer to s, for RecordPatch literals.
func String(s string) *string { return &s }
