package gateway

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is the dev fallback when no database is configured.
// Restoration at process start is naturally a no-op with it.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewInMemoryStore constructs an empty in-memory MetadataStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]Record)}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// Save merges patch into the record for id, creating it when absent.
// Transport patches merge field-wise so partial credential updates retain
// the old values for fields not supplied.
func (s *InMemoryStore) Save(ctx context.Context, id string, patch RecordPatch) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		rec = Record{SessionID: id, CreatedAt: now}
	}

	if patch.WebhookURL != nil {
		rec.WebhookURL = *patch.WebhookURL
	}
	if patch.WebhookSecret != nil {
		rec.WebhookSecret = *patch.WebhookSecret
	}
	if patch.Transport != nil {
		rec.Transport = rec.Transport.Merge(*patch.Transport)
	}
	rec.UpdatedAt = now

	s.records[id] = rec
	return rec, nil
}

// Read returns the record for id or ErrNotFound.
func (s *InMemoryStore) Read(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// ListAll returns every known session id.
func (s *InMemoryStore) ListAll(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.records))
	for id := range s.records {
		out = append(out, id)
	}
	return out, nil
}

// Remove deletes the record for id. Removing an absent id is not an error.
func (s *InMemoryStore) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)
	return nil
}
