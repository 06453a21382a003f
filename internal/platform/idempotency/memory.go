package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in a map guarded by a mutex. It backs unit
// tests and the local development server where Firestore is absent.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Record
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Record)}
}

// Reserve claims key, reclaiming expired entries and rejecting
// fingerprint mismatches, mirroring the Firestore semantics.
func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := docID(key)
	entry, ok := s.entries[id]
	if ok && entry.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}

	expired := !entry.ExpiresAt.IsZero() && !now.Before(entry.ExpiresAt)
	if !ok || expired {
		entry = Record{
			Key:         key,
			Fingerprint: fingerprint,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}
		s.entries[id] = entry
		return Reservation{State: ReservationStateNew, Record: entry}, nil
	}

	state := ReservationStatePending
	if entry.Status == StatusCompleted {
		state = ReservationStateCompleted
	}
	return Reservation{State: state, Record: entry}, nil
}

// SaveResponse records the completed response for replay.
func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := docID(key)
	entry, ok := s.entries[id]
	if ok && entry.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	if !ok {
		entry = Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}

	entry.Status = StatusCompleted
	entry.ResponseStatus = resp.Status
	entry.ResponseHeaders = storableHeaders(resp.Headers)
	entry.ResponseBody = nil
	if len(resp.Body) > 0 {
		entry.ResponseBody = append([]byte(nil), resp.Body...)
	}
	entry.UpdatedAt = now
	entry.ExpiresAt = now.Add(ttl)
	s.entries[id] = entry
	return nil
}

// Release drops the reservation unconditionally.
func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, docID(key))
	return nil
}

// CleanupExpired evicts up to limit expired entries.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.entries) {
		limit = len(s.entries)
	}

	removed := 0
	for id, entry := range s.entries {
		if entry.ExpiresAt.IsZero() || now.Before(entry.ExpiresAt) {
			continue
		}
		delete(s.entries, id)
		removed++
		if removed >= limit {
			break
		}
	}
	return removed, nil
}
