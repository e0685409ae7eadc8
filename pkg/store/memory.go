package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aegis-labs/govern/pkg/canonicalize"
)

// MemoryStore is an in-memory RecordStore for development and tests.
// Entries are hash-chained exactly like the durable backends.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   []*Entry
	entryByID map[string]*Entry
	sequence  uint64
	chainHead string
	clock     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entryByID: make(map[string]*Entry),
		chainHead: "genesis",
		clock:     time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) Append(ctx context.Context, entryType EntryType, entryID, subject string, payload []byte) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entryByID[entryID]; exists {
		return nil, fmt.Errorf("entry %s already written: %w", entryID, ErrChainBroken)
	}

	s.sequence++
	entry := &Entry{
		EntryID:      entryID,
		Sequence:     s.sequence,
		Timestamp:    s.clock().UTC(),
		EntryType:    entryType,
		Subject:      subject,
		Payload:      payload,
		PayloadHash:  canonicalize.HashBytes(payload),
		PreviousHash: s.chainHead,
	}
	entry.EntryHash = chainHash(entry)
	s.chainHead = entry.EntryHash

	s.entries = append(s.entries, entry)
	s.entryByID[entry.EntryID] = entry
	return entry, nil
}

func (s *MemoryStore) Get(ctx context.Context, entryID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entryByID[entryID]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return entry, nil
}

func (s *MemoryStore) Query(ctx context.Context, filter QueryFilter) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*Entry, 0)
	for _, e := range s.entries {
		if filter.EntryType != "" && e.EntryType != filter.EntryType {
			continue
		}
		if filter.Subject != "" && e.Subject != filter.Subject {
			continue
		}
		if filter.StartSeq > 0 && e.Sequence < filter.StartSeq {
			continue
		}
		results = append(results, e)
		if filter.MaxResults > 0 && len(results) >= filter.MaxResults {
			break
		}
	}
	return results, nil
}

func (s *MemoryStore) VerifyChain(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return verifyChain(s.entries)
}

func (s *MemoryStore) Size(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// chainHash computes the entry hash, binding the previous hash so the chain
// breaks if any earlier entry is altered.
func chainHash(e *Entry) string {
	material := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s",
		e.Sequence,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.EntryType,
		e.EntryID,
		e.Subject,
		e.PayloadHash,
		e.PreviousHash,
	)
	return canonicalize.HashBytes([]byte(material))
}

func verifyChain(entries []*Entry) error {
	expectedPrev := "genesis"
	for i, entry := range entries {
		if entry.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has previous_hash %s, expected %s",
				ErrChainBroken, i, entry.PreviousHash, expectedPrev)
		}
		if computed := chainHash(entry); computed != entry.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch (computed %s, stored %s)",
				ErrChainBroken, i, computed, entry.EntryHash)
		}
		if canonicalize.HashBytes(entry.Payload) != entry.PayloadHash {
			return fmt.Errorf("%w: entry %d payload hash mismatch", ErrChainBroken, i)
		}
		expectedPrev = entry.EntryHash
	}
	return nil
}
