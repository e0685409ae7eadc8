// Package store implements the append-only durable store for audit records
// and SIEM events, with content addressing and hash chaining so a written
// record can never be silently altered.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrEntryNotFound = errors.New("entry not found")
	ErrChainBroken   = errors.New("hash chain is broken")
)

// EntryType categorizes stored entries.
type EntryType string

const (
	EntryTypeAuditRecord EntryType = "audit_record"
	EntryTypeSiemEvent   EntryType = "siem_event"
)

// Entry is a single immutable entry. Payload holds the serialized record;
// EntryID is the caller-supplied identifier (the audit_id for audit records
// and SIEM events, so correlation survives the storage layer).
type Entry struct {
	EntryID      string    `json:"entry_id"`
	Sequence     uint64    `json:"sequence"`
	Timestamp    time.Time `json:"timestamp"`
	EntryType    EntryType `json:"entry_type"`
	Subject      string    `json:"subject"`
	Payload      []byte    `json:"payload"`
	PayloadHash  string    `json:"payload_hash"`
	PreviousHash string    `json:"previous_hash"`
	EntryHash    string    `json:"entry_hash"`
}

// QueryFilter selects entries.
type QueryFilter struct {
	EntryType  EntryType
	Subject    string
	StartSeq   uint64
	MaxResults int
}

// RecordStore is the pluggable append-only store contract. Concurrent
// appenders are expected and safe: every caller supplies its own unique
// entry id, so no coordination is needed beyond not reusing identifiers.
type RecordStore interface {
	// Append durably writes one entry and returns it with its assigned
	// sequence and chain hashes. The write must be complete before Append
	// returns; a cancelled context means nothing was written.
	Append(ctx context.Context, entryType EntryType, entryID, subject string, payload []byte) (*Entry, error)

	// Get retrieves an entry by its id.
	Get(ctx context.Context, entryID string) (*Entry, error)

	// Query returns entries matching the filter in sequence order.
	Query(ctx context.Context, filter QueryFilter) ([]*Entry, error)

	// VerifyChain re-walks the hash chain and reports the first break.
	VerifyChain(ctx context.Context) error

	// Size returns the number of entries.
	Size(ctx context.Context) (int, error)
}
