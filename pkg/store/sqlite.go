package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aegis-labs/govern/pkg/canonicalize"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a durable RecordStore backed by SQLite. The chain head is
// recomputed from the last row on open, so restarts continue the chain.
type SQLiteStore struct {
	db    *sql.DB
	clock func() time.Time
}

// OpenSQLite opens or creates the store at path and runs migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// Serialize writers; the chain append is a read-modify-write.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, clock: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an existing database handle (used by tests).
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, clock: time.Now}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS entries (
		entry_id      TEXT PRIMARY KEY,
		sequence      INTEGER NOT NULL UNIQUE,
		timestamp     TEXT NOT NULL,
		entry_type    TEXT NOT NULL,
		subject       TEXT NOT NULL,
		payload       BLOB NOT NULL,
		payload_hash  TEXT NOT NULL,
		previous_hash TEXT NOT NULL,
		entry_hash    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_type ON entries(entry_type);
	CREATE INDEX IF NOT EXISTS idx_entries_subject ON entries(subject);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Append(ctx context.Context, entryType EntryType, entryID, subject string, payload []byte) (*Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("append: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq uint64
	chainHead := "genesis"
	row := tx.QueryRowContext(ctx,
		"SELECT sequence, entry_hash FROM entries ORDER BY sequence DESC LIMIT 1")
	switch err := row.Scan(&seq, &chainHead); err {
	case nil, sql.ErrNoRows:
	default:
		return nil, fmt.Errorf("append: read chain head: %w", err)
	}

	entry := &Entry{
		EntryID:      entryID,
		Sequence:     seq + 1,
		Timestamp:    s.clock().UTC(),
		EntryType:    entryType,
		Subject:      subject,
		Payload:      payload,
		PayloadHash:  canonicalize.HashBytes(payload),
		PreviousHash: chainHead,
	}
	entry.EntryHash = chainHash(entry)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entries (entry_id, sequence, timestamp, entry_type, subject, payload, payload_hash, previous_hash, entry_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.EntryID, entry.Sequence, entry.Timestamp.Format(time.RFC3339Nano),
		string(entry.EntryType), entry.Subject, entry.Payload,
		entry.PayloadHash, entry.PreviousHash, entry.EntryHash,
	)
	if err != nil {
		return nil, fmt.Errorf("append: insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("append: commit: %w", err)
	}
	return entry, nil
}

func (s *SQLiteStore) Get(ctx context.Context, entryID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entry_id, sequence, timestamp, entry_type, subject, payload, payload_hash, previous_hash, entry_hash
		FROM entries WHERE entry_id = ?`, entryID)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrEntryNotFound
	}
	return entry, err
}

func (s *SQLiteStore) Query(ctx context.Context, filter QueryFilter) ([]*Entry, error) {
	query := `
		SELECT entry_id, sequence, timestamp, entry_type, subject, payload, payload_hash, previous_hash, entry_hash
		FROM entries WHERE 1=1`
	args := []interface{}{}
	if filter.EntryType != "" {
		query += " AND entry_type = ?"
		args = append(args, string(filter.EntryType))
	}
	if filter.Subject != "" {
		query += " AND subject = ?"
		args = append(args, filter.Subject)
	}
	if filter.StartSeq > 0 {
		query += " AND sequence >= ?"
		args = append(args, filter.StartSeq)
	}
	query += " ORDER BY sequence ASC"
	if filter.MaxResults > 0 {
		query += " LIMIT ?"
		args = append(args, filter.MaxResults)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) VerifyChain(ctx context.Context) error {
	entries, err := s.Query(ctx, QueryFilter{})
	if err != nil {
		return err
	}
	return verifyChain(entries)
}

func (s *SQLiteStore) Size(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e  Entry
		ts string
		et string
	)
	if err := row.Scan(&e.EntryID, &e.Sequence, &ts, &et, &e.Subject,
		&e.Payload, &e.PayloadHash, &e.PreviousHash, &e.EntryHash); err != nil {
		return nil, err
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("scan entry: bad timestamp %q: %w", ts, err)
	}
	e.Timestamp = parsed
	e.EntryType = EntryType(et)
	return &e, nil
}
