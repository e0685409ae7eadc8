package store_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	"github.com/aegis-labs/govern/pkg/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func newSQLite(t *testing.T) *store.SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s, err := store.NewSQLiteStore(db)
	require.NoError(t, err)
	return s
}

func stores(t *testing.T) map[string]store.RecordStore {
	return map[string]store.RecordStore{
		"memory": store.NewMemoryStore(),
		"sqlite": newSQLite(t),
	}
}

func TestAppendAndGet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id := uuid.New().String()

			entry, err := s.Append(ctx, store.EntryTypeAuditRecord, id, "agent:devops-01", []byte(`{"k":"v"}`))
			require.NoError(t, err)
			assert.Equal(t, uint64(1), entry.Sequence)
			assert.Equal(t, "genesis", entry.PreviousHash)
			assert.NotEmpty(t, entry.EntryHash)

			got, err := s.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, entry.EntryHash, got.EntryHash)

			_, err = s.Get(ctx, "missing")
			assert.ErrorIs(t, err, store.ErrEntryNotFound)
		})
	}
}

func TestChainLinksAndVerifies(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var prev string
			for i := 0; i < 5; i++ {
				entry, err := s.Append(ctx, store.EntryTypeSiemEvent, uuid.New().String(), "agent:a", []byte(fmt.Sprintf(`{"n":%d}`, i)))
				require.NoError(t, err)
				if i > 0 {
					assert.Equal(t, prev, entry.PreviousHash)
				}
				prev = entry.EntryHash
			}
			assert.NoError(t, s.VerifyChain(ctx))

			n, err := s.Size(ctx)
			require.NoError(t, err)
			assert.Equal(t, 5, n)
		})
	}
}

func TestQueryFilters(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				_, err := s.Append(ctx, store.EntryTypeAuditRecord, uuid.New().String(), "agent:a", []byte(`{}`))
				require.NoError(t, err)
			}
			_, err := s.Append(ctx, store.EntryTypeSiemEvent, uuid.New().String(), "agent:b", []byte(`{}`))
			require.NoError(t, err)

			audits, err := s.Query(ctx, store.QueryFilter{EntryType: store.EntryTypeAuditRecord})
			require.NoError(t, err)
			assert.Len(t, audits, 3)

			byAgent, err := s.Query(ctx, store.QueryFilter{Subject: "agent:b"})
			require.NoError(t, err)
			assert.Len(t, byAgent, 1)

			limited, err := s.Query(ctx, store.QueryFilter{MaxResults: 2})
			require.NoError(t, err)
			assert.Len(t, limited, 2)
		})
	}
}

func TestConcurrentAppendersKeepChainIntact(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			// Each writer generates its own unique id; no other coordination.
			_, err := s.Append(ctx, store.EntryTypeAuditRecord, uuid.New().String(),
				fmt.Sprintf("agent:%d", n%4), []byte(`{"concurrent":true}`))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	n, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, n)
	assert.NoError(t, s.VerifyChain(ctx))
}

func TestCancelledContextWritesNothing(t *testing.T) {
	s := store.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Append(ctx, store.EntryTypeAuditRecord, uuid.New().String(), "agent:a", []byte(`{}`))
	assert.Error(t, err)

	n, err := s.Size(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDuplicateEntryIDRejected(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id := uuid.New().String()
			_, err := s.Append(ctx, store.EntryTypeAuditRecord, id, "agent:a", []byte(`{}`))
			require.NoError(t, err)

			_, err = s.Append(ctx, store.EntryTypeAuditRecord, id, "agent:a", []byte(`{}`))
			assert.Error(t, err)
		})
	}
}

func TestSQLiteChainSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/audit.db"

	s, err := store.OpenSQLite(path)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := s.Append(ctx, store.EntryTypeAuditRecord, uuid.New().String(), "agent:a", []byte(`{"n":1}`))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := store.OpenSQLite(path)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	second, err := s2.Append(ctx, store.EntryTypeAuditRecord, uuid.New().String(), "agent:a", []byte(`{"n":2}`))
	require.NoError(t, err)
	assert.Equal(t, first.EntryHash, second.PreviousHash)
	assert.NoError(t, s2.VerifyChain(ctx))
}
