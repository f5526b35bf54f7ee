package core

import (
	"bayplanner/internal/infra/persistence/memory"
	"bayplanner/internal/infra/persistence/sqlite"
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"
)

func closeStore(t *testing.T, store PersistentStore) {
	t.Helper()
	if c, ok := store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	}
}

func TestOpenPersistentStoreMemory(t *testing.T) {
	t.Setenv("BAYPLANNER_STORAGE_DRIVER", "memory")
	store, err := OpenPersistentStore(NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected *memory.Store, got %T", store)
	}
}

func TestOpenPersistentStoreSQLiteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "floor.db")
	t.Setenv("BAYPLANNER_STORAGE_DRIVER", "")
	t.Setenv("BAYPLANNER_SQLITE_PATH", path)
	store, err := OpenPersistentStore(NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sq, ok := store.(*sqlite.Store)
	if !ok {
		t.Fatalf("expected *sqlite.Store, got %T", store)
	}
	if sq.Path() != path {
		t.Fatalf("expected path %s, got %s", path, sq.Path())
	}

	svc := NewService(store, WithClock(ClockFunc(func() time.Time { return fixtureNow })))
	if _, _, err := svc.CreateBatch(context.Background(), fixtureBatch()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	closeStore(t, store)

	reopened, err := OpenStorage(StorageSQLite, path, NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer closeStore(t, reopened)
	if got := len(reopened.ListScheduleRows()); got != 2 {
		t.Fatalf("expected persisted rows, got %d", got)
	}
}

func TestOpenStorageUnknownDriver(t *testing.T) {
	if _, err := OpenStorage("mongo", "", nil); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
