package sqlite

import (
	"bayplanner/pkg/domain"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSQLiteStorePersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		bay, err := tx.CreateBay(domain.Bay{Name: "Bay 7", Number: 7, Active: true, Team: "Alpha"})
		if err != nil {
			return err
		}
		if _, err := tx.CreateProject(domain.Project{Base: domain.Base{ID: "p1"}, Name: "Unit"}); err != nil {
			return err
		}
		_, err = tx.CreateScheduleRow(domain.ScheduleRow{ProjectID: "p1", BayID: bay.ID, Phase: domain.PhaseFab, Start: start, End: start.AddDate(0, 0, 9)})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })
	if got := len(reloaded.ListBays()); got != 1 {
		t.Fatalf("expected 1 bay, got %d", got)
	}
	rows := reloaded.ListScheduleRows()
	if len(rows) != 1 || !rows[0].End.Equal(start.AddDate(0, 0, 9)) {
		t.Fatalf("unexpected rows after reload: %+v", rows)
	}
	if _, ok := reloaded.GetProject("p1"); !ok {
		t.Fatalf("expected project after reload")
	}
	if reloaded.Path() != path {
		t.Fatalf("unexpected path %s", reloaded.Path())
	}
}

func TestSQLiteStoreFailedTransactionDoesNotPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateBay(domain.Bay{Name: ""})
		return err
	})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	var count int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM state`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no persisted buckets, got %d", count)
	}
}

func TestSQLiteStoreRejectsCorruptBucket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	if _, err := store.DB().Exec(`INSERT INTO state(bucket,payload) VALUES(?,?)`, bucketBays, []byte("{not json")); err != nil {
		t.Fatalf("insert corrupt: %v", err)
	}
	_ = store.Close()
	if _, err := NewStore(path, domain.NewRulesEngine()); err == nil {
		t.Fatalf("expected decode error for corrupt bucket")
	}
}

func TestSQLiteStoreWriteFailureLeavesStateUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	ctx := context.Background()
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateBay(domain.Bay{Base: domain.Base{ID: "bay7"}, Name: "Bay 7", Number: 7, Active: true})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	start := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)
	create := func(tx domain.Transaction) error {
		_, err := tx.CreateScheduleRow(domain.ScheduleRow{Base: domain.Base{ID: "n1"}, ProjectID: "p1", BayID: "bay7", Phase: domain.PhaseFab, Start: start, End: start.AddDate(0, 0, 4)})
		return err
	}

	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := store.RunInTransaction(ctx, create); err == nil || !strings.Contains(err.Error(), "persist sqlite snapshot") {
		t.Fatalf("expected persist failure, got %v", err)
	}
	if _, ok := store.GetScheduleRow("n1"); ok {
		t.Fatalf("row must not be visible after a failed write")
	}

	reopened, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })
	if _, err := reopened.RunInTransaction(ctx, create); err != nil {
		t.Fatalf("retry after reopen: %v", err)
	}
	if _, ok := reopened.GetScheduleRow("n1"); !ok {
		t.Fatalf("expected retried row")
	}
}

func TestSQLiteStoreReloadKeepsCompletedRowsOfDeletedBay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateBay(domain.Bay{Base: domain.Base{ID: "bay7"}, Name: "Bay 7", Number: 7}); err != nil {
			return err
		}
		_, err := tx.CreateScheduleRow(domain.ScheduleRow{Base: domain.Base{ID: "r1"}, ProjectID: "p1", BayID: "bay7", Phase: domain.PhaseFab, Status: domain.ScheduleStatusComplete, Start: start, End: start.AddDate(0, 0, 9)})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteBay("bay7")
	}); err != nil {
		t.Fatalf("delete bay: %v", err)
	}
	_ = store.Close()

	reloaded, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })
	if _, ok := reloaded.GetScheduleRow("r1"); !ok {
		t.Fatalf("expected completed row to survive reload")
	}
}
