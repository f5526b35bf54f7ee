package memory

import (
	"bayplanner/pkg/domain"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func day(s string) time.Time {
	t, ok := domain.ParseDate(s)
	if !ok {
		panic("bad date " + s)
	}
	return t
}

func seedBay(t *testing.T, store *Store, bay Bay) Bay {
	t.Helper()
	var created Bay
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		var err error
		created, err = tx.CreateBay(bay)
		return err
	}); err != nil {
		t.Fatalf("create bay: %v", err)
	}
	return created
}

func TestStoreCRUDLifecycle(t *testing.T) {
	store := NewStore(nil)
	fixed := time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)
	store.SetNowFunc(func() time.Time { return fixed })

	bay := seedBay(t, store, Bay{Name: "Bay 7", Number: 7, Active: true, AssemblyStaffCount: 2, ElectricalStaffCount: 1})
	if bay.ID == "" {
		t.Fatalf("expected generated id")
	}
	if !bay.CreatedAt.Equal(fixed) {
		t.Fatalf("expected CreatedAt from clock, got %v", bay.CreatedAt)
	}

	var row ScheduleRow
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		var err error
		row, err = tx.CreateScheduleRow(ScheduleRow{
			ProjectID: "p1",
			BayID:     bay.ID,
			Phase:     domain.PhaseProduction,
			Start:     time.Date(2025, 1, 1, 15, 30, 0, 0, time.UTC),
			End:       day("2025-01-10"),
		})
		return err
	}); err != nil {
		t.Fatalf("create row: %v", err)
	}
	if row.Status != domain.ScheduleStatusScheduled {
		t.Fatalf("expected default status scheduled, got %s", row.Status)
	}
	if !row.Start.Equal(day("2025-01-01")) {
		t.Fatalf("expected start truncated to day, got %v", row.Start)
	}

	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.UpdateScheduleRow(row.ID, func(r *ScheduleRow) error {
			r.End = day("2025-01-12")
			return nil
		})
		return err
	}); err != nil {
		t.Fatalf("update row: %v", err)
	}
	got, ok := store.GetScheduleRow(row.ID)
	if !ok || !got.End.Equal(day("2025-01-12")) {
		t.Fatalf("expected updated end, got %+v", got)
	}

	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		return tx.DeleteScheduleRow(row.ID)
	}); err != nil {
		t.Fatalf("delete row: %v", err)
	}
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		return tx.DeleteBay(bay.ID)
	}); err != nil {
		t.Fatalf("delete bay: %v", err)
	}
	if len(store.ListBays()) != 0 || len(store.ListScheduleRows()) != 0 {
		t.Fatalf("expected empty store")
	}
}

func TestStoreRejectsInvalidInterval(t *testing.T) {
	store := NewStore(nil)
	bay := seedBay(t, store, Bay{Name: "B1", Number: 1, Active: true})
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateScheduleRow(ScheduleRow{ProjectID: "p", BayID: bay.ID, Phase: domain.PhaseFab, Start: day("2025-02-10"), End: day("2025-02-01")})
		return err
	})
	if !errors.Is(err, domain.ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
}

func TestStoreCreateRowRequiresKnownBay(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateScheduleRow(ScheduleRow{ProjectID: "p", BayID: "missing", Phase: domain.PhaseFab, Start: day("2025-02-01"), End: day("2025-02-02")})
		return err
	})
	var nf domain.NotFoundError
	if !errors.As(err, &nf) || nf.Entity != domain.EntityBay {
		t.Fatalf("expected bay NotFoundError, got %v", err)
	}
}

func TestStoreDeleteBayInUse(t *testing.T) {
	store := NewStore(nil)
	bay := seedBay(t, store, Bay{Name: "B1", Number: 1, Active: true})
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateScheduleRow(ScheduleRow{ProjectID: "p", BayID: bay.ID, Phase: domain.PhaseFab, Start: day("2025-02-01"), End: day("2025-02-02")})
		return err
	}); err != nil {
		t.Fatalf("seed row: %v", err)
	}
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		return tx.DeleteBay(bay.ID)
	})
	if !errors.Is(err, domain.ErrBayInUse) {
		t.Fatalf("expected ErrBayInUse, got %v", err)
	}
	if _, ok := store.GetBay(bay.ID); !ok {
		t.Fatalf("bay must survive failed delete")
	}
}

func TestStoreRollsBackOnError(t *testing.T) {
	store := NewStore(nil)
	sentinel := errors.New("boom")
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		if _, err := tx.CreateBay(Bay{Name: "B1", Number: 1}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	if len(store.ListBays()) != 0 {
		t.Fatalf("expected rollback to discard bay")
	}
}

type blockAllRule struct{}

func (blockAllRule) Name() string { return "block_all" }

func (blockAllRule) Evaluate(_ context.Context, _ domain.RuleView, changes []Change) (Result, error) {
	if len(changes) == 0 {
		return Result{}, nil
	}
	return Result{Violations: []domain.Violation{{Rule: "block_all", Severity: domain.SeverityBlock, Message: "nope"}}}, nil
}

func TestStoreRulesBlockCommit(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(blockAllRule{})
	store := NewStore(engine)
	res, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateBay(Bay{Name: "B1", Number: 1})
		return err
	})
	var rv domain.RuleViolationError
	if !errors.As(err, &rv) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
	if !res.HasBlocking() || !strings.Contains(err.Error(), "nope") {
		t.Fatalf("expected blocking result, got %+v", res)
	}
	if len(store.ListBays()) != 0 {
		t.Fatalf("blocked transaction must not commit")
	}
}

func TestStoreChainValidation(t *testing.T) {
	store := NewStore(nil)
	bay := seedBay(t, store, Bay{Name: "B1", Number: 1, Active: true})
	missing := "ghost"
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateScheduleRow(ScheduleRow{ProjectID: "p", BayID: bay.ID, Phase: domain.PhaseFab, Start: day("2025-02-01"), End: day("2025-02-02"), ChainedAfterID: &missing})
		return err
	})
	var nf domain.NotFoundError
	if !errors.As(err, &nf) || nf.Entity != domain.EntityScheduleRow {
		t.Fatalf("expected predecessor NotFoundError, got %v", err)
	}

	_, err = store.RunInTransaction(context.Background(), func(tx Transaction) error {
		first, err := tx.CreateScheduleRow(ScheduleRow{ProjectID: "p", BayID: bay.ID, Phase: domain.PhaseFab, Start: day("2025-02-01"), End: day("2025-02-02")})
		if err != nil {
			return err
		}
		id := first.ID
		if _, err := tx.CreateScheduleRow(ScheduleRow{ProjectID: "p", BayID: bay.ID, Phase: domain.PhasePaint, Start: day("2025-02-03"), End: day("2025-02-04"), ChainedAfterID: &id}); err != nil {
			return err
		}
		return tx.DeleteScheduleRow(first.ID)
	})
	if err == nil || !strings.Contains(err.Error(), "chained") {
		t.Fatalf("expected chained delete refusal, got %v", err)
	}
}

func TestStoreViewIsolation(t *testing.T) {
	store := NewStore(nil)
	bay := seedBay(t, store, Bay{Name: "B1", Number: 1, Active: true})
	if err := store.View(context.Background(), func(v TransactionView) error {
		got, ok := v.FindBay(bay.ID)
		if !ok {
			t.Fatalf("expected bay in view")
		}
		got.Name = "mutated"
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
	if b, _ := store.GetBay(bay.ID); b.Name != "B1" {
		t.Fatalf("view mutation leaked into store: %s", b.Name)
	}
}

func TestStoreListOrdering(t *testing.T) {
	store := NewStore(nil)
	seedBay(t, store, Bay{Base: domain.Base{ID: "b-z"}, Name: "Z", Number: 2})
	seedBay(t, store, Bay{Base: domain.Base{ID: "b-a"}, Name: "A", Number: 1})
	bays := store.ListBays()
	if len(bays) != 2 || bays[0].ID != "b-a" || bays[1].ID != "b-z" {
		t.Fatalf("unexpected ordering: %+v", bays)
	}
}

func TestStoreDuplicateExplicitID(t *testing.T) {
	store := NewStore(nil)
	seedBay(t, store, Bay{Base: domain.Base{ID: "b1"}, Name: "A", Number: 1})
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateBay(Bay{Base: domain.Base{ID: "b1"}, Name: "B", Number: 2})
		return err
	})
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestStoreRejectsNegativeStaffing(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateBay(Bay{Name: "A", Number: 1, AssemblyStaffCount: -1})
		return err
	})
	if err == nil {
		t.Fatalf("expected staffing validation error")
	}
}

func TestStoreProjects(t *testing.T) {
	store := NewStore(nil)
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		p, err := tx.CreateProject(Project{Base: domain.Base{ID: "p1"}, Name: "Alpha"})
		if err != nil {
			return err
		}
		_, err = tx.UpdateProject(p.ID, func(p *Project) error {
			p.Status = domain.ProjectStatusDelivered
			return nil
		})
		return err
	}); err != nil {
		t.Fatalf("project tx: %v", err)
	}
	p, ok := store.GetProject("p1")
	if !ok || p.Status != domain.ProjectStatusDelivered {
		t.Fatalf("unexpected project %+v", p)
	}
	if len(store.ListProjects()) != 1 {
		t.Fatalf("expected one project")
	}
}

func TestImportStateMigratesSnapshot(t *testing.T) {
	store := NewStore(nil)
	ghost := "ghost"
	store.ImportState(Snapshot{
		Bays: map[string]Bay{"b1": {Name: "B1", Number: 1, AssemblyStaffCount: -3}},
		Schedules: map[string]ScheduleRow{
			"ok":       {BayID: "b1", ProjectID: "p", Phase: domain.PhaseFab, Start: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), End: day("2025-03-02"), ChainedAfterID: &ghost},
			"orphan":   {BayID: "missing", ProjectID: "p", Phase: domain.PhaseFab, Start: day("2025-03-01"), End: day("2025-03-02")},
			"history":  {BayID: "missing", ProjectID: "p", Phase: domain.PhaseFab, Start: day("2025-02-01"), End: day("2025-02-02"), Status: domain.ScheduleStatusComplete},
			"inverted": {BayID: "b1", ProjectID: "p", Phase: domain.PhaseFab, Start: day("2025-03-05"), End: day("2025-03-02")},
		},
	})
	snap := store.ExportState()
	if snap.Projects == nil {
		t.Fatalf("expected projects bucket initialised")
	}
	if len(snap.Schedules) != 2 {
		t.Fatalf("expected orphan and inverted rows dropped, got %d", len(snap.Schedules))
	}
	if _, ok := snap.Schedules["history"]; !ok {
		t.Fatalf("completed row must survive the loss of its bay")
	}
	row := snap.Schedules["ok"]
	if row.ID != "ok" || row.Status != domain.ScheduleStatusScheduled || row.ChainedAfterID != nil {
		t.Fatalf("unexpected migrated row %+v", row)
	}
	if !row.Start.Equal(day("2025-03-01")) {
		t.Fatalf("expected truncated start, got %v", row.Start)
	}
	if snap.Bays["b1"].ID != "b1" || snap.Bays["b1"].AssemblyStaffCount != 0 {
		t.Fatalf("unexpected migrated bay %+v", snap.Bays["b1"])
	}
}

func TestExportStateClonesPointers(t *testing.T) {
	store := NewStore(nil)
	hours := 30
	seedBay(t, store, Bay{Base: domain.Base{ID: "b1"}, Name: "B1", Number: 1, HoursPerPersonPerWeek: &hours})
	snap := store.ExportState()
	*snap.Bays["b1"].HoursPerPersonPerWeek = 99
	got, _ := store.GetBay("b1")
	if *got.HoursPerPersonPerWeek != 30 {
		t.Fatalf("export leaked pointer: %d", *got.HoursPerPersonPerWeek)
	}
}

func TestNewViewWrapsSnapshot(t *testing.T) {
	view := NewView(Snapshot{Bays: map[string]Bay{"b1": {Base: domain.Base{ID: "b1"}, Name: "B1"}}})
	if _, ok := view.FindBay("b1"); !ok {
		t.Fatalf("expected bay in view")
	}
	if len(view.ListScheduleRows()) != 0 {
		t.Fatalf("expected no rows")
	}
}

func TestCommitHookGatesCommit(t *testing.T) {
	store := NewStore(nil)
	var seen []int
	fail := true
	store.SetCommitHook(func(_ context.Context, snapshot Snapshot) error {
		seen = append(seen, len(snapshot.Bays))
		if fail {
			return errors.New("disk full")
		}
		return nil
	})
	create := func(tx Transaction) error {
		_, err := tx.CreateBay(Bay{Base: domain.Base{ID: "b1"}, Name: "B1", Number: 1})
		return err
	}
	if _, err := store.RunInTransaction(context.Background(), create); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected hook error, got %v", err)
	}
	if _, ok := store.GetBay("b1"); ok {
		t.Fatalf("hook failure must leave state unchanged")
	}
	fail = false
	if _, err := store.RunInTransaction(context.Background(), create); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if _, ok := store.GetBay("b1"); !ok {
		t.Fatalf("expected bay after successful hook")
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 1 {
		t.Fatalf("hook must see the pending state, got %v", seen)
	}
}
