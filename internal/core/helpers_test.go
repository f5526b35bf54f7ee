package core

import (
	"bayplanner/internal/infra/persistence/memory"
	"bayplanner/pkg/domain"
	"context"
	"testing"
	"time"
)

var fixtureNow = day("2024-01-15")

func day(s string) time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func ptr[T any](v T) *T { return &v }

func fixtureBatch() Batch {
	return Batch{
		Projects: []Project{
			{Base: Base{ID: "p1"}, Name: "Alpha"},
			{Base: Base{ID: "p2"}, Name: "Beta"},
			{Base: Base{ID: "p3"}, Name: "Gamma"},
			{Base: Base{ID: "p4"}, Name: "Delta", Status: domain.ProjectStatusDelivered},
		},
		Bays: []Bay{
			{Base: Base{ID: "bay7"}, Name: "Bay 7", Number: 7, Team: "East", Active: true, AssemblyStaffCount: 4, ElectricalStaffCount: 1},
			{Base: Base{ID: "bay8"}, Name: "Bay 8", Number: 8, Team: "East", Active: true, AssemblyStaffCount: 4, ElectricalStaffCount: 1},
			{Base: Base{ID: "bay9"}, Name: "Bay 9", Number: 9},
		},
		ScheduleRows: []ScheduleRow{
			{Base: Base{ID: "r1"}, ProjectID: "p1", BayID: "bay7", Phase: domain.PhaseFab, Start: day("2024-01-01"), End: day("2024-01-10")},
			{Base: Base{ID: "r2"}, ProjectID: "p2", BayID: "bay7", Phase: domain.PhasePaint, Start: day("2024-01-20"), End: day("2024-01-31")},
		},
	}
}

// newFixtureService returns an in-memory service seeded with two East bays,
// an inactive bay, and Bay 7 booked Jan 1-10 and Jan 20-31.
func newFixtureService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	opts = append([]ServiceOption{WithClock(ClockFunc(func() time.Time { return fixtureNow }))}, opts...)
	svc := NewInMemoryService(nil, opts...)
	if _, _, err := svc.CreateBatch(context.Background(), fixtureBatch()); err != nil {
		t.Fatalf("seed fixture: %v", err)
	}
	return svc
}

// fixtureView returns a detached view over the fixture data for allocator tests.
func fixtureView(t *testing.T) TransactionView {
	t.Helper()
	store := memory.NewStore(nil)
	store.SetNowFunc(func() time.Time { return fixtureNow })
	b := fixtureBatch()
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		for _, bay := range b.Bays {
			if _, err := tx.CreateBay(bay); err != nil {
				return err
			}
		}
		for _, row := range b.ScheduleRows {
			if _, err := tx.CreateScheduleRow(row); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("seed view: %v", err)
	}
	return memory.NewView(store.ExportState())
}

func rowByID(t *testing.T, rows []ScheduleRow, id string) ScheduleRow {
	t.Helper()
	for _, r := range rows {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("row %s not found", id)
	return ScheduleRow{}
}
