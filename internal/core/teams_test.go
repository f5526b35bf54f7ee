package core

import (
	"bayplanner/pkg/domain"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDeriveTeams(t *testing.T) {
	bays := []Bay{
		{Base: Base{ID: "w2"}, Name: "W2", Number: 2, Team: "West", AssemblyStaffCount: 3},
		{Base: Base{ID: "e1"}, Name: "E1", Number: 5, Team: "East", AssemblyStaffCount: 2, ElectricalStaffCount: 1, HoursPerPersonPerWeek: ptr(40)},
		{Base: Base{ID: "w1"}, Name: "W1", Number: 1, Team: "West", AssemblyStaffCount: 2},
		{Base: Base{ID: "solo"}, Name: "Solo", Number: 9},
	}
	got := DeriveTeams(bays)
	want := []Team{
		{Name: "East", BayIDs: []string{"e1"}, Staffing: Staffing{AssemblyStaffCount: 2, ElectricalStaffCount: 1, HoursPerPersonPerWeek: ptr(40)}, Uniform: true},
		{Name: "West", BayIDs: []string{"w1", "w2"}, Staffing: Staffing{AssemblyStaffCount: 2}, Uniform: false},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("teams mismatch (-want +got):\n%s", diff)
	}

	west, err := FindTeam(bays, "West")
	if err != nil {
		t.Fatalf("find west: %v", err)
	}
	if _, err := TeamPhaseDuration(west, 100); !errors.Is(err, domain.ErrInvalidCapacity) {
		t.Fatalf("expected ErrInvalidCapacity for non-uniform team, got %v", err)
	}
	var nf domain.NotFoundError
	if _, err := FindTeam(bays, "North"); !errors.As(err, &nf) || nf.Entity != domain.EntityTeam {
		t.Fatalf("expected team not found, got %v", err)
	}
}

func TestDeriveTeamsComparesEffectiveHours(t *testing.T) {
	bays := []Bay{
		{Base: Base{ID: "n1"}, Name: "N1", Number: 1, Team: "North", AssemblyStaffCount: 3},
		{Base: Base{ID: "n2"}, Name: "N2", Number: 2, Team: "North", AssemblyStaffCount: 3, HoursPerPersonPerWeek: ptr(domain.DefaultHoursPerPersonPerWeek)},
	}
	team, err := FindTeam(bays, "North")
	if err != nil {
		t.Fatalf("find north: %v", err)
	}
	if !team.Uniform {
		t.Fatalf("omitted and explicit default hours must read as uniform")
	}
	if days, err := TeamPhaseDuration(team, 87); err != nil || days != 7 {
		t.Fatalf("phase duration: got %d %v", days, err)
	}
}

func TestTeamPhaseDuration(t *testing.T) {
	team := Team{Name: "East", Staffing: Staffing{AssemblyStaffCount: 4, ElectricalStaffCount: 1}, Uniform: true}
	days, err := TeamPhaseDuration(team, 290)
	if err != nil || days != 14 {
		t.Fatalf("expected 14 days, got %d %v", days, err)
	}
	empty := Team{Name: "Empty", Uniform: true}
	if _, err := TeamPhaseDuration(empty, 10); !errors.Is(err, domain.ErrInvalidCapacity) {
		t.Fatalf("expected ErrInvalidCapacity, got %v", err)
	}
}

func TestConflictDomainSharedFloor(t *testing.T) {
	view := fixtureView(t)
	if got := conflictDomain(view, "bay7"); len(got) != 1 {
		t.Fatalf("expected only bay7 without shared floor, got %v", got)
	}
	shared := func(b Bay) Bay { b.SharedFloor = true; return b }
	b7, _ := view.FindBay("bay7")
	b8, _ := view.FindBay("bay8")
	overlay := newOverlayView(view)
	overlay.putBay(domain.ActionUpdate, shared(b7))
	if got := conflictDomain(overlay, "bay7"); len(got) != 1 {
		t.Fatalf("partner not shared yet, got %v", got)
	}
	overlay.putBay(domain.ActionUpdate, shared(b8))
	got := conflictDomain(overlay, "bay7")
	if _, ok := got["bay8"]; !ok || len(got) != 2 {
		t.Fatalf("expected bay7+bay8, got %v", got)
	}
}
