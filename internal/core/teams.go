package core

import (
	"bayplanner/pkg/domain"
	"fmt"
	"sort"
)

// DeriveTeams groups bays by team name. Bays without a team are skipped. The
// staffing reported for a team is taken from its lowest-numbered bay; Uniform
// is false when any member disagrees.
func DeriveTeams(bays []Bay) []Team {
	byName := make(map[string][]Bay)
	for _, bay := range bays {
		if bay.Team == "" {
			continue
		}
		byName[bay.Team] = append(byName[bay.Team], bay)
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	teams := make([]Team, 0, len(names))
	for _, name := range names {
		members := byName[name]
		sort.Slice(members, func(i, j int) bool {
			if members[i].Number != members[j].Number {
				return members[i].Number < members[j].Number
			}
			return members[i].ID < members[j].ID
		})
		team := Team{Name: name, Staffing: members[0].Staffing(), Uniform: true}
		for _, m := range members {
			team.BayIDs = append(team.BayIDs, m.ID)
			if !m.Staffing().Equal(team.Staffing) {
				team.Uniform = false
			}
		}
		teams = append(teams, team)
	}
	return teams
}

// FindTeam returns the named team from bays.
func FindTeam(bays []Bay, name string) (Team, error) {
	for _, team := range DeriveTeams(bays) {
		if team.Name == name {
			return team, nil
		}
	}
	return Team{}, domain.NotFoundError{Entity: domain.EntityTeam, ID: name}
}

// TeamPhaseDuration converts an hour budget into calendar days for a team.
func TeamPhaseDuration(team Team, requiredHours float64) (int, error) {
	if !team.Uniform {
		return 0, fmt.Errorf("team %s has inconsistent staffing: %w", team.Name, domain.ErrInvalidCapacity)
	}
	return domain.PhaseDurationDays(requiredHours, team.Staffing)
}

// conflictDomain returns the IDs of bays whose bookings collide with bookings
// on bayID. A bay always conflicts with itself; shared-floor bays also collide
// with every other shared-floor bay of the same team.
func conflictDomain(view TransactionView, bayID string) map[string]struct{} {
	out := map[string]struct{}{bayID: {}}
	bay, ok := view.FindBay(bayID)
	if !ok || !bay.SharedFloor || bay.Team == "" {
		return out
	}
	for _, other := range view.ListBays() {
		if other.Team == bay.Team && other.SharedFloor {
			out[other.ID] = struct{}{}
		}
	}
	return out
}
