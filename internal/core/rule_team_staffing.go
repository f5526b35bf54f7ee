package core

import (
	"bayplanner/pkg/domain"
	"context"
	"fmt"
)

// NewTeamStaffingRule returns the rule keeping staffing identical across the
// bays of a team.
func NewTeamStaffingRule() domain.Rule {
	return teamStaffingRule{}
}

type teamStaffingRule struct{}

func (teamStaffingRule) Name() string { return "team_staffing" }

func (r teamStaffingRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	touched := make(map[string]string)
	for _, change := range changes {
		if change.Entity != domain.EntityBay {
			continue
		}
		if bay, ok := change.After.(Bay); ok && bay.Team != "" {
			if _, seen := touched[bay.Team]; !seen {
				touched[bay.Team] = bay.ID
			}
		}
	}
	res := domain.Result{}
	if len(touched) == 0 {
		return res, nil
	}
	for _, team := range DeriveTeams(view.ListBays()) {
		bayID, ok := touched[team.Name]
		if !ok || team.Uniform {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("team %s bays disagree on staffing", team.Name),
			Entity:   domain.EntityBay,
			EntityID: bayID,
		})
	}
	return res, nil
}
