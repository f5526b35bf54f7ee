package core

import "bayplanner/pkg/domain"

// NewRulesEngine constructs an engine instance without rules.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewBayOverlapRule())
	engine.Register(NewTeamStaffingRule())
	engine.Register(NewScheduleIntegrityRule())
	return engine
}

// touchedRows returns the rows created or updated by changes, plus
// every row of a bay whose record changed.
func touchedRows(view domain.RuleView, changes []Change) []ScheduleRow {
	seen := make(map[string]struct{})
	bays := make(map[string]struct{})
	for _, change := range changes {
		switch change.Entity {
		case domain.EntityScheduleRow:
			if row, ok := change.After.(ScheduleRow); ok {
				seen[row.ID] = struct{}{}
			}
		case domain.EntityBay:
			if bay, ok := change.After.(Bay); ok {
				bays[bay.ID] = struct{}{}
			}
		}
	}
	var out []ScheduleRow
	for _, row := range view.ListScheduleRows() {
		_, direct := seen[row.ID]
		_, viaBay := bays[row.BayID]
		if direct || viaBay {
			out = append(out, row)
		}
	}
	return out
}
