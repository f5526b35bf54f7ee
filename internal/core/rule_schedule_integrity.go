package core

import (
	"bayplanner/pkg/domain"
	"context"
	"fmt"
)

// NewScheduleIntegrityRule returns the rule validating references and chains
// of changed schedule rows.
func NewScheduleIntegrityRule() domain.Rule {
	return scheduleIntegrityRule{}
}

type scheduleIntegrityRule struct{}

func (scheduleIntegrityRule) Name() string { return "schedule_integrity" }

func (r scheduleIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	add := func(sev domain.Severity, row ScheduleRow, format string, args ...any) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: sev,
			Message:  fmt.Sprintf(format, args...),
			Entity:   domain.EntityScheduleRow,
			EntityID: row.ID,
		})
	}

	for _, row := range touchedRows(view, changes) {
		bay, ok := view.FindBay(row.BayID)
		switch {
		case !ok:
			add(domain.SeverityBlock, row, "row %s references missing bay %s", row.ID, row.BayID)
		case !bay.Active && row.Status.Productive():
			add(domain.SeverityWarn, row, "row %s is booked into inactive bay %s", row.ID, bay.Name)
		}
		if row.End.Before(row.Start) {
			add(domain.SeverityBlock, row, "row %s ends before it starts", row.ID)
		}
		if row.ChainedAfterID == nil {
			continue
		}
		pred, ok := view.FindScheduleRow(*row.ChainedAfterID)
		if !ok {
			add(domain.SeverityBlock, row, "row %s chained after missing row %s", row.ID, *row.ChainedAfterID)
			continue
		}
		if chainLoops(view, row) {
			add(domain.SeverityBlock, row, "row %s is part of a chain cycle", row.ID)
			continue
		}
		if want := domain.AddDays(pred.End, row.ChainGapDays); !want.Equal(domain.TruncateDay(row.Start)) {
			add(domain.SeverityWarn, row, "row %s starts %s but its chain expects %s",
				row.ID, row.Start.Format(domain.DateLayout), want.Format(domain.DateLayout))
		}
	}
	return res, nil
}

func chainLoops(view domain.RuleView, row ScheduleRow) bool {
	seen := map[string]struct{}{row.ID: {}}
	cur := row
	for cur.ChainedAfterID != nil {
		next, ok := view.FindScheduleRow(*cur.ChainedAfterID)
		if !ok {
			return false
		}
		if _, loop := seen[next.ID]; loop {
			return true
		}
		seen[next.ID] = struct{}{}
		cur = next
	}
	return false
}
