package core

import (
	"bayplanner/pkg/domain"
	"context"
	"errors"
)

// NewBayOverlapRule returns the commit-time rule rejecting double-booked bays.
func NewBayOverlapRule() domain.Rule {
	return bayOverlapRule{}
}

type bayOverlapRule struct{}

func (bayOverlapRule) Name() string { return "bay_overlap" }

func (r bayOverlapRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	candidates := touchedRows(view, changes)
	if len(candidates) == 0 {
		return res, nil
	}
	all := view.ListScheduleRows()
	for _, row := range candidates {
		err := conflictsFor(view, all, row)
		if err == nil {
			continue
		}
		var conflict *domain.ConflictError
		if !errors.As(err, &conflict) {
			return domain.Result{}, err
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  conflict.Error(),
			Entity:   domain.EntityScheduleRow,
			EntityID: row.ID,
		})
	}
	return res, nil
}
