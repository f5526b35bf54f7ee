package core

import (
	"bayplanner/pkg/domain"
	"time"
)

// ScheduleState is the discrete, derived lifecycle state of a project.
type ScheduleState string

// Derived schedule states.
const (
	StateUnscheduled ScheduleState = "unscheduled"
	StateScheduled   ScheduleState = "scheduled"
	StateInProgress  ScheduleState = "in_progress"
	StateComplete    ScheduleState = "complete"
)

// ComputeScheduleState derives a project's state from its schedule rows and
// externally managed status. Days are compared in UTC; rows whose end precedes
// their start are skipped. The function is pure.
func ComputeScheduleState(rows []ScheduleRow, status domain.ProjectStatus, now time.Time) ScheduleState {
	if status.Terminal() {
		return StateComplete
	}
	today := domain.TruncateDay(now)

	var valid, future, past int
	for _, row := range rows {
		start, end := domain.TruncateDay(row.Start), domain.TruncateDay(row.End)
		if end.Before(start) {
			continue
		}
		valid++
		switch {
		case start.After(today):
			future++
		case end.Before(today):
			past++
		default:
			return StateInProgress
		}
	}

	switch {
	case valid == 0:
		return StateUnscheduled
	case future == valid:
		return StateScheduled
	case past == valid:
		return StateComplete
	default:
		// between phases: some finished, some still ahead
		return StateInProgress
	}
}

// rowsForProject filters rows belonging to projectID.
func rowsForProject(rows []ScheduleRow, projectID string) []ScheduleRow {
	var out []ScheduleRow
	for _, r := range rows {
		if r.ProjectID == projectID {
			out = append(out, r)
		}
	}
	return out
}
