package core

import (
	"bayplanner/pkg/domain"
	"fmt"
	"time"
)

// Window is an inclusive calendar date range.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewWindow builds a window from two dates, truncating both to UTC days.
func NewWindow(start, end time.Time) Window {
	return Window{Start: domain.TruncateDay(start), End: domain.TruncateDay(end)}
}

// Days returns the inclusive number of days in the window, zero when inverted.
func (w Window) Days() int {
	return domain.DaysInclusive(w.Start, w.End)
}

// BayUtilization is the occupancy of one active bay over a window.
type BayUtilization struct {
	BayID        string `json:"bay_id"`
	Name         string `json:"name"`
	Number       int    `json:"number"`
	Team         string `json:"team,omitempty"`
	OccupiedDays int    `json:"occupied_days"`
	Percent      int    `json:"percent"`
}

// UtilizationReport aggregates occupancy across all active bays.
type UtilizationReport struct {
	Window       Window           `json:"window"`
	ActiveBays   int              `json:"active_bays"`
	CapacityDays int              `json:"capacity_days"`
	OccupiedDays int              `json:"occupied_days"`
	Percent      int              `json:"percent"`
	Bays         []BayUtilization `json:"bays"`
}

// ComputeBayUtilization returns the percentage of active bay-days within the
// window that are covered by scheduled or in-progress rows.
func ComputeBayUtilization(bays []Bay, rows []ScheduleRow, window Window) (int, error) {
	report, err := BuildUtilizationReport(bays, rows, window)
	if err != nil {
		return 0, err
	}
	return report.Percent, nil
}

// BuildUtilizationReport computes overall and per-bay utilization. Overlapping
// rows in one bay count each day once. An inverted window yields zero usage.
func BuildUtilizationReport(bays []Bay, rows []ScheduleRow, window Window) (UtilizationReport, error) {
	window = NewWindow(window.Start, window.End)
	report := UtilizationReport{Window: window}

	active := make(map[string]int)
	for _, bay := range bays {
		if !bay.Active {
			continue
		}
		active[bay.ID] = len(report.Bays)
		report.Bays = append(report.Bays, BayUtilization{BayID: bay.ID, Name: bay.Name, Number: bay.Number, Team: bay.Team})
	}
	report.ActiveBays = len(report.Bays)
	if report.ActiveBays == 0 {
		return UtilizationReport{}, fmt.Errorf("utilization window %s..%s: %w",
			window.Start.Format(domain.DateLayout), window.End.Format(domain.DateLayout), domain.ErrNoActiveBays)
	}
	days := window.Days()
	if days == 0 {
		return report, nil
	}
	report.CapacityDays = report.ActiveBays * days

	covered := make(map[string]map[time.Time]struct{}, report.ActiveBays)
	for _, row := range rows {
		if !row.Status.Productive() {
			continue
		}
		if _, ok := active[row.BayID]; !ok {
			continue
		}
		start, end := domain.TruncateDay(row.Start), domain.TruncateDay(row.End)
		if start.Before(window.Start) {
			start = window.Start
		}
		if end.After(window.End) {
			end = window.End
		}
		if end.Before(start) {
			continue
		}
		set := covered[row.BayID]
		if set == nil {
			set = make(map[time.Time]struct{})
			covered[row.BayID] = set
		}
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			set[d] = struct{}{}
		}
	}

	for id, idx := range active {
		occupied := len(covered[id])
		report.Bays[idx].OccupiedDays = occupied
		report.Bays[idx].Percent = percent(occupied, days)
		report.OccupiedDays += occupied
	}
	report.Percent = percent(report.OccupiedDays, report.CapacityDays)
	return report, nil
}

// percent rounds half up and clamps to [0, 100].
func percent(part, whole int) int {
	if whole <= 0 || part <= 0 {
		return 0
	}
	p := (part*200 + whole) / (whole * 2)
	if p > 100 {
		return 100
	}
	return p
}
