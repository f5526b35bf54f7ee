package core

import (
	"bayplanner/pkg/domain"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StagedOp is an accepted proposal: the journal entries that, applied in
// order, realise it. Seq numbers are assigned when the op is staged.
type StagedOp struct {
	Kind    string         `json:"kind"`
	Entries []JournalEntry `json:"entries"`
}

// Allocator validates proposed schedule and bay edits against a working view
// and converts accepted proposals into staged journal entries. It never
// mutates the view it reads.
type Allocator struct {
	view  TransactionView
	newID func() string
}

// NewAllocator constructs an allocator over the supplied working view.
func NewAllocator(view TransactionView) *Allocator {
	return &Allocator{view: view, newID: uuid.NewString}
}

// ProposeCreate places a new row. A row chained after a predecessor is
// positioned at the predecessor's end plus its gap with its duration kept.
func (a *Allocator) ProposeCreate(row ScheduleRow) (StagedOp, error) {
	if row.ID == "" {
		row.ID = a.newID()
	}
	if _, exists := a.view.FindScheduleRow(row.ID); exists {
		return StagedOp{}, fmt.Errorf("schedule row %q already exists", row.ID)
	}
	row.Start = domain.TruncateDay(row.Start)
	row.End = domain.TruncateDay(row.End)
	if row.Status == "" {
		row.Status = domain.ScheduleStatusScheduled
	}
	if err := a.validateRow(row, true); err != nil {
		return StagedOp{}, err
	}
	if row.ChainedAfterID != nil {
		pred, _ := a.view.FindScheduleRow(*row.ChainedAfterID)
		row = shiftTo(row, domain.AddDays(pred.End, row.ChainGapDays))
	}

	overlay := newOverlayView(a.view)
	overlay.putRow(domain.ActionCreate, row)
	if err := a.checkRows(overlay, []ScheduleRow{row}); err != nil {
		return StagedOp{}, err
	}
	return a.stagedOp("create_schedule_row", overlay)
}

// ProposeMove relocates a row to another bay and interval. Rows chained after
// it shift with the new end date.
func (a *Allocator) ProposeMove(rowID, newBayID string, newStart, newEnd time.Time) (StagedOp, error) {
	current, ok := a.view.FindScheduleRow(rowID)
	if !ok {
		return StagedOp{}, domain.NotFoundError{Entity: domain.EntityScheduleRow, ID: rowID}
	}
	moved := current
	moved.BayID = newBayID
	moved.Start = domain.TruncateDay(newStart)
	moved.End = domain.TruncateDay(newEnd)
	if err := a.validateRow(moved, newBayID != current.BayID); err != nil {
		return StagedOp{}, err
	}
	if moved.ChainedAfterID != nil && !moved.Start.Equal(current.Start) {
		// an explicit reposition redeclares the gap to the predecessor
		if pred, ok := a.view.FindScheduleRow(*moved.ChainedAfterID); ok {
			moved.ChainGapDays = daysBetween(pred.End, moved.Start)
		}
	}

	overlay := newOverlayView(a.view)
	overlay.putRow(domain.ActionUpdate, moved)
	shifted := []ScheduleRow{moved}
	if !moved.End.Equal(current.End) {
		visited := map[string]bool{moved.ID: true}
		var err error
		shifted, err = a.cascade(overlay, moved, visited, shifted)
		if err != nil {
			return StagedOp{}, err
		}
	}
	if err := a.checkRows(overlay, shifted); err != nil {
		return StagedOp{}, err
	}
	kind := "move_schedule_row"
	if newBayID == current.BayID {
		kind = "resize_schedule_row"
	}
	return a.stagedOp(kind, overlay)
}

// ProposeResize changes a row's interval within its current bay.
func (a *Allocator) ProposeResize(rowID string, newStart, newEnd time.Time) (StagedOp, error) {
	current, ok := a.view.FindScheduleRow(rowID)
	if !ok {
		return StagedOp{}, domain.NotFoundError{Entity: domain.EntityScheduleRow, ID: rowID}
	}
	return a.ProposeMove(rowID, current.BayID, newStart, newEnd)
}

// ProposeDelete removes a row. Rows chained after it are unchained first and
// keep their dates.
func (a *Allocator) ProposeDelete(rowID string) (StagedOp, error) {
	if _, ok := a.view.FindScheduleRow(rowID); !ok {
		return StagedOp{}, domain.NotFoundError{Entity: domain.EntityScheduleRow, ID: rowID}
	}
	overlay := newOverlayView(a.view)
	for _, follower := range followersOf(a.view, rowID) {
		follower.ChainedAfterID = nil
		follower.ChainGapDays = 0
		overlay.putRow(domain.ActionUpdate, follower)
	}
	overlay.deleteRow(rowID)
	return a.stagedOp("delete_schedule_row", overlay)
}

// ProposeBayCreate adds a bay. A bay joining an existing team adopts that
// team's staffing.
func (a *Allocator) ProposeBayCreate(bay Bay) (StagedOp, error) {
	if bay.ID == "" {
		bay.ID = a.newID()
	}
	if _, exists := a.view.FindBay(bay.ID); exists {
		return StagedOp{}, fmt.Errorf("bay %q already exists", bay.ID)
	}
	if err := validateBay(bay); err != nil {
		return StagedOp{}, err
	}
	if bay.Team != "" {
		if team, err := FindTeam(a.view.ListBays(), bay.Team); err == nil {
			bay.ApplyStaffing(team.Staffing)
		}
	}
	overlay := newOverlayView(a.view)
	overlay.putBay(domain.ActionCreate, bay)
	return a.stagedOp("create_bay", overlay)
}

// ProposeBayUpdate edits a bay. Staffing changes fan out to every bay of the
// team; moving a bay into another team adopts that team's staffing. Newly
// shared floors are rechecked for collisions.
func (a *Allocator) ProposeBayUpdate(bayID string, mutator func(*Bay) error) (StagedOp, error) {
	current, ok := a.view.FindBay(bayID)
	if !ok {
		return StagedOp{}, domain.NotFoundError{Entity: domain.EntityBay, ID: bayID}
	}
	updated := current
	updated.ApplyStaffing(current.Staffing())
	if err := mutator(&updated); err != nil {
		return StagedOp{}, err
	}
	updated.ID = bayID
	if err := validateBay(updated); err != nil {
		return StagedOp{}, err
	}

	overlay := newOverlayView(a.view)
	staffingChanged := !updated.Staffing().Equal(current.Staffing())
	switch {
	case updated.Team != "" && staffingChanged:
		overlay.putBay(domain.ActionUpdate, updated)
		a.fanOutStaffing(overlay, updated.Team, updated.Staffing(), bayID)
	case updated.Team != "" && updated.Team != current.Team:
		if team, err := FindTeam(a.view.ListBays(), updated.Team); err == nil {
			updated.ApplyStaffing(team.Staffing)
		}
		overlay.putBay(domain.ActionUpdate, updated)
	default:
		overlay.putBay(domain.ActionUpdate, updated)
	}

	if updated.SharedFloor && (!current.SharedFloor || updated.Team != current.Team) {
		var rows []ScheduleRow
		for _, r := range overlay.ListScheduleRows() {
			if r.BayID == bayID {
				rows = append(rows, r)
			}
		}
		if err := a.checkRows(overlay, rows); err != nil {
			return StagedOp{}, err
		}
	}
	return a.stagedOp("update_bay", overlay)
}

// ProposeBayDelete removes a bay no open row references.
func (a *Allocator) ProposeBayDelete(bayID string) (StagedOp, error) {
	if _, ok := a.view.FindBay(bayID); !ok {
		return StagedOp{}, domain.NotFoundError{Entity: domain.EntityBay, ID: bayID}
	}
	for _, r := range a.view.ListScheduleRows() {
		if r.BayID == bayID && r.Status != domain.ScheduleStatusComplete {
			return StagedOp{}, fmt.Errorf("bay %s referenced by row %s: %w", bayID, r.ID, domain.ErrBayInUse)
		}
	}
	overlay := newOverlayView(a.view)
	overlay.deleteBay(bayID)
	return a.stagedOp("delete_bay", overlay)
}

// ProposeTeamStaffing applies staffing to every bay of a team. Bays already
// carrying that staffing produce no entries.
func (a *Allocator) ProposeTeamStaffing(team string, staffing Staffing) (StagedOp, error) {
	if err := staffing.Validate(); err != nil {
		return StagedOp{}, err
	}
	if _, err := FindTeam(a.view.ListBays(), team); err != nil {
		return StagedOp{}, err
	}
	overlay := newOverlayView(a.view)
	a.fanOutStaffing(overlay, team, staffing, "")
	return a.stagedOp("update_team_staffing", overlay)
}

func (a *Allocator) fanOutStaffing(overlay *overlayView, team string, staffing Staffing, skipID string) {
	for _, bay := range a.view.ListBays() {
		if bay.Team != team || bay.ID == skipID || bay.Staffing().Equal(staffing) {
			continue
		}
		bay.ApplyStaffing(staffing)
		overlay.putBay(domain.ActionUpdate, bay)
	}
}

func (a *Allocator) stagedOp(kind string, overlay *overlayView) (StagedOp, error) {
	entries, err := overlay.entries()
	if err != nil {
		return StagedOp{}, err
	}
	return StagedOp{Kind: kind, Entries: entries}, nil
}

func validateBay(b Bay) error {
	if strings.TrimSpace(b.Name) == "" {
		return errors.New("bay requires name")
	}
	return b.Staffing().Validate()
}

func (a *Allocator) validateRow(row ScheduleRow, requireActive bool) error {
	bay, ok := a.view.FindBay(row.BayID)
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityBay, ID: row.BayID}
	}
	if requireActive && !bay.Active {
		return fmt.Errorf("bay %s: %w", bay.Name, domain.ErrBayInactive)
	}
	if row.ProjectID == "" {
		return errors.New("schedule row requires project id")
	}
	if !row.Phase.Valid() {
		return fmt.Errorf("unknown phase %q", row.Phase)
	}
	if !row.Status.Valid() {
		return fmt.Errorf("unknown schedule status %q", row.Status)
	}
	if row.End.Before(row.Start) {
		return fmt.Errorf("row %s %s..%s: %w", row.ID, row.Start.Format(domain.DateLayout), row.End.Format(domain.DateLayout), domain.ErrInvalidInterval)
	}
	if row.ChainedAfterID != nil {
		if *row.ChainedAfterID == row.ID {
			return fmt.Errorf("row %s chained after itself: %w", row.ID, domain.ErrChainCycle)
		}
		if _, ok := a.view.FindScheduleRow(*row.ChainedAfterID); !ok {
			return domain.NotFoundError{Entity: domain.EntityScheduleRow, ID: *row.ChainedAfterID}
		}
	}
	return nil
}

// cascade shifts every row chained after pred so it starts ChainGapDays after
// pred ends, recursing through the chain. Shifted rows are appended to acc.
func (a *Allocator) cascade(overlay *overlayView, pred ScheduleRow, visited map[string]bool, acc []ScheduleRow) ([]ScheduleRow, error) {
	for _, follower := range followersOf(overlay, pred.ID) {
		want := domain.AddDays(pred.End, follower.ChainGapDays)
		if want.Equal(follower.Start) {
			continue
		}
		if visited[follower.ID] {
			return nil, fmt.Errorf("row %s: %w", follower.ID, domain.ErrChainCycle)
		}
		visited[follower.ID] = true
		shifted := shiftTo(follower, want)
		overlay.putRow(domain.ActionUpdate, shifted)
		acc = append(acc, shifted)
		var err error
		if acc, err = a.cascade(overlay, shifted, visited, acc); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// checkRows reports the first candidate that collides with any other row in
// its conflict domain.
func (a *Allocator) checkRows(view TransactionView, candidates []ScheduleRow) error {
	all := view.ListScheduleRows()
	for _, candidate := range candidates {
		if err := conflictsFor(view, all, candidate); err != nil {
			return err
		}
	}
	return nil
}

func conflictsFor(view TransactionView, all []ScheduleRow, candidate ScheduleRow) error {
	bays := conflictDomain(view, candidate.BayID)
	var hits []ScheduleRow
	for _, other := range all {
		if other.ID == candidate.ID {
			continue
		}
		if _, ok := bays[other.BayID]; !ok {
			continue
		}
		if other.Overlaps(candidate) {
			hits = append(hits, other)
		}
	}
	if len(hits) == 0 {
		return nil
	}
	sortRows(hits)
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	first := hits[0]
	bayName := first.BayID
	if bay, ok := view.FindBay(first.BayID); ok {
		bayName = bay.Name
	}
	return &domain.ConflictError{
		Reason: fmt.Sprintf("%s is booked %s..%s by project %s (%s)",
			bayName, first.Start.Format(domain.DateLayout), first.End.Format(domain.DateLayout), first.ProjectID, first.Phase),
		RowID:             candidate.ID,
		ConflictingRowIDs: ids,
	}
}

func followersOf(view TransactionView, predID string) []ScheduleRow {
	var out []ScheduleRow
	for _, r := range view.ListScheduleRows() {
		if r.ChainedAfterID != nil && *r.ChainedAfterID == predID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// shiftTo moves row so it starts on start, preserving its inclusive length.
func shiftTo(row ScheduleRow, start time.Time) ScheduleRow {
	length := domain.DaysInclusive(row.Start, row.End)
	row.Start = domain.TruncateDay(start)
	row.End = domain.AddDays(row.Start, length-1)
	return row
}

func daysBetween(from, to time.Time) int {
	return int(domain.TruncateDay(to).Sub(domain.TruncateDay(from)).Hours() / 24)
}
