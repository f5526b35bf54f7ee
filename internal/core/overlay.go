package core

import (
	"bayplanner/pkg/domain"
	"sort"
)

type pendingRef struct {
	action domain.Action
	entity domain.EntityType
	id     string
}

// overlayView layers pending allocator edits over a base view. It satisfies
// TransactionView so conflict checks see the proposal as if it were applied.
type overlayView struct {
	base        TransactionView
	bays        map[string]Bay
	rows        map[string]ScheduleRow
	deletedBays map[string]struct{}
	deletedRows map[string]struct{}
	refs        []pendingRef
	touched     map[string]struct{}
}

var _ TransactionView = (*overlayView)(nil)

func newOverlayView(base TransactionView) *overlayView {
	return &overlayView{
		base:        base,
		bays:        make(map[string]Bay),
		rows:        make(map[string]ScheduleRow),
		deletedBays: make(map[string]struct{}),
		deletedRows: make(map[string]struct{}),
		touched:     make(map[string]struct{}),
	}
}

func (o *overlayView) track(action domain.Action, entity domain.EntityType, id string) {
	key := string(entity) + "/" + id
	if _, seen := o.touched[key]; seen {
		return
	}
	o.touched[key] = struct{}{}
	o.refs = append(o.refs, pendingRef{action: action, entity: entity, id: id})
}

func (o *overlayView) putBay(action domain.Action, b Bay) {
	o.bays[b.ID] = b
	o.track(action, domain.EntityBay, b.ID)
}

func (o *overlayView) deleteBay(id string) {
	delete(o.bays, id)
	o.deletedBays[id] = struct{}{}
	o.track(domain.ActionDelete, domain.EntityBay, id)
}

func (o *overlayView) putRow(action domain.Action, r ScheduleRow) {
	o.rows[r.ID] = r
	o.track(action, domain.EntityScheduleRow, r.ID)
}

func (o *overlayView) deleteRow(id string) {
	delete(o.rows, id)
	o.deletedRows[id] = struct{}{}
	o.track(domain.ActionDelete, domain.EntityScheduleRow, id)
}

func (o *overlayView) ListBays() []Bay {
	seen := make(map[string]struct{})
	var out []Bay
	for _, b := range o.base.ListBays() {
		seen[b.ID] = struct{}{}
		if _, gone := o.deletedBays[b.ID]; gone {
			continue
		}
		if p, ok := o.bays[b.ID]; ok {
			b = p
		}
		out = append(out, b)
	}
	for id, b := range o.bays {
		if _, ok := seen[id]; !ok {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Number != out[j].Number {
			return out[i].Number < out[j].Number
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (o *overlayView) ListScheduleRows() []ScheduleRow {
	seen := make(map[string]struct{})
	var out []ScheduleRow
	for _, r := range o.base.ListScheduleRows() {
		seen[r.ID] = struct{}{}
		if _, gone := o.deletedRows[r.ID]; gone {
			continue
		}
		if p, ok := o.rows[r.ID]; ok {
			r = p
		}
		out = append(out, r)
	}
	for id, r := range o.rows {
		if _, ok := seen[id]; !ok {
			out = append(out, r)
		}
	}
	sortRows(out)
	return out
}

func (o *overlayView) ListProjects() []Project { return o.base.ListProjects() }

func (o *overlayView) FindBay(id string) (Bay, bool) {
	if _, gone := o.deletedBays[id]; gone {
		return Bay{}, false
	}
	if b, ok := o.bays[id]; ok {
		return b, true
	}
	return o.base.FindBay(id)
}

func (o *overlayView) FindScheduleRow(id string) (ScheduleRow, bool) {
	if _, gone := o.deletedRows[id]; gone {
		return ScheduleRow{}, false
	}
	if r, ok := o.rows[id]; ok {
		return r, true
	}
	return o.base.FindScheduleRow(id)
}

func (o *overlayView) FindProject(id string) (Project, bool) { return o.base.FindProject(id) }

// entries converts the pending edits into journal entries in the order they
// were first touched. Before snapshots come from the base view.
func (o *overlayView) entries() ([]JournalEntry, error) {
	out := make([]JournalEntry, 0, len(o.refs))
	for _, ref := range o.refs {
		var before, after any
		switch ref.entity {
		case domain.EntityBay:
			if b, ok := o.base.FindBay(ref.id); ok && ref.action != domain.ActionCreate {
				before = b
			}
			if ref.action != domain.ActionDelete {
				after = o.bays[ref.id]
			}
		case domain.EntityScheduleRow:
			if r, ok := o.base.FindScheduleRow(ref.id); ok && ref.action != domain.ActionCreate {
				before = r
			}
			if ref.action != domain.ActionDelete {
				after = o.rows[ref.id]
			}
		}
		entry, err := newJournalEntry(ref.action, ref.entity, ref.id, before, after)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// sortRows orders rows by start, then ID.
func sortRows(rows []ScheduleRow) {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Start.Equal(rows[j].Start) {
			return rows[i].Start.Before(rows[j].Start)
		}
		return rows[i].ID < rows[j].ID
	})
}
