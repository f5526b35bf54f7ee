package core

import (
	"bayplanner/pkg/domain"
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// JournalEntry is one staged mutation. Before and After are JSON snapshots of
// the entity; Before is undefined for creates and After for deletes.
type JournalEntry struct {
	Seq      int                  `json:"seq"`
	Action   domain.Action        `json:"action"`
	Entity   domain.EntityType    `json:"entity"`
	EntityID string               `json:"entity_id"`
	Before   domain.ChangePayload `json:"before"`
	After    domain.ChangePayload `json:"after"`
}

func newJournalEntry(action domain.Action, entity domain.EntityType, id string, before, after any) (JournalEntry, error) {
	entry := JournalEntry{Action: action, Entity: entity, EntityID: id}
	if before != nil {
		payload, err := domain.NewChangePayloadFromValue(before)
		if err != nil {
			return JournalEntry{}, fmt.Errorf("encode %s %s before: %w", entity, id, err)
		}
		entry.Before = payload
	}
	if after != nil {
		payload, err := domain.NewChangePayloadFromValue(after)
		if err != nil {
			return JournalEntry{}, fmt.Errorf("encode %s %s after: %w", entity, id, err)
		}
		entry.After = payload
	}
	return entry, nil
}

// applyEntry replays a journal entry against a transaction.
func applyEntry(tx Transaction, e JournalEntry) error {
	switch e.Entity {
	case domain.EntityBay:
		switch e.Action {
		case domain.ActionCreate:
			bay, ok := domain.DecodeChangePayload[Bay](e.After)
			if !ok {
				return fmt.Errorf("decode bay %s", e.EntityID)
			}
			_, err := tx.CreateBay(bay)
			return err
		case domain.ActionUpdate:
			bay, ok := domain.DecodeChangePayload[Bay](e.After)
			if !ok {
				return fmt.Errorf("decode bay %s", e.EntityID)
			}
			_, err := tx.UpdateBay(e.EntityID, func(b *Bay) error {
				*b = bay
				return nil
			})
			return err
		case domain.ActionDelete:
			return tx.DeleteBay(e.EntityID)
		}
	case domain.EntityScheduleRow:
		switch e.Action {
		case domain.ActionCreate:
			row, ok := domain.DecodeChangePayload[ScheduleRow](e.After)
			if !ok {
				return fmt.Errorf("decode schedule row %s", e.EntityID)
			}
			_, err := tx.CreateScheduleRow(row)
			return err
		case domain.ActionUpdate:
			row, ok := domain.DecodeChangePayload[ScheduleRow](e.After)
			if !ok {
				return fmt.Errorf("decode schedule row %s", e.EntityID)
			}
			_, err := tx.UpdateScheduleRow(e.EntityID, func(r *ScheduleRow) error {
				*r = row
				return nil
			})
			return err
		case domain.ActionDelete:
			return tx.DeleteScheduleRow(e.EntityID)
		}
	}
	return fmt.Errorf("unsupported journal entry %s %s", e.Action, e.Entity)
}

// verifyPrecondition checks that durable state still matches what the entry
// was staged against. Timestamps are ignored since every store restamps them.
func verifyPrecondition(tx Transaction, e JournalEntry) error {
	var (
		current any
		exists  bool
	)
	switch e.Entity {
	case domain.EntityBay:
		current, exists = tx.FindBay(e.EntityID)
	case domain.EntityScheduleRow:
		current, exists = tx.FindScheduleRow(e.EntityID)
	default:
		return fmt.Errorf("unsupported entity %s", e.Entity)
	}

	if e.Action == domain.ActionCreate {
		if exists {
			return fmt.Errorf("%s %s already exists", e.Entity, e.EntityID)
		}
		return nil
	}
	if !exists {
		return fmt.Errorf("%s %s no longer exists", e.Entity, e.EntityID)
	}
	same, err := sameRecord(e.Entity, e.Before, current)
	if err != nil {
		return err
	}
	if !same {
		return fmt.Errorf("%s %s was modified after the sandbox snapshot", e.Entity, e.EntityID)
	}
	return nil
}

func sameRecord(entity domain.EntityType, before domain.ChangePayload, current any) (bool, error) {
	var want, got []byte
	var err error
	switch entity {
	case domain.EntityBay:
		b, ok := domain.DecodeChangePayload[Bay](before)
		if !ok {
			return false, fmt.Errorf("decode bay snapshot")
		}
		cur := current.(Bay)
		b.CreatedAt, b.UpdatedAt = time.Time{}, time.Time{}
		cur.CreatedAt, cur.UpdatedAt = time.Time{}, time.Time{}
		if want, err = json.Marshal(b); err != nil {
			return false, err
		}
		if got, err = json.Marshal(cur); err != nil {
			return false, err
		}
	case domain.EntityScheduleRow:
		r, ok := domain.DecodeChangePayload[ScheduleRow](before)
		if !ok {
			return false, fmt.Errorf("decode schedule row snapshot")
		}
		cur := current.(ScheduleRow)
		r.CreatedAt, r.UpdatedAt = time.Time{}, time.Time{}
		cur.CreatedAt, cur.UpdatedAt = time.Time{}, time.Time{}
		if want, err = json.Marshal(r); err != nil {
			return false, err
		}
		if got, err = json.Marshal(cur); err != nil {
			return false, err
		}
	}
	return bytes.Equal(want, got), nil
}
