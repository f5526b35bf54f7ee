package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidCapacity is returned when a team has zero or negative weekly capacity.
	ErrInvalidCapacity = errors.New("invalid capacity")
	// ErrNoActiveBays guards utilization against an empty denominator.
	ErrNoActiveBays = fmt.Errorf("no active bays: %w", ErrInvalidCapacity)
	// ErrAlreadyActive is returned when a user enters sandbox mode twice.
	ErrAlreadyActive = errors.New("sandbox session already active")
	// ErrNoActiveSession is returned when a sandbox operation has no session.
	ErrNoActiveSession = errors.New("no active sandbox session")
	// ErrBayInUse is returned when deleting a bay still referenced by open schedule rows.
	ErrBayInUse = errors.New("bay referenced by active schedule rows")
	// ErrInvalidInterval is returned when a schedule row ends before it starts.
	ErrInvalidInterval = errors.New("schedule interval end precedes start")
	// ErrBayInactive is returned when new work is placed into a deactivated bay.
	ErrBayInactive = errors.New("bay is inactive")
	// ErrChainCycle is returned when phase chaining loops back on itself.
	ErrChainCycle = errors.New("schedule chain cycle")
)

// NotFoundError reports a missing entity reference.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ConflictError reports bay-time double booking. ConflictingRowIDs lists every
// existing row that collides with the proposal.
type ConflictError struct {
	Reason            string
	RowID             string
	ConflictingRowIDs []string
}

func (e *ConflictError) Error() string {
	if len(e.ConflictingRowIDs) == 0 {
		return "schedule conflict: " + e.Reason
	}
	return fmt.Sprintf("schedule conflict: %s (rows %s)", e.Reason, strings.Join(e.ConflictingRowIDs, ", "))
}

// CommitConflictError reports that durable state diverged from the sandbox
// snapshot. Seq identifies the offending journal entry (zero when the failure
// came from a commit-wide rule evaluation that could not be attributed).
type CommitConflictError struct {
	Seq      int
	Entity   EntityType
	EntityID string
	Action   Action
	Reason   string
	Err      error
}

func (e *CommitConflictError) Error() string {
	if e.Seq == 0 {
		return fmt.Sprintf("commit conflict: %s", e.Reason)
	}
	return fmt.Sprintf("commit conflict at journal entry %d (%s %s %s): %s", e.Seq, e.Action, e.Entity, e.EntityID, e.Reason)
}

func (e *CommitConflictError) Unwrap() error { return e.Err }
