package core

import (
	"bayplanner/internal/infra/persistence/memory"
	"bayplanner/pkg/domain"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionInfo describes an active sandbox session.
type SessionInfo struct {
	ID        string    `json:"id"`
	User      string    `json:"user"`
	StartedAt time.Time `json:"started_at"`
	Version   int       `json:"version"`
	Pending   int       `json:"pending"`
}

// CommitResult summarises a successful sandbox commit.
type CommitResult struct {
	SessionID string         `json:"session_id"`
	User      string         `json:"user"`
	Entries   []JournalEntry `json:"entries"`
	Result    Result         `json:"result"`
}

type sandboxSession struct {
	mu        sync.Mutex
	id        string
	user      string
	startedAt time.Time
	working   *memory.Store
	journal   []JournalEntry
	version   int
	closed    bool
}

func (s *sandboxSession) info() SessionInfo {
	return SessionInfo{ID: s.id, User: s.user, StartedAt: s.startedAt, Version: s.version, Pending: len(s.journal)}
}

// SandboxManager owns one staged-edit session per user. Sessions read a
// snapshot of durable state taken on entry and reach the durable store only
// through Commit.
type SandboxManager struct {
	store    PersistentStore
	now      func() time.Time
	mu       sync.Mutex
	sessions map[string]*sandboxSession
}

// NewSandboxManager constructs a manager over the durable store.
func NewSandboxManager(store PersistentStore, now func() time.Time) *SandboxManager {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &SandboxManager{store: store, now: now, sessions: make(map[string]*sandboxSession)}
}

// Enter opens a session for user over a snapshot of durable state.
func (m *SandboxManager) Enter(ctx context.Context, user string) (SessionInfo, error) {
	if user == "" {
		return SessionInfo{}, errors.New("sandbox requires a user")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[user]; exists {
		return SessionInfo{}, fmt.Errorf("user %s: %w", user, domain.ErrAlreadyActive)
	}

	var snapshot memory.Snapshot
	if err := m.store.View(ctx, func(view TransactionView) error {
		snapshot = snapshotOf(view)
		return nil
	}); err != nil {
		return SessionInfo{}, fmt.Errorf("snapshot durable state: %w", err)
	}
	working := memory.NewStore(nil)
	working.SetNowFunc(m.now)
	working.ImportState(snapshot)

	session := &sandboxSession{
		id:        uuid.NewString(),
		user:      user,
		startedAt: m.now(),
		working:   working,
	}
	m.sessions[user] = session
	return session.info(), nil
}

func snapshotOf(view TransactionView) memory.Snapshot {
	snapshot := memory.Snapshot{
		Bays:      make(map[string]Bay),
		Schedules: make(map[string]ScheduleRow),
		Projects:  make(map[string]Project),
	}
	for _, b := range view.ListBays() {
		snapshot.Bays[b.ID] = b
	}
	for _, r := range view.ListScheduleRows() {
		snapshot.Schedules[r.ID] = r
	}
	for _, p := range view.ListProjects() {
		snapshot.Projects[p.ID] = p
	}
	return snapshot
}

// lock returns the user's session with its mutex held. Callers must unlock.
func (m *SandboxManager) lock(user string) (*sandboxSession, error) {
	m.mu.Lock()
	session, ok := m.sessions[user]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("user %s: %w", user, domain.ErrNoActiveSession)
	}
	session.mu.Lock()
	if session.closed {
		session.mu.Unlock()
		return nil, fmt.Errorf("user %s: %w", user, domain.ErrNoActiveSession)
	}
	return session, nil
}

func (m *SandboxManager) remove(session *sandboxSession) {
	session.closed = true
	m.mu.Lock()
	if current, ok := m.sessions[session.user]; ok && current == session {
		delete(m.sessions, session.user)
	}
	m.mu.Unlock()
}

// Session reports the user's active session.
func (m *SandboxManager) Session(user string) (SessionInfo, error) {
	session, err := m.lock(user)
	if err != nil {
		return SessionInfo{}, err
	}
	defer session.mu.Unlock()
	return session.info(), nil
}

// Propose runs fn against the user's working copy and stages the op it
// returns. The session stays locked in between so the proposal is validated
// against the state it is applied to.
func (m *SandboxManager) Propose(ctx context.Context, user string, fn func(view TransactionView) (StagedOp, error)) (StagedOp, error) {
	session, err := m.lock(user)
	if err != nil {
		return StagedOp{}, err
	}
	defer session.mu.Unlock()

	var op StagedOp
	if err := session.working.View(ctx, func(view TransactionView) error {
		var perr error
		op, perr = fn(view)
		return perr
	}); err != nil {
		return StagedOp{}, err
	}
	return m.stageLocked(ctx, session, op)
}

// Stage applies a prepared op to the working copy and appends it to the journal.
func (m *SandboxManager) Stage(ctx context.Context, user string, op StagedOp) (StagedOp, error) {
	session, err := m.lock(user)
	if err != nil {
		return StagedOp{}, err
	}
	defer session.mu.Unlock()
	return m.stageLocked(ctx, session, op)
}

func (m *SandboxManager) stageLocked(ctx context.Context, session *sandboxSession, op StagedOp) (StagedOp, error) {
	if len(op.Entries) == 0 {
		return op, nil
	}
	staged := StagedOp{Kind: op.Kind, Entries: make([]JournalEntry, len(op.Entries))}
	next := len(session.journal)
	for i, e := range op.Entries {
		e.Seq = next + i + 1
		staged.Entries[i] = e
	}
	if _, err := session.working.RunInTransaction(ctx, func(tx Transaction) error {
		for _, e := range staged.Entries {
			if err := applyEntry(tx, e); err != nil {
				return fmt.Errorf("stage entry %d: %w", e.Seq, err)
			}
		}
		return checkStagedConflicts(tx.Snapshot(), staged.Entries)
	}); err != nil {
		return StagedOp{}, err
	}
	session.journal = append(session.journal, staged.Entries...)
	session.version++
	return staged, nil
}

// checkStagedConflicts rejects entries that leave a double booking in the
// working copy: rows they write, and every row of a bay they write.
func checkStagedConflicts(view TransactionView, entries []JournalEntry) error {
	rows := make(map[string]struct{})
	bays := make(map[string]struct{})
	for _, e := range entries {
		if e.Action == domain.ActionDelete {
			continue
		}
		switch e.Entity {
		case domain.EntityScheduleRow:
			rows[e.EntityID] = struct{}{}
		case domain.EntityBay:
			bays[e.EntityID] = struct{}{}
		}
	}
	all := view.ListScheduleRows()
	for _, row := range all {
		_, direct := rows[row.ID]
		_, viaBay := bays[row.BayID]
		if !direct && !viaBay {
			continue
		}
		if err := conflictsFor(view, all, row); err != nil {
			return err
		}
	}
	return nil
}

// HasPendingChanges reports whether user has a session with staged entries.
func (m *SandboxManager) HasPendingChanges(user string) bool {
	session, err := m.lock(user)
	if err != nil {
		return false
	}
	defer session.mu.Unlock()
	return len(session.journal) > 0
}

// Journal returns a copy of the user's staged entries.
func (m *SandboxManager) Journal(user string) ([]JournalEntry, error) {
	session, err := m.lock(user)
	if err != nil {
		return nil, err
	}
	defer session.mu.Unlock()
	out := make([]JournalEntry, len(session.journal))
	copy(out, session.journal)
	return out, nil
}

// WorkingView runs fn against a read-only view of the user's working copy.
func (m *SandboxManager) WorkingView(ctx context.Context, user string, fn func(TransactionView) error) error {
	session, err := m.lock(user)
	if err != nil {
		return err
	}
	defer session.mu.Unlock()
	return session.working.View(ctx, fn)
}

// Commit replays the journal against durable state in one transaction. Each
// entry must still match the durable record it was staged against and the
// durable rules engine must accept the result. On failure nothing is written
// and the session is kept; on success it is closed.
func (m *SandboxManager) Commit(ctx context.Context, user string) (CommitResult, error) {
	session, err := m.lock(user)
	if err != nil {
		return CommitResult{}, err
	}
	defer session.mu.Unlock()

	out := CommitResult{SessionID: session.id, User: session.user}
	if len(session.journal) == 0 {
		m.remove(session)
		return out, nil
	}

	journal := session.journal
	res, err := m.store.RunInTransaction(ctx, func(tx Transaction) error {
		for _, e := range journal {
			if err := verifyPrecondition(tx, e); err != nil {
				return conflictFor(e, err.Error(), err)
			}
			if err := applyEntry(tx, e); err != nil {
				return conflictFor(e, err.Error(), err)
			}
		}
		return nil
	})
	if err != nil {
		var cc *domain.CommitConflictError
		if errors.As(err, &cc) {
			return CommitResult{}, cc
		}
		var rv domain.RuleViolationError
		if errors.As(err, &rv) {
			return CommitResult{}, attributeViolation(journal, rv)
		}
		return CommitResult{}, fmt.Errorf("commit sandbox %s: %w", session.id, err)
	}

	out.Entries = append([]JournalEntry(nil), journal...)
	out.Result = res
	m.remove(session)
	return out, nil
}

// Discard drops the user's session. It waits for an in-flight commit of the
// same session, which is not cancellable.
func (m *SandboxManager) Discard(user string) error {
	session, err := m.lock(user)
	if err != nil {
		return err
	}
	defer session.mu.Unlock()
	m.remove(session)
	return nil
}

func conflictFor(e JournalEntry, reason string, err error) *domain.CommitConflictError {
	return &domain.CommitConflictError{
		Seq:      e.Seq,
		Entity:   e.Entity,
		EntityID: e.EntityID,
		Action:   e.Action,
		Reason:   reason,
		Err:      err,
	}
}

// attributeViolation maps the first blocking violation back to the last
// journal entry touching the same entity.
func attributeViolation(journal []JournalEntry, rv domain.RuleViolationError) *domain.CommitConflictError {
	blocking := rv.Result.Blocking()
	reason := rv.Error()
	if len(blocking) > 0 {
		reason = blocking[0].Message
		for _, v := range blocking {
			for i := len(journal) - 1; i >= 0; i-- {
				if journal[i].EntityID == v.EntityID && journal[i].Entity == v.Entity {
					return conflictFor(journal[i], v.Message, rv)
				}
			}
		}
	}
	return &domain.CommitConflictError{Reason: reason, Err: rv}
}
