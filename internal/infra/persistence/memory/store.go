// Package memory provides an in-memory implementation of the scheduling
// persistence store used for tests, sandbox working copies, and as the
// transactional engine beneath the snapshotting SQL backends.
package memory

import (
	"bayplanner/pkg/domain"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Bay aliases domain.Bay for in-memory persistence operations.
	Bay = domain.Bay
	// ScheduleRow aliases domain.ScheduleRow.
	ScheduleRow = domain.ScheduleRow
	// Project aliases domain.Project.
	Project = domain.Project
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	bays      map[string]Bay
	schedules map[string]ScheduleRow
	projects  map[string]Project
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Bays      map[string]Bay         `json:"bays"`
	Schedules map[string]ScheduleRow `json:"schedules"`
	Projects  map[string]Project     `json:"projects"`
}

func newMemoryState() memoryState {
	return memoryState{
		bays:      make(map[string]Bay),
		schedules: make(map[string]ScheduleRow),
		projects:  make(map[string]Project),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Bays:      make(map[string]Bay, len(state.bays)),
		Schedules: make(map[string]ScheduleRow, len(state.schedules)),
		Projects:  make(map[string]Project, len(state.projects)),
	}
	for k, v := range state.bays {
		s.Bays[k] = cloneBay(v)
	}
	for k, v := range state.schedules {
		s.Schedules[k] = cloneScheduleRow(v)
	}
	for k, v := range state.projects {
		s.Projects[k] = cloneProject(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Bays {
		state.bays[k] = cloneBay(v)
	}
	for k, v := range s.Schedules {
		state.schedules[k] = cloneScheduleRow(v)
	}
	for k, v := range s.Projects {
		state.projects[k] = cloneProject(v)
	}
	return state
}

// migrateSnapshot normalises imported state: missing buckets become empty,
// IDs are re-keyed from their map keys, schedule dates are truncated to
// calendar days, and rows pointing at unknown bays or with inverted intervals
// are dropped. Completed rows outlive their bay as history and are kept.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Bays == nil {
		snapshot.Bays = map[string]Bay{}
	}
	if snapshot.Schedules == nil {
		snapshot.Schedules = map[string]ScheduleRow{}
	}
	if snapshot.Projects == nil {
		snapshot.Projects = map[string]Project{}
	}

	for id, bay := range snapshot.Bays {
		bay.ID = id
		if bay.AssemblyStaffCount < 0 {
			bay.AssemblyStaffCount = 0
		}
		if bay.ElectricalStaffCount < 0 {
			bay.ElectricalStaffCount = 0
		}
		snapshot.Bays[id] = bay
	}

	for id, row := range snapshot.Schedules {
		if _, ok := snapshot.Bays[row.BayID]; !ok && row.Status != domain.ScheduleStatusComplete {
			delete(snapshot.Schedules, id)
			continue
		}
		row.ID = id
		row.Start = domain.TruncateDay(row.Start)
		row.End = domain.TruncateDay(row.End)
		if row.End.Before(row.Start) {
			delete(snapshot.Schedules, id)
			continue
		}
		if row.Status == "" {
			row.Status = domain.ScheduleStatusScheduled
		}
		snapshot.Schedules[id] = row
	}

	for id, row := range snapshot.Schedules {
		if row.ChainedAfterID == nil {
			continue
		}
		if _, ok := snapshot.Schedules[*row.ChainedAfterID]; !ok {
			row.ChainedAfterID = nil
			snapshot.Schedules[id] = row
		}
	}

	for id, project := range snapshot.Projects {
		project.ID = id
		snapshot.Projects[id] = project
	}
	return snapshot
}

func (s memoryState) clone() memoryState {
	return memoryStateFromSnapshot(snapshotFromMemoryState(s))
}

func cloneBay(b Bay) Bay {
	if b.HoursPerPersonPerWeek != nil {
		hours := *b.HoursPerPersonPerWeek
		b.HoursPerPersonPerWeek = &hours
	}
	return b
}

func cloneScheduleRow(r ScheduleRow) ScheduleRow {
	if r.ChainedAfterID != nil {
		id := *r.ChainedAfterID
		r.ChainedAfterID = &id
	}
	return r
}

func cloneProject(p Project) Project {
	if p.ContractDate != nil {
		d := *p.ContractDate
		p.ContractDate = &d
	}
	if p.ShipDate != nil {
		d := *p.ShipDate
		p.ShipDate = &d
	}
	return p
}

// CommitHook receives the state a transaction is about to commit. A non-nil
// error aborts the commit and leaves the store unchanged.
type CommitHook func(ctx context.Context, snapshot Snapshot) error

// Store provides an in-memory transactional store for the scheduling domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
	hook   CommitHook
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc overrides the clock used to stamp CreatedAt/UpdatedAt.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.nowFn = fn
	s.mu.Unlock()
}

// SetCommitHook installs a hook run under the store lock after rules pass and
// before the new state becomes visible. Durable backends write through it.
func (s *Store) SetCommitHook(hook CommitHook) {
	s.mu.Lock()
	s.hook = hook
	s.mu.Unlock()
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// NewView wraps a snapshot in a read-only TransactionView without a store.
// The snapshot is cloned so later mutation of the argument is not observed.
func NewView(snapshot Snapshot) TransactionView {
	state := memoryStateFromSnapshot(snapshot)
	return newTransactionView(&state)
}

func (v transactionView) ListBays() []Bay {
	return sortedBays(v.state.bays)
}

func (v transactionView) ListScheduleRows() []ScheduleRow {
	return sortedRows(v.state.schedules)
}

func (v transactionView) ListProjects() []Project {
	return sortedProjects(v.state.projects)
}

func (v transactionView) FindBay(id string) (Bay, bool) {
	b, ok := v.state.bays[id]
	if !ok {
		return Bay{}, false
	}
	return cloneBay(b), true
}

func (v transactionView) FindScheduleRow(id string) (ScheduleRow, bool) {
	r, ok := v.state.schedules[id]
	if !ok {
		return ScheduleRow{}, false
	}
	return cloneScheduleRow(r), true
}

func (v transactionView) FindProject(id string) (Project, bool) {
	p, ok := v.state.projects[id]
	if !ok {
		return Project{}, false
	}
	return cloneProject(p), true
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The store lock is held for the whole call, so concurrent transactions are
// serialised and fn observes the latest committed state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if s.hook != nil {
		if err := s.hook(ctx, snapshotFromMemoryState(tx.state)); err != nil {
			return result, err
		}
	}
	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

func (tx *transaction) FindBay(id string) (Bay, bool) {
	return transactionView{state: &tx.state}.FindBay(id)
}

func (tx *transaction) FindScheduleRow(id string) (ScheduleRow, bool) {
	return transactionView{state: &tx.state}.FindScheduleRow(id)
}

func (tx *transaction) FindProject(id string) (Project, bool) {
	return transactionView{state: &tx.state}.FindProject(id)
}

func validateBay(b Bay) error {
	if b.Name == "" {
		return errors.New("bay requires name")
	}
	if b.Number < 0 {
		return fmt.Errorf("bay %q number must be non-negative", b.Name)
	}
	return b.Staffing().Validate()
}

// CreateBay stores a new bay. A caller supplied ID is preserved so sandbox
// journals can replay creates deterministically.
func (tx *transaction) CreateBay(b Bay) (Bay, error) {
	if b.ID == "" {
		b.ID = tx.store.newID()
	}
	if _, exists := tx.state.bays[b.ID]; exists {
		return Bay{}, fmt.Errorf("bay %q already exists", b.ID)
	}
	if err := validateBay(b); err != nil {
		return Bay{}, err
	}
	b.CreatedAt = tx.now
	b.UpdatedAt = tx.now
	tx.state.bays[b.ID] = cloneBay(b)
	tx.recordChange(Change{Entity: domain.EntityBay, Action: domain.ActionCreate, After: cloneBay(b)})
	return cloneBay(b), nil
}

// UpdateBay mutates an existing bay.
func (tx *transaction) UpdateBay(id string, mutator func(*Bay) error) (Bay, error) {
	current, ok := tx.state.bays[id]
	if !ok {
		return Bay{}, domain.NotFoundError{Entity: domain.EntityBay, ID: id}
	}
	before := cloneBay(current)
	current = cloneBay(current)
	if err := mutator(&current); err != nil {
		return Bay{}, err
	}
	if err := validateBay(current); err != nil {
		return Bay{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.bays[id] = cloneBay(current)
	tx.recordChange(Change{Entity: domain.EntityBay, Action: domain.ActionUpdate, Before: before, After: cloneBay(current)})
	return cloneBay(current), nil
}

// DeleteBay removes a bay that no open schedule row references.
func (tx *transaction) DeleteBay(id string) error {
	current, ok := tx.state.bays[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityBay, ID: id}
	}
	for _, row := range tx.state.schedules {
		if row.BayID == id && row.Status != domain.ScheduleStatusComplete {
			return fmt.Errorf("bay %q still referenced by schedule row %q: %w", id, row.ID, domain.ErrBayInUse)
		}
	}
	delete(tx.state.bays, id)
	tx.recordChange(Change{Entity: domain.EntityBay, Action: domain.ActionDelete, Before: cloneBay(current)})
	return nil
}

func (tx *transaction) normaliseScheduleRow(r *ScheduleRow) error {
	if r.BayID == "" {
		return errors.New("schedule row requires bay id")
	}
	if _, ok := tx.state.bays[r.BayID]; !ok {
		return domain.NotFoundError{Entity: domain.EntityBay, ID: r.BayID}
	}
	if r.ProjectID == "" {
		return errors.New("schedule row requires project id")
	}
	if !r.Phase.Valid() {
		return fmt.Errorf("schedule row has unknown phase %q", r.Phase)
	}
	if r.Status == "" {
		r.Status = domain.ScheduleStatusScheduled
	}
	if !r.Status.Valid() {
		return fmt.Errorf("schedule row has unknown status %q", r.Status)
	}
	r.Start = domain.TruncateDay(r.Start)
	r.End = domain.TruncateDay(r.End)
	if r.End.Before(r.Start) {
		return fmt.Errorf("schedule row %s..%s: %w", r.Start.Format(domain.DateLayout), r.End.Format(domain.DateLayout), domain.ErrInvalidInterval)
	}
	if r.ChainedAfterID != nil {
		if *r.ChainedAfterID == r.ID {
			return fmt.Errorf("schedule row %q cannot chain after itself", r.ID)
		}
		if _, ok := tx.state.schedules[*r.ChainedAfterID]; !ok {
			return domain.NotFoundError{Entity: domain.EntityScheduleRow, ID: *r.ChainedAfterID}
		}
	}
	return nil
}

// CreateScheduleRow stores a new phase assignment.
func (tx *transaction) CreateScheduleRow(r ScheduleRow) (ScheduleRow, error) {
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if _, exists := tx.state.schedules[r.ID]; exists {
		return ScheduleRow{}, fmt.Errorf("schedule row %q already exists", r.ID)
	}
	if err := tx.normaliseScheduleRow(&r); err != nil {
		return ScheduleRow{}, err
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	tx.state.schedules[r.ID] = cloneScheduleRow(r)
	tx.recordChange(Change{Entity: domain.EntityScheduleRow, Action: domain.ActionCreate, After: cloneScheduleRow(r)})
	return cloneScheduleRow(r), nil
}

// UpdateScheduleRow mutates an existing phase assignment.
func (tx *transaction) UpdateScheduleRow(id string, mutator func(*ScheduleRow) error) (ScheduleRow, error) {
	current, ok := tx.state.schedules[id]
	if !ok {
		return ScheduleRow{}, domain.NotFoundError{Entity: domain.EntityScheduleRow, ID: id}
	}
	before := cloneScheduleRow(current)
	current = cloneScheduleRow(current)
	if err := mutator(&current); err != nil {
		return ScheduleRow{}, err
	}
	current.ID = id
	if err := tx.normaliseScheduleRow(&current); err != nil {
		return ScheduleRow{}, err
	}
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.schedules[id] = cloneScheduleRow(current)
	tx.recordChange(Change{Entity: domain.EntityScheduleRow, Action: domain.ActionUpdate, Before: before, After: cloneScheduleRow(current)})
	return cloneScheduleRow(current), nil
}

// DeleteScheduleRow removes a phase assignment. Rows still chained after it
// must be unchained first.
func (tx *transaction) DeleteScheduleRow(id string) error {
	current, ok := tx.state.schedules[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityScheduleRow, ID: id}
	}
	for _, row := range tx.state.schedules {
		if row.ChainedAfterID != nil && *row.ChainedAfterID == id {
			return fmt.Errorf("schedule row %q still chained after %q", row.ID, id)
		}
	}
	delete(tx.state.schedules, id)
	tx.recordChange(Change{Entity: domain.EntityScheduleRow, Action: domain.ActionDelete, Before: cloneScheduleRow(current)})
	return nil
}

// CreateProject seeds a consumed project record.
func (tx *transaction) CreateProject(p Project) (Project, error) {
	if p.ID == "" {
		p.ID = tx.store.newID()
	}
	if _, exists := tx.state.projects[p.ID]; exists {
		return Project{}, fmt.Errorf("project %q already exists", p.ID)
	}
	if p.Status == "" {
		p.Status = domain.ProjectStatusActive
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.projects[p.ID] = cloneProject(p)
	tx.recordChange(Change{Entity: domain.EntityProject, Action: domain.ActionCreate, After: cloneProject(p)})
	return cloneProject(p), nil
}

// UpdateProject mutates a consumed project record.
func (tx *transaction) UpdateProject(id string, mutator func(*Project) error) (Project, error) {
	current, ok := tx.state.projects[id]
	if !ok {
		return Project{}, domain.NotFoundError{Entity: domain.EntityProject, ID: id}
	}
	before := cloneProject(current)
	current = cloneProject(current)
	if err := mutator(&current); err != nil {
		return Project{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.projects[id] = cloneProject(current)
	tx.recordChange(Change{Entity: domain.EntityProject, Action: domain.ActionUpdate, Before: before, After: cloneProject(current)})
	return cloneProject(current), nil
}

// Read helpers ---------------------------------------------------------------

// GetBay retrieves a bay by ID from committed state.
func (s *Store) GetBay(id string) (Bay, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionView{state: &s.state}.FindBay(id)
}

// ListBays returns all bays ordered by number then ID.
func (s *Store) ListBays() []Bay {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedBays(s.state.bays)
}

// GetScheduleRow retrieves a schedule row by ID.
func (s *Store) GetScheduleRow(id string) (ScheduleRow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionView{state: &s.state}.FindScheduleRow(id)
}

// ListScheduleRows returns all schedule rows ordered by bay, start, then ID.
func (s *Store) ListScheduleRows() []ScheduleRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedRows(s.state.schedules)
}

// GetProject retrieves a project by ID.
func (s *Store) GetProject(id string) (Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionView{state: &s.state}.FindProject(id)
}

// ListProjects returns all projects ordered by ID.
func (s *Store) ListProjects() []Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedProjects(s.state.projects)
}

func sortedBays(in map[string]Bay) []Bay {
	out := make([]Bay, 0, len(in))
	for _, b := range in {
		out = append(out, cloneBay(b))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Number != out[j].Number {
			return out[i].Number < out[j].Number
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sortedRows(in map[string]ScheduleRow) []ScheduleRow {
	out := make([]ScheduleRow, 0, len(in))
	for _, r := range in {
		out = append(out, cloneScheduleRow(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BayID != out[j].BayID {
			return out[i].BayID < out[j].BayID
		}
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sortedProjects(in map[string]Project) []Project {
	out := make([]Project, 0, len(in))
	for _, p := range in {
		out = append(out, cloneProject(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
