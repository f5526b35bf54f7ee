package core

import (
	"bayplanner/internal/infra/persistence/memory"
	"bayplanner/pkg/domain"
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Service is the scheduling facade: durable reads and computations, batch
// writes, and per-user sandbox editing.
type Service struct {
	store   PersistentStore
	sandbox *SandboxManager
	clock   Clock
	logger  Logger
	audit   AuditRecorder
	metrics MetricsRecorder
	tracer  Tracer
	archive JournalArchive
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	options := defaultServiceOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if setter, ok := store.(interface{ SetNowFunc(func() time.Time) }); ok {
		setter.SetNowFunc(options.clock.Now)
	}
	return &Service{
		store:   store,
		sandbox: NewSandboxManager(store, options.clock.Now),
		clock:   options.clock,
		logger:  options.logger,
		audit:   options.audit,
		metrics: options.metrics,
		tracer:  options.tracer,
		archive: options.archive,
	}
}

// NewInMemoryService creates a service and in-memory store with the given
// rules engine. A nil engine selects the default rules.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore { return s.store }

// Sandbox returns the session manager.
func (s *Service) Sandbox() *SandboxManager { return s.sandbox }

// Now returns the service clock's current time.
func (s *Service) Now() time.Time { return s.clock.Now() }

func (s *Service) run(ctx context.Context, op, user string, fn func(context.Context) (string, error)) error {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	entityID, err := fn(ctx)
	duration := time.Since(started)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	if err != nil {
		if isConflict(err) {
			s.logger.Warn("operation rejected", "operation", op, "user", user, "entity_id", entityID, "error", err)
		} else {
			s.logger.Error("operation failed", "operation", op, "user", user, "entity_id", entityID, "error", err)
		}
		s.recordAuditError(ctx, op, user, entityID, duration, err)
		return err
	}
	s.logger.Debug("operation completed", "operation", op, "user", user, "entity_id", entityID, "duration", duration)
	s.recordAuditSuccess(ctx, op, user, entityID, duration)
	return nil
}

func isConflict(err error) bool {
	var conflict *domain.ConflictError
	var commit *domain.CommitConflictError
	return errors.As(err, &conflict) || errors.As(err, &commit)
}

func (s *Service) recordAuditSuccess(ctx context.Context, op, user, entityID string, duration time.Duration) {
	s.recordAudit(ctx, op, user, entityID, duration, nil)
}

func (s *Service) recordAuditError(ctx context.Context, op, user, entityID string, duration time.Duration, err error) {
	s.recordAudit(ctx, op, user, entityID, duration, err)
}

func (s *Service) recordAudit(ctx context.Context, op, user, entityID string, duration time.Duration, err error) {
	target, ok := auditedOperations[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    target.entity,
		Action:    target.action,
		EntityID:  entityID,
		User:      user,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}

// ComputeScheduleState derives the durable schedule state of a project. An
// unknown project is derived from its rows alone, so it reads as unscheduled
// when nothing is booked for it.
func (s *Service) ComputeScheduleState(ctx context.Context, projectID string) (ScheduleState, error) {
	var state ScheduleState
	err := s.run(ctx, "compute_schedule_state", "", func(ctx context.Context) (string, error) {
		return projectID, s.store.View(ctx, func(view TransactionView) error {
			state = scheduleStateIn(view, projectID, s.clock.Now())
			return nil
		})
	})
	return state, err
}

func scheduleStateIn(view TransactionView, projectID string, now time.Time) ScheduleState {
	var status domain.ProjectStatus
	if project, ok := view.FindProject(projectID); ok {
		status = project.Status
	}
	return ComputeScheduleState(rowsForProject(view.ListScheduleRows(), projectID), status, now)
}

// ComputeBayUtilization returns the durable utilization percentage for window.
func (s *Service) ComputeBayUtilization(ctx context.Context, window Window) (int, error) {
	report, err := s.UtilizationReport(ctx, window)
	if err != nil {
		return 0, err
	}
	return report.Percent, nil
}

// UtilizationReport returns overall and per-bay durable utilization.
func (s *Service) UtilizationReport(ctx context.Context, window Window) (UtilizationReport, error) {
	var report UtilizationReport
	err := s.run(ctx, "compute_utilization", "", func(ctx context.Context) (string, error) {
		return "", s.store.View(ctx, func(view TransactionView) error {
			var err error
			report, err = BuildUtilizationReport(view.ListBays(), view.ListScheduleRows(), window)
			return err
		})
	})
	return report, err
}

// Teams derives the durable team views.
func (s *Service) Teams(ctx context.Context) ([]Team, error) {
	var teams []Team
	err := s.store.View(ctx, func(view TransactionView) error {
		teams = DeriveTeams(view.ListBays())
		return nil
	})
	return teams, err
}

// PhaseDuration converts an hour budget into calendar days for the named team.
func (s *Service) PhaseDuration(ctx context.Context, team string, requiredHours float64) (int, error) {
	var days int
	err := s.run(ctx, "phase_duration", "", func(ctx context.Context) (string, error) {
		return team, s.store.View(ctx, func(view TransactionView) error {
			t, err := FindTeam(view.ListBays(), team)
			if err != nil {
				return err
			}
			days, err = TeamPhaseDuration(t, requiredHours)
			return err
		})
	})
	return days, err
}

// Overview is a combined durable snapshot for dashboards.
type Overview struct {
	Utilization UtilizationReport        `json:"utilization"`
	Teams       []Team                   `json:"teams"`
	States      map[string]ScheduleState `json:"states"`
}

// Overview computes utilization, teams, and every project's schedule state
// from one durable snapshot.
func (s *Service) Overview(ctx context.Context, window Window) (Overview, error) {
	var out Overview
	err := s.run(ctx, "overview", "", func(ctx context.Context) (string, error) {
		return "", s.store.View(ctx, func(view TransactionView) error {
			bays, rows, projects := view.ListBays(), view.ListScheduleRows(), view.ListProjects()
			now := s.clock.Now()
			var g errgroup.Group
			g.Go(func() error {
				report, err := BuildUtilizationReport(bays, rows, window)
				if errors.Is(err, domain.ErrNoActiveBays) {
					report, err = UtilizationReport{Window: NewWindow(window.Start, window.End)}, nil
				}
				out.Utilization = report
				return err
			})
			g.Go(func() error {
				out.Teams = DeriveTeams(bays)
				return nil
			})
			g.Go(func() error {
				states := make(map[string]ScheduleState, len(projects))
				for _, p := range projects {
					states[p.ID] = ComputeScheduleState(rowsForProject(rows, p.ID), p.Status, now)
				}
				out.States = states
				return nil
			})
			return g.Wait()
		})
	})
	return out, err
}

// EnterSandbox opens a staged-edit session for user.
func (s *Service) EnterSandbox(ctx context.Context, user string) (SessionInfo, error) {
	var info SessionInfo
	err := s.run(ctx, "enter_sandbox", user, func(ctx context.Context) (string, error) {
		var err error
		info, err = s.sandbox.Enter(ctx, user)
		return info.ID, err
	})
	return info, err
}

// Stage appends a prepared op to the user's session.
func (s *Service) Stage(ctx context.Context, user string, op StagedOp) (StagedOp, error) {
	var staged StagedOp
	err := s.run(ctx, "stage", user, func(ctx context.Context) (string, error) {
		var err error
		staged, err = s.sandbox.Stage(ctx, user, op)
		return firstEntityID(op), err
	})
	return staged, err
}

// HasPendingChanges reports whether user has staged edits.
func (s *Service) HasPendingChanges(user string) bool {
	return s.sandbox.HasPendingChanges(user)
}

// Journal returns the user's staged entries.
func (s *Service) Journal(user string) ([]JournalEntry, error) {
	return s.sandbox.Journal(user)
}

// Commit applies the user's journal to durable state atomically. A failed
// archive write is logged and does not fail the commit.
func (s *Service) Commit(ctx context.Context, user string) (CommitResult, error) {
	var result CommitResult
	err := s.run(ctx, "commit_sandbox", user, func(ctx context.Context) (string, error) {
		var err error
		result, err = s.sandbox.Commit(ctx, user)
		return result.SessionID, err
	})
	if err != nil {
		return CommitResult{}, err
	}
	if s.archive != nil && len(result.Entries) > 0 {
		record := JournalRecord{SessionID: result.SessionID, User: result.User, CommittedAt: s.clock.Now(), Entries: result.Entries}
		if aerr := s.archive.Archive(ctx, record); aerr != nil {
			s.logger.Warn("journal archive failed", "session_id", result.SessionID, "user", user, "error", aerr)
		}
	}
	s.logger.Info("sandbox committed", "session_id", result.SessionID, "user", user, "entries", len(result.Entries))
	return result, nil
}

// Discard drops the user's session without touching durable state.
func (s *Service) Discard(ctx context.Context, user string) error {
	return s.run(ctx, "discard_sandbox", user, func(context.Context) (string, error) {
		return "", s.sandbox.Discard(user)
	})
}

func (s *Service) propose(ctx context.Context, op, user string, fn func(*Allocator) (StagedOp, error)) (StagedOp, error) {
	var staged StagedOp
	err := s.run(ctx, op, user, func(ctx context.Context) (string, error) {
		var err error
		staged, err = s.sandbox.Propose(ctx, user, func(view TransactionView) (StagedOp, error) {
			return fn(NewAllocator(view))
		})
		return firstEntityID(staged), err
	})
	return staged, err
}

func firstEntityID(op StagedOp) string {
	if len(op.Entries) == 0 {
		return ""
	}
	return op.Entries[0].EntityID
}

// ProposeCreate validates and stages a new schedule row.
func (s *Service) ProposeCreate(ctx context.Context, user string, row ScheduleRow) (StagedOp, error) {
	return s.propose(ctx, "propose_create", user, func(a *Allocator) (StagedOp, error) {
		return a.ProposeCreate(row)
	})
}

// ProposeMove validates and stages relocating a row, shifting chained rows.
func (s *Service) ProposeMove(ctx context.Context, user, rowID, newBayID string, newStart, newEnd time.Time) (StagedOp, error) {
	return s.propose(ctx, "propose_move", user, func(a *Allocator) (StagedOp, error) {
		return a.ProposeMove(rowID, newBayID, newStart, newEnd)
	})
}

// ProposeResize validates and stages new dates for a row in its current bay.
func (s *Service) ProposeResize(ctx context.Context, user, rowID string, newStart, newEnd time.Time) (StagedOp, error) {
	return s.propose(ctx, "propose_resize", user, func(a *Allocator) (StagedOp, error) {
		return a.ProposeResize(rowID, newStart, newEnd)
	})
}

// ProposeDelete stages removing a row and unchaining its followers.
func (s *Service) ProposeDelete(ctx context.Context, user, rowID string) (StagedOp, error) {
	return s.propose(ctx, "propose_delete", user, func(a *Allocator) (StagedOp, error) {
		return a.ProposeDelete(rowID)
	})
}

// ProposeBayCreate stages a new bay.
func (s *Service) ProposeBayCreate(ctx context.Context, user string, bay Bay) (StagedOp, error) {
	return s.propose(ctx, "propose_bay_create", user, func(a *Allocator) (StagedOp, error) {
		return a.ProposeBayCreate(bay)
	})
}

// ProposeBayUpdate stages a bay edit.
func (s *Service) ProposeBayUpdate(ctx context.Context, user, bayID string, mutator func(*Bay) error) (StagedOp, error) {
	return s.propose(ctx, "propose_bay_update", user, func(a *Allocator) (StagedOp, error) {
		return a.ProposeBayUpdate(bayID, mutator)
	})
}

// ProposeBayDelete stages removing a bay with no open rows.
func (s *Service) ProposeBayDelete(ctx context.Context, user, bayID string) (StagedOp, error) {
	return s.propose(ctx, "propose_bay_delete", user, func(a *Allocator) (StagedOp, error) {
		return a.ProposeBayDelete(bayID)
	})
}

// ProposeTeamStaffing stages a staffing change for every bay of a team.
func (s *Service) ProposeTeamStaffing(ctx context.Context, user, team string, staffing Staffing) (StagedOp, error) {
	return s.propose(ctx, "propose_team_staffing", user, func(a *Allocator) (StagedOp, error) {
		return a.ProposeTeamStaffing(team, staffing)
	})
}

// ComputeSandboxScheduleState derives a project's state from the user's
// working copy.
func (s *Service) ComputeSandboxScheduleState(ctx context.Context, user, projectID string) (ScheduleState, error) {
	var state ScheduleState
	err := s.sandbox.WorkingView(ctx, user, func(view TransactionView) error {
		state = scheduleStateIn(view, projectID, s.clock.Now())
		return nil
	})
	return state, err
}

// ComputeSandboxUtilization reports utilization of the user's working copy.
func (s *Service) ComputeSandboxUtilization(ctx context.Context, user string, window Window) (UtilizationReport, error) {
	var report UtilizationReport
	err := s.sandbox.WorkingView(ctx, user, func(view TransactionView) error {
		var err error
		report, err = BuildUtilizationReport(view.ListBays(), view.ListScheduleRows(), window)
		return err
	})
	return report, err
}

// Batch groups records written in one all-or-nothing transaction.
type Batch struct {
	Projects     []Project     `json:"projects,omitempty" yaml:"projects"`
	Bays         []Bay         `json:"bays,omitempty" yaml:"bays"`
	ScheduleRows []ScheduleRow `json:"schedule_rows,omitempty" yaml:"schedule_rows"`
}

// BatchRefs names records removed by DeleteBatch.
type BatchRefs struct {
	BayIDs         []string `json:"bay_ids,omitempty" yaml:"bay_ids"`
	ScheduleRowIDs []string `json:"schedule_row_ids,omitempty" yaml:"schedule_row_ids"`
}

func (b Batch) size() int { return len(b.Projects) + len(b.Bays) + len(b.ScheduleRows) }

// CreateBatch inserts projects, then bays, then schedule rows.
func (s *Service) CreateBatch(ctx context.Context, batch Batch) (Batch, Result, error) {
	var created Batch
	var res Result
	err := s.run(ctx, "create_batch", "", func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			created = Batch{}
			for _, p := range batch.Projects {
				out, err := tx.CreateProject(p)
				if err != nil {
					return fmt.Errorf("create project %s: %w", p.ID, err)
				}
				created.Projects = append(created.Projects, out)
			}
			for _, b := range batch.Bays {
				out, err := tx.CreateBay(b)
				if err != nil {
					return fmt.Errorf("create bay %s: %w", b.Name, err)
				}
				created.Bays = append(created.Bays, out)
			}
			for _, r := range batch.ScheduleRows {
				out, err := tx.CreateScheduleRow(r)
				if err != nil {
					return fmt.Errorf("create schedule row %s: %w", r.ID, err)
				}
				created.ScheduleRows = append(created.ScheduleRows, out)
			}
			return nil
		})
		return fmt.Sprintf("%d records", batch.size()), err
	})
	return created, res, err
}

// UpdateBatch replaces each record by ID. Missing IDs fail the whole batch.
func (s *Service) UpdateBatch(ctx context.Context, batch Batch) (Batch, Result, error) {
	var updated Batch
	var res Result
	err := s.run(ctx, "update_batch", "", func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			updated = Batch{}
			for _, p := range batch.Projects {
				out, err := tx.UpdateProject(p.ID, func(cur *Project) error {
					*cur = p
					return nil
				})
				if err != nil {
					return err
				}
				updated.Projects = append(updated.Projects, out)
			}
			for _, b := range batch.Bays {
				out, err := tx.UpdateBay(b.ID, func(cur *Bay) error {
					*cur = b
					return nil
				})
				if err != nil {
					return err
				}
				updated.Bays = append(updated.Bays, out)
			}
			for _, r := range batch.ScheduleRows {
				out, err := tx.UpdateScheduleRow(r.ID, func(cur *ScheduleRow) error {
					*cur = r
					return nil
				})
				if err != nil {
					return err
				}
				updated.ScheduleRows = append(updated.ScheduleRows, out)
			}
			return nil
		})
		return fmt.Sprintf("%d records", batch.size()), err
	})
	return updated, res, err
}

// DeleteBatch removes schedule rows before bays so a bay emptied in the same
// batch can be deleted.
func (s *Service) DeleteBatch(ctx context.Context, refs BatchRefs) (Result, error) {
	var res Result
	err := s.run(ctx, "delete_batch", "", func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			for _, id := range refs.ScheduleRowIDs {
				if err := tx.DeleteScheduleRow(id); err != nil {
					return err
				}
			}
			for _, id := range refs.BayIDs {
				if err := tx.DeleteBay(id); err != nil {
					return err
				}
			}
			return nil
		})
		return fmt.Sprintf("%d records", len(refs.BayIDs)+len(refs.ScheduleRowIDs)), err
	})
	return res, err
}
