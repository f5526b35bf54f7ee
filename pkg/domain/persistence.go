package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateBay(Bay) (Bay, error)
	UpdateBay(id string, mutator func(*Bay) error) (Bay, error)
	DeleteBay(id string) error
	CreateScheduleRow(ScheduleRow) (ScheduleRow, error)
	UpdateScheduleRow(id string, mutator func(*ScheduleRow) error) (ScheduleRow, error)
	DeleteScheduleRow(id string) error
	CreateProject(Project) (Project, error)
	UpdateProject(id string, mutator func(*Project) error) (Project, error)
	FindBay(id string) (Bay, bool)
	FindScheduleRow(id string) (ScheduleRow, bool)
	FindProject(id string) (Project, bool)
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	ListBays() []Bay
	ListScheduleRows() []ScheduleRow
	ListProjects() []Project
	FindBay(id string) (Bay, bool)
	FindScheduleRow(id string) (ScheduleRow, bool)
	FindProject(id string) (Project, bool)
}

// ProjectSource is the read-only project collaborator consumed by the core.
type ProjectSource interface {
	GetProject(id string) (Project, bool)
	ListProjects() []Project
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	ProjectSource
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetBay(id string) (Bay, bool)
	ListBays() []Bay
	GetScheduleRow(id string) (ScheduleRow, bool)
	ListScheduleRows() []ScheduleRow
}
