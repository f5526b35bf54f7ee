// Package postgres provides a Postgres-backed persistent store that mirrors the
// in-memory semantics while writing each entity to its own table.
package postgres

import (
	"bayplanner/internal/infra/persistence/memory"
	"bayplanner/pkg/domain"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with OpenPersistentStore defaults while allowing overrides via env.
	defaultDSN = "postgres://localhost/bayplanner?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

const (
	tableBays      = "bays"
	tableSchedules = "schedule_rows"
	tableProjects  = "projects"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS bays (
		id TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS schedule_rows (
		id TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`,
}

// Store persists state to Postgres while reusing the in-memory implementation
// for transactions. Tables are rewritten inside the memory store's commit, so
// a failed write leaves the in-process state untouched.
type Store struct {
	*memory.Store
	db *sql.DB
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN).
// It ensures the entity tables exist and hydrates the in-memory store from them.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureSchema(ctx, db); err != nil {
		return nil, err
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	s := &Store{Store: mem, db: db}
	mem.SetCommitHook(s.persist)
	return s, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func ensureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	snapshot := memory.Snapshot{
		Bays:      map[string]domain.Bay{},
		Schedules: map[string]domain.ScheduleRow{},
		Projects:  map[string]domain.Project{},
	}
	if err := loadTable(ctx, db, tableBays, func(id string, payload []byte) error {
		var b domain.Bay
		if err := json.Unmarshal(payload, &b); err != nil {
			return err
		}
		snapshot.Bays[id] = b
		return nil
	}); err != nil {
		return memory.Snapshot{}, err
	}
	if err := loadTable(ctx, db, tableSchedules, func(id string, payload []byte) error {
		var r domain.ScheduleRow
		if err := json.Unmarshal(payload, &r); err != nil {
			return err
		}
		snapshot.Schedules[id] = r
		return nil
	}); err != nil {
		return memory.Snapshot{}, err
	}
	if err := loadTable(ctx, db, tableProjects, func(id string, payload []byte) error {
		var p domain.Project
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		snapshot.Projects[id] = p
		return nil
	}); err != nil {
		return memory.Snapshot{}, err
	}
	return snapshot, nil
}

func loadTable(ctx context.Context, db *sql.DB, table string, decode func(id string, payload []byte) error) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT id, payload FROM %s`, table))
	if err != nil {
		return fmt.Errorf("select %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
		if len(payload) == 0 {
			continue
		}
		if err := decode(id, payload); err != nil {
			return fmt.Errorf("decode %s %s: %w", table, id, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", table, err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRow(ctx context.Context, exec execer, table, id string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", table, id, err)
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (id, payload) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload`, table)
	if _, err := exec.ExecContext(ctx, stmt, id, data); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

// persist rewrites every entity table from the state about to be committed.
func (s *Store) persist(ctx context.Context, snapshot memory.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `TRUNCATE TABLE schedule_rows, bays, projects`); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	for id, b := range snapshot.Bays {
		if err := insertRow(ctx, tx, tableBays, id, b); err != nil {
			return err
		}
	}
	for id, r := range snapshot.Schedules {
		if err := insertRow(ctx, tx, tableSchedules, id, r); err != nil {
			return err
		}
	}
	for id, p := range snapshot.Projects {
		if err := insertRow(ctx, tx, tableProjects, id, p); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
