package testutil

import (
	"context"
	"database/sql/driver"
	"strings"
	"testing"
)

func TestStubDBUpsertsAndSelectsPayloads(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()

	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if _, err := conn.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS bays (\n\tid TEXT PRIMARY KEY,\n\tpayload JSONB NOT NULL\n)", nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	upsert := "INSERT INTO bays (id, payload) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload"
	for _, payload := range []string{`{"name":"Bay 7"}`, `{"name":"Bay 7b"}`} {
		if _, err := conn.ExecContext(ctx, upsert, []driver.NamedValue{{Value: "bay-7"}, {Value: []byte(payload)}}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if got := string(conn.Tables["bays"]["bay-7"]); got != `{"name":"Bay 7b"}` {
		t.Fatalf("expected upsert to replace payload, got %s", got)
	}

	conn.Tables["bays"]["bay-1"] = []byte(`{}`)
	rows, err := conn.QueryContext(ctx, "SELECT id, payload FROM bays", nil)
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	defer func() { _ = rows.Close() }()
	dest := make([]driver.Value, 2)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if dest[0] != "bay-1" {
		t.Fatalf("expected rows ordered by id, got %v", dest[0])
	}
}

func TestStubDBTransactionsStageWrites(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	conn.Tables["projects"] = map[string][]byte{"p1": []byte(`{}`)}

	tx, err := conn.BeginTx(ctx, driver.TxOptions{})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := conn.ExecContext(ctx, "TRUNCATE TABLE schedule_rows, bays, projects", nil); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if len(conn.Tables["projects"]) != 1 {
		t.Fatalf("truncate must stay staged until commit")
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if len(conn.Tables["projects"]) != 1 {
		t.Fatalf("rollback must keep committed rows")
	}

	conn.FailCommit = true
	tx, _ = conn.BeginTx(ctx, driver.TxOptions{})
	if _, err := conn.ExecContext(ctx, "TRUNCATE TABLE projects", nil); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if err := tx.Commit(); err == nil {
		t.Fatalf("expected commit failure")
	}
	if len(conn.Tables["projects"]) != 1 {
		t.Fatalf("failed commit must not apply staged writes")
	}

	conn.FailCommit = false
	tx, _ = conn.BeginTx(ctx, driver.TxOptions{})
	if _, err := conn.ExecContext(ctx, "TRUNCATE TABLE projects", nil); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(conn.Tables["projects"]) != 0 {
		t.Fatalf("expected committed truncate, got %v", conn.Tables["projects"])
	}
}

func TestStubDBRejectsForeignStatements(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	if _, err := conn.ExecContext(ctx, "DELETE FROM bays WHERE id = $1", []driver.NamedValue{{Value: "b1"}}); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("expected unsupported statement, got %v", err)
	}
	if _, err := conn.ExecContext(ctx, "INSERT INTO widgets (id, payload) VALUES ($1, $2)", []driver.NamedValue{{Value: "o1"}, {Value: []byte(`{}`)}}); err == nil || !strings.Contains(err.Error(), "unknown table") {
		t.Fatalf("expected unknown table, got %v", err)
	}
	if _, err := conn.QueryContext(ctx, "SELECT name FROM bays", nil); err == nil {
		t.Fatalf("expected unsupported query")
	}
}
