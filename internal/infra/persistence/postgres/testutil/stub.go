// Package testutil provides a stub database/sql driver that understands the
// statements issued by the postgres bay store: schema creation, truncation of
// the entity tables, id/payload upserts, and id/payload selects.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

var entityTables = map[string]bool{
	"bays":          true,
	"schedule_rows": true,
	"projects":      true,
}

// StubConn keeps each entity table as an id to payload map. Writes issued
// inside a transaction are staged and only become visible on Commit.
type StubConn struct {
	Execs      []string
	Tables     map[string]map[string][]byte
	FailExec   bool
	FailBegin  bool
	FailCommit bool
	FailTables map[string]bool
	RowsErr    error

	staged map[string]map[string][]byte
}

// NewStubDB registers a sql.DB backed by a fresh stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string]map[string][]byte)}
	name := fmt.Sprintf("stubpg%d", time.Now().UnixNano())
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error {
	if c.FailExec {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(_ context.Context, _ driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	c.staged = cloneTables(c.Tables)
	return &stubTx{conn: c}, nil
}

func (c *StubConn) target() map[string]map[string][]byte {
	if c.staged != nil {
		return c.staged
	}
	if c.Tables == nil {
		c.Tables = make(map[string]map[string][]byte)
	}
	return c.Tables
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	fields := strings.Fields(query)
	if len(fields) < 3 {
		return nil, fmt.Errorf("unsupported statement: %s", query)
	}
	tables := c.target()
	switch strings.ToUpper(fields[0]) {
	case "CREATE":
		head := query
		if open := strings.Index(query, "("); open != -1 {
			head = query[:open]
		}
		words := strings.Fields(head)
		table, err := entityTable(words[len(words)-1])
		if err != nil {
			return nil, err
		}
		if tables[table] == nil {
			tables[table] = make(map[string][]byte)
		}
		return driver.RowsAffected(0), nil
	case "TRUNCATE":
		list := strings.TrimSpace(query[strings.Index(strings.ToUpper(query), "TABLE")+len("TABLE"):])
		for _, name := range strings.Split(list, ",") {
			table, err := entityTable(name)
			if err != nil {
				return nil, err
			}
			tables[table] = make(map[string][]byte)
		}
		return driver.RowsAffected(0), nil
	case "INSERT":
		table, err := entityTable(strings.Split(fields[2], "(")[0])
		if err != nil {
			return nil, err
		}
		if c.FailTables[table] {
			return nil, fmt.Errorf("exec fail for %s", table)
		}
		if len(args) != 2 {
			return nil, fmt.Errorf("insert %s expects id and payload, got %d args", table, len(args))
		}
		id, ok := args[0].Value.(string)
		if !ok {
			return nil, fmt.Errorf("insert %s: id must be text", table)
		}
		payload, ok := args[1].Value.([]byte)
		if !ok {
			return nil, fmt.Errorf("insert %s: payload must be bytes", table)
		}
		if _, exists := tables[table][id]; exists && !strings.Contains(strings.ToUpper(query), "ON CONFLICT") {
			return nil, fmt.Errorf("duplicate key %s in %s", id, table)
		}
		if tables[table] == nil {
			tables[table] = make(map[string][]byte)
		}
		tables[table][id] = append([]byte(nil), payload...)
		return driver.RowsAffected(1), nil
	}
	return nil, fmt.Errorf("unsupported statement: %s", query)
}

// QueryContext implements driver.QueryerContext for `SELECT id, payload FROM <table>`.
func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	lower := strings.ToLower(strings.Join(strings.Fields(query), " "))
	const prefix = "select id, payload from "
	if !strings.HasPrefix(lower, prefix) {
		return nil, fmt.Errorf("unsupported query: %s", query)
	}
	table, err := entityTable(strings.Fields(lower[len(prefix):])[0])
	if err != nil {
		return nil, err
	}
	if c.FailTables[table] {
		return nil, fmt.Errorf("query fail for %s", table)
	}
	rows := c.target()[table]
	ids := make([]string, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	values := make([][]driver.Value, 0, len(ids))
	for _, id := range ids {
		values = append(values, []driver.Value{id, rows[id]})
	}
	return &stubRows{rows: values, err: c.RowsErr}, nil
}

func entityTable(name string) (string, error) {
	table := strings.ToLower(strings.TrimSpace(name))
	if !entityTables[table] {
		return "", fmt.Errorf("unknown table %q", table)
	}
	return table, nil
}

func cloneTables(in map[string]map[string][]byte) map[string]map[string][]byte {
	out := make(map[string]map[string][]byte, len(in))
	for table, rows := range in {
		copied := make(map[string][]byte, len(rows))
		for id, payload := range rows {
			copied[id] = payload
		}
		out[table] = copied
	}
	return out
}

type stubTx struct {
	conn *StubConn
}

func (t *stubTx) Commit() error {
	staged := t.conn.staged
	t.conn.staged = nil
	if t.conn.FailCommit {
		return fmt.Errorf("commit fail")
	}
	t.conn.Tables = staged
	return nil
}

func (t *stubTx) Rollback() error {
	t.conn.staged = nil
	return nil
}

type stubRows struct {
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return []string{"id", "payload"} }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}
