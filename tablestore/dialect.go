package tablestore

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"net"
	"strings"

	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"
	"go.strata.dev/core/fault"
)

// Dialect abstracts over the differences between supported relational
// backends: placeholder syntax, catalog queries, array representation, and
// the mapping of driver errors onto the fault taxonomy.
type Dialect interface {
	// Name identifies the dialect ("postgres" or "sqlite3"), matching the
	// database/sql driver name used to open it.
	Name() string
	// Placeholder returns the parameter placeholder for 1-indexed position |i|.
	Placeholder(i int) string
	// ListTablesQuery returns a query yielding one row per user table, with
	// the table name as its single column.
	ListTablesQuery() string
	// ChangesDDL returns the idempotent DDL of the content_changes table.
	ChangesDDL() string
	// ListColumn adapts a []string for use as a bound parameter, and
	// ListScanner adapts a *[]string for scanning a result column.
	ListColumn(ids []string) interface{}
	ListScanner(dest *[]string) interface{}
	// Classify maps a backend error onto the fault taxonomy.
	Classify(err error) fault.Kind
}

// Postgres is the Dialect of a PostgreSQL backend via github.com/lib/pq.
type Postgres struct{}

func (Postgres) Name() string             { return "postgres" }
func (Postgres) Placeholder(i int) string { return fmt.Sprintf("$%d", i) }

func (Postgres) ListTablesQuery() string {
	return `SELECT tablename FROM pg_catalog.pg_tables WHERE schemaname = current_schema();`
}

func (Postgres) ChangesDDL() string {
	return `CREATE TABLE IF NOT EXISTS content_changes (
	version_id TEXT PRIMARY KEY,
	added      TEXT[] NOT NULL,
	modified   TEXT[] NOT NULL,
	deleted    TEXT[] NOT NULL,
	created_at TEXT NOT NULL
);`
}

func (Postgres) ListColumn(ids []string) interface{} {
	if ids == nil {
		ids = []string{} // pq.Array encodes nil as SQL NULL.
	}
	return pq.Array(ids)
}
func (Postgres) ListScanner(dest *[]string) interface{} { return pq.Array(dest) }

func (Postgres) Classify(err error) fault.Kind {
	if kind, ok := classifyCommon(err); ok {
		return kind
	}
	var pqErr, ok = err.(*pq.Error)
	if !ok {
		return fault.Other
	}
	switch pqErr.Code {
	case "42P01": // undefined_table
		return fault.NotFound
	case "42P07": // duplicate_table
		return fault.Conflict
	case "40001", "40P01", "57P01", "57P02", "57P03", "53300":
		// Serialization failures, deadlocks, and server shutdown or
		// connection exhaustion all clear on retry.
		return fault.Transient
	}
	switch pqErr.Code.Class() {
	case "08": // Connection exceptions.
		return fault.Transient
	case "42": // Syntax or access-rule violation: a malformed DDL statement.
		return fault.Fatal
	}
	return fault.Other
}

// SQLite is the Dialect of a SQLite backend via github.com/mattn/go-sqlite3.
// It doubles as the hermetic test backend of the orchestrator suite.
type SQLite struct{}

func (SQLite) Name() string           { return "sqlite3" }
func (SQLite) Placeholder(int) string { return "?" }

func (SQLite) ListTablesQuery() string {
	return `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%';`
}

func (SQLite) ChangesDDL() string {
	// SQLite has no array type; element lists are stored as JSON text.
	return `CREATE TABLE IF NOT EXISTS content_changes (
	version_id TEXT PRIMARY KEY,
	added      TEXT NOT NULL,
	modified   TEXT NOT NULL,
	deleted    TEXT NOT NULL,
	created_at TEXT NOT NULL
);`
}

func (SQLite) ListColumn(ids []string) interface{}    { return jsonList{ids: &ids} }
func (SQLite) ListScanner(dest *[]string) interface{} { return jsonList{ids: dest} }

func (SQLite) Classify(err error) fault.Kind {
	if kind, ok := classifyCommon(err); ok {
		return kind
	}
	var sqErr, ok = err.(sqlite3.Error)
	if !ok {
		return fault.Other
	}
	switch sqErr.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrProtocol:
		return fault.Transient
	case sqlite3.ErrError:
		// SQLite reports missing and duplicate tables as generic errors;
		// the message is the only signal.
		var msg = sqErr.Error()
		if strings.Contains(msg, "no such table") {
			return fault.NotFound
		} else if strings.Contains(msg, "already exists") {
			return fault.Conflict
		}
	}
	return fault.Other
}

// classifyCommon handles driver-independent error shapes.
func classifyCommon(err error) (fault.Kind, bool) {
	if err == driver.ErrBadConn {
		return fault.Transient, true
	}
	if _, ok := err.(net.Error); ok {
		return fault.Transient, true
	}
	if err == context.DeadlineExceeded {
		return fault.Transient, true
	}
	return fault.Other, false
}

// jsonList stores a []string as a JSON document. It implements both
// driver.Valuer and sql.Scanner.
type jsonList struct{ ids *[]string }

func (l jsonList) Value() (driver.Value, error) {
	if *l.ids == nil {
		return "[]", nil
	}
	var b, err = json.Marshal(*l.ids)
	return string(b), err
}

func (l jsonList) Scan(src interface{}) error {
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T as a string list", src)
	}
	return json.Unmarshal(b, l.ids)
}
