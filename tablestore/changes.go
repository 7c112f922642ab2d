package tablestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.strata.dev/core/fault"
	"go.strata.dev/core/record"
)

// changesTable is the append-only audit table of promotion ChangeSets.
// Rows are inserted once per promotion and never updated or deleted;
// retention does not touch it.
const changesTable = "content_changes"

// EnsureChangesTable creates the ChangeSet audit table if it is absent.
func (s *Store) EnsureChangesTable(ctx context.Context) error {
	return s.retry(ctx, "ensure-changes-table", func() error {
		var _, err = s.DB.ExecContext(ctx, s.Dialect.ChangesDDL())
		return s.classify(err)
	})
}

// InsertChangeSet persists |cs| as an immutable audit record. Re-inserting an
// already persisted version id is a no-op if the stored record is identical
// (a retried promotion step), and fails with Conflict otherwise.
func (s *Store) InsertChangeSet(ctx context.Context, cs record.ChangeSet) error {
	var params = make([]string, 5)
	for i := range params {
		params[i] = s.Dialect.Placeholder(i + 1)
	}
	var stmt = fmt.Sprintf(
		"INSERT INTO %s (version_id, added, modified, deleted, created_at) VALUES (%s);",
		changesTable, strings.Join(params, ", "))

	return s.retry(ctx, "insert-changeset", func() error {
		var _, err = s.DB.ExecContext(ctx, stmt,
			cs.VersionID,
			s.Dialect.ListColumn(cs.Added),
			s.Dialect.ListColumn(cs.Modified),
			s.Dialect.ListColumn(cs.Deleted),
			cs.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		err = s.classify(err)

		if err != nil && (fault.IsConflict(err) || isUniqueViolation(err)) {
			// A prior attempt of this promotion may have already persisted
			// the record. Equal content means the insert is simply done.
			if prior, getErr := s.GetChangeSet(ctx, cs.VersionID); getErr == nil && equalChangeSets(prior, cs) {
				return nil
			}
			return fault.Errorf(fault.Conflict, "changeset %q is already persisted with different content", cs.VersionID)
		}
		return err
	})
}

// GetChangeSet fetches the ChangeSet persisted for |versionID|.
func (s *Store) GetChangeSet(ctx context.Context, versionID string) (cs record.ChangeSet, err error) {
	var stmt = fmt.Sprintf(
		"SELECT version_id, added, modified, deleted, created_at FROM %s WHERE version_id = %s;",
		changesTable, s.Dialect.Placeholder(1))

	err = s.retry(ctx, "get-changeset", func() error {
		var createdAt string
		var err = s.DB.QueryRowContext(ctx, stmt, versionID).Scan(
			&cs.VersionID,
			s.Dialect.ListScanner(&cs.Added),
			s.Dialect.ListScanner(&cs.Modified),
			s.Dialect.ListScanner(&cs.Deleted),
			&createdAt,
		)
		if err == sql.ErrNoRows {
			return fault.Errorf(fault.NotFound, "no changeset for version %q", versionID)
		} else if err != nil {
			return s.classify(err)
		}
		cs.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		return err
	})
	return cs, err
}

// ListChangeSets returns every persisted ChangeSet, ordered by version id.
func (s *Store) ListChangeSets(ctx context.Context) (all []record.ChangeSet, err error) {
	var stmt = fmt.Sprintf(
		"SELECT version_id, added, modified, deleted, created_at FROM %s ORDER BY version_id ASC;",
		changesTable)

	err = s.retry(ctx, "list-changesets", func() error {
		var rows, err = s.DB.QueryContext(ctx, stmt)
		if err != nil {
			return s.classify(err)
		}
		defer rows.Close()

		all = all[:0]
		for rows.Next() {
			var cs record.ChangeSet
			var createdAt string
			if err = rows.Scan(
				&cs.VersionID,
				s.Dialect.ListScanner(&cs.Added),
				s.Dialect.ListScanner(&cs.Modified),
				s.Dialect.ListScanner(&cs.Deleted),
				&createdAt,
			); err != nil {
				return s.classify(err)
			}
			if cs.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
				return err
			}
			all = append(all, cs)
		}
		return s.classify(rows.Err())
	})
	return all, err
}

// isUniqueViolation sniffs primary-key violations which dialects report as
// unclassified errors.
func isUniqueViolation(err error) bool {
	var msg = err.Error()
	return strings.Contains(msg, "duplicate key") || // lib/pq.
		strings.Contains(msg, "UNIQUE constraint failed") // go-sqlite3.
}

func equalChangeSets(a, b record.ChangeSet) bool {
	return a.VersionID == b.VersionID &&
		equalLists(a.Added, b.Added) &&
		equalLists(a.Modified, b.Modified) &&
		equalLists(a.Deleted, b.Deleted)
}

func equalLists(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
