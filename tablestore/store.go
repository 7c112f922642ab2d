// Package tablestore is the capability adapter over the relational backend.
// It exposes table-level DDL (create, rename, copy-as, drop) and the two row
// operations the versioning core needs: appending validated content records
// and fetching their comparison digests. Table identity is always a plain
// string name; there is one fixed schema, and generation role is carried by
// the table name rather than by any persisted state.
//
// Each operation is backend-transactional for its single statement, but no
// multi-statement transaction spans calls: the promotion protocol is designed
// around that limitation.
package tablestore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.strata.dev/core/fault"
	"go.strata.dev/core/record"
)

// contentSchema is the fixed schema of every generation table. The column
// types are deliberately portable across the supported dialects.
const contentSchema = `(
	element_id   TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	url          TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	checksum     TEXT NOT NULL,
	parent_id    TEXT,
	title        TEXT,
	language     TEXT,
	word_count   BIGINT NOT NULL DEFAULT 0,
	pdf_count    BIGINT NOT NULL DEFAULT 0,
	image_count  BIGINT NOT NULL DEFAULT 0,
	table_count  BIGINT NOT NULL DEFAULT 0,
	link_count   BIGINT NOT NULL DEFAULT 0
)`

// maxAttempts bounds local retries of transient backend errors.
const maxAttempts = 5

var identRegexp = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// Store adapts a database/sql handle and its Dialect into the table
// capability interface.
type Store struct {
	DB      *sql.DB
	Dialect Dialect
}

// NewStore returns a Store over |db| using |dialect|.
func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{DB: db, Dialect: dialect}
}

// Exists returns whether table |name| exists.
func (s *Store) Exists(ctx context.Context, name string) (exists bool, err error) {
	if err = checkIdent(name); err != nil {
		return false, err
	}
	err = s.retry(ctx, "exists", func() error {
		var tables, err = s.list(ctx)
		if err != nil {
			return err
		}
		_, exists = tables[name]
		return nil
	})
	return exists, err
}

// List returns the names of existing tables having |prefixFilter| as a name
// prefix, sorted. An empty filter lists every table.
func (s *Store) List(ctx context.Context, prefixFilter string) (names []string, err error) {
	err = s.retry(ctx, "list", func() error {
		var tables, err = s.list(ctx)
		if err != nil {
			return err
		}
		names = names[:0]
		for name := range tables {
			if strings.HasPrefix(name, prefixFilter) {
				names = append(names, name)
			}
		}
		return nil
	})
	sort.Strings(names)
	return names, err
}

func (s *Store) list(ctx context.Context) (map[string]struct{}, error) {
	var rows, err = s.DB.QueryContext(ctx, s.Dialect.ListTablesQuery())
	if err != nil {
		return nil, s.classify(err)
	}
	defer rows.Close()

	var tables = make(map[string]struct{})
	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, s.classify(err)
		}
		tables[name] = struct{}{}
	}
	return tables, s.classify(rows.Err())
}

// Create creates table |name| with the fixed content schema. It fails with
// Conflict if the table already exists.
func (s *Store) Create(ctx context.Context, name string) error {
	if err := checkIdent(name); err != nil {
		return err
	}
	return s.retry(ctx, "create", func() error {
		var tables, err = s.list(ctx)
		if err != nil {
			return err
		}
		if _, ok := tables[name]; ok {
			return fault.Errorf(fault.Conflict, "table %q already exists", name)
		}
		_, err = s.DB.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s %s;", name, contentSchema))
		return s.classify(err)
	})
}

// Rename renames table |old| to |new| with a single DDL statement, atomic at
// the backend level. Rename is not naturally idempotent, so each attempt
// first re-derives whether a prior attempt already completed by checking
// which of the two names currently exists.
func (s *Store) Rename(ctx context.Context, old, new string) error {
	if err := checkIdent(old); err != nil {
		return err
	} else if err = checkIdent(new); err != nil {
		return err
	}

	var attempt int
	for {
		var tables, err = s.list(ctx)
		if err == nil {
			var _, oldEx = tables[old]
			var _, newEx = tables[new]

			switch {
			case !oldEx && newEx:
				return nil // A prior attempt completed.
			case !oldEx:
				return fault.Errorf(fault.NotFound, "table %q is absent", old)
			case newEx:
				return fault.Errorf(fault.Conflict, "table %q already exists", new)
			}
			_, err = s.DB.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s;", old, new))
			err = s.classify(err)
		}
		if err == nil {
			return nil
		} else if !fault.IsTransient(err) || attempt+1 == maxAttempts {
			return fault.Annotate(err, fmt.Sprintf("renaming table %q to %q", old, new))
		}
		if err = sleep(ctx, backoff(attempt)); err != nil {
			return err
		}
		attempt++
	}
}

// CopyAs creates table |dst| as a structural and data copy of |src|. It fails
// with NotFound if |src| is absent, and Conflict if |dst| exists.
func (s *Store) CopyAs(ctx context.Context, src, dst string) error {
	if err := checkIdent(src); err != nil {
		return err
	} else if err = checkIdent(dst); err != nil {
		return err
	}
	return s.retry(ctx, "copy-as", func() error {
		var tables, err = s.list(ctx)
		if err != nil {
			return err
		}
		if _, ok := tables[src]; !ok {
			return fault.Errorf(fault.NotFound, "table %q is absent", src)
		}
		if _, ok := tables[dst]; ok {
			return fault.Errorf(fault.Conflict, "table %q already exists", dst)
		}
		_, err = s.DB.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s;", dst, src))
		return s.classify(err)
	})
}

// Drop drops table |name|. It fails with NotFound if the table is absent.
// Retries are safe: a retried drop observing an absent table after a prior
// attempt succeeded treats the drop as complete.
func (s *Store) Drop(ctx context.Context, name string) error {
	if err := checkIdent(name); err != nil {
		return err
	}
	var dropped bool
	return s.retry(ctx, "drop", func() error {
		var tables, err = s.list(ctx)
		if err != nil {
			return err
		}
		if _, ok := tables[name]; !ok {
			if dropped {
				return nil
			}
			return fault.Errorf(fault.NotFound, "table %q is absent", name)
		}
		_, err = s.DB.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s;", name))
		dropped = err == nil
		return s.classify(err)
	})
}

// contentColumns orders the columns of the fixed schema for inserts & scans.
var contentColumns = []string{
	"element_id", "type", "url", "storage_path", "checksum", "parent_id",
	"title", "language", "word_count", "pdf_count", "image_count",
	"table_count", "link_count",
}

// InsertRecords validates and appends |recs| into table |name| within a
// single transaction. It is the producer-facing write path: records which
// fail validation never enter the table.
func (s *Store) InsertRecords(ctx context.Context, name string, recs []record.ContentRecord) error {
	if err := checkIdent(name); err != nil {
		return err
	}
	for i := range recs {
		if err := recs[i].Validate(); err != nil {
			return err
		}
	}

	var params = make([]string, len(contentColumns))
	for i := range params {
		params[i] = s.Dialect.Placeholder(i + 1)
	}
	var stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);",
		name, strings.Join(contentColumns, ", "), strings.Join(params, ", "))

	return s.retry(ctx, "insert-records", func() error {
		var txn, err = s.DB.BeginTx(ctx, nil)
		if err != nil {
			return s.classify(err)
		}
		for i := range recs {
			var r = &recs[i]
			if _, err = txn.ExecContext(ctx, stmt,
				r.ElementID, r.Type.String(), r.URL, r.StoragePath, r.Checksum,
				nullable(r.ParentID), nullable(r.Title), nullable(r.Language),
				r.WordCount, r.PDFCount, r.ImageCount, r.TableCount, r.LinkCount,
			); err != nil {
				_ = txn.Rollback()
				return s.classify(err)
			}
		}
		return s.classify(txn.Commit())
	})
}

// FetchDigests reads the comparison digest of every record in table |name|,
// keyed on element id. It fails with NotFound if the table is absent.
func (s *Store) FetchDigests(ctx context.Context, name string) (digests map[string]record.Digest, err error) {
	if err = checkIdent(name); err != nil {
		return nil, err
	}
	var stmt = fmt.Sprintf("SELECT %s FROM %s;", strings.Join(contentColumns, ", "), name)

	err = s.retry(ctx, "fetch-digests", func() error {
		var rows, err = s.DB.QueryContext(ctx, stmt)
		if err != nil {
			return s.classify(err)
		}
		defer rows.Close()

		digests = make(map[string]record.Digest)
		for rows.Next() {
			var r record.ContentRecord
			var typeName string
			var parentID, title, language sql.NullString

			if err = rows.Scan(&r.ElementID, &typeName, &r.URL, &r.StoragePath,
				&r.Checksum, &parentID, &title, &language, &r.WordCount,
				&r.PDFCount, &r.ImageCount, &r.TableCount, &r.LinkCount,
			); err != nil {
				return s.classify(err)
			}
			if r.Type, err = record.ParseArtifactType(typeName); err != nil {
				return err
			}
			r.ParentID, r.Title, r.Language = parentID.String, title.String, language.String
			digests[r.ElementID] = r.Digest()
		}
		return s.classify(rows.Err())
	})
	return digests, err
}

// retry runs |fn| with bounded attempts, backing off on transient errors.
// Non-transient errors surface immediately.
func (s *Store) retry(ctx context.Context, op string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		var err = fn()
		if err == nil || !fault.IsTransient(err) || attempt+1 == maxAttempts {
			return fault.Annotate(err, op)
		}
		if err = sleep(ctx, backoff(attempt)); err != nil {
			return err
		}
	}
}

func (s *Store) classify(err error) error {
	if err == nil {
		return nil
	}
	return fault.WithKind(s.Dialect.Classify(err), err)
}

func checkIdent(name string) error {
	if !identRegexp.MatchString(name) {
		return fault.Errorf(fault.Fatal, "invalid table name %q", name)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func sleep(ctx context.Context, d time.Duration) error {
	var timer = time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return errors.WithMessage(ctx.Err(), "while backing off")
	}
}

func backoff(attempt int) time.Duration {
	// The early attempts cover momentary connection blips; the later ones
	// give a restarting backend time to come back.
	switch attempt {
	case 0, 1:
		return time.Millisecond * 50
	case 2, 3:
		return time.Millisecond * 500
	default:
		return time.Second * 5
	}
}
