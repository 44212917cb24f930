package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-teg/internal/tedapi"
)

// writeTimeout bounds one commit-hook write.
const writeTimeout = 5 * time.Second

// ErrUnknownKind is returned for rows whose kind is not a document kind.
var ErrUnknownKind = errors.New("snapshot: unknown document kind")

// Repository defines snapshot persistence operations.
type Repository interface {
	Save(ctx context.Context, doc tedapi.Document) error
	Get(ctx context.Context, kind tedapi.DocumentKind) (*tedapi.Document, error)
	List(ctx context.Context) ([]tedapi.Document, error)
	Delete(ctx context.Context, kinds ...tedapi.DocumentKind) (int64, error)
}

// Logger is the logging interface used by the store.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// SQLiteRepository implements Repository on the documents table.
type SQLiteRepository struct {
	db     *sql.DB
	logger Logger
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, logger: noopLogger{}}
}

// SetLogger sets the logger for commit-hook failures.
func (r *SQLiteRepository) SetLogger(l Logger) {
	if l != nil {
		r.logger = l
	}
}

// Save upserts doc. The value is stored as JSON and the fetch time as Unix
// milliseconds.
func (r *SQLiteRepository) Save(ctx context.Context, doc tedapi.Document) error {
	if !doc.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, doc.Kind)
	}
	body, err := json.Marshal(doc.Value)
	if err != nil {
		return fmt.Errorf("encoding %s document: %w", doc.Kind, err)
	}

	const query = `INSERT INTO documents (kind, body, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT(kind) DO UPDATE SET body = excluded.body, fetched_at = excluded.fetched_at`
	if _, err := r.db.ExecContext(ctx, query, string(doc.Kind), string(body), doc.FetchedAt.UnixMilli()); err != nil {
		return fmt.Errorf("saving %s document: %w", doc.Kind, err)
	}
	return nil
}

// Get returns the stored document of kind, or nil if there is none.
func (r *SQLiteRepository) Get(ctx context.Context, kind tedapi.DocumentKind) (*tedapi.Document, error) {
	const query = `SELECT kind, body, fetched_at FROM documents WHERE kind = ?`
	doc, err := scanDocument(r.db.QueryRowContext(ctx, query, string(kind)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // absence is not an error
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// List returns every stored document ordered by kind.
func (r *SQLiteRepository) List(ctx context.Context) ([]tedapi.Document, error) {
	const query = `SELECT kind, body, fetched_at FROM documents ORDER BY kind`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []tedapi.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if errors.Is(err, ErrUnknownKind) {
			r.logger.Warn("skipping stored document", "error", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

// Delete removes the given kinds, or every row when none are given.
func (r *SQLiteRepository) Delete(ctx context.Context, kinds ...tedapi.DocumentKind) (int64, error) {
	if len(kinds) == 0 {
		res, err := r.db.ExecContext(ctx, `DELETE FROM documents`)
		if err != nil {
			return 0, fmt.Errorf("deleting documents: %w", err)
		}
		return res.RowsAffected()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting delete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	var total int64
	for _, k := range kinds {
		res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE kind = ?`, string(k))
		if err != nil {
			return 0, fmt.Errorf("deleting %s document: %w", k, err)
		}
		n, _ := res.RowsAffected() //nolint:errcheck // sqlite always reports it
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing delete: %w", err)
	}
	return total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*tedapi.Document, error) {
	var (
		kind      string
		body      string
		fetchedAt int64
	)
	if err := row.Scan(&kind, &body, &fetchedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}

	k := tedapi.DocumentKind(kind)
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	value, err := decodeValue(k, []byte(body))
	if err != nil {
		return nil, err
	}
	return &tedapi.Document{
		Kind:      k,
		Value:     value,
		FetchedAt: time.UnixMilli(fetchedAt),
	}, nil
}

// decodeValue restores the in-memory type the client caches for kind:
// *tedapi.Firmware for firmware, generic JSON for everything else.
func decodeValue(kind tedapi.DocumentKind, body []byte) (any, error) {
	if kind == tedapi.KindFirmware {
		var fw *tedapi.Firmware
		if err := json.Unmarshal(body, &fw); err != nil {
			return nil, fmt.Errorf("decoding firmware document: %w", err)
		}
		if fw == nil {
			return nil, nil
		}
		return fw, nil
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decoding %s document: %w", kind, err)
	}
	return v, nil
}
