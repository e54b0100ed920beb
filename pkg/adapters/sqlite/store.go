// Package sqlite provides ExecutionStore and GraphStore implementations backed
// by SQLite.
//
// It expects an *sql.DB opened with a SQLite driver. Open wires in the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/bytedance/sonic"

	_ "modernc.org/sqlite"
)

// Open opens a SQLite database at path. ":memory:" is limited to a single
// connection so every query sees the same database.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure sqlite: %w", err)
	}
	return db, nil
}

// Store is an ExecutionStore backed by SQLite. The full record is kept as a
// JSON document next to the columns used for lookups.
type Store struct {
	db *sql.DB
}

var _ ports.ExecutionStore = (*Store)(nil)

// NewStore initializes the required schema in db and returns a new Store.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			company_id TEXT NOT NULL,
			status TEXT NOT NULL,
			revision INTEGER NOT NULL,
			last_interaction_at INTEGER NOT NULL,
			document BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS executions_status ON executions (status);`,
	)
	if err != nil {
		return fmt.Errorf("failed to create executions schema: %w", err)
	}
	return nil
}

// Save inserts a new record when exec.Revision is zero and otherwise updates
// the row only if the stored revision still matches.
func (s *Store) Save(ctx context.Context, exec *domain.Execution) error {
	next := exec.Revision + 1
	stored := *exec
	stored.Revision = next
	doc, err := sonic.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	var res sql.Result
	if exec.Revision == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO executions (id, company_id, status, revision, last_interaction_at, document)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`,
			exec.ID, exec.CompanyID, string(exec.Status), next, exec.LastInteractionAt.UnixMilli(), doc,
		)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE executions
			SET company_id = ?, status = ?, revision = ?, last_interaction_at = ?, document = ?
			WHERE id = ? AND revision = ?`,
			exec.CompanyID, string(exec.Status), next, exec.LastInteractionAt.UnixMilli(), doc,
			exec.ID, exec.Revision,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", exec.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrConflict
	}
	exec.Revision = next
	return nil
}

// Load retrieves an execution by ID.
func (s *Store) Load(ctx context.Context, executionID string) (*domain.Execution, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT document FROM executions WHERE id = ?`, executionID).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}

	var exec domain.Execution
	if err := sonic.Unmarshal(doc, &exec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", executionID, err)
	}
	if exec.SessionVariables == nil {
		exec.SessionVariables = map[string]any{}
	}
	return &exec, nil
}

// ListByStatus returns execution IDs in status, ordered by ID.
func (s *Store) ListByStatus(ctx context.Context, status domain.ExecutionStatus) ([]string, error) {
	return s.queryIDs(ctx, `SELECT id FROM executions WHERE status = ? ORDER BY id`, string(status))
}

// ListIdle returns waiting executions whose last interaction is before cutoff.
func (s *Store) ListIdle(ctx context.Context, cutoff time.Time) ([]string, error) {
	return s.queryIDs(ctx, `
		SELECT id FROM executions
		WHERE status = ? AND last_interaction_at < ?
		ORDER BY id`,
		string(domain.StatusWaitingInput), cutoff.UnixMilli())
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
