package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/bytedance/sonic"
)

// ErrVersionExists is returned by Put when the graph version is already published.
var ErrVersionExists = errors.New("graph version already published")

// GraphStore is a GraphStore backed by SQLite. Rows are append-only.
type GraphStore struct {
	db *sql.DB
}

var _ ports.GraphStore = (*GraphStore)(nil)

// NewGraphStore initializes the graphs table in db.
func NewGraphStore(db *sql.DB) (*GraphStore, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS graphs (
			id TEXT NOT NULL,
			version INTEGER NOT NULL,
			company_id TEXT NOT NULL,
			document BLOB NOT NULL,
			PRIMARY KEY (id, version)
		);`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create graphs schema: %w", err)
	}
	return &GraphStore{db: db}, nil
}

// Put publishes a new graph version.
func (s *GraphStore) Put(ctx context.Context, g *domain.GraphDefinition) error {
	if g.ID == "" || g.Version <= 0 {
		return fmt.Errorf("graph %q: id and positive version required", g.ID)
	}
	doc, err := sonic.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to marshal graph %s: %w", g.ID, err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO graphs (id, version, company_id, document)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id, version) DO NOTHING`,
		g.ID, g.Version, g.CompanyID, doc,
	)
	if err != nil {
		return fmt.Errorf("failed to publish graph %s: %w", g.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("graph %s version %d: %w", g.ID, g.Version, ErrVersionExists)
	}
	return nil
}

// PublishAll archives every graph version not yet stored and returns how
// many were added. Archived versions are never overwritten: one offered with
// different content is reported with domain.ErrGraphVersionChanged after the
// remaining graphs have been published.
func (s *GraphStore) PublishAll(ctx context.Context, graphs []*domain.GraphDefinition) (int, error) {
	added := 0
	var changed []error
	for _, g := range graphs {
		err := s.Put(ctx, g)
		if errors.Is(err, ErrVersionExists) {
			archived, loadErr := s.Load(ctx, g.ID, g.Version)
			if loadErr != nil {
				return added, loadErr
			}
			if !sameGraph(archived, g) {
				changed = append(changed, fmt.Errorf("graph %s version %d: %w", g.ID, g.Version, domain.ErrGraphVersionChanged))
			}
			continue
		}
		if err != nil {
			return added, err
		}
		added++
	}
	return added, errors.Join(changed...)
}

func sameGraph(a, b *domain.GraphDefinition) bool {
	x, errA := sonic.ConfigStd.Marshal(a)
	y, errB := sonic.ConfigStd.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(x, y)
}

// Load returns the requested graph version.
func (s *GraphStore) Load(ctx context.Context, graphID string, version int) (*domain.GraphDefinition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT document FROM graphs WHERE id = ? AND version = ?`, graphID, version)
	return scanGraph(row, graphID)
}

// Latest returns the highest published version.
func (s *GraphStore) Latest(ctx context.Context, graphID string) (*domain.GraphDefinition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT document FROM graphs
		WHERE id = ?
		ORDER BY version DESC
		LIMIT 1`, graphID)
	return scanGraph(row, graphID)
}

func scanGraph(row *sql.Row, graphID string) (*domain.GraphDefinition, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("graph %s: %w", graphID, domain.ErrGraphNotFound)
		}
		return nil, fmt.Errorf("failed to load graph %s: %w", graphID, err)
	}
	var g domain.GraphDefinition
	if err := sonic.Unmarshal(doc, &g); err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph %s: %w", graphID, err)
	}
	return &g, nil
}
