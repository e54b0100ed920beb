package cli

import (
	"context"
	"errors"

	"github.com/aretw0/parley/pkg/adapters/file"
	"github.com/aretw0/parley/pkg/adapters/sqlite"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// archivedGraphs serves pinned versions from the append-only SQLite archive
// and falls back to disk for versions not archived yet. A version edited on
// disk after it was archived keeps its archived content.
type archivedGraphs struct {
	disk    *file.GraphStore
	archive *sqlite.GraphStore
}

var _ ports.GraphStore = (*archivedGraphs)(nil)

func (a *archivedGraphs) Load(ctx context.Context, graphID string, version int) (*domain.GraphDefinition, error) {
	g, err := a.archive.Load(ctx, graphID, version)
	if errors.Is(err, domain.ErrGraphNotFound) {
		return a.disk.Load(ctx, graphID, version)
	}
	return g, err
}

// Latest picks the highest version known to either side, preferring the
// archived copy of a version both hold.
func (a *archivedGraphs) Latest(ctx context.Context, graphID string) (*domain.GraphDefinition, error) {
	archived, err := a.archive.Latest(ctx, graphID)
	if err != nil && !errors.Is(err, domain.ErrGraphNotFound) {
		return nil, err
	}
	current, diskErr := a.disk.Latest(ctx, graphID)
	switch {
	case diskErr == nil && (archived == nil || current.Version > archived.Version):
		return current, nil
	case archived != nil:
		return archived, nil
	}
	return nil, diskErr
}

// sync archives whatever is currently on disk.
func (a *archivedGraphs) sync(ctx context.Context) (int, error) {
	return a.archive.PublishAll(ctx, a.disk.All())
}
