package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/parley/pkg/domain"
)

// GraphStore implements ports.GraphStore over an in-memory arena of versioned
// definitions. Published versions are immutable.
type GraphStore struct {
	mu     sync.RWMutex
	graphs map[string]map[int]*domain.GraphDefinition
	latest map[string]int
}

// NewGraphStore creates a store preloaded with graphs.
func NewGraphStore(graphs ...*domain.GraphDefinition) (*GraphStore, error) {
	s := &GraphStore{
		graphs: make(map[string]map[int]*domain.GraphDefinition),
		latest: make(map[string]int),
	}
	for _, g := range graphs {
		if err := s.Put(g); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Put publishes a graph version. Republishing an existing version fails.
func (s *GraphStore) Put(g *domain.GraphDefinition) error {
	if g.ID == "" {
		return fmt.Errorf("graph missing ID")
	}
	if g.Version <= 0 {
		return fmt.Errorf("graph %s: version must be positive", g.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	versions, ok := s.graphs[g.ID]
	if !ok {
		versions = make(map[int]*domain.GraphDefinition)
		s.graphs[g.ID] = versions
	}
	if _, exists := versions[g.Version]; exists {
		return fmt.Errorf("graph %s version %d already published", g.ID, g.Version)
	}
	versions[g.Version] = g
	if g.Version > s.latest[g.ID] {
		s.latest[g.ID] = g.Version
	}
	return nil
}

// Load returns the requested version.
func (s *GraphStore) Load(_ context.Context, graphID string, version int) (*domain.GraphDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.graphs[graphID][version]
	if !ok {
		return nil, fmt.Errorf("graph %s version %d: %w", graphID, version, domain.ErrGraphNotFound)
	}
	return g, nil
}

// Latest returns the highest published version.
func (s *GraphStore) Latest(ctx context.Context, graphID string) (*domain.GraphDefinition, error) {
	s.mu.RLock()
	version, ok := s.latest[graphID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("graph %s: %w", graphID, domain.ErrGraphNotFound)
	}
	return s.Load(ctx, graphID, version)
}

// All returns every published version ordered by graph ID then version.
func (s *GraphStore) All() []*domain.GraphDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.GraphDefinition
	for _, versions := range s.graphs {
		for _, g := range versions {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Version < out[j].Version
	})
	return out
}
