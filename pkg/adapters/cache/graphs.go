// Package cache decorates a GraphStore with an in-process snapshot cache.
package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	c "github.com/patrickmn/go-cache"
)

// DefaultLatestTTL bounds how long a "latest version" lookup is reused.
const DefaultLatestTTL = 30 * time.Second

// GraphStore caches definitions served by an underlying store. Pinned
// versions are immutable and kept until evicted by Flush; Latest lookups
// expire after the configured TTL so new publications are picked up.
type GraphStore struct {
	next      ports.GraphStore
	cache     *c.Cache
	latestTTL time.Duration
}

var _ ports.GraphStore = (*GraphStore)(nil)

// NewGraphStore wraps next. A latestTTL of zero uses DefaultLatestTTL.
func NewGraphStore(next ports.GraphStore, latestTTL time.Duration) *GraphStore {
	if latestTTL <= 0 {
		latestTTL = DefaultLatestTTL
	}
	return &GraphStore{
		next:      next,
		cache:     c.New(c.NoExpiration, 10*time.Minute),
		latestTTL: latestTTL,
	}
}

func versionKey(graphID string, version int) string {
	return "v:" + graphID + "@" + strconv.Itoa(version)
}

func latestKey(graphID string) string {
	return "latest:" + graphID
}

// Load returns the pinned version, hitting the underlying store once.
func (s *GraphStore) Load(ctx context.Context, graphID string, version int) (*domain.GraphDefinition, error) {
	key := versionKey(graphID, version)
	if g, found := s.cache.Get(key); found {
		return g.(*domain.GraphDefinition), nil
	}
	g, err := s.next.Load(ctx, graphID, version)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, g, c.NoExpiration)
	return g, nil
}

// Latest returns the highest version, cached for the latest TTL.
func (s *GraphStore) Latest(ctx context.Context, graphID string) (*domain.GraphDefinition, error) {
	key := latestKey(graphID)
	if g, found := s.cache.Get(key); found {
		return g.(*domain.GraphDefinition), nil
	}
	g, err := s.next.Latest(ctx, graphID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, g, s.latestTTL)
	s.cache.Set(versionKey(g.ID, g.Version), g, c.NoExpiration)
	return g, nil
}

// Flush drops every cached definition.
func (s *GraphStore) Flush() {
	s.cache.Flush()
}

// Len returns the number of cached entries.
func (s *GraphStore) Len() int {
	return s.cache.ItemCount()
}
