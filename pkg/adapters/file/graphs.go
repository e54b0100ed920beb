package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"
)

// GraphStore serves graph definitions read from a directory of .yaml, .yml
// and .json documents, one graph version per file.
type GraphStore struct {
	dir   string
	check func(*domain.GraphDefinition) error

	mu    sync.RWMutex
	store *memory.GraphStore
}

var _ ports.GraphStore = (*GraphStore)(nil)

// GraphOption configures the GraphStore.
type GraphOption func(*GraphStore)

// WithCheck rejects documents for which check returns an error.
func WithCheck(check func(*domain.GraphDefinition) error) GraphOption {
	return func(s *GraphStore) {
		s.check = check
	}
}

// NewGraphStore reads every graph document in dir.
func NewGraphStore(dir string, opts ...GraphOption) (*GraphStore, error) {
	s := &GraphStore{dir: dir}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the directory and swaps the served set atomically. On error
// the previous set stays in place. A document that changes the content of a
// version already served fails the reload with domain.ErrGraphVersionChanged.
func (s *GraphStore) Reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read graphs directory: %w", err)
	}

	prev := s.current()
	var changed []error
	next, _ := memory.NewGraphStore()
	for _, entry := range entries {
		if entry.IsDir() || !IsGraphDocument(entry.Name()) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		g, err := ReadGraph(path)
		if err != nil {
			return err
		}
		if s.check != nil {
			if err := s.check(g); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		}
		if prev != nil {
			if old, err := prev.Load(context.Background(), g.ID, g.Version); err == nil && !SameGraph(old, g) {
				changed = append(changed, fmt.Errorf("%s: graph %s version %d: %w", path, g.ID, g.Version, domain.ErrGraphVersionChanged))
			}
		}
		if err := next.Put(g); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	if len(changed) > 0 {
		return errors.Join(changed...)
	}

	s.mu.Lock()
	s.store = next
	s.mu.Unlock()
	return nil
}

func (s *GraphStore) current() *memory.GraphStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store
}

// Load returns the requested version.
func (s *GraphStore) Load(ctx context.Context, graphID string, version int) (*domain.GraphDefinition, error) {
	return s.current().Load(ctx, graphID, version)
}

// Latest returns the highest version found on disk.
func (s *GraphStore) Latest(ctx context.Context, graphID string) (*domain.GraphDefinition, error) {
	return s.current().Latest(ctx, graphID)
}

// All returns every graph version currently loaded from disk.
func (s *GraphStore) All() []*domain.GraphDefinition {
	return s.current().All()
}

// SameGraph reports whether a and b encode to the same canonical JSON, so a
// document read from YAML matches its JSON round trip.
func SameGraph(a, b *domain.GraphDefinition) bool {
	x, errA := sonic.ConfigStd.Marshal(a)
	y, errB := sonic.ConfigStd.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(x, y)
}

// IsGraphDocument reports whether name has a supported extension.
func IsGraphDocument(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// ReadGraph decodes a single graph document, choosing the format by extension.
func ReadGraph(path string) (*domain.GraphDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph %s: %w", path, err)
	}
	g, err := DecodeGraph(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// DecodeGraph parses a graph document. ext selects JSON (".json") or YAML
// (anything else).
func DecodeGraph(data []byte, ext string) (*domain.GraphDefinition, error) {
	var g domain.GraphDefinition
	if strings.EqualFold(ext, ".json") {
		if err := sonic.ConfigStd.Unmarshal(data, &g); err != nil {
			return nil, fmt.Errorf("invalid JSON graph: %w", err)
		}
		return &g, nil
	}
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("invalid YAML graph: %w", err)
	}
	return &g, nil
}
