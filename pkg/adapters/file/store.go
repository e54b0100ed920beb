// Package file provides filesystem-backed adapters: an ExecutionStore that
// keeps one JSON document per execution and a GraphStore that reads graph
// documents from a directory.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/bytedance/sonic"
)

// Store implements ports.ExecutionStore using the local filesystem.
// The revision check is serialized in-process, so a directory must not be
// shared by several processes.
type Store struct {
	BasePath string
	mu       sync.Mutex
}

var _ ports.ExecutionStore = (*Store)(nil)

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to ".parley/executions".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".parley", "executions")
	}
	return &Store{BasePath: basePath}
}

func (s *Store) path(executionID string) (string, error) {
	if executionID == "" {
		return "", fmt.Errorf("execution id cannot be empty")
	}
	if strings.ContainsAny(executionID, `/\`) || executionID == "." || executionID == ".." {
		return "", fmt.Errorf("invalid execution id %q", executionID)
	}
	return filepath.Join(s.BasePath, executionID+".json"), nil
}

// Save writes the execution atomically when its revision is current.
func (s *Store) Save(ctx context.Context, exec *domain.Execution) error {
	destPath, err := s.path(exec.ID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	prev, err := s.read(destPath)
	switch {
	case errors.Is(err, domain.ErrExecutionNotFound):
	case err != nil:
		return err
	default:
		current = prev.Revision
	}
	if exec.Revision != current {
		return domain.ErrConflict
	}

	stored := *exec
	stored.Revision = current + 1
	data, err := sonic.ConfigStd.MarshalIndent(&stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}
	if err := writeAtomic(s.BasePath, destPath, data); err != nil {
		return err
	}
	exec.Revision = stored.Revision
	return nil
}

// writeAtomic writes to a temp file in the same directory, fsyncs it and
// renames it over the destination.
func writeAtomic(dir, destPath string, data []byte) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to ensure execution directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "tmp-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath) // no-op once renamed
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// Windows cannot rename an open file.
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Load retrieves the execution from its JSON file.
func (s *Store) Load(ctx context.Context, executionID string) (*domain.Execution, error) {
	p, err := s.path(executionID)
	if err != nil {
		return nil, err
	}
	return s.read(p)
}

func (s *Store) read(p string) (*domain.Execution, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("failed to read execution file: %w", err)
	}

	var exec domain.Execution
	if err := sonic.ConfigStd.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", filepath.Base(p), err)
	}
	if exec.SessionVariables == nil {
		exec.SessionVariables = map[string]any{}
	}
	return &exec, nil
}

// ListByStatus scans the directory for executions in status.
func (s *Store) ListByStatus(ctx context.Context, status domain.ExecutionStatus) ([]string, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	ids := make([]string, 0)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, "tmp-") {
			continue
		}
		exec, err := s.read(filepath.Join(s.BasePath, name))
		if err != nil {
			if errors.Is(err, domain.ErrExecutionNotFound) {
				continue // removed while scanning
			}
			return nil, err
		}
		if exec.Status == status {
			ids = append(ids, exec.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes an execution. Deleting a missing execution is not an error.
func (s *Store) Delete(_ context.Context, executionID string) error {
	p, err := s.path(executionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete execution %s: %w", executionID, err)
	}
	return nil
}
