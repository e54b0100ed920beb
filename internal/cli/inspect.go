package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/aretw0/parley/internal/presentation/graph"
	"github.com/aretw0/parley/pkg/adapters/file"
	"github.com/aretw0/parley/pkg/graphcheck"
)

// ValidateGraphs checks every graph document under path (a directory or a
// single file) and prints one line per finding. It fails when any document
// does not parse or has blocking errors; warnings alone pass.
func ValidateGraphs(path string, out io.Writer) error {
	paths, err := graphDocuments(path)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no graph documents found in %s", path)
	}

	failed := 0
	for _, p := range paths {
		g, err := file.ReadGraph(p)
		if err != nil {
			fmt.Fprintf(out, "FAIL %v\n", err)
			failed++
			continue
		}
		report, err := graphcheck.Check(g)
		if err != nil {
			return err
		}
		for _, w := range report.Warnings {
			fmt.Fprintf(out, "WARN %s (%s v%d): %v\n", p, g.ID, g.Version, w)
		}
		if !report.OK() {
			for _, e := range report.Errors {
				fmt.Fprintf(out, "FAIL %s (%s v%d): %v\n", p, g.ID, g.Version, e)
			}
			failed++
			continue
		}
		fmt.Fprintf(out, "ok   %s (%s v%d)\n", p, g.ID, g.Version)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d graphs are invalid", failed, len(paths))
	}
	return nil
}

func graphDocuments(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		if !entry.IsDir() && file.IsGraphDocument(entry.Name()) {
			paths = append(paths, filepath.Join(path, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// RenderGraph writes the Mermaid diagram of a graph. Version 0 selects the
// latest one.
func RenderGraph(ctx context.Context, dir, graphID string, version int, out io.Writer) error {
	graphs, err := file.NewGraphStore(dir)
	if err != nil {
		return err
	}
	g, err := loadGraph(ctx, graphs, graphID, version)
	if err != nil {
		return err
	}
	_, err = io.WriteString(out, graph.GenerateMermaid(g, nil))
	return err
}
