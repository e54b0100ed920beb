package cli_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/parley/internal/cli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const brokenYAML = `
id: broken
companyId: local
version: 1
nodes:
  - id: start
    type: start
edges:
  - id: e1
    source: start
    target: nowhere
`

func TestValidateGraphs(t *testing.T) {
	t.Run("valid directory", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, cli.ValidateGraphs(graphsDir(t), &out))
		assert.Contains(t, out.String(), "ok   ")
		assert.Contains(t, out.String(), "(greeter v1)")
	})

	t.Run("broken graph", func(t *testing.T) {
		dir := graphsDir(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(brokenYAML), 0644))

		var out bytes.Buffer
		err := cli.ValidateGraphs(dir, &out)
		assert.EqualError(t, err, "1 of 2 graphs are invalid")
		assert.Contains(t, out.String(), "FAIL ")
		assert.Contains(t, out.String(), "nowhere")
	})

	t.Run("unparseable file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{"), 0644))

		var out bytes.Buffer
		assert.Error(t, cli.ValidateGraphs(path, &out))
		assert.Contains(t, out.String(), "invalid JSON graph")
	})

	t.Run("empty directory", func(t *testing.T) {
		assert.ErrorContains(t, cli.ValidateGraphs(t.TempDir(), &bytes.Buffer{}), "no graph documents")
	})
}

func TestRenderGraph(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, cli.RenderGraph(context.Background(), graphsDir(t), "greeter", 0, &out))
	assert.Contains(t, out.String(), "graph TD")
	assert.Contains(t, out.String(), "ask")

	assert.Error(t, cli.RenderGraph(context.Background(), graphsDir(t), "greeter", 9, &bytes.Buffer{}))
}
