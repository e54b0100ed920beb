package file_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/parley/pkg/adapters/file"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

const welcomeYAML = `
id: welcome
companyId: acme
version: 1
nodes:
  - id: start
    type: start
  - id: ask
    type: question
    data:
      question: "What's your email?"
      variableName: email
      validation: email
edges:
  - id: e1
    source: start
    target: ask
settings:
  maxRetries: 2
`

const welcomeV2JSON = `{
  "id": "welcome",
  "companyId": "acme",
  "version": 2,
  "nodes": [{"id": "start", "type": "start"}],
  "edges": []
}`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestGraphStore_LoadsYAMLAndJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "welcome.v1.yaml", welcomeYAML)
	writeFile(t, dir, "welcome.v2.json", welcomeV2JSON)
	writeFile(t, dir, "README.md", "ignored")

	store, err := file.NewGraphStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	v1, err := store.Load(ctx, "welcome", 1)
	require.NoError(t, err)
	assert.Equal(t, "acme", v1.CompanyID)
	assert.Equal(t, 2, v1.Settings.MaxRetries)
	ask, ok := v1.Node("ask")
	require.True(t, ok)
	assert.Equal(t, "email", ask.Data["validation"])

	latest, err := store.Latest(ctx, "welcome")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Len(t, store.All(), 2)
}

func TestGraphStore_DuplicateVersion(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", welcomeYAML)
	writeFile(t, dir, "b.yaml", welcomeYAML)

	_, err := file.NewGraphStore(dir)
	assert.Error(t, err)
}

func TestGraphStore_CheckAndReload(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "welcome.yaml", welcomeYAML)

	var rejectV2 = func(g *domain.GraphDefinition) error {
		if g.Version == 2 {
			return errors.New("rejected")
		}
		return nil
	}
	store, err := file.NewGraphStore(dir, file.WithCheck(rejectV2))
	require.NoError(t, err)

	writeFile(t, dir, "welcome.v2.json", welcomeV2JSON)
	assert.Error(t, store.Reload())

	// The previous set keeps serving.
	latest, err := store.Latest(context.Background(), "welcome")
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)
}

func TestGraphStore_ReloadKeepsPublishedVersions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "welcome.yaml", welcomeYAML)
	store, err := file.NewGraphStore(dir)
	require.NoError(t, err)

	// Rewriting the same content is not an edit.
	writeFile(t, dir, "welcome.yaml", welcomeYAML)
	require.NoError(t, store.Reload())

	edited := strings.Replace(welcomeYAML, "What's your email?", "Your email, please?", 1)
	writeFile(t, dir, "welcome.yaml", edited)
	writeFile(t, dir, "welcome.v2.json", welcomeV2JSON)
	err = store.Reload()
	assert.ErrorIs(t, err, domain.ErrGraphVersionChanged)

	g, err := store.Load(context.Background(), "welcome", 1)
	require.NoError(t, err)
	ask, ok := g.Node("ask")
	require.True(t, ok)
	assert.Equal(t, "What's your email?", ask.Data["question"])
	_, err = store.Load(context.Background(), "welcome", 2)
	assert.ErrorIs(t, err, domain.ErrGraphNotFound, "the whole reload is rejected")

	// Bumping the version publishes the edit.
	writeFile(t, dir, "welcome.yaml", strings.Replace(edited, "version: 1", "version: 3", 1))
	require.NoError(t, store.Reload())
	latest, err := store.Latest(context.Background(), "welcome")
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Version)
}

func TestSameGraph(t *testing.T) {
	fromYAML, err := file.DecodeGraph([]byte(welcomeYAML), ".yaml")
	require.NoError(t, err)
	fromJSON, err := file.DecodeGraph([]byte(welcomeV2JSON), ".json")
	require.NoError(t, err)

	assert.True(t, file.SameGraph(fromYAML, fromYAML))
	assert.False(t, file.SameGraph(fromYAML, fromJSON))
}

func TestDecodeGraph_Invalid(t *testing.T) {
	_, err := file.DecodeGraph([]byte("{"), ".json")
	assert.Error(t, err)
	_, err = file.DecodeGraph([]byte("nodes: [unclosed"), ".yaml")
	assert.Error(t, err)
}
