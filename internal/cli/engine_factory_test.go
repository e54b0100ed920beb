package cli_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/parley/internal/cli"
	"github.com/aretw0/parley/internal/config"
	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/persistence/middleware"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		GraphsDir:       graphsDir(t),
		Store:           config.StoreMemory,
		MaxSteps:        20,
		ExternalTimeout: time.Second,
		LockTTL:         time.Second,
		GraphCacheTTL:   time.Minute,
		SweepSchedule:   "@every 1m",
		LogLevel:        "info",
		LogFormat:       logging.FormatText,
	}
}

func runGreeter(t *testing.T, stack *cli.Stack) *domain.Execution {
	t.Helper()
	ctx := context.Background()
	exec, err := stack.Engine.Start(ctx, ports.StartRequest{
		GraphID:        "greeter",
		CompanyID:      "local",
		ConversationID: "conv-1",
		Contact:        domain.Contact{Phone: "+100"},
	})
	require.NoError(t, err)

	for _, msg := range []string{"", "Caio"} {
		resp := stack.Engine.Trigger(ctx, ports.TriggerRequest{ExecutionID: exec.ID, CompanyID: "local", UserMessage: msg})
		require.True(t, resp.Success, resp.Error)
	}
	final, err := stack.Engine.Get(ctx, "local", exec.ID)
	require.NoError(t, err)
	return final
}

func TestBuildStack_Memory(t *testing.T) {
	stack, err := cli.BuildStack(context.Background(), baseConfig(t), logging.NewNop())
	require.NoError(t, err)
	defer stack.Close()

	final := runGreeter(t, stack)
	assert.Equal(t, domain.StatusCompleted, final.Status)
	assert.Equal(t, "Caio", final.SessionVariables["name"])
}

func TestBuildStack_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig(t)
	cfg.Store = config.StoreRedis
	cfg.Redis = config.RedisConfig{Addr: mr.Addr(), Prefix: "test:", TTL: time.Hour}

	stack, err := cli.BuildStack(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	defer stack.Close()

	final := runGreeter(t, stack)
	assert.Equal(t, domain.StatusCompleted, final.Status)
	assert.NotEmpty(t, mr.Keys())
}

func TestBuildStack_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := baseConfig(t)
	cfg.Store = config.StoreRedis
	cfg.Redis = config.RedisConfig{Addr: addr}

	_, err := cli.BuildStack(context.Background(), cfg, logging.NewNop())
	assert.ErrorContains(t, err, "error connecting to redis")
}

func TestBuildStack_SQLite(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Store = config.StoreSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "parley.db")

	stack, err := cli.BuildStack(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)

	final := runGreeter(t, stack)
	assert.Equal(t, domain.StatusCompleted, final.Status)
	require.NoError(t, stack.Close())

	_, err = os.Stat(cfg.SQLitePath)
	assert.NoError(t, err)
}

func TestBuildStack_SQLiteArchivesGraphs(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Store = config.StoreSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "parley.db")

	stack, err := cli.BuildStack(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	require.NoError(t, stack.Close())

	// Replace v1 on disk with v2. The archive still serves v1.
	v2 := strings.Replace(greeterYAML, "version: 1", "version: 2", 1)
	require.NoError(t, os.Remove(filepath.Join(cfg.GraphsDir, "greeter.yaml")))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.GraphsDir, "greeter.v2.yaml"), []byte(v2), 0644))

	stack, err = cli.BuildStack(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	defer stack.Close()

	old, err := stack.Cache.Load(context.Background(), "greeter", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, old.Version)
	latest, err := stack.Cache.Latest(context.Background(), "greeter")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
}

// startGreeter opens a conversation and renders the first prompt.
func startGreeter(t *testing.T, stack *cli.Stack) string {
	t.Helper()
	exec, err := stack.Engine.Start(context.Background(), ports.StartRequest{
		GraphID:        "greeter",
		CompanyID:      "local",
		ConversationID: "conv-1",
		Contact:        domain.Contact{Phone: "+100"},
	})
	require.NoError(t, err)
	resp := stack.Engine.Trigger(context.Background(), ports.TriggerRequest{ExecutionID: exec.ID, CompanyID: "local"})
	require.True(t, resp.Success, resp.Error)
	require.Equal(t, domain.StatusWaitingInput, resp.Status)
	return exec.ID
}

func lastContent(t *testing.T, stack *cli.Stack, executionID string) string {
	t.Helper()
	resp := stack.Engine.Trigger(context.Background(), ports.TriggerRequest{ExecutionID: executionID, CompanyID: "local", UserMessage: "Caio"})
	require.True(t, resp.Success, resp.Error)
	require.Equal(t, domain.StatusCompleted, resp.Status)
	exec, err := stack.Engine.Get(context.Background(), "local", executionID)
	require.NoError(t, err)
	return exec.ExecutionLog[len(exec.ExecutionLog)-1].Content
}

const editedGreeter = "Bye, {{name}}."

func TestStack_InPlaceEditKeepsPinnedVersion(t *testing.T) {
	cfg := baseConfig(t)
	stack, err := cli.BuildStack(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	defer stack.Close()

	id := startGreeter(t, stack)

	edited := strings.Replace(greeterYAML, "Nice to meet you, {{name}}!", editedGreeter, 1)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.GraphsDir, "greeter.yaml"), []byte(edited), 0644))
	assert.ErrorIs(t, stack.Graphs.Reload(), domain.ErrGraphVersionChanged)
	stack.Cache.Flush()

	assert.Equal(t, "Nice to meet you, Caio!", lastContent(t, stack, id))
}

func TestStack_SQLiteArchiveKeepsPinnedVersion(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Store = config.StoreSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "parley.db")

	stack, err := cli.BuildStack(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	id := startGreeter(t, stack)
	require.NoError(t, stack.Close())

	// Edited between restarts, so only the archive remembers the original.
	edited := strings.Replace(greeterYAML, "Nice to meet you, {{name}}!", editedGreeter, 1)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.GraphsDir, "greeter.yaml"), []byte(edited), 0644))

	stack, err = cli.BuildStack(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	defer stack.Close()

	assert.Equal(t, "Nice to meet you, Caio!", lastContent(t, stack, id))
}

func TestBuildStack_BadGraphsDir(t *testing.T) {
	cfg := baseConfig(t)
	cfg.GraphsDir = filepath.Join(t.TempDir(), "absent")
	_, err := cli.BuildStack(context.Background(), cfg, logging.NewNop())
	assert.ErrorContains(t, err, "error loading graphs")
}

func TestStack_WatchGraphsFlushesCache(t *testing.T) {
	cfg := baseConfig(t)
	stack, err := cli.BuildStack(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	defer stack.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stack.WatchGraphs(ctx) }()

	_, err = stack.Cache.Latest(context.Background(), "greeter")
	require.NoError(t, err)
	require.Positive(t, stack.Cache.Len())

	v2 := []byte(strings.Replace(greeterYAML, "version: 1", "version: 2", 1))
	assert.Eventually(t, func() bool {
		if err := os.WriteFile(filepath.Join(cfg.GraphsDir, "greeter.v2.yaml"), v2, 0644); err != nil {
			return false
		}
		g, err := stack.Cache.Latest(context.Background(), "greeter")
		return err == nil && g.Version == 2
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestBuildStack_Encrypted(t *testing.T) {
	cfg := baseConfig(t)
	cfg.EncryptionKey = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 32))

	stack, err := cli.BuildStack(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	defer stack.Close()

	final := runGreeter(t, stack)
	assert.Equal(t, "Caio", final.SessionVariables["name"])
	assert.NotContains(t, final.SessionVariables, middleware.EnvelopeKey)
}
