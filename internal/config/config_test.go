package config_test

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/parley/internal/config"
	"github.com/aretw0/parley/internal/logging"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(flags)
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(viper.New(), newFlags(t), "", "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, config.StoreMemory, cfg.Store)
	assert.Equal(t, 20, cfg.MaxSteps)
	assert.Equal(t, 10*time.Second, cfg.ExternalTimeout)
	assert.Equal(t, "parley:", cfg.Redis.Prefix)
	assert.Equal(t, "@every 1m", cfg.SweepSchedule)
	assert.Equal(t, logging.FormatText, cfg.LogFormat)
	assert.True(t, cfg.TypingDelay)
	assert.Zero(t, cfg.SessionTimeout)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "parley.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
store: sqlite
sqlite-path: /var/lib/parley.db
max-steps: 50
http-addr: ":9000"
external-timeout: 3s
`), 0o644))

	t.Setenv("PARLEY_MAX_STEPS", "40")
	cfg, err := config.Load(viper.New(), newFlags(t, "--max-steps=30", "--log-format=json"), file, "")
	require.NoError(t, err)

	assert.Equal(t, config.StoreSQLite, cfg.Store, "config file")
	assert.Equal(t, "/var/lib/parley.db", cfg.SQLitePath)
	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, 3*time.Second, cfg.ExternalTimeout)
	assert.Equal(t, 30, cfg.MaxSteps, "explicit flag wins")
	assert.Equal(t, logging.FormatJSON, cfg.LogFormat)

	cfg, err = config.Load(viper.New(), newFlags(t), file, "")
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.MaxSteps, "environment beats config file")
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("PARLEY_REDIS_PREFIX=tenant-a:\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("PARLEY_REDIS_PREFIX") })

	cfg, err := config.Load(viper.New(), newFlags(t), "", envFile)
	require.NoError(t, err)
	assert.Equal(t, "tenant-a:", cfg.Redis.Prefix)

	_, err = config.Load(viper.New(), newFlags(t), "", filepath.Join(dir, "missing.env"))
	assert.NoError(t, err, "a missing .env file is ignored")
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := config.Load(viper.New(), newFlags(t), filepath.Join(t.TempDir(), "nope.yaml"), "")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := config.Load(viper.New(), newFlags(t,
		"--store=postgres",
		"--max-steps=0",
		"--sweep-schedule=every now and then",
		"--log-level=loud",
	), "", "")
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), `unknown store "postgres"`)
	assert.Contains(t, err.Error(), "max-steps must be positive")
	assert.Contains(t, err.Error(), "sweep-schedule")
	assert.Contains(t, err.Error(), "log-level")

	_, err = config.Load(viper.New(), newFlags(t, "--store=redis", "--redis-addr="), "", "")
	assert.ErrorContains(t, err, "redis-addr is required")
}

func TestEncryption(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))
	old := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{9}, 32))

	cfg, err := config.Load(viper.New(), newFlags(t), "", "")
	require.NoError(t, err)
	enc, err := cfg.Encryption()
	require.NoError(t, err)
	assert.Nil(t, enc, "encryption is off by default")

	cfg, err = config.Load(viper.New(), newFlags(t, "--encryption-key="+key, "--encryption-fallback-keys="+old), "", "")
	require.NoError(t, err)
	enc, err = cfg.Encryption()
	require.NoError(t, err)
	require.NotNil(t, enc)
	assert.Len(t, enc.ActiveKey, 32)
	assert.Len(t, enc.FallbackKeys, 1)

	_, err = config.Load(viper.New(), newFlags(t, "--encryption-key=c2hvcnQ="), "", "")
	assert.ErrorContains(t, err, "encryption-key")

	_, err = config.Load(viper.New(), newFlags(t, "--encryption-fallback-keys="+old), "", "")
	assert.ErrorContains(t, err, "requires encryption-key")
}
