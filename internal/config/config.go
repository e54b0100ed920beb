// Package config resolves runtime settings from flags, environment, an
// optional YAML file and a .env file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/persistence/middleware"
	"github.com/aretw0/parley/pkg/sweeper"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable (PARLEY_HTTP_ADDR, ...).
const EnvPrefix = "PARLEY"

// StoreKind selects the execution store backend.
type StoreKind string

const (
	StoreMemory StoreKind = "memory"
	StoreRedis  StoreKind = "redis"
	StoreSQLite StoreKind = "sqlite"
)

// Flag and config-file keys.
const (
	KeyHTTPAddr        = "http-addr"
	KeyGraphsDir       = "graphs-dir"
	KeyStore           = "store"
	KeyRedisAddr       = "redis-addr"
	KeyRedisPassword   = "redis-password"
	KeyRedisDB         = "redis-db"
	KeyRedisPrefix     = "redis-prefix"
	KeyRedisTTL        = "redis-ttl"
	KeySQLitePath      = "sqlite-path"
	KeyMaxSteps        = "max-steps"
	KeyExternalTimeout = "external-timeout"
	KeyLockTTL         = "lock-ttl"
	KeyGraphCacheTTL   = "graph-cache-ttl"
	KeySweepSchedule   = "sweep-schedule"
	KeySessionTimeout  = "session-timeout"
	KeyOutboundURL     = "outbound-url"
	KeyTypingDelay     = "typing-delay"
	KeyLogLevel        = "log-level"
	KeyLogFormat       = "log-format"

	KeyEncryptionKey          = "encryption-key"
	KeyEncryptionFallbackKeys = "encryption-fallback-keys"
)

// Config holds the resolved settings of a parley process.
type Config struct {
	HTTPAddr  string
	GraphsDir string

	Store      StoreKind
	Redis      RedisConfig
	SQLitePath string

	MaxSteps        int
	ExternalTimeout time.Duration
	LockTTL         time.Duration
	GraphCacheTTL   time.Duration
	SweepSchedule   string
	SessionTimeout  time.Duration
	OutboundURL     string
	TypingDelay     bool

	LogLevel  string
	LogFormat logging.Format

	// EncryptionKey is a base64 AES-256 key sealing contact data at rest.
	// Empty stores executions in clear.
	EncryptionKey          string
	EncryptionFallbackKeys []string
}

// RedisConfig addresses the Redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// TTL is the retention of finished executions. Zero keeps them.
	TTL      time.Duration
}

// RegisterFlags declares every setting on flags with its default.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String(KeyHTTPAddr, ":8080", "HTTP listen address")
	flags.String(KeyGraphsDir, "graphs", "Directory containing graph documents (.json, .yaml)")
	flags.String(KeyStore, string(StoreMemory), "Execution store: memory, redis or sqlite")
	flags.String(KeyRedisAddr, "localhost:6379", "Redis address")
	flags.String(KeyRedisPassword, "", "Redis password")
	flags.Int(KeyRedisDB, 0, "Redis database")
	flags.String(KeyRedisPrefix, "parley:", "Prefix for every Redis key")
	flags.Duration(KeyRedisTTL, 7*24*time.Hour, "Retention of finished executions in Redis (0 keeps them)")
	flags.String(KeySQLitePath, "parley.db", "SQLite database path")
	flags.Int(KeyMaxSteps, 20, "Maximum nodes processed per turn")
	flags.Duration(KeyExternalTimeout, 10*time.Second, "Timeout for outbound HTTP calls")
	flags.Duration(KeyLockTTL, 30*time.Second, "Lease of the distributed execution lock")
	flags.Duration(KeyGraphCacheTTL, 30*time.Second, "How long latest-version graph lookups are cached")
	flags.String(KeySweepSchedule, "@every 1m", "Cron schedule of the idle-session sweeper")
	flags.Duration(KeySessionTimeout, 0, "Idle timeout for graphs that do not set one (0 disables)")
	flags.String(KeyOutboundURL, "", "URL receiving outbound messages as JSON; log only when empty")
	flags.Bool(KeyTypingDelay, true, "Honour the typing delay configured on graphs")
	flags.String(KeyLogLevel, "info", "Log level: debug, info, warn or error")
	flags.String(KeyLogFormat, string(logging.FormatText), "Log format: text or json")
	flags.String(KeyEncryptionKey, "", "Base64 AES-256 key encrypting contact data at rest")
	flags.StringSlice(KeyEncryptionFallbackKeys, nil, "Previous encryption keys still accepted for reading")
}

// Load resolves the configuration. Flags set on the command line win over
// environment variables, which win over the config file. A missing .env file
// is not an error; a missing configFile is.
func Load(v *viper.Viper, flags *pflag.FlagSet, configFile, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		HTTPAddr:  v.GetString(KeyHTTPAddr),
		GraphsDir: v.GetString(KeyGraphsDir),
		Store:     StoreKind(strings.ToLower(v.GetString(KeyStore))),
		Redis: RedisConfig{
			Addr:     v.GetString(KeyRedisAddr),
			Password: v.GetString(KeyRedisPassword),
			DB:       v.GetInt(KeyRedisDB),
			Prefix:   v.GetString(KeyRedisPrefix),
			TTL:      v.GetDuration(KeyRedisTTL),
		},
		SQLitePath:      v.GetString(KeySQLitePath),
		MaxSteps:        v.GetInt(KeyMaxSteps),
		ExternalTimeout: v.GetDuration(KeyExternalTimeout),
		LockTTL:         v.GetDuration(KeyLockTTL),
		GraphCacheTTL:   v.GetDuration(KeyGraphCacheTTL),
		SweepSchedule:   v.GetString(KeySweepSchedule),
		SessionTimeout:  v.GetDuration(KeySessionTimeout),
		OutboundURL:     v.GetString(KeyOutboundURL),
		TypingDelay:     v.GetBool(KeyTypingDelay),
		LogLevel:        v.GetString(KeyLogLevel),
		LogFormat:       logging.Format(strings.ToLower(v.GetString(KeyLogFormat))),

		EncryptionKey:          v.GetString(KeyEncryptionKey),
		EncryptionFallbackKeys: v.GetStringSlice(KeyEncryptionFallbackKeys),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, fmt.Errorf("%s is required for the redis store", KeyRedisAddr))
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, fmt.Errorf("%s is required for the sqlite store", KeySQLitePath))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown %s %q", KeyStore, c.Store))
	}
	if c.MaxSteps <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyMaxSteps))
	}
	if c.ExternalTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyExternalTimeout))
	}
	if c.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyLockTTL))
	}
	if c.Redis.TTL < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyRedisTTL))
	}
	if c.GraphCacheTTL < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyGraphCacheTTL))
	}
	if c.SessionTimeout < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeySessionTimeout))
	}
	if c.SweepSchedule != "" {
		if err := sweeper.ValidateSchedule(c.SweepSchedule); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", KeySweepSchedule, err))
		}
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", KeyLogLevel, err))
	}
	if c.LogFormat != logging.FormatText && c.LogFormat != logging.FormatJSON {
		errs = append(errs, fmt.Errorf("unknown %s %q", KeyLogFormat, c.LogFormat))
	}
	if _, err := c.Encryption(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Encryption decodes the configured keys. It returns nil when encryption is
// off.
func (c *Config) Encryption() (*middleware.EncryptionConfig, error) {
	if c.EncryptionKey == "" {
		if len(c.EncryptionFallbackKeys) > 0 {
			return nil, fmt.Errorf("%s requires %s", KeyEncryptionFallbackKeys, KeyEncryptionKey)
		}
		return nil, nil
	}
	active, err := middleware.ParseKey(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeyEncryptionKey, err)
	}
	enc := &middleware.EncryptionConfig{ActiveKey: active}
	for i, s := range c.EncryptionFallbackKeys {
		key, err := middleware.ParseKey(s)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", KeyEncryptionFallbackKeys, i, err)
		}
		enc.FallbackKeys = append(enc.FallbackKeys, key)
	}
	return enc, nil
}
