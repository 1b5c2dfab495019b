package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPoolKey names the primary mirror pool. It cannot be redefined under pools.
const DefaultPoolKey = "default"

// poolEnvPrefix is the prefix used to discover named pools from the environment,
// e.g. LMBRIDGE_DB_POOL_REPLICA_HOST.
const poolEnvPrefix = "LMBRIDGE_DB_POOL_"

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server        ServerConfig          `yaml:"server"`
	Log           LogConfig             `yaml:"log"`
	Database      DatabaseConfig        `yaml:"database"`
	Pools         map[string]PoolConfig `yaml:"pools"`
	Hooks         HooksConfig           `yaml:"hooks"`
	Cache         CacheConfig           `yaml:"cache"`
	Bootstrap     BootstrapConfig       `yaml:"bootstrap"`
	ReleaseFilter ReleaseFilterConfig   `yaml:"release_filter"`
	Version       VersionConfig         `yaml:"version"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig describes the primary metadata mirror.
type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"-"` // env-only, never in YAML
	Name         string `yaml:"name"`
	SSLMode      string `yaml:"sslmode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// PoolConfig describes an additional named connection pool.
// Empty port, user and password fall back to the primary database values.
type PoolConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"` // env-only, never in YAML
	DBName   string `yaml:"db_name"`
}

// HooksConfig names the custom hook entry points. A module is a name from the
// in-process hook registry; a path points at a Go plugin file.
type HooksConfig struct {
	DBAfterModule   string `yaml:"db_after_module"`
	DBAfterPath     string `yaml:"db_after_path"`
	MITMAfterModule string `yaml:"mitm_after_module"`
	MITMAfterPath   string `yaml:"mitm_after_path"`
}

// CacheConfig contains cache store settings shared by the server and cache-init.
type CacheConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Host          string   `yaml:"host"`
	Port          int      `yaml:"port"`
	Name          string   `yaml:"name"`
	User          string   `yaml:"user"`
	Password      string   `yaml:"-"` // env-only, never in YAML
	Schema        string   `yaml:"schema"`
	FailOpen      bool     `yaml:"fail_open"`
	StateDir      string   `yaml:"state_dir"`
	SweepInterval Duration `yaml:"sweep_interval"`
	Retention     Duration `yaml:"retention"`
	AlbumTTL      Duration `yaml:"album_ttl"`
}

// BootstrapConfig contains cache-init settings.
type BootstrapConfig struct {
	AdminUser     string   `yaml:"admin_user"`
	AdminPassword string   `yaml:"-"` // env-only, never in YAML
	AdminDB       string   `yaml:"admin_db"`
	WaitAttempts  int      `yaml:"wait_attempts"`
	WaitDelay     Duration `yaml:"wait_delay"`
	IndexScript   string   `yaml:"index_script"`
	LegacyRoles   []string `yaml:"legacy_roles"`
}

// ReleaseFilterConfig seeds the runtime release filter settings.
type ReleaseFilterConfig struct {
	Include  []string `yaml:"include"`
	Exclude  []string `yaml:"exclude"`
	KeepOnly int      `yaml:"keep_only"`
	Prefer   string   `yaml:"prefer"`
}

// VersionConfig controls what GET /version reports.
type VersionConfig struct {
	Value string `yaml:"value"`
	File  string `yaml:"file"`
}

// Resolve returns the configured version, then the trimmed contents of the
// version file, then "unknown".
func (v VersionConfig) Resolve() string {
	if v.Value != "" {
		return v.Value
	}
	if v.File != "" {
		if data, err := os.ReadFile(v.File); err == nil {
			if s := strings.TrimSpace(string(data)); s != "" {
				return s
			}
		}
	}
	return "unknown"
}

// CacheHost returns the cache server host, defaulting to the primary database host.
func (c *Config) CacheHost() string {
	if c.Cache.Host != "" {
		return c.Cache.Host
	}
	return c.Database.Host
}

// CachePort returns the cache server port, defaulting to the primary database port.
func (c *Config) CachePort() int {
	if c.Cache.Port != 0 {
		return c.Cache.Port
	}
	return c.Database.Port
}

// PoolKeys returns the configured pool keys in sorted order.
func (c *Config) PoolKeys() []string {
	keys := make([]string, 0, len(c.Pools))
	for k := range c.Pools {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("LMBRIDGE_CONFIG_PATH", "config/lmbridge.yaml")

	// Missing file is not an error
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used by tests and callers with an explicit path.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            5001,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(60 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			Host:         "db",
			Port:         5432,
			User:         "musicbrainz",
			Password:     "musicbrainz",
			Name:         "musicbrainz_db",
			SSLMode:      "disable",
			MaxOpenConns: 10,
		},
		Pools: map[string]PoolConfig{},
		Cache: CacheConfig{
			Enabled:       true,
			Name:          "lm_cache_db",
			User:          "lmbridge",
			Password:      "lmbridge",
			Schema:        "public",
			StateDir:      "data/state",
			SweepInterval: Duration(1 * time.Hour),
			Retention:     Duration(7 * 24 * time.Hour),
			AlbumTTL:      Duration(24 * time.Hour),
		},
		Bootstrap: BootstrapConfig{
			AdminUser:     "musicbrainz",
			AdminPassword: "musicbrainz",
			AdminDB:       "postgres",
			WaitAttempts:  30,
			WaitDelay:     Duration(2 * time.Second),
			LegacyRoles:   []string{"lidarr", "abc"},
		},
		Version: VersionConfig{
			File: "/metadata/VERSION",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("LMBRIDGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LMBRIDGE_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// Log
	if v := os.Getenv("LMBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LMBRIDGE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	// Primary database
	if v := os.Getenv("LMBRIDGE_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("LMBRIDGE_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("LMBRIDGE_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("LMBRIDGE_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("LMBRIDGE_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}

	applyPoolEnv(cfg, os.Environ())

	// Hooks (the unsuffixed names are the older spelling)
	cfg.Hooks.DBAfterModule = firstEnv(cfg.Hooks.DBAfterModule, "LMBRIDGE_DB_HOOK_AFTER_MODULE", "LMBRIDGE_DB_HOOK_MODULE")
	cfg.Hooks.DBAfterPath = firstEnv(cfg.Hooks.DBAfterPath, "LMBRIDGE_DB_HOOK_AFTER_PATH", "LMBRIDGE_DB_HOOK_PATH")
	cfg.Hooks.MITMAfterModule = firstEnv(cfg.Hooks.MITMAfterModule, "LMBRIDGE_MITM_AFTER_MODULE", "LMBRIDGE_MITM_MODULE")
	cfg.Hooks.MITMAfterPath = firstEnv(cfg.Hooks.MITMAfterPath, "LMBRIDGE_MITM_AFTER_PATH", "LMBRIDGE_MITM_PATH")

	// Cache
	if v := os.Getenv("LMBRIDGE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = isTruthy(v)
	}
	if v := os.Getenv("LMBRIDGE_CACHE_HOST"); v != "" {
		cfg.Cache.Host = v
	}
	if v := os.Getenv("LMBRIDGE_CACHE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Cache.Port = port
		}
	}
	if v := os.Getenv("LMBRIDGE_CACHE_DB"); v != "" {
		cfg.Cache.Name = v
	}
	if v := os.Getenv("LMBRIDGE_CACHE_USER"); v != "" {
		cfg.Cache.User = v
	}
	if v := os.Getenv("LMBRIDGE_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("LMBRIDGE_CACHE_SCHEMA"); v != "" {
		cfg.Cache.Schema = v
	}
	if v := os.Getenv("LMBRIDGE_CACHE_FAIL_OPEN"); v != "" {
		cfg.Cache.FailOpen = isTruthy(v)
	}
	if v := os.Getenv("LMBRIDGE_CACHE_STATE_DIR"); v != "" {
		cfg.Cache.StateDir = v
	}
	for name, dst := range map[string]*Duration{
		"LMBRIDGE_CACHE_SWEEP_INTERVAL": &cfg.Cache.SweepInterval,
		"LMBRIDGE_CACHE_RETENTION":      &cfg.Cache.Retention,
		"LMBRIDGE_CACHE_ALBUM_TTL":      &cfg.Cache.AlbumTTL,
	} {
		if v := os.Getenv(name); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = Duration(d)
			}
		}
	}

	// Bootstrap
	if v := os.Getenv("LMBRIDGE_ADMIN_USER"); v != "" {
		cfg.Bootstrap.AdminUser = v
	}
	if v := os.Getenv("LMBRIDGE_ADMIN_PASSWORD"); v != "" {
		cfg.Bootstrap.AdminPassword = v
	}
	if v := os.Getenv("LMBRIDGE_ADMIN_DB"); v != "" {
		cfg.Bootstrap.AdminDB = v
	}
	if v := os.Getenv("LMBRIDGE_DB_WAIT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Bootstrap.WaitAttempts = n
		}
	}
	if v := os.Getenv("LMBRIDGE_DB_WAIT_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Bootstrap.WaitDelay = Duration(d)
		} else if secs, err := strconv.Atoi(v); err == nil {
			cfg.Bootstrap.WaitDelay = Duration(time.Duration(secs) * time.Second)
		}
	}
	if v := os.Getenv("LMBRIDGE_INDEX_SCRIPT"); v != "" {
		cfg.Bootstrap.IndexScript = v
	}
	if v := os.Getenv("LMBRIDGE_LEGACY_CACHE_ROLES"); v != "" {
		cfg.Bootstrap.LegacyRoles = splitList(v)
	}

	// Version
	if v := os.Getenv("LMBRIDGE_VERSION"); v != "" {
		cfg.Version.Value = strings.TrimSpace(v)
	}
	if v := os.Getenv("LMBRIDGE_VERSION_FILE"); v != "" {
		cfg.Version.File = v
	}
}

// applyPoolEnv discovers named pools from LMBRIDGE_DB_POOL_<KEY>_<FIELD>
// variables. Keys are lower-cased.
func applyPoolEnv(cfg *Config, environ []string) {
	if cfg.Pools == nil {
		cfg.Pools = map[string]PoolConfig{}
	}
	suffixes := []string{"_DB_NAME", "_PASSWORD", "_HOST", "_PORT", "_USER"}

	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" || !strings.HasPrefix(name, poolEnvPrefix) {
			continue
		}
		rest := strings.TrimPrefix(name, poolEnvPrefix)

		for _, suffix := range suffixes {
			if !strings.HasSuffix(rest, suffix) || len(rest) == len(suffix) {
				continue
			}
			key := strings.ToLower(strings.TrimSuffix(rest, suffix))
			pc := cfg.Pools[key]
			switch suffix {
			case "_HOST":
				pc.Host = value
			case "_PORT":
				if port, err := strconv.Atoi(value); err == nil {
					pc.Port = port
				}
			case "_USER":
				pc.User = value
			case "_PASSWORD":
				pc.Password = value
			case "_DB_NAME":
				pc.DBName = value
			}
			cfg.Pools[key] = pc
			break
		}
	}
}

// validate checks that configuration values are usable.
func (c *Config) validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log level must be one of debug, info, warn, error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log format must be json or text, got %q", c.Log.Format))
	}

	if c.Database.Host == "" || c.Database.Name == "" {
		errs = append(errs, errors.New("database host and name are required"))
	}

	for _, key := range c.PoolKeys() {
		pc := c.Pools[key]
		if key == DefaultPoolKey {
			errs = append(errs, fmt.Errorf("pool %q is reserved for the primary database", key))
			continue
		}
		if pc.Host == "" || pc.DBName == "" {
			errs = append(errs, fmt.Errorf("pool %q: host and db_name are required", key))
		}
	}

	if c.Bootstrap.WaitAttempts < 1 {
		errs = append(errs, fmt.Errorf("bootstrap wait_attempts must be positive, got %d", c.Bootstrap.WaitAttempts))
	}
	if c.Cache.Enabled && (c.Cache.Name == "" || c.Cache.User == "") {
		errs = append(errs, errors.New("cache name and user are required when the cache is enabled"))
	}

	return errors.Join(errs...)
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// firstEnv returns the first non-empty env var among keys, else current.
func firstEnv(current string, keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return current
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
