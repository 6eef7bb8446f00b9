package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"kona/internal/backend"
	"kona/internal/logging"
	"kona/internal/store/badger"
	"kona/internal/store/bolt"
	"kona/internal/store/leveldb"
	"kona/internal/store/pebble"
)

const (
	DefaultPath = "~/.kona/config.toml"

	envStoreType = "KONA_STORE_TYPE"
	envStoreURI  = "KONA_STORE_URI"
	envLogEnable = "KONA_LOG_ENABLE"
	envLogLevel  = "KONA_LOG_LEVEL"
)

type Config struct {
	Store   StoreConfig     `toml:"store"`
	Logging LoggingConfig   `toml:"logging"`
	Bolt    bolt.Options    `toml:"bolt"`
	Pebble  pebble.Options  `toml:"pebble"`
	Badger  badger.Options  `toml:"badger"`
	LevelDB leveldb.Options `toml:"leveldb"`
}

type StoreConfig struct {
	Type            string `toml:"type"`
	URI             string `toml:"uri"`
	CreateIfMissing bool   `toml:"create_if_missing"`
	Sync            bool   `toml:"sync"`
}

type LoggingConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	File    string `toml:"file"`
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		Store: StoreConfig{
			Type:            string(backend.Default),
			URI:             "file://~/.kona/data",
			CreateIfMissing: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a TOML config file and returns the parsed Config with
// environment overrides applied. If path is empty, DefaultPath is used when
// it exists, otherwise only defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = expandHome(DefaultPath)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return cfg, cfg.applyEnv()
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("parsing config: unknown keys %s", strings.Join(keys, ", "))
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv(envStoreType); ok {
		c.Store.Type = v
	}
	if v, ok := os.LookupEnv(envStoreURI); ok {
		c.Store.URI = v
	}
	if v, ok := os.LookupEnv(envLogEnable); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envLogEnable, err)
		}
		c.Logging.Enabled = enabled
	}
	if v, ok := os.LookupEnv(envLogLevel); ok {
		c.Logging.Level = v
	}
	return nil
}

// Validate checks every field and reports all problems at once, each
// prefixed with its TOML key.
func (c *Config) Validate() error {
	var errs []error

	t, err := backend.ParseType(c.Store.Type)
	if err != nil {
		errs = append(errs, fmt.Errorf("store.type: %w", err))
	}
	if t != backend.Memory {
		if _, err := backend.ParseURI(c.StoreURI()); err != nil {
			errs = append(errs, fmt.Errorf("store.uri: %w", err))
		}
	}

	if !logging.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: must be text or json, got %q", c.Logging.Format))
	}

	if c.Bolt.Timeout < 0 {
		errs = append(errs, errors.New("bolt.timeout: must not be negative"))
	}
	return errors.Join(errs...)
}

// StoreURI returns the store locator with a leading ~/ in its path expanded.
func (c *Config) StoreURI() string {
	const scheme = "file://"
	if strings.HasPrefix(c.Store.URI, scheme+"~/") {
		return scheme + expandHome(strings.TrimPrefix(c.Store.URI, scheme))
	}
	return c.Store.URI
}

// BackendOptions converts the store and engine sections for backend.Open.
func (c *Config) BackendOptions() backend.Options {
	return backend.Options{
		Type:            c.Store.Type,
		CreateIfMissing: c.Store.CreateIfMissing,
		Sync:            c.Store.Sync,
		Bolt:            c.Bolt,
		Pebble:          c.Pebble,
		Badger:          c.Badger,
		LevelDB:         c.LevelDB,
	}
}

// LoggingOptions converts the logging section for logging.Init.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Enabled: c.Logging.Enabled,
		Level:   c.Logging.Level,
		Format:  c.Logging.Format,
		File:    expandHome(c.Logging.File),
	}
}

// ExpandHome resolves a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	return expandHome(path)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
