package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Store.Type != "pebble" {
		t.Errorf("Store.Type: got %q, want pebble", cfg.Store.Type)
	}
	if cfg.Store.URI != "file://~/.kona/data" {
		t.Errorf("Store.URI: got %q", cfg.Store.URI)
	}
	if !cfg.Store.CreateIfMissing {
		t.Error("CreateIfMissing should default to true")
	}
	if cfg.Logging.Enabled {
		t.Error("logging should be off by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadNoFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Type != "pebble" {
		t.Errorf("Store.Type: got %q, want pebble", cfg.Store.Type)
	}
}

func TestLoadDefaultPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if err := os.MkdirAll(filepath.Join(home, ".kona"), 0755); err != nil {
		t.Fatal(err)
	}
	body := "[store]\ntype = \"bolt\"\n"
	if err := os.WriteFile(filepath.Join(home, ".kona", "config.toml"), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Type != "bolt" {
		t.Errorf("Store.Type: got %q, want bolt", cfg.Store.Type)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, `
[store]
type = "badger"
uri = "file:///var/lib/kona"
create_if_missing = false
sync = true

[logging]
enabled = true
level = "debug"
format = "json"
file = "/tmp/kona.log"

[bolt]
timeout = "2s"
initial_mmap_size = 1048576

[pebble]
cache_size = 8388608
max_open_files = 500

[badger]
value_log_file_size = 16777216
num_versions_to_keep = 1

[leveldb]
write_buffer = 4194304
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Store.Type != "badger" {
		t.Errorf("Store.Type: got %q", cfg.Store.Type)
	}
	if cfg.Store.URI != "file:///var/lib/kona" {
		t.Errorf("Store.URI: got %q", cfg.Store.URI)
	}
	if cfg.Store.CreateIfMissing || !cfg.Store.Sync {
		t.Errorf("Store flags: got create=%v sync=%v", cfg.Store.CreateIfMissing, cfg.Store.Sync)
	}
	if !cfg.Logging.Enabled || cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging: got %+v", cfg.Logging)
	}
	if cfg.Bolt.Timeout != 2*time.Second {
		t.Errorf("Bolt.Timeout: got %v", cfg.Bolt.Timeout)
	}
	if cfg.Bolt.InitialMmapSize != 1<<20 {
		t.Errorf("Bolt.InitialMmapSize: got %d", cfg.Bolt.InitialMmapSize)
	}
	if cfg.Pebble.CacheSize != 8<<20 || cfg.Pebble.MaxOpenFiles != 500 {
		t.Errorf("Pebble: got %+v", cfg.Pebble)
	}
	if cfg.Badger.ValueLogFileSize != 16<<20 || cfg.Badger.NumVersionsToKeep != 1 {
		t.Errorf("Badger: got %+v", cfg.Badger)
	}
	if cfg.LevelDB.WriteBuffer != 4<<20 {
		t.Errorf("LevelDB: got %+v", cfg.LevelDB)
	}

	opts := cfg.BackendOptions()
	if opts.Type != "badger" || opts.CreateIfMissing || !opts.Sync {
		t.Errorf("BackendOptions: got %+v", opts)
	}
	if opts.Badger != cfg.Badger || opts.Bolt != cfg.Bolt {
		t.Error("engine sections should pass through unchanged")
	}
	lopts := cfg.LoggingOptions()
	if lopts.File != "/tmp/kona.log" || lopts.Level != "debug" {
		t.Errorf("LoggingOptions: got %+v", lopts)
	}
}

func TestLoadBadTOML(t *testing.T) {
	_, err := Load(writeConfig(t, "{{invalid"))
	if err == nil {
		t.Fatal("expected error for invalid TOML")
	}
}

func TestLoadUnknownKey(t *testing.T) {
	_, err := Load(writeConfig(t, "[store]\nengine = \"bolt\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil {
		t.Fatal("expected error for explicit missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KONA_STORE_TYPE", "lmdb")
	t.Setenv("KONA_STORE_URI", "file:///srv/kona")
	t.Setenv("KONA_LOG_ENABLE", "1")
	t.Setenv("KONA_LOG_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, "[store]\ntype = \"pebble\"\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Type != "lmdb" {
		t.Errorf("Store.Type: got %q, want lmdb", cfg.Store.Type)
	}
	if cfg.Store.URI != "file:///srv/kona" {
		t.Errorf("Store.URI: got %q", cfg.Store.URI)
	}
	if !cfg.Logging.Enabled || cfg.Logging.Level != "warn" {
		t.Errorf("Logging: got %+v", cfg.Logging)
	}
}

func TestEnvBadBool(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("KONA_LOG_ENABLE", "sometimes")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for bad KONA_LOG_ENABLE")
	}
}

func TestStoreURIExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	cfg := Defaults()
	want := "file://" + filepath.Join(home, ".kona/data")
	if got := cfg.StoreURI(); got != want {
		t.Errorf("StoreURI: got %q, want %q", got, want)
	}

	cfg.Store.URI = "file:///abs"
	if got := cfg.StoreURI(); got != "file:///abs" {
		t.Errorf("StoreURI: got %q", got)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}

	got := ExpandHome("~/foo/bar")
	want := filepath.Join(home, "foo/bar")
	if got != want {
		t.Errorf("ExpandHome: got %q, want %q", got, want)
	}

	// Non-home path unchanged
	if got := ExpandHome("/absolute/path"); got != "/absolute/path" {
		t.Errorf("ExpandHome: got %q, want /absolute/path", got)
	}
}
