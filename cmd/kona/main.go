package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"

	"kona/internal/backend"
	"kona/internal/config"
	"kona/internal/logging"
	"kona/internal/store"
)

var logger = logging.For("cli")

// Globals are the flags shared by every command. Flags override the config
// file, which overrides the defaults.
type Globals struct {
	Config   string `help:"Path to config file (default ~/.kona/config.toml)." type:"path"`
	Type     string `help:"Store type: bolt, pebble, badger, leveldb, memory." short:"t"`
	URI      string `help:"Store locator, file://<path>." short:"u"`
	LogLevel string `help:"Enable logging at this level (debug, info, warn, error)."`

	stdout    io.Writer
	stdin     io.Reader
	logCloser io.Closer
}

type CLI struct {
	Globals

	Get     GetCmd     `cmd:"" help:"Print the value stored for a key."`
	Put     PutCmd     `cmd:"" help:"Store a value."`
	Delete  DeleteCmd  `cmd:"" aliases:"del" help:"Remove a key."`
	Scan    ScanCmd    `cmd:"" help:"List entries in key order."`
	Apply   ApplyCmd   `cmd:"" help:"Apply a batch script atomically."`
	Bench   BenchCmd   `cmd:"" help:"Measure put, get and batch throughput."`
	Destroy DestroyCmd `cmd:"" help:"Delete the store directory."`
}

func main() {
	cli := CLI{Globals: Globals{stdout: os.Stdout, stdin: os.Stdin}}
	ctx := kong.Parse(&cli,
		kong.Name("kona"),
		kong.Description("Key-value store with atomic and cancelable batched writes."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli.Globals)
	cli.Globals.close()
	ctx.FatalIfErrorf(err)
}

// open loads the config, applies flag overrides, starts logging and opens
// the store.
func (g *Globals) open() (*store.DB, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	if g.Type != "" {
		cfg.Store.Type = g.Type
	}
	if g.URI != "" {
		cfg.Store.URI = g.URI
	}
	if g.LogLevel != "" {
		cfg.Logging.Enabled = true
		cfg.Logging.Level = g.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	closer, err := logging.Init(cfg.LoggingOptions())
	if err != nil {
		return nil, err
	}
	g.logCloser = closer

	db, err := backend.Open(cfg.StoreURI(), cfg.BackendOptions())
	if err != nil {
		return nil, err
	}
	logger.Debug("store ready", "backend", db.Backend(), "path", db.Path())
	return db, nil
}

func (g *Globals) close() {
	if g.logCloser != nil {
		_ = g.logCloser.Close()
		g.logCloser = nil
	}
}
