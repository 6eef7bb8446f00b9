// Package backend turns a store type and locator into an open *store.DB.
package backend

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"kona/internal/logging"
	"kona/internal/store"
	"kona/internal/store/badger"
	"kona/internal/store/bolt"
	"kona/internal/store/leveldb"
	"kona/internal/store/memory"
	"kona/internal/store/pebble"
)

// LockFile is created in every store directory and held while it is open.
const LockFile = "KONA.LOCK"

// ErrInUse is returned when another handle already owns the directory.
var ErrInUse = errors.New("store directory is in use")

var logger = logging.For("backend")

// Type names an engine.
type Type string

const (
	Bolt    Type = bolt.Name
	Pebble  Type = pebble.Name
	Badger  Type = badger.Name
	LevelDB Type = leveldb.Name
	Memory  Type = memory.Name

	Default = Pebble
)

var aliases = map[string]Type{
	"rocksdb": Pebble,
	"lmdb":    Bolt,
	"dict":    Memory,
}

// Types lists the canonical engine names.
func Types() []Type {
	return []Type{Bolt, Pebble, Badger, LevelDB, Memory}
}

// ParseType resolves a type name or alias, case-insensitively. An empty
// name selects Default.
func ParseType(name string) (Type, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return Default, nil
	}
	if t, ok := aliases[n]; ok {
		return t, nil
	}
	for _, t := range Types() {
		if string(t) == n {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown store type %q", store.ErrInvalidArgument, name)
}

// Options select and tune the engine. Engine sections are passed through
// untouched.
type Options struct {
	Type            string
	CreateIfMissing bool
	Sync            bool

	Bolt    bolt.Options
	Pebble  pebble.Options
	Badger  badger.Options
	LevelDB leveldb.Options
}

// DefaultOptions returns Options for the default engine that create the
// directory when it is missing.
func DefaultOptions() Options {
	return Options{Type: string(Default), CreateIfMissing: true}
}

// ParseURI extracts the directory from a file:// locator. The path is
// host + path, so file://./data names ./data.
func ParseURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("%w: parsing uri %q: %v", store.ErrInvalidArgument, uri, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("%w: uri %q: scheme must be file", store.ErrInvalidArgument, uri)
	}
	dir := u.Host + u.Path
	if dir == "" {
		return "", fmt.Errorf("%w: uri %q has no path", store.ErrInvalidArgument, uri)
	}
	return dir, nil
}

// Open builds the engine named by opts.Type at uri and wraps it in a DB.
// Disk engines take an exclusive lock on the directory, released by
// DB.Close.
func Open(uri string, opts Options) (*store.DB, error) {
	t, err := ParseType(opts.Type)
	if err != nil {
		return nil, err
	}
	if t == Memory {
		if uri != "" && !strings.HasPrefix(uri, "memory:") {
			if _, err := ParseURI(uri); err != nil {
				return nil, err
			}
		}
		logger.Debug("store opened", "type", t)
		return store.New(memory.Open(), store.WithBackend(string(t))), nil
	}

	dir, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if err := prepareDir(t, dir, opts.CreateIfMissing); err != nil {
		return nil, err
	}

	lock := flock.New(filepath.Join(dir, LockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, store.Wrap(string(t), "lock", fmt.Errorf("locking %s: %w", dir, err))
	}
	if !locked {
		return nil, store.Wrap(string(t), "lock", fmt.Errorf("%s: %w", dir, ErrInUse))
	}

	st, err := openEngine(t, dir, opts)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	logger.Info("store opened", "type", t, "path", dir, "sync", opts.Sync)
	return store.New(st,
		store.WithBackend(string(t)),
		store.WithPath(dir),
		store.WithReleaser(lock.Unlock),
	), nil
}

func prepareDir(t Type, dir string, create bool) error {
	info, err := os.Stat(dir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return store.Wrap(string(t), "open", fmt.Errorf("%s is not a directory", dir))
		}
		return nil
	case errors.Is(err, os.ErrNotExist) && create:
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return store.Wrap(string(t), "open", fmt.Errorf("creating store dir: %w", err))
		}
		logger.Debug("created store dir", "path", dir)
		return nil
	default:
		return store.Wrap(string(t), "open", err)
	}
}

func openEngine(t Type, dir string, opts Options) (store.Store, error) {
	switch t {
	case Bolt:
		return bolt.Open(dir, opts.Bolt, opts.Sync)
	case Pebble:
		return pebble.Open(dir, opts.Pebble, opts.Sync)
	case Badger:
		return badger.Open(dir, opts.Badger, opts.Sync)
	case LevelDB:
		return leveldb.Open(dir, opts.LevelDB, opts.Sync)
	default:
		return nil, fmt.Errorf("%w: unknown store type %q", store.ErrInvalidArgument, t)
	}
}
