package pebble

import (
	"errors"
	"fmt"
	"io"

	"github.com/cockroachdb/pebble"

	"kona/internal/logging"
	"kona/internal/store"
)

const Name = "pebble"

var (
	_ store.Store = (*Store)(nil)

	logger = logging.For(Name)
)

// Options are handed to pebble unchanged. Zero values keep pebble's defaults.
type Options struct {
	CacheSize    int64  `toml:"cache_size"`
	MemTableSize uint64 `toml:"memtable_size"`
	MaxOpenFiles int    `toml:"max_open_files"`
}

// Store implements store.Store on a pebble LSM tree.
type Store struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
}

// Open opens (creating if needed) the pebble database in dir.
func Open(dir string, opts Options, sync bool) (*Store, error) {
	popts := &pebble.Options{
		MemTableSize: opts.MemTableSize,
		MaxOpenFiles: opts.MaxOpenFiles,
		Logger:       pebbleLogger{},
	}
	if opts.CacheSize > 0 {
		cache := pebble.NewCache(opts.CacheSize)
		defer cache.Unref()
		popts.Cache = cache
	}

	db, err := pebble.Open(dir, popts)
	if err != nil {
		return nil, wrap("open", fmt.Errorf("opening pebble db: %w", err))
	}
	wo := pebble.NoSync
	if sync {
		wo = pebble.Sync
	}
	logger.Debug("opened", "dir", dir, "sync", sync)
	return &Store{db: db, writeOpts: wo}, nil
}

func (s *Store) Get(key []byte) ([]byte, error) {
	return get(s.db.Get(key))
}

func (s *Store) Put(key, value []byte) error {
	return wrap("put", s.db.Set(key, value, s.writeOpts))
}

func (s *Store) Delete(key []byte) error {
	return wrap("delete", s.db.Delete(key, s.writeOpts))
}

// Apply commits ops as one pebble batch.
func (s *Store) Apply(ops []store.Op, sync bool) error {
	b := s.db.NewBatch()
	defer b.Close()

	for _, op := range ops {
		var err error
		switch op.Kind {
		case store.OpPut:
			err = b.Set(op.Key, op.Value, nil)
		case store.OpDelete:
			err = b.Delete(op.Key, nil)
		default:
			err = fmt.Errorf("unknown op kind %d", op.Kind)
		}
		if err != nil {
			return wrap("apply", err)
		}
	}
	wo := s.writeOpts
	if sync {
		wo = pebble.Sync
	}
	return wrap("apply", b.Commit(wo))
}

func (s *Store) Snapshot() (store.Snapshot, error) {
	return &snapshot{snap: s.db.NewSnapshot()}, nil
}

func (s *Store) Iterate(start, stop []byte) (store.Iterator, error) {
	if store.Inverted(start, stop) {
		return store.EmptyIterator(), nil
	}
	iopts := &pebble.IterOptions{LowerBound: start}
	if stop != nil {
		iopts.UpperBound = store.Successor(stop)
	}
	it, err := s.db.NewIter(iopts)
	if err != nil {
		return nil, wrap("iterate", err)
	}
	return &iterator{it: it}, nil
}

func (s *Store) Close() error {
	return wrap("close", s.db.Close())
}

func get(v []byte, closer io.Closer, err error) ([]byte, error) {
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrap("get", err)
	}
	defer closer.Close()
	return store.CloneValue(v), nil
}

func wrap(op string, err error) error {
	return store.Wrap(Name, op, err)
}

type snapshot struct {
	snap *pebble.Snapshot
}

func (s *snapshot) Get(key []byte) ([]byte, error) {
	if s.snap == nil {
		return nil, fmt.Errorf("%w: snapshot is closed", store.ErrInvalidState)
	}
	return get(s.snap.Get(key))
}

func (s *snapshot) Close() error {
	if s.snap == nil {
		return nil
	}
	snap := s.snap
	s.snap = nil
	return wrap("release snapshot", snap.Close())
}

type iterator struct {
	it      *pebble.Iterator
	started bool
}

func (i *iterator) Next() bool {
	if !i.started {
		i.started = true
		return i.it.First()
	}
	return i.it.Next()
}

func (i *iterator) Key() []byte {
	return append([]byte(nil), i.it.Key()...)
}

func (i *iterator) Value() []byte {
	return store.CloneValue(i.it.Value())
}

func (i *iterator) Err() error {
	return wrap("iterate", i.it.Error())
}

func (i *iterator) Close() error {
	return wrap("iterate", i.it.Close())
}

// pebbleLogger routes pebble's own log lines into slog.
type pebbleLogger struct{}

func (pebbleLogger) Infof(format string, args ...interface{}) {
	logger.Debug(fmt.Sprintf(format, args...))
}

func (pebbleLogger) Fatalf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logger.Error(msg)
	panic(msg)
}
