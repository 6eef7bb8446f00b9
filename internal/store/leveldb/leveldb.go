package leveldb

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"kona/internal/logging"
	"kona/internal/store"
)

const Name = "leveldb"

var (
	_ store.Store = (*Store)(nil)

	logger = logging.For(Name)
)

// Options map onto goleveldb's opt.Options. Zero values keep its defaults.
type Options struct {
	BlockCacheCapacity     int `toml:"block_cache_capacity"`
	WriteBuffer            int `toml:"write_buffer"`
	OpenFilesCacheCapacity int `toml:"open_files_cache_capacity"`
}

type Store struct {
	db        *leveldb.DB
	writeOpts *opt.WriteOptions
}

func Open(dir string, opts Options, sync bool) (*Store, error) {
	db, err := leveldb.OpenFile(dir, &opt.Options{
		BlockCacheCapacity:     opts.BlockCacheCapacity,
		WriteBuffer:            opts.WriteBuffer,
		OpenFilesCacheCapacity: opts.OpenFilesCacheCapacity,
	})
	if err != nil {
		return nil, wrap("open", fmt.Errorf("opening leveldb: %w", err))
	}
	logger.Debug("opened", "dir", dir, "sync", sync)
	return &Store{db: db, writeOpts: &opt.WriteOptions{Sync: sync}}, nil
}

func (s *Store) Get(key []byte) ([]byte, error) {
	return get(s.db.Get(key, nil))
}

func (s *Store) Put(key, value []byte) error {
	return wrap("put", s.db.Put(key, value, s.writeOpts))
}

func (s *Store) Delete(key []byte) error {
	return wrap("delete", s.db.Delete(key, s.writeOpts))
}

// Apply writes ops as one leveldb.Batch, which goleveldb commits atomically.
func (s *Store) Apply(ops []store.Op, sync bool) error {
	b := new(leveldb.Batch)
	for _, op := range ops {
		switch op.Kind {
		case store.OpPut:
			b.Put(op.Key, op.Value)
		case store.OpDelete:
			b.Delete(op.Key)
		default:
			return wrap("apply", fmt.Errorf("unknown op kind %d", op.Kind))
		}
	}
	wo := s.writeOpts
	if sync && !wo.Sync {
		wo = &opt.WriteOptions{Sync: true}
	}
	return wrap("apply", s.db.Write(b, wo))
}

func (s *Store) Snapshot() (store.Snapshot, error) {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return nil, wrap("snapshot", err)
	}
	return &snapshot{snap: snap}, nil
}

// Iterate uses goleveldb's implicit iterator snapshot.
func (s *Store) Iterate(start, stop []byte) (store.Iterator, error) {
	if store.Inverted(start, stop) {
		return store.EmptyIterator(), nil
	}
	r := &util.Range{Start: start}
	if stop != nil {
		r.Limit = store.Successor(stop)
	}
	return &cursor{it: s.db.NewIterator(r, nil)}, nil
}

func (s *Store) Close() error {
	return wrap("close", s.db.Close())
}

func get(v []byte, err error) ([]byte, error) {
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrap("get", err)
	}
	return store.CloneValue(v), nil
}

func wrap(op string, err error) error {
	return store.Wrap(Name, op, err)
}

type snapshot struct {
	snap *leveldb.Snapshot
}

func (s *snapshot) Get(key []byte) ([]byte, error) {
	if s.snap == nil {
		return nil, fmt.Errorf("%w: snapshot is closed", store.ErrInvalidState)
	}
	return get(s.snap.Get(key, nil))
}

func (s *snapshot) Close() error {
	if s.snap != nil {
		s.snap.Release()
		s.snap = nil
	}
	return nil
}

type cursor struct {
	it iterator.Iterator
}

func (c *cursor) Next() bool {
	return c.it.Next()
}

func (c *cursor) Key() []byte {
	return append([]byte(nil), c.it.Key()...)
}

func (c *cursor) Value() []byte {
	return store.CloneValue(c.it.Value())
}

func (c *cursor) Err() error {
	return wrap("iterate", c.it.Error())
}

func (c *cursor) Close() error {
	c.it.Release()
	return wrap("iterate", c.it.Error())
}
