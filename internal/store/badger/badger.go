package badger

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"kona/internal/logging"
	"kona/internal/store"
)

const Name = "badger"

var (
	_ store.Store = (*Store)(nil)

	logger = logging.For(Name)
)

// Options tune badger. Zero values keep badger's defaults.
type Options struct {
	ValueLogFileSize  int64 `toml:"value_log_file_size"`
	MemTableSize      int64 `toml:"memtable_size"`
	BlockCacheSize    int64 `toml:"block_cache_size"`
	IndexCacheSize    int64 `toml:"index_cache_size"`
	NumVersionsToKeep int   `toml:"num_versions_to_keep"`
}

// Store implements store.Store on badger. Snapshots are read-only
// transactions, which badger serves from its MVCC oracle.
type Store struct {
	db   *badger.DB
	sync bool
}

func Open(dir string, opts Options, sync bool) (*Store, error) {
	bopts := badger.DefaultOptions(dir).
		WithSyncWrites(sync).
		WithLogger(badgerLogger{})
	if opts.ValueLogFileSize > 0 {
		bopts = bopts.WithValueLogFileSize(opts.ValueLogFileSize)
	}
	if opts.MemTableSize > 0 {
		bopts = bopts.WithMemTableSize(opts.MemTableSize)
	}
	if opts.BlockCacheSize > 0 {
		bopts = bopts.WithBlockCacheSize(opts.BlockCacheSize)
	}
	if opts.IndexCacheSize > 0 {
		bopts = bopts.WithIndexCacheSize(opts.IndexCacheSize)
	}
	if opts.NumVersionsToKeep > 0 {
		bopts = bopts.WithNumVersionsToKeep(opts.NumVersionsToKeep)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, wrap("open", fmt.Errorf("opening badger db: %w", err))
	}
	logger.Debug("opened", "dir", dir, "sync", sync)
	return &Store{db: db, sync: sync}, nil
}

func (s *Store) Get(key []byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		v, err := get(txn, key)
		val = v
		return err
	})
	if err != nil {
		return nil, wrap("get", err)
	}
	return val, nil
}

func (s *Store) Put(key, value []byte) error {
	return wrap("put", s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	}))
}

func (s *Store) Delete(key []byte) error {
	return wrap("delete", s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	}))
}

// Apply commits ops in one transaction. A batch larger than badger's
// transaction limit fails with badger.ErrTxnTooBig; it is not split, since
// that would break atomicity. Badger sets write durability per DB, so a
// synced apply on an unsynced store is followed by an explicit Sync.
func (s *Store) Apply(ops []store.Op, sync bool) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, op := range ops {
			var err error
			switch op.Kind {
			case store.OpPut:
				err = txn.Set(op.Key, op.Value)
			case store.OpDelete:
				err = txn.Delete(op.Key)
			default:
				err = fmt.Errorf("unknown op kind %d", op.Kind)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil && sync && !s.sync {
		err = s.db.Sync()
	}
	return wrap("apply", err)
}

func (s *Store) Snapshot() (store.Snapshot, error) {
	return &snapshot{txn: s.db.NewTransaction(false)}, nil
}

func (s *Store) Iterate(start, stop []byte) (store.Iterator, error) {
	txn := s.db.NewTransaction(false)
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	return &iterator{txn: txn, it: it, start: start, stop: stop}, nil
}

func (s *Store) Close() error {
	return wrap("close", s.db.Close())
}

func get(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return store.CloneValue(v), nil
}

func wrap(op string, err error) error {
	return store.Wrap(Name, op, err)
}

type snapshot struct {
	txn *badger.Txn
}

func (s *snapshot) Get(key []byte) ([]byte, error) {
	if s.txn == nil {
		return nil, fmt.Errorf("%w: snapshot is closed", store.ErrInvalidState)
	}
	v, err := get(s.txn, key)
	if err != nil {
		return nil, wrap("snapshot get", err)
	}
	return v, nil
}

func (s *snapshot) Close() error {
	if s.txn != nil {
		s.txn.Discard()
		s.txn = nil
	}
	return nil
}

type iterator struct {
	txn         *badger.Txn
	it          *badger.Iterator
	start, stop []byte
	started     bool
	done        bool
	value       []byte
	err         error
}

func (i *iterator) Next() bool {
	if i.done {
		return false
	}
	if !i.started {
		i.started = true
		if i.start == nil {
			i.it.Rewind()
		} else {
			i.it.Seek(i.start)
		}
	} else {
		i.it.Next()
	}
	if !i.it.Valid() {
		i.done = true
		return false
	}
	item := i.it.Item()
	if i.stop != nil && bytes.Compare(item.Key(), i.stop) > 0 {
		i.done = true
		return false
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		i.err = wrap("iterate", err)
		i.done = true
		return false
	}
	i.value = store.CloneValue(v)
	return true
}

func (i *iterator) Key() []byte {
	if i.done {
		return nil
	}
	return i.it.Item().KeyCopy(nil)
}

func (i *iterator) Value() []byte {
	if i.done {
		return nil
	}
	return i.value
}

func (i *iterator) Err() error {
	return i.err
}

func (i *iterator) Close() error {
	i.done = true
	if i.it != nil {
		i.it.Close()
		i.it = nil
	}
	if i.txn != nil {
		i.txn.Discard()
		i.txn = nil
	}
	return nil
}

// badgerLogger forwards badger's printf-style logging into slog.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logger.Error(trim(format, args))
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logger.Warn(trim(format, args))
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logger.Debug(trim(format, args))
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logger.Debug(trim(format, args))
}

func trim(format string, args []interface{}) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}
