package bolt

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"kona/internal/logging"
	"kona/internal/store"
)

const (
	Name     = "bolt"
	fileName = "data.db"
)

var (
	_ store.Store = (*Store)(nil)

	logger        = logging.For(Name)
	defaultBucket = []byte("kv")
)

// Options are handed to bbolt unchanged.
type Options struct {
	Timeout         time.Duration `toml:"timeout"`
	InitialMmapSize int           `toml:"initial_mmap_size"`
	NoFreelistSync  bool          `toml:"no_freelist_sync"`
}

// Store implements store.Store using bbolt (embedded B+ tree).
// All entries live in a single bucket.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the bbolt file inside dir. With sync false bbolt
// skips fsync after each commit.
func Open(dir string, opts Options, sync bool) (*Store, error) {
	db, err := bolt.Open(filepath.Join(dir, fileName), 0600, &bolt.Options{
		Timeout:         opts.Timeout,
		InitialMmapSize: opts.InitialMmapSize,
		NoFreelistSync:  opts.NoFreelistSync,
		NoSync:          !sync,
	})
	if err != nil {
		return nil, wrap("open", fmt.Errorf("opening bolt db: %w", err))
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(defaultBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, wrap("open", fmt.Errorf("creating bucket: %w", err))
	}
	logger.Debug("opened", "dir", dir, "sync", sync)
	return &Store{db: db}, nil
}

func (s *Store) Get(key []byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		k, v := tx.Bucket(defaultBucket).Cursor().Seek(key)
		if k == nil || !bytes.Equal(k, key) {
			return store.ErrNotFound
		}
		val = store.CloneValue(v)
		return nil
	})
	if err != nil {
		return nil, wrap("get", err)
	}
	return val, nil
}

func (s *Store) Put(key, value []byte) error {
	return wrap("put", s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(defaultBucket).Put(key, value)
	}))
}

func (s *Store) Delete(key []byte) error {
	return wrap("delete", s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(defaultBucket).Delete(key)
	}))
}

// Apply runs every op inside one read-write transaction. bbolt allows a
// single writer at a time, which serializes concurrent batches. A synced
// apply on a NoSync store fsyncs the file after the commit.
func (s *Store) Apply(ops []store.Op, sync bool) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(defaultBucket)
		for _, op := range ops {
			var err error
			switch op.Kind {
			case store.OpPut:
				err = b.Put(op.Key, op.Value)
			case store.OpDelete:
				err = b.Delete(op.Key)
			default:
				err = fmt.Errorf("unknown op kind %d", op.Kind)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil && sync && s.db.NoSync {
		err = s.db.Sync()
	}
	return wrap("apply", err)
}

// Snapshot returns a lazily capturing view. A read transaction held across
// the batch's own write could block bbolt's remap of the data file when
// both run on the same goroutine.
func (s *Store) Snapshot() (store.Snapshot, error) {
	return store.NewLazySnapshot(s), nil
}

func (s *Store) Iterate(start, stop []byte) (store.Iterator, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, wrap("iterate", err)
	}
	return &iterator{tx: tx, start: start, stop: stop}, nil
}

func (s *Store) Close() error {
	return wrap("close", s.db.Close())
}

func wrap(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return err
	}
	return store.Wrap(Name, op, err)
}

// iterator walks the bucket inside its own read transaction, which gives it
// a consistent view. Close it before writing from the same goroutine.
type iterator struct {
	tx          *bolt.Tx
	cursor      *bolt.Cursor
	start, stop []byte
	key, value  []byte
	done        bool
}

func (it *iterator) Next() bool {
	if it.done {
		return false
	}
	var k, v []byte
	if it.cursor == nil {
		it.cursor = it.tx.Bucket(defaultBucket).Cursor()
		if it.start == nil {
			k, v = it.cursor.First()
		} else {
			k, v = it.cursor.Seek(it.start)
		}
	} else {
		k, v = it.cursor.Next()
	}
	if k == nil || (it.stop != nil && bytes.Compare(k, it.stop) > 0) {
		it.done = true
		it.key, it.value = nil, nil
		return false
	}
	it.key, it.value = k, v
	return true
}

func (it *iterator) Key() []byte {
	return append([]byte(nil), it.key...)
}

func (it *iterator) Value() []byte {
	if it.key == nil {
		return nil
	}
	return store.CloneValue(it.value)
}

func (it *iterator) Err() error {
	return nil
}

func (it *iterator) Close() error {
	it.done = true
	if it.tx == nil {
		return nil
	}
	tx := it.tx
	it.tx = nil
	return wrap("iterate", tx.Rollback())
}
