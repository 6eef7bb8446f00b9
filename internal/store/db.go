package store

import (
	"errors"
	"io"
	"os"
	"sync"

	"kona/internal/logging"
)

var logger = logging.For("store")

// DB is the façade callers use: point reads and writes, range iteration,
// and the batch constructors, over whichever engine backs it. A DB is safe
// for concurrent use. Close waits for in-flight engine calls, then releases
// the snapshots and iterators still held by callers before closing the
// engine.
type DB struct {
	st      Store
	backend string
	path    string

	// mu is held shared around every engine call and exclusively by Close.
	mu     sync.RWMutex
	closed bool

	liveMu sync.Mutex
	live   map[*handle]struct{}

	closeOnce sync.Once
	closeErr  error
	releasers []func() error
}

// handle is a snapshot or iterator the DB closes on Close if its owner
// has not.
type handle struct {
	c io.Closer
}

// Option configures a DB.
type Option func(*DB)

// WithBackend names the engine in errors and logs.
func WithBackend(name string) Option {
	return func(db *DB) { db.backend = name }
}

// WithPath records the directory backing the store, used by Destroy.
func WithPath(path string) Option {
	return func(db *DB) { db.path = path }
}

// WithReleaser registers fn to run after the engine is closed.
func WithReleaser(fn func() error) Option {
	return func(db *DB) { db.releasers = append(db.releasers, fn) }
}

// New wraps an opened engine. The DB takes ownership of st.
func New(st Store, opts ...Option) *DB {
	db := &DB{st: st, backend: "store", live: make(map[*handle]struct{})}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

func (db *DB) Backend() string { return db.backend }

func (db *DB) Path() string { return db.path }

// Get returns the value stored for key, or ErrNotFound.
func (db *DB) Get(key []byte) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	var v []byte
	err := db.guard(func() (err error) {
		v, err = db.st.Get(key)
		return err
	})
	if err != nil {
		return nil, db.wrap("get", err)
	}
	return v, nil
}

// GetOrDefault returns def when key has no entry. A stored empty value is
// returned as is; it never falls back to def. A nil def behaves like Get.
func (db *DB) GetOrDefault(key, def []byte) ([]byte, error) {
	v, err := db.Get(key)
	if errors.Is(err, ErrNotFound) && def != nil {
		return CloneValue(def), nil
	}
	return v, err
}

// Has reports whether key has an entry.
func (db *DB) Has(key []byte) (bool, error) {
	_, err := db.Get(key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (db *DB) Put(key, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}
	return db.wrap("put", db.guard(func() error {
		return db.st.Put(key, value)
	}))
}

func (db *DB) Delete(key []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return db.wrap("delete", db.guard(func() error {
		return db.st.Delete(key)
	}))
}

// Iterate opens a cursor over [start, stop], both inclusive. Nil bounds are
// unrestricted. Every call starts a fresh traversal of committed state.
// Once the DB is closed the cursor stops with ErrInvalidState.
func (db *DB) Iterate(start, stop []byte) (Iterator, error) {
	var it *dbIterator
	err := db.guard(func() error {
		cur, err := db.st.Iterate(start, stop)
		if err != nil {
			return err
		}
		it = &dbIterator{db: db, it: cur, h: db.track(cur)}
		return nil
	})
	if err != nil {
		return nil, db.wrap("iterate", err)
	}
	return it, nil
}

// ForEach calls fn for every entry in [start, stop] until fn returns an
// error, which is passed back to the caller.
func (db *DB) ForEach(start, stop []byte, fn func(key, value []byte) error) (err error) {
	it, err := db.Iterate(start, stop)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := it.Close(); err == nil {
			err = db.wrap("iterate", cerr)
		}
	}()
	for it.Next() {
		if err := fn(it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return db.wrap("iterate", it.Err())
}

// NewWriteBatch returns an empty batch bound to db.
func (db *DB) NewWriteBatch(opts ...BatchOption) *WriteBatch {
	return newWriteBatch(db, opts...)
}

// NewCancelableWriteBatch opens a snapshot and returns an empty cancelable
// batch. The batch must be canceled or closed to release the snapshot;
// Close releases it otherwise.
func (db *DB) NewCancelableWriteBatch(opts ...BatchOption) (*CancelableWriteBatch, error) {
	var (
		snap Snapshot
		h    *handle
	)
	err := db.guard(func() (err error) {
		snap, err = db.st.Snapshot()
		if err == nil {
			h = db.track(snap)
		}
		return err
	})
	if err != nil {
		return nil, db.wrap("snapshot", err)
	}
	return newCancelableWriteBatch(db, snap, h, opts...), nil
}

// Close closes the engine and runs the registered releasers. Snapshots
// held by open cancelable batches and unclosed iterators are released
// first. Later calls return the first result.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		db.mu.Lock()
		db.closed = true
		err := db.releaseLive()
		if cerr := db.wrap("close", db.st.Close()); cerr != nil {
			err = cerr
		}
		db.mu.Unlock()

		for _, release := range db.releasers {
			if rerr := release(); rerr != nil && err == nil {
				err = db.wrap("release", rerr)
			}
		}
		db.closeErr = err
		logger.Debug("store closed", "backend", db.backend, "path", db.path)
	})
	return db.closeErr
}

// Destroy closes the store and deletes its directory.
func (db *DB) Destroy() error {
	if err := db.Close(); err != nil {
		return err
	}
	if db.path == "" {
		return nil
	}
	if err := os.RemoveAll(db.path); err != nil {
		return db.wrap("destroy", err)
	}
	logger.Info("store destroyed", "backend", db.backend, "path", db.path)
	return nil
}

func (db *DB) apply(ops []Op, sync bool) error {
	return db.wrap("apply", db.guard(func() error {
		return db.st.Apply(ops, sync)
	}))
}

func (db *DB) check() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return errClosed
	}
	return nil
}

// guard runs fn against the engine unless the DB is closed.
func (db *DB) guard(fn func() error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return errClosed
	}
	return fn()
}

func (db *DB) track(c io.Closer) *handle {
	h := &handle{c: c}
	db.liveMu.Lock()
	db.live[h] = struct{}{}
	db.liveMu.Unlock()
	return h
}

// release closes h unless Close already did.
func (db *DB) release(h *handle) error {
	db.liveMu.Lock()
	_, ok := db.live[h]
	delete(db.live, h)
	db.liveMu.Unlock()
	if !ok {
		return nil
	}
	return h.c.Close()
}

func (db *DB) releaseLive() error {
	db.liveMu.Lock()
	live := db.live
	db.live = make(map[*handle]struct{})
	db.liveMu.Unlock()

	if len(live) > 0 {
		logger.Debug("releasing open handles", "backend", db.backend, "count", len(live))
	}
	var err error
	for h := range live {
		if cerr := h.c.Close(); cerr != nil && err == nil {
			err = db.wrap("release", cerr)
		}
	}
	return err
}

var errClosed = invalidState("store is closed")

// dbIterator ties an engine cursor to the DB lifecycle.
type dbIterator struct {
	db  *DB
	it  Iterator
	h   *handle
	err error
}

func (i *dbIterator) Next() bool {
	if i.err != nil {
		return false
	}
	i.db.mu.RLock()
	defer i.db.mu.RUnlock()
	if i.db.closed {
		i.err = errClosed
		return false
	}
	return i.it.Next()
}

func (i *dbIterator) Key() []byte {
	i.db.mu.RLock()
	defer i.db.mu.RUnlock()
	if i.db.closed {
		return nil
	}
	return i.it.Key()
}

func (i *dbIterator) Value() []byte {
	i.db.mu.RLock()
	defer i.db.mu.RUnlock()
	if i.db.closed {
		return nil
	}
	return i.it.Value()
}

func (i *dbIterator) Err() error {
	if i.err != nil {
		return i.err
	}
	i.db.mu.RLock()
	defer i.db.mu.RUnlock()
	if i.db.closed {
		return nil
	}
	return i.it.Err()
}

func (i *dbIterator) Close() error {
	return i.db.release(i.h)
}

func (db *DB) wrap(op string, err error) error {
	return Wrap(db.backend, op, err)
}
