// Package memory is a volatile engine on an in-process B-tree. Nothing
// survives Close.
package memory

import (
	"bytes"
	"fmt"
	"iter"
	"sync"

	"github.com/google/btree"

	"kona/internal/logging"
	"kona/internal/store"
)

const (
	Name   = "memory"
	degree = 32
)

var (
	_ store.Store = (*Store)(nil)

	logger = logging.For(Name)
)

type entry struct {
	key   []byte
	value []byte
}

func less(a, b entry) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// Store keeps entries in a copy-on-write B-tree. Snapshots and iterators
// work on clones, so they never see later writes.
type Store struct {
	mu     sync.RWMutex
	tree   *btree.BTreeG[entry]
	closed bool
}

func Open() *Store {
	logger.Debug("opened")
	return &Store{tree: btree.NewG(degree, less)}
}

func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed("get")
	}
	return lookup(s.tree, key)
}

func (s *Store) Put(key, value []byte) error {
	return s.Apply([]store.Op{{Kind: store.OpPut, Key: key, Value: value}}, false)
}

func (s *Store) Delete(key []byte) error {
	return s.Apply([]store.Op{{Kind: store.OpDelete, Key: key}}, false)
}

// Apply validates every op before touching the tree, then applies them
// under the write lock. There is nothing to sync.
func (s *Store) Apply(ops []store.Op, _ bool) error {
	for _, op := range ops {
		if op.Kind != store.OpPut && op.Kind != store.OpDelete {
			return store.Wrap(Name, "apply", fmt.Errorf("unknown op kind %d", op.Kind))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed("apply")
	}
	for _, op := range ops {
		k := append([]byte(nil), op.Key...)
		if op.Kind == store.OpPut {
			s.tree.ReplaceOrInsert(entry{key: k, value: store.CloneValue(op.Value)})
		} else {
			s.tree.Delete(entry{key: k})
		}
	}
	return nil
}

func (s *Store) Snapshot() (store.Snapshot, error) {
	tree, err := s.clone("snapshot")
	if err != nil {
		return nil, err
	}
	return &snapshot{tree: tree}, nil
}

func (s *Store) Iterate(start, stop []byte) (store.Iterator, error) {
	tree, err := s.clone("iterate")
	if err != nil {
		return nil, err
	}
	next, release := iter.Pull2(ascend(tree, start, stop))
	return &iterator{next: next, release: release}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.tree.Clear(false)
	return nil
}

// clone needs the write lock: btree forbids concurrent Clone calls.
func (s *Store) clone(op string) (*btree.BTreeG[entry], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed(op)
	}
	return s.tree.Clone(), nil
}

func lookup(tree *btree.BTreeG[entry], key []byte) ([]byte, error) {
	e, ok := tree.Get(entry{key: key})
	if !ok {
		return nil, store.ErrNotFound
	}
	return store.CloneValue(e.value), nil
}

func ascend(tree *btree.BTreeG[entry], start, stop []byte) iter.Seq2[[]byte, []byte] {
	return func(yield func([]byte, []byte) bool) {
		visit := func(e entry) bool {
			if stop != nil && bytes.Compare(e.key, stop) > 0 {
				return false
			}
			return yield(e.key, e.value)
		}
		if start == nil {
			tree.Ascend(visit)
			return
		}
		tree.AscendGreaterOrEqual(entry{key: start}, visit)
	}
}

func errClosed(op string) error {
	return store.Wrap(Name, op, fmt.Errorf("%w: store is closed", store.ErrInvalidState))
}

type snapshot struct {
	tree *btree.BTreeG[entry]
}

func (s *snapshot) Get(key []byte) ([]byte, error) {
	if s.tree == nil {
		return nil, fmt.Errorf("%w: snapshot is closed", store.ErrInvalidState)
	}
	return lookup(s.tree, key)
}

func (s *snapshot) Close() error {
	s.tree = nil
	return nil
}

type iterator struct {
	next       func() ([]byte, []byte, bool)
	release    func()
	key, value []byte
}

func (it *iterator) Next() bool {
	if it.next == nil {
		return false
	}
	k, v, ok := it.next()
	if !ok {
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
	if it.release != nil {
		it.release()
		it.release, it.next = nil, nil
	}
	return nil
}
