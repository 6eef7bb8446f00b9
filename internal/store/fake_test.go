package store

import (
	"bytes"
	"errors"
	"sort"
	"sync"
)

var errInjected = errors.New("injected fault")

// fakeStore is a map-backed Store whose faults can be switched on per
// operation. Snapshot is lazy, like the bolt engine. Like pebble, Close
// fails while snapshots or iterators are still open.
type fakeStore struct {
	mu        sync.Mutex
	data      map[string][]byte
	applies   int
	synced    int
	open      int // snapshots and iterators not yet closed
	failApply int // fail the next n Apply calls
	failGet   bool
	failClose bool
	failSnap  bool
	closed    bool
}

var (
	errLeaked        = errors.New("leaked snapshots or iterators")
	errUseAfterClose = errors.New("use after close")
)

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string][]byte)}
}

func (f *fakeStore) Get(key []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, errUseAfterClose
	}
	if f.failGet {
		return nil, errInjected
	}
	v, ok := f.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return CloneValue(v), nil
}

func (f *fakeStore) Put(key, value []byte) error {
	return f.Apply([]Op{{Kind: OpPut, Key: key, Value: value}}, false)
}

func (f *fakeStore) Delete(key []byte) error {
	return f.Apply([]Op{{Kind: OpDelete, Key: key}}, false)
}

func (f *fakeStore) Apply(ops []Op, sync bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errUseAfterClose
	}
	if f.failApply > 0 {
		f.failApply--
		return errInjected
	}
	f.applies++
	if sync {
		f.synced++
	}
	for _, op := range ops {
		if op.Kind == OpPut {
			f.data[string(op.Key)] = CloneValue(op.Value)
		} else {
			delete(f.data, string(op.Key))
		}
	}
	return nil
}

func (f *fakeStore) Snapshot() (Snapshot, error) {
	if f.failSnap {
		return nil, errInjected
	}
	f.opened()
	return &fakeSnapshot{LazySnapshot: NewLazySnapshot(f), f: f}, nil
}

func (f *fakeStore) Iterate(start, stop []byte) (Iterator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.data {
		if start != nil && bytes.Compare([]byte(k), start) < 0 {
			continue
		}
		if stop != nil && bytes.Compare([]byte(k), stop) > 0 {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	f.open++
	it := &sliceIterator{pos: -1, f: f}
	for _, k := range keys {
		it.keys = append(it.keys, []byte(k))
		it.values = append(it.values, CloneValue(f.data[k]))
	}
	return it, nil
}

func (f *fakeStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.failClose {
		return errInjected
	}
	if f.open > 0 {
		return errLeaked
	}
	return nil
}

func (f *fakeStore) opened() {
	f.mu.Lock()
	f.open++
	f.mu.Unlock()
}

func (f *fakeStore) released() {
	f.mu.Lock()
	f.open--
	f.mu.Unlock()
}

func (f *fakeStore) openHandles() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

type fakeSnapshot struct {
	*LazySnapshot
	f    *fakeStore
	done bool
}

func (s *fakeSnapshot) Close() error {
	if !s.done {
		s.done = true
		s.f.released()
	}
	return s.LazySnapshot.Close()
}

type sliceIterator struct {
	keys, values [][]byte
	pos          int
	f            *fakeStore
	done         bool
}

func (it *sliceIterator) Next() bool {
	if it.pos+1 >= len(it.keys) {
		it.pos = len(it.keys)
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Key() []byte   { return it.keys[it.pos] }
func (it *sliceIterator) Value() []byte { return it.values[it.pos] }
func (it *sliceIterator) Err() error    { return nil }
func (it *sliceIterator) Close() error {
	if !it.done {
		it.done = true
		it.f.released()
	}
	return nil
}
