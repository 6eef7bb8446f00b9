package store

import "bytes"

// Reader is the read half of a Store or Snapshot.
// Get returns ErrNotFound when the key has no entry.
type Reader interface {
	Get(key []byte) ([]byte, error)
}

// Store is the contract every backend engine adapter satisfies. The engines
// live in the subpackages of this package.
type Store interface {
	Reader
	Put(key, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key []byte) error
	// Apply commits ops as one atomic unit: every op takes effect or none
	// does, and concurrent readers never observe a subset. With sync set
	// the commit is durable before Apply returns, whatever the store's own
	// sync setting.
	Apply(ops []Op, sync bool) error
	// Snapshot opens a point-in-time read view. Engines without a safe
	// native snapshot return NewLazySnapshot.
	Snapshot() (Snapshot, error)
	// Iterate walks keys in ascending byte order within [start, stop].
	// A nil bound leaves that side unrestricted.
	Iterate(start, stop []byte) (Iterator, error)
	Close() error
}

// Snapshot is an immutable view of a Store at the moment it was opened.
type Snapshot interface {
	Reader
	Close() error
}

// Iterator is a pull cursor over a consistent view of committed state.
// Iterators must be closed after use.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close() error
}

// OpKind tags an Op.
type OpKind uint8

const (
	OpPut OpKind = iota + 1
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Op is a single mutation recorded by a batch.
type Op struct {
	Kind  OpKind
	Key   []byte
	Value []byte
}

// Successor returns the smallest key strictly greater than key.
// Engines with exclusive upper bounds use it to make stop inclusive.
func Successor(key []byte) []byte {
	next := make([]byte, len(key)+1)
	copy(next, key)
	return next
}

// CloneValue copies v, returning a non-nil slice even when v is empty so
// that a stored empty value never looks like an absent one.
func CloneValue(v []byte) []byte {
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

// Inverted reports whether start sorts after stop, which makes [start, stop]
// an empty range.
func Inverted(start, stop []byte) bool {
	return start != nil && stop != nil && bytes.Compare(start, stop) > 0
}

// EmptyIterator returns an iterator that yields nothing.
func EmptyIterator() Iterator {
	return emptyIterator{}
}

type emptyIterator struct{}

func (emptyIterator) Next() bool    { return false }
func (emptyIterator) Key() []byte   { return nil }
func (emptyIterator) Value() []byte { return nil }
func (emptyIterator) Err() error    { return nil }
func (emptyIterator) Close() error  { return nil }
