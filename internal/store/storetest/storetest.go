// Package storetest is a conformance suite every engine adapter runs from
// its own tests.
package storetest

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kona/internal/store"
)

// Opener returns a fresh, empty engine. The suite closes it.
type Opener func(t *testing.T) store.Store

// Run executes the whole suite against the engines produced by open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, db *store.DB, st store.Store)
	}{
		{"WriteBatchApplies", testWriteBatchApplies},
		{"WriteBatchNoEarlyVisibility", testNoEarlyVisibility},
		{"WriteBatchLastOpWins", testLastOpWins},
		{"WriteBatchClearAndReuse", testClearAndReuse},
		{"WriteBatchRewrite", testRewrite},
		{"CancelRestoresOverwrite", testCancelRestoresOverwrite},
		{"CancelRestoresInsertAndDelete", testCancelRestoresInsertAndDelete},
		{"CancelRoundTripManyMutations", testCancelRoundTrip},
		{"FirstTouchWins", testFirstTouchWins},
		{"CancelBeforeWrite", testCancelBeforeWrite},
		{"CancelableStateMachine", testStateMachine},
		{"CancelableCloseKeepsWrites", testCloseKeepsWrites},
		{"GetOrDefault", testGetOrDefault},
		{"EmptyValueIsNotAbsent", testEmptyValue},
		{"InvalidArguments", testInvalidArguments},
		{"DeleteMissing", testDeleteMissing},
		{"IterateBounds", testIterateBounds},
		{"IterateIsRestartable", testIterateRestartable},
		{"ForEachStopsOnError", testForEachStops},
		{"SnapshotIsolation", testSnapshotIsolation},
		{"ClosedStore", testClosedStore},
		{"SyncedBatch", testSyncedBatch},
		{"ConcurrentReadersSeeWholeBatches", testConcurrentReaders},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := open(t)
			db := store.New(st, store.WithBackend("test"))
			t.Cleanup(func() { _ = db.Close() })
			tt.fn(t, db, st)
		})
	}
}

func put(t *testing.T, db *store.DB, key, value string) {
	t.Helper()
	require.NoError(t, db.Put([]byte(key), []byte(value)))
}

func requireValue(t *testing.T, db *store.DB, key, want string) {
	t.Helper()
	v, err := db.Get([]byte(key))
	require.NoError(t, err, "get %q", key)
	assert.Equal(t, want, string(v), "value of %q", key)
}

func requireAbsent(t *testing.T, db *store.DB, key string) {
	t.Helper()
	_, err := db.Get([]byte(key))
	require.ErrorIs(t, err, store.ErrNotFound, "get %q", key)
}

func testWriteBatchApplies(t *testing.T, db *store.DB, _ store.Store) {
	b := db.NewWriteBatch()
	require.NoError(t, b.Put([]byte("k1"), []byte("a")))
	require.NoError(t, b.Put([]byte("k2"), []byte("b")))
	assert.Equal(t, 2, b.Len())
	require.NoError(t, b.Write())

	requireValue(t, db, "k1", "a")
	requireValue(t, db, "k2", "b")
}

func testNoEarlyVisibility(t *testing.T, db *store.DB, _ store.Store) {
	put(t, db, "k2", "before")

	b := db.NewWriteBatch()
	require.NoError(t, b.Put([]byte("k1"), []byte("a")))
	require.NoError(t, b.Put([]byte("k2"), []byte("after")))
	require.NoError(t, b.Delete([]byte("k3")))

	requireAbsent(t, db, "k1")
	requireValue(t, db, "k2", "before")

	cb, err := db.NewCancelableWriteBatch()
	require.NoError(t, err)
	defer cb.Close()
	require.NoError(t, cb.Put([]byte("k4"), []byte("x")))
	requireAbsent(t, db, "k4")
}

func testLastOpWins(t *testing.T, db *store.DB, _ store.Store) {
	put(t, db, "gone", "v")

	b := db.NewWriteBatch()
	require.NoError(t, b.Put([]byte("k"), []byte("first")))
	require.NoError(t, b.Put([]byte("k"), []byte("second")))
	require.NoError(t, b.Put([]byte("gone"), []byte("again")))
	require.NoError(t, b.Delete([]byte("gone")))
	require.NoError(t, b.Delete([]byte("back")))
	require.NoError(t, b.Put([]byte("back"), []byte("here")))
	require.NoError(t, b.Write())

	requireValue(t, db, "k", "second")
	requireAbsent(t, db, "gone")
	requireValue(t, db, "back", "here")
}

func testClearAndReuse(t *testing.T, db *store.DB, _ store.Store) {
	b := db.NewWriteBatch()
	require.NoError(t, b.Put([]byte("dropped"), []byte("x")))
	b.Clear()
	assert.Equal(t, 0, b.Len())
	require.NoError(t, b.Write(), "empty batch writes nothing")
	requireAbsent(t, db, "dropped")

	require.NoError(t, b.Put([]byte("kept"), []byte("y")))
	require.NoError(t, b.Write())
	requireValue(t, db, "kept", "y")
}

func testRewrite(t *testing.T, db *store.DB, _ store.Store) {
	b := db.NewWriteBatch()
	require.NoError(t, b.Put([]byte("k"), []byte("batch")))
	require.NoError(t, b.Write())

	put(t, db, "k", "outside")
	require.NoError(t, b.Write(), "a written batch can be written again")
	requireValue(t, db, "k", "batch")
}

func testCancelRestoresOverwrite(t *testing.T, db *store.DB, _ store.Store) {
	put(t, db, "k", "old")

	cb, err := db.NewCancelableWriteBatch()
	require.NoError(t, err)
	require.NoError(t, cb.Put([]byte("k"), []byte("new")))
	require.NoError(t, cb.Write())
	requireValue(t, db, "k", "new")

	require.NoError(t, cb.Cancel())
	requireValue(t, db, "k", "old")
	assert.Equal(t, store.StateCanceled, cb.State())
}

func testCancelRestoresInsertAndDelete(t *testing.T, db *store.DB, _ store.Store) {
	put(t, db, "k2", "v2")

	cb, err := db.NewCancelableWriteBatch()
	require.NoError(t, err)
	require.NoError(t, cb.Put([]byte("k1"), []byte("new1")))
	require.NoError(t, cb.Delete([]byte("k2")))
	require.NoError(t, cb.Write())
	requireValue(t, db, "k1", "new1")
	requireAbsent(t, db, "k2")

	require.NoError(t, cb.Cancel())
	requireAbsent(t, db, "k1")
	requireValue(t, db, "k2", "v2")
}

func testCancelRoundTrip(t *testing.T, db *store.DB, _ store.Store) {
	put(t, db, "a", "a0")
	put(t, db, "b", "")

	cb, err := db.NewCancelableWriteBatch()
	require.NoError(t, err)
	for i := range 5 {
		require.NoError(t, cb.Put([]byte("a"), fmt.Appendf(nil, "a%d", i+1)))
		require.NoError(t, cb.Delete([]byte("b")))
		require.NoError(t, cb.Put([]byte("b"), fmt.Appendf(nil, "b%d", i+1)))
		require.NoError(t, cb.Put([]byte("c"), fmt.Appendf(nil, "c%d", i+1)))
		require.NoError(t, cb.Delete([]byte("c")))
	}
	require.NoError(t, cb.Write())
	requireValue(t, db, "a", "a5")
	requireValue(t, db, "b", "b5")
	requireAbsent(t, db, "c")

	require.NoError(t, cb.Cancel())
	requireValue(t, db, "a", "a0")
	requireValue(t, db, "b", "")
	requireAbsent(t, db, "c")
}

func testFirstTouchWins(t *testing.T, db *store.DB, _ store.Store) {
	put(t, db, "k", "v0")

	cb, err := db.NewCancelableWriteBatch()
	require.NoError(t, err)
	defer cb.Close()

	require.NoError(t, cb.Put([]byte("k"), []byte("v1")))
	require.NoError(t, cb.Put([]byte("k"), []byte("v2")))
	require.NoError(t, cb.Delete([]byte("k")))
	require.NoError(t, cb.Delete([]byte("fresh")))
	require.NoError(t, cb.Put([]byte("fresh"), []byte("x")))

	v, present, touched := cb.Original([]byte("k"))
	assert.True(t, touched)
	assert.True(t, present)
	assert.Equal(t, "v0", string(v))

	_, present, touched = cb.Original([]byte("fresh"))
	assert.True(t, touched)
	assert.False(t, present)

	_, _, touched = cb.Original([]byte("other"))
	assert.False(t, touched)
}

func testCancelBeforeWrite(t *testing.T, db *store.DB, _ store.Store) {
	put(t, db, "k", "old")

	cb, err := db.NewCancelableWriteBatch()
	require.NoError(t, err)
	defer cb.Close()

	require.ErrorIs(t, cb.Cancel(), store.ErrInvalidState, "cancel on empty batch")
	require.NoError(t, cb.Put([]byte("k"), []byte("new")))
	require.NoError(t, cb.Put([]byte("n"), []byte("new")))
	require.ErrorIs(t, cb.Cancel(), store.ErrInvalidState, "cancel before write")

	requireValue(t, db, "k", "old")
	requireAbsent(t, db, "n")
	assert.Equal(t, store.StateAccumulating, cb.State())
}

func testStateMachine(t *testing.T, db *store.DB, _ store.Store) {
	cb, err := db.NewCancelableWriteBatch()
	require.NoError(t, err)
	assert.Equal(t, store.StateEmpty, cb.State())
	assert.NotEqual(t, cb.ID().String(), "00000000-0000-0000-0000-000000000000")

	require.NoError(t, cb.Put([]byte("k"), []byte("v")))
	assert.Equal(t, store.StateAccumulating, cb.State())
	require.NoError(t, cb.Clear())
	assert.Equal(t, store.StateEmpty, cb.State())
	_, _, touched := cb.Original([]byte("k"))
	assert.False(t, touched, "clear drops the restore record")

	require.NoError(t, cb.Put([]byte("k"), []byte("v")))
	require.NoError(t, cb.Write())
	assert.Equal(t, store.StateWritten, cb.State())

	require.ErrorIs(t, cb.Put([]byte("k"), []byte("w")), store.ErrInvalidState)
	require.ErrorIs(t, cb.Delete([]byte("k")), store.ErrInvalidState)
	require.ErrorIs(t, cb.Clear(), store.ErrInvalidState)
	require.NoError(t, cb.Write(), "re-write is allowed")

	require.NoError(t, cb.Cancel())
	require.ErrorIs(t, cb.Cancel(), store.ErrInvalidState)
	require.ErrorIs(t, cb.Write(), store.ErrInvalidState)
	require.ErrorIs(t, cb.Put([]byte("k"), []byte("v")), store.ErrInvalidState)
	require.NoError(t, cb.Close(), "close after cancel is a no-op")
	assert.Equal(t, store.StateCanceled, cb.State())
	requireAbsent(t, db, "k")

	cb2, err := db.NewCancelableWriteBatch()
	require.NoError(t, err)
	require.NoError(t, cb2.Close())
	require.NoError(t, cb2.Close())
	assert.Equal(t, store.StateDiscarded, cb2.State())
	require.ErrorIs(t, cb2.Write(), store.ErrInvalidState)
	require.ErrorIs(t, cb2.Cancel(), store.ErrInvalidState)
}

func testCloseKeepsWrites(t *testing.T, db *store.DB, _ store.Store) {
	put(t, db, "k", "old")

	cb, err := db.NewCancelableWriteBatch()
	require.NoError(t, err)
	require.NoError(t, cb.Put([]byte("k"), []byte("new")))
	require.NoError(t, cb.Write())
	require.NoError(t, cb.Close())

	requireValue(t, db, "k", "new")
	require.ErrorIs(t, cb.Cancel(), store.ErrInvalidState)
	requireValue(t, db, "k", "new")
}

func testGetOrDefault(t *testing.T, db *store.DB, _ store.Store) {
	v, err := db.GetOrDefault([]byte("missing"), []byte("fallback"))
	require.NoError(t, err)
	assert.Equal(t, "fallback", string(v))

	put(t, db, "empty", "")
	v, err = db.GetOrDefault([]byte("empty"), []byte("fallback"))
	require.NoError(t, err)
	assert.NotNil(t, v)
	assert.Empty(t, v, "stored empty value wins over the default")

	put(t, db, "set", "value")
	v, err = db.GetOrDefault([]byte("set"), []byte("fallback"))
	require.NoError(t, err)
	assert.Equal(t, "value", string(v))

	_, err = db.GetOrDefault([]byte("missing"), nil)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testEmptyValue(t *testing.T, db *store.DB, _ store.Store) {
	put(t, db, "empty", "")

	v, err := db.Get([]byte("empty"))
	require.NoError(t, err)
	assert.NotNil(t, v)
	assert.Len(t, v, 0)

	ok, err := db.Has([]byte("empty"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.Has([]byte("missing"))
	require.NoError(t, err)
	assert.False(t, ok)

	var seen []string
	require.NoError(t, db.ForEach(nil, nil, func(k, v []byte) error {
		assert.NotNil(t, v)
		seen = append(seen, string(k))
		return nil
	}))
	assert.Equal(t, []string{"empty"}, seen)
}

func testInvalidArguments(t *testing.T, db *store.DB, _ store.Store) {
	cb, err := db.NewCancelableWriteBatch()
	require.NoError(t, err)
	defer cb.Close()
	b := db.NewWriteBatch()

	for _, key := range [][]byte{nil, {}} {
		_, err := db.Get(key)
		assert.ErrorIs(t, err, store.ErrInvalidArgument)
		assert.ErrorIs(t, db.Put(key, []byte("v")), store.ErrInvalidArgument)
		assert.ErrorIs(t, db.Delete(key), store.ErrInvalidArgument)
		assert.ErrorIs(t, b.Put(key, []byte("v")), store.ErrInvalidArgument)
		assert.ErrorIs(t, b.Delete(key), store.ErrInvalidArgument)
		assert.ErrorIs(t, cb.Put(key, []byte("v")), store.ErrInvalidArgument)
		assert.ErrorIs(t, cb.Delete(key), store.ErrInvalidArgument)
	}
	assert.ErrorIs(t, db.Put([]byte("k"), nil), store.ErrInvalidArgument)
	assert.ErrorIs(t, b.Put([]byte("k"), nil), store.ErrInvalidArgument)
	assert.ErrorIs(t, cb.Put([]byte("k"), nil), store.ErrInvalidArgument)

	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, cb.Len())
	assert.Equal(t, store.StateEmpty, cb.State())
	_, _, touched := cb.Original([]byte("k"))
	assert.False(t, touched, "rejected ops never touch")
}

func testDeleteMissing(t *testing.T, db *store.DB, _ store.Store) {
	require.NoError(t, db.Delete([]byte("never")))

	b := db.NewWriteBatch()
	require.NoError(t, b.Delete([]byte("never")))
	require.NoError(t, b.Write())
	requireAbsent(t, db, "never")
}

func collect(t *testing.T, db *store.DB, start, stop []byte) []string {
	t.Helper()
	var keys []string
	require.NoError(t, db.ForEach(start, stop, func(k, v []byte) error {
		assert.Equal(t, "v-"+string(k), string(v))
		keys = append(keys, string(k))
		return nil
	}))
	return keys
}

func testIterateBounds(t *testing.T, db *store.DB, _ store.Store) {
	for _, k := range []string{"d", "b", "e", "a", "c", "cc"} {
		put(t, db, k, "v-"+k)
	}

	tests := []struct {
		name        string
		start, stop []byte
		want        []string
	}{
		{"unbounded", nil, nil, []string{"a", "b", "c", "cc", "d", "e"}},
		{"inclusive", []byte("b"), []byte("d"), []string{"b", "c", "cc", "d"}},
		{"start only", []byte("c"), nil, []string{"c", "cc", "d", "e"}},
		{"stop only", nil, []byte("c"), []string{"a", "b", "c"}},
		{"between keys", []byte("bb"), []byte("ca"), []string{"c"}},
		{"single", []byte("e"), []byte("e"), []string{"e"}},
		{"past end", []byte("f"), nil, nil},
		{"reversed", []byte("d"), []byte("b"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, collect(t, db, tt.start, tt.stop))
		})
	}
}

func testIterateRestartable(t *testing.T, db *store.DB, _ store.Store) {
	for _, k := range []string{"a", "b", "c"} {
		put(t, db, k, "v-"+k)
	}

	first, err := db.Iterate(nil, nil)
	require.NoError(t, err)
	second, err := db.Iterate(nil, nil)
	require.NoError(t, err)

	require.True(t, first.Next())
	assert.Equal(t, "a", string(first.Key()))
	require.True(t, first.Next())
	assert.Equal(t, "b", string(first.Key()))

	require.True(t, second.Next())
	assert.Equal(t, "a", string(second.Key()), "each traversal starts over")
	require.NoError(t, second.Close())

	require.True(t, first.Next())
	assert.Equal(t, "c", string(first.Key()))
	assert.Equal(t, "v-c", string(first.Value()))
	assert.False(t, first.Next())
	assert.False(t, first.Next())
	require.NoError(t, first.Err())
	require.NoError(t, first.Close())

	assert.Equal(t, []string{"a", "b", "c"}, collect(t, db, nil, nil))
}

func testForEachStops(t *testing.T, db *store.DB, _ store.Store) {
	for _, k := range []string{"a", "b", "c"} {
		put(t, db, k, "v-"+k)
	}
	stop := errors.New("stop")
	var n int
	err := db.ForEach(nil, nil, func(k, v []byte) error {
		n++
		if string(k) == "b" {
			return stop
		}
		return nil
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 2, n)
}

func testSnapshotIsolation(t *testing.T, db *store.DB, st store.Store) {
	put(t, db, "k", "old")

	snap, err := st.Snapshot()
	require.NoError(t, err)

	v, err := snap.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(v))
	_, err = snap.Get([]byte("n"))
	require.ErrorIs(t, err, store.ErrNotFound)

	put(t, db, "k", "new")
	put(t, db, "n", "new")

	v, err = snap.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(v), "snapshot is fixed at creation")
	_, err = snap.Get([]byte("n"))
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, snap.Close())
	_, err = snap.Get([]byte("k"))
	require.ErrorIs(t, err, store.ErrInvalidState)
}

func testClosedStore(t *testing.T, db *store.DB, _ store.Store) {
	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	b := db.NewWriteBatch()
	require.NoError(t, b.Put([]byte("k"), []byte("v")))

	open, err := db.NewCancelableWriteBatch()
	require.NoError(t, err)
	require.NoError(t, open.Put([]byte("k"), []byte("v1")))
	written, err := db.NewCancelableWriteBatch()
	require.NoError(t, err)
	require.NoError(t, written.Put([]byte("w"), []byte("v")))
	require.NoError(t, written.Write())
	it, err := db.Iterate(nil, nil)
	require.NoError(t, err)
	require.True(t, it.Next())

	require.NoError(t, db.Close(), "live batches and iterators are released")
	require.NoError(t, db.Close(), "close is idempotent")

	_, err = db.Get([]byte("k"))
	assert.ErrorIs(t, err, store.ErrInvalidState)
	assert.ErrorIs(t, db.Put([]byte("k"), []byte("v")), store.ErrInvalidState)
	assert.ErrorIs(t, db.Delete([]byte("k")), store.ErrInvalidState)
	assert.ErrorIs(t, b.Write(), store.ErrInvalidState)
	_, err = db.Iterate(nil, nil)
	assert.ErrorIs(t, err, store.ErrInvalidState)
	_, err = db.NewCancelableWriteBatch()
	assert.ErrorIs(t, err, store.ErrInvalidState)

	assert.ErrorIs(t, open.Put([]byte("k2"), []byte("v")), store.ErrInvalidState)
	assert.ErrorIs(t, open.Delete([]byte("k3")), store.ErrInvalidState)
	assert.ErrorIs(t, open.Write(), store.ErrInvalidState)
	assert.NoError(t, open.Close())

	assert.ErrorIs(t, written.Cancel(), store.ErrInvalidState)
	assert.NoError(t, written.Close())

	assert.False(t, it.Next())
	assert.ErrorIs(t, it.Err(), store.ErrInvalidState)
	assert.NoError(t, it.Close())
}

// testSyncedBatch only checks that synced writes commit; durability
// itself is not observable here.
func testSyncedBatch(t *testing.T, db *store.DB, _ store.Store) {
	b := db.NewWriteBatch(store.WithSync(true))
	require.NoError(t, b.Put([]byte("a"), []byte("1")))
	require.NoError(t, b.Delete([]byte("missing")))
	require.NoError(t, b.Write())

	cb, err := db.NewCancelableWriteBatch(store.WithSync(true))
	require.NoError(t, err)
	require.NoError(t, cb.Put([]byte("a"), []byte("2")))
	require.NoError(t, cb.Write())
	requireValue(t, db, "a", "2")
	require.NoError(t, cb.Cancel())
	requireValue(t, db, "a", "1")
}

// testConcurrentReaders has one writer rewrite a group of keys to a common
// value per batch while readers scan them; a scan must never mix values
// from two batches.
func testConcurrentReaders(t *testing.T, db *store.DB, _ store.Store) {
	const (
		keys    = 8
		rounds  = 50
		readers = 4
	)
	keyAt := func(i int) []byte { return fmt.Appendf(nil, "group/%02d", i) }

	writeRound := func(round int) error {
		b := db.NewWriteBatch()
		for i := range keys {
			if err := b.Put(keyAt(i), fmt.Appendf(nil, "%04d", round)); err != nil {
				return err
			}
		}
		return b.Write()
	}
	require.NoError(t, writeRound(0))

	var (
		done   atomic.Bool
		wg     sync.WaitGroup
		failMu sync.Mutex
		fails  []string
	)
	for range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !done.Load() {
				var values []string
				err := db.ForEach(keyAt(0), keyAt(keys-1), func(_, v []byte) error {
					values = append(values, string(v))
					return nil
				})
				failMu.Lock()
				switch {
				case err != nil:
					fails = append(fails, err.Error())
				case len(values) != keys:
					fails = append(fails, fmt.Sprintf("saw %d keys", len(values)))
				default:
					for _, v := range values[1:] {
						if v != values[0] {
							fails = append(fails, fmt.Sprintf("mixed batch: %v", values))
							break
						}
					}
				}
				failMu.Unlock()
			}
		}()
	}

	for round := 1; round <= rounds; round++ {
		require.NoError(t, writeRound(round))
	}
	done.Store(true)
	wg.Wait()

	assert.Empty(t, fails)
	v, err := db.Get(keyAt(keys - 1))
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%04d", rounds), string(v))
}
