package pebble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kona/internal/store"
	"kona/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := Open(t.TempDir(), Options{CacheSize: 1 << 20}, false)
		require.NoError(t, err)
		return s
	})
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, Options{}, true)
	require.NoError(t, err)
	require.NoError(t, s.Put([]byte("k"), []byte("v")))
	require.NoError(t, s.Close())

	s, err = Open(dir, Options{}, true)
	require.NoError(t, err)
	defer s.Close()
	v, err := s.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))
}

func TestSnapshotIgnoresUnreadWrites(t *testing.T) {
	s, err := Open(t.TempDir(), Options{}, false)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put([]byte("k"), []byte("old")))
	snap, err := s.Snapshot()
	require.NoError(t, err)
	defer snap.Close()

	require.NoError(t, s.Put([]byte("k"), []byte("new")))
	require.NoError(t, s.Put([]byte("n"), []byte("new")))

	v, err := snap.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(v), "native snapshot needs no prior read")
	_, err = snap.Get([]byte("n"))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestApplyUnknownOp(t *testing.T) {
	s, err := Open(t.TempDir(), Options{}, false)
	require.NoError(t, err)
	defer s.Close()

	err = s.Apply([]store.Op{
		{Kind: store.OpPut, Key: []byte("k"), Value: []byte("v")},
		{Kind: 0, Key: []byte("bad")},
	}, true)
	require.Error(t, err)
	assert.True(t, store.IsStoreError(err))
	_, err = s.Get([]byte("k"))
	require.ErrorIs(t, err, store.ErrNotFound)
}
