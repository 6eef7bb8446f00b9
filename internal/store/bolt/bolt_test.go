package bolt

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kona/internal/store"
	"kona/internal/store/storetest"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), Options{Timeout: time.Second}, false)
	require.NoError(t, err)
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return tempStore(t)
	})
}

func TestOpenCreatesDataFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, Options{}, true)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = os.Stat(filepath.Join(dir, fileName))
	require.NoError(t, err, "db file should exist")
}

func TestOpenInvalidPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir"), Options{}, false)
	require.Error(t, err)
	assert.True(t, store.IsStoreError(err))
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, Options{}, true)
	require.NoError(t, err)
	require.NoError(t, s.Apply([]store.Op{
		{Kind: store.OpPut, Key: []byte("k1"), Value: []byte("v1")},
		{Kind: store.OpPut, Key: []byte("k2"), Value: []byte{}},
	}, false))
	require.NoError(t, s.Close())

	s, err = Open(dir, Options{}, true)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.Get([]byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(v))
	v, err = s.Get([]byte("k2"))
	require.NoError(t, err)
	assert.NotNil(t, v)
	assert.Empty(t, v)
}

func TestGetPrefixIsNotAMatch(t *testing.T) {
	s := tempStore(t)
	defer s.Close()

	require.NoError(t, s.Put([]byte("abc"), []byte("v")))
	_, err := s.Get([]byte("ab"))
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Get([]byte("abcd"))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSnapshotIsLazy(t *testing.T) {
	s := tempStore(t)
	defer s.Close()

	snap, err := s.Snapshot()
	require.NoError(t, err)
	defer snap.Close()
	_, ok := snap.(*store.LazySnapshot)
	assert.True(t, ok, "bolt snapshots capture per key")
}

func TestApplyUnknownOpRollsBack(t *testing.T) {
	s := tempStore(t)
	defer s.Close()

	err := s.Apply([]store.Op{
		{Kind: store.OpPut, Key: []byte("k"), Value: []byte("v")},
		{Kind: 0, Key: []byte("bad")},
	}, false)
	require.Error(t, err)
	assert.True(t, store.IsStoreError(err))

	_, err = s.Get([]byte("k"))
	require.ErrorIs(t, err, store.ErrNotFound, "failed apply leaves nothing behind")
}

func TestSyncedApplyOnUnsyncedStore(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, Options{}, false)
	require.NoError(t, err)
	require.NoError(t, s.Apply([]store.Op{
		{Kind: store.OpPut, Key: []byte("k"), Value: []byte("v")},
	}, true))
	require.NoError(t, s.Close())

	s, err = Open(dir, Options{}, false)
	require.NoError(t, err)
	defer s.Close()
	v, err := s.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))
}
