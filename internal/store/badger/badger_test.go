package badger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kona/internal/store"
	"kona/internal/store/storetest"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), Options{
		ValueLogFileSize: 1 << 20,
		MemTableSize:     8 << 20,
		BlockCacheSize:   1 << 20,
		IndexCacheSize:   1 << 20,
	}, false)
	require.NoError(t, err)
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openTemp(t)
	})
}

func TestSnapshotIgnoresUnreadWrites(t *testing.T) {
	s := openTemp(t)
	defer s.Close()

	require.NoError(t, s.Put([]byte("k"), []byte("old")))
	snap, err := s.Snapshot()
	require.NoError(t, err)
	defer snap.Close()

	require.NoError(t, s.Delete([]byte("k")))

	v, err := snap.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(v))
}

func TestIteratorAfterExhaustion(t *testing.T) {
	s := openTemp(t)
	defer s.Close()

	require.NoError(t, s.Put([]byte("a"), []byte{}))
	it, err := s.Iterate(nil, nil)
	require.NoError(t, err)

	require.True(t, it.Next())
	assert.Equal(t, "a", string(it.Key()))
	assert.NotNil(t, it.Value(), "empty values are non-nil")
	assert.False(t, it.Next())
	assert.Nil(t, it.Key())
	require.NoError(t, it.Err())
	require.NoError(t, it.Close())
	require.NoError(t, it.Close())
}

func TestSyncedApplyOnUnsyncedStore(t *testing.T) {
	s := openTemp(t)
	defer s.Close()

	require.NoError(t, s.Apply([]store.Op{
		{Kind: store.OpPut, Key: []byte("k"), Value: []byte("v")},
		{Kind: store.OpDelete, Key: []byte("gone")},
	}, true))
	v, err := s.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))
}
