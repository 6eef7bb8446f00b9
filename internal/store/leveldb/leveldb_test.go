package leveldb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kona/internal/store"
	"kona/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := Open(t.TempDir(), Options{WriteBuffer: 1 << 20}, false)
		require.NoError(t, err)
		return s
	})
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, Options{}, true)
	require.NoError(t, err)
	require.NoError(t, s.Apply([]store.Op{
		{Kind: store.OpPut, Key: []byte("a"), Value: []byte("1")},
		{Kind: store.OpPut, Key: []byte("b"), Value: []byte("2")},
		{Kind: store.OpDelete, Key: []byte("a")},
	}, true))
	require.NoError(t, s.Close())

	s, err = Open(dir, Options{}, true)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get([]byte("a"))
	require.ErrorIs(t, err, store.ErrNotFound)
	v, err := s.Get([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, "2", string(v))
}

func TestIteratorSeesStateAtCreation(t *testing.T) {
	s, err := Open(t.TempDir(), Options{}, false)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put([]byte("a"), []byte("1")))
	it, err := s.Iterate(nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put([]byte("b"), []byte("2")))

	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(t, it.Close())
	assert.Equal(t, []string{"a"}, keys)
}
