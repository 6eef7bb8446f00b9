package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kona/internal/store"
	"kona/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return Open()
	})
}

func TestIteratorIgnoresLaterWrites(t *testing.T) {
	s := Open()
	defer s.Close()

	require.NoError(t, s.Put([]byte("a"), []byte("1")))
	require.NoError(t, s.Put([]byte("c"), []byte("3")))
	it, err := s.Iterate(nil, nil)
	require.NoError(t, err)
	defer it.Close()

	require.NoError(t, s.Put([]byte("b"), []byte("2")))
	require.NoError(t, s.Delete([]byte("c")))

	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	assert.Equal(t, []string{"a", "c"}, keys)
}

func TestCloseEarlyReleasesIterator(t *testing.T) {
	s := Open()
	defer s.Close()
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, s.Put([]byte(k), []byte(k)))
	}

	it, err := s.Iterate(nil, nil)
	require.NoError(t, err)
	require.True(t, it.Next())
	require.NoError(t, it.Close())
	assert.False(t, it.Next())
}

func TestStoredValuesAreCopied(t *testing.T) {
	s := Open()
	defer s.Close()

	key, val := []byte("k"), []byte("v")
	require.NoError(t, s.Put(key, val))
	key[0], val[0] = 'x', 'x'

	v, err := s.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))

	v[0] = 'y'
	v, err = s.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))
}

func TestClosedStore(t *testing.T) {
	s := Open()
	require.NoError(t, s.Close())

	_, err := s.Get([]byte("k"))
	assert.ErrorIs(t, err, store.ErrInvalidState)
	assert.ErrorIs(t, s.Put([]byte("k"), []byte("v")), store.ErrInvalidState)
	_, err = s.Snapshot()
	assert.ErrorIs(t, err, store.ErrInvalidState)
}
