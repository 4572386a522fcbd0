package walletdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// testStoreSemantics exercises the Store contract against an implementation.
func testStoreSemantics(t *testing.T, store Store) {
	t.Helper()

	// Absent keys return nil, not an error.
	got, err := store.Get([]byte("missing"))
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, store.Put([]byte("k"), []byte("v1")))

	got, err = store.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), got)

	// Overwrite.
	require.NoError(t, store.Put([]byte("k"), []byte("v2")))
	got, err = store.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), got)

	// Delete, including of absent keys.
	require.NoError(t, store.Delete([]byte("k")))
	require.NoError(t, store.Delete([]byte("k")))

	got, err = store.Get([]byte("k"))
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMemStore(t *testing.T) {
	t.Parallel()

	store := NewMemStore()
	defer store.Close()

	testStoreSemantics(t, store)
}

func TestLevelStore(t *testing.T) {
	t.Parallel()

	store, err := OpenLevelStore(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer store.Close()

	testStoreSemantics(t, store)
}
