package blobstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStores(t *testing.T) map[string]Store {
	fs, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	return map[string]Store{
		"fs":  fs,
		"mem": NewMemStore(),
	}
}

func TestStorePutGetRoundTrip(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ref, err := store.Put([]byte("hello"), "bundle.zip", "application/zip", map[string]string{"job": "job-1"})
			require.NoError(t, err)
			assert.NotEmpty(t, ref)

			data, filename, contentType, err := store.Get(ref)
			require.NoError(t, err)
			assert.Equal(t, []byte("hello"), data)
			assert.Equal(t, "bundle.zip", filename)
			assert.Equal(t, "application/zip", contentType)
		})
	}
}

func TestStorePutIsContentAddressed(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ref1, err := store.Put([]byte("same bytes"), "a.zip", "application/zip", nil)
			require.NoError(t, err)
			ref2, err := store.Put([]byte("same bytes"), "b.zip", "application/zip", nil)
			require.NoError(t, err)
			assert.Equal(t, ref1, ref2)
		})
	}
}

func TestStoreGetMissingReturnsErrNotFound(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, _, _, err := store.Get("does-not-exist")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreDeleteThenList(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ref, err := store.Put([]byte("payload"), "f.txt", "text/plain", nil)
			require.NoError(t, err)

			metas, err := store.List()
			require.NoError(t, err)
			require.Len(t, metas, 1)
			assert.Equal(t, ref, metas[0].Ref)

			require.NoError(t, store.Delete(ref))

			_, _, _, err = store.Get(ref)
			assert.ErrorIs(t, err, ErrNotFound)

			metas, err = store.List()
			require.NoError(t, err)
			assert.Empty(t, metas)
		})
	}
}

func TestFSStoreDeleteMissingIsNotAnError(t *testing.T) {
	fs, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, fs.Delete("missing"))
}
