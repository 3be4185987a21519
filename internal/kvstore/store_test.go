package kvstore

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "proj.ldb"), OpenDefault)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenModes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p.ldb")

	_, err := Open(path, OpenExisting)
	assert.Error(t, err, "missing database must not open in existing mode")

	s, err := Open(path, OpenCreate)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path, OpenCreate)
	assert.Error(t, err, "create mode must refuse an existing database")

	s, err = Open(path, OpenExisting)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path, OpenDefault)
	require.NoError(t, err)
	s.Close()
}

func TestGetPutDelete(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put("k", []byte("v1")))
	v, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	require.NoError(t, s.Put("k", []byte("v2")))
	v, _ = s.Get("k")
	assert.Equal(t, []byte("v2"), v)

	require.NoError(t, s.Delete("k"))
	_, err = s.Get("k")
	assert.ErrorIs(t, err, ErrNotFound)

	// deleting an absent key is not an error
	assert.NoError(t, s.Delete("k"))
}

func TestBatchAppliesAtomically(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put("stale", []byte("old")))

	b := s.NewBatch()
	b.Put("a", []byte("1"))
	b.Put("b", []byte("2"))
	b.Delete("stale")
	require.Equal(t, 3, b.Len())

	// nothing visible before the write
	_, err := s.Get("a")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Write())

	va, _ := s.Get("a")
	vb, _ := s.Get("b")
	assert.Equal(t, []byte("1"), va)
	assert.Equal(t, []byte("2"), vb)
	_, err = s.Get("stale")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBatchDiscard(t *testing.T) {
	s := newTestStore(t)

	b := s.NewBatch()
	b.Put("x", []byte("1"))
	b.Discard()
	require.NoError(t, b.Write())

	_, err := s.Get("x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentReads(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put("shared", []byte("value")))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				v, err := s.Get("shared")
				assert.NoError(t, err)
				assert.Equal(t, []byte("value"), v)
			}
		}()
	}
	wg.Wait()
}

func TestDestroyRemovesDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.ldb")
	s, err := Open(path, OpenDefault)
	require.NoError(t, err)
	require.NoError(t, s.Put("k", []byte("v")))
	require.NoError(t, s.Destroy())

	_, err = Open(path, OpenExisting)
	assert.Error(t, err)
}
