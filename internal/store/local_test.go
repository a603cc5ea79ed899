package store

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(t.TempDir(), 16, 2, true)
	require.NoError(t, err)
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)

	data := []byte("some object payload")
	hash, err := s.Put(data)
	require.NoError(t, err)
	require.Len(t, hash, 64)

	got, err := s.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// second read comes from cache
	got, err = s.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestPutIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	h1, err := s.Put([]byte("same"))
	require.NoError(t, err)
	h2, err := s.Put([]byte("same"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestGetAbsent(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get("deadbeef")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHasAndDelete(t *testing.T) {
	s := newTestStore(t)

	hash, err := s.Put([]byte("here today"))
	require.NoError(t, err)

	ok, err := s.Has(hash)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(hash))

	ok, err = s.Has(hash)
	require.NoError(t, err)
	assert.False(t, ok)

	// deleting again is a no-op
	require.NoError(t, s.Delete(hash))
}

func TestCompressionDisabledRoundTrip(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), 16, 2, false)
	require.NoError(t, err)

	data := []byte("stored raw")
	hash, err := s.Put(data)
	require.NoError(t, err)

	got, err := s.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestObjectsSkipsRefcountSidecars(t *testing.T) {
	s := newTestStore(t)

	h1, err := s.Put([]byte("one"))
	require.NoError(t, err)
	h2, err := s.Put([]byte("two"))
	require.NoError(t, err)

	_, err = s.IncRef(h1)
	require.NoError(t, err)

	hashes, err := s.Objects()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{h1, h2}, hashes)
}

func TestRefcountLifecycle(t *testing.T) {
	s := newTestStore(t)

	hash, err := s.Put([]byte("counted"))
	require.NoError(t, err)

	n, err := s.RefCount(hash)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), n)

	n, err = s.IncRef(hash)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), n)

	n, err = s.IncRef(hash)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), n)

	n, err = s.DecRef(hash)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), n)

	n, err = s.DecRef(hash)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), n)

	// at zero the sidecar is gone and reads as zero again
	n, err = s.RefCount(hash)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), n)

	_, err = s.DecRef(hash)
	assert.ErrorIs(t, err, ErrRefCountUnderflow)
}

func TestRefcountCounterWithoutObject(t *testing.T) {
	s := newTestStore(t)

	// counters are independent of object presence
	n, err := s.IncRef("aa00000000000000000000000000000000000000000000000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), n)
}

func TestRefcountConcurrentIncrements(t *testing.T) {
	s := newTestStore(t)

	hash, err := s.Put([]byte("contended"))
	require.NoError(t, err)

	const workers = 16
	const perWorker = 25

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				if _, err := s.IncRef(hash); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	n, err := s.RefCount(hash)
	require.NoError(t, err)
	assert.Equal(t, uint32(workers*perWorker), n, "no increment may be lost")
}

func TestRefcountConcurrentMixed(t *testing.T) {
	s := newTestStore(t)

	hash, err := s.Put([]byte("mixed"))
	require.NoError(t, err)

	const pairs = 100
	for range pairs {
		_, err := s.IncRef(hash)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for range pairs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.DecRef(hash); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	n, err := s.RefCount(hash)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), n)
}

func TestRefsRoundTrip(t *testing.T) {
	s := newTestStore(t)

	hash, err := s.Put([]byte("root object"))
	require.NoError(t, err)

	require.NoError(t, s.PutRef("head", hash))

	got, err := s.GetRef("head")
	require.NoError(t, err)
	assert.Equal(t, hash, got)

	_, err = s.GetRef("absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestShardedLayout(t *testing.T) {
	s := newTestStore(t)

	hashes := make([]string, 0, 8)
	for i := range 8 {
		h, err := s.Put(fmt.Appendf(nil, "object %d", i))
		require.NoError(t, err)
		hashes = append(hashes, h)
	}

	listed, err := s.Objects()
	require.NoError(t, err)
	assert.ElementsMatch(t, hashes, listed)
}
