package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/paymaster/adapters/store/storetest"
)

func TestBoltStore(t *testing.T) {
	s, err := OpenBoltStore(t.Context(), filepath.Join(t.TempDir(), "paymaster.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	storetest.Common(t, s)
}

func TestBoltStoreCleanup(t *testing.T) {
	s, err := OpenBoltStore(t.Context(), filepath.Join(t.TempDir(), "paymaster.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	bs := s.(*BoltStore)
	require.NoError(t, bs.Set(t.Context(), "short", "v", 50*time.Millisecond))
	require.NoError(t, bs.Set(t.Context(), "forever", "v", 0))

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, bs.cleanup())

	_, err = bs.Get(t.Context(), "forever")
	assert.NoError(t, err)

	ok, err := bs.Consume(t.Context(), "short")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(t.Context(), Options{Backend: "etcd"})
	assert.Error(t, err)
}
