package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBolt(t *testing.T, opts ...BoltOption) *Bolt {
	t.Helper()
	b := NewBolt(opts...)
	dbPath := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, b.Open(dbPath))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBolt_GetSetRemove(t *testing.T) {
	t.Run("Set and Get round-trip", func(t *testing.T) {
		b := newTestBolt(t)

		require.NoError(t, b.Set("domain_cache_tracked_domains", []byte(`["a.com"]`)))

		got, err := b.Get("domain_cache_tracked_domains")
		require.NoError(t, err)
		assert.Equal(t, []byte(`["a.com"]`), got)
	})

	t.Run("Get returns ErrNotFound for missing key", func(t *testing.T) {
		b := newTestBolt(t)

		_, err := b.Get("nonexistent")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Set overwrites existing value", func(t *testing.T) {
		b := newTestBolt(t)

		require.NoError(t, b.Set("k", []byte("v1")))
		require.NoError(t, b.Set("k", []byte("v2")))

		got, err := b.Get("k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)
	})

	t.Run("Remove is idempotent", func(t *testing.T) {
		b := newTestBolt(t)

		require.NoError(t, b.Set("k", []byte("v")))
		require.NoError(t, b.Remove("k"))
		require.NoError(t, b.Remove("k"))

		_, err := b.Get("k")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestBolt_Keys(t *testing.T) {
	b := newTestBolt(t)

	require.NoError(t, b.Set("domain_cache_tracked_domains", []byte("1")))
	require.NoError(t, b.Set("domain_cache_user_domains", []byte("2")))
	require.NoError(t, b.Set("keyword_cache_v2_a.com", []byte("3")))

	keys, err := b.Keys("domain_cache_")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"domain_cache_tracked_domains", "domain_cache_user_domains"}, keys)

	all, err := b.Keys("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestBolt_Persistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "persist.db")

	b := NewBolt()
	require.NoError(t, b.Open(dbPath))
	require.NoError(t, b.Set("k", []byte("v")))
	require.NoError(t, b.Close())

	reopened := NewBolt()
	require.NoError(t, reopened.Open(dbPath))
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}
