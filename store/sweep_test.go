package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_RunOnce(t *testing.T) {
	s, kv, clock := newTestStore(t)

	require.True(t, s.Set("domain_cache_tracked_domains", []string{"a.com"}, ""))
	require.True(t, s.Set("domain_context_a.com", map[string]string{"business_name": "Acme"}, ""))
	require.NoError(t, kv.Set("domain_cache_corrupt", []byte("{broken")))

	clock.advance(25 * time.Hour)
	// Context entry written after the clock advance stays fresh.
	require.True(t, s.Set("domain_context_b.com", map[string]string{}, ""))

	sw := NewSweeper(s, SweeperConfig{
		Targets: []SweepTarget{
			{Prefix: "domain_cache_", MaxAge: 24 * time.Hour},
			{Prefix: "domain_context_", MaxAge: 7 * 24 * time.Hour},
		},
	})

	result := sw.RunOnce(context.Background())
	assert.Equal(t, 4, result.Scanned)
	assert.Equal(t, 2, result.Removed) // expired tracked list + corrupt entry

	_, err := kv.Get("domain_cache_tracked_domains")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = kv.Get("domain_cache_corrupt")
	assert.ErrorIs(t, err, ErrNotFound)

	// Entries inside their bound survive.
	_, ok := s.Get("domain_context_a.com", 7*24*time.Hour)
	assert.True(t, ok)
	_, ok = s.Get("domain_context_b.com", 7*24*time.Hour)
	assert.True(t, ok)
}

func TestSweeper_ExemptKeySurvivesSweep(t *testing.T) {
	s, kv, clock := newTestStore(t)

	require.True(t, s.Set("domain_cache_selected_domain", "a.com", ""))
	require.True(t, s.Set("domain_cache_tracked_domains", []string{"a.com"}, ""))

	clock.advance(25 * time.Hour)

	sw := NewSweeper(s, SweeperConfig{
		Targets: []SweepTarget{
			{
				Prefix: "domain_cache_",
				MaxAge: 24 * time.Hour,
				Exempt: []string{"domain_cache_selected_domain"},
			},
		},
	})

	result := sw.RunOnce(context.Background())
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Removed)

	// The selected domain has no staleness bound; a no-TTL read must
	// still see it after any number of sweeps.
	selected, ok := GetAs[string](s, "domain_cache_selected_domain", 0)
	require.True(t, ok)
	assert.Equal(t, "a.com", selected)

	_, err := kv.Get("domain_cache_tracked_domains")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSweeper_StartStop(t *testing.T) {
	s, _, _ := newTestStore(t)

	sw := NewSweeper(s, SweeperConfig{CheckInterval: time.Minute})
	sw.Start(context.Background())
	sw.Stop()

	// Stop after stop is a no-op.
	sw.Stop()
}
