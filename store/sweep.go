package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sitepulse/domain-cache/telemetry"
)

// SweepTarget names a key prefix and the staleness bound its entries are
// held to.
type SweepTarget struct {
	Prefix string
	MaxAge time.Duration

	// Exempt lists exact keys under Prefix the sweeper must never touch.
	// Keys holding user intent are read with no staleness bound, so
	// evicting them would change read-visible behavior.
	Exempt []string
}

// SweeperConfig holds background eviction configuration.
type SweeperConfig struct {
	// Targets are the entry-store prefixes to sweep.
	Targets []SweepTarget

	// CheckInterval is how often to run eviction checks.
	// Default is 1 hour.
	CheckInterval time.Duration

	// Logger for eviction events.
	Logger *slog.Logger
}

// Sweeper proactively deletes expired entries. Reads already treat
// expired entries as absent (expire-on-read), so the sweeper only
// reclaims space; it never changes read-visible behavior.
type Sweeper struct {
	config SweeperConfig
	store  *Store
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSweeper creates a background eviction sweeper over the given store.
func NewSweeper(s *Store, cfg SweeperConfig) *Sweeper {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 1 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Sweeper{
		config: cfg,
		store:  s,
		logger: cfg.Logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins background eviction checks.
func (sw *Sweeper) Start(ctx context.Context) {
	sw.mu.Lock()
	if sw.running || sw.stopped {
		sw.mu.Unlock()
		return
	}
	sw.running = true
	sw.mu.Unlock()

	go sw.run(ctx)
}

// Stop stops background eviction checks.
func (sw *Sweeper) Stop() {
	sw.mu.Lock()
	if !sw.running || sw.stopped {
		sw.mu.Unlock()
		return
	}
	sw.stopped = true
	sw.mu.Unlock()

	close(sw.stopCh)
	<-sw.doneCh
}

func (sw *Sweeper) run(ctx context.Context) {
	defer close(sw.doneCh)

	ticker := time.NewTicker(sw.config.CheckInterval)
	defer ticker.Stop()

	// Run immediately on start
	sw.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sw.stopCh:
			return
		case <-ticker.C:
			sw.RunOnce(ctx)
		}
	}
}

// SweepResult contains the results of an eviction run.
type SweepResult struct {
	Scanned  int
	Removed  int
	Errors   int
	Duration time.Duration
}

// RunOnce performs a single eviction pass over all configured targets.
func (sw *Sweeper) RunOnce(ctx context.Context) *SweepResult {
	start := sw.store.Now()
	result := &SweepResult{}

	sw.logger.Debug("starting eviction sweep")

	for _, target := range sw.config.Targets {
		keys, err := sw.store.KV().Keys(target.Prefix)
		if err != nil {
			sw.logger.Warn("failed to list keys for sweep", "prefix", target.Prefix, "error", err)
			result.Errors++
			continue
		}

		for _, key := range keys {
			if exemptKey(target, key) {
				continue
			}
			result.Scanned++
			if sw.expireKey(key, target.MaxAge) {
				result.Removed++
			}
		}
	}

	result.Duration = sw.store.Now().Sub(start)
	telemetry.RecordSweep(ctx, result.Duration, result.Removed)

	if result.Removed > 0 {
		sw.logger.Info("eviction sweep complete",
			"scanned", result.Scanned,
			"removed", result.Removed,
			"duration", result.Duration,
		)
	} else {
		sw.logger.Debug("eviction sweep complete, nothing to remove")
	}

	return result
}

func exemptKey(target SweepTarget, key string) bool {
	for _, exempt := range target.Exempt {
		if key == exempt {
			return true
		}
	}
	return false
}

// expireKey deletes the entry at key if it is expired or unparseable.
// Reports whether a deletion happened.
func (sw *Sweeper) expireKey(key string, maxAge time.Duration) bool {
	raw, err := sw.store.KV().Get(key)
	if err != nil {
		return false
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		sw.store.Remove(key)
		return true
	}

	if maxAge > 0 && sw.store.Now().UnixMilli()-entry.Timestamp > maxAge.Milliseconds() {
		sw.store.Remove(key)
		return true
	}
	return false
}
