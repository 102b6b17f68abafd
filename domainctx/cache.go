// Package domainctx implements the per-domain business profile cache:
// local-first reads over the entry store, fetch-and-reconcile against the
// authoritative record store and the remote profile service, and
// best-effort propagation of updates.
package domainctx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	domaincache "github.com/sitepulse/domain-cache"
	"github.com/sitepulse/domain-cache/record"
	"github.com/sitepulse/domain-cache/store"
)

// State tracks where a domain's context is in its load cycle.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateLocalHydrated State = "local_hydrated"
	StateFetching      State = "fetching"
	StateReconciled    State = "reconciled"
	StateFetchFailed   State = "fetch_failed"
)

// ErrNoActor is returned when an update is attempted without an
// authenticated actor. Checked before any write happens.
var ErrNoActor = errors.New("authentication required to update domain context")

// Recorder is the authoritative record store for owned domain contexts.
type Recorder interface {
	GetByUserDomain(ctx context.Context, userID, domain string) (*record.Record, error)
	Insert(ctx context.Context, userID, domain string, dc *domaincache.DomainContext) (*record.Record, error)
	UpdateByID(ctx context.Context, id string, dc *domaincache.DomainContext) error
}

// ProfileService is the remote profile service. Fetch results are
// advisory input to reconciliation; updates to it are replication, not
// the source of truth.
type ProfileService interface {
	FetchContext(ctx context.Context, domain string) (*domaincache.DomainContext, error)
	UpdateContext(ctx context.Context, domain string, params *domaincache.DomainContext) error
}

// Extractor runs crawl-and-extract for a domain. A nil error must come
// with a non-nil context.
type Extractor interface {
	Extract(ctx context.Context, domain string) (*domaincache.DomainContext, error)
}

// Manager hands out per-domain context caches. Each domain gets exactly
// one Cache for the life of the process, so concurrent requests for
// different domains never share mutable state.
type Manager struct {
	store     *store.Store
	records   Recorder
	remote    ProfileService
	extractor Extractor
	logger    *slog.Logger
	maxAge    time.Duration

	mu     sync.Mutex
	caches map[string]*Cache
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for the manager and its caches.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMaxAge overrides the default 7-day staleness bound.
func WithMaxAge(maxAge time.Duration) Option {
	return func(m *Manager) {
		m.maxAge = maxAge
	}
}

// NewManager creates a domain context cache manager.
func NewManager(s *store.Store, records Recorder, remote ProfileService, extractor Extractor, opts ...Option) *Manager {
	m := &Manager{
		store:     s,
		records:   records,
		remote:    remote,
		extractor: extractor,
		logger:    slog.Default(),
		maxAge:    domaincache.ContextMaxAge,
		caches:    make(map[string]*Cache),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ForDomain returns the cache for a domain, creating and hydrating it on
// first use. Returns nil for an empty domain.
func (m *Manager) ForDomain(domain string) *Cache {
	normalized := domaincache.NormalizeDomain(domain)
	if normalized == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.caches[normalized]; ok {
		return c
	}
	c := newCache(m, normalized)
	m.caches[normalized] = c
	return c
}

// Cache holds one domain's context. Obtained from a Manager; safe for
// concurrent use. The acting user is a per-call parameter, never cache
// state, so one request's identity cannot leak into another's.
type Cache struct {
	store     *store.Store
	records   Recorder
	remote    ProfileService
	extractor Extractor
	logger    *slog.Logger
	maxAge    time.Duration
	domain    string
	group     singleflight.Group

	mu            sync.Mutex
	state         State
	context       *domaincache.DomainContext
	lastError     string
	hasAutoFilled bool
}

// newCache creates the cache for one domain and synchronously hydrates it
// from local storage, so the first read after construction has data
// without a network round-trip.
func newCache(m *Manager, domain string) *Cache {
	c := &Cache{
		store:     m.store,
		records:   m.records,
		remote:    m.remote,
		extractor: m.extractor,
		logger:    m.logger,
		maxAge:    m.maxAge,
		domain:    domain,
		state:     StateUninitialized,
	}

	if dc, ok := store.GetAs[*domaincache.DomainContext](c.store, c.cacheKey(), c.maxAge); ok && dc != nil {
		c.context = dc
		c.state = StateLocalHydrated
	}
	return c
}

// Snapshot is a consistent view of the cache state, taken under one lock
// so concurrent mutations cannot tear it.
type Snapshot struct {
	Domain          string
	State           State
	Context         *domaincache.DomainContext
	FilledCount     int
	ProgressPercent float64
	HasAutoFilled   bool
	LastError       string
}

// Snapshot returns a consistent copy of the current state.
func (c *Cache) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Domain:          c.domain,
		State:           c.state,
		Context:         c.context.Clone(),
		FilledCount:     c.context.FilledCount(),
		ProgressPercent: c.context.ProgressPercent(),
		HasAutoFilled:   c.hasAutoFilled,
		LastError:       c.lastError,
	}
}

// Fetch reconciles the in-memory context against the authoritative
// record store, falling back to the remote profile service on miss.
// Concurrent calls for the same domain share one flight.
//
// Merge policy: a fetch result with no filled fields never replaces an
// in-memory context that has filled fields. A transient empty response
// must not visibly wipe out data the user populated or extraction found.
func (c *Cache) Fetch(ctx context.Context, userID string) error {
	c.mu.Lock()
	c.state = StateFetching
	c.mu.Unlock()

	fetched, err, _ := c.group.Do(c.domain, func() (any, error) {
		return c.fetchAuthoritative(ctx, userID)
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.state = StateFetchFailed
		c.lastError = err.Error()
		// Whatever was already cached stays visible.
		return err
	}

	result, _ := fetched.(*domaincache.DomainContext)
	if result == nil || result.IsEmpty() {
		if c.context.FilledCount() > 0 {
			// Keep the populated in-memory context.
			c.state = StateReconciled
			c.lastError = ""
			return nil
		}
		c.context = &domaincache.DomainContext{Domain: c.domain}
	} else {
		result.Domain = c.domain
		c.context = result
		c.store.SetIfChanged(c.cacheKey(), result, c.maxAge)
	}
	c.state = StateReconciled
	c.lastError = ""
	return nil
}

func (c *Cache) fetchAuthoritative(ctx context.Context, userID string) (*domaincache.DomainContext, error) {
	if userID != "" {
		rec, err := c.records.GetByUserDomain(ctx, userID, c.domain)
		if err == nil {
			return rec.Context, nil
		}
		if !errors.Is(err, record.ErrNotFound) {
			c.logger.Debug("record store read failed, falling back to remote",
				"domain", c.domain, "error", err)
		}
	}
	return c.remote.FetchContext(ctx, c.domain)
}

// Update applies a partial context change on behalf of userID: a
// read-modify-write on the authoritative record store (insert if absent),
// local cache update on success, then fire-and-forget replication to the
// remote profile service. Fails before any write when userID is empty.
func (c *Cache) Update(ctx context.Context, userID string, partial *domaincache.DomainContext) error {
	if userID == "" {
		return ErrNoActor
	}

	c.mu.Lock()
	current := c.context.Clone()
	c.mu.Unlock()

	merged, err := c.writeRecord(ctx, userID, current, partial)
	if err != nil {
		c.mu.Lock()
		c.lastError = err.Error()
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.context = merged
	c.state = StateReconciled
	c.lastError = ""
	c.mu.Unlock()
	c.store.SetIfChanged(c.cacheKey(), merged, c.maxAge)

	// Advisory replication: the record store write above is the source of
	// truth, so a remote failure is logged, never surfaced.
	go func() {
		bgCtx := context.WithoutCancel(ctx)
		if err := c.remote.UpdateContext(bgCtx, c.domain, merged); err != nil {
			c.logger.Warn("remote context propagation failed", "domain", c.domain, "error", err)
		}
	}()

	return nil
}

func (c *Cache) writeRecord(ctx context.Context, userID string, current, partial *domaincache.DomainContext) (*domaincache.DomainContext, error) {
	rec, err := c.records.GetByUserDomain(ctx, userID, c.domain)
	switch {
	case err == nil:
		merged := rec.Context.Clone()
		if merged == nil {
			merged = &domaincache.DomainContext{}
		}
		if err := merged.Merge(partial); err != nil {
			return nil, fmt.Errorf("merging context update: %w", err)
		}
		merged.Domain = c.domain
		if err := c.records.UpdateByID(ctx, rec.ID, merged); err != nil {
			return nil, fmt.Errorf("updating owned record: %w", err)
		}
		return merged, nil

	case errors.Is(err, record.ErrNotFound):
		merged := current.Clone()
		if merged == nil {
			merged = &domaincache.DomainContext{}
		}
		if err := merged.Merge(partial); err != nil {
			return nil, fmt.Errorf("merging context update: %w", err)
		}
		merged.Domain = c.domain
		if _, err := c.records.Insert(ctx, userID, c.domain, merged); err != nil {
			return nil, fmt.Errorf("inserting owned record: %w", err)
		}
		return merged, nil

	default:
		return nil, fmt.Errorf("reading owned record: %w", err)
	}
}

// AutoFill invokes the extraction service and, on success, replaces the
// context wholesale. Failure leaves the prior context untouched.
func (c *Cache) AutoFill(ctx context.Context) error {
	extracted, err := c.extractor.Extract(ctx, c.domain)
	if err == nil && extracted == nil {
		err = fmt.Errorf("extraction returned no data for %s", c.domain)
	}
	if err != nil {
		c.mu.Lock()
		c.lastError = err.Error()
		c.mu.Unlock()
		return err
	}

	extracted.Domain = c.domain

	c.mu.Lock()
	c.context = extracted
	c.hasAutoFilled = true
	c.state = StateReconciled
	c.lastError = ""
	c.mu.Unlock()
	c.store.SetIfChanged(c.cacheKey(), extracted, c.maxAge)
	return nil
}

// Context returns a copy of the current context, nil when none.
func (c *Cache) Context() *domaincache.DomainContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.context.Clone()
}

// Domain returns the domain this cache holds.
func (c *Cache) Domain() string {
	return c.domain
}

// State returns the context load state.
func (c *Cache) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the user-visible error string from the most recent
// failed fetch, update, or auto-fill, or "".
func (c *Cache) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// HasAutoFilled reports whether the current context came from the
// extraction service.
func (c *Cache) HasAutoFilled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasAutoFilled
}

// FilledCount is derived from the current context on every call.
func (c *Cache) FilledCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.context.FilledCount()
}

// ProgressPercent is derived from the current context on every call.
func (c *Cache) ProgressPercent() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.context.ProgressPercent()
}

func (c *Cache) cacheKey() string {
	return domaincache.JoinKey(domaincache.ContextPrefix, c.domain)
}
