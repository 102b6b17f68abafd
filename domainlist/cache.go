// Package domainlist manages the cached domain sets: system-tracked
// domains, user-added domains, and Search-Console site permissions.
// Writes are suppressed when the incoming collection hashes identically
// to the stored one, so consumers are not re-rendered for no-op updates.
package domainlist

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	domaincache "github.com/sitepulse/domain-cache"
	"github.com/sitepulse/domain-cache/invalidate"
	"github.com/sitepulse/domain-cache/store"
)

// Cache holds the domain list state, backed by the entry store.
// Safe for concurrent use.
type Cache struct {
	store  *store.Store
	engine *invalidate.Engine
	logger *slog.Logger
	maxAge time.Duration

	mu          sync.Mutex
	tracked     []string
	userAdded   []string
	gscSites    []domaincache.GSCSite
	selected    string
	trackedHash string
	gscHash     string
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger for the cache.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithMaxAge overrides the default 24h staleness bound.
func WithMaxAge(maxAge time.Duration) Option {
	return func(c *Cache) {
		c.maxAge = maxAge
	}
}

// New creates the domain list cache, migrates the legacy user-added
// domains key if needed, and hydrates state from durable storage.
func New(s *store.Store, engine *invalidate.Engine, opts ...Option) *Cache {
	c := &Cache{
		store:  s,
		engine: engine,
		logger: slog.Default(),
		maxAge: domaincache.ListMaxAge,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.migrateLegacyUserDomains()
	c.hydrate()
	return c
}

// migrateLegacyUserDomains copies the pre-migration user-added domains
// (a bare JSON array under a non-prefixed key) into the entry-store
// namespace. The legacy key stays in place for unmigrated readers.
func (c *Cache) migrateLegacyUserDomains() {
	if _, ok := c.store.Get(domaincache.KeyUserDomains, c.maxAge); ok {
		return
	}

	raw, err := c.store.KV().Get(domaincache.LegacyKeyUserDomains)
	if err != nil {
		return
	}

	var legacy []string
	if err := json.Unmarshal(raw, &legacy); err != nil {
		c.logger.Debug("legacy user domains unreadable, skipping migration", "error", err)
		return
	}

	domains := domaincache.UniqueDomains(legacy)
	if c.store.Set(domaincache.KeyUserDomains, domains, domaincache.HashStrings(domains)) {
		c.logger.Info("migrated legacy user domains", "count", len(domains))
	}
}

func (c *Cache) hydrate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tracked, ok := store.GetAs[[]string](c.store, domaincache.KeyTrackedDomains, c.maxAge); ok {
		c.tracked = tracked
		c.trackedHash = domaincache.HashStrings(tracked)
	}
	if user, ok := store.GetAs[[]string](c.store, domaincache.KeyUserDomains, c.maxAge); ok {
		c.userAdded = user
	}
	if sites, ok := store.GetAs[[]domaincache.GSCSite](c.store, domaincache.KeyGSCSites, c.maxAge); ok {
		c.gscSites = sites
		c.gscHash = domaincache.HashSites(sites)
	}
	// Selected domain is user intent, not fetched data: no staleness bound.
	if selected, ok := store.GetAs[string](c.store, domaincache.KeySelectedDomain, 0); ok {
		c.selected = selected
	}
}

// SetTrackedDomains replaces the system-tracked domain set. When the
// incoming set hashes identically to the current one the call is a
// complete no-op: no state update, no storage write. Reports whether a
// write happened.
func (c *Cache) SetTrackedDomains(domains []string) bool {
	normalized := domaincache.UniqueDomains(domains)
	hash := domaincache.HashStrings(normalized)

	c.mu.Lock()
	defer c.mu.Unlock()

	if hash == c.trackedHash && c.trackedHash != "" {
		return false
	}

	if !c.store.Set(domaincache.KeyTrackedDomains, normalized, hash) {
		return false
	}
	c.tracked = normalized
	c.trackedHash = hash
	return true
}

// SetUserAddedDomains replaces the user-added domain set. User lists are
// small and infrequently written, so there is no suppression; every call
// persists, and the write is mirrored to the legacy key for any reader
// not yet migrated.
func (c *Cache) SetUserAddedDomains(domains []string) bool {
	normalized := domaincache.UniqueDomains(domains)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setUserDomainsLocked(normalized)
}

func (c *Cache) setUserDomainsLocked(normalized []string) bool {
	if !c.store.Set(domaincache.KeyUserDomains, normalized, domaincache.HashStrings(normalized)) {
		return false
	}
	c.userAdded = normalized

	if raw, err := json.Marshal(normalized); err == nil {
		if err := c.store.KV().Set(domaincache.LegacyKeyUserDomains, raw); err != nil {
			c.logger.Debug("legacy key mirror write failed", "error", err)
		}
	}
	return true
}

// SetGscSites replaces the Search-Console site set, with the same
// suppression discipline as SetTrackedDomains.
func (c *Cache) SetGscSites(sites []domaincache.GSCSite) bool {
	hash := domaincache.HashSites(sites)

	c.mu.Lock()
	defer c.mu.Unlock()

	if hash == c.gscHash && c.gscHash != "" {
		return false
	}

	if !c.store.Set(domaincache.KeyGSCSites, sites, hash) {
		return false
	}
	c.gscSites = append([]domaincache.GSCSite(nil), sites...)
	c.gscHash = hash
	return true
}

// AddUserDomain adds one domain to the user-added set.
func (c *Cache) AddUserDomain(domain string) bool {
	normalized := domaincache.NormalizeDomain(domain)
	if normalized == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	next := domaincache.UniqueDomains(append(append([]string(nil), c.userAdded...), normalized))
	return c.setUserDomainsLocked(next)
}

// RemoveUserDomain removes one domain from the user-added set and purges
// every dependent cache namespace for it. This is the one list mutation
// with side effects beyond its own namespace.
func (c *Cache) RemoveUserDomain(domain string) *invalidate.Report {
	normalized := domaincache.NormalizeDomain(domain)

	c.mu.Lock()
	next := make([]string, 0, len(c.userAdded))
	for _, d := range c.userAdded {
		if d != normalized {
			next = append(next, d)
		}
	}
	c.setUserDomainsLocked(next)
	if c.selected == normalized {
		c.selected = ""
		c.store.Remove(domaincache.KeySelectedDomain)
	}
	c.mu.Unlock()

	return c.engine.Sweep(normalized)
}

// IsCacheFresh reports whether a non-expired entry exists at key.
func (c *Cache) IsCacheFresh(key string) bool {
	return c.store.Fresh(key, c.maxAge)
}

// Invalidate clears the given namespaces, or with no arguments the
// tracked-domains and GSC-sites namespaces. User-added domains and the
// selected domain are exempt: they are user intent, not fetched data,
// and must survive a forced refresh.
func (c *Cache) Invalidate(keys ...string) {
	if len(keys) == 0 {
		keys = []string{domaincache.KeyTrackedDomains, domaincache.KeyGSCSites}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		c.store.Remove(key)
		switch key {
		case domaincache.KeyTrackedDomains:
			c.tracked = nil
			c.trackedHash = ""
		case domaincache.KeyGSCSites:
			c.gscSites = nil
			c.gscHash = ""
		}
	}
}

// TrackedDomains returns a copy of the tracked domain set.
func (c *Cache) TrackedDomains() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.tracked...)
}

// UserAddedDomains returns a copy of the user-added domain set.
func (c *Cache) UserAddedDomains() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.userAdded...)
}

// GSCSites returns a copy of the Search-Console site set.
func (c *Cache) GSCSites() []domaincache.GSCSite {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domaincache.GSCSite(nil), c.gscSites...)
}

// AllDomains returns the deduplicated union of tracked and user-added
// domains.
func (c *Cache) AllDomains() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domaincache.UniqueDomains(append(append([]string(nil), c.tracked...), c.userAdded...))
}

// SelectedDomain returns the currently selected domain, or "".
func (c *Cache) SelectedDomain() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// SetSelectedDomain persists the currently selected domain.
func (c *Cache) SetSelectedDomain(domain string) bool {
	normalized := domaincache.NormalizeDomain(domain)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.store.Set(domaincache.KeySelectedDomain, normalized, "") {
		return false
	}
	c.selected = normalized
	return true
}
