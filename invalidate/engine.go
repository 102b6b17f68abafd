package invalidate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	domaincache "github.com/sitepulse/domain-cache"
	"github.com/sitepulse/domain-cache/store"
	"github.com/sitepulse/domain-cache/telemetry"
)

// Blob is the schema of aggregated namespaces: one JSON object keyed by
// normalized domain (or by composite key for screenshot/map caches).
type Blob map[string]json.RawMessage

// Index is the schema of the composite-namespace reverse index: the
// composite keys written for each domain.
type Index map[string][]string

// Engine walks the namespace registry and removes every entry referencing
// a domain. The sweep is best-effort, not transactional: a failure in one
// namespace never stops the others.
type Engine struct {
	kv       store.KV
	registry []Namespace
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock sets the time function for testing.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithRegistry overrides the default namespace registry. Tests only.
func WithRegistry(registry []Namespace) Option {
	return func(e *Engine) {
		e.registry = registry
	}
}

// New creates an invalidation engine over the given KV.
func New(kv store.KV, opts ...Option) *Engine {
	e := &Engine{
		kv:       kv,
		registry: Registry(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Report summarizes a completed sweep.
type Report struct {
	Domain     string
	Removed    map[string]int // removals per namespace name
	Namespaces int
	Errors     int
	Duration   time.Duration
}

// TotalRemoved sums removals across namespaces.
func (r *Report) TotalRemoved() int {
	total := 0
	for _, n := range r.Removed {
		total += n
	}
	return total
}

// Sweep removes every entry referencing the domain from every registered
// namespace. The raw domain may be a full URL; it is normalized first.
func (e *Engine) Sweep(rawDomain string) *Report {
	start := e.now()
	domain := domaincache.NormalizeDomain(rawDomain)
	report := &Report{
		Domain:  domain,
		Removed: make(map[string]int, len(e.registry)),
	}
	if domain == "" {
		return report
	}

	for _, ns := range e.registry {
		report.Namespaces++

		var removed int
		var err error
		switch ns.Strategy {
		case ExactKey:
			removed, err = e.sweepExact(ns, domain)
		case Aggregated:
			removed, err = e.sweepAggregated(ns, domain)
		case Composite:
			removed, err = e.sweepComposite(ns, domain)
		}
		if err != nil {
			// Best-effort: log and keep going so one corrupt namespace
			// cannot strand entries in the others.
			e.logger.Warn("invalidation failed for namespace",
				"namespace", ns.Name,
				"domain", domain,
				"error", err,
			)
			report.Errors++
			continue
		}
		report.Removed[ns.Name] = removed
	}

	report.Duration = e.now().Sub(start)
	telemetry.RecordInvalidation(context.Background(), report.Duration, report.Removed)

	e.logger.Debug("invalidation sweep complete",
		"domain", domain,
		"removed", report.TotalRemoved(),
		"errors", report.Errors,
	)
	return report
}

func (e *Engine) sweepExact(ns Namespace, domain string) (int, error) {
	key := domaincache.JoinKey(ns.Name, domain)
	if _, err := e.kv.Get(key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if err := e.kv.Remove(key); err != nil {
		return 0, err
	}
	return 1, nil
}

func (e *Engine) sweepAggregated(ns Namespace, domain string) (int, error) {
	blob, err := e.loadBlob(ns.Name)
	if err != nil {
		return 0, err
	}
	if blob == nil {
		return 0, nil
	}

	if _, ok := blob[domain]; !ok {
		return 0, nil
	}
	delete(blob, domain)

	if err := e.storeBlob(ns.Name, blob); err != nil {
		return 0, err
	}
	return 1, nil
}

func (e *Engine) sweepComposite(ns Namespace, domain string) (int, error) {
	blob, err := e.loadBlob(ns.Name)
	if err != nil {
		return 0, err
	}
	if blob == nil {
		blob = Blob{}
	}

	// The reverse index written alongside entries gives the matching keys
	// without a scan. Fall back to a substring scan for keys written
	// before the index existed.
	doomed := make(map[string]struct{})
	index, idxErr := e.loadIndex(ns.IndexKey)
	if idxErr == nil {
		for _, key := range index[domain] {
			doomed[key] = struct{}{}
		}
	}
	for key := range blob {
		if strings.Contains(key, domain) {
			doomed[key] = struct{}{}
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	removed := 0
	for key := range doomed {
		if _, ok := blob[key]; ok {
			delete(blob, key)
			removed++
		}
	}

	// Write back only if at least one key was removed.
	if removed > 0 {
		if err := e.storeBlob(ns.Name, blob); err != nil {
			return 0, err
		}
	}

	if idxErr == nil && index[domain] != nil {
		delete(index, domain)
		if err := e.storeIndex(ns.IndexKey, index); err != nil {
			e.logger.Debug("reverse index write failed", "key", ns.IndexKey, "error", err)
		}
	}
	return removed, nil
}

// PutAggregated writes one domain's payload into an aggregated blob.
func (e *Engine) PutAggregated(nsKey, rawDomain string, payload any) error {
	domain := domaincache.NormalizeDomain(rawDomain)

	blob, err := e.loadBlob(nsKey)
	if err != nil {
		return err
	}
	if blob == nil {
		blob = Blob{}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	blob[domain] = raw
	return e.storeBlob(nsKey, blob)
}

// PutComposite writes a payload under a composite key and records the key
// in the namespace's reverse index so removal stays O(matches).
func (e *Engine) PutComposite(ns Namespace, rawDomain, compositeKey string, payload any) error {
	domain := domaincache.NormalizeDomain(rawDomain)

	blob, err := e.loadBlob(ns.Name)
	if err != nil {
		return err
	}
	if blob == nil {
		blob = Blob{}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	blob[compositeKey] = raw
	if err := e.storeBlob(ns.Name, blob); err != nil {
		return err
	}

	index, err := e.loadIndex(ns.IndexKey)
	if err != nil {
		return err
	}
	if index == nil {
		index = Index{}
	}
	for _, existing := range index[domain] {
		if existing == compositeKey {
			return nil
		}
	}
	index[domain] = append(index[domain], compositeKey)
	return e.storeIndex(ns.IndexKey, index)
}

// loadBlob reads and decodes an aggregated blob, nil when absent.
func (e *Engine) loadBlob(key string) (Blob, error) {
	raw, err := e.kv.Get(key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var blob Blob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, err
	}
	return blob, nil
}

func (e *Engine) storeBlob(key string, blob Blob) error {
	raw, err := json.Marshal(blob)
	if err != nil {
		return err
	}
	return e.kv.Set(key, raw)
}

func (e *Engine) loadIndex(key string) (Index, error) {
	raw, err := e.kv.Get(key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var index Index
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, err
	}
	return index, nil
}

func (e *Engine) storeIndex(key string, index Index) error {
	raw, err := json.Marshal(index)
	if err != nil {
		return err
	}
	return e.kv.Set(key, raw)
}
