// Package invalidate implements the cascading invalidation engine: the
// multi-namespace purge that runs when a domain is removed, so no
// dependent cache retains entries for a domain the user no longer tracks.
package invalidate

import domaincache "github.com/sitepulse/domain-cache"

// Strategy selects how a namespace stores per-domain data, and therefore
// how entries for a domain are found and removed.
type Strategy int

const (
	// ExactKey namespaces hold one storage entry per domain, keyed by a
	// fixed prefix plus the normalized domain.
	ExactKey Strategy = iota

	// Aggregated namespaces hold a single blob keyed internally by domain.
	Aggregated

	// Composite namespaces hold a single blob whose internal keys embed
	// the domain as a substring (for example "screenshot_a.com_thumb").
	Composite
)

// Namespace describes one cache namespace subject to cascading deletion.
type Namespace struct {
	// Name is the storage key of the blob, or the key prefix for
	// ExactKey namespaces.
	Name string

	Strategy Strategy

	// IndexKey is the storage key of the domain→keys reverse index.
	// Composite namespaces only.
	IndexKey string
}

// Registry enumerates every namespace the sweep must visit. Adding a new
// per-domain cache means adding it here, or its entries survive domain
// removal.
func Registry() []Namespace {
	return []Namespace{
		{Name: domaincache.KeywordPrefix, Strategy: ExactKey},
		{Name: domaincache.ContextPrefix, Strategy: ExactKey},
		{Name: domaincache.KeyDomainDetails, Strategy: Aggregated},
		{Name: domaincache.KeyPages, Strategy: Aggregated},
		{Name: domaincache.KeySERP, Strategy: Aggregated},
		{Name: domaincache.KeyLinks, Strategy: Aggregated},
		{Name: domaincache.KeySubscription, Strategy: Aggregated},
		{Name: domaincache.KeyKeywordIndex, Strategy: Aggregated},
		{Name: domaincache.KeyKeywordMetrics, Strategy: Aggregated},
		{Name: domaincache.KeyScreenshots, Strategy: Composite, IndexKey: domaincache.KeyScreenshots + "_index"},
		{Name: domaincache.KeyMaps, Strategy: Composite, IndexKey: domaincache.KeyMaps + "_index"},
	}
}
