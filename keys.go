package domaincache

import "time"

// Storage key literals. These names are shared with pre-migration data
// written by earlier releases and must not change, or existing entries
// become unreachable.
const (
	// ListPrefix namespaces the domain-list caches.
	ListPrefix = "domain_cache_"

	// ContextPrefix namespaces per-domain business profile entries.
	ContextPrefix = "domain_context_"

	// KeywordPrefix namespaces per-domain keyword entries. Versioned so a
	// format change invalidates old entries by key rather than by parse
	// failure.
	KeywordPrefix = "keyword_cache_v2_"

	// KeyTrackedDomains holds the system-tracked domain set.
	KeyTrackedDomains = ListPrefix + "tracked_domains"

	// KeyUserDomains holds the user-added domain set.
	KeyUserDomains = ListPrefix + "user_domains"

	// KeyGSCSites holds the Search-Console site permission set.
	KeyGSCSites = ListPrefix + "gsc_sites"

	// KeySelectedDomain holds the currently selected domain. User intent,
	// exempt from invalidation.
	KeySelectedDomain = ListPrefix + "selected_domain"

	// LegacyKeyUserDomains is the pre-migration location of the user-added
	// domain set: a bare JSON string array with no entry envelope. Read
	// once at startup and mirrored on every write so unmigrated readers
	// keep working.
	LegacyKeyUserDomains = "userAddedDomains"
)

// Aggregated namespaces: each is a single blob keyed internally by domain.
const (
	KeyDomainDetails  = "domain_details_cache"
	KeyPages          = "pages_cache"
	KeySERP           = "serp_cache"
	KeyLinks          = "links_cache"
	KeySubscription   = "subscription_cache"
	KeyKeywordIndex   = "keyword_index"
	KeyKeywordMetrics = "keyword_metrics_cache"
)

// Composite-key namespaces: blobs whose internal keys embed the domain as
// a substring (for example "screenshot_example.com_thumb").
const (
	KeyScreenshots = "screenshot_cache"
	KeyMaps        = "map_cache"
)

// Default staleness bounds. List-type caches refresh daily; business
// profiles change rarely and keep for a week.
const (
	ListMaxAge    = 24 * time.Hour
	ContextMaxAge = 7 * 24 * time.Hour
)
