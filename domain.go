// Package domaincache provides the core types for the per-domain SEO data
// cache: domain normalization, change-detection hashing, the business
// profile record, and the storage key registry shared by every cache
// namespace.
package domaincache

import "strings"

// NormalizeDomain reduces a raw domain input to its canonical cache-key
// form. Inputs may be full URLs with or without a scheme or a "www."
// prefix; anything after the first path separator is discarded.
func NormalizeDomain(raw string) string {
	domain := strings.ToLower(strings.TrimSpace(raw))
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimPrefix(domain, "www.")
	if i := strings.IndexByte(domain, '/'); i >= 0 {
		domain = domain[:i]
	}
	return domain
}
