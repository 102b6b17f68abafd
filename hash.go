package domaincache

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/blake3"
)

// HashStrings returns a deterministic digest of an unordered string
// collection. Two collections with the same members hash identically
// regardless of order, which is what lets callers suppress redundant
// writes and state updates.
func HashStrings(values []string) string {
	sorted := make([]string, len(values))
	copy(sorted, values)
	sort.Strings(sorted)

	h := xxhash.New()
	for _, v := range sorted {
		_, _ = h.WriteString(v)
		_, _ = h.WriteString("\n")
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// GSCSite is a Search-Console site the user has access to.
type GSCSite struct {
	SiteURL         string `json:"siteUrl"`
	PermissionLevel string `json:"permissionLevel"`
}

// HashSites returns an order-insensitive digest of site permission
// records. Each record is reduced to "url:permission" before hashing so
// that a permission change produces a different digest.
func HashSites(sites []GSCSite) string {
	pairs := make([]string, 0, len(sites))
	for _, s := range sites {
		pairs = append(pairs, s.SiteURL+":"+s.PermissionLevel)
	}
	return HashStrings(pairs)
}

// DigestBytes computes the BLAKE3 digest of raw entry payloads. Used for
// change suppression on serialized cache entries, never for integrity
// verification.
func DigestBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// JoinKey builds a storage key from a namespace prefix and a normalized
// domain.
func JoinKey(prefix, domain string) string {
	return prefix + domain
}

// uniqueSorted deduplicates and sorts a string set, dropping empties.
func uniqueSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// UniqueDomains normalizes, deduplicates and sorts a domain list.
func UniqueDomains(domains []string) []string {
	normalized := make([]string, 0, len(domains))
	for _, d := range domains {
		if n := NormalizeDomain(d); n != "" {
			normalized = append(normalized, n)
		}
	}
	return uniqueSorted(normalized)
}
