package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	domaincache "github.com/sitepulse/domain-cache"
	"github.com/sitepulse/domain-cache/telemetry"
)

// Entry is the stored envelope for a cache value. Timestamp is set exactly
// once, at write time. Hash, when present, is a digest of Data used only
// for change suppression.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"` // epoch milliseconds
	Hash      string          `json:"hash,omitempty"`
}

// Store is the TTL-bounded entry layer over a KV. The cache is an
// optimization over a slower authoritative path, so storage errors are
// swallowed here, once, rather than handled at every call site: reads
// degrade to misses and writes report false.
type Store struct {
	kv     KV
	logger *slog.Logger
	now    func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger for the entry store.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock sets the time function for testing.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an entry store over the given KV.
func NewStore(kv KV, opts ...StoreOption) *Store {
	s := &Store{
		kv:     kv,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// KV returns the underlying KV store. Aggregated blob namespaces bypass
// the entry envelope and operate on the KV directly.
func (s *Store) KV() KV {
	return s.kv
}

// Now returns the store's current wall-clock time.
func (s *Store) Now() time.Time {
	return s.now()
}

// Get retrieves the entry at key if it exists, parses, and is no older
// than maxAge. Expired and unparseable entries are deleted on read
// (expire-on-read). maxAge <= 0 disables the staleness bound.
func (s *Store) Get(key string, maxAge time.Duration) (*Entry, bool) {
	ctx := context.Background()

	raw, err := s.kv.Get(key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Debug("cache read failed", "key", key, "error", err)
		}
		telemetry.RecordCacheLookup(ctx, namespaceOf(key), "miss")
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		s.logger.Debug("removing corrupt cache entry", "key", key, "error", err)
		s.Remove(key)
		telemetry.RecordCacheLookup(ctx, namespaceOf(key), "corrupt")
		return nil, false
	}

	if maxAge > 0 {
		age := s.now().UnixMilli() - entry.Timestamp
		if age > maxAge.Milliseconds() {
			s.logger.Debug("removing expired cache entry", "key", key, "age_ms", age)
			s.Remove(key)
			telemetry.RecordCacheLookup(ctx, namespaceOf(key), "expired")
			return nil, false
		}
	}

	telemetry.RecordCacheLookup(ctx, namespaceOf(key), "hit")
	return &entry, true
}

// Set serializes data into an entry envelope stamped with the current
// time and writes it at key. Returns false if serialization or the
// storage write failed; the error never propagates.
func (s *Store) Set(key string, data any, hash string) bool {
	ctx := context.Background()

	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Debug("cache serialization failed", "key", key, "error", err)
		telemetry.RecordCacheWrite(ctx, namespaceOf(key), "error")
		return false
	}

	entry := Entry{
		Data:      raw,
		Timestamp: s.now().UnixMilli(),
		Hash:      hash,
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		telemetry.RecordCacheWrite(ctx, namespaceOf(key), "error")
		return false
	}

	if err := s.kv.Set(key, payload); err != nil {
		s.logger.Debug("cache write failed", "key", key, "error", err)
		telemetry.RecordCacheWrite(ctx, namespaceOf(key), "error")
		return false
	}

	telemetry.RecordCacheWrite(ctx, namespaceOf(key), "written")
	return true
}

// SetIfChanged writes data at key unless an unexpired entry already holds
// a payload with the same digest. Returns false only on write failure; a
// suppressed write is a success.
func (s *Store) SetIfChanged(key string, data any, maxAge time.Duration) bool {
	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Debug("cache serialization failed", "key", key, "error", err)
		telemetry.RecordCacheWrite(context.Background(), namespaceOf(key), "error")
		return false
	}

	digest := domaincache.DigestBytes(raw)
	if existing, ok := s.Get(key, maxAge); ok && existing.Hash == digest {
		telemetry.RecordCacheWrite(context.Background(), namespaceOf(key), "suppressed")
		return true
	}

	return s.Set(key, json.RawMessage(raw), digest)
}

// Remove deletes the entry at key. Idempotent; never errors on a missing
// key.
func (s *Store) Remove(key string) {
	if err := s.kv.Remove(key); err != nil {
		s.logger.Debug("cache remove failed", "key", key, "error", err)
	}
}

// Fresh reports whether a non-expired entry exists at key. Consumers use
// this to decide between showing cached data immediately and blocking on
// a network fetch.
func (s *Store) Fresh(key string, maxAge time.Duration) bool {
	_, ok := s.Get(key, maxAge)
	return ok
}

// Hash returns the stored change-suppression hash for key, or "" when
// the entry is absent, expired, or has no hash.
func (s *Store) Hash(key string, maxAge time.Duration) string {
	entry, ok := s.Get(key, maxAge)
	if !ok {
		return ""
	}
	return entry.Hash
}

// GetAs retrieves and decodes the entry payload at key.
func GetAs[T any](s *Store, key string, maxAge time.Duration) (T, bool) {
	var out T
	entry, ok := s.Get(key, maxAge)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(entry.Data, &out); err != nil {
		s.logger.Debug("cache payload decode failed", "key", key, "error", err)
		s.Remove(key)
		return out, false
	}
	return out, true
}

// namespaceOf collapses keys into low-cardinality metric labels.
func namespaceOf(key string) string {
	switch {
	case strings.HasPrefix(key, domaincache.ListPrefix):
		return "domain_cache"
	case strings.HasPrefix(key, domaincache.ContextPrefix):
		return "domain_context"
	case strings.HasPrefix(key, domaincache.KeywordPrefix):
		return "keyword"
	default:
		// Remaining namespaces are fixed literal names.
		return key
	}
}
