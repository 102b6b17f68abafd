// Package store provides the durable key-value storage layer and the
// TTL-bounded entry store built on top of it.
package store

import "errors"

// ErrNotFound is returned when a key does not exist in the KV store.
var ErrNotFound = errors.New("not found")

// KV defines the interface for durable string-keyed storage.
// Implementations must be safe for concurrent use.
type KV interface {
	// Get retrieves the value at the given key.
	// Returns ErrNotFound if the key does not exist.
	Get(key string) ([]byte, error)

	// Set stores a value at the given key, overwriting any existing value.
	Set(key string, value []byte) error

	// Remove deletes the key. Removing a missing key is not an error.
	Remove(key string) error

	// Keys returns all keys with the given prefix.
	Keys(prefix string) ([]string, error)
}
