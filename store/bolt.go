package store

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

// bucketEntries holds every cache namespace. Keys carry their own
// namespace prefixes, so a single bucket is enough.
var bucketEntries = []byte("entries")

// Bolt implements KV using bbolt.
type Bolt struct {
	db     *bbolt.DB
	logger *slog.Logger
	noSync bool // disables fsync per transaction (for testing only)
}

// BoltOption configures a Bolt instance.
type BoltOption func(*Bolt)

// WithLogger sets the logger for the database.
func WithLogger(logger *slog.Logger) BoltOption {
	return func(b *Bolt) {
		b.logger = logger
	}
}

// WithNoSync disables fsync per transaction.
// WARNING: This improves write performance but risks data loss on crash.
// Use only for testing or benchmarking, never in production.
func WithNoSync(noSync bool) BoltOption {
	return func(b *Bolt) {
		b.noSync = noSync
	}
}

// NewBolt creates a new Bolt instance with options.
func NewBolt(opts ...BoltOption) *Bolt {
	b := &Bolt{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open opens the database at the given path.
func (b *Bolt) Open(path string) error {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  b.noSync,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	b.db = db

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("creating bucket: %w", err)
	}

	b.logger.Debug("opened cache db", "path", path, "noSync", b.noSync)
	return nil
}

// Close closes the database and releases resources.
func (b *Bolt) Close() error {
	if b.db == nil {
		return nil
	}
	b.logger.Debug("closing cache db")
	return b.db.Close()
}

// Get implements KV.
func (b *Bolt) Get(key string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEntries)
		if bucket == nil {
			return ErrNotFound
		}
		val := bucket.Get([]byte(key))
		if val == nil {
			return ErrNotFound
		}
		data = make([]byte, len(val))
		copy(data, val)
		return nil
	})
	return data, err
}

// Set implements KV.
func (b *Bolt) Set(key string, value []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEntries)
		if bucket == nil {
			return fmt.Errorf("entries bucket not found")
		}
		if err := bucket.Put([]byte(key), value); err != nil {
			return fmt.Errorf("putting entry: %w", err)
		}
		return nil
	})
}

// Remove implements KV. Removing a missing key is a no-op.
func (b *Bolt) Remove(key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEntries)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
}

// Keys implements KV.
func (b *Bolt) Keys(prefix string) ([]string, error) {
	var keys []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEntries)
		if bucket == nil {
			return nil
		}
		cursor := bucket.Cursor()
		p := []byte(prefix)
		for k, _ := cursor.Seek(p); k != nil && strings.HasPrefix(string(k), prefix); k, _ = cursor.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}
