package store

import (
	"context"
	"errors"
	"time"

	"github.com/sitepulse/domain-cache/telemetry"
)

// InstrumentedKV wraps a KV with metrics recording.
type InstrumentedKV struct {
	kv   KV
	name string
}

// NewInstrumentedKV creates a new instrumented KV wrapper.
func NewInstrumentedKV(kv KV, name string) *InstrumentedKV {
	return &InstrumentedKV{kv: kv, name: name}
}

func (ik *InstrumentedKV) Get(key string) ([]byte, error) {
	start := time.Now()
	val, err := ik.kv.Get(key)
	telemetry.RecordStorageOp(context.Background(), ik.name, "get", outcomeFromError(err), time.Since(start))
	return val, err
}

func (ik *InstrumentedKV) Set(key string, value []byte) error {
	start := time.Now()
	err := ik.kv.Set(key, value)
	telemetry.RecordStorageOp(context.Background(), ik.name, "set", outcomeFromError(err), time.Since(start))
	return err
}

func (ik *InstrumentedKV) Remove(key string) error {
	start := time.Now()
	err := ik.kv.Remove(key)
	telemetry.RecordStorageOp(context.Background(), ik.name, "remove", outcomeFromError(err), time.Since(start))
	return err
}

func (ik *InstrumentedKV) Keys(prefix string) ([]string, error) {
	start := time.Now()
	keys, err := ik.kv.Keys(prefix)
	telemetry.RecordStorageOp(context.Background(), ik.name, "keys", outcomeFromError(err), time.Since(start))
	return keys, err
}

func outcomeFromError(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
