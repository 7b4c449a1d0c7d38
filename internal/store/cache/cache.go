package cache

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("cache: key not found")

// Store is the key-value abstraction behind the model registry. Values are
// JSON encoded by the implementation. Entries never expire; they live until
// overwritten.
type Store interface {
	// Get unmarshals the value stored at key into dest, or returns ErrNotFound.
	Get(ctx context.Context, key string, dest interface{}) error

	// Set stores value at key, replacing anything already there.
	Set(ctx context.Context, key string, value interface{}) error

	// SetIfAbsent stores value only if key is not yet present and reports
	// whether the write happened. The check and write are one atomic step.
	SetIfAbsent(ctx context.Context, key string, value interface{}) (bool, error)

	// Keys lists every key starting with prefix, in no particular order.
	Keys(ctx context.Context, prefix string) ([]string, error)

	Close() error
}
