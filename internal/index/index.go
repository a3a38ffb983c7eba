// Package index provides the external key-value index the file manager
// stores name locations and data file metadata in. The command set is the
// small subset of Redis the engine relies on: plain keys, one atomic
// counter and hashes.
package index

import (
	"context"
	"fmt"
	"io"
)

// ErrNil is returned by Get for a key that does not exist.
var ErrNil = fmt.Errorf("index: nil reply")

// Index is the external key-value index.
type Index interface {
	// Get returns the value stored at key, or ErrNil.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value at key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Incr atomically increments the counter at key and returns the new
	// value. A missing counter starts at zero.
	Incr(ctx context.Context, key string) (int64, error)

	// HGetAll returns every field of the hash at key. A missing hash is
	// empty.
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)
	HSet(ctx context.Context, key, field string, value []byte) error
	// HIncrBy atomically adds delta to a decimal hash field and returns the
	// new value.
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)

	io.Closer
}
