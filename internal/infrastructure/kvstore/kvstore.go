// Package kvstore holds small pieces of ephemeral shared state: the id of
// the current broker outage alert and short sweep locks.
//
// Two backends implement Store. "memory" keeps everything in the process and
// suits single-instance installs; "redis" shares state between instances and
// survives restarts.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/propertyhub-core/internal/infrastructure/config"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a string key/value store with optional expiry.
// A zero ttl means the key does not expire.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets key only if it is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open creates the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.KVStoreConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown kvstore backend %q", cfg.Backend)
	}
}
