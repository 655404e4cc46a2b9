package storage

import "context"

// Store is the key-value state the desktop peer exposes to agents
// through the manage_local_storage command family.
type Store interface {
	Set(ctx context.Context, key string, value interface{}) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)

	Restore(values []byte) error
	Backup() ([]byte, error)

	Close() error
}
