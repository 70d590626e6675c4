// Package store provides the durable key/value storage used by the action
// queue and the response cache.
package store

import (
	"context"
	"fmt"

	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/config"
	apperrors "github.com/Shahabul87/enterprise-auth-template-sub020/internal/errors"
)

// Store is a key/value store holding strings and string lists. Load
// methods report absence with ok=false rather than an error.
type Store interface {
	LoadStringList(ctx context.Context, key string) (values []string, ok bool, err error)
	SaveStringList(ctx context.Context, key string, values []string) error
	LoadString(ctx context.Context, key string) (value string, ok bool, err error)
	SaveString(ctx context.Context, key string, value string) error
	Remove(ctx context.Context, key string) error
	ListKeys(ctx context.Context) ([]string, error)
	Close() error
}

// Open builds the backend selected by the store config section.
func Open(cfg config.Config) (Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return NewMemoryStore(), nil
	case config.BackendLevelDB:
		return OpenLevelDB(cfg.Store.Path)
	case config.BackendSQLite:
		return OpenSQLite(cfg.Store.Path)
	default:
		return nil, apperrors.Newf(apperrors.ErrConfigInvalid, "unknown store backend %q", cfg.Store.Backend)
	}
}

func persistenceError(op, key string, err error) error {
	return apperrors.Wrap(apperrors.ErrPersistence, fmt.Sprintf("%s %q", op, key), err)
}
