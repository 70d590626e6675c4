package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/goccy/go-json"

	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/db"
	apperrors "github.com/Shahabul87/enterprise-auth-template-sub020/internal/errors"
)

const (
	kindString = "string"
	kindList   = "list"
)

// SQLiteStore persists values in the kv_store table of the offline database.
type SQLiteStore struct {
	db *db.DB
}

// OpenSQLite opens the database inside dataDir, migrating it if needed.
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	database, err := db.Open(dataDir)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrMigration) {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.ErrPersistence, "open sqlite store", err)
	}
	return &SQLiteStore{db: database}, nil
}

func (s *SQLiteStore) load(ctx context.Context, key, kind string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM kv_store WHERE key = ? AND kind = ?", key, kind).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, s.wrap(ctx, "load "+kind, key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) save(ctx context.Context, key, kind, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_store (key, kind, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET kind = excluded.kind, value = excluded.value, updated_at = excluded.updated_at`,
		key, kind, value, time.Now().UnixMilli())
	if err != nil {
		return s.wrap(ctx, "save "+kind, key, err)
	}
	return nil
}

func (s *SQLiteStore) LoadStringList(ctx context.Context, key string) ([]string, bool, error) {
	raw, ok, err := s.load(ctx, key, kindList)
	if err != nil || !ok {
		return nil, ok, err
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrCorruptEntry, "decode list "+key, err)
	}
	return values, true, nil
}

func (s *SQLiteStore) SaveStringList(ctx context.Context, key string, values []string) error {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return persistenceError("encode list", key, err)
	}
	return s.save(ctx, key, kindList, string(b))
}

func (s *SQLiteStore) LoadString(ctx context.Context, key string) (string, bool, error) {
	return s.load(ctx, key, kindString)
}

func (s *SQLiteStore) SaveString(ctx context.Context, key string, value string) error {
	return s.save(ctx, key, kindString, value)
}

func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv_store WHERE key = ?", key); err != nil {
		return s.wrap(ctx, "remove", key, err)
	}
	return nil
}

func (s *SQLiteStore) ListKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM kv_store ORDER BY key")
	if err != nil {
		return nil, s.wrap(ctx, "list keys", "", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, s.wrap(ctx, "list keys", "", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap(ctx, "list keys", "", err)
	}
	return keys, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.db.Path()
}

func (s *SQLiteStore) wrap(ctx context.Context, op, key string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err == sql.ErrConnDone {
		return apperrors.Wrap(apperrors.ErrClosed, "sqlite store is closed", err)
	}
	return persistenceError(op, key, err)
}
