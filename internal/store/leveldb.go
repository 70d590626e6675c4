package store

import (
	"bytes"
	"context"
	"sort"

	"github.com/goccy/go-json"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	apperrors "github.com/Shahabul87/enterprise-auth-template-sub020/internal/errors"
)

// Key prefixes separate the two value kinds sharing one keyspace.
var (
	listPrefix   = []byte("l:")
	stringPrefix = []byte("s:")
)

// LevelDBStore persists values in a LevelDB directory. Lists are stored as
// JSON arrays.
type LevelDBStore struct {
	db *leveldb.DB
}

// OpenLevelDB opens or creates the database at path.
func OpenLevelDB(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPersistence, "open leveldb "+path, err)
	}
	return &LevelDBStore{db: db}, nil
}

func (s *LevelDBStore) LoadStringList(ctx context.Context, key string) ([]string, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	b, err := s.db.Get(prefixed(listPrefix, key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.wrap("load list", key, err)
	}
	var values []string
	if err := json.Unmarshal(b, &values); err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrCorruptEntry, "decode list "+key, err)
	}
	return values, true, nil
}

func (s *LevelDBStore) SaveStringList(ctx context.Context, key string, values []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return s.wrap("encode list", key, err)
	}
	batch := new(leveldb.Batch)
	batch.Delete(prefixed(stringPrefix, key))
	batch.Put(prefixed(listPrefix, key), b)
	if err := s.db.Write(batch, nil); err != nil {
		return s.wrap("save list", key, err)
	}
	return nil
}

func (s *LevelDBStore) LoadString(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	b, err := s.db.Get(prefixed(stringPrefix, key), nil)
	if err == leveldb.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, s.wrap("load string", key, err)
	}
	return string(b), true, nil
}

func (s *LevelDBStore) SaveString(ctx context.Context, key string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Delete(prefixed(listPrefix, key))
	batch.Put(prefixed(stringPrefix, key), []byte(value))
	if err := s.db.Write(batch, nil); err != nil {
		return s.wrap("save string", key, err)
	}
	return nil
}

func (s *LevelDBStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Delete(prefixed(listPrefix, key))
	batch.Delete(prefixed(stringPrefix, key))
	if err := s.db.Write(batch, nil); err != nil {
		return s.wrap("remove", key, err)
	}
	return nil
}

func (s *LevelDBStore) ListKeys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	for _, prefix := range [][]byte{listPrefix, stringPrefix} {
		it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
		for it.Next() {
			keys = append(keys, string(bytes.TrimPrefix(it.Key(), prefix)))
		}
		it.Release()
		if err := it.Error(); err != nil {
			return nil, s.wrap("list keys", string(prefix), err)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

func (s *LevelDBStore) wrap(op, key string, err error) error {
	if err == leveldb.ErrClosed {
		return apperrors.Wrap(apperrors.ErrClosed, "leveldb store is closed", err)
	}
	return persistenceError(op, key, err)
}

func prefixed(prefix []byte, key string) []byte {
	out := make([]byte, 0, len(prefix)+len(key))
	out = append(out, prefix...)
	return append(out, key...)
}
