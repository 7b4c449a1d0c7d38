package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/nulzo/onellm-router/internal/store/cache"
)

// KVStore is a cache.Store persisted in a single sqlite table, so the model
// registry survives restarts without an external cache.
type KVStore struct {
	db *sqlx.DB
}

func NewKVStore(db *sqlx.DB) *KVStore {
	return &KVStore{db: db}
}

// OpenKVStore opens dsn, migrates it, and wraps it as a KVStore.
func OpenKVStore(dsn string) (*KVStore, error) {
	db, err := Open(dsn)
	if err != nil {
		return nil, err
	}
	return NewKVStore(db), nil
}

func (s *KVStore) Get(ctx context.Context, key string, dest interface{}) error {
	var data []byte
	err := s.db.GetContext(ctx, &data, `SELECT value FROM kv WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("kv get %s: %w", key, err)
	}
	return json.Unmarshal(data, dest)
}

func (s *KVStore) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)`,
		key, data)
	if err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) SetIfAbsent(ctx context.Context, key string, value interface{}) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO kv (key, value) VALUES (?, ?)`, key, data)
	if err != nil {
		return false, fmt.Errorf("kv setnx %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *KVStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	// LIKE treats _ and % as wildcards, so match with substr instead
	err := s.db.SelectContext(ctx, &keys,
		`SELECT key FROM kv WHERE substr(key, 1, length(?)) = ?`, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("kv keys %s: %w", prefix, err)
	}
	return keys, nil
}

func (s *KVStore) Close() error {
	return s.db.Close()
}

var _ cache.Store = (*KVStore)(nil)
