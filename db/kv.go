package db

import (
	"context"
	"database/sql"
)

// KV is a snapshot store over the kv table. Each Put is a full-record overwrite
// inside a single upsert, so a reader never observes a partially written snapshot.
type KV struct {
	DB *sql.DB
}

// Put stores or replaces the value for key.
func (k *KV) Put(ctx context.Context, key, value string) error {
	_, err := k.DB.ExecContext(ctx, `INSERT INTO kv (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`, key, value)
	return err
}

// Get returns the value for key and whether it exists.
func (k *KV) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := k.DB.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=$1`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}
