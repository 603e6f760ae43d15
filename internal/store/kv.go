package store

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
)

// KVGet returns the stored value for key, or "" when unset.
func (s *SQLiteStore) KVGet(ctx context.Context, key string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key)
	var value string
	err := row.Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: kv get %s", key)
	}
	return value, nil
}

func (s *SQLiteStore) KVSet(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return eris.Wrapf(err, "sqlite: kv set %s", key)
}
