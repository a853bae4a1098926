package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"agora.city/internal/kv"
)

// ConfigStore is a kv.Store over the system_config table.
type ConfigStore struct {
	db *sql.DB
}

var _ kv.Store = (*ConfigStore)(nil)

// Config returns the key/value view of the store.
func (s *Store) Config() *ConfigStore { return &ConfigStore{db: s.db} }

func (c *ConfigStore) Get(ctx context.Context, key string) ([]byte, error) {
	if c.db == nil {
		return nil, errNoDB
	}
	var value []byte
	err := c.db.QueryRowContext(ctx, `select value from system_config where key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (c *ConfigStore) Put(ctx context.Context, key string, value []byte) error {
	if c.db == nil {
		return errNoDB
	}
	_, err := c.db.ExecContext(ctx, `
		insert into system_config (key, value, updated_at)
		values ($1, $2, now())
		on conflict (key) do update set value = excluded.value, updated_at = now()
	`, key, value)
	return err
}

func (c *ConfigStore) Delete(ctx context.Context, key string) error {
	if c.db == nil {
		return errNoDB
	}
	res, err := c.db.ExecContext(ctx, `delete from system_config where key = $1`, key)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return kv.ErrNotFound
	}
	return nil
}

func (c *ConfigStore) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	if c.db == nil {
		return nil, errNoDB
	}
	rows, err := c.db.QueryContext(ctx, `
		select key, value from system_config
		where key like $1 escape '\'
		order by key
	`, likeEscape(prefix)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, rows.Err()
}

func likeEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
