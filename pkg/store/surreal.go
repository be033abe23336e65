package store

import (
	"context"
	"fmt"

	"xiaoshouji/pkg/surreal"
)

// surrealQuerier is the slice of *surreal.Client the KV needs.
type surrealQuerier interface {
	Rows(ctx context.Context, sql string, vars map[string]interface{}) ([]interface{}, error)
	Close(ctx context.Context)
}

// SurrealKV keeps one record per key in a schemaless SurrealDB table; the
// record id is the key itself.
type SurrealKV struct {
	client surrealQuerier
	table  string
}

func NewSurrealKV(ctx context.Context, client *surreal.Client, table string) (*SurrealKV, error) {
	return newSurrealKV(ctx, client, table)
}

func newSurrealKV(ctx context.Context, client surrealQuerier, table string) (*SurrealKV, error) {
	if err := surreal.ValidateIdentifier(table); err != nil {
		return nil, err
	}
	kv := &SurrealKV{client: client, table: table}

	query := fmt.Sprintf(`
		DEFINE TABLE IF NOT EXISTS %s SCHEMALESS;
		DEFINE FIELD IF NOT EXISTS value ON %s TYPE string;
		DEFINE FIELD IF NOT EXISTS updated_at ON %s TYPE int;
	`, table, table, table)
	if _, err := client.Rows(ctx, query, map[string]interface{}{}); err != nil {
		return nil, fmt.Errorf("failed to initialize SurrealDB table %s: %w", table, err)
	}
	return kv, nil
}

func (s *SurrealKV) Get(ctx context.Context, key string) ([]byte, error) {
	rows, err := s.client.Rows(ctx, `SELECT value FROM type::thing($tb, $key);`, map[string]interface{}{
		"tb":  s.table,
		"key": key,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}

	row, ok := rows[0].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected row format: %T", rows[0])
	}
	value, ok := row["value"].(string)
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(value), nil
}

func (s *SurrealKV) Set(ctx context.Context, key string, value []byte) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, value, updated_at)
		VALUES (type::thing($tb, $key), $value, time::unix())
		ON DUPLICATE KEY UPDATE value = $value, updated_at = time::unix();
	`, s.table)
	_, err := s.client.Rows(ctx, query, map[string]interface{}{
		"tb":    s.table,
		"key":   key,
		"value": string(value),
	})
	return err
}

func (s *SurrealKV) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if _, err := s.client.Rows(ctx, `DELETE type::thing($tb, $key);`, map[string]interface{}{
			"tb":  s.table,
			"key": key,
		}); err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	return nil
}

func (s *SurrealKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.client.Rows(ctx,
		`SELECT VALUE meta::id(id) FROM type::table($tb) WHERE string::starts_with(meta::id(id), $prefix);`,
		map[string]interface{}{
			"tb":     s.table,
			"prefix": prefix,
		})
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(rows))
	for _, r := range rows {
		if k, ok := r.(string); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *SurrealKV) Close() error {
	s.client.Close(context.Background())
	return nil
}
