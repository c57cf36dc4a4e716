package kv

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/fruitsalade/volumefs/internal/metrics"
)

// Postgres is a Store backed by a single key/value table.
type Postgres struct {
	db *sql.DB
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS volumefs_kv (
	key   TEXT PRIMARY KEY,
	value BYTEA NOT NULL
)`

// NewPostgres opens the database, verifies the connection, and ensures the
// kv table exists.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, pgSchema); err != nil {
		return nil, fmt.Errorf("create kv table: %w", err)
	}

	return &Postgres{db: db}, nil
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	var value []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT value FROM volumefs_kv WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		metrics.RecordKVOperation("postgres", "get", time.Since(start), true)
		return nil, ErrNotFound
	}
	if err != nil {
		metrics.RecordKVOperation("postgres", "get", time.Since(start), false)
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	metrics.RecordKVOperation("postgres", "get", time.Since(start), true)
	return value, nil
}

func (p *Postgres) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}
	start := time.Now()
	rows, err := p.db.QueryContext(ctx,
		`SELECT key, value FROM volumefs_kv WHERE key = ANY($1)`, pq.Array(keys))
	if err != nil {
		metrics.RecordKVOperation("postgres", "get_many", time.Since(start), false)
		return nil, fmt.Errorf("get many: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte, len(keys))
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			metrics.RecordKVOperation("postgres", "get_many", time.Since(start), false)
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		metrics.RecordKVOperation("postgres", "get_many", time.Since(start), false)
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	metrics.RecordKVOperation("postgres", "get_many", time.Since(start), true)
	return out, nil
}

func (p *Postgres) Put(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO volumefs_kv (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value)
	metrics.RecordKVOperation("postgres", "put", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (p *Postgres) PutMany(ctx context.Context, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}
	start := time.Now()
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO volumefs_kv (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`)
	if err != nil {
		return fmt.Errorf("prepare put many: %w", err)
	}
	defer stmt.Close()

	for k, v := range entries {
		if _, err := stmt.ExecContext(ctx, k, v); err != nil {
			metrics.RecordKVOperation("postgres", "put_many", time.Since(start), false)
			return fmt.Errorf("put %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		metrics.RecordKVOperation("postgres", "put_many", time.Since(start), false)
		return fmt.Errorf("commit put many: %w", err)
	}
	metrics.RecordKVOperation("postgres", "put_many", time.Since(start), true)
	return nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	start := time.Now()
	_, err := p.db.ExecContext(ctx, `DELETE FROM volumefs_kv WHERE key = $1`, key)
	metrics.RecordKVOperation("postgres", "delete", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (p *Postgres) DeleteMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	start := time.Now()
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM volumefs_kv WHERE key = ANY($1)`, pq.Array(keys))
	metrics.RecordKVOperation("postgres", "delete_many", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("delete many: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteAll(ctx context.Context) error {
	start := time.Now()
	_, err := p.db.ExecContext(ctx, `DELETE FROM volumefs_kv`)
	metrics.RecordKVOperation("postgres", "delete_all", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("delete all: %w", err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	rows, err := p.db.QueryContext(ctx,
		`SELECT key FROM volumefs_kv WHERE key LIKE $1`, likePrefix(prefix))
	if err != nil {
		metrics.RecordKVOperation("postgres", "list", time.Since(start), false)
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			metrics.RecordKVOperation("postgres", "list", time.Since(start), false)
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		metrics.RecordKVOperation("postgres", "list", time.Since(start), false)
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	metrics.RecordKVOperation("postgres", "list", time.Since(start), true)
	return keys, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// likePrefix escapes LIKE metacharacters so the prefix matches literally.
func likePrefix(prefix string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	return escaped + "%"
}
