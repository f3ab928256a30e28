package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tributary-ai/intellihub-router/internal/types"
)

const createResponseTable = `
CREATE TABLE IF NOT EXISTS response_cache (
	cache_key TEXT PRIMARY KEY,
	response BLOB NOT NULL,
	stored_at INTEGER NOT NULL,
	ttl_seconds INTEGER NOT NULL
);
`

// SQLiteStore persists cached responses in a local database file.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewSQLiteStore opens the database and creates the table.
func NewSQLiteStore(path string, ttl time.Duration) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite cache path is empty")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createResponseTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &SQLiteStore{db: db, ttl: ttl, now: time.Now}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*types.NormalizedResponse, bool, error) {
	var (
		data       []byte
		storedAt   int64
		ttlSeconds int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT response, stored_at, ttl_seconds FROM response_cache WHERE cache_key = ?`, key,
	).Scan(&data, &storedAt, &ttlSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	age := s.now().Sub(time.Unix(0, storedAt))
	if age >= time.Duration(ttlSeconds)*time.Second {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM response_cache WHERE cache_key = ?`, key); err != nil {
			return nil, false, fmt.Errorf("cache evict: %w", err)
		}
		return nil, false, nil
	}

	var resp types.NormalizedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false, fmt.Errorf("decode cached response: %w", err)
	}
	return &resp, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, resp *types.NormalizedResponse) error {
	stored := resp.Clone()
	stored.Cached = false

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode cached response: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO response_cache (cache_key, response, stored_at, ttl_seconds) VALUES (?, ?, ?, ?)`,
		key, data, s.now().UnixNano(), int64(s.ttl.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM response_cache`); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
