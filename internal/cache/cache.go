// Package cache memoizes normalized responses for a bounded time.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/intellihub-router/internal/types"
)

// DefaultTTL is how long a response stays valid.
const DefaultTTL = 300 * time.Second

// Store is a time-bounded key to response memo. Expired entries read as absent.
type Store interface {
	Get(ctx context.Context, key string) (*types.NormalizedResponse, bool, error)
	Set(ctx context.Context, key string, resp *types.NormalizedResponse) error
	Clear(ctx context.Context) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend    string        `yaml:"backend"` // memory, redis, sqlite
	TTL        time.Duration `yaml:"ttl"`
	Redis      RedisConfig   `yaml:"redis"`
	SQLitePath string        `yaml:"sqlite_path"`
}

// Key derives the cache key for a prompt, image reference and task.
func Key(prompt, imageURL string, task types.TaskCategory) string {
	sum := md5.Sum([]byte(prompt + "|" + imageURL + "|" + string(task)))
	return hex.EncodeToString(sum[:])
}

// New builds the configured backend.
func New(cfg Config, logger *logrus.Logger) (Store, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	switch cfg.Backend {
	case "", "memory":
		logger.WithField("ttl", ttl).Info("Using in-memory response cache")
		return NewMemoryStore(ttl), nil
	case "redis":
		store, err := NewRedisStore(cfg.Redis, ttl)
		if err != nil {
			return nil, fmt.Errorf("failed to connect redis cache: %w", err)
		}
		logger.WithFields(logrus.Fields{
			"address": cfg.Redis.Address,
			"ttl":     ttl,
		}).Info("Using redis response cache")
		return store, nil
	case "sqlite":
		store, err := NewSQLiteStore(cfg.SQLitePath, ttl)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite cache: %w", err)
		}
		logger.WithFields(logrus.Fields{
			"path": cfg.SQLitePath,
			"ttl":  ttl,
		}).Info("Using sqlite response cache")
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}
