// Package session keeps document sessions between the upload and the chat calls.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"lexbrief/internal/config"
	"lexbrief/internal/logger"
	"lexbrief/internal/models"
	"lexbrief/internal/redis"
	"lexbrief/internal/storage"
)

// ErrNotFound is returned for unknown or expired session ids.
var ErrNotFound = errors.New("document session not found")

// Store persists document sessions. Implementations are safe for concurrent use;
// concurrent AppendTurn calls on one session never lose or interleave turns.
type Store interface {
	Create(ctx context.Context, s *models.DocumentSession) error
	Get(ctx context.Context, id string) (*models.DocumentSession, error)
	AppendTurn(ctx context.Context, id string, turn models.Turn) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// Purger is implemented by stores that do not expire entries on their own.
// PurgeExpired removes sessions expired at now and returns them.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) ([]*models.DocumentSession, error)
}

// EvictFunc observes a session leaving the store because it expired or was deleted.
type EvictFunc func(s *models.DocumentSession)

// Open builds the store selected by cfg.SessionStore.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger, onEvict EvictFunc) (Store, error) {
	log = logger.OrGlobal(log)
	ttl := time.Duration(cfg.BasicConfig.SessionTTL) * time.Minute
	switch strings.ToLower(cfg.SessionStore) {
	case "", "memory":
		cleanup := time.Duration(cfg.BasicConfig.CleanInterval) * time.Minute
		return NewMemoryStore(ttl, cleanup, onEvict), nil
	case "redis":
		client, err := redis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(client, ttl), nil
	case "sql":
		driver := "sqlite3"
		if _, ok := cfg.Databases["mysql"]; ok {
			driver = "mysql"
		}
		db, err := storage.Open(driver, cfg)
		if err != nil {
			return nil, err
		}
		if err := storage.Migrate(db, driver); err != nil {
			db.Close()
			return nil, err
		}
		log.Info("sql session store ready", zap.String("driver", driver))
		return NewSQLStore(db, ttl), nil
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.SessionStore)
	}
}

// prepare stamps CreatedAt/ExpiresAt when unset.
func prepare(s *models.DocumentSession, ttl time.Duration) error {
	if s == nil || s.ID == "" {
		return errors.New("session id required")
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.ExpiresAt.IsZero() && ttl > 0 {
		s.ExpiresAt = s.CreatedAt.Add(ttl)
	}
	return nil
}
