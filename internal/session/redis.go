package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"lexbrief/internal/models"
	"lexbrief/internal/redis"
)

const redisKeyPrefix = "lexbrief:doc:"

func docKey(id string) string   { return redisKeyPrefix + id }
func turnsKey(id string) string { return redisKeyPrefix + id + ":turns" }

// RedisStore keeps the session body as JSON and the transcript as a list.
// RPUSH is atomic, so appends from several replicas keep their order.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) Create(ctx context.Context, s *models.DocumentSession) error {
	if err := prepare(s, r.ttl); err != nil {
		return err
	}
	body := s.Clone()
	turns := body.Transcript
	body.Transcript = nil
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ttl := r.remaining(s)

	return r.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, docKey(s.ID), raw, ttl)
		if len(turns) > 0 {
			values := make([]interface{}, 0, len(turns))
			for _, t := range turns {
				b, err := json.Marshal(t)
				if err != nil {
					return fmt.Errorf("encode turn: %w", err)
				}
				values = append(values, b)
			}
			p.RPush(ctx, turnsKey(s.ID), values...)
			if ttl > 0 {
				p.Expire(ctx, turnsKey(s.ID), ttl)
			}
		}
		return nil
	})
}

func (r *RedisStore) Get(ctx context.Context, id string) (*models.DocumentSession, error) {
	raw, err := r.client.Get(ctx, docKey(id))
	if errors.Is(err, redis.ErrCacheMiss) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var s models.DocumentSession
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}

	items, err := r.client.LRange(ctx, turnsKey(id), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	s.Transcript = make([]models.Turn, 0, len(items))
	for _, item := range items {
		var t models.Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("decode turn: %w", err)
		}
		s.Transcript = append(s.Transcript, t)
	}
	return &s, nil
}

func (r *RedisStore) AppendTurn(ctx context.Context, id string, turn models.Turn) error {
	ttl, err := r.client.TTL(ctx, docKey(id))
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	// go-redis reports a missing key as -2
	if ttl == -2 {
		return ErrNotFound
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	b, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}
	if _, err := r.client.RPush(ctx, turnsKey(id), b); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	if ttl > 0 {
		return r.client.Expire(ctx, turnsKey(id), ttl)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	ok, err := r.client.Exists(ctx, docKey(id))
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return r.client.Del(ctx, docKey(id), turnsKey(id))
}

func (r *RedisStore) Close() error { return r.client.Close() }

func (r *RedisStore) remaining(s *models.DocumentSession) time.Duration {
	if s.ExpiresAt.IsZero() {
		return 0
	}
	d := time.Until(s.ExpiresAt)
	if d <= 0 {
		return time.Millisecond
	}
	return d
}
