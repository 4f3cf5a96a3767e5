package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/multidb-router/backend/pkg/logger"
)

// RedisStore is the TokenStore for multi-instance deployments. Expiry is
// redis's TTL; consumption uses GETDEL so two racing confirmations cannot
// both succeed.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(host string, port int, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis token store initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Put(ctx context.Context, c Confirmation) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal confirmation: %w", err)
	}

	ttl := time.Until(c.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("confirmation already expired")
	}

	if err := s.client.Set(ctx, tokenKey(c.Token), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store confirmation: %w", err)
	}

	logger.Debug("Confirmation token stored", zap.Duration("ttl", ttl))
	return nil
}

func (s *RedisStore) Consume(ctx context.Context, token string) (*Confirmation, error) {
	data, err := s.client.GetDel(ctx, tokenKey(token)).Bytes()
	if err == redis.Nil {
		// Redis drops expired keys itself, so not-found covers expiry too;
		// the gate treats both the same way.
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume confirmation: %w", err)
	}

	var c Confirmation
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal confirmation: %w", err)
	}

	if time.Now().After(c.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	return &c, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func tokenKey(token string) string {
	return "confirm:" + token
}
