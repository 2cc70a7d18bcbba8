// Package redis keeps portal visitor tokens in Redis so that visitor sessions
// survive a portal restart.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Config describes the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// TokenStore maps visitor session ids to auth tokens.
type TokenStore struct {
	client *goredis.Client
	prefix string
}

func NewTokenStore(cfg Config) *TokenStore {
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	return &TokenStore{client: client, prefix: "skilllink:visitor:"}
}

// Ping checks redis connectivity.
func (s *TokenStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *TokenStore) Close() error {
	return s.client.Close()
}

func (s *TokenStore) Load(ctx context.Context, sid string) (string, error) {
	token, err := s.client.Get(ctx, s.prefix+sid).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load visitor token: %w", err)
	}
	return token, nil
}

func (s *TokenStore) Save(ctx context.Context, sid, token string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+sid, token, ttl).Err(); err != nil {
		return fmt.Errorf("save visitor token: %w", err)
	}
	return nil
}

func (s *TokenStore) Delete(ctx context.Context, sid string) error {
	if err := s.client.Del(ctx, s.prefix+sid).Err(); err != nil {
		return fmt.Errorf("delete visitor token: %w", err)
	}
	return nil
}
