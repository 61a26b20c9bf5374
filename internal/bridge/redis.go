package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "oauthfiddler:bridge:"

// RedisSessions stores each session as one Redis hash whose TTL is refreshed
// on every access.
type RedisSessions struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisOptions configures NewRedisSessions.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisSessions connects to Redis and verifies the connection.
func NewRedisSessions(ctx context.Context, opts RedisOptions) (*RedisSessions, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", opts.Addr, err)
	}
	return NewRedisSessionsFromClient(rdb, opts.TTL), nil
}

// NewRedisSessionsFromClient wraps an existing client.
func NewRedisSessionsFromClient(client *redis.Client, ttl time.Duration) *RedisSessions {
	return &RedisSessions{client: client, ttl: ttl}
}

func (r *RedisSessions) Session(ctx context.Context, id string) (Store, error) {
	key := redisKeyPrefix + id
	if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
		return nil, fmt.Errorf("refresh session ttl: %w", err)
	}
	return &redisStore{client: r.client, key: key, ttl: r.ttl}, nil
}

func (r *RedisSessions) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, redisKeyPrefix+id).Err()
}

// Close closes the underlying client.
func (r *RedisSessions) Close() error {
	return r.client.Close()
}

type redisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func (s *redisStore) Get(ctx context.Context, field string) (string, bool, error) {
	v, err := s.client.HGet(ctx, s.key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *redisStore) Set(ctx context.Context, field, value string) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key, field, value)
	pipe.Expire(ctx, s.key, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}
