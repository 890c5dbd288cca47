package repo

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"tg-feedback-bot/internal/domain"
	"tg-feedback-bot/internal/infra/metrics"
)

// Redis хранит каждую коллекцию в отдельном хэше.
type Redis struct {
	client *redis.Client
	prefix string
}

var _ domain.DocumentStore = (*Redis)(nil)

// NewRedis создаёт хранилище с префиксом ключей.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) hashKey(collection string) string {
	return r.prefix + collection
}

// Get читает документ.
func (r *Redis) Get(ctx context.Context, collection, key string) ([]byte, error) {
	start := time.Now()
	body, err := r.client.HGet(ctx, r.hashKey(collection), key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveNetworkRequest("redis", "hget", collection, start, nil)
		return nil, domain.ErrNotFound
	}
	metrics.ObserveNetworkRequest("redis", "hget", collection, start, err)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Put заменяет документ.
func (r *Redis) Put(ctx context.Context, collection, key string, body []byte) error {
	start := time.Now()
	err := r.client.HSet(ctx, r.hashKey(collection), key, body).Err()
	metrics.ObserveNetworkRequest("redis", "hset", collection, start, err)
	return err
}

// Delete удаляет документ.
func (r *Redis) Delete(ctx context.Context, collection, key string) error {
	start := time.Now()
	err := r.client.HDel(ctx, r.hashKey(collection), key).Err()
	metrics.ObserveNetworkRequest("redis", "hdel", collection, start, err)
	return err
}

// All возвращает все документы коллекции.
func (r *Redis) All(ctx context.Context, collection string) (map[string][]byte, error) {
	start := time.Now()
	res, err := r.client.HGetAll(ctx, r.hashKey(collection)).Result()
	metrics.ObserveNetworkRequest("redis", "hgetall", collection, start, err)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(res))
	for k, v := range res {
		out[k] = []byte(v)
	}
	return out, nil
}
