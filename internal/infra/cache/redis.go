package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dedupe отсекает повторные доставки апдейтов вебхука через Redis.
type Dedupe struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewDedupe создаёт фильтр повторов.
func NewDedupe(client *redis.Client, prefix string, ttl time.Duration) *Dedupe {
	return &Dedupe{client: client, prefix: prefix, ttl: ttl}
}

func (d *Dedupe) key(updateID int) string {
	return d.prefix + ":update:" + strconv.Itoa(updateID)
}

// Claim отмечает апдейт как полученный. false означает повторную доставку.
// Отметка не снимается: вебхук подтверждает апдейт до обработки, и Telegram
// его больше не пришлёт.
func (d *Dedupe) Claim(ctx context.Context, updateID int) (bool, error) {
	return d.client.SetNX(ctx, d.key(updateID), "1", d.ttl).Result()
}
