package storage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tg-feedback-bot/internal/adapters/repo"
	"tg-feedback-bot/internal/domain"
	"tg-feedback-bot/internal/infra/config"
	"tg-feedback-bot/internal/infra/db"
)

// Handle открытое хранилище документов.
type Handle struct {
	Store domain.DocumentStore
	// Redis клиент, если он настроен; используется и для дедупликации апдейтов.
	Redis *redis.Client
	close []func()
}

// Close освобождает соединения.
func (h *Handle) Close() {
	for i := len(h.close) - 1; i >= 0; i-- {
		h.close[i]()
	}
}

// Open подключает хранилище по STORE_BACKEND и применяет миграции.
func Open(ctx context.Context, cfg config.AppConfig, log zerolog.Logger) (*Handle, error) {
	h := &Handle{}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			if cfg.StoreBackend == config.StoreRedis {
				return nil, fmt.Errorf("redis ping: %w", err)
			}
			log.Warn().Err(err).Msg("Redis недоступен, дедупликация апдейтов отключена")
		} else {
			h.Redis = client
			h.close = append(h.close, func() { _ = client.Close() })
		}
	}

	switch cfg.StoreBackend {
	case config.StorePostgres:
		pool, err := db.Connect(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			h.Close()
			return nil, err
		}
		h.close = append(h.close, pool.Close)
		pg := repo.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			h.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		h.Store = pg
	case config.StoreRedis:
		h.Store = repo.NewRedis(h.Redis, cfg.RedisPrefix)
	default:
		log.Warn().Msg("используется хранилище в памяти, данные не переживут перезапуск")
		h.Store = repo.NewMemory()
	}
	log.Info().Str("backend", cfg.StoreBackend).Msg("хранилище подключено")
	return h, nil
}
