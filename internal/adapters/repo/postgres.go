package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tg-feedback-bot/internal/domain"
	"tg-feedback-bot/internal/infra/metrics"
)

const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	key TEXT NOT NULL,
	body JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, key)
)`

// Postgres хранит документы в таблице documents.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.DocumentStore = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// Migrate создаёт таблицу документов, если её нет.
func (p *Postgres) Migrate(ctx context.Context) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, documentsSchema)
	metrics.ObserveNetworkRequest("postgres", "migrate", "documents", start, err)
	if err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	return nil
}

// Get читает документ целиком.
func (p *Postgres) Get(ctx context.Context, collection, key string) ([]byte, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	var body string
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT body::text FROM documents WHERE collection = $1 AND key = $2`, collection, key).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "documents_get", collection, start, nil)
		return nil, domain.ErrNotFound
	}
	metrics.ObserveNetworkRequest("postgres", "documents_get", collection, start, err)
	if err != nil {
		return nil, err
	}
	return []byte(body), nil
}

// Put заменяет документ целиком.
func (p *Postgres) Put(ctx context.Context, collection, key string, body []byte) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO documents (collection, key, body, updated_at)
VALUES ($1, $2, $3::jsonb, now())
ON CONFLICT (collection, key) DO UPDATE SET body = EXCLUDED.body, updated_at = now()
`, collection, key, string(body))
	metrics.ObserveNetworkRequest("postgres", "documents_put", collection, start, err)
	return err
}

// Delete удаляет документ. Отсутствие документа ошибкой не считается.
func (p *Postgres) Delete(ctx context.Context, collection, key string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND key = $2`, collection, key)
	metrics.ObserveNetworkRequest("postgres", "documents_delete", collection, start, err)
	return err
}

// All возвращает все документы коллекции.
func (p *Postgres) All(ctx context.Context, collection string) (map[string][]byte, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT key, body::text FROM documents WHERE collection = $1`, collection)
	if err != nil {
		metrics.ObserveNetworkRequest("postgres", "documents_all", collection, start, err)
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]byte)
	for rows.Next() {
		var key, body string
		if err := rows.Scan(&key, &body); err != nil {
			metrics.ObserveNetworkRequest("postgres", "documents_all", collection, start, err)
			return nil, err
		}
		out[key] = []byte(body)
	}
	err = rows.Err()
	metrics.ObserveNetworkRequest("postgres", "documents_all", collection, start, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}
