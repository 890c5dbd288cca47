package config

import (
	"fmt"
	"log"
	"time"

	"github.com/gookit/validate"
	"github.com/kelseyhightower/envconfig"
)

// Хранилища документов.
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreMemory   = "memory"
)

// AppConfig описывает конфигурацию бота.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev" validate:"required|in:dev,prod,test"`
	TZ     string `envconfig:"TZ" default:"Europe/Rome" validate:"required"`
	Port   int    `envconfig:"PORT" default:"8080" validate:"required|min:1|max:65535"`

	TelegramToken  string `envconfig:"TG_BOT_TOKEN" validate:"required"`
	WebhookURL     string `envconfig:"TG_WEBHOOK_URL"`
	WebhookSecret  string `envconfig:"TG_WEBHOOK_SECRET"`
	BotName        string `envconfig:"TG_BOT_NAME"`
	CommunityName  string `envconfig:"COMMUNITY_NAME" default:"MonopolyGo"`
	CommunityLink  string `envconfig:"COMMUNITY_LINK"`
	ExchangeChatID int64  `envconfig:"EXCHANGE_CHAT_ID" validate:"required"`
	ReviewChatID   int64  `envconfig:"REVIEW_CHAT_ID" validate:"required"`
	FeedbackChatID int64  `envconfig:"FEEDBACK_CHAT_ID"`
	StaffChatID    int64  `envconfig:"STAFF_CHAT_ID"`
	OwnerID        int64  `envconfig:"OWNER_ID"`

	StoreBackend string `envconfig:"STORE_BACKEND" default:"postgres" validate:"required|in:postgres,redis,memory"`
	PGDSN        string `envconfig:"PG_DSN"`
	PGMaxConns   int32  `envconfig:"PG_MAX_CONNS" default:"10" validate:"min:1"`
	RedisAddr    string `envconfig:"REDIS_ADDR"`
	RedisPrefix  string `envconfig:"REDIS_PREFIX" default:"feedbackbot"`

	VerifyThreshold   int           `envconfig:"VERIFY_THRESHOLD" default:"25" validate:"min:1"`
	PageSize          int           `envconfig:"PAGE_SIZE" default:"25" validate:"min:1|max:100"`
	PaginationCacheMB int           `envconfig:"PAGINATION_CACHE_MB" default:"8" validate:"min:1"`
	PaginationTTL     time.Duration `envconfig:"PAGINATION_TTL" default:"1h"`
	TrendDays         int           `envconfig:"TREND_DAYS" default:"7" validate:"min:2|max:90"`
	UpdateTimeout     time.Duration `envconfig:"UPDATE_TIMEOUT" default:"30s"`
	DedupeTTL         time.Duration `envconfig:"DEDUPE_TTL" default:"10m"`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Parse читает и проверяет конфиг без завершения процесса.
func Parse() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate проверяет значения и зависимости между ними.
func (c *AppConfig) Validate() error {
	v := validate.Struct(c)
	if !v.Validate() {
		return fmt.Errorf("конфиг: %s", v.Errors.String())
	}
	switch c.StoreBackend {
	case StorePostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("конфиг: PG_DSN обязателен для STORE_BACKEND=%s", c.StoreBackend)
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("конфиг: REDIS_ADDR обязателен для STORE_BACKEND=%s", c.StoreBackend)
		}
	}
	if c.PaginationTTL < time.Second || c.UpdateTimeout < time.Second {
		return fmt.Errorf("конфиг: PAGINATION_TTL и UPDATE_TIMEOUT должны быть не меньше секунды")
	}
	if _, err := time.LoadLocation(c.TZ); err != nil {
		return fmt.Errorf("конфиг: TZ: %w", err)
	}
	return nil
}

// Location часовой пояс статистики.
func (c *AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.TZ)
	if err != nil {
		return time.UTC
	}
	return loc
}
