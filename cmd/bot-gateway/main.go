package main

import (
	"context"
	"os/signal"
	"runtime/debug"
	"strconv"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"tg-feedback-bot/internal/adapters/bot"
	"tg-feedback-bot/internal/adapters/chart"
	"tg-feedback-bot/internal/adapters/repo"
	"tg-feedback-bot/internal/infra/cache"
	"tg-feedback-bot/internal/infra/config"
	httpinfra "tg-feedback-bot/internal/infra/http"
	"tg-feedback-bot/internal/infra/log"
	"tg-feedback-bot/internal/infra/metrics"
	"tg-feedback-bot/internal/infra/storage"
	"tg-feedback-bot/internal/usecase/access"
	"tg-feedback-bot/internal/usecase/approval"
	"tg-feedback-bot/internal/usecase/ledger"
	"tg-feedback-bot/internal/usecase/pagination"
	"tg-feedback-bot/internal/usecase/stats"
)

// dispatcher обрабатывает каждый апдейт в отдельной горутине.
type dispatcher struct {
	handler *bot.Handler
	log     zerolog.Logger
	timeout time.Duration
	dedupe  *cache.Dedupe
	wg      sync.WaitGroup
}

func (d *dispatcher) dispatch(upd tgbotapi.Update) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		logger, _ := log.WithTrace(d.log)
		logger = logger.With().Int("update_id", upd.UpdateID).Logger()
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("паника при обработке апдейта")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		ctx = logger.WithContext(ctx)

		kind := bot.UpdateKind(upd)
		metrics.IncUpdate(kind)
		start := time.Now()
		if d.dedupe != nil {
			fresh, err := d.dedupe.Claim(ctx, upd.UpdateID)
			switch {
			case err != nil:
				logger.Warn().Err(err).Msg("дедупликация недоступна, обрабатываем апдейт")
			case !fresh:
				logger.Debug().Msg("повторная доставка апдейта пропущена")
				return
			}
		}
		d.handler.HandleUpdate(ctx, upd)
		metrics.UpdateHandleSeconds.Observe(time.Since(start).Seconds())
		logger.Debug().Str("kind", kind).Dur("took", time.Since(start)).Msg("апдейт обработан")
	}()
}

// wait ждёт завершения начатых обработчиков не дольше timeout.
func (d *dispatcher) wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func setWebhook(api *tgbotapi.BotAPI, url, secret string) error {
	params := tgbotapi.Params{}
	params["url"] = url
	params.AddNonEmpty("secret_token", secret)
	if err := params.AddInterface("allowed_updates", []string{"message", "callback_query"}); err != nil {
		return err
	}
	_, err := api.MakeRequest("setWebhook", params)
	return err
}

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv, "bot-gateway")
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	store, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось подключить хранилище")
	}
	defer store.Close()

	docs := repo.NewDocuments(store.Store, logger)
	ledgerService := ledger.NewService(docs, logger, cfg.VerifyThreshold)
	if err := ledgerService.Load(ctx); err != nil {
		logger.Fatal().Err(err).Msg("не удалось загрузить журналы групп")
	}
	statsService := stats.NewService(docs, logger, cfg.Location())
	approvalService := approval.NewService(docs, ledgerService, statsService, logger)
	if err := approvalService.Load(ctx); err != nil {
		logger.Fatal().Err(err).Msg("не удалось загрузить заявки")
	}
	accessService := access.NewService(docs, logger, cfg.OwnerID)
	if err := accessService.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("список администраторов недоступен")
	}
	pages := pagination.NewCache[bot.Row](cfg.PaginationCacheMB, int(cfg.PaginationTTL/time.Second), cfg.PageSize, logger)

	botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось создать бота")
	}
	botName := cfg.BotName
	if botName == "" {
		botName = botAPI.Self.UserName
	}
	if cfg.WebhookURL != "" {
		if err := setWebhook(botAPI, cfg.WebhookURL, cfg.WebhookSecret); err != nil {
			logger.Fatal().Err(err).Msg("не удалось установить вебхук")
		}
		logger.Info().Str("url", cfg.WebhookURL).Msg("вебхук установлен")
	}

	h := bot.NewHandler(botAPI, logger, ledgerService, statsService, approvalService, accessService, pages, chart.NewRenderer(), bot.Options{
		Chats: bot.Chats{
			Exchange: cfg.ExchangeChatID,
			Review:   cfg.ReviewChatID,
			Feedback: cfg.FeedbackChatID,
			Staff:    cfg.StaffChatID,
		},
		BotName:       botName,
		TrendDays:     cfg.TrendDays,
		CommunityName: cfg.CommunityName,
		CommunityLink: cfg.CommunityLink,
	})

	d := &dispatcher{handler: h, log: logger, timeout: cfg.UpdateTimeout}
	if store.Redis != nil {
		d.dedupe = cache.NewDedupe(store.Redis, cfg.RedisPrefix, cfg.DedupeTTL)
	}

	srv := httpinfra.NewServer(logger)
	srv.Router.With(httpinfra.SecretToken(cfg.WebhookSecret, logger)).Post("/webhook", httpinfra.WebhookHandler(d.dispatch, logger))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(":" + strconv.Itoa(cfg.Port))
	}()
	logger.Info().Str("bot", botName).Msg("бот-гейтвей запущен")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("HTTP сервер остановлен")
		}
	}
	logger.Info().Msg("остановка бота")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("ошибка остановки HTTP сервера")
	}
	if !d.wait(cfg.UpdateTimeout) {
		logger.Warn().Msg("не все апдейты успели обработаться")
	}
}
