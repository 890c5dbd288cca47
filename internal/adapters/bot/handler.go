package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-feedback-bot/internal/adapters/chart"
	"tg-feedback-bot/internal/adapters/telegram"
	"tg-feedback-bot/internal/domain"
	"tg-feedback-bot/internal/infra/metrics"
	"tg-feedback-bot/internal/usecase/access"
	"tg-feedback-bot/internal/usecase/approval"
	"tg-feedback-bot/internal/usecase/ledger"
	"tg-feedback-bot/internal/usecase/pagination"
	"tg-feedback-bot/internal/usecase/stats"
)

// Sender часть Telegram Bot API, которой пользуется обработчик.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Chats чаты сообщества.
type Chats struct {
	// Exchange группа обменов: журнал участников и приём заявок.
	Exchange int64
	Review   int64
	Feedback int64
	Staff    int64
}

// Options настройки обработчика.
type Options struct {
	Chats         Chats
	BotName       string
	TrendDays     int
	CommunityName string
	CommunityLink string
}

type commandFunc func(ctx context.Context, msg *tgbotapi.Message, args []string)

// Handler обслуживает вебхук бота.
type Handler struct {
	bot        Sender
	log        zerolog.Logger
	opts       Options
	ledgerUC   *ledger.Service
	statsUC    *stats.Service
	approvalUC *approval.Service
	accessUC   *access.Service
	pages      *pagination.Cache[Row]
	charts     *chart.Renderer
	routes     map[string]commandFunc
}

// NewHandler создаёт обработчик.
func NewHandler(bot Sender, log zerolog.Logger, ledgerUC *ledger.Service, statsUC *stats.Service, approvalUC *approval.Service, accessUC *access.Service, pages *pagination.Cache[Row], charts *chart.Renderer, opts Options) *Handler {
	if opts.TrendDays <= 0 {
		opts.TrendDays = stats.DefaultTrendDays
	}
	h := &Handler{
		bot:        bot,
		log:        log.With().Str("component", "bot").Logger(),
		opts:       opts,
		ledgerUC:   ledgerUC,
		statsUC:    statsUC,
		approvalUC: approvalUC,
		accessUC:   accessUC,
		pages:      pages,
		charts:     charts,
	}
	h.routes = h.commands()
	return h
}

// UpdateKind тип апдейта для метрик.
func UpdateKind(upd tgbotapi.Update) string {
	switch {
	case upd.Message != nil && len(upd.Message.Photo) > 0:
		return "photo"
	case upd.Message != nil:
		return "message"
	case upd.CallbackQuery != nil:
		return "callback"
	default:
		return "other"
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		h.handleMessage(ctx, upd.Message)
	} else if upd.CallbackQuery != nil {
		h.handleCallback(ctx, upd.CallbackQuery)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	if msg.Chat.ID == h.opts.Chats.Exchange && !msg.From.IsBot {
		h.track(ctx, msg.From)
	}
	if len(msg.Photo) > 0 && strings.HasPrefix(strings.TrimSpace(msg.Caption), feedbackMarker) {
		h.handleFeedbackPhoto(ctx, msg)
		return
	}
	name, args, ok := parseCommand(msg.Text, h.opts.BotName)
	if !ok {
		return
	}
	run, ok := h.routes[name]
	if !ok {
		return
	}
	h.log.Debug().Str("command", name).Int64("user", msg.From.ID).Msg("команда")
	run(ctx, msg, args)
}

// parseCommand разбирает /cmd, /cmd@Bot и .cmd с аргументами.
func parseCommand(text, botName string) (string, []string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil, false
	}
	head := fields[0]
	if len(head) < 2 || (head[0] != '/' && head[0] != '.') {
		return "", nil, false
	}
	name := head[1:]
	if i := strings.IndexByte(name, '@'); i >= 0 {
		if head[0] == '.' || (botName != "" && !strings.EqualFold(name[i+1:], strings.TrimPrefix(botName, "@"))) {
			return "", nil, false
		}
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}

func (h *Handler) commands() map[string]commandFunc {
	return map[string]commandFunc{
		"start":       h.handleStart,
		"inf":         h.handleInfo,
		"comandi":     h.handleCommandList,
		"addinv":      h.restricted("addinv", h.adjustCommand(adjustAddSent)),
		"addfeed":     h.restricted("addfeed", h.adjustCommand(adjustAddReceived)),
		"reminv":      h.restricted("reminv", h.adjustCommand(adjustRemoveSent)),
		"remfeed":     h.restricted("remfeed", h.adjustCommand(adjustRemoveReceived)),
		"verifica":    h.restricted("verifica", h.flagCommand(flagVerify)),
		"sverifica":   h.restricted("sverifica", h.flagCommand(flagUnverify)),
		"limita":      h.restricted("limita", h.flagCommand(flagLimit)),
		"unlimita":    h.restricted("unlimita", h.flagCommand(flagUnlimit)),
		"admin":       h.restricted("admin", h.handleGrant),
		"remadmin":    h.restricted("remadmin", h.handleRevoke),
		"listadmin":   h.restricted("listadmin", h.listingCommand(ListingAdmins)),
		"verificati":  h.restricted("verificati", h.listingCommand(ListingVerified)),
		"ricevuti":    h.restricted("ricevuti", h.listingCommand(ListingReceived)),
		"inviati":     h.restricted("inviati", h.listingCommand(ListingSent)),
		"limitati":    h.restricted("limitati", h.listingCommand(ListingLimited)),
		"statistiche": h.restricted("statistiche", h.handleGroupStats),
	}
}

// restricted пропускает к next только администраторов.
func (h *Handler) restricted(name string, next commandFunc) commandFunc {
	return func(ctx context.Context, msg *tgbotapi.Message, args []string) {
		if !h.accessUC.IsAuthorized(ctx, msg.From.ID) {
			metrics.UnauthorizedAttempts.Inc()
			h.log.Warn().Bool("security", true).Int64("user", msg.From.ID).Str("command", name).Msg("попытка вызвать закрытую команду")
			h.replyMD(msg.Chat.ID, "*⛔ Accesso negato\\!*", nil)
			return
		}
		next(ctx, msg, args)
	}
}

// track создаёт участника при первой активности в группе обменов.
func (h *Handler) track(ctx context.Context, u *tgbotapi.User) {
	out, err := h.ledgerUC.Track(ctx, h.opts.Chats.Exchange, partyOf(u))
	if err != nil {
		h.log.Error().Err(err).Int64("user", u.ID).Msg("не удалось сохранить участника")
		return
	}
	if out.Created {
		h.log.Info().Int64("user", u.ID).Str("name", out.Member.Name()).Msg("новый участник")
	}
}

func partyOf(u *tgbotapi.User) domain.Party {
	return domain.Party{ID: u.ID, Name: strings.TrimPrefix(u.UserName, "@")}
}

// refresh перечитывает журнал группы обменов перед чтением.
func (h *Handler) refresh(ctx context.Context) {
	if err := h.ledgerUC.Refresh(ctx, h.opts.Chats.Exchange); err != nil {
		h.log.Warn().Err(err).Msg("используем журнал из памяти")
	}
}

// userError текст ответа пользователю по ошибке сервиса.
func (h *Handler) userError(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "*⚠️ Utente non trovato\\.*"
	case errors.Is(err, domain.ErrInvalidInput):
		return "*⚠️ Dati non validi\\.*"
	case errors.Is(err, domain.ErrUnauthorized):
		return "*⛔ Accesso negato\\!*"
	case errors.Is(err, domain.ErrStaleRequest):
		return "Feedback non più valido o già processato\\."
	default:
		h.log.Error().Err(err).Msg("ошибка обработки")
		return "*⚠️ Errore temporaneo, riprova più tardi\\.*"
	}
}

func (h *Handler) observe(op string, chatID int64, start time.Time, err error) {
	metrics.ObserveNetworkRequest("telegram_bot", op, "bot_api", start, err)
	if err != nil {
		metrics.BotSendErrors.Inc()
		h.log.Error().Err(err).Str("op", op).Int64("chat", chatID).Msg("ошибка запроса к Telegram")
	}
}

func (h *Handler) send(op string, chatID int64, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	start := time.Now()
	sent, err := h.bot.Send(c)
	h.observe(op, chatID, start, err)
	return sent, err
}

func (h *Handler) request(op string, chatID int64, c tgbotapi.Chattable) error {
	start := time.Now()
	_, err := h.bot.Request(c)
	h.observe(op, chatID, start, err)
	return err
}

// replyMD отправляет текст MarkdownV2, клавиатура прикрепляется к первой части.
func (h *Handler) replyMD(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	for i, part := range telegram.SplitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdownV2
		if i == 0 && keyboard != nil {
			msg.ReplyMarkup = keyboard
		}
		if _, err := h.send("send_message", chatID, msg); err != nil {
			return
		}
	}
}

func (h *Handler) replyPlain(chatID int64, text string) {
	h.send("send_message", chatID, tgbotapi.NewMessage(chatID, text))
}

func (h *Handler) editText(chatID int64, messageID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeMarkdownV2
	edit.ReplyMarkup = keyboard
	h.request("edit_message", chatID, edit)
}

func (h *Handler) editCaption(chatID int64, messageID int, caption string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	edit := tgbotapi.NewEditMessageCaption(chatID, messageID, caption)
	edit.ParseMode = tgbotapi.ModeMarkdownV2
	edit.ReplyMarkup = keyboard
	h.request("edit_caption", chatID, edit)
}

func (h *Handler) sendPhoto(chatID int64, file tgbotapi.RequestFileData, caption string, keyboard *tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error) {
	photo := tgbotapi.NewPhoto(chatID, file)
	photo.Caption = caption
	photo.ParseMode = tgbotapi.ModeMarkdownV2
	if keyboard != nil {
		photo.ReplyMarkup = keyboard
	}
	return h.send("send_photo", chatID, photo)
}

// notify отправляет персоналу уведомления о событиях журнала.
func (h *Handler) notify(events []ledger.Event) {
	for _, ev := range events {
		var text, kind string
		switch ev.Kind {
		case ledger.EventVerified:
			kind = "verified"
			text = "_🎉 L'utente " + telegram.Mention(ev.Member.Name()) + " ha raggiunto i " +
				strconv.Itoa(h.ledgerUC.Threshold()) + " feedback ed è stato verificato\\!_"
		case ledger.EventUnverified:
			kind = "unverified"
			text = "_⚠️ L'utente " + telegram.Mention(ev.Member.Name()) + " ha meno di " +
				strconv.Itoa(h.ledgerUC.Threshold()) + " feedback e non è più verificato\\._"
		case ledger.EventGapClosed:
			kind = "gap"
			text = "⚠️ L'utente " + telegram.Mention(ev.Member.Name()) + " ha pareggiato i feed ha ora un divario di " +
				telegram.EscapeMarkdownV2(strconv.Itoa(ev.Member.Gap())) + "\\."
		default:
			continue
		}
		if h.opts.Chats.Staff == 0 {
			h.log.Info().Str("kind", kind).Int64("member", ev.Member.ID).Msg("чат персонала не задан, уведомление пропущено")
			continue
		}
		metrics.IncStaffAlert(kind)
		h.replyMD(h.opts.Chats.Staff, text, nil)
	}
}
