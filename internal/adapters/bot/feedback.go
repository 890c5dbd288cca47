package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg-feedback-bot/internal/adapters/telegram"
	"tg-feedback-bot/internal/domain"
	"tg-feedback-bot/internal/infra/metrics"
	"tg-feedback-bot/internal/usecase/approval"
)

const feedbackMarker = "@feedback"

const (
	staleText   = "Feedback non più valido o già processato."
	retryText   = "Errore temporaneo, riprova più tardi."
	invalidText = "Comando non valido."
)

// handleFeedbackPhoto принимает фото с подписью «@feedback @target текст».
func (h *Handler) handleFeedbackPhoto(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat.ID != h.opts.Chats.Exchange {
		return
	}
	parts := strings.Fields(msg.Caption)
	if len(parts) < 2 || !strings.EqualFold(parts[0], feedbackMarker) {
		h.replyMD(msg.Chat.ID, "*⚠️ Formato feedback non valido\\.*\n\nUsa: @feedback @username \\+ testo facoltativo", nil)
		return
	}
	photo := msg.Photo[len(msg.Photo)-1]
	req, err := h.approvalUC.Submit(ctx, approval.SubmitInput{
		RequestID: strconv.Itoa(msg.MessageID),
		Sender:    partyOf(msg.From),
		Target:    parts[1],
		Note:      strings.Join(parts[2:], " "),
		ImageRef:  photo.FileID,
		GroupID:   h.opts.Chats.Exchange,
	})
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.replyMD(msg.Chat.ID, "*⚠️ Utente non trovato\\.*", nil)
		return
	case errors.Is(err, domain.ErrSelfFeedback):
		h.replyMD(msg.Chat.ID, "*⚠️ Non puoi lasciare un feedback a te stesso\\.*", nil)
		return
	case errors.Is(err, domain.ErrInvalidInput):
		h.replyMD(msg.Chat.ID, "*⚠️ Formato feedback non valido\\.*\n\nUsa: @feedback @username \\+ testo facoltativo", nil)
		return
	case err != nil:
		h.replyMD(msg.Chat.ID, h.userError(err), nil)
		return
	}
	if !req.Prompt.IsZero() {
		return
	}

	prompt := tgbotapi.NewMessage(msg.Chat.ID, "_📥 Confermi il feedback per "+telegram.Mention(req.TargetName)+"\\?_")
	prompt.ParseMode = tgbotapi.ModeMarkdownV2
	prompt.ReplyToMessageID = msg.MessageID
	prompt.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ Conferma", confirmData(req.RequestID)),
		tgbotapi.NewInlineKeyboardButtonData("❌ Annulla", cancelData(req.RequestID)),
	))
	sent, err := h.send("send_message", msg.Chat.ID, prompt)
	if err != nil {
		return
	}
	if err := h.approvalUC.AttachPrompt(ctx, req.RequestID, domain.MessageRef{ChatID: msg.Chat.ID, MessageID: sent.MessageID}); err != nil {
		h.log.Warn().Err(err).Str("request", req.RequestID).Msg("не удалось запомнить сообщение подтверждения")
	}
}

func (h *Handler) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if q.From == nil {
		return
	}
	cb := ParseCallback(q.Data)
	var (
		text  string
		alert bool
	)
	switch cb.Kind {
	case CallbackConfirm:
		text, alert = h.onConfirm(ctx, q, cb.RequestID)
	case CallbackCancel:
		text, alert = h.onCancel(ctx, q, cb.RequestID)
	case CallbackAccept:
		text, alert = h.onAccept(ctx, q, cb.RequestID)
	case CallbackReject:
		text, alert = h.onReject(ctx, q, cb.RequestID)
	case CallbackStar:
		text, alert = h.onStar(ctx, q, cb.RequestID, cb.Rating)
	case CallbackMenu:
		text, alert = h.onMenu(ctx, q, cb.MemberID)
	case CallbackBack:
		text, alert = h.onBack(ctx, q, cb.MemberID)
	case CallbackPage:
		text, alert = h.onPage(ctx, q, cb.Listing, cb.Page)
	case CallbackNoop:
	default:
		h.log.Debug().Str("data", q.Data).Msg("неизвестные данные кнопки")
		text, alert = invalidText, true
	}
	h.answer(q.ID, text, alert)
}

func (h *Handler) answer(queryID, text string, alert bool) {
	cfg := tgbotapi.NewCallback(queryID, text)
	if alert {
		cfg = tgbotapi.NewCallbackWithAlert(queryID, text)
	}
	h.request("answer_callback", 0, cfg)
}

// requestFailure ответ на кнопку по ошибке машины состояний.
func (h *Handler) requestFailure(err error, unauthorized string) (string, bool) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return unauthorized, true
	case errors.Is(err, domain.ErrStaleRequest), errors.Is(err, domain.ErrNotFound):
		return staleText, true
	case errors.Is(err, domain.ErrInvalidInput):
		return invalidText, true
	default:
		h.log.Error().Err(err).Msg("ошибка обработки заявки")
		return retryText, true
	}
}

// fromReviewChat модерация возможна только из чата модерации.
func (h *Handler) fromReviewChat(q *tgbotapi.CallbackQuery, action string) bool {
	if q.Message != nil && q.Message.Chat != nil && q.Message.Chat.ID == h.opts.Chats.Review {
		return true
	}
	metrics.UnauthorizedAttempts.Inc()
	h.log.Warn().Bool("security", true).Int64("user", q.From.ID).Str("action", action).Msg("модерация вне чата модерации")
	return false
}

func (h *Handler) onConfirm(ctx context.Context, q *tgbotapi.CallbackQuery, requestID string) (string, bool) {
	req, err := h.approvalUC.Confirm(ctx, requestID, q.From.ID)
	if err != nil {
		return h.requestFailure(err, "Non puoi confermare questo feedback.")
	}
	keyboard := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("👍 Accetta", acceptData(req.RequestID)),
		tgbotapi.NewInlineKeyboardButtonData("👎 Rifiuta", rejectData(req.RequestID)),
	))
	sent, err := h.sendPhoto(h.opts.Chats.Review, tgbotapi.FileID(req.ImageRef), "_🆕 Feedback ricevuto\\!_\n\n"+feedbackDetails(req), &keyboard)
	if err != nil {
		if _, rerr := h.approvalUC.Reopen(ctx, requestID); rerr != nil {
			h.log.Error().Err(rerr).Str("request", requestID).Msg("не удалось вернуть заявку автору")
		}
		return "Impossibile inoltrare il feedback, riprova.", true
	}
	if err := h.approvalUC.AttachReview(ctx, requestID, domain.MessageRef{ChatID: h.opts.Chats.Review, MessageID: sent.MessageID}); err != nil {
		h.log.Warn().Err(err).Str("request", requestID).Msg("не удалось запомнить сообщение модерации")
	}
	if q.Message != nil {
		h.editText(q.Message.Chat.ID, q.Message.MessageID, "_🏹 Feedback inviato\\!_", nil)
	}
	return "", false
}

func (h *Handler) onCancel(ctx context.Context, q *tgbotapi.CallbackQuery, requestID string) (string, bool) {
	if _, err := h.approvalUC.Cancel(ctx, requestID, q.From.ID); err != nil {
		return h.requestFailure(err, "Non puoi annullare questo feedback.")
	}
	if q.Message != nil {
		h.editText(q.Message.Chat.ID, q.Message.MessageID, "_🪃 Feedback annullato\\!_", nil)
	}
	return "", false
}

func (h *Handler) onAccept(ctx context.Context, q *tgbotapi.CallbackQuery, requestID string) (string, bool) {
	if !h.fromReviewChat(q, "accept") {
		return "Azione non consentita.", true
	}
	res, err := h.approvalUC.Accept(ctx, requestID, q.From.ID)
	if err != nil {
		return h.requestFailure(err, "Azione non consentita.")
	}
	h.editCaption(q.Message.Chat.ID, q.Message.MessageID, "_🆕 Feedback ricevuto_ 💪 *Accettato\\!*\n\n"+feedbackDetails(res.Request), nil)
	h.replyMD(q.Message.Chat.ID, "✨ _Feedback accettato\\!_\nQuante stelle vuoi assegnare\\?", starKeyboard(requestID))
	h.notify(res.Ledger.Events)
	return "Feedback accettato.", false
}

func (h *Handler) onReject(ctx context.Context, q *tgbotapi.CallbackQuery, requestID string) (string, bool) {
	if !h.fromReviewChat(q, "reject") {
		return "Azione non consentita.", true
	}
	req, err := h.approvalUC.Reject(ctx, requestID, q.From.ID)
	if err != nil {
		return h.requestFailure(err, "Azione non consentita.")
	}
	h.editCaption(q.Message.Chat.ID, q.Message.MessageID, "_🆕 Feedback ricevuto_\n\n"+feedbackDetails(req)+"\n\n*🤌 Feedback rifiutato\\.*", nil)
	return "Feedback rifiutato.", false
}

func (h *Handler) onStar(ctx context.Context, q *tgbotapi.CallbackQuery, requestID string, rating int) (string, bool) {
	if !h.fromReviewChat(q, "star") {
		return "Azione non consentita.", true
	}
	res, err := h.approvalUC.Rate(ctx, requestID, q.From.ID, rating)
	if err != nil {
		return h.requestFailure(err, "Azione non consentita.")
	}
	req := res.Request
	if h.opts.Chats.Feedback != 0 {
		caption := "_⭐ Feedback Valutato\\! ⭐_\n\n" + feedbackDetails(req) + "\n*Stelle\\:* " + ratingLabel(res.Class)
		if _, err := h.sendPhoto(h.opts.Chats.Feedback, tgbotapi.FileID(req.ImageRef), caption, nil); err != nil {
			h.log.Warn().Err(err).Str("request", requestID).Msg("не удалось опубликовать отзыв")
		}
	}
	h.editText(q.Message.Chat.ID, q.Message.MessageID, "✅ Hai assegnato *"+ratingLabel(res.Class)+"* a "+telegram.Mention(req.TargetName)+"\\.", nil)
	h.notify(res.Ledger.Events)
	return "", false
}

func feedbackDetails(req domain.PendingFeedback) string {
	senderName := req.SenderName
	if senderName == "" {
		senderName = domain.PlaceholderName(req.SenderID)
	}
	var b strings.Builder
	b.WriteString("*Da\\:* " + telegram.Mention(senderName) + " \\[`" + strconv.FormatInt(req.SenderID, 10) + "`\\]\n")
	b.WriteString("*Per\\:* " + telegram.Mention(req.TargetName) + " \\[`" + strconv.FormatInt(req.TargetID, 10) + "`\\]\n")
	note := req.Note
	if note == "" {
		note = "-"
	}
	b.WriteString("*Messaggio\\:* " + telegram.EscapeMarkdownV2(note))
	return b.String()
}

func ratingLabel(class int) string {
	if class == domain.GenericRating {
		return "Generico"
	}
	return strconv.Itoa(class) + "⭐️"
}

func starKeyboard(requestID string) *tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for class := 1; class <= domain.MaxRating; class++ {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(ratingLabel(class), starData(requestID, class)))
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	row = append(row, tgbotapi.NewInlineKeyboardButtonData(ratingLabel(domain.GenericRating), starData(requestID, domain.GenericRating)))
	rows = append(rows, row)
	keyboard := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &keyboard
}
