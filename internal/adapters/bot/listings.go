package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg-feedback-bot/internal/adapters/telegram"
	"tg-feedback-bot/internal/domain"
	"tg-feedback-bot/internal/usecase/pagination"
)

// Row строка постраничного списка.
type Row struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Value    int    `json:"value"`
	HasValue bool   `json:"has_value"`
}

var listingTitles = map[ListingKind]string{
	ListingVerified: "✅ Utenti Verificati",
	ListingReceived: "🏆 Classifica Feedback Ricevuti",
	ListingSent:     "📊 Classifica Feedback Inviati",
	ListingLimited:  "🚫 Utenti Limitati",
	ListingAdmins:   "👮‍♂️ Lista Admin Bot",
}

// rows строит строки списка из текущего журнала.
func (h *Handler) rows(ctx context.Context, kind ListingKind) []Row {
	group := h.opts.Chats.Exchange
	var out []Row
	switch kind {
	case ListingVerified:
		for _, m := range h.ledgerUC.Verified(ctx, group) {
			out = append(out, Row{ID: m.ID, Name: m.Name()})
		}
	case ListingLimited:
		for _, m := range h.ledgerUC.Limited(ctx, group) {
			out = append(out, Row{ID: m.ID, Name: m.Name(), Value: m.Gap(), HasValue: true})
		}
	case ListingReceived:
		for _, m := range h.ledgerUC.RankedByReceived(ctx, group) {
			out = append(out, Row{ID: m.ID, Name: m.Name(), Value: m.ReceivedCount, HasValue: true})
		}
	case ListingSent:
		for _, m := range h.ledgerUC.RankedBySent(ctx, group) {
			out = append(out, Row{ID: m.ID, Name: m.Name(), Value: m.SentCount, HasValue: true})
		}
	case ListingAdmins:
		names := h.ledgerUC.Names(group)
		for _, id := range h.accessUC.List() {
			name, ok := names[id]
			if !ok || name == "" {
				name = domain.PlaceholderName(id)
			}
			out = append(out, Row{ID: id, Name: name})
		}
	}
	return out
}

func (h *Handler) listingCommand(kind ListingKind) commandFunc {
	return func(ctx context.Context, msg *tgbotapi.Message, _ []string) {
		h.refresh(ctx)
		page, err := h.pages.Open(msg.From.ID, string(kind), h.rows(ctx, kind))
		if err != nil {
			h.replyMD(msg.Chat.ID, h.userError(err), nil)
			return
		}
		if page.Empty() {
			h.replyMD(msg.Chat.ID, "_"+telegram.EscapeMarkdownV2(listingTitles[kind])+" non trovati\\._", nil)
			return
		}
		text, keyboard := renderPage(kind, page)
		h.replyMD(msg.Chat.ID, text, keyboard)
	}
}

func (h *Handler) onPage(_ context.Context, q *tgbotapi.CallbackQuery, kind ListingKind, index int) (string, bool) {
	if q.Message == nil {
		return "", false
	}
	page, err := h.pages.Navigate(q.From.ID, string(kind), index)
	if errors.Is(err, domain.ErrNotFound) {
		h.editText(q.Message.Chat.ID, q.Message.MessageID, "_Errore: Dati di paginazione non disponibili\\._", nil)
		return "", false
	}
	if err != nil {
		h.log.Error().Err(err).Msg("ошибка пагинации")
		return retryText, true
	}
	if !page.Moved {
		return "", false
	}
	text, keyboard := renderPage(kind, page)
	h.editText(q.Message.Chat.ID, q.Message.MessageID, text, keyboard)
	return "", false
}

// renderPage текст страницы и клавиатура навигации.
func renderPage(kind ListingKind, page pagination.Page[Row]) (string, *tgbotapi.InlineKeyboardMarkup) {
	var b strings.Builder
	b.WriteString("*" + telegram.EscapeMarkdownV2(listingTitles[kind]) + "* \\(Pagina " +
		strconv.Itoa(page.Index+1) + "/" + strconv.Itoa(page.Count) + "\\)\n\n")
	for i, row := range page.Items {
		b.WriteString(strconv.Itoa(page.Offset+i+1) + "\\. " + telegram.Mention(row.Name) +
			" \\[`" + strconv.FormatInt(row.ID, 10) + "`\\]")
		if row.HasValue {
			b.WriteString("\\: `" + strconv.Itoa(row.Value) + "`")
		}
		b.WriteString("\n")
	}
	if page.Count <= 1 {
		return b.String(), nil
	}
	keyboard := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⏪", pageData(kind, page.First())),
		tgbotapi.NewInlineKeyboardButtonData("◀️", pageData(kind, page.Prev())),
		tgbotapi.NewInlineKeyboardButtonData(strconv.Itoa(page.Index+1)+"/"+strconv.Itoa(page.Count), "noop"),
		tgbotapi.NewInlineKeyboardButtonData("▶️", pageData(kind, page.Next())),
		tgbotapi.NewInlineKeyboardButtonData("⏩", pageData(kind, page.Last())),
	))
	return b.String(), &keyboard
}
