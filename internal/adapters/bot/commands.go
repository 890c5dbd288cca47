package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg-feedback-bot/internal/adapters/chart"
	"tg-feedback-bot/internal/adapters/telegram"
	"tg-feedback-bot/internal/domain"
	"tg-feedback-bot/internal/usecase/ledger"
)

const commandListText = "*_⚙️ Lista Comandi\\:_*\n\n" +
	"*👥 Comandi Utente\\:*\n" +
	"*\\.inf \\[ID\\|@username\\] *\\- _Ottieni info su un utente\\._\n" +
	"*\\.comandi *\\- _Mostra questa lista di comandi\\._\n" +
	"\n" +
	"*👮‍♀️ Comandi Staff\\:*\n" +
	"*\\.statistiche *\\- _Visualizza le statistiche generali del gruppo\\._\n" +
	"*\\.verificati *\\- _Mostra la lista degli utenti verificati\\._\n" +
	"*\\.ricevuti *\\- _Mostra la classifica dei feedback ricevuti\\._\n" +
	"*\\.inviati *\\- _Mostra la classifica dei feedback inviati\\._\n" +
	"*\\.limitati *\\- _Mostra la lista degli utenti limitati\\._\n" +
	"*\\.addinv \\[ID\\|@username\\] \\[numero\\] \\[0\\-5\\] *\\- _Aggiungi invii e carte a un utente\\._\n" +
	"*\\.addfeed \\[ID\\|@username\\] \\[numero\\] \\[0\\-5\\] *\\- _Aggiungi feedback e carte a un utente\\._\n" +
	"*\\.reminv \\[ID\\|@username\\] \\[numero\\] \\[0\\-5\\] *\\- _Rimuovi invii e carte a un utente\\._\n" +
	"*\\.remfeed \\[ID\\|@username\\] \\[numero\\] \\[0\\-5\\] *\\- _Rimuovi feedback e carte a un utente\\._\n" +
	"*\\.verifica \\[ID\\|@username\\] *\\- _Verifica un utente\\._\n" +
	"*\\.sverifica \\[ID\\|@username\\] *\\- _Rimuovi la verifica di un utente\\._\n" +
	"*\\.limita \\[ID\\|@username\\] *\\- _Limita un utente\\._\n" +
	"*\\.unlimita \\[ID\\|@username\\] *\\- _Rimuovi il limite a un utente\\._\n" +
	"*\\.admin \\[ID\\|@username\\] *\\- _Aggiungi un admin\\._\n" +
	"*\\.remadmin \\[ID\\|@username\\] *\\- _Rimuovi un admin\\._\n" +
	"*\\.listadmin *\\- _Mostra gli admin del bot\\._\n"

func (h *Handler) handleCommandList(_ context.Context, msg *tgbotapi.Message, _ []string) {
	h.replyMD(msg.Chat.ID, commandListText, nil)
}

var (
	italianDays   = [...]string{"Domenica", "Lunedì", "Martedì", "Mercoledì", "Giovedì", "Venerdì", "Sabato"}
	italianMonths = [...]string{"Gennaio", "Febbraio", "Marzo", "Aprile", "Maggio", "Giugno", "Luglio", "Agosto", "Settembre", "Ottobre", "Novembre", "Dicembre"}
)

func formatItalianDate(t time.Time) string {
	return fmt.Sprintf("%s, %d %s %d alle ore %02d:%02d",
		italianDays[t.Weekday()], t.Day(), italianMonths[t.Month()-1], t.Year(), t.Hour(), t.Minute())
}

// handleStart приветствие в личном чате со статистикой участника.
func (h *Handler) handleStart(ctx context.Context, msg *tgbotapi.Message, _ []string) {
	if !msg.Chat.IsPrivate() {
		return
	}
	st, err := h.statsUC.Get(ctx, msg.From.ID)
	if err != nil {
		h.log.Warn().Err(err).Int64("user", msg.From.ID).Msg("статистика недоступна")
	}
	loc := h.statsUC.Now().Location()

	sentInfo := "_🥲 Non hai ancora effettuato feedback\\._\n"
	if !st.LastSent.IsZero() {
		sentInfo = "_📤 Hai fatto l'ultimo feedback " + telegram.EscapeMarkdownV2(formatItalianDate(st.LastSent.At.In(loc))) +
			" a " + telegram.Mention(st.LastSent.Counterpart) + "\\._\n"
	}
	recvInfo := "_😢 Non hai ancora ricevuto feedback\\._\n"
	if !st.LastReceived.IsZero() {
		recvInfo = "_📥 Hai ricevuto l'ultimo feedback " + telegram.EscapeMarkdownV2(formatItalianDate(st.LastReceived.At.In(loc))) +
			" da " + telegram.Mention(st.LastReceived.Counterpart) + "\\._\n"
	}

	nick := strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	if nick == "" {
		nick = msg.From.UserName
	}
	var b strings.Builder
	b.WriteString("*👋 Benvenuto [" + telegram.EscapeMarkdownV2(nick) + "](tg://user?id=" + strconv.FormatInt(msg.From.ID, 10) + ")\\!*\n\n")
	if h.opts.CommunityName != "" {
		community := telegram.EscapeMarkdownV2(h.opts.CommunityName)
		if h.opts.CommunityLink != "" {
			community = "[" + community + "](" + h.opts.CommunityLink + ")"
		}
		b.WriteString("Questo è il bot ufficiale del gruppo " + community + ", qui avrai accesso " +
			"a tutte le statistiche dei feedback che hai fatto e ricevuto\\.\n\n")
	}
	b.WriteString(sentInfo + "\n" + recvInfo)
	welcome := b.String()

	trend, err := h.statsUC.Trend(ctx, msg.From.ID, h.opts.TrendDays)
	if err != nil {
		h.replyMD(msg.Chat.ID, welcome, nil)
		return
	}
	png, err := h.charts.MemberTrend(trend)
	switch {
	case errors.Is(err, chart.ErrNotEnoughData):
		h.replyMD(msg.Chat.ID, welcome, nil)
		return
	case err != nil:
		h.log.Error().Err(err).Msg("не удалось построить график")
		h.replyMD(msg.Chat.ID, welcome+"\nErrore nella generazione del grafico\\.", nil)
		return
	}
	if _, err := h.sendPhoto(msg.Chat.ID, tgbotapi.FileBytes{Name: "andamento.png", Bytes: png}, welcome, nil); err != nil {
		h.replyMD(msg.Chat.ID, welcome, nil)
	}
}

// handleInfo карточка участника по id, имени или автору команды.
func (h *Handler) handleInfo(ctx context.Context, msg *tgbotapi.Message, args []string) {
	h.refresh(ctx)
	identifier := strconv.FormatInt(msg.From.ID, 10)
	if len(args) > 0 {
		identifier = args[0]
	}
	m, err := h.ledgerUC.FindMember(ctx, h.opts.Chats.Exchange, identifier)
	if err != nil {
		h.replyPlain(msg.Chat.ID, "Utente non trovato nel database.")
		return
	}
	h.replyMD(msg.Chat.ID, infoText(m), infoKeyboard(m.ID))
}

func infoText(m domain.Member) string {
	verified, limited := "❌", "🔔"
	if m.Verified {
		verified = "✅"
	}
	if m.Limited {
		limited = "🔕"
	}
	return "_ℹ️ Informazioni relative all'utente_\n\n" +
		"*🔢 ID\\:* `" + strconv.FormatInt(m.ID, 10) + "`\n" +
		"*🌐 Username\\:* " + telegram.Mention(m.Name()) + "\n" +
		"*📥 Feedback ricevuti\\:* " + strconv.Itoa(m.ReceivedCount) + "\n" +
		"*📤 Feedback inviati\\:* " + strconv.Itoa(m.SentCount) + "\n" +
		"*🛃 Verificato\\:* " + verified + "\n" +
		"*🔍 Limitato\\:* " + limited
}

func infoKeyboard(memberID int64) *tgbotapi.InlineKeyboardMarkup {
	k := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("➕ Maggiori info", menuData(memberID)),
	))
	return &k
}

// cardsText разбивка карт участника по классам оценки.
func cardsText(m domain.Member) string {
	lines := []string{"_⏫ Carte donate da " + telegram.Mention(m.Name()) + "\\:_"}
	for class, n := range m.ReceivedByRating {
		lines = append(lines, ratingRowLabel(class)+"\\: "+strconv.Itoa(n))
	}
	lines = append(lines, "", "_⏬ Carte ricevute da "+telegram.Mention(m.Name())+"\\:_")
	for class, n := range m.SentByRating {
		lines = append(lines, ratingRowLabel(class)+"\\: "+strconv.Itoa(n))
	}
	return strings.Join(lines, "\n")
}

func ratingRowLabel(class int) string {
	if class == domain.GenericRating {
		return "Generico"
	}
	return strconv.Itoa(class) + "🌟"
}

func (h *Handler) onMenu(ctx context.Context, q *tgbotapi.CallbackQuery, memberID int64) (string, bool) {
	if q.Message == nil {
		return "", false
	}
	m, err := h.ledgerUC.Get(ctx, h.opts.Chats.Exchange, memberID)
	if err != nil {
		h.editText(q.Message.Chat.ID, q.Message.MessageID, "Utente non più disponibile\\.", nil)
		return "", false
	}
	back := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🔙 Indietro", backData(memberID)),
	))
	h.editText(q.Message.Chat.ID, q.Message.MessageID, cardsText(m), &back)
	return "", false
}

func (h *Handler) onBack(ctx context.Context, q *tgbotapi.CallbackQuery, memberID int64) (string, bool) {
	if q.Message == nil {
		return "", false
	}
	m, err := h.ledgerUC.Get(ctx, h.opts.Chats.Exchange, memberID)
	if err != nil {
		h.editText(q.Message.Chat.ID, q.Message.MessageID, "Utente non più disponibile\\.", nil)
		return "", false
	}
	h.editText(q.Message.Chat.ID, q.Message.MessageID, infoText(m), infoKeyboard(memberID))
	return "", false
}

type adjustKind int

const (
	adjustAddSent adjustKind = iota
	adjustAddReceived
	adjustRemoveSent
	adjustRemoveReceived
)

func (k adjustKind) usage() string {
	return [...]string{"addinv", "addfeed", "reminv", "remfeed"}[k]
}

func (k adjustKind) sent() bool { return k == adjustAddSent || k == adjustRemoveSent }

func (k adjustKind) apply(ctx context.Context, svc *ledger.Service, groupID, memberID int64, amount, class int) (ledger.Outcome, error) {
	switch k {
	case adjustAddSent:
		return svc.CreditSent(ctx, groupID, memberID, amount, class)
	case adjustAddReceived:
		return svc.CreditReceived(ctx, groupID, memberID, amount, class)
	case adjustRemoveSent:
		return svc.DebitSent(ctx, groupID, memberID, amount, class)
	default:
		return svc.DebitReceived(ctx, groupID, memberID, amount, class)
	}
}

// maxAdjustAmount предел одной ручной корректировки.
const maxAdjustAmount = 10000

// parseAdjustArgs разбирает [id|@name] [numero=1] [stelle=0].
func parseAdjustArgs(args []string) (identifier string, amount, class int, problem string) {
	amount = 1
	identifier = args[0]
	if len(args) >= 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return "", 0, 0, "Il numero deve essere un intero."
		}
		if n > maxAdjustAmount {
			return "", 0, 0, "Il numero non può superare " + strconv.Itoa(maxAdjustAmount) + "."
		}
		amount = n
	}
	if len(args) >= 3 {
		n, err := strconv.Atoi(args[2])
		if err != nil {
			return "", 0, 0, "Il numero di stelle deve essere un intero."
		}
		if !domain.ValidRating(n) {
			return "", 0, 0, "Il numero di stelle deve essere compreso tra 0 e 5."
		}
		class = n
	}
	return identifier, amount, class, ""
}

// resolveOrCreate ищет участника; неизвестный числовой id получает новый профиль.
func (h *Handler) resolveOrCreate(ctx context.Context, chatID int64, identifier string) (domain.Member, bool) {
	m, err := h.ledgerUC.FindMember(ctx, h.opts.Chats.Exchange, identifier)
	if err == nil {
		return m, true
	}
	if !errors.Is(err, domain.ErrNotFound) {
		h.replyMD(chatID, h.userError(err), nil)
		return domain.Member{}, false
	}
	id, numeric := ledger.ParseID(identifier)
	if !numeric {
		h.replyPlain(chatID, "Utente non trovato. Per creare un nuovo utente, usa il suo ID numerico.")
		return domain.Member{}, false
	}
	h.replyPlain(chatID, fmt.Sprintf("Utente con ID %d non trovato. Verrà creato un nuovo profilo.", id))
	out, err := h.ledgerUC.Ensure(ctx, h.opts.Chats.Exchange, id)
	if err != nil {
		h.replyMD(chatID, h.userError(err), nil)
		return domain.Member{}, false
	}
	return out.Member, true
}

func (h *Handler) adjustCommand(kind adjustKind) commandFunc {
	return func(ctx context.Context, msg *tgbotapi.Message, args []string) {
		if len(args) < 1 {
			h.replyMD(msg.Chat.ID, "*🆘 Comando errato\\!*\n\nUsa: /"+kind.usage()+" @username\\|id \\[numero\\] \\[stelle\\]", nil)
			return
		}
		identifier, amount, class, problem := parseAdjustArgs(args)
		if problem != "" {
			h.replyPlain(msg.Chat.ID, problem)
			return
		}
		h.refresh(ctx)
		m, ok := h.resolveOrCreate(ctx, msg.Chat.ID, identifier)
		if !ok {
			return
		}
		out, err := kind.apply(ctx, h.ledgerUC, h.opts.Chats.Exchange, m.ID, amount, class)
		if err != nil {
			h.replyMD(msg.Chat.ID, h.userError(err), nil)
			return
		}
		h.log.Info().Int64("admin", msg.From.ID).Int64("member", m.ID).Str("command", kind.usage()).
			Int("amount", out.Applied).Int("class", class).Msg("ручная корректировка журнала")
		h.replyMD(msg.Chat.ID, adjustReply(kind, out.Member, out.Applied, class), nil)
		h.notify(out.Events)
	}
}

func adjustReply(kind adjustKind, m domain.Member, applied, class int) string {
	var b strings.Builder
	if kind.sent() {
		b.WriteString("_✅ Feedback inviati aggiornati, " + telegram.Mention(m.Name()) + " è ora a " + strconv.Itoa(m.SentCount) + "_")
	} else {
		b.WriteString("_✅ Feedback ricevuti aggiornati, " + telegram.Mention(m.Name()) + " è ora a " + strconv.Itoa(m.ReceivedCount) + "_")
	}
	one := applied == 1
	verb := pick(one, "Aggiunta", "Aggiunte")
	if kind == adjustRemoveSent || kind == adjustRemoveReceived {
		verb = pick(one, "Rimossa", "Rimosse")
	}
	noun := pick(one, "carta", "carte")
	adj := pick(one, "donata", "donate")
	if kind.sent() {
		adj = pick(one, "ricevuta", "ricevute")
	}
	b.WriteString("\n\n_" + verb + " " + strconv.Itoa(applied) + " " + noun + " " + adj)
	if class != domain.GenericRating {
		b.WriteString(" da " + strconv.Itoa(class) + "🌟")
	}
	b.WriteString("\\._")
	return b.String()
}

func pick(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}

type flagKind int

const (
	flagVerify flagKind = iota
	flagUnverify
	flagLimit
	flagUnlimit
)

type flagTexts struct {
	usage, notFound, done, already string
}

var flagReplies = map[flagKind]flagTexts{
	flagVerify: {
		usage:    "*🆘 Comando errato\\!*\n\nUsa: /verifica @username o id",
		notFound: "Utente non trovato per la verifica.",
		done:     "_✅ L'utente %s è stato verificato\\!_",
		already:  "_L'utente %s risulta già verificato\\._",
	},
	flagUnverify: {
		usage:    "*🆘 Comando errato\\!*\n\nUsa: /sverifica @username o id",
		notFound: "Utente non trovato per la rimozione della verifica.",
		done:     "_✅ L'utente %s non risulta più verificato\\._",
		already:  "_L'utente %s non risulta verificato\\._",
	},
	flagLimit: {
		usage:    "*🆘 Comando errato\\!*\n\nUsa: /limita @username o id",
		notFound: "Utente non trovato per la limitazione.",
		done:     "_✅ L'utente %s è stato limitato_",
		already:  "_L'utente %s risulta già limitato\\._",
	},
	flagUnlimit: {
		usage:    "*🆘 Comando errato\\!*\n\nUsa: /unlimita @username o id",
		notFound: "Utente non trovato.",
		done:     "_✅ L'utente %s è stato rimosso dai limitati_",
		already:  "_L'utente %s non risulta limitato\\._",
	},
}

func (h *Handler) flagCommand(kind flagKind) commandFunc {
	texts := flagReplies[kind]
	return func(ctx context.Context, msg *tgbotapi.Message, args []string) {
		if len(args) < 1 {
			h.replyMD(msg.Chat.ID, texts.usage, nil)
			return
		}
		h.refresh(ctx)
		m, err := h.ledgerUC.FindMember(ctx, h.opts.Chats.Exchange, args[0])
		if err != nil {
			h.replyPlain(msg.Chat.ID, texts.notFound)
			return
		}
		var out ledger.Outcome
		switch kind {
		case flagVerify, flagUnverify:
			out, err = h.ledgerUC.SetVerified(ctx, h.opts.Chats.Exchange, m.ID, kind == flagVerify)
		default:
			out, err = h.ledgerUC.SetLimited(ctx, h.opts.Chats.Exchange, m.ID, kind == flagLimit)
		}
		if err != nil {
			h.replyMD(msg.Chat.ID, h.userError(err), nil)
			return
		}
		reply := texts.already
		if out.Changed {
			reply = texts.done
			h.log.Info().Int64("admin", msg.From.ID).Int64("member", m.ID).Int("flag", int(kind)).Msg("флаг участника изменён")
		}
		h.replyMD(msg.Chat.ID, fmt.Sprintf(reply, telegram.Mention(out.Member.Name())), nil)
		h.notify(out.Events)
	}
}

// adminTarget ищет участника для admin/remadmin; числовой id допускается без профиля.
func (h *Handler) adminTarget(ctx context.Context, msg *tgbotapi.Message, args []string, usage string) (int64, string, bool) {
	if len(args) < 1 {
		h.replyMD(msg.Chat.ID, usage, nil)
		return 0, "", false
	}
	h.refresh(ctx)
	m, err := h.ledgerUC.FindMember(ctx, h.opts.Chats.Exchange, args[0])
	if err == nil {
		return m.ID, m.Name(), true
	}
	if id, ok := ledger.ParseID(args[0]); ok {
		return id, domain.PlaceholderName(id), true
	}
	h.replyMD(msg.Chat.ID, "_Utente "+telegram.Mention(args[0])+" non trovato nel database del gruppo\\._", nil)
	return 0, "", false
}

func (h *Handler) handleGrant(ctx context.Context, msg *tgbotapi.Message, args []string) {
	id, name, ok := h.adminTarget(ctx, msg, args, "*🆘 Comando errato\\!*\n\nUsa: /admin @username o id")
	if !ok {
		return
	}
	changed, err := h.accessUC.Grant(ctx, id)
	switch {
	case err != nil:
		h.replyMD(msg.Chat.ID, h.userError(err), nil)
	case !changed:
		h.replyMD(msg.Chat.ID, "_Questo utente è già autorizzato\\._", nil)
	default:
		h.replyMD(msg.Chat.ID, "_👮‍♂️ Utente "+telegram.Mention(name)+" aggiunto tra gli admin del bot\\._", nil)
	}
}

func (h *Handler) handleRevoke(ctx context.Context, msg *tgbotapi.Message, args []string) {
	id, name, ok := h.adminTarget(ctx, msg, args, "*🆘 Comando errato\\!*\n\nUsa: /remadmin @username o id")
	if !ok {
		return
	}
	changed, err := h.accessUC.Revoke(ctx, id)
	switch {
	case err != nil:
		h.replyMD(msg.Chat.ID, h.userError(err), nil)
	case !changed:
		h.replyMD(msg.Chat.ID, "_Questo utente non risulta nella lista degli autorizzati\\._", nil)
	default:
		h.replyMD(msg.Chat.ID, "_✈️ Utente "+telegram.Mention(name)+" rimosso dagli admin del bot\\._", nil)
	}
}

// handleGroupStats график активности группы и лидеры.
func (h *Handler) handleGroupStats(ctx context.Context, msg *tgbotapi.Message, _ []string) {
	const days = 30
	trend, err := h.statsUC.GroupTrend(ctx, days)
	if err != nil {
		h.replyMD(msg.Chat.ID, h.userError(err), nil)
		return
	}
	leaders, err := h.statsUC.Leaders(ctx)
	if err != nil {
		h.replyMD(msg.Chat.ID, h.userError(err), nil)
		return
	}
	png, err := h.charts.GroupTotals(trend)
	if errors.Is(err, chart.ErrNotEnoughData) && !leaders.HasSender {
		h.replyPlain(msg.Chat.ID, "Non ci sono dati storici disponibili.")
		return
	}

	caption := "*📊 Statistiche totali gruppo*\n" +
		"🔁 Scambi totali: *" + strconv.Itoa(leaders.TotalExchange) + "*\n"
	if leaders.HasSender {
		caption += "🎁 Top sender: *" + telegram.Mention(statsName(leaders.TopSender)) + "* con " + strconv.Itoa(leaders.TopSender.SentTotal) + " feedback\n"
	}
	if leaders.HasReceiver {
		caption += "🏆 Top receiver: *" + telegram.Mention(statsName(leaders.TopReceiver)) + "* con " + strconv.Itoa(leaders.TopReceiver.ReceivedTotal) + " feedback"
	}
	if err != nil {
		if !errors.Is(err, chart.ErrNotEnoughData) {
			h.log.Error().Err(err).Msg("не удалось построить график группы")
		}
		h.replyMD(msg.Chat.ID, caption, nil)
		return
	}
	if _, err := h.sendPhoto(msg.Chat.ID, tgbotapi.FileBytes{Name: "statistiche.png", Bytes: png}, caption, nil); err != nil {
		h.replyMD(msg.Chat.ID, caption, nil)
	}
}

func statsName(st domain.MemberStats) string {
	if st.DisplayName != "" {
		return st.DisplayName
	}
	return domain.PlaceholderName(st.MemberID)
}
