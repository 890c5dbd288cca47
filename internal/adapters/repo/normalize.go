package repo

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"tg-feedback-bot/internal/domain"
)

// Документы хранятся в формате, совместимом с прежними выгрузками:
// cards_ricevute исторически считает отправленные карты, а cards_donate полученные.
type memberDoc struct {
	ID               int64           `json:"id"`
	Username         string          `json:"username"`
	Sent             int             `json:"feedback_fatti"`
	Received         int             `json:"feedback_ricevuti"`
	Verified         bool            `json:"verified"`
	Limited          bool            `json:"limited"`
	SentByRating     json.RawMessage `json:"cards_ricevute,omitempty"`
	ReceivedByRating json.RawMessage `json:"cards_donate,omitempty"`
}

type lastDoc struct {
	Timestamp      string `json:"timestamp"`
	TargetUsername string `json:"target_username,omitempty"`
	SenderUsername string `json:"sender_username,omitempty"`
}

type directionDoc struct {
	Count      int      `json:"count"`
	Total      int      `json:"total"`
	DailyCount int      `json:"daily_count"`
	DailyDate  *string  `json:"daily_date"`
	Last       *lastDoc `json:"last"`
}

type historyDoc struct {
	Sent     int `json:"feedback_fatti"`
	Received int `json:"feedback_ricevuti"`
}

type statsDoc struct {
	Username string                `json:"username"`
	Sent     directionDoc          `json:"feedback_fatti"`
	Received directionDoc          `json:"feedback_ricevuti"`
	History  map[string]historyDoc `json:"history"`
}

type pendingDoc struct {
	PhotoID         string `json:"photo_id"`
	Text            string `json:"feedback_text"`
	TargetID        int64  `json:"target_user_id"`
	TargetName      string `json:"target_username"`
	SenderID        int64  `json:"user_id"`
	SenderName      string `json:"sender_username"`
	OriginChatID    int64  `json:"origin_chat_id"`
	ReviewMessageID int    `json:"feedback_group_message_id,omitempty"`
	ReviewChatID    int64  `json:"review_chat_id,omitempty"`
	PromptChatID    int64  `json:"prompt_chat_id,omitempty"`
	PromptMessageID int    `json:"prompt_message_id,omitempty"`
	AwaitingRating  bool   `json:"awaiting_rating,omitempty"`
	State           string `json:"state,omitempty"`
	CreatedAt       string `json:"created_at,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

type adminsDoc struct {
	AdminIDs []int64 `json:"admin_ids"`
}

var legacyTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTimestamp(raw string) time.Time {
	for _, layout := range legacyTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

// decodeRatings понимает и список, и словарь с ключами "0".."5".
func decodeRatings(raw json.RawMessage) (domain.Ratings, error) {
	var out domain.Ratings
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return out, nil
	}
	switch trimmed[0] {
	case '[':
		var list []int
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return out, fmt.Errorf("ratings list: %w", err)
		}
		for i, v := range list {
			if i >= domain.RatingClasses {
				break
			}
			out[i] = v
		}
	case '{':
		var m map[string]int
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return out, fmt.Errorf("ratings map: %w", err)
		}
		for k, v := range m {
			idx, err := strconv.Atoi(k)
			if err != nil || !domain.ValidRating(idx) {
				continue
			}
			out[idx] = v
		}
	default:
		return out, fmt.Errorf("ratings: неожиданный формат %q", string(trimmed))
	}
	return out, nil
}

// repairRatings приводит распределение к сумме total. Отрицательные значения
// обнуляются, недостача попадает в класс 0, излишек снимается начиная с класса 0.
func repairRatings(r domain.Ratings, total int) domain.Ratings {
	for i := range r {
		if r[i] < 0 {
			r[i] = 0
		}
	}
	diff := total - r.Sum()
	if diff > 0 {
		r[domain.GenericRating] += diff
		return r
	}
	for i := 0; diff < 0 && i < domain.RatingClasses; i++ {
		take := min(r[i], -diff)
		r[i] -= take
		diff += take
	}
	return r
}

func decodeMember(key string, body json.RawMessage) (domain.Member, error) {
	var doc memberDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return domain.Member{}, fmt.Errorf("member %s: %w", key, err)
	}
	if doc.ID == 0 {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return domain.Member{}, fmt.Errorf("member %s: нет id", key)
		}
		doc.ID = id
	}
	sent, err := decodeRatings(doc.SentByRating)
	if err != nil {
		return domain.Member{}, fmt.Errorf("member %d: %w", doc.ID, err)
	}
	received, err := decodeRatings(doc.ReceivedByRating)
	if err != nil {
		return domain.Member{}, fmt.Errorf("member %d: %w", doc.ID, err)
	}
	m := domain.Member{
		ID:            doc.ID,
		DisplayName:   doc.Username,
		SentCount:     max(doc.Sent, 0),
		ReceivedCount: max(doc.Received, 0),
		Verified:      doc.Verified,
		Limited:       doc.Limited,
	}
	m.SentByRating = repairRatings(sent, m.SentCount)
	m.ReceivedByRating = repairRatings(received, m.ReceivedCount)
	return m, nil
}

// decodeGroup разбирает документ группы: словарь id → участник.
func decodeGroup(body []byte) (domain.GroupLedger, []error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, []error{fmt.Errorf("group: %w", err)}
	}
	ledger := make(domain.GroupLedger, len(raw))
	var errs []error
	for key, memberBody := range raw {
		m, err := decodeMember(key, memberBody)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ledger[m.ID] = m
	}
	return ledger, errs
}

func encodeGroup(ledger domain.GroupLedger) ([]byte, error) {
	out := make(map[string]memberDoc, len(ledger))
	for id, m := range ledger {
		sent, err := json.Marshal(m.SentByRating)
		if err != nil {
			return nil, err
		}
		received, err := json.Marshal(m.ReceivedByRating)
		if err != nil {
			return nil, err
		}
		out[strconv.FormatInt(id, 10)] = memberDoc{
			ID:               m.ID,
			Username:         m.DisplayName,
			Sent:             m.SentCount,
			Received:         m.ReceivedCount,
			Verified:         m.Verified,
			Limited:          m.Limited,
			SentByRating:     sent,
			ReceivedByRating: received,
		}
	}
	return json.Marshal(out)
}

func decodeStats(key string, body []byte) (domain.MemberStats, error) {
	var doc statsDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return domain.MemberStats{}, fmt.Errorf("stats %s: %w", key, err)
	}
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return domain.MemberStats{}, fmt.Errorf("stats %s: некорректный id", key)
	}
	st := domain.MemberStats{
		MemberID:      id,
		DisplayName:   doc.Username,
		SentTotal:     max(doc.Sent.Total, doc.Sent.Count, 0),
		ReceivedTotal: max(doc.Received.Total, doc.Received.Count, 0),
		History:       make(map[string]domain.DayTotals, len(doc.History)),
	}
	if doc.Sent.DailyDate != nil {
		st.DailySent = domain.DailyCounter{Date: *doc.Sent.DailyDate, Count: max(doc.Sent.DailyCount, 0)}
	}
	if doc.Received.DailyDate != nil {
		st.DailyReceived = domain.DailyCounter{Date: *doc.Received.DailyDate, Count: max(doc.Received.DailyCount, 0)}
	}
	if doc.Sent.Last != nil {
		st.LastSent = domain.LastExchange{At: parseTimestamp(doc.Sent.Last.Timestamp), Counterpart: doc.Sent.Last.TargetUsername}
	}
	if doc.Received.Last != nil {
		st.LastReceived = domain.LastExchange{At: parseTimestamp(doc.Received.Last.Timestamp), Counterpart: doc.Received.Last.SenderUsername}
	}
	for date, h := range doc.History {
		if _, err := time.Parse(domain.DateLayout, date); err != nil {
			continue
		}
		st.History[date] = domain.DayTotals{Sent: max(h.Sent, 0), Received: max(h.Received, 0)}
	}
	return st, nil
}

func encodeStats(st domain.MemberStats) ([]byte, error) {
	doc := statsDoc{
		Username: st.DisplayName,
		Sent:     directionDoc{Count: st.SentTotal, Total: st.SentTotal, DailyCount: st.DailySent.Count},
		Received: directionDoc{Count: st.ReceivedTotal, Total: st.ReceivedTotal, DailyCount: st.DailyReceived.Count},
		History:  make(map[string]historyDoc, len(st.History)),
	}
	if st.DailySent.Date != "" {
		date := st.DailySent.Date
		doc.Sent.DailyDate = &date
	}
	if st.DailyReceived.Date != "" {
		date := st.DailyReceived.Date
		doc.Received.DailyDate = &date
	}
	if !st.LastSent.IsZero() {
		doc.Sent.Last = &lastDoc{Timestamp: formatTimestamp(st.LastSent.At), TargetUsername: st.LastSent.Counterpart}
	}
	if !st.LastReceived.IsZero() {
		doc.Received.Last = &lastDoc{Timestamp: formatTimestamp(st.LastReceived.At), SenderUsername: st.LastReceived.Counterpart}
	}
	for date, h := range st.History {
		doc.History[date] = historyDoc{Sent: h.Sent, Received: h.Received}
	}
	return json.Marshal(doc)
}

func decodePending(key string, body []byte) (domain.PendingFeedback, error) {
	var doc pendingDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return domain.PendingFeedback{}, fmt.Errorf("pending %s: %w", key, err)
	}
	req := domain.PendingFeedback{
		RequestID:     key,
		SenderID:      doc.SenderID,
		SenderName:    doc.SenderName,
		TargetID:      doc.TargetID,
		TargetName:    doc.TargetName,
		Note:          doc.Text,
		ImageRef:      doc.PhotoID,
		OriginGroupID: doc.OriginChatID,
		Prompt:        domain.MessageRef{ChatID: doc.PromptChatID, MessageID: doc.PromptMessageID},
		Review:        domain.MessageRef{ChatID: doc.ReviewChatID, MessageID: doc.ReviewMessageID},
		State:         domain.FeedbackState(doc.State),
		CreatedAt:     parseTimestamp(doc.CreatedAt),
		UpdatedAt:     parseTimestamp(doc.UpdatedAt),
	}
	switch req.State {
	case domain.FeedbackProposed, domain.FeedbackUnderReview, domain.FeedbackAwaitingRating:
	case "":
		switch {
		case doc.AwaitingRating:
			req.State = domain.FeedbackAwaitingRating
		case doc.ReviewMessageID != 0:
			req.State = domain.FeedbackUnderReview
		default:
			req.State = domain.FeedbackProposed
		}
	default:
		return domain.PendingFeedback{}, fmt.Errorf("pending %s: неизвестное состояние %q", key, doc.State)
	}
	if req.SenderID == 0 || req.TargetID == 0 {
		return domain.PendingFeedback{}, fmt.Errorf("pending %s: нет участников", key)
	}
	return req, nil
}

func encodePending(req domain.PendingFeedback) ([]byte, error) {
	return json.Marshal(pendingDoc{
		PhotoID:         req.ImageRef,
		Text:            req.Note,
		TargetID:        req.TargetID,
		TargetName:      req.TargetName,
		SenderID:        req.SenderID,
		SenderName:      req.SenderName,
		OriginChatID:    req.OriginGroupID,
		ReviewMessageID: req.Review.MessageID,
		ReviewChatID:    req.Review.ChatID,
		PromptChatID:    req.Prompt.ChatID,
		PromptMessageID: req.Prompt.MessageID,
		AwaitingRating:  req.AwaitingRating(),
		State:           string(req.State),
		CreatedAt:       formatTimestamp(req.CreatedAt),
		UpdatedAt:       formatTimestamp(req.UpdatedAt),
	})
}

// decodeAdmins понимает {"admin_ids":[...]} и голый список.
func decodeAdmins(body []byte) ([]int64, error) {
	trimmed := bytes.TrimSpace(body)
	var ids []int64
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &ids); err != nil {
			return nil, fmt.Errorf("admins: %w", err)
		}
	} else {
		var doc adminsDoc
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("admins: %w", err)
		}
		ids = doc.AdminIDs
	}
	return uniqueSorted(ids), nil
}

func encodeAdmins(ids []int64) ([]byte, error) {
	return json.Marshal(adminsDoc{AdminIDs: uniqueSorted(ids)})
}

func uniqueSorted(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
