package stats

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"tg-feedback-bot/internal/domain"
	"tg-feedback-bot/internal/infra/keylock"
)

// DefaultTrendDays длина графика по умолчанию.
const DefaultTrendDays = 7

// Service ведёт статистику обменов независимо от журнала.
type Service struct {
	repo  domain.StatsRepo
	log   zerolog.Logger
	loc   *time.Location
	locks *keylock.Locker[int64]
	nowFn func() time.Time
}

// NewService создаёт сервис статистики. Дни считаются в зоне loc.
func NewService(repo domain.StatsRepo, log zerolog.Logger, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:  repo,
		log:   log.With().Str("component", "stats").Logger(),
		loc:   loc,
		locks: keylock.New[int64](),
		nowFn: time.Now,
	}
}

// Now текущее время в зоне сервиса.
func (s *Service) Now() time.Time {
	return s.nowFn().In(s.loc)
}

// RecordExchange учитывает принятый обмен у отправителя и получателя.
func (s *Service) RecordExchange(ctx context.Context, sender, target domain.Party, at time.Time) error {
	if at.IsZero() {
		at = s.nowFn()
	}
	at = at.In(s.loc)
	day := at.Format(domain.DateLayout)

	unlock := s.locks.LockMany(sender.ID, target.ID)
	defer unlock()

	from, err := s.load(ctx, sender.ID)
	if err != nil {
		return err
	}
	to, err := s.load(ctx, target.ID)
	if err != nil {
		return err
	}
	if sender.Name != "" {
		from.DisplayName = sender.Name
	}
	if target.Name != "" {
		to.DisplayName = target.Name
	}

	rollover(&from, day)
	from.SentTotal++
	from.DailySent.Count++
	from.LastSent = domain.LastExchange{At: at, Counterpart: target.Name}

	rollover(&to, day)
	to.ReceivedTotal++
	to.DailyReceived.Count++
	to.LastReceived = domain.LastExchange{At: at, Counterpart: sender.Name}

	if err := s.repo.SaveStats(ctx, from); err != nil {
		return fmt.Errorf("save sender stats: %w", err)
	}
	if err := s.repo.SaveStats(ctx, to); err != nil {
		s.log.Error().Err(err).Int64("sender", sender.ID).Int64("target", target.ID).Msg("статистика отправителя сохранена, получателя нет")
		return fmt.Errorf("save target stats: %w", err)
	}
	return nil
}

func (s *Service) load(ctx context.Context, memberID int64) (domain.MemberStats, error) {
	st, err := s.repo.LoadStats(ctx, memberID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.MemberStats{MemberID: memberID, History: map[string]domain.DayTotals{}}, nil
	}
	if err != nil {
		return domain.MemberStats{}, fmt.Errorf("load stats %d: %w", memberID, err)
	}
	if st.History == nil {
		st.History = map[string]domain.DayTotals{}
	}
	st.MemberID = memberID
	return st, nil
}

// rollover замораживает счётчики прошедшего дня в истории и начинает новый день.
// Уже записанные дни не перезаписываются.
func rollover(st *domain.MemberStats, day string) {
	if st.DailySent.Date != day {
		if st.DailySent.Date != "" && st.DailySent.Count > 0 {
			h := st.History[st.DailySent.Date]
			if h.Sent == 0 {
				h.Sent = st.DailySent.Count
			}
			st.History[st.DailySent.Date] = h
		}
		st.DailySent = domain.DailyCounter{Date: day}
	}
	if st.DailyReceived.Date != day {
		if st.DailyReceived.Date != "" && st.DailyReceived.Count > 0 {
			h := st.History[st.DailyReceived.Date]
			if h.Received == 0 {
				h.Received = st.DailyReceived.Count
			}
			st.History[st.DailyReceived.Date] = h
		}
		st.DailyReceived = domain.DailyCounter{Date: day}
	}
}

// Get возвращает статистику участника; для новых участников пустую.
func (s *Service) Get(ctx context.Context, memberID int64) (domain.MemberStats, error) {
	return s.load(ctx, memberID)
}

// days объединяет историю и незамороженные счётчики текущего дня.
func days(st domain.MemberStats) map[string]domain.DayTotals {
	out := make(map[string]domain.DayTotals, len(st.History)+1)
	for date, h := range st.History {
		out[date] = h
	}
	if st.DailySent.Date != "" && st.DailySent.Count > 0 {
		h := out[st.DailySent.Date]
		h.Sent = max(h.Sent, st.DailySent.Count)
		out[st.DailySent.Date] = h
	}
	if st.DailyReceived.Date != "" && st.DailyReceived.Count > 0 {
		h := out[st.DailyReceived.Date]
		h.Received = max(h.Received, st.DailyReceived.Count)
		out[st.DailyReceived.Date] = h
	}
	return out
}

// Trend возвращает последние n дней активности участника по возрастанию даты.
// Последовательность построена по снимку на момент вызова и может
// обходиться повторно.
func (s *Service) Trend(ctx context.Context, memberID int64, n int) (iter.Seq[domain.TrendPoint], error) {
	st, err := s.load(ctx, memberID)
	if err != nil {
		return nil, err
	}
	return s.series(days(st), n), nil
}

// GroupTrend суммирует отправленные карты всех участников по дням.
func (s *Service) GroupTrend(ctx context.Context, n int) (iter.Seq[domain.TrendPoint], error) {
	all, err := s.repo.AllStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("group trend: %w", err)
	}
	totals := make(map[string]domain.DayTotals)
	for _, st := range all {
		for date, h := range days(st) {
			t := totals[date]
			t.Sent += h.Sent
			t.Received += h.Received
			totals[date] = t
		}
	}
	return s.series(totals, n), nil
}

func (s *Service) series(byDate map[string]domain.DayTotals, n int) iter.Seq[domain.TrendPoint] {
	if n <= 0 {
		n = DefaultTrendDays
	}
	dates := make([]string, 0, len(byDate))
	for date := range byDate {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	if len(dates) > n {
		dates = dates[len(dates)-n:]
	}
	return func(yield func(domain.TrendPoint) bool) {
		for _, date := range dates {
			day, err := time.ParseInLocation(domain.DateLayout, date, s.loc)
			if err != nil {
				continue
			}
			h := byDate[date]
			if !yield(domain.TrendPoint{Date: day, Sent: h.Sent, Received: h.Received}) {
				return
			}
		}
	}
}

// Leaders находит участников с наибольшим числом отправленных и полученных карт.
func (s *Service) Leaders(ctx context.Context) (domain.Leaders, error) {
	all, err := s.repo.AllStats(ctx)
	if err != nil {
		return domain.Leaders{}, fmt.Errorf("leaders: %w", err)
	}
	var out domain.Leaders
	for _, st := range all {
		out.TotalExchange += st.SentTotal
		if st.SentTotal > 0 && (!out.HasSender || st.SentTotal > out.TopSender.SentTotal) {
			out.TopSender = st
			out.HasSender = true
		}
		if st.ReceivedTotal > 0 && (!out.HasReceiver || st.ReceivedTotal > out.TopReceiver.ReceivedTotal) {
			out.TopReceiver = st
			out.HasReceiver = true
		}
	}
	return out, nil
}
