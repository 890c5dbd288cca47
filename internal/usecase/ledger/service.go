package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"tg-feedback-bot/internal/domain"
	"tg-feedback-bot/internal/infra/keylock"
	"tg-feedback-bot/internal/infra/metrics"
)

// DefaultVerifyThreshold количество полученных карт для автоматической верификации.
const DefaultVerifyThreshold = 25

// EventKind тип события, требующего уведомления персонала.
type EventKind int

const (
	// EventVerified участник достиг порога и верифицирован.
	EventVerified EventKind = iota + 1
	// EventUnverified участник опустился ниже порога и потерял верификацию.
	EventUnverified
	// EventGapClosed ограниченный участник сравнял счёт.
	EventGapClosed
)

// Event событие после изменения журнала.
type Event struct {
	Kind   EventKind
	Member domain.Member
}

// Outcome результат изменения журнала.
type Outcome struct {
	Member  domain.Member
	Applied int
	Changed bool
	Created bool
	Events  []Event
}

// Service единственный владелец журналов групп. Изменения одной группы
// сериализуются, документ группы сохраняется до фиксации в памяти.
type Service struct {
	repo      domain.LedgerRepo
	log       zerolog.Logger
	threshold int
	locks     *keylock.Locker[int64]

	mu     sync.RWMutex
	groups map[int64]domain.GroupLedger
}

// NewService создаёт сервис журнала.
func NewService(repo domain.LedgerRepo, log zerolog.Logger, threshold int) *Service {
	if threshold <= 0 {
		threshold = DefaultVerifyThreshold
	}
	return &Service{
		repo:      repo,
		log:       log.With().Str("component", "ledger").Logger(),
		threshold: threshold,
		locks:     keylock.New[int64](),
		groups:    make(map[int64]domain.GroupLedger),
	}
}

// Threshold возвращает порог верификации.
func (s *Service) Threshold() int {
	return s.threshold
}

// Load загружает журналы всех групп.
func (s *Service) Load(ctx context.Context) error {
	groups, err := s.repo.LoadGroups(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	if groups == nil {
		groups = make(map[int64]domain.GroupLedger)
	}
	s.mu.Lock()
	s.groups = groups
	s.mu.Unlock()
	total := 0
	for _, g := range groups {
		total += len(g)
	}
	s.log.Info().Int("groups", len(groups)).Int("members", total).Msg("журнал загружен")
	return nil
}

// Refresh перечитывает журнал группы из хранилища.
func (s *Service) Refresh(ctx context.Context, groupID int64) error {
	unlock := s.locks.Lock(groupID)
	defer unlock()
	ledger, err := s.repo.LoadGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("refresh group %d: %w", groupID, err)
	}
	s.mu.Lock()
	s.groups[groupID] = ledger
	s.mu.Unlock()
	return nil
}

// snapshot возвращает текущий журнал. Опубликованные журналы не изменяются.
func (s *Service) snapshot(groupID int64) domain.GroupLedger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groups[groupID]
}

// Get возвращает участника по id.
func (s *Service) Get(_ context.Context, groupID, memberID int64) (domain.Member, error) {
	m, ok := s.snapshot(groupID)[memberID]
	if !ok {
		return domain.Member{}, fmt.Errorf("member %d: %w", memberID, domain.ErrNotFound)
	}
	return m, nil
}

// FindMember ищет участника по числовому id или имени без учёта регистра.
func (s *Service) FindMember(ctx context.Context, groupID int64, identifier string) (domain.Member, error) {
	identifier = strings.TrimSpace(identifier)
	if id, ok := ParseID(identifier); ok {
		return s.Get(ctx, groupID, id)
	}
	m, ok := s.snapshot(groupID).FindByName(identifier)
	if !ok {
		return domain.Member{}, fmt.Errorf("member %q: %w", identifier, domain.ErrNotFound)
	}
	return m, nil
}

// ParseID разбирает числовой идентификатор участника.
func ParseID(identifier string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(identifier), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// Track создаёт запись при первой активности и обновляет отображаемое имя.
func (s *Service) Track(ctx context.Context, groupID int64, p domain.Party) (Outcome, error) {
	return s.mutate(ctx, groupID, "track", func(l domain.GroupLedger) (Outcome, error) {
		m, ok := l[p.ID]
		if ok && (p.Name == "" || m.DisplayName == p.Name) {
			return Outcome{Member: m}, nil
		}
		created := !ok
		if created {
			m = domain.Member{ID: p.ID}
		}
		if p.Name != "" {
			m.DisplayName = p.Name
		}
		if m.DisplayName == "" {
			m.DisplayName = domain.PlaceholderName(p.ID)
		}
		l[p.ID] = m
		return Outcome{Member: m, Changed: true, Created: created}, nil
	})
}

// Ensure создаёт профиль utente_<id> для неизвестного числового id.
func (s *Service) Ensure(ctx context.Context, groupID, memberID int64) (Outcome, error) {
	return s.Track(ctx, groupID, domain.Party{ID: memberID})
}

// CreditSent добавляет отправленные карты участнику.
func (s *Service) CreditSent(ctx context.Context, groupID, memberID int64, amount, class int) (Outcome, error) {
	return s.adjust(ctx, groupID, memberID, amount, class, "credit_sent", func(m *domain.Member) (int, error) {
		return credit(&m.SentCount, &m.SentByRating, amount, class)
	})
}

// CreditReceived добавляет полученные карты участнику.
func (s *Service) CreditReceived(ctx context.Context, groupID, memberID int64, amount, class int) (Outcome, error) {
	return s.adjust(ctx, groupID, memberID, amount, class, "credit_received", func(m *domain.Member) (int, error) {
		return credit(&m.ReceivedCount, &m.ReceivedByRating, amount, class)
	})
}

// DebitSent снимает отправленные карты, не опускаясь ниже нуля.
func (s *Service) DebitSent(ctx context.Context, groupID, memberID int64, amount, class int) (Outcome, error) {
	return s.adjust(ctx, groupID, memberID, amount, class, "debit_sent", func(m *domain.Member) (int, error) {
		return debit(&m.SentCount, &m.SentByRating, amount, class), nil
	})
}

// DebitReceived снимает полученные карты, не опускаясь ниже нуля.
func (s *Service) DebitReceived(ctx context.Context, groupID, memberID int64, amount, class int) (Outcome, error) {
	return s.adjust(ctx, groupID, memberID, amount, class, "debit_received", func(m *domain.Member) (int, error) {
		return debit(&m.ReceivedCount, &m.ReceivedByRating, amount, class), nil
	})
}

// credit добавляет карты в итог и класс; переполнение счётчика отклоняется.
func credit(total *int, ratings *domain.Ratings, amount, class int) (int, error) {
	if *total > math.MaxInt-amount || ratings[class] > math.MaxInt-amount {
		return 0, fmt.Errorf("amount %d overflows total %d: %w", amount, *total, domain.ErrInvalidInput)
	}
	*total += amount
	ratings[class] += amount
	return amount, nil
}

// debit снимает карты сначала из указанного класса, остаток из остальных,
// чтобы сумма по классам совпадала с итогом.
func debit(total *int, ratings *domain.Ratings, amount, class int) int {
	applied := min(amount, *total)
	*total -= applied
	rest := applied
	take := min(ratings[class], rest)
	ratings[class] -= take
	rest -= take
	for i := 0; rest > 0 && i < domain.RatingClasses; i++ {
		take = min(ratings[i], rest)
		ratings[i] -= take
		rest -= take
	}
	return applied
}

func (s *Service) adjust(ctx context.Context, groupID, memberID int64, amount, class int, op string, apply func(*domain.Member) (int, error)) (Outcome, error) {
	if amount <= 0 {
		return Outcome{}, fmt.Errorf("amount %d: %w", amount, domain.ErrInvalidInput)
	}
	if !domain.ValidRating(class) {
		return Outcome{}, fmt.Errorf("rating %d: %w", class, domain.ErrInvalidInput)
	}
	return s.mutate(ctx, groupID, op, func(l domain.GroupLedger) (Outcome, error) {
		m, ok := l[memberID]
		if !ok {
			return Outcome{}, fmt.Errorf("member %d: %w", memberID, domain.ErrNotFound)
		}
		applied, err := apply(&m)
		if err != nil {
			return Outcome{}, err
		}
		l[memberID] = m
		return Outcome{Member: m, Applied: applied, Changed: applied > 0}, nil
	})
}

// SetVerified выставляет флаг верификации. Повторная установка ничего не меняет.
func (s *Service) SetVerified(ctx context.Context, groupID, memberID int64, verified bool) (Outcome, error) {
	return s.setFlag(ctx, groupID, memberID, "set_verified", func(m *domain.Member) bool {
		if m.Verified == verified {
			return false
		}
		m.Verified = verified
		return true
	})
}

// SetLimited выставляет флаг ограничения. Повторная установка ничего не меняет.
func (s *Service) SetLimited(ctx context.Context, groupID, memberID int64, limited bool) (Outcome, error) {
	return s.setFlag(ctx, groupID, memberID, "set_limited", func(m *domain.Member) bool {
		if m.Limited == limited {
			return false
		}
		m.Limited = limited
		return true
	})
}

func (s *Service) setFlag(ctx context.Context, groupID, memberID int64, op string, apply func(*domain.Member) bool) (Outcome, error) {
	return s.mutate(ctx, groupID, op, func(l domain.GroupLedger) (Outcome, error) {
		m, ok := l[memberID]
		if !ok {
			return Outcome{}, fmt.Errorf("member %d: %w", memberID, domain.ErrNotFound)
		}
		changed := apply(&m)
		l[memberID] = m
		return Outcome{Member: m, Changed: changed}, nil
	})
}

// ApplyExchange засчитывает принятый обмен: отправителю +1 отправленная,
// получателю +1 полученная. Карта учитывается в классе 0 до выставления оценки.
func (s *Service) ApplyExchange(ctx context.Context, groupID int64, sender, target domain.Party) (Outcome, error) {
	if sender.ID == target.ID {
		return Outcome{}, fmt.Errorf("self exchange: %w", domain.ErrInvalidInput)
	}
	return s.mutate(ctx, groupID, "apply_exchange", func(l domain.GroupLedger) (Outcome, error) {
		from := ensureMember(l, sender)
		to := ensureMember(l, target)
		from.SentCount++
		from.SentByRating[domain.GenericRating]++
		to.ReceivedCount++
		to.ReceivedByRating[domain.GenericRating]++
		l[from.ID] = from
		l[to.ID] = to
		return Outcome{Member: to, Applied: 1, Changed: true}, nil
	})
}

// ApplyRating переносит карту обмена из класса 0 в выбранный класс у обоих участников.
func (s *Service) ApplyRating(ctx context.Context, groupID, senderID, targetID int64, class int) (Outcome, error) {
	if !domain.ValidRating(class) {
		return Outcome{}, fmt.Errorf("rating %d: %w", class, domain.ErrInvalidInput)
	}
	return s.mutate(ctx, groupID, "apply_rating", func(l domain.GroupLedger) (Outcome, error) {
		from, okFrom := l[senderID]
		to, okTo := l[targetID]
		if !okFrom || !okTo {
			return Outcome{}, fmt.Errorf("exchange %d→%d: %w", senderID, targetID, domain.ErrNotFound)
		}
		if class == domain.GenericRating {
			return Outcome{Member: to}, nil
		}
		changed := false
		if from.SentByRating[domain.GenericRating] > 0 {
			from.SentByRating[domain.GenericRating]--
			from.SentByRating[class]++
			changed = true
		}
		if to.ReceivedByRating[domain.GenericRating] > 0 {
			to.ReceivedByRating[domain.GenericRating]--
			to.ReceivedByRating[class]++
			changed = true
		}
		l[from.ID] = from
		l[to.ID] = to
		return Outcome{Member: to, Changed: changed}, nil
	})
}

func ensureMember(l domain.GroupLedger, p domain.Party) domain.Member {
	m, ok := l[p.ID]
	if !ok {
		m = domain.Member{ID: p.ID, DisplayName: p.Name}
		if m.DisplayName == "" {
			m.DisplayName = domain.PlaceholderName(p.ID)
		}
	}
	return m
}

// mutate выполняет изменение под блокировкой группы: копия журнала,
// пересчёт флагов и событий, сохранение, затем фиксация в памяти.
func (s *Service) mutate(ctx context.Context, groupID int64, op string, fn func(domain.GroupLedger) (Outcome, error)) (Outcome, error) {
	unlock := s.locks.Lock(groupID)
	defer unlock()

	before := s.snapshot(groupID)
	next := before.Clone()
	out, err := fn(next)
	if err != nil {
		return Outcome{}, err
	}
	if !out.Changed {
		return out, nil
	}
	out.Events = s.settle(before, next)
	if m, ok := next[out.Member.ID]; ok {
		out.Member = m
	}
	err = s.repo.SaveGroup(ctx, groupID, next)
	metrics.ObserveLedgerMutation(op, err)
	if err != nil {
		s.log.Error().Err(err).Int64("group", groupID).Str("op", op).Msg("не удалось сохранить журнал, изменение отменено")
		if !errors.Is(err, domain.ErrPersistence) {
			err = fmt.Errorf("%w: %w", domain.ErrPersistence, err)
		}
		return Outcome{}, err
	}
	s.mu.Lock()
	s.groups[groupID] = next
	s.mu.Unlock()
	return out, nil
}

// settle применяет порог верификации к изменившимся участникам и собирает события.
func (s *Service) settle(before, next domain.GroupLedger) []Event {
	ids := make([]int64, 0, 2)
	for id, m := range next {
		if prev, ok := before[id]; !ok || prev != m {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var events []Event
	for _, id := range ids {
		prev := before[id]
		m := next[id]
		switch {
		case prev.ReceivedCount < s.threshold && m.ReceivedCount >= s.threshold && !m.Verified:
			m.Verified = true
			events = append(events, Event{Kind: EventVerified, Member: m})
		case prev.ReceivedCount >= s.threshold && m.ReceivedCount < s.threshold && m.Verified:
			m.Verified = false
			events = append(events, Event{Kind: EventUnverified, Member: m})
		}
		countsChanged := prev.SentCount != m.SentCount || prev.ReceivedCount != m.ReceivedCount
		if countsChanged && m.Limited && m.Gap() >= 0 {
			events = append(events, Event{Kind: EventGapClosed, Member: m})
		}
		next[id] = m
	}
	return events
}

// Verified возвращает верифицированных участников по возрастанию полученных, затем по имени.
func (s *Service) Verified(_ context.Context, groupID int64) []domain.Member {
	out := s.filter(groupID, func(m domain.Member) bool { return m.Verified })
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReceivedCount != out[j].ReceivedCount {
			return out[i].ReceivedCount < out[j].ReceivedCount
		}
		return lessName(out[i], out[j])
	})
	return out
}

// Limited возвращает ограниченных участников по возрастанию разницы, затем по имени.
func (s *Service) Limited(_ context.Context, groupID int64) []domain.Member {
	out := s.filter(groupID, func(m domain.Member) bool { return m.Limited })
	sort.Slice(out, func(i, j int) bool {
		if out[i].Gap() != out[j].Gap() {
			return out[i].Gap() < out[j].Gap()
		}
		return lessName(out[i], out[j])
	})
	return out
}

// RankedByReceived рейтинг по полученным картам, без нулевых.
func (s *Service) RankedByReceived(_ context.Context, groupID int64) []domain.Member {
	out := s.filter(groupID, func(m domain.Member) bool { return m.ReceivedCount > 0 })
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReceivedCount != out[j].ReceivedCount {
			return out[i].ReceivedCount > out[j].ReceivedCount
		}
		return lessName(out[i], out[j])
	})
	return out
}

// RankedBySent рейтинг по отправленным картам, без нулевых.
func (s *Service) RankedBySent(_ context.Context, groupID int64) []domain.Member {
	out := s.filter(groupID, func(m domain.Member) bool { return m.SentCount > 0 })
	sort.Slice(out, func(i, j int) bool {
		if out[i].SentCount != out[j].SentCount {
			return out[i].SentCount > out[j].SentCount
		}
		return lessName(out[i], out[j])
	})
	return out
}

// Names возвращает отображаемые имена участников группы по id.
func (s *Service) Names(groupID int64) map[int64]string {
	ledger := s.snapshot(groupID)
	out := make(map[int64]string, len(ledger))
	for id, m := range ledger {
		out[id] = m.Name()
	}
	return out
}

func (s *Service) filter(groupID int64, keep func(domain.Member) bool) []domain.Member {
	ledger := s.snapshot(groupID)
	out := make([]domain.Member, 0, len(ledger))
	for _, m := range ledger {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

func lessName(a, b domain.Member) bool {
	an, bn := strings.ToLower(a.Name()), strings.ToLower(b.Name())
	if an != bn {
		return an < bn
	}
	return a.ID < b.ID
}
