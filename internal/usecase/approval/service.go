package approval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tg-feedback-bot/internal/domain"
	"tg-feedback-bot/internal/infra/keylock"
	"tg-feedback-bot/internal/infra/metrics"
	"tg-feedback-bot/internal/usecase/ledger"
)

// Ledger операции журнала, нужные модерации.
type Ledger interface {
	FindMember(ctx context.Context, groupID int64, identifier string) (domain.Member, error)
	ApplyExchange(ctx context.Context, groupID int64, sender, target domain.Party) (ledger.Outcome, error)
	ApplyRating(ctx context.Context, groupID, senderID, targetID int64, class int) (ledger.Outcome, error)
}

// Recorder учитывает принятый обмен в статистике.
type Recorder interface {
	RecordExchange(ctx context.Context, sender, target domain.Party, at time.Time) error
}

// SubmitInput данные новой заявки.
type SubmitInput struct {
	RequestID string
	Sender    domain.Party
	// Target числовой id или имя получателя.
	Target   string
	Note     string
	ImageRef string
	GroupID  int64
}

// AcceptResult результат принятия заявки.
type AcceptResult struct {
	Request domain.PendingFeedback
	Ledger  ledger.Outcome
}

// RateResult результат оценки.
type RateResult struct {
	Request domain.PendingFeedback
	Class   int
	Ledger  ledger.Outcome
}

// Service машина состояний заявок на отзыв. Переходы одной заявки
// сериализуются по её id.
type Service struct {
	repo   domain.PendingRepo
	ledger Ledger
	stats  Recorder
	log    zerolog.Logger
	locks  *keylock.Locker[string]
	nowFn  func() time.Time

	mu      sync.RWMutex
	pending map[string]domain.PendingFeedback
}

// NewService создаёт сервис модерации.
func NewService(repo domain.PendingRepo, ledger Ledger, stats Recorder, log zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		ledger:  ledger,
		stats:   stats,
		log:     log.With().Str("component", "approval").Logger(),
		locks:   keylock.New[string](),
		nowFn:   time.Now,
		pending: make(map[string]domain.PendingFeedback),
	}
}

// Load загружает незавершённые заявки.
func (s *Service) Load(ctx context.Context) error {
	list, err := s.repo.LoadPending(ctx)
	if err != nil {
		return fmt.Errorf("load pending: %w", err)
	}
	pending := make(map[string]domain.PendingFeedback, len(list))
	for _, req := range list {
		pending[req.RequestID] = req
	}
	s.mu.Lock()
	s.pending = pending
	s.mu.Unlock()
	s.log.Info().Int("pending", len(pending)).Msg("заявки загружены")
	return nil
}

func (s *Service) lookup(requestID string) (domain.PendingFeedback, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.pending[requestID]
	return req, ok
}

func (s *Service) commit(req domain.PendingFeedback) {
	s.mu.Lock()
	s.pending[req.RequestID] = req
	s.mu.Unlock()
}

func (s *Service) forget(requestID string) {
	s.mu.Lock()
	delete(s.pending, requestID)
	s.mu.Unlock()
}

// Get возвращает заявку по id.
func (s *Service) Get(_ context.Context, requestID string) (domain.PendingFeedback, error) {
	req, ok := s.lookup(requestID)
	if !ok {
		return domain.PendingFeedback{}, fmt.Errorf("request %s: %w", requestID, domain.ErrNotFound)
	}
	return req, nil
}

// Pending возвращает незавершённые заявки от старых к новым.
func (s *Service) Pending(_ context.Context) []domain.PendingFeedback {
	s.mu.RLock()
	out := make([]domain.PendingFeedback, 0, len(s.pending))
	for _, req := range s.pending {
		out = append(out, req)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].RequestID < out[j].RequestID
	})
	return out
}

// Submit регистрирует новую заявку в состоянии proposed.
// Повторная доставка того же сообщения возвращает существующую заявку.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (domain.PendingFeedback, error) {
	if in.RequestID == "" || strings.TrimSpace(in.Target) == "" {
		return domain.PendingFeedback{}, fmt.Errorf("submit: %w", domain.ErrInvalidInput)
	}
	unlock := s.locks.Lock(in.RequestID)
	defer unlock()

	if req, ok := s.lookup(in.RequestID); ok {
		return req, nil
	}
	target, err := s.ledger.FindMember(ctx, in.GroupID, in.Target)
	if err != nil {
		return domain.PendingFeedback{}, err
	}
	if target.ID == in.Sender.ID {
		return domain.PendingFeedback{}, fmt.Errorf("submit %s: %w", in.RequestID, domain.ErrSelfFeedback)
	}
	now := s.nowFn()
	req := domain.PendingFeedback{
		RequestID:     in.RequestID,
		SenderID:      in.Sender.ID,
		SenderName:    in.Sender.Name,
		TargetID:      target.ID,
		TargetName:    target.Name(),
		Note:          strings.TrimSpace(in.Note),
		ImageRef:      in.ImageRef,
		OriginGroupID: in.GroupID,
		State:         domain.FeedbackProposed,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.save(ctx, req, "submit"); err != nil {
		return domain.PendingFeedback{}, err
	}
	return req, nil
}

// AttachPrompt запоминает сообщение с кнопками подтверждения.
func (s *Service) AttachPrompt(ctx context.Context, requestID string, ref domain.MessageRef) error {
	return s.attach(ctx, requestID, domain.FeedbackProposed, func(req *domain.PendingFeedback) {
		req.Prompt = ref
	})
}

// AttachReview запоминает сообщение модерации.
func (s *Service) AttachReview(ctx context.Context, requestID string, ref domain.MessageRef) error {
	return s.attach(ctx, requestID, domain.FeedbackUnderReview, func(req *domain.PendingFeedback) {
		req.Review = ref
	})
}

func (s *Service) attach(ctx context.Context, requestID string, want domain.FeedbackState, set func(*domain.PendingFeedback)) error {
	unlock := s.locks.Lock(requestID)
	defer unlock()

	req, ok := s.lookup(requestID)
	if !ok || req.State != want {
		return fmt.Errorf("request %s: %w", requestID, domain.ErrStaleRequest)
	}
	set(&req)
	req.UpdatedAt = s.nowFn()
	return s.save(ctx, req, "")
}

// Confirm подтверждает заявку автором и отправляет её на модерацию.
func (s *Service) Confirm(ctx context.Context, requestID string, actorID int64) (domain.PendingFeedback, error) {
	return s.transition(ctx, requestID, actorID, "confirm", domain.FeedbackProposed, domain.FeedbackUnderReview)
}

// Reopen возвращает заявку автору, если её не удалось переслать модераторам.
func (s *Service) Reopen(ctx context.Context, requestID string) (domain.PendingFeedback, error) {
	unlock := s.locks.Lock(requestID)
	defer unlock()

	req, ok := s.lookup(requestID)
	if !ok || req.State != domain.FeedbackUnderReview || !req.Review.IsZero() {
		return domain.PendingFeedback{}, fmt.Errorf("request %s: %w", requestID, domain.ErrStaleRequest)
	}
	req.State = domain.FeedbackProposed
	req.UpdatedAt = s.nowFn()
	if err := s.save(ctx, req, "reopen"); err != nil {
		return domain.PendingFeedback{}, err
	}
	return req, nil
}

func (s *Service) transition(ctx context.Context, requestID string, actorID int64, name string, from, to domain.FeedbackState) (domain.PendingFeedback, error) {
	unlock := s.locks.Lock(requestID)
	defer unlock()

	req, err := s.ownRequest(requestID, actorID, from)
	if err != nil {
		return domain.PendingFeedback{}, err
	}
	req.State = to
	req.UpdatedAt = s.nowFn()
	if err := s.save(ctx, req, name); err != nil {
		return domain.PendingFeedback{}, err
	}
	return req, nil
}

// ownRequest проверяет, что заявка существует, принадлежит actorID и находится в состоянии want.
func (s *Service) ownRequest(requestID string, actorID int64, want domain.FeedbackState) (domain.PendingFeedback, error) {
	req, ok := s.lookup(requestID)
	if !ok {
		return domain.PendingFeedback{}, fmt.Errorf("request %s: %w", requestID, domain.ErrStaleRequest)
	}
	if req.SenderID != actorID {
		s.log.Warn().Bool("security", true).Str("request", requestID).Int64("actor", actorID).Msg("чужая заявка")
		return domain.PendingFeedback{}, fmt.Errorf("request %s: %w", requestID, domain.ErrUnauthorized)
	}
	if req.State != want {
		return domain.PendingFeedback{}, fmt.Errorf("request %s in %s: %w", requestID, req.State, domain.ErrStaleRequest)
	}
	return req, nil
}

// Cancel отзывает заявку автором до модерации.
func (s *Service) Cancel(ctx context.Context, requestID string, actorID int64) (domain.PendingFeedback, error) {
	unlock := s.locks.Lock(requestID)
	defer unlock()

	req, err := s.ownRequest(requestID, actorID, domain.FeedbackProposed)
	if err != nil {
		return domain.PendingFeedback{}, err
	}
	if err := s.repo.DeletePending(ctx, requestID); err != nil {
		return domain.PendingFeedback{}, fmt.Errorf("cancel %s: %w", requestID, err)
	}
	s.forget(requestID)
	metrics.IncTransition("cancel")
	req.State = domain.FeedbackCancelled
	return req, nil
}

// Accept принимает заявку: журнал и статистика учитывают обмен, заявка ждёт оценки.
func (s *Service) Accept(ctx context.Context, requestID string, actorID int64) (AcceptResult, error) {
	unlock := s.locks.Lock(requestID)
	defer unlock()

	req, ok := s.lookup(requestID)
	if !ok || req.State != domain.FeedbackUnderReview {
		return AcceptResult{}, fmt.Errorf("request %s: %w", requestID, domain.ErrStaleRequest)
	}
	sender := domain.Party{ID: req.SenderID, Name: req.SenderName}
	target := domain.Party{ID: req.TargetID, Name: req.TargetName}
	out, err := s.ledger.ApplyExchange(ctx, req.OriginGroupID, sender, target)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("accept %s: %w", requestID, err)
	}
	now := s.nowFn()
	if err := s.stats.RecordExchange(ctx, sender, target, now); err != nil {
		s.log.Error().Err(err).Str("request", requestID).Msg("не удалось обновить статистику")
	}

	req.State = domain.FeedbackAwaitingRating
	req.UpdatedAt = now
	if err := s.save(ctx, req, "accept"); err != nil {
		// Обмен уже учтён, повторное принятие недопустимо.
		s.commit(req)
		s.log.Error().Err(err).Str("request", requestID).Msg("заявка принята, но не сохранена")
	}
	s.log.Info().Str("request", requestID).Int64("reviewer", actorID).Msg("заявка принята")
	return AcceptResult{Request: req, Ledger: out}, nil
}

// Reject отклоняет заявку на модерации.
func (s *Service) Reject(ctx context.Context, requestID string, actorID int64) (domain.PendingFeedback, error) {
	unlock := s.locks.Lock(requestID)
	defer unlock()

	req, ok := s.lookup(requestID)
	if !ok || req.State != domain.FeedbackUnderReview {
		return domain.PendingFeedback{}, fmt.Errorf("request %s: %w", requestID, domain.ErrStaleRequest)
	}
	if err := s.repo.DeletePending(ctx, requestID); err != nil {
		return domain.PendingFeedback{}, fmt.Errorf("reject %s: %w", requestID, err)
	}
	s.forget(requestID)
	metrics.IncTransition("reject")
	s.log.Info().Str("request", requestID).Int64("reviewer", actorID).Msg("заявка отклонена")
	req.State = domain.FeedbackRejected
	return req, nil
}

// Rate распределяет принятый обмен в класс оценки и завершает заявку.
func (s *Service) Rate(ctx context.Context, requestID string, actorID int64, class int) (RateResult, error) {
	if !domain.ValidRating(class) {
		return RateResult{}, fmt.Errorf("rating %d: %w", class, domain.ErrInvalidInput)
	}
	unlock := s.locks.Lock(requestID)
	defer unlock()

	req, ok := s.lookup(requestID)
	if !ok || req.State != domain.FeedbackAwaitingRating {
		return RateResult{}, fmt.Errorf("request %s: %w", requestID, domain.ErrStaleRequest)
	}
	out, err := s.ledger.ApplyRating(ctx, req.OriginGroupID, req.SenderID, req.TargetID, class)
	if err != nil {
		return RateResult{}, fmt.Errorf("rate %s: %w", requestID, err)
	}
	s.forget(requestID)
	if err := s.repo.DeletePending(ctx, requestID); err != nil {
		s.log.Error().Err(err).Str("request", requestID).Msg("оценка учтена, но заявка не удалена из хранилища")
	}
	metrics.IncTransition("rate")
	s.log.Info().Str("request", requestID).Int64("reviewer", actorID).Int("stars", class).Msg("заявка оценена")
	req.State = domain.FeedbackCompleted
	return RateResult{Request: req, Class: class, Ledger: out}, nil
}

// save сохраняет заявку и только затем публикует её в памяти.
func (s *Service) save(ctx context.Context, req domain.PendingFeedback, transition string) error {
	if err := s.repo.SavePending(ctx, req); err != nil {
		return fmt.Errorf("save request %s: %w", req.RequestID, err)
	}
	s.commit(req)
	if transition != "" {
		metrics.IncTransition(transition)
	}
	return nil
}
