package access

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"tg-feedback-bot/internal/domain"
)

// Service проверяет права на закрытые команды.
type Service struct {
	repo    domain.AdminRepo
	log     zerolog.Logger
	ownerID int64

	mu     sync.RWMutex
	admins map[int64]struct{}
	// write сериализует Grant и Revoke.
	write sync.Mutex
}

// NewService создаёт проверку прав. ownerID авторизован всегда; 0 отключает владельца.
func NewService(repo domain.AdminRepo, log zerolog.Logger, ownerID int64) *Service {
	return &Service{
		repo:    repo,
		log:     log.With().Str("component", "access").Logger(),
		ownerID: ownerID,
		admins:  make(map[int64]struct{}),
	}
}

// Load читает множество администраторов из хранилища.
func (s *Service) Load(ctx context.Context) error {
	ids, err := s.repo.LoadAdmins(ctx)
	if err != nil {
		return fmt.Errorf("load admins: %w", err)
	}
	s.replace(ids)
	return nil
}

func (s *Service) replace(ids []int64) {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	s.mu.Lock()
	s.admins = set
	s.mu.Unlock()
}

// IsAuthorized перечитывает множество из хранилища и проверяет id.
// Если хранилище недоступно, используется последнее известное множество.
func (s *Service) IsAuthorized(ctx context.Context, memberID int64) bool {
	if s.ownerID != 0 && memberID == s.ownerID {
		return true
	}
	if err := s.Load(ctx); err != nil {
		s.log.Warn().Err(err).Msg("используем закешированный список администраторов")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.admins[memberID]
	return ok
}

// Grant добавляет администратора. changed=false, если id уже в списке.
func (s *Service) Grant(ctx context.Context, memberID int64) (bool, error) {
	return s.update(ctx, memberID, true)
}

// Revoke удаляет администратора. changed=false, если id не был в списке.
func (s *Service) Revoke(ctx context.Context, memberID int64) (bool, error) {
	return s.update(ctx, memberID, false)
}

func (s *Service) update(ctx context.Context, memberID int64, grant bool) (bool, error) {
	s.write.Lock()
	defer s.write.Unlock()

	if err := s.Load(ctx); err != nil {
		return false, err
	}
	s.mu.RLock()
	_, present := s.admins[memberID]
	s.mu.RUnlock()
	if present == grant {
		return false, nil
	}

	ids := s.List()
	if grant {
		ids = append(ids, memberID)
		slices.Sort(ids)
	} else {
		ids = slices.DeleteFunc(ids, func(id int64) bool { return id == memberID })
	}
	if err := s.repo.SaveAdmins(ctx, ids); err != nil {
		return false, fmt.Errorf("save admins: %w", err)
	}
	s.replace(ids)
	s.log.Info().Int64("member", memberID).Bool("grant", grant).Msg("список администраторов изменён")
	return true, nil
}

// List возвращает администраторов по возрастанию id.
func (s *Service) List() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, 0, len(s.admins))
	for id := range s.admins {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
