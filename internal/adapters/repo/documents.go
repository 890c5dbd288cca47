package repo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/rs/zerolog"

	"tg-feedback-bot/internal/domain"
)

const adminsKey = "set"

// Documents реализует репозитории домена поверх хранилища документов.
// Повреждённые записи пропускаются с предупреждением, ошибки хранилища
// оборачиваются в domain.ErrPersistence.
type Documents struct {
	store domain.DocumentStore
	log   zerolog.Logger
}

var (
	_ domain.LedgerRepo  = (*Documents)(nil)
	_ domain.StatsRepo   = (*Documents)(nil)
	_ domain.PendingRepo = (*Documents)(nil)
	_ domain.AdminRepo   = (*Documents)(nil)
)

// NewDocuments создаёт репозитории.
func NewDocuments(store domain.DocumentStore, log zerolog.Logger) *Documents {
	return &Documents{store: store, log: log.With().Str("component", "documents").Logger()}
}

func persistenceErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistence, err)
}

// LoadGroups читает журналы всех групп.
func (d *Documents) LoadGroups(ctx context.Context) (map[int64]domain.GroupLedger, error) {
	docs, err := d.store.All(ctx, domain.CollectionGroupUsers)
	if err != nil {
		return nil, persistenceErr("load groups", err)
	}
	out := make(map[int64]domain.GroupLedger, len(docs))
	for key, body := range docs {
		groupID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			d.log.Warn().Str("key", key).Msg("пропускаем группу с некорректным ключом")
			continue
		}
		out[groupID] = d.decodeGroupLogged(groupID, body)
	}
	return out, nil
}

// LoadGroup читает журнал одной группы. Отсутствие документа даёт пустой журнал.
func (d *Documents) LoadGroup(ctx context.Context, groupID int64) (domain.GroupLedger, error) {
	body, err := d.store.Get(ctx, domain.CollectionGroupUsers, strconv.FormatInt(groupID, 10))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.GroupLedger{}, nil
	}
	if err != nil {
		return nil, persistenceErr("load group", err)
	}
	return d.decodeGroupLogged(groupID, body), nil
}

func (d *Documents) decodeGroupLogged(groupID int64, body []byte) domain.GroupLedger {
	ledger, errs := decodeGroup(body)
	for _, err := range errs {
		d.log.Warn().Err(err).Int64("group", groupID).Msg("пропускаем повреждённую запись участника")
	}
	if ledger == nil {
		ledger = domain.GroupLedger{}
	}
	return ledger
}

// SaveGroup заменяет журнал группы целиком.
func (d *Documents) SaveGroup(ctx context.Context, groupID int64, ledger domain.GroupLedger) error {
	body, err := encodeGroup(ledger)
	if err != nil {
		return fmt.Errorf("encode group: %w", err)
	}
	if err := d.store.Put(ctx, domain.CollectionGroupUsers, strconv.FormatInt(groupID, 10), body); err != nil {
		return persistenceErr("save group", err)
	}
	return nil
}

// LoadStats читает статистику участника.
func (d *Documents) LoadStats(ctx context.Context, memberID int64) (domain.MemberStats, error) {
	key := strconv.FormatInt(memberID, 10)
	body, err := d.store.Get(ctx, domain.CollectionStats, key)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.MemberStats{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.MemberStats{}, persistenceErr("load stats", err)
	}
	st, err := decodeStats(key, body)
	if err != nil {
		d.log.Warn().Err(err).Int64("member", memberID).Msg("статистика повреждена, начинаем заново")
		return domain.MemberStats{}, domain.ErrNotFound
	}
	return st, nil
}

// SaveStats заменяет статистику участника.
func (d *Documents) SaveStats(ctx context.Context, st domain.MemberStats) error {
	body, err := encodeStats(st)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	if err := d.store.Put(ctx, domain.CollectionStats, strconv.FormatInt(st.MemberID, 10), body); err != nil {
		return persistenceErr("save stats", err)
	}
	return nil
}

// AllStats возвращает статистику всех участников, упорядоченную по id.
func (d *Documents) AllStats(ctx context.Context) ([]domain.MemberStats, error) {
	docs, err := d.store.All(ctx, domain.CollectionStats)
	if err != nil {
		return nil, persistenceErr("load stats", err)
	}
	out := make([]domain.MemberStats, 0, len(docs))
	for key, body := range docs {
		st, err := decodeStats(key, body)
		if err != nil {
			d.log.Warn().Err(err).Msg("пропускаем повреждённую статистику")
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out, nil
}

// LoadPending читает все незавершённые заявки.
func (d *Documents) LoadPending(ctx context.Context) ([]domain.PendingFeedback, error) {
	docs, err := d.store.All(ctx, domain.CollectionPending)
	if err != nil {
		return nil, persistenceErr("load pending", err)
	}
	out := make([]domain.PendingFeedback, 0, len(docs))
	for key, body := range docs {
		req, err := decodePending(key, body)
		if err != nil {
			d.log.Warn().Err(err).Msg("пропускаем повреждённую заявку")
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestID < out[j].RequestID })
	return out, nil
}

// SavePending заменяет заявку.
func (d *Documents) SavePending(ctx context.Context, req domain.PendingFeedback) error {
	body, err := encodePending(req)
	if err != nil {
		return fmt.Errorf("encode pending: %w", err)
	}
	if err := d.store.Put(ctx, domain.CollectionPending, req.RequestID, body); err != nil {
		return persistenceErr("save pending", err)
	}
	return nil
}

// DeletePending удаляет заявку.
func (d *Documents) DeletePending(ctx context.Context, requestID string) error {
	if err := d.store.Delete(ctx, domain.CollectionPending, requestID); err != nil {
		return persistenceErr("delete pending", err)
	}
	return nil
}

// LoadAdmins читает множество администраторов.
func (d *Documents) LoadAdmins(ctx context.Context) ([]int64, error) {
	body, err := d.store.Get(ctx, domain.CollectionAdmins, adminsKey)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, persistenceErr("load admins", err)
	}
	ids, err := decodeAdmins(body)
	if err != nil {
		d.log.Warn().Err(err).Msg("список администраторов повреждён")
		return nil, nil
	}
	return ids, nil
}

// SaveAdmins заменяет множество администраторов.
func (d *Documents) SaveAdmins(ctx context.Context, ids []int64) error {
	body, err := encodeAdmins(ids)
	if err != nil {
		return fmt.Errorf("encode admins: %w", err)
	}
	if err := d.store.Put(ctx, domain.CollectionAdmins, adminsKey, body); err != nil {
		return persistenceErr("save admins", err)
	}
	return nil
}
