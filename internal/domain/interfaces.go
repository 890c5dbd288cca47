package domain

import "context"

// Названия коллекций в хранилище документов.
const (
	CollectionGroupUsers = "group_users"
	CollectionStats      = "stats"
	CollectionPending    = "pending_feedback"
	CollectionAdmins     = "admin_ids"
)

// DocumentStore хранилище, умеющее только читать и заменять документ целиком.
type DocumentStore interface {
	Get(ctx context.Context, collection, key string) ([]byte, error)
	Put(ctx context.Context, collection, key string, body []byte) error
	Delete(ctx context.Context, collection, key string) error
	All(ctx context.Context, collection string) (map[string][]byte, error)
}

// LedgerRepo хранит журналы групп.
type LedgerRepo interface {
	LoadGroups(ctx context.Context) (map[int64]GroupLedger, error)
	LoadGroup(ctx context.Context, groupID int64) (GroupLedger, error)
	SaveGroup(ctx context.Context, groupID int64, ledger GroupLedger) error
}

// StatsRepo хранит статистику участников.
type StatsRepo interface {
	LoadStats(ctx context.Context, memberID int64) (MemberStats, error)
	SaveStats(ctx context.Context, stats MemberStats) error
	AllStats(ctx context.Context) ([]MemberStats, error)
}

// PendingRepo хранит заявки на отзыв.
type PendingRepo interface {
	LoadPending(ctx context.Context) ([]PendingFeedback, error)
	SavePending(ctx context.Context, req PendingFeedback) error
	DeletePending(ctx context.Context, requestID string) error
}

// AdminRepo хранит множество администраторов.
type AdminRepo interface {
	LoadAdmins(ctx context.Context) ([]int64, error)
	SaveAdmins(ctx context.Context, ids []int64) error
}
