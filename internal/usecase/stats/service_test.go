package stats

import (
	"context"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-feedback-bot/internal/domain"
)

type memRepo struct {
	mu   sync.Mutex
	data map[int64]domain.MemberStats
}

func newMemRepo() *memRepo {
	return &memRepo{data: make(map[int64]domain.MemberStats)}
}

func (r *memRepo) LoadStats(_ context.Context, id int64) (domain.MemberStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.data[id]
	if !ok {
		return domain.MemberStats{}, domain.ErrNotFound
	}
	history := make(map[string]domain.DayTotals, len(st.History))
	for k, v := range st.History {
		history[k] = v
	}
	st.History = history
	return st, nil
}

func (r *memRepo) SaveStats(_ context.Context, st domain.MemberStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[st.MemberID] = st
	return nil
}

func (r *memRepo) AllStats(context.Context) ([]domain.MemberStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.MemberStats, 0, len(r.data))
	for _, st := range r.data {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out, nil
}

func day(d int) time.Time {
	return time.Date(2024, time.March, d, 12, 0, 0, 0, time.UTC)
}

func newTestService() (*Service, *memRepo) {
	repo := newMemRepo()
	return NewService(repo, zerolog.New(io.Discard), time.UTC), repo
}

var (
	alice = domain.Party{ID: 1, Name: "alice"}
	bob   = domain.Party{ID: 2, Name: "bob"}
)

func TestRecordExchangeCountsBothSides(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.RecordExchange(ctx, alice, bob, day(1)))
	require.NoError(t, svc.RecordExchange(ctx, alice, bob, day(1)))

	a, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, a.SentTotal)
	assert.Equal(t, domain.DailyCounter{Date: "2024-03-01", Count: 2}, a.DailySent)
	assert.Equal(t, "bob", a.LastSent.Counterpart)

	b, err := svc.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, b.ReceivedTotal)
	assert.Equal(t, 0, b.SentTotal)
	assert.Equal(t, "alice", b.LastReceived.Counterpart)
}

func TestRolloverFreezesPreviousDay(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.RecordExchange(ctx, alice, bob, day(1)))
	require.NoError(t, svc.RecordExchange(ctx, alice, bob, day(1)))
	require.NoError(t, svc.RecordExchange(ctx, alice, bob, day(3)))

	a, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, a.SentTotal)
	assert.Equal(t, domain.DayTotals{Sent: 2}, a.History["2024-03-01"])
	assert.Equal(t, domain.DailyCounter{Date: "2024-03-03", Count: 1}, a.DailySent)
	assert.Equal(t, domain.DailyCounter{Date: "2024-03-03"}, a.DailyReceived)
}

func TestRolloverKeepsExistingHistory(t *testing.T) {
	svc, repo := newTestService()
	repo.data[1] = domain.MemberStats{
		MemberID:  1,
		SentTotal: 4,
		DailySent: domain.DailyCounter{Date: "2024-03-01", Count: 1},
		History:   map[string]domain.DayTotals{"2024-03-01": {Sent: 4}},
	}
	require.NoError(t, svc.RecordExchange(context.Background(), alice, bob, day(2)))

	a, err := svc.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 4, a.History["2024-03-01"].Sent)
}

func TestTrendOrderAndLimit(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	for d := 1; d <= 9; d++ {
		for i := 0; i < d; i++ {
			require.NoError(t, svc.RecordExchange(ctx, alice, bob, day(d)))
		}
	}

	seq, err := svc.Trend(ctx, 1, 7)
	require.NoError(t, err)

	var points []domain.TrendPoint
	for p := range seq {
		points = append(points, p)
	}
	require.Len(t, points, 7)
	assert.Equal(t, day(3).Truncate(24*time.Hour), points[0].Date)
	assert.Equal(t, 3, points[0].Sent)
	assert.Equal(t, 9, points[6].Sent, "текущий день входит в график")
	for i := 1; i < len(points); i++ {
		assert.True(t, points[i-1].Date.Before(points[i].Date))
	}

	again := 0
	for range seq {
		again++
	}
	assert.Equal(t, 7, again)
}

func TestTrendStopsEarly(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	for d := 1; d <= 3; d++ {
		require.NoError(t, svc.RecordExchange(ctx, alice, bob, day(d)))
	}
	seq, err := svc.Trend(ctx, 2, 0)
	require.NoError(t, err)
	seen := 0
	for p := range seq {
		seen++
		assert.Equal(t, 1, p.Received)
		break
	}
	assert.Equal(t, 1, seen)
}

func TestGroupTrendAndLeaders(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	carol := domain.Party{ID: 3, Name: "carol"}

	require.NoError(t, svc.RecordExchange(ctx, alice, bob, day(1)))
	require.NoError(t, svc.RecordExchange(ctx, carol, bob, day(1)))
	require.NoError(t, svc.RecordExchange(ctx, carol, alice, day(2)))

	seq, err := svc.GroupTrend(ctx, 7)
	require.NoError(t, err)
	var sent []int
	for p := range seq {
		sent = append(sent, p.Sent)
	}
	assert.Equal(t, []int{2, 1}, sent)

	leaders, err := svc.Leaders(ctx)
	require.NoError(t, err)
	assert.True(t, leaders.HasSender)
	assert.Equal(t, int64(3), leaders.TopSender.MemberID)
	assert.Equal(t, int64(2), leaders.TopReceiver.MemberID)
	assert.Equal(t, 3, leaders.TotalExchange)
}

func TestLeadersEmpty(t *testing.T) {
	svc, _ := newTestService()
	leaders, err := svc.Leaders(context.Background())
	require.NoError(t, err)
	assert.False(t, leaders.HasSender)
	assert.False(t, leaders.HasReceiver)
}
