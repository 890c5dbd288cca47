package ledger

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-feedback-bot/internal/domain"
)

const group = int64(-100)

type stubRepo struct {
	mu      sync.Mutex
	groups  map[int64]domain.GroupLedger
	saves   int
	failErr error
}

func newStubRepo() *stubRepo {
	return &stubRepo{groups: make(map[int64]domain.GroupLedger)}
}

func (r *stubRepo) LoadGroups(context.Context) (map[int64]domain.GroupLedger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64]domain.GroupLedger, len(r.groups))
	for id, g := range r.groups {
		out[id] = g.Clone()
	}
	return out, nil
}

func (r *stubRepo) LoadGroup(_ context.Context, groupID int64) (domain.GroupLedger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.groups[groupID].Clone(), nil
}

func (r *stubRepo) SaveGroup(_ context.Context, groupID int64, ledger domain.GroupLedger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	r.saves++
	r.groups[groupID] = ledger.Clone()
	return nil
}

func newService(t *testing.T, members ...domain.Member) (*Service, *stubRepo) {
	t.Helper()
	repo := newStubRepo()
	ledger := domain.GroupLedger{}
	for _, m := range members {
		ledger[m.ID] = m
	}
	repo.groups[group] = ledger
	svc := NewService(repo, zerolog.New(io.Discard), DefaultVerifyThreshold)
	require.NoError(t, svc.Load(context.Background()))
	return svc, repo
}

func assertConsistent(t *testing.T, m domain.Member) {
	t.Helper()
	assert.GreaterOrEqual(t, m.SentCount, 0)
	assert.GreaterOrEqual(t, m.ReceivedCount, 0)
	assert.Equal(t, m.SentCount, m.SentByRating.Sum(), "sent ratings")
	assert.Equal(t, m.ReceivedCount, m.ReceivedByRating.Sum(), "received ratings")
	for _, v := range m.SentByRating {
		assert.GreaterOrEqual(t, v, 0)
	}
	for _, v := range m.ReceivedByRating {
		assert.GreaterOrEqual(t, v, 0)
	}
}

func TestRandomMutationsKeepInvariants(t *testing.T) {
	svc, _ := newService(t, domain.Member{ID: 1, DisplayName: "alice"})
	ctx := context.Background()
	rnd := rand.New(rand.NewSource(7))
	ops := []func(context.Context, int64, int64, int, int) (Outcome, error){
		svc.CreditSent, svc.CreditReceived, svc.DebitSent, svc.DebitReceived,
	}
	for i := 0; i < 500; i++ {
		op := ops[rnd.Intn(len(ops))]
		_, err := op(ctx, group, 1, 1+rnd.Intn(5), rnd.Intn(domain.RatingClasses))
		require.NoError(t, err)
		m, err := svc.Get(ctx, group, 1)
		require.NoError(t, err)
		assertConsistent(t, m)
	}
}

func TestDebitClampsAtZero(t *testing.T) {
	svc, _ := newService(t, domain.Member{
		ID: 1, DisplayName: "alice",
		SentCount: 3, SentByRating: domain.Ratings{1, 0, 2},
	})
	out, err := svc.DebitSent(context.Background(), group, 1, 10, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Applied)
	assert.Equal(t, 0, out.Member.SentCount)
	assertConsistent(t, out.Member)

	out, err = svc.DebitSent(context.Background(), group, 1, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Applied)
	assert.False(t, out.Changed)
}

func TestDebitTakesRequestedClassFirst(t *testing.T) {
	svc, _ := newService(t, domain.Member{
		ID: 1, ReceivedCount: 4, ReceivedByRating: domain.Ratings{2, 0, 0, 2},
	})
	out, err := svc.DebitReceived(context.Background(), group, 1, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, domain.Ratings{1}, out.Member.ReceivedByRating)
}

func TestThresholdCrossingNotifiesOnce(t *testing.T) {
	svc, _ := newService(t,
		domain.Member{ID: 1, DisplayName: "alice"},
		domain.Member{ID: 2, DisplayName: "bob", ReceivedCount: 24, ReceivedByRating: domain.Ratings{24}},
	)
	ctx := context.Background()
	out, err := svc.ApplyExchange(ctx, group, domain.Party{ID: 1, Name: "alice"}, domain.Party{ID: 2, Name: "bob"})
	require.NoError(t, err)
	require.Len(t, out.Events, 1)
	assert.Equal(t, EventVerified, out.Events[0].Kind)
	assert.Equal(t, int64(2), out.Events[0].Member.ID)
	assert.True(t, out.Member.Verified)

	out, err = svc.ApplyExchange(ctx, group, domain.Party{ID: 1, Name: "alice"}, domain.Party{ID: 2, Name: "bob"})
	require.NoError(t, err)
	assert.Empty(t, out.Events)
	assert.Equal(t, 26, out.Member.ReceivedCount)
}

func TestThresholdCrossingDownUnverifies(t *testing.T) {
	svc, _ := newService(t, domain.Member{
		ID: 2, ReceivedCount: 25, ReceivedByRating: domain.Ratings{25}, Verified: true,
	})
	out, err := svc.DebitReceived(context.Background(), group, 2, 1, 0)
	require.NoError(t, err)
	require.Len(t, out.Events, 1)
	assert.Equal(t, EventUnverified, out.Events[0].Kind)
	assert.False(t, out.Member.Verified)
}

func TestGapAlertEveryTime(t *testing.T) {
	svc, _ := newService(t, domain.Member{
		ID: 3, DisplayName: "carol", Limited: true,
		SentCount: 5, SentByRating: domain.Ratings{5},
		ReceivedCount: 3, ReceivedByRating: domain.Ratings{3},
	})
	ctx := context.Background()

	out, err := svc.CreditReceived(ctx, group, 3, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, out.Events, "gap -1 ещё не закрыт")

	out, err = svc.CreditReceived(ctx, group, 3, 1, 0)
	require.NoError(t, err)
	require.Len(t, out.Events, 1)
	assert.Equal(t, EventGapClosed, out.Events[0].Kind)
	assert.Equal(t, 0, out.Events[0].Member.Gap())

	out, err = svc.CreditReceived(ctx, group, 3, 2, 0)
	require.NoError(t, err)
	require.Len(t, out.Events, 1)
	assert.Equal(t, 2, out.Events[0].Member.Gap())

	out, err = svc.SetLimited(ctx, group, 3, true)
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Empty(t, out.Events)
}

func TestPersistenceFailureLeavesStateUnchanged(t *testing.T) {
	svc, repo := newService(t, domain.Member{ID: 1, DisplayName: "alice"})
	repo.failErr = errors.New("connection refused")

	_, err := svc.CreditSent(context.Background(), group, 1, 2, 0)
	require.ErrorIs(t, err, domain.ErrPersistence)

	m, err := svc.Get(context.Background(), group, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, m.SentCount)
}

func TestAdjustValidation(t *testing.T) {
	svc, _ := newService(t, domain.Member{ID: 1})
	ctx := context.Background()

	_, err := svc.CreditSent(ctx, group, 1, 0, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = svc.CreditSent(ctx, group, 1, 1, 6)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = svc.CreditSent(ctx, group, 99, 1, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreditRejectsOverflow(t *testing.T) {
	svc, repo := newService(t, domain.Member{ID: 1})
	ctx := context.Background()

	_, err := svc.CreditSent(ctx, group, 1, math.MaxInt, 0)
	require.NoError(t, err)
	_, err = svc.CreditSent(ctx, group, 1, 1, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = svc.CreditSent(ctx, group, 1, math.MaxInt, 3)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	m, err := svc.Get(ctx, group, 1)
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt, m.SentCount)
	assertConsistent(t, m)
	assert.Equal(t, 1, repo.saves)

	_, err = svc.CreditReceived(ctx, group, 1, math.MaxInt, 5)
	require.NoError(t, err)
	_, err = svc.CreditReceived(ctx, group, 1, math.MaxInt, 5)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	m, _ = svc.Get(ctx, group, 1)
	assert.Equal(t, math.MaxInt, m.ReceivedCount)
	assertConsistent(t, m)
}

func TestConcurrentCreditsOnOneGroup(t *testing.T) {
	svc, repo := newService(t,
		domain.Member{ID: 1, DisplayName: "alice"},
		domain.Member{ID: 2, DisplayName: "bob"},
	)
	ctx := context.Background()
	const workers, perWorker = 8, 25

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				_, err := svc.CreditReceived(ctx, group, 1, 1, (w+i)%domain.RatingClasses)
				assert.NoError(t, err)
				_, err = svc.CreditSent(ctx, group, 2, 1, 0)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	alice, err := svc.Get(ctx, group, 1)
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker, alice.ReceivedCount)
	assert.True(t, alice.Verified)
	assertConsistent(t, alice)
	bob, _ := svc.Get(ctx, group, 2)
	assert.Equal(t, workers*perWorker, bob.SentCount)
	assertConsistent(t, bob)

	stored := repo.groups[group]
	assert.Equal(t, workers*perWorker, stored[1].ReceivedCount)
	assert.Equal(t, 2*workers*perWorker, repo.saves)
}

func TestApplyRatingMovesGenericUnit(t *testing.T) {
	svc, repo := newService(t,
		domain.Member{ID: 1, DisplayName: "alice"},
		domain.Member{ID: 2, DisplayName: "bob"},
	)
	ctx := context.Background()
	_, err := svc.ApplyExchange(ctx, group, domain.Party{ID: 1, Name: "alice"}, domain.Party{ID: 2, Name: "bob"})
	require.NoError(t, err)

	out, err := svc.ApplyRating(ctx, group, 1, 2, 3)
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, domain.Ratings{0, 0, 0, 1}, out.Member.ReceivedByRating)
	alice, _ := svc.Get(ctx, group, 1)
	assert.Equal(t, domain.Ratings{0, 0, 0, 1}, alice.SentByRating)
	assertConsistent(t, alice)
	assert.Equal(t, 2, repo.saves)

	out, err = svc.ApplyRating(ctx, group, 1, 2, 0)
	require.NoError(t, err)
	assert.False(t, out.Changed)
}

func TestFindMemberAndTrack(t *testing.T) {
	svc, _ := newService(t, domain.Member{ID: 1, DisplayName: "Alice"})
	ctx := context.Background()

	m, err := svc.FindMember(ctx, group, "@alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.ID)

	m, err = svc.FindMember(ctx, group, "1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", m.DisplayName)

	_, err = svc.FindMember(ctx, group, "@nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	out, err := svc.Ensure(ctx, group, 77)
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.Equal(t, "utente_77", out.Member.DisplayName)

	out, err = svc.Track(ctx, group, domain.Party{ID: 77, Name: "newname"})
	require.NoError(t, err)
	assert.False(t, out.Created)
	assert.Equal(t, "newname", out.Member.DisplayName)
}

func TestListingsOrder(t *testing.T) {
	svc, _ := newService(t,
		domain.Member{ID: 1, DisplayName: "b", Verified: true, ReceivedCount: 30, ReceivedByRating: domain.Ratings{30}},
		domain.Member{ID: 2, DisplayName: "a", Verified: true, ReceivedCount: 30, ReceivedByRating: domain.Ratings{30}},
		domain.Member{ID: 3, DisplayName: "c", Verified: true, ReceivedCount: 26, ReceivedByRating: domain.Ratings{26}},
		domain.Member{ID: 4, DisplayName: "d", Limited: true, SentCount: 4, SentByRating: domain.Ratings{4}},
		domain.Member{ID: 5, DisplayName: "e", Limited: true, SentCount: 1, SentByRating: domain.Ratings{1}},
	)
	ctx := context.Background()

	ids := func(ms []domain.Member) []int64 {
		out := make([]int64, 0, len(ms))
		for _, m := range ms {
			out = append(out, m.ID)
		}
		return out
	}
	assert.Equal(t, []int64{3, 2, 1}, ids(svc.Verified(ctx, group)))
	assert.Equal(t, []int64{4, 5}, ids(svc.Limited(ctx, group)))
	assert.Equal(t, []int64{2, 1, 3}, ids(svc.RankedByReceived(ctx, group)))
	assert.Equal(t, []int64{4, 5}, ids(svc.RankedBySent(ctx, group)))
}
