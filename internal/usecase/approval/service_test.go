package approval

import (
	"context"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-feedback-bot/internal/adapters/repo"
	"tg-feedback-bot/internal/domain"
	"tg-feedback-bot/internal/usecase/ledger"
	"tg-feedback-bot/internal/usecase/stats"
)

const group = int64(-100)

type fixture struct {
	svc    *Service
	ledger *ledger.Service
	stats  *stats.Service
	docs   *repo.Documents
}

func newFixture(t *testing.T, members ...domain.Member) fixture {
	t.Helper()
	ctx := context.Background()
	log := zerolog.New(io.Discard)
	docs := repo.NewDocuments(repo.NewMemory(), log)

	l := domain.GroupLedger{}
	for _, m := range members {
		l[m.ID] = m
	}
	require.NoError(t, docs.SaveGroup(ctx, group, l))

	ledgerSvc := ledger.NewService(docs, log, ledger.DefaultVerifyThreshold)
	require.NoError(t, ledgerSvc.Load(ctx))
	statsSvc := stats.NewService(docs, log, time.UTC)
	svc := NewService(docs, ledgerSvc, statsSvc, log)
	svc.nowFn = func() time.Time { return time.Date(2024, time.May, 4, 10, 0, 0, 0, time.UTC) }
	require.NoError(t, svc.Load(ctx))
	return fixture{svc: svc, ledger: ledgerSvc, stats: statsSvc, docs: docs}
}

var (
	alice = domain.Member{ID: 1, DisplayName: "alice"}
	bob   = domain.Member{ID: 2, DisplayName: "Bob"}
)

func submit(t *testing.T, f fixture, id string) domain.PendingFeedback {
	t.Helper()
	req, err := f.svc.Submit(context.Background(), SubmitInput{
		RequestID: id,
		Sender:    domain.Party{ID: 1, Name: "alice"},
		Target:    "@bob",
		Note:      " scambio ok ",
		ImageRef:  "photo-1",
		GroupID:   group,
	})
	require.NoError(t, err)
	return req
}

func TestEndToEndExchange(t *testing.T) {
	f := newFixture(t, alice, bob)
	ctx := context.Background()

	req := submit(t, f, "42")
	assert.Equal(t, domain.FeedbackProposed, req.State)
	assert.Equal(t, int64(2), req.TargetID)
	assert.Equal(t, "Bob", req.TargetName)
	assert.Equal(t, "scambio ok", req.Note)

	req, err := f.svc.Confirm(ctx, "42", 1)
	require.NoError(t, err)
	assert.Equal(t, domain.FeedbackUnderReview, req.State)
	require.NoError(t, f.svc.AttachReview(ctx, "42", domain.MessageRef{ChatID: -300, MessageID: 7}))

	acc, err := f.svc.Accept(ctx, "42", 99)
	require.NoError(t, err)
	assert.True(t, acc.Request.AwaitingRating())
	b, _ := f.ledger.Get(ctx, group, 2)
	a, _ := f.ledger.Get(ctx, group, 1)
	assert.Equal(t, 1, b.ReceivedCount)
	assert.Equal(t, 1, a.SentCount)

	rated, err := f.svc.Rate(ctx, "42", 99, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, rated.Class)
	b, _ = f.ledger.Get(ctx, group, 2)
	a, _ = f.ledger.Get(ctx, group, 1)
	assert.Equal(t, domain.Ratings{0, 0, 0, 1}, b.ReceivedByRating)
	assert.Equal(t, domain.Ratings{0, 0, 0, 1}, a.SentByRating)
	assert.Equal(t, 1, b.ReceivedCount, "оценка не добавляет вторую карту")

	_, err = f.svc.Get(ctx, "42")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	stored, err := f.docs.LoadPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)

	_, err = f.svc.Rate(ctx, "42", 99, 3)
	assert.ErrorIs(t, err, domain.ErrStaleRequest)
	b, _ = f.ledger.Get(ctx, group, 2)
	assert.Equal(t, domain.Ratings{0, 0, 0, 1}, b.ReceivedByRating)

	st, err := f.stats.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ReceivedTotal)
	assert.Equal(t, "alice", st.LastReceived.Counterpart)
}

func TestDoubleAcceptAppliesOnce(t *testing.T) {
	f := newFixture(t, alice, bob)
	ctx := context.Background()
	submit(t, f, "7")
	_, err := f.svc.Confirm(ctx, "7", 1)
	require.NoError(t, err)

	_, err = f.svc.Accept(ctx, "7", 99)
	require.NoError(t, err)
	_, err = f.svc.Accept(ctx, "7", 99)
	assert.ErrorIs(t, err, domain.ErrStaleRequest)

	b, _ := f.ledger.Get(ctx, group, 2)
	assert.Equal(t, 1, b.ReceivedCount)
}

func TestRejectTwiceIsStale(t *testing.T) {
	f := newFixture(t, alice, bob)
	ctx := context.Background()
	submit(t, f, "8")
	_, err := f.svc.Confirm(ctx, "8", 1)
	require.NoError(t, err)

	req, err := f.svc.Reject(ctx, "8", 99)
	require.NoError(t, err)
	assert.Equal(t, domain.FeedbackRejected, req.State)
	_, err = f.svc.Reject(ctx, "8", 99)
	assert.ErrorIs(t, err, domain.ErrStaleRequest)

	b, _ := f.ledger.Get(ctx, group, 2)
	assert.Equal(t, 0, b.ReceivedCount)
}

func TestOnlySubmitterConfirmsOrCancels(t *testing.T) {
	f := newFixture(t, alice, bob)
	ctx := context.Background()
	submit(t, f, "9")

	_, err := f.svc.Confirm(ctx, "9", 2)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = f.svc.Cancel(ctx, "9", 2)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	req, err := f.svc.Get(ctx, "9")
	require.NoError(t, err)
	assert.Equal(t, domain.FeedbackProposed, req.State)

	req, err = f.svc.Cancel(ctx, "9", 1)
	require.NoError(t, err)
	assert.Equal(t, domain.FeedbackCancelled, req.State)
	_, err = f.svc.Cancel(ctx, "9", 1)
	assert.ErrorIs(t, err, domain.ErrStaleRequest)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, alice, bob)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, SubmitInput{RequestID: "1", Sender: domain.Party{ID: 1}, Target: "@ghost", GroupID: group})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.Submit(ctx, SubmitInput{RequestID: "2", Sender: domain.Party{ID: 1}, Target: "alice", GroupID: group})
	assert.ErrorIs(t, err, domain.ErrSelfFeedback)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.svc.Submit(ctx, SubmitInput{RequestID: "", Sender: domain.Party{ID: 1}, Target: "@bob", GroupID: group})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.NotErrorIs(t, err, domain.ErrSelfFeedback)

	first := submit(t, f, "3")
	again := submit(t, f, "3")
	assert.Equal(t, first, again)
	assert.Len(t, f.svc.Pending(ctx), 1)
}

func TestCancelAfterConfirmIsStale(t *testing.T) {
	f := newFixture(t, alice, bob)
	ctx := context.Background()
	submit(t, f, "5")
	_, err := f.svc.Confirm(ctx, "5", 1)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, "5", 1)
	assert.ErrorIs(t, err, domain.ErrStaleRequest)

	req, err := f.svc.Reopen(ctx, "5")
	require.NoError(t, err)
	assert.Equal(t, domain.FeedbackProposed, req.State)
}

func TestRateValidationAndThresholdEvent(t *testing.T) {
	nearly := domain.Member{ID: 2, DisplayName: "Bob", ReceivedCount: 24, ReceivedByRating: domain.Ratings{24}}
	f := newFixture(t, alice, nearly)
	ctx := context.Background()
	submit(t, f, "11")
	_, err := f.svc.Confirm(ctx, "11", 1)
	require.NoError(t, err)

	acc, err := f.svc.Accept(ctx, "11", 99)
	require.NoError(t, err)
	require.Len(t, acc.Ledger.Events, 1)
	assert.Equal(t, ledger.EventVerified, acc.Ledger.Events[0].Kind)

	_, err = f.svc.Rate(ctx, "11", 99, 6)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.svc.Rate(ctx, "11", 99, 0)
	require.NoError(t, err)
	b, _ := f.ledger.Get(ctx, group, 2)
	assert.Equal(t, 25, b.ReceivedByRating[0])
}

func TestPendingSurvivesRestart(t *testing.T) {
	f := newFixture(t, alice, bob)
	ctx := context.Background()
	submit(t, f, "12")
	_, err := f.svc.Confirm(ctx, "12", 1)
	require.NoError(t, err)

	restarted := NewService(f.docs, f.ledger, f.stats, zerolog.New(io.Discard))
	require.NoError(t, restarted.Load(ctx))
	req, err := restarted.Get(ctx, "12")
	require.NoError(t, err)
	assert.Equal(t, domain.FeedbackUnderReview, req.State)
	assert.Equal(t, "photo-1", req.ImageRef)
}

func TestConcurrentModerationAppliesEachRequestOnce(t *testing.T) {
	f := newFixture(t, alice, bob)
	ctx := context.Background()
	const requests, presses = 40, 3

	ids := make([]string, requests)
	for i := range ids {
		ids[i] = strconv.Itoa(100 + i)
		submit(t, f, ids[i])
		_, err := f.svc.Confirm(ctx, ids[i], 1)
		require.NoError(t, err)
	}

	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
		rated    atomic.Int64
	)
	for i, id := range ids {
		for p := range presses {
			wg.Add(1)
			go func() {
				defer wg.Done()
				reviewer := int64(90 + p)
				if _, err := f.svc.Accept(ctx, id, reviewer); err == nil {
					accepted.Add(1)
				} else {
					assert.ErrorIs(t, err, domain.ErrStaleRequest)
				}
				if _, err := f.svc.Rate(ctx, id, reviewer, i%domain.MaxRating+1); err == nil {
					rated.Add(1)
				} else {
					assert.ErrorIs(t, err, domain.ErrStaleRequest)
				}
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, int64(requests), accepted.Load())
	assert.Equal(t, int64(requests), rated.Load())
	assert.Empty(t, f.svc.Pending(ctx))

	b, err := f.ledger.Get(ctx, group, 2)
	require.NoError(t, err)
	assert.Equal(t, requests, b.ReceivedCount)
	assert.Equal(t, requests, b.ReceivedByRating.Sum())
	assert.Zero(t, b.ReceivedByRating[domain.GenericRating])
	assert.True(t, b.Verified)
	a, _ := f.ledger.Get(ctx, group, 1)
	assert.Equal(t, requests, a.SentCount)
	assert.Equal(t, requests, a.SentByRating.Sum())

	st, err := f.stats.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, requests, st.ReceivedTotal)
	sent, err := f.stats.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, requests, sent.SentTotal)
}
