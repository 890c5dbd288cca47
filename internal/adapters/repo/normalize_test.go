package repo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-feedback-bot/internal/domain"
)

func TestDecodeGroupLegacyShapes(t *testing.T) {
	body := []byte(`{
		"10": {"id": 10, "username": "alice", "feedback_fatti": 3, "feedback_ricevuti": 2,
		       "cards_ricevute": [1, 0, 2, 0, 0, 0], "cards_donate": {"0": 1, "5": 1}},
		"11": {"username": "bob", "feedback_fatti": 4, "feedback_ricevuti": 0, "verified": true},
		"12": "broken"
	}`)
	ledger, errs := decodeGroup(body)
	require.Len(t, errs, 1)
	require.Len(t, ledger, 2)

	alice := ledger[10]
	assert.Equal(t, "alice", alice.DisplayName)
	assert.Equal(t, domain.Ratings{1, 0, 2, 0, 0, 0}, alice.SentByRating)
	assert.Equal(t, domain.Ratings{1, 0, 0, 0, 0, 1}, alice.ReceivedByRating)

	bob := ledger[11]
	assert.Equal(t, int64(11), bob.ID)
	assert.True(t, bob.Verified)
	assert.Equal(t, 4, bob.SentByRating[domain.GenericRating])
	assert.Equal(t, bob.SentCount, bob.SentByRating.Sum())
}

func TestRepairRatings(t *testing.T) {
	tests := []struct {
		name  string
		in    domain.Ratings
		total int
		want  domain.Ratings
	}{
		{name: "shortfall goes to generic", in: domain.Ratings{0, 1}, total: 3, want: domain.Ratings{2, 1}},
		{name: "excess trimmed from generic first", in: domain.Ratings{1, 0, 3}, total: 2, want: domain.Ratings{0, 0, 2}},
		{name: "negative clamped", in: domain.Ratings{-2, 1}, total: 1, want: domain.Ratings{0, 1}},
		{name: "consistent untouched", in: domain.Ratings{0, 0, 0, 1, 1}, total: 2, want: domain.Ratings{0, 0, 0, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := repairRatings(tt.in, tt.total)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.total, got.Sum())
		})
	}
}

func TestDecodeStatsLegacy(t *testing.T) {
	body := []byte(`{
		"username": "alice",
		"feedback_fatti": {"count": 5, "daily_count": 2, "daily_date": "2024-05-02",
		                   "last": {"timestamp": "2024-05-02T10:11:12.123456", "target_username": "bob"}},
		"feedback_ricevuti": {"count": 1, "total": 3, "last": null},
		"history": {"2024-05-01": {"feedback_fatti": 3}, "garbage": {"feedback_fatti": 9}}
	}`)
	st, err := decodeStats("7", body)
	require.NoError(t, err)
	assert.Equal(t, int64(7), st.MemberID)
	assert.Equal(t, 5, st.SentTotal)
	assert.Equal(t, 3, st.ReceivedTotal)
	assert.Equal(t, domain.DailyCounter{Date: "2024-05-02", Count: 2}, st.DailySent)
	assert.Equal(t, "bob", st.LastSent.Counterpart)
	assert.False(t, st.LastSent.At.IsZero())
	assert.True(t, st.LastReceived.IsZero())
	assert.Len(t, st.History, 1)
	assert.Equal(t, domain.DayTotals{Sent: 3}, st.History["2024-05-01"])
}

func TestDecodePendingInfersState(t *testing.T) {
	tests := []struct {
		name string
		body string
		want domain.FeedbackState
	}{
		{name: "fresh", body: `{"user_id": 1, "target_user_id": 2}`, want: domain.FeedbackProposed},
		{name: "forwarded", body: `{"user_id": 1, "target_user_id": 2, "feedback_group_message_id": 55}`, want: domain.FeedbackUnderReview},
		{name: "awaiting rating", body: `{"user_id": 1, "target_user_id": 2, "feedback_group_message_id": 55, "awaiting_rating": true}`, want: domain.FeedbackAwaitingRating},
		{name: "explicit", body: `{"user_id": 1, "target_user_id": 2, "state": "under_review"}`, want: domain.FeedbackUnderReview},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := decodePending("100", []byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.State)
			assert.Equal(t, "100", req.RequestID)
		})
	}

	_, err := decodePending("101", []byte(`{"user_id": 1, "target_user_id": 2, "state": "completed"}`))
	assert.Error(t, err)
}

func TestDecodeAdminsShapes(t *testing.T) {
	ids, err := decodeAdmins([]byte(`{"admin_ids": [3, 1, 3]}`))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)

	ids, err = decodeAdmins([]byte(`[5, 4]`))
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5}, ids)
}
