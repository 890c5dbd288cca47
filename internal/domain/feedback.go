package domain

import "time"

// FeedbackState состояние заявки на отзыв.
type FeedbackState string

const (
	FeedbackProposed       FeedbackState = "proposed"
	FeedbackUnderReview    FeedbackState = "under_review"
	FeedbackAwaitingRating FeedbackState = "awaiting_rating"
	// Терминальные состояния не хранятся: заявка удаляется.
	FeedbackCompleted FeedbackState = "completed"
	FeedbackRejected  FeedbackState = "rejected"
	FeedbackCancelled FeedbackState = "cancelled"
)

// Terminal сообщает, завершена ли заявка.
func (s FeedbackState) Terminal() bool {
	switch s {
	case FeedbackCompleted, FeedbackRejected, FeedbackCancelled:
		return true
	default:
		return false
	}
}

// MessageRef ссылка на сообщение в чате.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// IsZero сообщает, что ссылка не задана.
func (r MessageRef) IsZero() bool {
	return r.ChatID == 0 && r.MessageID == 0
}

// PendingFeedback заявка на отзыв, ожидающая подтверждения и модерации.
type PendingFeedback struct {
	RequestID     string
	SenderID      int64
	SenderName    string
	TargetID      int64
	TargetName    string
	Note          string
	ImageRef      string
	OriginGroupID int64
	Prompt        MessageRef
	Review        MessageRef
	State         FeedbackState
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AwaitingRating сообщает, что заявка принята и ждёт оценки.
func (p PendingFeedback) AwaitingRating() bool {
	return p.State == FeedbackAwaitingRating
}
