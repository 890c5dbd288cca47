package domain

import "time"

// DateLayout формат ключа дня в статистике.
const DateLayout = "2006-01-02"

// DailyCounter счётчик за текущий день.
type DailyCounter struct {
	Date  string
	Count int
}

// LastExchange последний обмен в одном направлении.
type LastExchange struct {
	At          time.Time
	Counterpart string
}

// IsZero сообщает, что обменов не было.
func (l LastExchange) IsZero() bool {
	return l.At.IsZero()
}

// DayTotals итоги дня, замороженные при смене даты.
type DayTotals struct {
	Sent     int
	Received int
}

// MemberStats история обменов участника.
type MemberStats struct {
	MemberID      int64
	DisplayName   string
	SentTotal     int
	ReceivedTotal int
	DailySent     DailyCounter
	DailyReceived DailyCounter
	LastSent      LastExchange
	LastReceived  LastExchange
	History       map[string]DayTotals
}

// TrendPoint точка графика активности.
type TrendPoint struct {
	Date     time.Time
	Sent     int
	Received int
}

// Leaders лидеры группы по отправленным и полученным картам.
type Leaders struct {
	TopSender     MemberStats
	TopReceiver   MemberStats
	HasSender     bool
	HasReceiver   bool
	TotalExchange int
}
