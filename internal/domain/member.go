package domain

import (
	"strconv"
	"strings"
)

const (
	// RatingClasses количество классов оценки: 0 это «Generico», 1..5 звёзды.
	RatingClasses = 6
	// MaxRating максимальное число звёзд.
	MaxRating = RatingClasses - 1
	// GenericRating класс без оценки.
	GenericRating = 0
)

// Ratings распределение карт по классам оценки.
type Ratings [RatingClasses]int

// Sum возвращает сумму по всем классам.
func (r Ratings) Sum() int {
	total := 0
	for _, v := range r {
		total += v
	}
	return total
}

// ValidRating проверяет, что класс оценки лежит в допустимом диапазоне.
func ValidRating(class int) bool {
	return class >= GenericRating && class <= MaxRating
}

// Member запись участника в журнале группы.
type Member struct {
	ID               int64
	DisplayName      string
	SentCount        int
	ReceivedCount    int
	Verified         bool
	Limited          bool
	SentByRating     Ratings
	ReceivedByRating Ratings
}

// Gap разница между полученными и отправленными картами.
func (m Member) Gap() int {
	return m.ReceivedCount - m.SentCount
}

// Name возвращает отображаемое имя или запасное имя по id.
func (m Member) Name() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return PlaceholderName(m.ID)
}

// PlaceholderName имя профиля, созданного по числовому id.
func PlaceholderName(id int64) string {
	return "utente_" + strconv.FormatInt(id, 10)
}

// NormalizeName приводит имя к виду для поиска: без @ и в нижнем регистре.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
}

// GroupLedger журнал участников одной группы.
type GroupLedger map[int64]Member

// Clone возвращает независимую копию журнала.
func (g GroupLedger) Clone() GroupLedger {
	out := make(GroupLedger, len(g))
	for id, m := range g {
		out[id] = m
	}
	return out
}

// FindByName ищет участника по имени без учёта регистра.
func (g GroupLedger) FindByName(name string) (Member, bool) {
	needle := NormalizeName(name)
	if needle == "" {
		return Member{}, false
	}
	for _, m := range g {
		if NormalizeName(m.DisplayName) == needle {
			return m, true
		}
	}
	return Member{}, false
}

// Party участник обмена.
type Party struct {
	ID   int64
	Name string
}
