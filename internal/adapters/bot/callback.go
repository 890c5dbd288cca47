package bot

import (
	"strconv"
	"strings"

	"tg-feedback-bot/internal/domain"
)

// CallbackKind тип нажатой кнопки.
type CallbackKind int

const (
	CallbackInvalid CallbackKind = iota
	CallbackConfirm
	CallbackCancel
	CallbackAccept
	CallbackReject
	CallbackStar
	CallbackMenu
	CallbackBack
	CallbackPage
	CallbackNoop
)

// ListingKind вид постраничного списка.
type ListingKind string

const (
	ListingVerified ListingKind = "verified"
	ListingReceived ListingKind = "received"
	ListingSent     ListingKind = "sent"
	ListingLimited  ListingKind = "limited"
	ListingAdmins   ListingKind = "admins"
)

// legacyListings ключи списков из старых сообщений.
var legacyListings = map[string]ListingKind{
	"verificati": ListingVerified,
	"ricevuti":   ListingReceived,
	"inviati":    ListingSent,
	"limitati":   ListingLimited,
	"admin":      ListingAdmins,
}

func (k ListingKind) valid() bool {
	switch k {
	case ListingVerified, ListingReceived, ListingSent, ListingLimited, ListingAdmins:
		return true
	default:
		return false
	}
}

// Callback разобранные данные кнопки.
type Callback struct {
	Kind      CallbackKind
	RequestID string
	MemberID  int64
	Rating    int
	Listing   ListingKind
	Page      int
}

// ParseCallback разбирает данные кнопки вида action_id[_param].
// Всё, что не укладывается в формат, даёт CallbackInvalid.
func ParseCallback(data string) Callback {
	invalid := Callback{Kind: CallbackInvalid}
	switch data {
	case "noop", "ignore_page_number":
		return Callback{Kind: CallbackNoop}
	case "":
		return invalid
	}
	parts := strings.Split(data, "_")
	action := parts[0]
	args := parts[1:]

	switch action {
	case "confirm", "cancel", "accept", "reject":
		if len(args) != 1 || !validRequestID(args[0]) {
			return invalid
		}
		kinds := map[string]CallbackKind{
			"confirm": CallbackConfirm,
			"cancel":  CallbackCancel,
			"accept":  CallbackAccept,
			"reject":  CallbackReject,
		}
		return Callback{Kind: kinds[action], RequestID: args[0]}
	case "star":
		if len(args) != 2 || !validRequestID(args[0]) {
			return invalid
		}
		rating, err := strconv.Atoi(args[1])
		if err != nil || !domain.ValidRating(rating) {
			return invalid
		}
		return Callback{Kind: CallbackStar, RequestID: args[0], Rating: rating}
	case "menu", "back":
		if len(args) != 1 {
			return invalid
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id == 0 {
			return invalid
		}
		kind := CallbackMenu
		if action == "back" {
			kind = CallbackBack
		}
		return Callback{Kind: kind, MemberID: id}
	case "page", "pagina":
		if len(args) != 2 {
			return invalid
		}
		listing := ListingKind(args[0])
		if action == "pagina" {
			listing = legacyListings[args[0]]
		}
		page, err := strconv.Atoi(args[1])
		if !listing.valid() || err != nil || page < 0 {
			return invalid
		}
		return Callback{Kind: CallbackPage, Listing: listing, Page: page}
	}
	return invalid
}

func validRequestID(id string) bool {
	if id == "" || len(id) > 32 {
		return false
	}
	for _, r := range id {
		if (r < '0' || r > '9') && r != '-' {
			return false
		}
	}
	return true
}

func confirmData(requestID string) string { return "confirm_" + requestID }
func cancelData(requestID string) string  { return "cancel_" + requestID }
func acceptData(requestID string) string  { return "accept_" + requestID }
func rejectData(requestID string) string  { return "reject_" + requestID }

func starData(requestID string, rating int) string {
	return "star_" + requestID + "_" + strconv.Itoa(rating)
}

func menuData(memberID int64) string { return "menu_" + strconv.FormatInt(memberID, 10) }
func backData(memberID int64) string { return "back_" + strconv.FormatInt(memberID, 10) }

func pageData(kind ListingKind, page int) string {
	return "page_" + string(kind) + "_" + strconv.Itoa(page)
}
