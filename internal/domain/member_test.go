package domain

import "testing"

func TestFindByName(t *testing.T) {
	ledger := GroupLedger{
		1: {ID: 1, DisplayName: "Alice"},
		2: {ID: 2, DisplayName: "bob_99"},
	}
	tests := []struct {
		name  string
		input string
		want  int64
		found bool
	}{
		{name: "exact", input: "Alice", want: 1, found: true},
		{name: "at prefix and case", input: "@BOB_99", want: 2, found: true},
		{name: "unknown", input: "@carol", found: false},
		{name: "empty", input: "@", found: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := ledger.FindByName(tt.input)
			if ok != tt.found {
				t.Fatalf("FindByName(%q) found=%v, want %v", tt.input, ok, tt.found)
			}
			if ok && m.ID != tt.want {
				t.Fatalf("FindByName(%q) = %d, want %d", tt.input, m.ID, tt.want)
			}
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	ledger := GroupLedger{1: {ID: 1, SentCount: 3}}
	cp := ledger.Clone()
	m := cp[1]
	m.SentCount = 10
	m.SentByRating[2] = 4
	cp[1] = m
	if ledger[1].SentCount != 3 || ledger[1].SentByRating[2] != 0 {
		t.Fatalf("оригинал изменился: %+v", ledger[1])
	}
}

func TestMemberNameFallback(t *testing.T) {
	if got := (Member{ID: 42}).Name(); got != "utente_42" {
		t.Fatalf("ожидали utente_42, получили %s", got)
	}
	if got := (Member{ID: 42, DisplayName: "neo"}).Name(); got != "neo" {
		t.Fatalf("ожидали neo, получили %s", got)
	}
}

func TestValidRating(t *testing.T) {
	for class := -1; class <= 6; class++ {
		want := class >= 0 && class <= 5
		if ValidRating(class) != want {
			t.Fatalf("ValidRating(%d) != %v", class, want)
		}
	}
}
