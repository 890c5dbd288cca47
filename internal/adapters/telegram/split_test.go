package telegram

import (
	"strings"
	"testing"
)

func TestSplitMessageRespectsLimit(t *testing.T) {
	var builder strings.Builder
	builder.WriteString(strings.Repeat("a", 3000))
	builder.WriteString("\n\n")
	builder.WriteString(strings.Repeat("b", 2000))
	builder.WriteString("\n")
	builder.WriteString(strings.Repeat("c", 500))

	parts := SplitMessage(builder.String())
	if len(parts) != 2 {
		t.Fatalf("ожидали 2 части, получили %d", len(parts))
	}
	for i, part := range parts {
		if length := len([]rune(part)); length > messageLimit {
			t.Fatalf("часть %d длиннее лимита: %d", i, length)
		}
	}
	if parts[0] != strings.Repeat("a", 3000) {
		t.Fatalf("неожиданное содержимое первой части")
	}
	if !strings.HasSuffix(parts[1], strings.Repeat("c", 500)) {
		t.Fatalf("вторая часть должна заканчиваться блоком 'c'")
	}
}

func TestSplitMessageKeepsEscapesTogether(t *testing.T) {
	text := strings.Repeat("x", 9) + `\.` + strings.Repeat("y", 5)
	parts := splitRunes(text, 10)
	if len(parts) < 2 {
		t.Fatalf("ожидали несколько частей, получили %d", len(parts))
	}
	for i, part := range parts {
		if trailingEscape([]rune(part)) {
			t.Fatalf("часть %d заканчивается обратным слэшем: %q", i, part)
		}
	}
	if strings.Join(parts, "") != text {
		t.Fatalf("части не собираются в исходный текст: %q", parts)
	}
}

func TestSplitMessageShortText(t *testing.T) {
	parts := SplitMessage("ciao")
	if len(parts) != 1 || parts[0] != "ciao" {
		t.Fatalf("неожиданный результат: %q", parts)
	}
}

func TestSplitMessageEmpty(t *testing.T) {
	if parts := SplitMessage("   \n  "); len(parts) != 0 {
		t.Fatalf("ожидали пустой результат, получили %d частей", len(parts))
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	cases := map[string]string{
		"mario_rossi": `mario\_rossi`,
		"1.5!":        `1\.5\!`,
		`a\b`:         `a\\b`,
		"plain":       "plain",
	}
	for input, expected := range cases {
		if got := EscapeMarkdownV2(input); got != expected {
			t.Fatalf("%q: ожидали %q, получили %q", input, expected, got)
		}
	}
	if got := Mention("@mario_rossi"); got != `@mario\_rossi` {
		t.Fatalf("неожиданное упоминание %q", got)
	}
}
