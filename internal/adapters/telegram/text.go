package telegram

import "strings"

const markdownV2Special = "_*[]()~`>#+-=|{}.!\\"

var markdownV2Replacer = func() *strings.Replacer {
	pairs := make([]string, 0, len(markdownV2Special)*2)
	for _, r := range markdownV2Special {
		pairs = append(pairs, string(r), "\\"+string(r))
	}
	return strings.NewReplacer(pairs...)
}()

// EscapeMarkdownV2 экранирует служебные символы MarkdownV2.
func EscapeMarkdownV2(text string) string {
	return markdownV2Replacer.Replace(text)
}

// Mention экранированное упоминание @name.
func Mention(name string) string {
	return "@" + EscapeMarkdownV2(strings.TrimPrefix(name, "@"))
}
