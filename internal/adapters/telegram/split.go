package telegram

import "strings"

const messageLimit = 4096

// SplitMessage режет текст на части не длиннее лимита Telegram.
// Предпочитает границы строк и не оставляет обратный слэш MarkdownV2 в конце части.
func SplitMessage(text string) []string {
	return splitRunes(text, messageLimit)
}

func splitRunes(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	runes := []rune(trimmed)
	if len(runes) <= limit {
		return []string{trimmed}
	}

	var parts []string
	for start := 0; start < len(runes); {
		end := start + limit
		if end >= len(runes) {
			if chunk := strings.Trim(string(runes[start:]), "\n"); chunk != "" {
				parts = append(parts, chunk)
			}
			break
		}

		split := -1
		for i := end; i > start; i-- {
			if runes[i-1] == '\n' {
				split = i
				break
			}
		}
		if split == -1 {
			split = end
			for split > start+1 && trailingEscape(runes[start:split]) {
				split--
			}
		}

		if chunk := strings.Trim(string(runes[start:split]), "\n"); chunk != "" {
			parts = append(parts, chunk)
		}
		start = split
		for start < len(runes) && runes[start] == '\n' {
			start++
		}
	}
	if len(parts) == 0 {
		return []string{trimmed}
	}
	return parts
}

// trailingEscape сообщает, что часть заканчивается неспаренным обратным слэшем.
func trailingEscape(chunk []rune) bool {
	n := 0
	for i := len(chunk) - 1; i >= 0 && chunk[i] == '\\'; i-- {
		n++
	}
	return n%2 == 1
}
