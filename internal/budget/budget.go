// Package budget approximates prompt size in whitespace-delimited words.
//
// The count is provider-agnostic and only bounds how much text goes into a
// prompt; it is not a billing tokenizer.
package budget

import "strings"

// Marker is appended to text that lost words to truncation.
const Marker = "..."

// CountTokens returns the number of whitespace-delimited words in text.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}

// TruncateToTokenBudget returns the first maxTokens words of text joined by
// single spaces, followed by Marker when any word was dropped. Text that
// already fits is returned unchanged.
func TruncateToTokenBudget(text string, maxTokens int) string {
	words := strings.Fields(text)
	if len(words) <= maxTokens {
		return text
	}
	if maxTokens < 0 {
		maxTokens = 0
	}
	return strings.Join(words[:maxTokens], " ") + Marker
}

// Remaining returns how many tokens are left under ceiling after used.
func Remaining(ceiling, used int) int {
	if used >= ceiling {
		return 0
	}
	return ceiling - used
}
