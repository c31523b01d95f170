package inference

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultDOMTokenBudget bounds how much serialized DOM goes into one prompt.
const DefaultDOMTokenBudget = 12000

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// TruncateToTokens trims text to at most budget tokens (cl100k_base),
// appending a truncation marker when anything was cut. If the encoding is
// unavailable it falls back to a conservative byte estimate, never cutting
// mid-rune.
func TruncateToTokens(text string, budget int) string {
	if budget <= 0 || text == "" {
		return text
	}

	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})

	if encoding != nil {
		tokens := encoding.Encode(text, nil, nil)
		if len(tokens) <= budget {
			return text
		}
		return encoding.Decode(tokens[:budget]) + "\n...[TRUNCATED]"
	}

	// Rough fallback: ~4 bytes per token.
	limit := budget * 4
	if len(text) <= limit {
		return text
	}
	runes := []rune(text)
	if len(runes) > limit {
		runes = runes[:limit]
	}
	return string(runes) + "\n...[TRUNCATED]"
}
