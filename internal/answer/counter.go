package answer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const (
	CounterTokens = "tokens"
	CounterChars  = "chars"

	// DefaultEncoding is the tiktoken encoding used for token budgets
	DefaultEncoding = "cl100k_base"

	// charsPerToken approximates tokens when no encoding is available
	charsPerToken = 4
)

// Counter measures text against the context budget
type Counter interface {
	// Count returns the size of text in budget units
	Count(text string) int

	// Truncate returns the longest prefix of text whose size is at most n
	Truncate(text string, n int) string

	// Unit names the budget unit
	Unit() string
}

// NewCounter returns a counter for kind. The tokens counter falls back to a
// chars/4 estimate when the tiktoken encoding cannot be loaded.
func NewCounter(kind string) (Counter, error) {
	switch strings.ToLower(kind) {
	case CounterTokens, "":
		enc, err := tiktoken.GetEncoding(DefaultEncoding)
		if err != nil {
			return EstimateCounter{}, nil
		}
		return &TokenCounter{enc: enc}, nil
	case CounterChars:
		return CharCounter{}, nil
	default:
		return nil, fmt.Errorf("unknown budget counter %q", kind)
	}
}

// TokenCounter counts tiktoken tokens
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *TokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

func (c *TokenCounter) Truncate(text string, n int) string {
	if n <= 0 {
		return ""
	}
	tokens := c.enc.Encode(text, nil, nil)
	if len(tokens) <= n {
		return text
	}
	out := c.enc.Decode(tokens[:n])
	// a cut inside a multi-byte rune decodes to a replacement character
	return strings.TrimRight(out, string(utf8.RuneError))
}

func (c *TokenCounter) Unit() string { return CounterTokens }

// CharCounter counts characters
type CharCounter struct{}

func (CharCounter) Count(text string) int { return utf8.RuneCountInString(text) }

func (CharCounter) Truncate(text string, n int) string {
	return truncateRunes(text, n)
}

func (CharCounter) Unit() string { return CounterChars }

// EstimateCounter approximates tokens as one per four characters
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int {
	chars := utf8.RuneCountInString(text)
	return (chars + charsPerToken - 1) / charsPerToken
}

func (EstimateCounter) Truncate(text string, n int) string {
	return truncateRunes(text, n*charsPerToken)
}

func (EstimateCounter) Unit() string { return CounterTokens }

func truncateRunes(text string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range text {
		if count == n {
			return text[:i]
		}
		count++
	}
	return text
}
