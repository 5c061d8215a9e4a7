package llm

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the tokenizer used for prompt budgets.
const DefaultEncoding = "cl100k_base"

// EstimateEncoding skips tiktoken and always uses the character estimate.
const EstimateEncoding = "estimate"

// charsPerToken is the estimate used when the encoding cannot be loaded.
const charsPerToken = 4

// Tokenizer counts and truncates text by model tokens. When the tiktoken
// encoding is unavailable it falls back to an estimate of four characters
// per token.
type Tokenizer struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
}

// NewTokenizer creates a tokenizer for encoding; empty means cl100k_base.
// The encoding loads lazily on first use.
func NewTokenizer(encoding string) *Tokenizer {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &Tokenizer{encoding: encoding}
}

func (t *Tokenizer) load() *tiktoken.Tiktoken {
	t.once.Do(func() {
		if t.encoding == EstimateEncoding {
			return
		}
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err == nil {
			t.enc = enc
		}
	})
	return t.enc
}

// Exact reports whether counts come from the real encoding.
func (t *Tokenizer) Exact() bool { return t.load() != nil }

// Count returns the number of tokens in text.
func (t *Tokenizer) Count(text string) int {
	if text == "" {
		return 0
	}
	if enc := t.load(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (utf8.RuneCountInString(text) + charsPerToken - 1) / charsPerToken
}

// Truncate returns the longest prefix of text that fits in maxTokens, and
// whether anything was cut.
func (t *Tokenizer) Truncate(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		return "", text != ""
	}
	if enc := t.load(); enc != nil {
		tokens := enc.Encode(text, nil, nil)
		if len(tokens) <= maxTokens {
			return text, false
		}
		return enc.Decode(tokens[:maxTokens]), true
	}
	limit := maxTokens * charsPerToken
	if utf8.RuneCountInString(text) <= limit {
		return text, false
	}
	runes := []rune(text)
	return string(runes[:limit]), true
}
