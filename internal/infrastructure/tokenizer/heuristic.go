// Package tokenizer provides the concrete Tokenizer implementations wired
// into the Token Counter's registry at engine construction. The engine
// itself never imports a tokenizer library directly (per the tokenizer
// pluggability design note) — these are injected adapters.
package tokenizer

import "math"

// CharRatioTokenizer approximates token count as ceil(len(text) / ratio).
// It is the documented heuristic fallback (≈4 chars/token) generalized with
// a per-provider ratio, since different tokenizer families compress English
// text at slightly different average rates.
type CharRatioTokenizer struct {
	CharsPerToken float64
}

// CountTokens implements token.Tokenizer.
func (t CharRatioTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if t.CharsPerToken <= 0 {
		t.CharsPerToken = 4.0
	}
	return int(math.Ceil(float64(len(text)) / t.CharsPerToken))
}

// NewHeuristicTokenizer returns the documented ≈4 chars/token fallback used
// when no provider-specific tokenizer is registered.
func NewHeuristicTokenizer() CharRatioTokenizer {
	return CharRatioTokenizer{CharsPerToken: 4.0}
}

// NewAnthropicTokenizer returns the heuristic counter registered for the
// "anthropic" provider family.
func NewAnthropicTokenizer() CharRatioTokenizer {
	return CharRatioTokenizer{CharsPerToken: 3.5}
}

// NewOpenAITokenizer returns the heuristic counter registered for the
// "openai" provider family.
func NewOpenAITokenizer() CharRatioTokenizer {
	return CharRatioTokenizer{CharsPerToken: 4.0}
}

// NewGeminiTokenizer returns the heuristic counter registered for the
// "gemini" provider family.
func NewGeminiTokenizer() CharRatioTokenizer {
	return CharRatioTokenizer{CharsPerToken: 4.0}
}
