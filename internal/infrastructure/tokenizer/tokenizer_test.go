package tokenizer

import "testing"

func TestCharRatioTokenizer_CountTokens(t *testing.T) {
	tok := CharRatioTokenizer{CharsPerToken: 4.0}
	if n := tok.CountTokens(""); n != 0 {
		t.Fatalf("expected 0 tokens for empty text, got %d", n)
	}
	if n := tok.CountTokens("abcd"); n != 1 {
		t.Fatalf("expected 1 token for 4 chars at ratio 4, got %d", n)
	}
	if n := tok.CountTokens("abcde"); n != 2 {
		t.Fatalf("expected ceil(5/4)=2 tokens, got %d", n)
	}
}

func TestCharRatioTokenizer_ZeroRatioFallsBackToDefault(t *testing.T) {
	tok := CharRatioTokenizer{}
	if n := tok.CountTokens("abcd"); n != 1 {
		t.Fatalf("expected zero-value ratio to fall back to 4 chars/token, got %d", n)
	}
}

func TestNewHeuristicTokenizer_UsesDocumentedRatio(t *testing.T) {
	tok := NewHeuristicTokenizer()
	if tok.CharsPerToken != 4.0 {
		t.Fatalf("expected 4.0 chars/token heuristic, got %v", tok.CharsPerToken)
	}
}

func TestNewAnthropicTokenizer_UsesDistinctRatio(t *testing.T) {
	tok := NewAnthropicTokenizer()
	if tok.CharsPerToken != 3.5 {
		t.Fatalf("expected 3.5 chars/token for anthropic, got %v", tok.CharsPerToken)
	}
}

func TestDefaultRates_CoversKnownModels(t *testing.T) {
	rates := DefaultRates()
	for _, model := range []string{"claude-3-5-sonnet", "gpt-4o", "gemini-1.5-pro"} {
		rate, ok := rates[model]
		if !ok {
			t.Fatalf("expected a rate entry for %s", model)
		}
		if rate.CostPer1MIn <= 0 || rate.CostPer1MOut <= 0 {
			t.Fatalf("expected positive cost rates for %s, got %+v", model, rate)
		}
	}
}
