package main

import (
	"context"
	"fmt"
	"strings"
)

// fakeSummarizer stands in for a real LLM call: it returns a deterministic
// digest of the prompt truncated to roughly targetTokens worth of
// characters, using the same 4-chars/token heuristic as the fallback
// tokenizer. It never errors, so the demo never exercises the Compressor's
// degraded-summary path — that path is covered by compress package tests.
type fakeSummarizer struct{}

func newFakeSummarizer() *fakeSummarizer {
	return &fakeSummarizer{}
}

func (f *fakeSummarizer) Summarize(ctx context.Context, prompt string, targetTokens int) (string, error) {
	maxChars := targetTokens * 4
	lines := strings.Split(prompt, "\n")

	var b strings.Builder
	b.WriteString("Summary of prior conversation:\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if b.Len()+len(line)+1 > maxChars {
			break
		}
		fmt.Fprintf(&b, "- %s\n", line)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
