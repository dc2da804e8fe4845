package tokenizer

import "github.com/nine5427/memengine/internal/domain/memengine/token"

// DefaultRates is a starter per-million-token price table for well-known
// models, in the CostPer1MIn/CostPer1MOut shape. Callers extend or replace
// this map; an unknown model simply costs 0 with a logged warning.
func DefaultRates() map[string]token.ModelRate {
	return map[string]token.ModelRate{
		"claude-3-5-sonnet":   {CostPer1MIn: 3.0, CostPer1MOut: 15.0},
		"claude-3-5-haiku":    {CostPer1MIn: 0.8, CostPer1MOut: 4.0},
		"claude-3-opus":       {CostPer1MIn: 15.0, CostPer1MOut: 75.0},
		"gpt-4o":              {CostPer1MIn: 2.5, CostPer1MOut: 10.0},
		"gpt-4o-mini":         {CostPer1MIn: 0.15, CostPer1MOut: 0.6},
		"gemini-1.5-pro":      {CostPer1MIn: 1.25, CostPer1MOut: 5.0},
		"gemini-1.5-flash":    {CostPer1MIn: 0.075, CostPer1MOut: 0.3},
	}
}
