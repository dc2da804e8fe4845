// Package token implements the engine's Token Counter: per-(provider,
// model) token accounting with content-hash caching, cumulative usage
// tracking, and cost calculation.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/nine5427/memengine/internal/domain/memengine"
)

// Tokenizer counts tokens in a string for one provider/model family. The
// Token Counter never imports a tokenizer library directly — it depends on
// this interface, populated into the registry at construction time.
type Tokenizer interface {
	CountTokens(text string) int
}

// ProviderModel identifies a (provider, model) pair in the tokenizer
// registry and the content-hash cache.
type ProviderModel struct {
	Provider string
	Model    string
}

// ModelRate is the per-million-token pricing for one model, used by
// CalculateCost.
type ModelRate struct {
	CostPer1MIn  float64
	CostPer1MOut float64
}

// BudgetStatus is the result of GetBudgetStatus.
type BudgetStatus struct {
	Total      int
	Remaining  int
	Percentage float64
	OverBudget bool
}

const (
	structuralOverheadTokens = 4
	roleOverheadTokens       = 3
	attachmentOverheadTokens = 85
)

type cacheKey struct {
	role          string
	contentHash   string
	toolCallsHash string
	toolCallID    string
	name          string
	provider      string
	model         string
}

// Counter is the Token Counter. Count is synchronous and must never
// suspend; the mutex below only guards the registry/cache maps, never I/O.
type Counter struct {
	mu             sync.RWMutex
	tokenizers     map[ProviderModel]Tokenizer
	fallback       Tokenizer
	warnedFallback map[ProviderModel]bool
	cache          map[cacheKey]int
	rates          map[string]ModelRate

	totalInput         int64
	totalOutput        int64
	compressionSavings int64
	compressionCost    int64

	logger *zap.Logger
}

// NewCounter builds a Counter with the given heuristic fallback tokenizer
// and model rate table. logger may be nil.
func NewCounter(fallback Tokenizer, rates map[string]ModelRate, logger *zap.Logger) *Counter {
	if rates == nil {
		rates = map[string]ModelRate{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Counter{
		tokenizers:     make(map[ProviderModel]Tokenizer),
		fallback:       fallback,
		warnedFallback: make(map[ProviderModel]bool),
		cache:          make(map[cacheKey]int),
		rates:          rates,
		logger:         logger,
	}
}

// Register installs a tokenizer for a specific (provider, model) pair.
func (c *Counter) Register(provider, model string, t Tokenizer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenizers[ProviderModel{Provider: provider, Model: model}] = t
}

// Count returns the token count for msg under (provider, model), serving
// from the content-hash cache when possible.
func (c *Counter) Count(msg memengine.Message, provider, model string) int {
	key := c.makeKey(msg, provider, model)

	c.mu.RLock()
	if n, ok := c.cache[key]; ok {
		c.mu.RUnlock()
		return n
	}
	c.mu.RUnlock()

	tok := c.lookupTokenizer(provider, model)
	n := countMessage(msg, tok)

	c.mu.Lock()
	c.cache[key] = n
	c.mu.Unlock()
	return n
}

func (c *Counter) lookupTokenizer(provider, model string) Tokenizer {
	pm := ProviderModel{Provider: provider, Model: model}

	c.mu.RLock()
	t, ok := c.tokenizers[pm]
	c.mu.RUnlock()
	if ok {
		return t
	}

	c.mu.Lock()
	alreadyWarned := c.warnedFallback[pm]
	c.warnedFallback[pm] = true
	c.mu.Unlock()

	if !alreadyWarned {
		c.logger.Warn("tokenizer unavailable, falling back to heuristic counter",
			zap.String("provider", provider), zap.String("model", model))
	}
	return c.fallback
}

func countMessage(msg memengine.Message, tok Tokenizer) int {
	total := roleOverheadTokens

	switch v := msg.Content.(type) {
	case memengine.TextContent:
		total += tok.CountTokens(v.Text)
	case memengine.BlockContent:
		for _, b := range v.Blocks {
			switch b.Type {
			case memengine.BlockText:
				total += tok.CountTokens(b.Text)
			case memengine.BlockToolUse:
				total += structuralOverheadTokens
				if b.ToolUse != nil {
					total += tok.CountTokens(b.ToolUse.Name)
					total += tok.CountTokens(argsToString(b.ToolUse.Arguments))
				}
			case memengine.BlockToolResult:
				total += structuralOverheadTokens
				if b.ToolResult != nil {
					total += tok.CountTokens(b.ToolResult.Content)
				}
			}
		}
	}

	for _, tc := range msg.ToolCalls {
		total += structuralOverheadTokens
		total += tok.CountTokens(tc.Name)
		total += tok.CountTokens(argsToString(tc.Arguments))
	}

	if msg.Role == memengine.RoleTool {
		total += tok.CountTokens(msg.Name)
	}

	total += len(msg.Attachments) * attachmentOverheadTokens

	return total
}

func argsToString(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	b, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(b)
}

func (c *Counter) makeKey(msg memengine.Message, provider, model string) cacheKey {
	return cacheKey{
		role:          string(msg.Role),
		contentHash:   hashContent(msg.Content),
		toolCallsHash: hashToolCalls(msg.ToolCalls),
		toolCallID:    msg.ToolCallID,
		name:          msg.Name,
		provider:      provider,
		model:         model,
	}
}

// hashContent produces a stable SHA-256 hash over a canonical serialization
// of msg.Content, with blocks hashed in declared order.
func hashContent(content memengine.Content) string {
	switch v := content.(type) {
	case memengine.TextContent:
		return hashBytes(mustJSON(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{"text", v.Text}))
	case memengine.BlockContent:
		canon := make([]map[string]interface{}, 0, len(v.Blocks))
		for _, b := range v.Blocks {
			m := map[string]interface{}{"type": string(b.Type)}
			switch b.Type {
			case memengine.BlockText:
				m["text"] = b.Text
			case memengine.BlockToolUse:
				if b.ToolUse != nil {
					m["id"] = b.ToolUse.ID
					m["name"] = b.ToolUse.Name
					m["arguments"] = b.ToolUse.Arguments
				}
			case memengine.BlockToolResult:
				if b.ToolResult != nil {
					m["tool_use_id"] = b.ToolResult.ToolUseID
					m["content"] = b.ToolResult.Content
				}
			}
			canon = append(canon, m)
		}
		return hashBytes(mustJSON(canon))
	default:
		return hashBytes([]byte("null"))
	}
}

func hashToolCalls(calls []memengine.ToolCallInfo) string {
	if len(calls) == 0 {
		return hashBytes([]byte("[]"))
	}
	sorted := make([]memengine.ToolCallInfo, len(calls))
	copy(sorted, calls)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return hashBytes(mustJSON(sorted))
}

func mustJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// RecordUsage accumulates authoritative input/output counts from an LLM
// response's usage field.
func (c *Counter) RecordUsage(input, output int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalInput += int64(input)
	c.totalOutput += int64(output)
}

// AddCompressionSavings records tokens saved by a compression pass.
func (c *Counter) AddCompressionSavings(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compressionSavings += int64(n)
}

// AddCompressionCost records tokens spent producing a compression summary.
func (c *Counter) AddCompressionCost(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compressionCost += int64(n)
}

// TotalInputTokens returns the cumulative recorded input tokens.
func (c *Counter) TotalInputTokens() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalInput
}

// TotalOutputTokens returns the cumulative recorded output tokens.
func (c *Counter) TotalOutputTokens() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalOutput
}

// CompressionSavings returns the cumulative tokens saved by compression.
func (c *Counter) CompressionSavings() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.compressionSavings
}

// CompressionCost returns the cumulative tokens spent on compression calls.
func (c *Counter) CompressionCost() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.compressionCost
}

// CalculateCost looks up model's per-million rate and applies it to the
// cumulative input/output totals. Returns 0 and logs a warning for an
// unknown model; never fails.
func (c *Counter) CalculateCost(model string) float64 {
	c.mu.RLock()
	rate, ok := c.rates[model]
	input := c.totalInput
	output := c.totalOutput
	c.mu.RUnlock()

	if !ok {
		c.logger.Warn("no cost rate registered for model, returning 0", zap.String("model", model))
		return 0
	}

	return rate.CostPer1MIn/1e6*float64(input) + rate.CostPer1MOut/1e6*float64(output)
}

// GetBudgetStatus compares current against max and reports the remaining
// headroom.
func (c *Counter) GetBudgetStatus(max, current int) BudgetStatus {
	if max <= 0 {
		return BudgetStatus{Total: max, Remaining: 0, Percentage: 100, OverBudget: current > 0}
	}
	pct := float64(current) / float64(max) * 100
	return BudgetStatus{
		Total:      max,
		Remaining:  max - current,
		Percentage: pct,
		OverBudget: current > max,
	}
}

// Reset zeroes all counters and clears the content-hash cache. Registered
// tokenizers are kept — they are construction-time configuration, not
// accumulated state.
func (c *Counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalInput = 0
	c.totalOutput = 0
	c.compressionSavings = 0
	c.compressionCost = 0
	c.cache = make(map[cacheKey]int)
	c.warnedFallback = make(map[ProviderModel]bool)
}
