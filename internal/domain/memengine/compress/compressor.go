// Package compress implements the Compressor: given a contiguous run of
// messages, produce a Summary while honoring Invariant M1 (tool-pair
// completeness) and role policies.
package compress

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nine5427/memengine/internal/domain/memengine"
)

// ErrHierarchicalNotImplemented is returned if the hierarchical strategy is
// ever selected. No call site in this engine selects it — it is a reserved
// variant per Open Question 3, not required for conformance.
var ErrHierarchicalNotImplemented = errors.New("hierarchical compression is a reserved strategy and is not implemented")

// Summarizer is the external LLM collaborator that turns a prompt into
// summary text. It is the only suspension point inside Compress.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string, targetTokens int) (string, error)
}

// TokenCounter is the subset of the Token Counter the Compressor depends on.
type TokenCounter interface {
	Count(msg memengine.Message, provider, model string) int
}

// Compressor runs the configured or auto-selected compression strategy.
type Compressor struct {
	summarizer Summarizer
	counter    TokenCounter
	provider   string
	model      string
	logger     *zap.Logger
}

// New builds a Compressor. provider/model identify the (provider, model)
// pair used when the Compressor itself needs to count tokens (e.g. to size
// the produced summary text).
func New(summarizer Summarizer, counter TokenCounter, provider, model string, logger *zap.Logger) *Compressor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compressor{summarizer: summarizer, counter: counter, provider: provider, model: model, logger: logger}
}

// Compress produces a Summary for run under cfg. strategy ==
// memengine.StrategyAuto triggers the auto-selection rule. todoContext, if
// non-empty, is injected into the summarization prompt ahead of the
// message transcript so live task state survives compression.
func (c *Compressor) Compress(ctx context.Context, run []memengine.Message, cfg memengine.Config, strategy memengine.Strategy, todoContext string) (memengine.Summary, error) {
	if strategy == memengine.StrategyAuto {
		strategy = c.selectStrategy(run)
	}

	switch strategy {
	case memengine.StrategyDeletion:
		return c.deletion(run), nil
	case memengine.StrategySlidingWindow:
		return c.slidingWindow(ctx, run, cfg, todoContext)
	case memengine.StrategySelective:
		return c.selective(ctx, run, cfg, todoContext)
	case memengine.StrategyHierarchical:
		return memengine.Summary{}, ErrHierarchicalNotImplemented
	default:
		return memengine.Summary{}, fmt.Errorf("unknown compression strategy %q", strategy)
	}
}

// selectStrategy implements the auto-selection rule: any tool block in the
// run forces selective; else short runs are simply deleted; else the whole
// run collapses into one sliding-window summary.
func (c *Compressor) selectStrategy(run []memengine.Message) memengine.Strategy {
	for _, m := range run {
		if m.HasToolBlocks() {
			return memengine.StrategySelective
		}
	}
	if len(run) < 5 {
		return memengine.StrategyDeletion
	}
	return memengine.StrategySlidingWindow
}

func (c *Compressor) deletion(run []memengine.Message) memengine.Summary {
	return memengine.Summary{
		OriginalMessageCount: len(run),
		OriginalTokens:       c.sumTokens(run),
		Metadata:             map[string]interface{}{"strategy": string(memengine.StrategyDeletion)},
		CreatedAt:            time.Now(),
	}
}

func (c *Compressor) slidingWindow(ctx context.Context, run []memengine.Message, cfg memengine.Config, todoContext string) (memengine.Summary, error) {
	originalTokens := c.sumTokens(run)
	targetTokens := targetSummaryTokens(originalTokens, cfg.CompressionRatio)
	prompt := buildSummaryPrompt(run, todoContext)

	text, err := c.summarizer.Summarize(ctx, prompt, targetTokens)
	if err != nil {
		c.logger.Debug("sliding_window summarization failed, degrading", zap.Error(err))
		return c.degradedSummary(run, originalTokens, err, memengine.StrategySlidingWindow), nil
	}

	compressedTokens := c.textTokens(text)
	return memengine.Summary{
		Text:                 text,
		OriginalMessageCount: len(run),
		OriginalTokens:       originalTokens,
		CompressedTokens:     compressedTokens,
		Ratio:                ratioOf(compressedTokens, originalTokens),
		Metadata:             map[string]interface{}{"strategy": string(memengine.StrategySlidingWindow)},
		CreatedAt:            time.Now(),
	}, nil
}

func (c *Compressor) selective(ctx context.Context, run []memengine.Message, cfg memengine.Config, todoContext string) (memengine.Summary, error) {
	preserved := partitionSelective(run, cfg)

	var preservedMsgs, compressible []memengine.Message
	for i, m := range run {
		if preserved[i] {
			preservedMsgs = append(preservedMsgs, m)
		} else {
			compressible = append(compressible, m)
		}
	}

	originalTokens := c.sumTokens(run)

	if len(compressible) == 0 {
		return memengine.Summary{
			PreservedMessages:    preservedMsgs,
			OriginalMessageCount: len(run),
			OriginalTokens:       originalTokens,
			Metadata:             map[string]interface{}{"strategy": string(memengine.StrategySelective)},
			CreatedAt:            time.Now(),
		}, nil
	}

	compressibleTokens := c.sumTokens(compressible)
	targetTokens := targetSummaryTokens(compressibleTokens, cfg.CompressionRatio)
	prompt := buildSummaryPrompt(compressible, todoContext)

	text, err := c.summarizer.Summarize(ctx, prompt, targetTokens)
	if err != nil {
		c.logger.Debug("selective summarization failed, degrading", zap.Error(err))
		return c.degradedSummary(run, originalTokens, err, memengine.StrategySelective), nil
	}

	compressedTokens := c.textTokens(text)
	return memengine.Summary{
		Text:                 text,
		PreservedMessages:    preservedMsgs,
		OriginalMessageCount: len(run),
		OriginalTokens:       originalTokens,
		CompressedTokens:     compressedTokens,
		Ratio:                ratioOf(compressedTokens, originalTokens),
		Metadata:             map[string]interface{}{"strategy": string(memengine.StrategySelective)},
		CreatedAt:            time.Now(),
	}, nil
}

// degradedSummary implements the §4.3 failure semantics: sentinel text,
// [first, last] of the whole run preserved, and an `error` metadata tag.
func (c *Compressor) degradedSummary(run []memengine.Message, originalTokens int, cause error, strategy memengine.Strategy) memengine.Summary {
	var preserved []memengine.Message
	if len(run) > 0 {
		preserved = append(preserved, run[0])
		if len(run) > 1 {
			preserved = append(preserved, run[len(run)-1])
		}
	}
	return memengine.Summary{
		Text:                 memengine.DegradedSummaryText,
		PreservedMessages:    preserved,
		OriginalMessageCount: len(run),
		OriginalTokens:       originalTokens,
		CompressedTokens:     0,
		Ratio:                0,
		Metadata: map[string]interface{}{
			"strategy": string(strategy),
			"error":    cause.Error(),
		},
		CreatedAt: time.Now(),
	}
}

func (c *Compressor) sumTokens(msgs []memengine.Message) int {
	total := 0
	for _, m := range msgs {
		total += c.counter.Count(m, c.provider, c.model)
	}
	return total
}

func (c *Compressor) textTokens(text string) int {
	return c.counter.Count(memengine.Message{Role: memengine.RoleUser, Content: memengine.TextContent{Text: text}}, c.provider, c.model)
}

func ratioOf(compressed, original int) float64 {
	if original <= 0 {
		return 0
	}
	return float64(compressed) / float64(original)
}

// targetSummaryTokens is round(original_tokens × compression_ratio), floored
// at 500.
func targetSummaryTokens(originalTokens int, ratio float64) int {
	t := int(math.Round(float64(originalTokens) * ratio))
	if t < 500 {
		t = 500
	}
	return t
}

// buildSummaryPrompt formats the compressible set with role labels and
// indexed ordering, asking for the five preservation categories from the
// summary prompt contract.
func buildSummaryPrompt(messages []memengine.Message, todoContext string) string {
	var b strings.Builder
	b.WriteString("Summarize the conversation segment below. Preserve: key decisions and outcomes; ")
	b.WriteString("important facts, data, and findings; tool usage patterns and results; user intent and goals; ")
	b.WriteString("and critical context for future interactions.\n\n")

	if todoContext != "" {
		b.WriteString("Current task list:\n")
		b.WriteString(todoContext)
		b.WriteString("\n\n")
	}

	for i, m := range messages {
		text := m.TextContentOf()
		for _, tc := range m.ToolUseEntries() {
			text += fmt.Sprintf(" <tool_use id=%q name=%q>", tc.ID, tc.Name)
		}
		for _, tr := range m.ToolResultEntries() {
			text += fmt.Sprintf(" <tool_result for=%q>%s</tool_result>", tr.ToolUseID, tr.Content)
		}
		fmt.Fprintf(&b, "[%d] %s: %s\n", i, m.Role, text)
	}

	return b.String()
}

// partitionSelective runs the selective partition algorithm and returns the
// set of preserved message indices.
func partitionSelective(run []memengine.Message, cfg memengine.Config) map[int]bool {
	n := len(run)
	preserved := make(map[int]bool, n)

	type pairInfo struct {
		name      string
		useIdx    int
		resultIdx int
	}

	toolUsePos := make(map[string]int)
	toolUseName := make(map[string]string)
	toolResultPos := make(map[string]int)

	for i, m := range run {
		for _, tc := range m.ToolUseEntries() {
			toolUsePos[tc.ID] = i
			toolUseName[tc.ID] = tc.Name
		}
		for _, tr := range m.ToolResultEntries() {
			toolResultPos[tr.ToolUseID] = i
		}
	}

	var pairs []pairInfo
	orphanIdx := make(map[int]bool)

	for id, useIdx := range toolUsePos {
		if resultIdx, ok := toolResultPos[id]; ok {
			pairs = append(pairs, pairInfo{name: toolUseName[id], useIdx: useIdx, resultIdx: resultIdx})
		} else {
			orphanIdx[useIdx] = true
		}
	}
	for id, resultIdx := range toolResultPos {
		if _, ok := toolUsePos[id]; !ok {
			orphanIdx[resultIdx] = true
		}
	}

	if cfg.PreserveSystemPrompts {
		for i, m := range run {
			if m.Role == memengine.RoleSystem {
				preserved[i] = true
			}
		}
	}

	for _, p := range pairs {
		if cfg.IsProtectedTool(p.name) {
			preserved[p.useIdx] = true
			preserved[p.resultIdx] = true
		}
	}

	for idx := range orphanIdx {
		preserved[idx] = true
	}

	minRecency := cfg.MinRecencyWindow
	if minRecency > n {
		minRecency = n
	}
	for i := n - minRecency; i < n; i++ {
		if i >= 0 {
			preserved[i] = true
		}
	}

	// Invariant C1: iterate to fixpoint so no matched pair is split between
	// preserved and compressible.
	for {
		changed := false
		for _, p := range pairs {
			usePreserved := preserved[p.useIdx]
			resultPreserved := preserved[p.resultIdx]
			if usePreserved != resultPreserved {
				preserved[p.useIdx] = true
				preserved[p.resultIdx] = true
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	return preserved
}
