// Package manager implements the Memory Manager: the orchestrator that
// routes writes, decides when to compress, assembles context, and exposes
// statistics. It is the sole mutex-guarded boundary in the engine (see the
// concurrency model) — Token Counter.Count itself never suspends or locks
// across I/O.
package manager

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nine5427/memengine/internal/domain/memengine"
	"github.com/nine5427/memengine/internal/domain/memengine/compress"
	"github.com/nine5427/memengine/internal/domain/memengine/shortterm"
	"github.com/nine5427/memengine/internal/domain/memengine/token"
	apperrors "github.com/nine5427/memengine/pkg/errors"
)

// TokenUsage is the actual_tokens argument to AddMessage: authoritative
// counts from an LLM response's usage field.
type TokenUsage struct {
	Input  int
	Output int
}

// Stats mirrors get_stats().
type Stats struct {
	CurrentTokens     int
	TotalInputTokens  int64
	TotalOutputTokens int64
	CompressionCount  int
	TotalSavings      int64
	CompressionCost   int64
	NetSavings        int64
	ShortTermCount    int
	SummaryCount      int
	TotalCost         float64
	BudgetStatus      token.BudgetStatus
}

// Manager owns system messages, the short-term buffer, and the summary
// list. It is constructed once per session — there is no package-level
// state anywhere in this engine.
type Manager struct {
	mu sync.Mutex

	cfg      memengine.Config
	provider string
	model    string

	counter    *token.Counter
	shortTerm  *shortterm.Buffer
	compressor *compress.Compressor

	systemMessages []memengine.Message
	summaries      []memengine.Summary

	currentTokens              int
	compressionCount           int
	lastCompressionSavings     int
	wasCompressedLastIteration bool

	todoContextProvider func() string

	logger *zap.Logger
}

// New constructs a Manager bound to one (provider, model) pair.
func New(cfg memengine.Config, provider, model string, counter *token.Counter, compressor *compress.Compressor, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:        cfg,
		provider:   provider,
		model:      model,
		counter:    counter,
		shortTerm:  shortterm.New(cfg.ShortTermMessageCount),
		compressor: compressor,
		logger:     logger,
	}
}

// SetTodoContextProvider installs the optional callback invoked just before
// compression to inject current task-list state into the summary input.
func (m *Manager) SetTodoContextProvider(fn func() string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.todoContextProvider = fn
}

// AddMessage validates and routes msg, accounts for its tokens, and
// auto-compresses if a threshold fires. actualTokens may be nil.
func (m *Manager) AddMessage(ctx context.Context, msg memengine.Message, actualTokens *TokenUsage) error {
	normalized, err := memengine.NormalizeMessage(msg)
	if err != nil {
		return apperrors.NewInvalidMessageError(err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if actualTokens != nil {
		m.counter.RecordUsage(actualTokens.Input, actualTokens.Output)
	}

	msgTokens := m.counter.Count(normalized, m.provider, m.model)

	if normalized.Role == memengine.RoleSystem {
		m.systemMessages = append(m.systemMessages, normalized)
	} else {
		m.shortTerm.Add(normalized)
	}
	m.currentTokens += msgTokens
	m.wasCompressedLastIteration = false

	if should, reason := m.shouldCompressLocked(); should {
		if _, cerr := m.compressLocked(ctx, memengine.StrategyAuto); cerr != nil {
			m.logger.Warn("auto-compression did not run", zap.String("reason", reason), zap.Error(cerr))
		}
	}

	return nil
}

// shouldCompressLocked implements the threshold logic. Hard limit takes
// precedence over soft limit.
func (m *Manager) shouldCompressLocked() (bool, string) {
	if !m.cfg.EnableCompression {
		return false, ""
	}
	if m.currentTokens > m.cfg.CompressionThreshold {
		return true, "hard_limit"
	}
	if m.currentTokens > m.cfg.TargetWorkingMemoryTokens && m.shortTerm.Count() >= m.cfg.ShortTermMessageCount {
		return true, "soft_limit"
	}
	return false, ""
}

// Compress forces a compression pass. strategy == memengine.StrategyAuto
// lets the Compressor auto-select. Returns nil, nil if the short-term
// buffer is empty.
func (m *Manager) Compress(ctx context.Context, strategy memengine.Strategy) (*memengine.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compressLocked(ctx, strategy)
}

func (m *Manager) compressLocked(ctx context.Context, strategy memengine.Strategy) (*memengine.Summary, error) {
	run := m.shortTerm.GetMessages()
	if len(run) == 0 {
		return nil, nil
	}

	todoContext := ""
	if m.todoContextProvider != nil {
		todoContext = m.todoContextProvider()
	}

	summary, err := m.compressor.Compress(ctx, run, m.cfg, strategy, todoContext)
	if err != nil {
		// Reserved-strategy / programmer errors only; CompressionFailed
		// (LLM call errors) never reaches here — the Compressor already
		// degraded gracefully per its failure semantics.
		return nil, err
	}

	m.summaries = append(m.summaries, summary)
	m.shortTerm.Clear()

	savings := summary.OriginalTokens - summary.CompressedTokens
	if savings > 0 {
		m.counter.AddCompressionSavings(savings)
	}
	if summary.CompressedTokens > 0 {
		m.counter.AddCompressionCost(summary.CompressedTokens)
	}

	m.compressionCount++
	m.lastCompressionSavings = savings
	m.wasCompressedLastIteration = true

	m.recomputeCurrentTokensLocked()

	return &summary, nil
}

// recomputeCurrentTokensLocked recomputes current_tokens from the
// authoritative current state: system + summaries (wrapper message plus
// preserved messages) + short-term.
func (m *Manager) recomputeCurrentTokensLocked() {
	total := 0
	for _, sm := range m.systemMessages {
		total += m.counter.Count(sm, m.provider, m.model)
	}
	for _, s := range m.summaries {
		total += m.counter.Count(summaryAsMessage(s), m.provider, m.model)
		for _, pm := range s.PreservedMessages {
			total += m.counter.Count(pm, m.provider, m.model)
		}
	}
	for _, sm := range m.shortTerm.GetMessages() {
		total += m.counter.Count(sm, m.provider, m.model)
	}
	m.currentTokens = total
}

// summaryAsMessage wraps a Summary as the user-role message with the
// sentinel prefix, per Invariant M2.
func summaryAsMessage(s memengine.Summary) memengine.Message {
	return memengine.Message{
		Role:      memengine.RoleUser,
		Content:   memengine.TextContent{Text: memengine.SummaryPrefix + s.Text},
		Timestamp: s.CreatedAt,
	}
}

// GetContextForLLM assembles system_messages ++ (summary-wrapper +
// preserved messages, per summary, in order) ++ short-term tail.
func (m *Manager) GetContextForLLM() []memengine.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]memengine.Message, 0, len(m.systemMessages)+len(m.summaries)*2)
	out = append(out, m.systemMessages...)
	for _, s := range m.summaries {
		out = append(out, summaryAsMessage(s))
		out = append(out, s.PreservedMessages...)
	}
	out = append(out, m.shortTerm.GetMessages()...)
	return out
}

// RollbackIncompleteExchange removes a trailing assistant message that
// contains tool_use blocks with no corresponding tool_result anywhere in
// the short-term buffer, restoring Invariant M1 after a cancelled tool
// execution. Returns false if there was nothing to roll back.
func (m *Manager) RollbackIncompleteExchange() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	newest, ok := m.shortTerm.PeekNewest()
	if !ok || newest.Role != memengine.RoleAssistant {
		return false
	}
	toolUses := newest.ToolUseEntries()
	if len(toolUses) == 0 {
		return false
	}

	answered := make(map[string]bool)
	for _, msg := range m.shortTerm.GetMessages() {
		for _, tr := range msg.ToolResultEntries() {
			answered[tr.ToolUseID] = true
		}
	}
	for _, tc := range toolUses {
		if answered[tc.ID] {
			return false
		}
	}

	removed, ok := m.shortTerm.RemoveLast()
	if !ok {
		return false
	}
	m.currentTokens -= m.counter.Count(removed, m.provider, m.model)
	return true
}

// PatchDanglingToolCalls is the alternative recovery path: instead of
// dropping the trailing assistant turn, it injects a placeholder
// tool_result for every unanswered tool_use in the short-term buffer. It
// returns the number of patches applied. RollbackIncompleteExchange remains
// the spec-mandated default recovery.
func (m *Manager) PatchDanglingToolCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.shortTerm.GetMessages()
	answered := make(map[string]bool)
	for _, msg := range msgs {
		for _, tr := range msg.ToolResultEntries() {
			answered[tr.ToolUseID] = true
		}
	}

	var patches []memengine.ToolCallInfo
	for _, msg := range msgs {
		for _, tc := range msg.ToolUseEntries() {
			if !answered[tc.ID] {
				patches = append(patches, tc)
				answered[tc.ID] = true
			}
		}
	}

	for _, tc := range patches {
		patch := memengine.Message{
			Role:       memengine.RoleTool,
			Content:    memengine.TextContent{Text: "[tool call interrupted by user]"},
			ToolCallID: tc.ID,
			Name:       tc.Name,
			Timestamp:  time.Now(),
		}
		m.shortTerm.Add(patch)
		m.currentTokens += m.counter.Count(patch, m.provider, m.model)
	}

	return len(patches)
}

// Reset clears all Manager state and the Token Counter.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.systemMessages = nil
	m.summaries = nil
	m.shortTerm = shortterm.New(m.cfg.ShortTermMessageCount)
	m.currentTokens = 0
	m.compressionCount = 0
	m.lastCompressionSavings = 0
	m.wasCompressedLastIteration = false
	m.counter.Reset()
}

// GetStats reports the Manager's current accounting.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	savings := m.counter.CompressionSavings()
	cost := m.counter.CompressionCost()

	return Stats{
		CurrentTokens:     m.currentTokens,
		TotalInputTokens:  m.counter.TotalInputTokens(),
		TotalOutputTokens: m.counter.TotalOutputTokens(),
		CompressionCount:  m.compressionCount,
		TotalSavings:      savings,
		CompressionCost:   cost,
		NetSavings:        savings - cost,
		ShortTermCount:    m.shortTerm.Count(),
		SummaryCount:      len(m.summaries),
		TotalCost:         m.counter.CalculateCost(m.model),
		BudgetStatus:      m.counter.GetBudgetStatus(m.cfg.MaxContextTokens, m.currentTokens),
	}
}

// SystemMessages returns a defensive copy of the system message list.
func (m *Manager) SystemMessages() []memengine.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]memengine.Message, len(m.systemMessages))
	copy(out, m.systemMessages)
	return out
}

// Summaries returns a defensive copy of the produced summaries.
func (m *Manager) Summaries() []memengine.Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]memengine.Summary, len(m.summaries))
	copy(out, m.summaries)
	return out
}

// ShortTermMessages returns a defensive copy of the short-term buffer.
func (m *Manager) ShortTermMessages() []memengine.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shortTerm.GetMessages()
}

// CurrentTokens returns the Manager's current_tokens accounting.
func (m *Manager) CurrentTokens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTokens
}

// RestoreSnapshot repopulates the Manager from persisted state (used by
// Session Store's load_session). It replaces all existing state.
func (m *Manager) RestoreSnapshot(systemMessages []memengine.Message, summaries []memengine.Summary, shortTermMessages []memengine.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.systemMessages = append([]memengine.Message(nil), systemMessages...)
	m.summaries = append([]memengine.Summary(nil), summaries...)
	m.shortTerm = shortterm.New(m.cfg.ShortTermMessageCount)
	for _, msg := range shortTermMessages {
		m.shortTerm.Add(msg)
	}
	m.recomputeCurrentTokensLocked()
}

// IsContextOverflowError detects common provider context-overflow error
// text so a caller's LLM adapter can force Compress proactively. This is an
// external-collaborator hook, not a Manager-internal control path.
func IsContextOverflowError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "context length exceeded") ||
		strings.Contains(msg, "maximum context length") ||
		strings.Contains(msg, "request_too_large") ||
		strings.Contains(msg, "request exceeds the maximum size") ||
		strings.Contains(msg, "prompt is too long") ||
		strings.Contains(msg, "exceeds model context window") ||
		strings.Contains(msg, "context overflow") ||
		(strings.Contains(msg, "request size exceeds") && strings.Contains(msg, "context window")) ||
		(strings.Contains(msg, "413") && strings.Contains(msg, "too large"))
}
