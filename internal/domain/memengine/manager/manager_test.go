package manager

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nine5427/memengine/internal/domain/memengine"
	"github.com/nine5427/memengine/internal/domain/memengine/compress"
	"github.com/nine5427/memengine/internal/domain/memengine/token"
	"github.com/nine5427/memengine/internal/infrastructure/tokenizer"
)

func newTestManager(cfg memengine.Config) *Manager {
	counter := token.NewCounter(tokenizer.NewHeuristicTokenizer(), tokenizer.DefaultRates(), nil)
	counter.Register("anthropic", "test-model", tokenizer.NewAnthropicTokenizer())
	compressor := compress.New(stubSummarizer{text: "summary text"}, counter, "anthropic", "test-model", nil)
	return New(cfg, "anthropic", "test-model", counter, compressor, nil)
}

type stubSummarizer struct {
	text string
	err  error

	lastPrompt *string
}

func (s stubSummarizer) Summarize(ctx context.Context, prompt string, targetTokens int) (string, error) {
	if s.lastPrompt != nil {
		*s.lastPrompt = prompt
	}
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

func textMsg(role memengine.Role, text string) memengine.Message {
	return memengine.Message{Role: role, Content: memengine.TextContent{Text: text}}
}

func TestManager_AddMessage_RoutesSystemVsShortTerm(t *testing.T) {
	m := newTestManager(memengine.DefaultConfig())
	ctx := context.Background()

	if err := m.AddMessage(ctx, textMsg(memengine.RoleSystem, "you are an assistant"), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.AddMessage(ctx, textMsg(memengine.RoleUser, "hello"), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(m.SystemMessages()) != 1 {
		t.Fatalf("expected 1 system message, got %d", len(m.SystemMessages()))
	}
	if len(m.ShortTermMessages()) != 1 {
		t.Fatalf("expected 1 short-term message, got %d", len(m.ShortTermMessages()))
	}
}

func TestManager_AddMessage_RejectsInvalidMessage(t *testing.T) {
	m := newTestManager(memengine.DefaultConfig())
	err := m.AddMessage(context.Background(), memengine.Message{Role: "bogus"}, nil)
	if err == nil {
		t.Fatal("expected error for invalid role")
	}
}

func TestManager_AddMessage_RecordsActualTokenUsage(t *testing.T) {
	m := newTestManager(memengine.DefaultConfig())
	err := m.AddMessage(context.Background(), textMsg(memengine.RoleAssistant, "reply"), &TokenUsage{Input: 100, Output: 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stats := m.GetStats()
	if stats.TotalInputTokens != 100 || stats.TotalOutputTokens != 50 {
		t.Fatalf("unexpected cumulative usage: %+v", stats)
	}
}

func TestManager_AutoCompressesPastHardLimit(t *testing.T) {
	cfg := memengine.DefaultConfig()
	cfg.CompressionThreshold = 50
	cfg.TargetWorkingMemoryTokens = 10000
	cfg.ShortTermMessageCount = 1000

	m := newTestManager(cfg)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		if err := m.AddMessage(ctx, textMsg(memengine.RoleUser, "this is a reasonably long filler message body"), nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	stats := m.GetStats()
	if stats.CompressionCount == 0 {
		t.Fatal("expected at least one auto-compression once the hard limit was exceeded")
	}
}

func TestManager_RollbackIncompleteExchange(t *testing.T) {
	m := newTestManager(memengine.DefaultConfig())
	ctx := context.Background()

	assistant := memengine.Message{
		Role: memengine.RoleAssistant,
		Content: memengine.BlockContent{Blocks: []memengine.ContentBlock{
			memengine.ToolUseContentBlock("call_1", "read_file", nil),
		}},
	}
	if err := m.AddMessage(ctx, assistant, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !m.RollbackIncompleteExchange() {
		t.Fatal("expected rollback to remove the dangling tool_use turn")
	}
	if len(m.ShortTermMessages()) != 0 {
		t.Fatal("expected short-term buffer empty after rollback")
	}
}

func TestManager_RollbackIncompleteExchange_NoOpWhenAnswered(t *testing.T) {
	m := newTestManager(memengine.DefaultConfig())
	ctx := context.Background()

	assistant := memengine.Message{
		Role: memengine.RoleAssistant,
		Content: memengine.BlockContent{Blocks: []memengine.ContentBlock{
			memengine.ToolUseContentBlock("call_1", "read_file", nil),
		}},
	}
	_ = m.AddMessage(ctx, assistant, nil)
	_ = m.AddMessage(ctx, memengine.Message{Role: memengine.RoleTool, Content: memengine.TextContent{Text: "ok"}, ToolCallID: "call_1"}, nil)

	if m.RollbackIncompleteExchange() {
		t.Fatal("expected no rollback when the tool_use was already answered")
	}
}

func TestManager_PatchDanglingToolCalls(t *testing.T) {
	m := newTestManager(memengine.DefaultConfig())
	ctx := context.Background()

	assistant := memengine.Message{
		Role: memengine.RoleAssistant,
		Content: memengine.BlockContent{Blocks: []memengine.ContentBlock{
			memengine.ToolUseContentBlock("call_1", "read_file", nil),
			memengine.ToolUseContentBlock("call_2", "write_file", nil),
		}},
	}
	_ = m.AddMessage(ctx, assistant, nil)
	_ = m.AddMessage(ctx, memengine.Message{Role: memengine.RoleTool, Content: memengine.TextContent{Text: "ok"}, ToolCallID: "call_1"}, nil)

	patched := m.PatchDanglingToolCalls()
	if patched != 1 {
		t.Fatalf("expected exactly 1 patch for call_2, got %d", patched)
	}
}

func TestManager_GetContextForLLM_AssemblesInOrder(t *testing.T) {
	m := newTestManager(memengine.DefaultConfig())
	ctx := context.Background()

	_ = m.AddMessage(ctx, textMsg(memengine.RoleSystem, "system prompt"), nil)
	_ = m.AddMessage(ctx, textMsg(memengine.RoleUser, "hello"), nil)

	out := m.GetContextForLLM()
	if len(out) != 2 {
		t.Fatalf("expected 2 messages in context, got %d", len(out))
	}
	if out[0].Role != memengine.RoleSystem {
		t.Fatalf("expected system message first, got %s", out[0].Role)
	}
}

func TestManager_RestoreSnapshot(t *testing.T) {
	m := newTestManager(memengine.DefaultConfig())

	system := []memengine.Message{textMsg(memengine.RoleSystem, "prompt")}
	summaries := []memengine.Summary{{Text: "earlier context"}}
	shortTerm := []memengine.Message{textMsg(memengine.RoleUser, "recent")}

	m.RestoreSnapshot(system, summaries, shortTerm)

	if len(m.SystemMessages()) != 1 || len(m.Summaries()) != 1 || len(m.ShortTermMessages()) != 1 {
		t.Fatalf("expected restored state: sys=%d summ=%d short=%d", len(m.SystemMessages()), len(m.Summaries()), len(m.ShortTermMessages()))
	}
	if m.CurrentTokens() == 0 {
		t.Fatal("expected recomputed current_tokens to be non-zero after restore")
	}
}

func TestIsContextOverflowError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("random failure"), false},
		{errors.New("Error: maximum context length exceeded"), true},
		{errors.New("prompt is too long for this model"), true},
	}
	for _, c := range cases {
		if got := IsContextOverflowError(c.err); got != c.want {
			t.Fatalf("IsContextOverflowError(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestManager_SetTodoContextProvider_FeedsCompressionPrompt(t *testing.T) {
	var lastPrompt string
	counter := token.NewCounter(tokenizer.NewHeuristicTokenizer(), tokenizer.DefaultRates(), nil)
	compressor := compress.New(stubSummarizer{text: "summary text", lastPrompt: &lastPrompt}, counter, "anthropic", "test-model", nil)
	m := New(memengine.DefaultConfig(), "anthropic", "test-model", counter, compressor, nil)

	m.SetTodoContextProvider(func() string { return "todo: finish the auth migration" })

	ctx := context.Background()
	if err := m.AddMessage(ctx, textMsg(memengine.RoleUser, "hello"), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := m.Compress(ctx, memengine.StrategySlidingWindow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(lastPrompt, "todo: finish the auth migration") {
		t.Fatalf("expected todo context provider's string in the summary prompt, got %q", lastPrompt)
	}
}
