package scope

import (
	"context"
	"testing"

	"github.com/nine5427/memengine/internal/domain/memengine"
	"github.com/nine5427/memengine/internal/domain/memengine/compress"
	"github.com/nine5427/memengine/internal/domain/memengine/manager"
	"github.com/nine5427/memengine/internal/domain/memengine/token"
	"github.com/nine5427/memengine/internal/infrastructure/tokenizer"
)

type stubSummarizer struct{}

func (stubSummarizer) Summarize(ctx context.Context, prompt string, targetTokens int) (string, error) {
	return "summary", nil
}

func newTestManager() *manager.Manager {
	counter := token.NewCounter(tokenizer.NewHeuristicTokenizer(), tokenizer.DefaultRates(), nil)
	compressor := compress.New(stubSummarizer{}, counter, "anthropic", "test-model", nil)
	return manager.New(memengine.DefaultConfig(), "anthropic", "test-model", counter, compressor, nil)
}

func TestView_GetContext_IncludesParentSummaryWhenRequested(t *testing.T) {
	mgr := newTestManager()
	parent := New(StateExploration, mgr, nil)
	parent.SetSummary("exploring the auth module")

	child := New(StateExecution, mgr, parent)
	child.AddMessage(memengine.Message{Role: memengine.RoleUser, Content: memengine.TextContent{Text: "run tests"}})

	withParent := child.GetContext(true)
	if len(withParent) != 2 {
		t.Fatalf("expected 2 messages (parent summary + local), got %d", len(withParent))
	}
	if withParent[0].TextContentOf() != "exploring the auth module" {
		t.Fatalf("unexpected parent summary message: %+v", withParent[0])
	}

	withoutParent := child.GetContext(false)
	if len(withoutParent) != 1 {
		t.Fatalf("expected 1 message without parent inclusion, got %d", len(withoutParent))
	}
}

func TestView_GetSummary_DigestsRecentMessagesWhenNoExplicitSummary(t *testing.T) {
	mgr := newTestManager()
	v := New(StateStep, mgr, nil)
	v.AddMessage(memengine.Message{Role: memengine.RoleUser, Content: memengine.TextContent{Text: "one"}})
	v.AddMessage(memengine.Message{Role: memengine.RoleAssistant, Content: memengine.TextContent{Text: "two"}})

	summary := v.GetSummary()
	if summary == "" {
		t.Fatal("expected a non-empty digest summary")
	}
}

func TestView_CommitToGlobal_WritesToManagerAndClears(t *testing.T) {
	mgr := newTestManager()
	v := New(StateExecution, mgr, nil)
	v.SetSummary("task complete: tests pass")
	v.AddMessage(memengine.Message{Role: memengine.RoleUser, Content: memengine.TextContent{Text: "run tests"}})

	if err := v.CommitToGlobal(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if v.MessageCount() != 0 {
		t.Fatal("expected view cleared after commit")
	}

	found := false
	for _, m := range mgr.ShortTermMessages() {
		if m.TextContentOf() == "task complete: tests pass" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the committed summary to appear in the manager's messages")
	}
}

func TestRegistry_CreateAndGetBuildsParentChain(t *testing.T) {
	mgr := newTestManager()
	r := NewRegistry()

	rootIdx := r.Create(StateGlobal, mgr, -1)
	childIdx := r.Create(StateExploration, mgr, rootIdx)

	child := r.Get(childIdx)
	if child == nil {
		t.Fatal("expected child view to be retrievable")
	}
	if child.Parent() != r.Get(rootIdx) {
		t.Fatal("expected child's parent to be the root view")
	}
	if r.Len() != 2 {
		t.Fatalf("expected registry length 2, got %d", r.Len())
	}
}

func TestRegistry_GetOutOfRangeReturnsNil(t *testing.T) {
	r := NewRegistry()
	if r.Get(0) != nil {
		t.Fatal("expected nil for out-of-range index on empty registry")
	}
}
