// Package scope implements the Scoped View: a per-task logical window over
// the Memory Manager, with parent-summary inheritance and no copying of
// global history.
package scope

import (
	"context"
	"fmt"
	"strings"

	"github.com/nine5427/memengine/internal/domain/memengine"
	"github.com/nine5427/memengine/internal/domain/memengine/manager"
)

// State enumerates the scope levels a View can represent.
type State string

const (
	StateGlobal      State = "global"
	StateExploration State = "exploration"
	StateExecution   State = "execution"
	StateStep        State = "step"
)

// View holds a non-owning reference to its Manager and, optionally, to a
// parent View. The reference graph is a child-to-parent DAG only — a View
// never points back to its children, so cycles cannot occur even though
// parent is a plain pointer.
type View struct {
	state  State
	mgr    *manager.Manager
	parent *View

	messages           []memengine.Message
	explicitSummary    string
	hasExplicitSummary bool
}

// New creates a View. parent may be nil for a top-level (global) scope.
func New(state State, mgr *manager.Manager, parent *View) *View {
	return &View{state: state, mgr: mgr, parent: parent}
}

// AddMessage appends to local scope only; it never touches the Manager.
func (v *View) AddMessage(msg memengine.Message) {
	v.messages = append(v.messages, msg)
}

// GetContext returns this view's local messages, optionally preceded by a
// single user-role message carrying the parent's summary.
func (v *View) GetContext(includeParent bool) []memengine.Message {
	var out []memengine.Message
	if includeParent && v.parent != nil {
		out = append(out, memengine.Message{
			Role:    memengine.RoleUser,
			Content: memengine.TextContent{Text: v.parent.GetSummary()},
		})
	}
	out = append(out, v.messages...)
	return out
}

// GetSummary returns an explicitly set summary if present, otherwise a
// deterministic digest of the last up-to-5 local messages, role-prefixed
// and truncated to 200 chars each.
func (v *View) GetSummary() string {
	if v.hasExplicitSummary {
		return v.explicitSummary
	}

	n := len(v.messages)
	start := 0
	if n > 5 {
		start = n - 5
	}

	var b strings.Builder
	for _, m := range v.messages[start:] {
		text := m.TextContentOf()
		if len(text) > 200 {
			text = text[:200]
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, text)
	}
	return strings.TrimRight(b.String(), "\n")
}

// SetSummary stores an explicit summary, overriding the digest.
func (v *View) SetSummary(text string) {
	v.explicitSummary = text
	v.hasExplicitSummary = true
}

// CommitToGlobal writes the scope's summary as a single assistant-role
// message into the Manager, then clears local state.
func (v *View) CommitToGlobal(ctx context.Context) error {
	summary := v.GetSummary()
	if err := v.mgr.AddMessage(ctx, memengine.Message{
		Role:    memengine.RoleAssistant,
		Content: memengine.TextContent{Text: summary},
	}, nil); err != nil {
		return err
	}
	v.Clear()
	return nil
}

// MessageCount returns the number of locally held messages.
func (v *View) MessageCount() int {
	return len(v.messages)
}

// Clear empties local state.
func (v *View) Clear() {
	v.messages = nil
}

// State returns the view's scope level.
func (v *View) State() State {
	return v.state
}

// Parent returns the parent view, or nil for a top-level scope.
func (v *View) Parent() *View {
	return v.parent
}
