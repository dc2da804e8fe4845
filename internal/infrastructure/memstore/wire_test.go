package memstore

import (
	"testing"
	"time"

	"github.com/nine5427/memengine/internal/domain/memengine"
)

func TestWireMessage_RoundTrip_InlineToolBlocks(t *testing.T) {
	original := memengine.Message{
		Role: memengine.RoleAssistant,
		Content: memengine.BlockContent{Blocks: []memengine.ContentBlock{
			memengine.TextBlock("let me check that"),
			memengine.ToolUseContentBlock("call_1", "read_file", map[string]interface{}{"path": "main.go"}),
		}},
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	wire := ToWireMessage(original)
	restored, err := FromWireMessage(wire)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries := restored.ToolUseEntries()
	if len(entries) != 1 || entries[0].ID != "call_1" || entries[0].Name != "read_file" {
		t.Fatalf("unexpected restored tool use entries: %+v", entries)
	}
	if entries[0].Arguments["path"] != "main.go" {
		t.Fatalf("unexpected restored arguments: %+v", entries[0].Arguments)
	}
	if restored.TextContentOf() != "let me check that" {
		t.Fatalf("unexpected restored text: %q", restored.TextContentOf())
	}
}

func TestWireMessage_RoundTrip_SiblingToolCalls(t *testing.T) {
	original := memengine.Message{
		Role:    memengine.RoleAssistant,
		Content: memengine.TextContent{Text: "checking"},
		ToolCalls: []memengine.ToolCallInfo{
			{ID: "call_1", Name: "read_file", Arguments: map[string]interface{}{"path": "a.go"}},
		},
	}

	wire := ToWireMessage(original)
	restored, err := FromWireMessage(wire)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(restored.ToolCalls) != 1 || restored.ToolCalls[0].ID != "call_1" {
		t.Fatalf("unexpected restored sibling tool calls: %+v", restored.ToolCalls)
	}
	if restored.ToolCalls[0].Arguments["path"] != "a.go" {
		t.Fatalf("unexpected restored arguments: %+v", restored.ToolCalls[0].Arguments)
	}
}

func TestWireMessage_RoundTrip_ToolRoleMessage(t *testing.T) {
	original := memengine.Message{
		Role:       memengine.RoleTool,
		Content:    memengine.TextContent{Text: "file contents here"},
		ToolCallID: "call_9",
		Name:       "read_file",
	}

	wire := ToWireMessage(original)
	restored, err := FromWireMessage(wire)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if restored.ToolCallID != "call_9" || restored.Name != "read_file" {
		t.Fatalf("unexpected restored tool message: %+v", restored)
	}
	if restored.TextContentOf() != "file contents here" {
		t.Fatalf("unexpected restored content: %q", restored.TextContentOf())
	}
}

func TestWireMessage_RoundTrip_Attachments(t *testing.T) {
	original := memengine.Message{
		Role:    memengine.RoleUser,
		Content: memengine.TextContent{Text: "see attached"},
		Attachments: []memengine.Attachment{
			{URL: "https://example.com/a.png", MimeType: "image/png", Size: 1024},
		},
	}

	wire := ToWireMessage(original)
	restored, err := FromWireMessage(wire)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(restored.Attachments) != 1 || restored.Attachments[0].URL != "https://example.com/a.png" {
		t.Fatalf("unexpected restored attachments: %+v", restored.Attachments)
	}
}

func TestWireSummary_RoundTrip(t *testing.T) {
	original := memengine.Summary{
		Text: "conversation summary",
		PreservedMessages: []memengine.Message{
			{Role: memengine.RoleUser, Content: memengine.TextContent{Text: "preserved"}},
		},
		OriginalMessageCount: 10,
		OriginalTokens:        500,
		CompressedTokens:      150,
		Ratio:                 0.3,
		Metadata:              map[string]interface{}{"strategy": "selective"},
		CreatedAt:              time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	wire := ToWireSummary(original)
	restored, err := FromWireSummary(wire)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if restored.Text != original.Text || restored.Ratio != original.Ratio {
		t.Fatalf("unexpected restored summary: %+v", restored)
	}
	if len(restored.PreservedMessages) != 1 || restored.PreservedMessages[0].TextContentOf() != "preserved" {
		t.Fatalf("unexpected restored preserved messages: %+v", restored.PreservedMessages)
	}
}

func TestParseArgsJSON_EmptyStringYieldsNil(t *testing.T) {
	args, err := parseArgsJSON("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args != nil {
		t.Fatalf("expected nil args for empty string, got %+v", args)
	}
}

func TestParseArgsJSON_InvalidJSONErrors(t *testing.T) {
	if _, err := parseArgsJSON("{not json"); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}
