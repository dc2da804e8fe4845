// Package memengine holds the conversation memory engine's domain types:
// messages, content blocks, summaries and the engine configuration. The
// sub-packages (token, shortterm, compress, manager, scope) depend on this
// package but never on each other directly except through Manager.
package memengine

import (
	"fmt"
	"time"
)

// Role identifies who produced a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockType discriminates a ContentBlock variant.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is the tagged union `{text} | {tool_use} | {tool_result}`
// from the data model. Only the field matching Type is populated.
type ContentBlock struct {
	Type       BlockType
	Text       string
	ToolUse    *ToolUseBlock
	ToolResult *ToolResultBlock
}

// ToolUseBlock is an inline tool invocation block.
type ToolUseBlock struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// ToolResultBlock is an inline tool result block, linked to its tool_use by ID.
type ToolResultBlock struct {
	ToolUseID string
	Content   string
}

func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

func ToolUseContentBlock(id, name string, args map[string]interface{}) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ToolUse: &ToolUseBlock{ID: id, Name: name, Arguments: args}}
}

func ToolResultContentBlock(toolUseID, content string) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolResult: &ToolResultBlock{ToolUseID: toolUseID, Content: content}}
}

// Content is the tagged sum type `Content ::= Text(String) | Blocks(Vec<Block>)`.
// A nil Content is legal and counts as empty (zero tokens, no blocks).
type Content interface {
	isContent()
}

// TextContent is a plain-string message body.
type TextContent struct {
	Text string
}

func (TextContent) isContent() {}

// BlockContent is an ordered sequence of content blocks.
type BlockContent struct {
	Blocks []ContentBlock
}

func (BlockContent) isContent() {}

// ToolCallInfo is a provider-surfaced tool call, used both for the sibling
// `tool_calls` wire field and for normalized ToolUse blocks.
type ToolCallInfo struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// Attachment is a multimodal attachment riding alongside text content. It
// does not participate in tool-pair accounting.
type Attachment struct {
	URL      string
	MimeType string
	Size     int64
}

// Message is the atomic unit ingested by the engine.
type Message struct {
	Role Role
	// Content holds the inline representation (text or blocks).
	Content Content
	// ToolCalls is the sibling-field representation some providers use
	// instead of inline tool_use blocks. Exactly one of {inline tool_use
	// blocks, ToolCalls} is populated per message on ingest, but both are
	// accepted; NormalizeMessage enforces this and the accessor methods
	// below present a uniform view regardless of which shape was used.
	ToolCalls []ToolCallInfo
	// ToolCallID and Name are set when Role == RoleTool, identifying the
	// tool_use this message answers.
	ToolCallID  string
	Name        string
	Attachments []Attachment
	Timestamp   time.Time
}

// TextContentOf returns the flat text of a message regardless of whether its
// Content is a TextContent or a BlockContent (joining TextBlocks with newlines).
func (m Message) TextContentOf() string {
	switch c := m.Content.(type) {
	case TextContent:
		return c.Text
	case BlockContent:
		out := ""
		for _, b := range c.Blocks {
			if b.Type == BlockText {
				if out != "" {
					out += "\n"
				}
				out += b.Text
			}
		}
		return out
	default:
		return ""
	}
}

// ToolUseEntries returns every tool_use invocation carried by this message,
// whether expressed as inline blocks or as the sibling ToolCalls field.
func (m Message) ToolUseEntries() []ToolCallInfo {
	var out []ToolCallInfo
	if bc, ok := m.Content.(BlockContent); ok {
		for _, b := range bc.Blocks {
			if b.Type == BlockToolUse && b.ToolUse != nil {
				out = append(out, ToolCallInfo{ID: b.ToolUse.ID, Name: b.ToolUse.Name, Arguments: b.ToolUse.Arguments})
			}
		}
	}
	out = append(out, m.ToolCalls...)
	return out
}

// ToolResultEntries returns every tool_result carried by this message,
// whether expressed as an inline block or as a role=tool message with a
// sibling ToolCallID.
func (m Message) ToolResultEntries() []ToolResultBlock {
	var out []ToolResultBlock
	if bc, ok := m.Content.(BlockContent); ok {
		for _, b := range bc.Blocks {
			if b.Type == BlockToolResult && b.ToolResult != nil {
				out = append(out, *b.ToolResult)
			}
		}
	}
	if m.Role == RoleTool && m.ToolCallID != "" {
		out = append(out, ToolResultBlock{ToolUseID: m.ToolCallID, Content: m.TextContentOf()})
	}
	return out
}

// HasToolBlocks reports whether the message carries any tool_use or
// tool_result, inline or sibling. Used by the Compressor's auto-selection
// rule.
func (m Message) HasToolBlocks() bool {
	return len(m.ToolUseEntries()) > 0 || len(m.ToolResultEntries()) > 0
}

// NormalizeMessage validates a message on ingest and rejects malformed
// input. It does not mutate representation — both wire shapes are accepted
// and read uniformly via ToolUseEntries/ToolResultEntries — but it does
// reject messages using both an inline tool_use block AND the sibling
// ToolCalls field simultaneously, since the data model specifies exactly
// one is used per message.
func NormalizeMessage(m Message) (Message, error) {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
	default:
		return Message{}, fmt.Errorf("invalid role %q", m.Role)
	}

	inlineToolUse := 0
	if bc, ok := m.Content.(BlockContent); ok {
		for _, b := range bc.Blocks {
			if b.Type == BlockToolUse {
				inlineToolUse++
			}
		}
	}
	if inlineToolUse > 0 && len(m.ToolCalls) > 0 {
		return Message{}, fmt.Errorf("message carries both inline tool_use blocks and sibling tool_calls")
	}

	if m.Role == RoleTool && m.ToolCallID == "" {
		return Message{}, fmt.Errorf("tool message missing tool_call_id")
	}

	return m, nil
}

// Summary is the Compressor's output: a compressed representation of a
// message run, owned thereafter by the Manager.
type Summary struct {
	Text                 string
	PreservedMessages    []Message
	OriginalMessageCount int
	OriginalTokens       int
	CompressedTokens     int
	Ratio                float64
	Metadata             map[string]interface{}
	CreatedAt            time.Time
}

// Strategy names the Compressor algorithm used to produce a Summary.
type Strategy string

const (
	StrategyDeletion      Strategy = "deletion"
	StrategySlidingWindow Strategy = "sliding_window"
	StrategySelective     Strategy = "selective"
	StrategyHierarchical  Strategy = "hierarchical"
	// StrategyAuto asks the Compressor to pick per the auto-selection rule.
	StrategyAuto Strategy = ""
)

// Config enumerates the engine's tunable thresholds and switches.
type Config struct {
	MaxContextTokens          int
	TargetWorkingMemoryTokens int
	CompressionThreshold      int
	ShortTermMessageCount     int
	CompressionRatio          float64
	PreserveToolCalls         bool
	PreserveSystemPrompts     bool
	EnableCompression         bool
	Strategy                  Strategy

	// ProtectedTools is the explicit allowlist of tool names whose pairs the
	// selective strategy must never summarize, beyond the built-in
	// todo-management set. Default: empty (Open Question 1).
	ProtectedTools []string
	// MinRecencyWindow is N_min, the number of trailing messages the
	// selective partition always preserves, separate from
	// ShortTermMessageCount.
	MinRecencyWindow int
}

// DefaultConfig returns the engine's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxContextTokens:          100000,
		TargetWorkingMemoryTokens: 50000,
		CompressionThreshold:      40000,
		ShortTermMessageCount:     20,
		CompressionRatio:          0.3,
		PreserveToolCalls:         true,
		PreserveSystemPrompts:     true,
		EnableCompression:         true,
		Strategy:                  StrategyAuto,
		ProtectedTools:            nil,
		MinRecencyWindow:          2,
	}
}

// BuiltinProtectedTools are always protected during selective compression
// regardless of Config.ProtectedTools — todo-management state must never be
// summarized away.
var BuiltinProtectedTools = []string{"todo_write", "todo_read", "update_todo", "manage_todo"}

// IsProtectedTool reports whether name is protected under cfg, combining the
// built-in set with the configured allowlist.
func (c Config) IsProtectedTool(name string) bool {
	for _, t := range BuiltinProtectedTools {
		if t == name {
			return true
		}
	}
	for _, t := range c.ProtectedTools {
		if t == name {
			return true
		}
	}
	return false
}

// SummaryPrefix is the sentinel prefix injected before a summary's text when
// it is wrapped as a context message, preserving Invariant M2 (role
// alternation survives compression since the wrapper carries role=user).
const SummaryPrefix = "[Conversation Summary]\n"

// DegradedSummaryText is returned when the Compressor's LLM call fails.
const DegradedSummaryText = "[Compression failed, preserving key messages]"
