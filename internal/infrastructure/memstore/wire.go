package memstore

import (
	"encoding/json"
	"time"

	"github.com/nine5427/memengine/internal/domain/memengine"
)

// WireAttachment is the serialized form of memengine.Attachment.
type WireAttachment struct {
	URL      string `yaml:"url" json:"url"`
	MimeType string `yaml:"mime_type" json:"mime_type"`
	Size     int64  `yaml:"size" json:"size"`
}

// WireContentBlock is the serialized form of memengine.ContentBlock. Tool
// arguments are carried as a JSON string, matching the wire contract used
// for tool_calls (arguments: JSON-string) so both representations share one
// encoding convention.
type WireContentBlock struct {
	Type              string `yaml:"type" json:"type"`
	Text              string `yaml:"text,omitempty" json:"text,omitempty"`
	ToolUseID         string `yaml:"id,omitempty" json:"id,omitempty"`
	ToolUseName       string `yaml:"tool_name,omitempty" json:"tool_name,omitempty"`
	ToolUseArguments  string `yaml:"arguments,omitempty" json:"arguments,omitempty"`
	ToolResultForID   string `yaml:"tool_use_id,omitempty" json:"tool_use_id,omitempty"`
	ToolResultContent string `yaml:"content,omitempty" json:"content,omitempty"`
}

// WireFunction is the `function` object inside a sibling tool_calls entry.
type WireFunction struct {
	Name      string `yaml:"name" json:"name"`
	Arguments string `yaml:"arguments" json:"arguments"`
}

// WireToolCall is one entry of the sibling `tool_calls` field.
type WireToolCall struct {
	ID       string       `yaml:"id" json:"id"`
	Type     string       `yaml:"type" json:"type"`
	Function WireFunction `yaml:"function" json:"function"`
}

// WireMessage is the persisted form of memengine.Message.
type WireMessage struct {
	Role          string             `yaml:"role" json:"role"`
	ContentText   string             `yaml:"content_text,omitempty" json:"content_text,omitempty"`
	ContentBlocks []WireContentBlock `yaml:"content_blocks,omitempty" json:"content_blocks,omitempty"`
	ToolCalls     []WireToolCall     `yaml:"tool_calls,omitempty" json:"tool_calls,omitempty"`
	ToolCallID    string             `yaml:"tool_call_id,omitempty" json:"tool_call_id,omitempty"`
	Name          string             `yaml:"name,omitempty" json:"name,omitempty"`
	Attachments   []WireAttachment   `yaml:"attachments,omitempty" json:"attachments,omitempty"`
	Timestamp     time.Time          `yaml:"timestamp" json:"timestamp"`
}

// WireSummary is the persisted form of memengine.Summary.
type WireSummary struct {
	Text                 string                 `yaml:"text" json:"text"`
	PreservedMessages    []WireMessage          `yaml:"preserved_messages,omitempty" json:"preserved_messages,omitempty"`
	OriginalMessageCount int                    `yaml:"original_message_count" json:"original_message_count"`
	OriginalTokens       int                    `yaml:"original_tokens" json:"original_tokens"`
	CompressedTokens     int                    `yaml:"compressed_tokens" json:"compressed_tokens"`
	Ratio                float64                `yaml:"ratio" json:"ratio"`
	Metadata             map[string]interface{} `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt            time.Time              `yaml:"created_at" json:"created_at"`
}

// ToWireMessage converts a domain Message to its persisted form.
func ToWireMessage(m memengine.Message) WireMessage {
	w := WireMessage{
		Role:       string(m.Role),
		ToolCallID: m.ToolCallID,
		Name:       m.Name,
		Timestamp:  m.Timestamp,
	}

	switch c := m.Content.(type) {
	case memengine.TextContent:
		w.ContentText = c.Text
	case memengine.BlockContent:
		for _, b := range c.Blocks {
			wb := WireContentBlock{Type: string(b.Type)}
			switch b.Type {
			case memengine.BlockText:
				wb.Text = b.Text
			case memengine.BlockToolUse:
				if b.ToolUse != nil {
					wb.ToolUseID = b.ToolUse.ID
					wb.ToolUseName = b.ToolUse.Name
					wb.ToolUseArguments = argsJSON(b.ToolUse.Arguments)
				}
			case memengine.BlockToolResult:
				if b.ToolResult != nil {
					wb.ToolResultForID = b.ToolResult.ToolUseID
					wb.ToolResultContent = b.ToolResult.Content
				}
			}
			w.ContentBlocks = append(w.ContentBlocks, wb)
		}
	}

	for _, tc := range m.ToolCalls {
		w.ToolCalls = append(w.ToolCalls, WireToolCall{
			ID:       tc.ID,
			Type:     "function",
			Function: WireFunction{Name: tc.Name, Arguments: argsJSON(tc.Arguments)},
		})
	}
	for _, a := range m.Attachments {
		w.Attachments = append(w.Attachments, WireAttachment{URL: a.URL, MimeType: a.MimeType, Size: a.Size})
	}
	return w
}

// FromWireMessage reconstructs a domain Message from its persisted form.
func FromWireMessage(w WireMessage) (memengine.Message, error) {
	m := memengine.Message{
		Role:       memengine.Role(w.Role),
		ToolCallID: w.ToolCallID,
		Name:       w.Name,
		Timestamp:  w.Timestamp,
	}

	if len(w.ContentBlocks) > 0 {
		blocks := make([]memengine.ContentBlock, 0, len(w.ContentBlocks))
		for _, wb := range w.ContentBlocks {
			switch memengine.BlockType(wb.Type) {
			case memengine.BlockText:
				blocks = append(blocks, memengine.TextBlock(wb.Text))
			case memengine.BlockToolUse:
				args, err := parseArgsJSON(wb.ToolUseArguments)
				if err != nil {
					return memengine.Message{}, err
				}
				blocks = append(blocks, memengine.ToolUseContentBlock(wb.ToolUseID, wb.ToolUseName, args))
			case memengine.BlockToolResult:
				blocks = append(blocks, memengine.ToolResultContentBlock(wb.ToolResultForID, wb.ToolResultContent))
			}
		}
		m.Content = memengine.BlockContent{Blocks: blocks}
	} else {
		m.Content = memengine.TextContent{Text: w.ContentText}
	}

	for _, wtc := range w.ToolCalls {
		args, err := parseArgsJSON(wtc.Function.Arguments)
		if err != nil {
			return memengine.Message{}, err
		}
		m.ToolCalls = append(m.ToolCalls, memengine.ToolCallInfo{ID: wtc.ID, Name: wtc.Function.Name, Arguments: args})
	}
	for _, wa := range w.Attachments {
		m.Attachments = append(m.Attachments, memengine.Attachment{URL: wa.URL, MimeType: wa.MimeType, Size: wa.Size})
	}
	return m, nil
}

func argsJSON(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	b, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(b)
}

func parseArgsJSON(s string) (map[string]interface{}, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ToWireSummary converts a domain Summary to its persisted form.
func ToWireSummary(s memengine.Summary) WireSummary {
	w := WireSummary{
		Text:                 s.Text,
		OriginalMessageCount: s.OriginalMessageCount,
		OriginalTokens:       s.OriginalTokens,
		CompressedTokens:     s.CompressedTokens,
		Ratio:                s.Ratio,
		Metadata:             s.Metadata,
		CreatedAt:            s.CreatedAt,
	}
	for _, pm := range s.PreservedMessages {
		w.PreservedMessages = append(w.PreservedMessages, ToWireMessage(pm))
	}
	return w
}

// FromWireSummary reconstructs a domain Summary from its persisted form.
func FromWireSummary(w WireSummary) (memengine.Summary, error) {
	s := memengine.Summary{
		Text:                 w.Text,
		OriginalMessageCount: w.OriginalMessageCount,
		OriginalTokens:       w.OriginalTokens,
		CompressedTokens:     w.CompressedTokens,
		Ratio:                w.Ratio,
		Metadata:             w.Metadata,
		CreatedAt:            w.CreatedAt,
	}
	for _, wpm := range w.PreservedMessages {
		pm, err := FromWireMessage(wpm)
		if err != nil {
			return memengine.Summary{}, err
		}
		s.PreservedMessages = append(s.PreservedMessages, pm)
	}
	return s, nil
}
