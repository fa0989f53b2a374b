package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// PartType identifies the kind of content part.
type PartType string

const (
	PartText       PartType = "text"
	PartToolCall   PartType = "tool-call"
	PartToolResult PartType = "tool-result"
)

// Part is one typed piece of message content.
type Part struct {
	Type PartType `json:"type"`

	// Text is set for text parts.
	Text string `json:"text,omitempty"`

	// ToolCallID links tool-call and tool-result parts.
	ToolCallID string `json:"id,omitempty"`

	// ToolName and Args are set for tool-call parts.
	ToolName string          `json:"name,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`

	// Result is set for tool-result parts.
	Result json.RawMessage `json:"result,omitempty"`
}

// TextPart returns a text part.
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

// ToolCallPart returns a tool-call part.
func ToolCallPart(id, name string, args json.RawMessage) Part {
	return Part{Type: PartToolCall, ToolCallID: id, ToolName: name, Args: args}
}

// ToolResultPart returns a tool-result part.
func ToolResultPart(id string, result json.RawMessage) Part {
	return Part{Type: PartToolResult, ToolCallID: id, Result: result}
}

// Message is a role-tagged conversation message.
type Message struct {
	Role      Role      `json:"role"`
	Parts     []Part    `json:"-"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// NewText creates a single-part text message.
func NewText(role Role, text string) Message {
	return Message{Role: role, Parts: []Part{TextPart(text)}}
}

// User creates a user text message.
func User(text string) Message { return NewText(RoleUser, text) }

// Assistant creates an assistant text message.
func Assistant(text string) Message { return NewText(RoleAssistant, text) }

// System creates a system text message.
func System(text string) Message { return NewText(RoleSystem, text) }

// Text concatenates the text parts of the message, separated by newlines.
func (m Message) Text() string {
	var texts []string
	for _, p := range m.Parts {
		if p.Type == PartText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// ToolCalls returns the tool-call parts of the message.
func (m Message) ToolCalls() []Part {
	return m.partsOf(PartToolCall)
}

// ToolResults returns the tool-result parts of the message.
func (m Message) ToolResults() []Part {
	return m.partsOf(PartToolResult)
}

func (m Message) partsOf(t PartType) []Part {
	var out []Part
	for _, p := range m.Parts {
		if p.Type == t {
			out = append(out, p)
		}
	}
	return out
}

// wireMessage is the JSON shape of a Message.
type wireMessage struct {
	Role      Role            `json:"role"`
	Content   json.RawMessage `json:"content"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

// MarshalJSON encodes a single text part as a plain string.
func (m Message) MarshalJSON() ([]byte, error) {
	var content any = m.Parts
	if len(m.Parts) == 1 && m.Parts[0].Type == PartText {
		content = m.Parts[0].Text
	}
	if m.Parts == nil {
		content = ""
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	w := wireMessage{Role: m.Role, Content: raw}
	if !m.Timestamp.IsZero() {
		ts := m.Timestamp
		w.Timestamp = &ts
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts content as a string or as an array of parts.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Role != "" && !w.Role.Valid() {
		return fmt.Errorf("unknown message role %q", w.Role)
	}

	m.Role = w.Role
	m.Parts = nil
	m.Timestamp = time.Time{}
	if w.Timestamp != nil {
		m.Timestamp = *w.Timestamp
	}

	trimmed := strings.TrimSpace(string(w.Content))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	if strings.HasPrefix(trimmed, "\"") {
		var text string
		if err := json.Unmarshal(w.Content, &text); err != nil {
			return fmt.Errorf("decoding text content: %w", err)
		}
		m.Parts = []Part{TextPart(text)}
		return nil
	}

	var parts []Part
	if err := json.Unmarshal(w.Content, &parts); err != nil {
		return fmt.Errorf("decoding content parts: %w", err)
	}
	for i, p := range parts {
		switch p.Type {
		case PartText, PartToolCall, PartToolResult:
		default:
			return fmt.Errorf("part %d: unknown type %q", i, p.Type)
		}
	}
	m.Parts = parts
	return nil
}
