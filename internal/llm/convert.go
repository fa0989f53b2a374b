package llm

import (
	"encoding/json"

	"github.com/tmc/langchaingo/llms"

	"github.com/fyrsmithlabs/convsim/internal/conversation"
)

// ToMessageContent converts history into langchaingo messages.
func ToMessageContent(history []conversation.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(history))
	for _, m := range history {
		mc := llms.MessageContent{Role: chatRole(m.Role)}
		for _, p := range m.Parts {
			switch p.Type {
			case conversation.PartText:
				mc.Parts = append(mc.Parts, llms.TextContent{Text: p.Text})
			case conversation.PartToolCall:
				mc.Parts = append(mc.Parts, llms.ToolCall{
					ID:   p.ToolCallID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      p.ToolName,
						Arguments: string(p.Args),
					},
				})
			case conversation.PartToolResult:
				mc.Parts = append(mc.Parts, llms.ToolCallResponse{
					ToolCallID: p.ToolCallID,
					Content:    string(p.Result),
				})
			}
		}
		if len(mc.Parts) > 0 {
			out = append(out, mc)
		}
	}
	return out
}

// FromChoice converts a model choice into an assistant message.
func FromChoice(choice *llms.ContentChoice) conversation.Message {
	msg := conversation.Message{Role: conversation.RoleAssistant}
	if choice.Content != "" {
		msg.Parts = append(msg.Parts, conversation.TextPart(choice.Content))
	}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		msg.Parts = append(msg.Parts, conversation.ToolCallPart(tc.ID, tc.FunctionCall.Name, rawArgs(tc.FunctionCall.Arguments)))
	}
	if msg.Parts == nil {
		msg.Parts = []conversation.Part{conversation.TextPart("")}
	}
	return msg
}

func chatRole(r conversation.Role) llms.ChatMessageType {
	switch r {
	case conversation.RoleSystem:
		return llms.ChatMessageTypeSystem
	case conversation.RoleAssistant:
		return llms.ChatMessageTypeAI
	case conversation.RoleTool:
		return llms.ChatMessageTypeTool
	}
	return llms.ChatMessageTypeHuman
}

func rawArgs(s string) json.RawMessage {
	if s == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, _ := json.Marshal(s)
	return quoted
}
