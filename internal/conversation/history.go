package conversation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// LastIndexOf returns the index of the last message with the given role at or
// before index end (exclusive), or -1.
func LastIndexOf(history []Message, role Role, end int) int {
	if end > len(history) {
		end = len(history)
	}
	for i := end - 1; i >= 0; i-- {
		if history[i].Role == role {
			return i
		}
	}
	return -1
}

// LastOf returns the most recent message with the given role.
func LastOf(history []Message, role Role) (Message, bool) {
	i := LastIndexOf(history, role, len(history))
	if i < 0 {
		return Message{}, false
	}
	return history[i], true
}

// LastText returns the text of the most recent message with the given role,
// or "" if there is none.
func LastText(history []Message, role Role) string {
	m, ok := LastOf(history, role)
	if !ok {
		return ""
	}
	return m.Text()
}

// Texts returns the text of every message in order, skipping messages with
// no text parts.
func Texts(history []Message) []string {
	out := make([]string, 0, len(history))
	for _, m := range history {
		if t := m.Text(); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Clone returns a shallow copy of history that can be appended to without
// aliasing the original backing array.
func Clone(history []Message) []Message {
	out := make([]Message, len(history))
	copy(out, history)
	return out
}

// Window returns the suffix of history covering the last n turns, where a turn
// starts at a user message. n <= 0 returns nil.
func Window(history []Message, n int) []Message {
	if n <= 0 {
		return nil
	}
	seen := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			seen++
			if seen == n {
				return history[i:]
			}
		}
	}
	return history
}

// FormatTranscript renders messages as labeled lines. Tool calls and results
// are rendered as text so the transcript can be embedded in a prompt.
func FormatTranscript(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		for _, p := range m.Parts {
			switch p.Type {
			case PartText:
				if p.Text == "" {
					continue
				}
				fmt.Fprintf(&b, "%s: %s\n", label(m.Role), p.Text)
			case PartToolCall:
				fmt.Fprintf(&b, "%s called tool %s(%s)\n", label(m.Role), p.ToolName, compact(p.Args))
			case PartToolResult:
				fmt.Fprintf(&b, "Tool result [%s]: %s\n", p.ToolCallID, compact(p.Result))
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func label(r Role) string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	case RoleTool:
		return "Tool"
	case RoleSystem:
		return "System"
	}
	return string(r)
}

func compact(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 500 {
		return s[:runeCut(s, 500)] + "..."
	}
	return s
}

// runeCut returns the largest index <= n that starts a rune in s.
func runeCut(s string, n int) int {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}
