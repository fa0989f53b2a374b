package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/convsim/internal/selector"
)

const rankSystemPrompt = `You rank conversation steps for a test harness. Given the goal, the agent's latest message, and a numbered list of candidate steps, score how relevant each step is to pursue next.

Respond with JSON only, no prose, in exactly this shape:
{"candidates":[{"stepIndex":0,"confidence":0.0,"reasoning":"..."}],"bestIndex":0,"rationale":"..."}

Rules:
- Include at most 3 candidates, sorted by confidence descending.
- confidence is a number between 0 and 1.
- stepIndex refers to the numbered list.
- bestIndex is null if no step is clearly relevant.`

// Rank scores req.Steps against the latest agent message. It implements
// selector.Ranker.
func (c *Client) Rank(ctx context.Context, req selector.RankRequest) (*selector.RankResponse, error) {
	text, err := c.Generate(ctx, rankSystemPrompt, buildRankPrompt(req))
	if err != nil {
		return nil, err
	}

	resp, err := ParseRankResponse(text)
	if err != nil {
		c.logger.Debug("unparseable ranking response", zap.String("response", truncate(text, 200)))
		return nil, err
	}
	return resp, nil
}

func buildRankPrompt(req selector.RankRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n\n", req.Goal)
	fmt.Fprintf(&b, "Agent's latest message:\n%s\n\n", orDefault(req.LastAssistant, "(none yet)"))
	b.WriteString("Candidate steps:\n")
	for i, s := range req.Steps {
		fmt.Fprintf(&b, "%d. [%s] %s", i, s.ID, s.Instruction)
		if len(s.Hints) > 0 {
			fmt.Fprintf(&b, " (hints: %s)", strings.Join(s.Hints, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ParseRankResponse extracts the JSON object from a model reply, tolerating
// surrounding prose or code fences.
func ParseRankResponse(text string) (*selector.RankResponse, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("ranking response has no JSON object")
	}

	var resp selector.RankResponse
	if err := json.Unmarshal([]byte(text[start:end+1]), &resp); err != nil {
		return nil, fmt.Errorf("decoding ranking response: %w", err)
	}
	return &resp, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
