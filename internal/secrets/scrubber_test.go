package secrets

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/convsim/internal/conversation"
	"github.com/fyrsmithlabs/convsim/internal/trajectory"
)

const leaky = `const apiKey = "sk-proj-abc123def456ghi789jkl012mno345pqr678stu901xyz"`

func newScrubber(t *testing.T) *Scrubber {
	t.Helper()
	s, err := NewScrubber(nil)
	require.NoError(t, err)
	return s
}

func TestScrubber_CleanContentUnchanged(t *testing.T) {
	s := newScrubber(t)

	out, rs := s.Scrub("I'd like to change my delivery address, please.")
	assert.Equal(t, "I'd like to change my delivery address, please.", out)
	assert.Empty(t, rs)
}

func TestScrubber_RedactsKey(t *testing.T) {
	s := newScrubber(t)

	out, rs := s.Scrub(leaky)
	require.NotEmpty(t, rs)
	assert.NotContains(t, out, "abc123def456ghi789")
	assert.Contains(t, out, "[REDACTED:")
	assert.Equal(t, "sk-p", rs[0].Preview)
}

func TestReplaceFindings_LongestFirst(t *testing.T) {
	content := "token=abcdef and abcdefghij"
	findings := []Finding{
		{RuleID: "short", Match: "abcdef"},
		{RuleID: "long", Match: "abcdefghij"},
	}

	out := replaceFindings(content, findings)
	assert.Equal(t, "token=[REDACTED:short:abcd] and [REDACTED:long:abcd]", out)
}

func TestScrubTraces_DoesNotMutateInput(t *testing.T) {
	s := newScrubber(t)
	traces := []trajectory.StepTrace{{
		TurnIndex:     0,
		UserMessage:   conversation.User("hello"),
		AgentMessages: []conversation.Message{conversation.Assistant(leaky)},
	}}

	out, audit := s.ScrubTraces("t1", traces)

	assert.Equal(t, leaky, traces[0].AgentMessages[0].Text())
	assert.NotContains(t, out[0].AgentMessages[0].Text(), "abc123def456ghi789")
	assert.True(t, audit.HasRedactions())
	assert.Equal(t, "turn 0 agent[0]", audit.Redactions[0].Location)
	assert.Equal(t, len(audit.Redactions), audit.Summary.TotalSecrets)
}

func TestScrubRecord_ToolPayloadStaysJSON(t *testing.T) {
	s := newScrubber(t)
	args, err := json.Marshal(map[string]string{"code": leaky})
	require.NoError(t, err)

	rec := conversation.Record{ID: "r1", Exchanges: []conversation.Exchange{{
		Index: 0,
		Input: []conversation.Message{conversation.User("run it")},
		Output: []conversation.Message{{
			Role:  conversation.RoleAssistant,
			Parts: []conversation.Part{conversation.ToolCallPart("c1", "exec", args)},
		}},
	}}}

	out, audit := s.ScrubRecord(rec)

	got := out.Exchanges[0].Output[0].Parts[0].Args
	assert.True(t, json.Valid(got))
	assert.NotContains(t, string(got), "abc123def456ghi789")
	assert.True(t, audit.HasRedactions())
	assert.Contains(t, audit.JSON(), `"subject":"conversation r1"`)
}

func TestScrubRaw_NestedFields(t *testing.T) {
	s := newScrubber(t)
	payload := []byte(`{"env":[{"api_key":"sk-proj-abc123def456ghi789jkl012mno345pqr678stu901xyz"}],"retries":3,"note":"a < b"}`)

	got, rs := s.scrubRaw(payload)

	require.NotEmpty(t, rs)
	require.True(t, json.Valid(got))
	assert.NotContains(t, string(got), "abc123def456ghi789")

	var decoded struct {
		Env     []map[string]string `json:"env"`
		Retries json.Number         `json:"retries"`
		Note    string              `json:"note"`
	}
	require.NoError(t, json.Unmarshal(got, &decoded))
	require.Len(t, decoded.Env, 1)
	assert.Contains(t, decoded.Env[0]["api_key"], "[REDACTED:")
	assert.Equal(t, json.Number("3"), decoded.Retries)
	assert.Equal(t, "a < b", decoded.Note)
}

func TestScrubRaw_CleanPayloadUntouched(t *testing.T) {
	s := newScrubber(t)
	payload := []byte(`{"query": "order 42",  "limit": 10}`)

	got, rs := s.scrubRaw(payload)

	assert.Empty(t, rs)
	assert.Equal(t, string(payload), string(got))
}

func TestScrubRaw_NotJSON(t *testing.T) {
	s := newScrubber(t)

	got, rs := s.scrubRaw([]byte(leaky))

	require.NotEmpty(t, rs)
	assert.True(t, json.Valid(got))
	assert.NotContains(t, string(got), "abc123def456ghi789")
}

func TestLoadAllowlists(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "allow.toml")
	require.NoError(t, os.WriteFile(good, []byte(`
[allowlist]
regexes = ['''demo-key-\d+''']
stopwords = ["dummy"]
`), 0600))

	a, err := LoadAllowlists(good, filepath.Join(dir, "missing.toml"), "")
	require.NoError(t, err)
	assert.Equal(t, []string{`demo-key-\d+`}, a.Regexes)
	assert.Equal(t, []string{"dummy"}, a.StopWords)
}

func TestLoadAllowlists_Errors(t *testing.T) {
	dir := t.TempDir()

	badTOML := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(badTOML, []byte("[allowlist\nregexes = "), 0600))
	_, err := LoadAllowlists(badTOML)
	assert.ErrorIs(t, err, ErrInvalidTOML)

	badRegex := filepath.Join(dir, "regex.toml")
	require.NoError(t, os.WriteFile(badRegex, []byte("[allowlist]\nregexes = ['''(unclosed''']\n"), 0600))
	_, err = LoadAllowlists(badRegex)
	assert.ErrorIs(t, err, ErrInvalidRegex)
	assert.True(t, strings.Contains(err.Error(), "regex.toml"))
}

func TestNewScrubber_WithAllowlist(t *testing.T) {
	s, err := NewScrubber(&Allowlist{Regexes: []string{`sk-proj-abc123`}})
	require.NoError(t, err)

	out, _ := s.Scrub(leaky)
	assert.Equal(t, leaky, out)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "sk-p", preview("sk-proj-123", 4))
	assert.Equal(t, "abc", preview("abcé", 4))
	assert.Equal(t, "pw", preview("pw", 4))
}
