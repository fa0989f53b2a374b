package secrets

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/convsim/internal/conversation"
	"github.com/fyrsmithlabs/convsim/internal/trajectory"
)

// ScrubMessages returns redacted copies of msgs. Inputs are not modified.
func (s *Scrubber) ScrubMessages(location string, msgs []conversation.Message) ([]conversation.Message, []Redaction) {
	if msgs == nil {
		return nil, nil
	}
	out := make([]conversation.Message, len(msgs))
	var all []Redaction
	for i, m := range msgs {
		clean, rs := s.scrubMessage(m)
		out[i] = clean
		all = append(all, locate(rs, fmt.Sprintf("%s[%d]", location, i))...)
	}
	return out, all
}

func (s *Scrubber) scrubMessage(m conversation.Message) (conversation.Message, []Redaction) {
	if m.Parts == nil {
		return m, nil
	}
	parts := make([]conversation.Part, len(m.Parts))
	var all []Redaction
	for i, p := range m.Parts {
		var rs []Redaction
		switch p.Type {
		case conversation.PartText:
			p.Text, rs = s.Scrub(p.Text)
		case conversation.PartToolCall:
			var more []Redaction
			p.ToolName, rs = s.Scrub(p.ToolName)
			p.Args, more = s.scrubRaw(p.Args)
			rs = append(rs, more...)
		case conversation.PartToolResult:
			p.Result, rs = s.scrubRaw(p.Result)
		}
		parts[i] = p
		all = append(all, rs...)
	}
	m.Parts = parts
	return m, all
}

// scrubRaw scrubs a JSON payload value by value so that secrets inside
// strings are seen unescaped. Payloads that are not JSON are scrubbed as
// text and kept as a JSON string if redaction broke them.
func (s *Scrubber) scrubRaw(raw json.RawMessage) (json.RawMessage, []Redaction) {
	if len(raw) == 0 {
		return raw, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil || dec.More() {
		return s.scrubRawText(raw)
	}

	clean, rs := s.scrubValue("", v)
	if len(rs) == 0 {
		return raw, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(clean); err != nil {
		return s.scrubRawText(raw)
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), rs
}

func (s *Scrubber) scrubRawText(raw json.RawMessage) (json.RawMessage, []Redaction) {
	text, rs := s.Scrub(string(raw))
	if len(rs) == 0 {
		return raw, nil
	}
	if json.Valid([]byte(text)) {
		return json.RawMessage(text), rs
	}
	quoted, _ := json.Marshal(text)
	return quoted, rs
}

// scrubValue walks a decoded JSON value. key is the object key holding v,
// empty for array elements and the root.
func (s *Scrubber) scrubValue(key string, v interface{}) (interface{}, []Redaction) {
	switch t := v.(type) {
	case string:
		return s.scrubField(key, t)
	case []interface{}:
		var all []Redaction
		out := make([]interface{}, len(t))
		for i, e := range t {
			var rs []Redaction
			out[i], rs = s.scrubValue(key, e)
			all = append(all, rs...)
		}
		return out, all
	case map[string]interface{}:
		var all []Redaction
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			cleanKey, krs := s.Scrub(k)
			cleanVal, vrs := s.scrubValue(k, e)
			out[cleanKey] = cleanVal
			all = append(all, krs...)
			all = append(all, vrs...)
		}
		return out, all
	}
	return v, nil
}

// scrubField redacts a string value. Detection also runs on "key = value"
// so that assignment-style rules see the field name.
func (s *Scrubber) scrubField(key, value string) (string, []Redaction) {
	if value == "" {
		return value, nil
	}
	findings := s.Detect(value)
	if key != "" {
		findings = append(findings, s.Detect(key+" = "+value)...)
	}

	seen := make(map[string]bool)
	kept := findings[:0]
	for _, f := range findings {
		if f.Match == "" || seen[f.Match] || !strings.Contains(value, f.Match) {
			continue
		}
		seen[f.Match] = true
		kept = append(kept, f)
	}
	if len(kept) == 0 {
		return value, nil
	}
	return replaceFindings(value, kept), redactionsOf(kept)
}

// ScrubRecord redacts every exchange of a conversation record.
func (s *Scrubber) ScrubRecord(rec conversation.Record) (conversation.Record, AuditLog) {
	start := time.Now()
	out := rec
	out.Exchanges = make([]conversation.Exchange, len(rec.Exchanges))
	var all []Redaction
	for i, ex := range rec.Exchanges {
		var in, outRs []Redaction
		ex.Input, in = s.ScrubMessages(fmt.Sprintf("exchange %d input", ex.Index), ex.Input)
		ex.Output, outRs = s.ScrubMessages(fmt.Sprintf("exchange %d output", ex.Index), ex.Output)
		out.Exchanges[i] = ex
		all = append(all, in...)
		all = append(all, outRs...)
	}
	return out, newAudit("conversation "+rec.ID, all, time.Since(start))
}

// ScrubTraces redacts the user and agent messages of every trace.
func (s *Scrubber) ScrubTraces(id string, traces []trajectory.StepTrace) ([]trajectory.StepTrace, AuditLog) {
	start := time.Now()
	out := make([]trajectory.StepTrace, len(traces))
	var all []Redaction
	for i, tr := range traces {
		user, rs := s.scrubMessage(tr.UserMessage)
		tr.UserMessage = user
		all = append(all, locate(rs, fmt.Sprintf("turn %d user", tr.TurnIndex))...)

		var agentRs []Redaction
		tr.AgentMessages, agentRs = s.ScrubMessages(fmt.Sprintf("turn %d agent", tr.TurnIndex), tr.AgentMessages)
		all = append(all, agentRs...)
		out[i] = tr
	}
	return out, newAudit("traces "+id, all, time.Since(start))
}

func locate(rs []Redaction, location string) []Redaction {
	for i := range rs {
		rs[i].Location = location
	}
	return rs
}
