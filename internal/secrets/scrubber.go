package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Finding is one detected secret.
type Finding struct {
	RuleID   string
	RuleDesc string
	Line     int // 1-based
	StartCol int
	EndCol   int
	Match    string
}

// Scrubber redacts secrets from text. The Gitleaks detector is built once;
// scans are serialized because the detector accumulates findings internally.
type Scrubber struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// NewScrubber builds a scrubber using the default Gitleaks rules plus the
// given allowlist, which may be nil.
func NewScrubber(allowlist *Allowlist) (*Scrubber, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating detector: %w", err)
	}
	if allowlist != nil {
		if err := applyAllowlist(&detector.Config, allowlist); err != nil {
			return nil, err
		}
	}
	return &Scrubber{detector: detector}, nil
}

// Detect returns the secrets found in content.
func (s *Scrubber) Detect(content string) []Finding {
	s.mu.Lock()
	raw := s.detector.DetectString(content)
	s.mu.Unlock()

	findings := make([]Finding, 0, len(raw))
	for _, f := range raw {
		findings = append(findings, Finding{
			RuleID:   f.RuleID,
			RuleDesc: f.Description,
			Line:     f.StartLine,
			StartCol: f.StartColumn,
			EndCol:   f.EndColumn,
			Match:    f.Secret,
		})
	}
	return findings
}

// Scrub replaces every detected secret with a [REDACTED:rule:preview]
// marker and reports what it replaced.
func (s *Scrubber) Scrub(content string) (string, []Redaction) {
	if content == "" {
		return content, nil
	}
	findings := s.Detect(content)
	if len(findings) == 0 {
		return content, nil
	}
	return replaceFindings(content, findings), redactionsOf(findings)
}

// replaceFindings substitutes the secret text itself, which is robust to the
// column conventions of individual rules. Longer secrets go first so a
// secret containing another is replaced whole.
func replaceFindings(content string, findings []Finding) string {
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i].Match) > len(sorted[j].Match) })

	for _, f := range sorted {
		if f.Match == "" {
			continue
		}
		marker := fmt.Sprintf("[REDACTED:%s:%s]", f.RuleID, preview(f.Match, 4))
		content = strings.ReplaceAll(content, f.Match, marker)
	}
	return content
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func redactionsOf(findings []Finding) []Redaction {
	out := make([]Redaction, 0, len(findings))
	for _, f := range findings {
		out = append(out, Redaction{
			RuleID:      f.RuleID,
			RuleDesc:    f.RuleDesc,
			LineNumber:  f.Line,
			OriginalLen: len(f.Match),
			Preview:     preview(f.Match, 4),
		})
	}
	return out
}

// applyAllowlist merges allowlist patterns into the Gitleaks config.
func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) error {
	entry := &gitleaksConfig.Allowlist{
		Description: "convsim transcript allowlist",
		StopWords:   append([]string(nil), allowlist.StopWords...),
	}
	for _, pattern := range allowlist.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidRegex, pattern, err)
		}
		entry.Regexes = append(entry.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	cfg.Allowlists = append(cfg.Allowlists, entry)
	return nil
}

// newAudit builds an audit log for one scrub pass.
func newAudit(subject string, redactions []Redaction, elapsed time.Duration) AuditLog {
	counts := make(map[string]int)
	for _, r := range redactions {
		counts[r.RuleID]++
	}
	if redactions == nil {
		redactions = []Redaction{}
	}
	return AuditLog{
		Timestamp:  time.Now(),
		Subject:    subject,
		Redactions: redactions,
		Summary: Summary{
			TotalSecrets:     len(redactions),
			UniqueRules:      len(counts),
			RuleCounts:       counts,
			ProcessingTimeMs: elapsed.Milliseconds(),
		},
	}
}
