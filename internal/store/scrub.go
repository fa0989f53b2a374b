package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/convsim/internal/conversation"
	"github.com/fyrsmithlabs/convsim/internal/secrets"
	"github.com/fyrsmithlabs/convsim/internal/trajectory"
)

// Scrubbing redacts secrets from conversations and traces before handing
// them to the wrapped store. Definitions carry no transcript and pass through.
type Scrubbing struct {
	next     Store
	scrubber *secrets.Scrubber
	logger   *zap.Logger
}

// WithScrubbing wraps next.
func WithScrubbing(next Store, scrubber *secrets.Scrubber, logger *zap.Logger) *Scrubbing {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scrubbing{next: next, scrubber: scrubber, logger: logger}
}

func (s *Scrubbing) SaveConversation(ctx context.Context, key Key, rec conversation.Record) error {
	clean, audit := s.scrubber.ScrubRecord(rec)
	s.report(key, audit)
	return s.next.SaveConversation(ctx, key, clean)
}

func (s *Scrubbing) SaveDefinition(ctx context.Context, key Key, snap trajectory.Snapshot) error {
	return s.next.SaveDefinition(ctx, key, snap)
}

func (s *Scrubbing) SaveTraces(ctx context.Context, key Key, traces []trajectory.StepTrace) error {
	clean, audit := s.scrubber.ScrubTraces(key.String(), traces)
	s.report(key, audit)
	return s.next.SaveTraces(ctx, key, clean)
}

func (s *Scrubbing) report(key Key, audit secrets.AuditLog) {
	if !audit.HasRedactions() {
		return
	}
	s.logger.Warn("secrets redacted before persistence",
		zap.String("key", key.String()),
		zap.String("subject", audit.Subject),
		zap.Int("total", audit.Summary.TotalSecrets),
		zap.Any("rules", audit.Summary.RuleCounts))
}
