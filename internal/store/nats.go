package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/convsim/internal/conversation"
	"github.com/fyrsmithlabs/convsim/internal/trajectory"
)

// DefaultSubjectPrefix roots every artifact subject.
const DefaultSubjectPrefix = "convsim.runs"

// NATSConfig configures the JetStream store.
type NATSConfig struct {
	// Stream is created on first use if missing. Defaults to CONVSIM_RUNS.
	Stream        string
	SubjectPrefix string
	Logger        *zap.Logger
}

// NATS publishes artifacts to a JetStream stream on subjects
// <prefix>.<trajectory id>.<run id>.<artifact>.
//
// Write-once is enforced by checking the subject's last message and by the
// stream's message-id deduplication.
type NATS struct {
	js     nats.JetStreamContext
	stream string
	prefix string
	logger *zap.Logger
}

// NewNATS binds the store to nc, creating the stream when absent.
func NewNATS(nc *nats.Conn, cfg NATSConfig) (*NATS, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "CONVSIM_RUNS"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	if _, err := js.StreamInfo(cfg.Stream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return nil, fmt.Errorf("stream info %s: %w", cfg.Stream, err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     cfg.Stream,
			Subjects: []string{cfg.SubjectPrefix + ".>"},
			Storage:  nats.FileStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("creating stream %s: %w", cfg.Stream, err)
		}
		cfg.Logger.Info("created run stream",
			zap.String("stream", cfg.Stream),
			zap.String("subjects", cfg.SubjectPrefix+".>"))
	}

	return &NATS{js: js, stream: cfg.Stream, prefix: cfg.SubjectPrefix, logger: cfg.Logger}, nil
}

func (n *NATS) SaveConversation(ctx context.Context, key Key, rec conversation.Record) error {
	return n.publish(ctx, key, ArtifactConversation, rec)
}

func (n *NATS) SaveDefinition(ctx context.Context, key Key, snap trajectory.Snapshot) error {
	return n.publish(ctx, key, ArtifactDefinition, snap)
}

func (n *NATS) SaveTraces(ctx context.Context, key Key, traces []trajectory.StepTrace) error {
	return n.publish(ctx, key, ArtifactTraces, traces)
}

// Subject returns the subject an artifact of key is published on.
func (n *NATS) Subject(key Key, a Artifact) string {
	return strings.Join([]string{n.prefix, key.TrajectoryID, key.RunID, string(a)}, ".")
}

// Read decodes the stored artifact into v.
func (n *NATS) Read(ctx context.Context, key Key, a Artifact, v any) error {
	if err := key.Validate(); err != nil {
		return err
	}
	msg, err := n.js.GetLastMsg(n.stream, n.Subject(key, a), nats.Context(ctx))
	if errors.Is(err, nats.ErrMsgNotFound) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, key, a)
	}
	if err != nil {
		return fmt.Errorf("reading %s %s: %w", key, a, err)
	}
	return json.Unmarshal(msg.Data, v)
}

func (n *NATS) publish(ctx context.Context, key Key, a Artifact, v any) error {
	if err := key.Validate(); err != nil {
		return err
	}
	subject := n.Subject(key, a)

	_, err := n.js.GetLastMsg(n.stream, subject, nats.Context(ctx))
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s %s", ErrAlreadyWritten, key, a)
	case !errors.Is(err, nats.ErrMsgNotFound):
		return fmt.Errorf("checking %s: %w", subject, err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", a, err)
	}

	ack, err := n.js.Publish(subject, data, nats.MsgId(subject), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	if ack.Duplicate {
		return fmt.Errorf("%w: %s %s", ErrAlreadyWritten, key, a)
	}

	n.logger.Debug("artifact published",
		zap.String("subject", subject),
		zap.Uint64("seq", ack.Sequence),
		zap.Int("bytes", len(data)))
	return nil
}
