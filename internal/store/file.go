package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/convsim/internal/conversation"
	"github.com/fyrsmithlabs/convsim/internal/trajectory"
)

// File writes each artifact as indented JSON under
// <dir>/<trajectory id>/<run id>/<artifact>.json.
type File struct {
	dir    string
	logger *zap.Logger
}

// NewFile creates the root directory (0700) and returns a file store.
func NewFile(dir string, logger *zap.Logger) (*File, error) {
	if dir == "" {
		return nil, errors.New("store directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &File{dir: dir, logger: logger}, nil
}

func (f *File) SaveConversation(ctx context.Context, key Key, rec conversation.Record) error {
	return f.write(ctx, key, ArtifactConversation, rec)
}

func (f *File) SaveDefinition(ctx context.Context, key Key, snap trajectory.Snapshot) error {
	return f.write(ctx, key, ArtifactDefinition, snap)
}

func (f *File) SaveTraces(ctx context.Context, key Key, traces []trajectory.StepTrace) error {
	return f.write(ctx, key, ArtifactTraces, traces)
}

// Path returns where an artifact of key is stored.
func (f *File) Path(key Key, a Artifact) string {
	return filepath.Join(f.dir, key.TrajectoryID, key.RunID, string(a)+".json")
}

// Read decodes a stored artifact into v.
func (f *File) Read(key Key, a Artifact, v any) error {
	if err := key.Validate(); err != nil {
		return err
	}
	data, err := os.ReadFile(f.Path(key, a))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, key, a)
	}
	if err != nil {
		return fmt.Errorf("reading %s %s: %w", key, a, err)
	}
	return json.Unmarshal(data, v)
}

func (f *File) write(ctx context.Context, key Key, a Artifact, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := key.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", a, err)
	}

	path := f.Path(key, a)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}

	// O_EXCL makes the write-once check and the create a single step.
	fh, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s %s", ErrAlreadyWritten, key, a)
	}
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := fh.Write(data); err != nil {
		fh.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := fh.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}

	f.logger.Debug("artifact written",
		zap.String("key", key.String()),
		zap.String("artifact", string(a)),
		zap.Int("bytes", len(data)))
	return nil
}
