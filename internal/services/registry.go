package services

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/convsim/internal/config"
	"github.com/fyrsmithlabs/convsim/internal/definition"
	"github.com/fyrsmithlabs/convsim/internal/llm"
	"github.com/fyrsmithlabs/convsim/internal/logging"
	"github.com/fyrsmithlabs/convsim/internal/orchestrator"
	"github.com/fyrsmithlabs/convsim/internal/store"
	"github.com/fyrsmithlabs/convsim/internal/target"
	"github.com/fyrsmithlabs/convsim/internal/trajectory"
)

// ErrNoTarget is returned when neither the document nor the registry names
// an agent under test.
var ErrNoTarget = errors.New("no agent under test configured")

// Options configures the registry.
type Options struct {
	Store    store.Store
	Logger   *logging.Logger
	Resolver definition.Resolver
	LLM      llm.Options

	// DefaultTarget is used for documents without a target section.
	DefaultTarget *target.Spec

	// Ceiling overrides the orchestrator safety ceiling when positive.
	Ceiling int
	Metrics *orchestrator.Metrics

	// Tracer defaults to the global otel tracer.
	Tracer trace.Tracer
}

// Registry runs trajectory documents against shared collaborators.
type Registry struct {
	store         store.Store
	logger        *logging.Logger
	resolver      definition.Resolver
	llmOpts       llm.Options
	defaultTarget *target.Spec
	ceiling       int
	metrics       *orchestrator.Metrics
	tracer        trace.Tracer
}

// NewRegistry creates a registry. A nil store discards artifacts.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		store:         opts.Store,
		logger:        opts.Logger,
		resolver:      opts.Resolver,
		llmOpts:       opts.LLM,
		defaultTarget: opts.DefaultTarget,
		ceiling:       opts.Ceiling,
		metrics:       opts.Metrics,
		tracer:        opts.Tracer,
	}
	if r.store == nil {
		r.store = store.Nop{}
	}
	if r.logger == nil {
		r.logger = logging.FromContext(context.Background())
	}
	return r
}

// OptionsFromConfig maps application config onto registry options.
func OptionsFromConfig(cfg *config.Config, s store.Store, logger *logging.Logger) Options {
	resolver := definition.ResolverFromConfig(cfg)
	def := TargetFromConfig(cfg.Target, resolver.DefaultModel)
	return Options{
		Store:    s,
		Logger:   logger,
		Resolver: resolver,
		LLM: llm.Options{
			RequestsPerMinute: cfg.LLM.RequestsPerMinute,
			Burst:             cfg.LLM.Burst,
			MaxTokens:         cfg.LLM.MaxTokens,
			Temperature:       cfg.LLM.Temperature,
		},
		DefaultTarget: def,
	}
}

// TargetFromConfig returns the configured default agent, or nil when the
// config names an http target without a url.
func TargetFromConfig(tc config.TargetConfig, model trajectory.ModelConfig) *target.Spec {
	if tc.Kind == string(target.KindHTTP) && tc.URL == "" {
		return nil
	}
	return &target.Spec{
		Kind:         target.Kind(tc.Kind),
		URL:          tc.URL,
		Headers:      tc.Headers,
		Timeout:      tc.Timeout.Duration(),
		Model:        model,
		SystemPrompt: tc.SystemPrompt,
	}
}

// Store returns the artifact store.
func (r *Registry) Store() store.Store { return r.store }

// Logger returns the registry logger.
func (r *Registry) Logger() *logging.Logger { return r.logger }

// Build turns a document into a trajectory using the registry resolver.
func (r *Registry) Build(doc *definition.Document) (*trajectory.Trajectory, error) {
	return doc.Build(r.resolver)
}

// Agent resolves the agent under test for doc.
func (r *Registry) Agent(doc *definition.Document) (target.Agent, error) {
	spec, ok := doc.TargetSpec(r.resolver.DefaultModel)
	if !ok {
		if r.defaultTarget == nil {
			return nil, ErrNoTarget
		}
		spec = *r.defaultTarget
	}
	agent, err := target.Build(spec, r.llmOpts, r.logger.Underlying())
	if err != nil {
		return nil, fmt.Errorf("building agent: %w", err)
	}
	return agent, nil
}

// RunDocument builds doc and runs it to completion. progress may be nil.
func (r *Registry) RunDocument(ctx context.Context, doc *definition.Document, progress orchestrator.ProgressCallback) (*trajectory.Result, error) {
	t, err := r.Build(doc)
	if err != nil {
		return nil, err
	}
	agent, err := r.Agent(doc)
	if err != nil {
		return nil, err
	}

	o, err := orchestrator.New(orchestrator.Config{
		Agent:   agent,
		Store:   r.store,
		Logger:  r.logger,
		LLM:     r.llmOpts,
		Ceiling: r.ceiling,
		Metrics: r.metrics,
		Tracer:  r.tracer,
	})
	if err != nil {
		return nil, err
	}
	if progress != nil {
		o.OnProgress(progress)
	}

	r.logger.Debug(ctx, "running trajectory document",
		zap.String("goal", doc.Goal),
		zap.Int("steps", len(doc.Steps)),
	)
	return o.Run(ctx, t)
}
