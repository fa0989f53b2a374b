package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/convsim/internal/conversation"
	"github.com/fyrsmithlabs/convsim/internal/llm"
	"github.com/fyrsmithlabs/convsim/internal/logging"
	"github.com/fyrsmithlabs/convsim/internal/selector"
	"github.com/fyrsmithlabs/convsim/internal/store"
	"github.com/fyrsmithlabs/convsim/internal/target"
	"github.com/fyrsmithlabs/convsim/internal/trajectory"
	"github.com/fyrsmithlabs/convsim/internal/usersim"
)

const instrumentationName = "github.com/fyrsmithlabs/convsim/internal/orchestrator"

// Config configures an Orchestrator.
type Config struct {
	// Agent is the agent under test. Required.
	Agent target.Agent

	// Store receives the run's artifacts. Nil discards them.
	Store store.Store

	Logger *logging.Logger

	// LLM configures the client built from each trajectory's user model.
	LLM llm.Options

	// Ceiling overrides trajectory.SafetyCeiling when positive.
	Ceiling int

	// Metrics defaults to the process-wide NewMetrics.
	Metrics *Metrics

	// Tracer defaults to the global OpenTelemetry tracer provider.
	Tracer trace.Tracer

	// Now and NewID override the clock and id generator.
	Now   func() time.Time
	NewID func() string
}

// Orchestrator runs trajectories against one agent.
type Orchestrator struct {
	agent    target.Agent
	store    store.Store
	logger   *logging.Logger
	llmOpts  llm.Options
	policy   trajectory.Policy
	metrics  *Metrics
	tracer   trace.Tracer
	now      func() time.Time
	newID    func() string
	progress ProgressCallback
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Agent == nil {
		return nil, errors.New("agent is required")
	}
	o := &Orchestrator{
		agent:   cfg.Agent,
		store:   cfg.Store,
		logger:  cfg.Logger,
		llmOpts: cfg.LLM,
		policy:  trajectory.Policy{Ceiling: cfg.Ceiling},
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
		now:     cfg.Now,
		newID:   cfg.NewID,
	}
	if o.store == nil {
		o.store = store.Nop{}
	}
	if o.logger == nil {
		o.logger = logging.FromContext(context.Background())
	}
	if o.llmOpts.Logger == nil {
		o.llmOpts.Logger = o.logger.Underlying()
	}
	if o.metrics == nil {
		o.metrics = NewMetrics()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(instrumentationName)
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newID == nil {
		o.newID = func() string { return uuid.New().String() }
	}
	return o, nil
}

// OnProgress sets the progress callback. It is invoked synchronously from
// Run and must not block.
func (o *Orchestrator) OnProgress(cb ProgressCallback) {
	o.progress = cb
}

// run is the state exclusively owned by one Run call.
type run struct {
	traj     *trajectory.Trajectory
	id       string
	runID    string
	graph    *trajectory.StepGraph
	loopCfg  trajectory.LoopDetection
	selector selector.Selector
	gen      *usersim.Generator

	states  trajectory.RuntimeStates
	traces  []trajectory.StepTrace
	history []conversation.Message
	chosen  []trajectory.StepID
	current trajectory.StepID

	// pursuing is the last chosen step while it is neither satisfied nor
	// failed.
	pursuing trajectory.StepID
}

// Run executes t until a stop condition holds. Configuration errors are
// returned before any turn executes; external-call failures are returned
// as *RunError.
func (o *Orchestrator) Run(ctx context.Context, t *trajectory.Trajectory) (*trajectory.Result, error) {
	if t == nil {
		return nil, errors.New("trajectory is required")
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid trajectory: %w", err)
	}

	r := &run{
		traj:    t,
		id:      t.ID,
		runID:   o.newID(),
		graph:   t.Steps,
		loopCfg: t.LoopDetection.WithDefaults(),
		states:  trajectory.NewRuntimeStates(),
	}
	if r.id == "" {
		r.id = o.newID()
	}

	client, err := llm.Resolve(t.UserModel, o.llmOpts)
	if err != nil {
		return nil, fmt.Errorf("resolving user model: %w", err)
	}
	r.gen, err = usersim.New(usersim.Config{LLM: client, Logger: o.llmOpts.Logger, Now: o.now})
	if err != nil {
		return nil, err
	}
	r.selector, err = selector.New(t.Mode, client, t.Selector.WithDefaults(), o.llmOpts.Logger)
	if err != nil {
		return nil, fmt.Errorf("creating selector: %w", err)
	}

	ctx = logging.WithTrajectoryID(ctx, r.id)
	ctx = logging.WithRunID(ctx, r.runID)
	ctx, span := o.tracer.Start(ctx, "trajectory.run", trace.WithAttributes(
		attribute.String("trajectory.id", r.id),
		attribute.String("run.id", r.runID),
		attribute.String("trajectory.mode", string(mode(t))),
		attribute.Int("trajectory.steps", r.graph.Len()),
	))
	defer span.End()

	start := o.now()
	o.logger.Info(ctx, "trajectory run started",
		zap.String("mode", string(mode(t))),
		zap.Int("steps", r.graph.Len()),
		zap.Int("turn_limit", o.policy.Limit(t.MaxTurns)))

	result, err := o.loop(ctx, r)
	o.metrics.RunDuration.Observe(o.since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.RunsTotal.WithLabelValues("error").Inc()
		o.logger.Error(ctx, "trajectory run failed", zap.Error(err), zap.Int("turns", len(r.traces)))
		return nil, err
	}

	span.SetAttributes(
		attribute.String("trajectory.stop_reason", string(result.Reason)),
		attribute.Bool("trajectory.completed", result.Completed),
		attribute.Int("trajectory.turns", len(result.Steps)),
	)
	o.metrics.RunsTotal.WithLabelValues(string(result.Reason)).Inc()
	o.logger.Info(ctx, "trajectory run finished",
		zap.String("reason", string(result.Reason)),
		zap.Bool("completed", result.Completed),
		zap.Int("turns", len(result.Steps)),
		zap.Duration("duration", o.since(start)))

	o.persist(ctx, r)
	return result, nil
}

// loop executes turns until a stop decision or an error.
func (o *Orchestrator) loop(ctx context.Context, r *run) (*trajectory.Result, error) {
	for turn := 0; ; turn++ {
		if err := ctx.Err(); err != nil {
			return nil, o.fail(r, PhaseSelect, turn, err)
		}

		sel, err := o.selectStep(ctx, r, turn)
		if err != nil {
			return nil, err
		}

		ids := append(append([]trajectory.StepID(nil), r.chosen...), sel.Chosen)
		if d := trajectory.DetectLoop(ids, r.loopCfg); d.ShouldStop {
			return o.finish(ctx, r, trajectory.End{Reason: d.Reason, Summary: d.Summary}), nil
		}

		if d := o.policy.Evaluate(trajectory.PolicyInput{
			TurnIndex:   turn,
			MaxTurns:    r.traj.MaxTurns,
			Graph:       r.graph,
			CurrentStep: r.current,
		}); d.Stop {
			return o.finish(ctx, r, trajectory.End{Reason: d.Reason, Completed: d.Completed, Summary: d.Summary}), nil
		}

		if err := o.turn(ctx, r, turn, sel); err != nil {
			return nil, err
		}
	}
}

// selectStep computes eligibility and runs the mode's selector.
func (o *Orchestrator) selectStep(ctx context.Context, r *run, turn int) (trajectory.Selection, error) {
	if r.graph.Len() == 0 {
		return trajectory.Selection{Method: trajectory.MethodNone}, nil
	}

	eligible, err := trajectory.Eligible(ctx, r.graph, r.states, r.history)
	if err != nil {
		return trajectory.Selection{}, o.fail(r, PhaseEvaluate, turn, err)
	}
	r.states.MarkBlocked(eligible, o.now())

	began := o.now()
	sel, err := r.selector.Select(ctx, selector.Input{
		Graph:    r.graph,
		Eligible: eligible,
		Current:  r.current,
		Pursuing: r.pursuing,
		History:  r.history,
		Goal:     r.traj.Goal,
	})
	o.metrics.observe(PhaseSelect, o.since(began))
	if err != nil {
		return trajectory.Selection{}, o.fail(r, PhaseSelect, turn, err)
	}
	o.metrics.SelectionsTotal.WithLabelValues(string(sel.Method)).Inc()
	return sel, nil
}

// turn generates the user message, calls the agent, records the trace and
// updates the pursued step's state.
func (o *Orchestrator) turn(ctx context.Context, r *run, turn int, sel trajectory.Selection) error {
	ctx = logging.WithTurn(ctx, turn)
	ctx, span := o.tracer.Start(ctx, "trajectory.turn", trace.WithAttributes(
		attribute.Int("turn.index", turn),
		attribute.String("step.id", string(sel.Chosen)),
		attribute.String("selection.method", string(sel.Method)),
	))
	defer span.End()

	var step *trajectory.StepDefinition
	if sel.Chosen != "" {
		def, ok := r.graph.Step(sel.Chosen)
		if !ok {
			return o.fail(r, PhaseSelect, turn, fmt.Errorf("selector chose unknown step %q", sel.Chosen))
		}
		step = &def
		r.states.Select(def.ID, o.now())
		r.chosen = append(r.chosen, def.ID)
		r.pursuing = def.ID
	}

	callCtx := ctx
	if step != nil && step.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	began := o.now()
	userMsg, err := r.gen.Next(callCtx, usersim.Request{
		Persona:     r.traj.Persona,
		Goal:        r.traj.Goal,
		Step:        step,
		History:     r.history,
		WindowTurns: r.traj.Window(),
	})
	o.metrics.observe(PhaseGenerate, o.since(began))
	if err != nil {
		span.RecordError(err)
		return o.fail(r, PhaseGenerate, turn, err)
	}
	r.history = append(r.history, userMsg)

	began = o.now()
	resp, err := o.agent.Respond(callCtx, conversation.Clone(r.history))
	o.metrics.observe(PhaseAgent, o.since(began))
	if err != nil {
		span.RecordError(err)
		return o.fail(r, PhaseAgent, turn, fmt.Errorf("agent respond: %w", err))
	}
	var agentMsgs []conversation.Message
	if resp != nil {
		agentMsgs = conversation.Clone(resp.Messages)
	}
	r.history = append(r.history, agentMsgs...)

	r.traces = append(r.traces, trajectory.StepTrace{
		TurnIndex:     turn,
		UserMessage:   userMsg,
		AgentMessages: agentMsgs,
		Timestamp:     o.now(),
		StepID:        sel.Chosen,
		Selection:     sel,
	})
	o.metrics.TurnsTotal.WithLabelValues(string(mode(r.traj))).Inc()

	status := trajectory.StatusIdle
	if step != nil {
		state := r.states.Get(step.ID, o.now())
		satisfied, err := trajectory.IsSatisfied(ctx, *step, state, r.states, r.history)
		if err != nil {
			return o.fail(r, PhaseEvaluate, turn, err)
		}
		wasSatisfied := state.Status == trajectory.StatusSatisfied
		state = r.states.RecordAttempt(step.ID, satisfied, step.MaxAttempts, o.now())
		status = state.Status
		if satisfied && !wasSatisfied {
			r.current = step.ID
		}
		if status == trajectory.StatusSatisfied || status == trajectory.StatusFailed {
			r.pursuing = ""
		}
		span.SetAttributes(attribute.Bool("step.satisfied", satisfied))
	}

	o.logger.Debug(ctx, "turn recorded",
		zap.String("step_id", string(sel.Chosen)),
		zap.String("method", string(sel.Method)),
		zap.String("step_status", string(status)),
		zap.Int("agent_messages", len(agentMsgs)))

	o.report(Progress{
		TrajectoryID: r.id,
		RunID:        r.runID,
		TurnIndex:    turn,
		StepID:       sel.Chosen,
		Method:       sel.Method,
		StepStatus:   status,
	})
	return nil
}

// finish attaches end to the last trace and builds the result.
func (o *Orchestrator) finish(ctx context.Context, r *run, end trajectory.End) *trajectory.Result {
	end.IsFinal = true
	if n := len(r.traces); n > 0 {
		e := end
		r.traces[n-1].End = &e
	}

	o.logger.Debug(ctx, "stop condition reached",
		zap.String("reason", string(end.Reason)),
		zap.String("summary", end.Summary))

	o.report(Progress{
		TrajectoryID: r.id,
		RunID:        r.runID,
		TurnIndex:    len(r.traces),
		Stop:         &end,
	})

	return &trajectory.Result{
		TrajectoryID: r.id,
		RunID:        r.runID,
		Steps:        r.traces,
		Completed:    end.Completed,
		Reason:       end.Reason,
		Summary:      end.Summary,
		StepStates:   r.states.List(),
	}
}

func (o *Orchestrator) fail(r *run, phase Phase, turn int, err error) error {
	traces := make([]trajectory.StepTrace, len(r.traces))
	copy(traces, r.traces)
	return &RunError{Phase: phase, TurnIndex: turn, Traces: traces, Err: err}
}

// persist hands the run's artifacts to the store. Failures are logged.
func (o *Orchestrator) persist(ctx context.Context, r *run) {
	key := store.Key{TrajectoryID: r.id, RunID: r.runID}
	snap := trajectory.SnapshotOf(r.traj)
	snap.ID = r.id

	if err := o.store.SaveConversation(ctx, key, trajectory.ConversationRecord(r.id, r.traces)); err != nil {
		o.logger.Warn(ctx, "failed to save conversation record", zap.Error(err))
	}
	if err := o.store.SaveDefinition(ctx, key, snap); err != nil {
		o.logger.Warn(ctx, "failed to save trajectory snapshot", zap.Error(err))
	}
	if err := o.store.SaveTraces(ctx, key, r.traces); err != nil {
		o.logger.Warn(ctx, "failed to save step traces", zap.Error(err))
	}
}

// since measures elapsed time on the orchestrator's clock.
func (o *Orchestrator) since(t time.Time) time.Duration {
	return o.now().Sub(t)
}

func (o *Orchestrator) report(p Progress) {
	if o.progress != nil {
		o.progress(p)
	}
}

func mode(t *trajectory.Trajectory) trajectory.Mode {
	if t.Mode == "" {
		return trajectory.ModeStrict
	}
	return t.Mode
}
