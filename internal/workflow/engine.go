// Package workflow executes a parsed plan one step at a time, stopping at
// the first failure.
package workflow

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rahul/handsfree/internal/dispatch"
	"github.com/rahul/handsfree/internal/intent"
	"github.com/rahul/handsfree/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrCanceled = errors.New("workflow canceled")

// Dispatcher runs a single step.
type Dispatcher interface {
	Dispatch(ctx context.Context, step intent.ActionStep) dispatch.StepResult
}

// Observer is notified as a run progresses. Calls happen on the executing
// goroutine.
type Observer interface {
	OnStep(run Run, res dispatch.StepResult)
	OnFinish(run Run, res ExecutionResult)
}

// ExecutionResult aggregates the step results of one run. StepResults is
// always a prefix of the planned steps in execution order.
type ExecutionResult struct {
	RunID       string                `json:"runId"`
	State       State                 `json:"state"`
	Success     bool                  `json:"success"`
	Message     string                `json:"message"`
	StepResults []dispatch.StepResult `json:"stepResults"`
	Err         error                 `json:"-"`
}

type Engine struct {
	dispatcher Dispatcher
	observers  []Observer
	logger     *observability.Logger
	tracer     trace.Tracer
	sleep      func(ctx context.Context, d time.Duration) error
	newID      func() string
}

type Option func(*Engine)

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

func WithLogger(l *observability.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithSleep replaces the inter-step delay.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = fn }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

func New(d Dispatcher, opts ...Option) *Engine {
	e := &Engine{
		dispatcher: d,
		logger:     observability.NewNopLogger(),
		tracer:     otel.Tracer("github.com/rahul/handsfree/internal/workflow"),
		sleep:      dispatch.SleepContext,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs plan. Plans that failed to parse are not executed.
func (e *Engine) Execute(ctx context.Context, plan intent.IntentPlan) ExecutionResult {
	run := Run{ID: e.newID(), State: StatePending, StartedAt: time.Now()}

	ctx, span := e.tracer.Start(ctx, "workflow.execute", trace.WithAttributes(
		attribute.String("workflow.run_id", run.ID),
		attribute.String("workflow.action", plan.Action),
		attribute.Bool("workflow.multi_step", plan.IsMultiStep()),
	))
	defer span.End()

	if !plan.Success {
		run.moveTo(StateAborted)
		res := ExecutionResult{
			RunID:       run.ID,
			State:       run.State,
			Message:     plan.Message,
			StepResults: []dispatch.StepResult{},
		}
		span.SetStatus(codes.Error, "plan not executable")
		return e.finish(run, res)
	}

	if !plan.IsMultiStep() {
		return e.single(ctx, run, plan)
	}
	return e.multi(ctx, run, plan)
}

func (e *Engine) single(ctx context.Context, run Run, plan intent.IntentPlan) ExecutionResult {
	run.Total = 1
	if err := ctx.Err(); err != nil {
		run.moveTo(StateCanceled)
		return e.finish(run, e.canceled(run, 1, nil, err))
	}

	run.moveTo(StateRunning)
	run.Current = 1
	sr := e.dispatchStep(ctx, run, plan.SingleStep())

	res := ExecutionResult{
		RunID:       run.ID,
		Success:     sr.Success,
		Message:     sr.Message,
		StepResults: []dispatch.StepResult{sr},
		Err:         sr.Err,
	}
	switch {
	case sr.Success:
		run.Completed = 1
		run.moveTo(StateCompleted)
	case ctx.Err() != nil:
		run.moveTo(StateCanceled)
		res.Err = fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
	default:
		run.moveTo(StateAborted)
	}
	res.State = run.State
	return e.finish(run, res)
}

func (e *Engine) multi(ctx context.Context, run Run, plan intent.IntentPlan) ExecutionResult {
	steps := slices.Clone(plan.Steps)
	slices.SortStableFunc(steps, func(a, b intent.ActionStep) int {
		return cmp.Compare(a.Order, b.Order)
	})
	total := len(steps)
	run.Total = total
	results := make([]dispatch.StepResult, 0, total)

	for i, step := range steps {
		k := i + 1
		if err := ctx.Err(); err != nil {
			run.moveTo(StateCanceled)
			return e.finish(run, e.canceled(run, k, results, err))
		}

		run.moveTo(StateRunning)
		run.Current = k
		sr := e.dispatchStep(ctx, run, step)
		results = append(results, sr)

		if !sr.Success {
			if err := ctx.Err(); err != nil {
				run.moveTo(StateCanceled)
				return e.finish(run, e.canceled(run, k, results, err))
			}
			run.moveTo(StateAborted)
			return e.finish(run, ExecutionResult{
				RunID:       run.ID,
				State:       run.State,
				Message:     fmt.Sprintf("Workflow stopped at step %d of %d", k, total),
				StepResults: results,
				Err:         sr.Err,
			})
		}
		run.Completed = k

		if step.DelayMs > 0 && k < total {
			if err := e.sleep(ctx, time.Duration(step.DelayMs)*time.Millisecond); err != nil {
				run.moveTo(StateCanceled)
				return e.finish(run, e.canceled(run, k+1, results, err))
			}
		}
	}

	run.moveTo(StateCompleted)
	return e.finish(run, ExecutionResult{
		RunID:       run.ID,
		State:       run.State,
		Success:     true,
		Message:     fmt.Sprintf("Completed all %d steps successfully", total),
		StepResults: results,
	})
}

func (e *Engine) dispatchStep(ctx context.Context, run Run, step intent.ActionStep) dispatch.StepResult {
	ctx, span := e.tracer.Start(ctx, "workflow.step", trace.WithAttributes(
		attribute.Int("workflow.step", step.Order),
		attribute.String("workflow.step_action", step.Action),
	))
	defer span.End()

	sr := e.dispatcher.Dispatch(ctx, step)
	if !sr.Success {
		span.SetStatus(codes.Error, sr.Message)
		if sr.Err != nil {
			span.RecordError(sr.Err)
		}
	}

	e.logger.LogStep(run.ID, sr.StepNumber, sr.Action, sr.Success, sr.Message)
	for _, o := range e.observers {
		o.OnStep(run, sr)
	}
	return sr
}

func (e *Engine) canceled(run Run, k int, results []dispatch.StepResult, cause error) ExecutionResult {
	if results == nil {
		results = []dispatch.StepResult{}
	}
	return ExecutionResult{
		RunID:       run.ID,
		State:       StateCanceled,
		Message:     fmt.Sprintf("%s at step %d of %d", ErrCanceled, k, run.Total),
		StepResults: results,
		Err:         fmt.Errorf("%w: %w", ErrCanceled, cause),
	}
}

func (e *Engine) finish(run Run, res ExecutionResult) ExecutionResult {
	e.logger.LogWorkflow(run.ID, string(run.State), run.Completed, run.Total, res.Message)
	observability.RecordOutcome(res.Success)
	for _, o := range e.observers {
		o.OnFinish(run, res)
	}
	return res
}
