package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rahul/handsfree/internal/dispatch"
	"github.com/rahul/handsfree/internal/intent"
	"github.com/rahul/handsfree/internal/observability"
	"github.com/rahul/handsfree/internal/screen"
	"github.com/rahul/handsfree/internal/store"
	"github.com/rahul/handsfree/internal/workflow"
	"go.uber.org/zap"
)

// Phase is where a command is in its lifecycle.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseResolving Phase = "resolving"
	PhaseExecuting Phase = "executing"
)

// Command is one request from any gateway.
type Command struct {
	ID            string
	ChatID        string
	Source        string
	Text          string
	ScreenContext string
}

// Outcome is everything the assistant learned and did for a command.
// Result is nil when the plan was not executed.
type Outcome struct {
	CommandID string                    `json:"commandId"`
	Plan      intent.IntentPlan         `json:"plan"`
	Result    *workflow.ExecutionResult `json:"result,omitempty"`
	Reply     string                    `json:"reply"`
}

// IntentSource produces raw model text for a command.
type IntentSource interface {
	Resolve(ctx context.Context, chatID, command, screenContext string) (string, error)
}

// Executor runs a parsed plan.
type Executor interface {
	Execute(ctx context.Context, plan intent.IntentPlan) workflow.ExecutionResult
}

// CommandStore records handled commands.
type CommandStore interface {
	AddCommand(ctx context.Context, rec store.CommandRecord) error
}

type AssistantOptions struct {
	Source   IntentSource
	Executor Executor
	Screen   screen.Provider
	// ScreenAlways reads the screen for every command instead of only for
	// commands that mention it.
	ScreenAlways bool
	Store        CommandStore
	Logger       *observability.Logger
	Parse        intent.Options
	// KillSwitch is a command text that cancels every running workflow.
	KillSwitch string
}

// Assistant sequences resolve, parse and execute for each command. Commands
// may be handled concurrently; each keeps its own phase.
type Assistant struct {
	opts AssistantOptions

	mu     sync.Mutex
	active map[string]*activeCommand
}

type activeCommand struct {
	phase  Phase
	cancel context.CancelFunc
}

func NewAssistant(opts AssistantOptions) (*Assistant, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("assistant: intent source is required")
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("assistant: executor is required")
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}
	return &Assistant{opts: opts, active: make(map[string]*activeCommand)}, nil
}

// Handle runs cmd to completion. It never returns an error; failures are
// carried in the plan, the result and the reply.
func (a *Assistant) Handle(ctx context.Context, cmd Command) Outcome {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	text := strings.TrimSpace(cmd.Text)

	if a.opts.KillSwitch != "" && strings.EqualFold(text, a.opts.KillSwitch) {
		n := a.Abort()
		return Outcome{
			CommandID: cmd.ID,
			Plan:      intent.IntentPlan{Success: true, Action: "abort", Message: "abort requested"},
			Reply:     fmt.Sprintf("Stopped %d running workflow(s)", n),
		}
	}
	if text == "" {
		plan := intent.IntentPlan{Action: intent.ActionClarify, Confidence: 0.5, Message: "I didn't catch a command.", Parameters: map[string]any{}}
		return a.done(ctx, cmd, Outcome{CommandID: cmd.ID, Plan: plan})
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.track(cmd.ID, PhaseResolving, cancel)
	defer a.untrack(cmd.ID)

	a.opts.Logger.LogCommand(cmd.ChatID, cmd.ID, cmd.Source, text)
	observability.SetStatus(observability.RoleResolving, text)
	defer observability.SetStatus(observability.RoleIdle, "")

	screenText := cmd.ScreenContext
	if screenText == "" && a.opts.Screen != nil && (a.opts.ScreenAlways || mentionsScreen(text)) {
		var err error
		screenText, err = a.opts.Screen.ScreenContext(ctx)
		if err != nil {
			a.opts.Logger.Zap().Warn("screen context unavailable", zap.String("command_id", cmd.ID), zap.Error(err))
			screenText = ""
		}
	}

	var plan intent.IntentPlan
	raw, err := a.opts.Source.Resolve(ctx, cmd.ChatID, text, screenText)
	if err != nil {
		plan = intent.IntentPlan{
			Action:     intent.ActionError,
			Message:    fmt.Sprintf("LLM error: %v", err),
			Parameters: map[string]any{},
		}
	} else {
		plan = intent.ParseWith(raw, a.opts.Parse)
	}
	if err := plan.Validate(); err != nil {
		a.opts.Logger.Zap().Warn("plan has problems", zap.String("command_id", cmd.ID), zap.Error(err))
	}
	a.opts.Logger.LogPlan(cmd.ChatID, cmd.ID, plan.Action, len(plan.Steps), plan.Confidence, plan.Success)

	out := Outcome{CommandID: cmd.ID, Plan: plan}
	if plan.Executable() {
		a.setPhase(cmd.ID, PhaseExecuting)
		observability.SetStatus(observability.RoleExecuting, text)
		res := a.opts.Executor.Execute(ctx, plan)
		out.Result = &res
	}
	return a.done(ctx, cmd, out)
}

// ExecutePlan runs raw model text without calling the model.
func (a *Assistant) ExecutePlan(ctx context.Context, cmd Command, raw string) Outcome {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.track(cmd.ID, PhaseExecuting, cancel)
	defer a.untrack(cmd.ID)

	plan := intent.ParseWith(raw, a.opts.Parse)
	a.opts.Logger.LogPlan(cmd.ChatID, cmd.ID, plan.Action, len(plan.Steps), plan.Confidence, plan.Success)

	out := Outcome{CommandID: cmd.ID, Plan: plan}
	if plan.Executable() {
		res := a.opts.Executor.Execute(ctx, plan)
		out.Result = &res
	}
	return a.done(ctx, cmd, out)
}

func (a *Assistant) done(ctx context.Context, cmd Command, out Outcome) Outcome {
	out.Reply = Reply(out)
	if a.opts.Store == nil {
		return out
	}

	rec := store.CommandRecord{
		ID:      out.CommandID,
		ChatID:  cmd.ChatID,
		Source:  cmd.Source,
		Command: cmd.Text,
		RawText: out.Plan.RawText,
		Action:  out.Plan.Action,
		Success: out.Result != nil && out.Result.Success,
		Message: out.Reply,
	}
	if err := a.opts.Store.AddCommand(context.WithoutCancel(ctx), rec); err != nil {
		a.opts.Logger.Zap().Warn("failed to record command", zap.String("command_id", out.CommandID), zap.Error(err))
	}
	return out
}

// Abort cancels every command in flight and returns how many there were.
func (a *Assistant) Abort() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.active {
		c.cancel()
	}
	return len(a.active)
}

// Phases reports the phase of every command in flight.
func (a *Assistant) Phases() map[string]Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]Phase, len(a.active))
	for id, c := range a.active {
		out[id] = c.phase
	}
	return out
}

func (a *Assistant) track(id string, phase Phase, cancel context.CancelFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active[id] = &activeCommand{phase: phase, cancel: cancel}
}

func (a *Assistant) setPhase(id string, phase Phase) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.active[id]; ok {
		c.phase = phase
	}
}

func (a *Assistant) untrack(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.active, id)
}

func mentionsScreen(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "screen") || strings.Contains(lower, "see")
}

// Reply renders an outcome for the user.
func Reply(o Outcome) string {
	if o.Result == nil {
		if o.Plan.Action == intent.ActionError {
			return "Sorry, " + o.Plan.Message
		}
		return o.Plan.Message
	}

	res := o.Result
	if len(res.StepResults) <= 1 && !o.Plan.IsMultiStep() {
		if res.Success {
			return res.Message
		}
		return "Sorry, " + res.Message
	}

	var b strings.Builder
	b.WriteString(res.Message)
	for _, sr := range res.StepResults {
		mark := "ok"
		if !sr.Success {
			mark = "failed"
		}
		fmt.Fprintf(&b, "\n%d. [%s] %s", sr.StepNumber, mark, sr.Message)
	}
	return b.String()
}

// StatusObserver mirrors workflow progress onto the terminal status line.
type StatusObserver struct{}

func (StatusObserver) OnStep(run workflow.Run, res dispatch.StepResult) {
	observability.SetStatus(observability.RoleExecuting,
		fmt.Sprintf("step %d/%d %s", run.Current, run.Total, res.Action))
}

func (StatusObserver) OnFinish(workflow.Run, workflow.ExecutionResult) {
	observability.Heartbeat()
}
