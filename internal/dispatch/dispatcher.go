// Package dispatch turns one plan step into one effect on the host, after the
// guardrail has allowed it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rahul/handsfree/internal/action"
	"github.com/rahul/handsfree/internal/governance"
	"github.com/rahul/handsfree/internal/host"
	"github.com/rahul/handsfree/internal/intent"
	"github.com/rahul/handsfree/internal/observability"
	"go.uber.org/zap"
)

var (
	ErrPolicyDenied   = errors.New("blocked by security policy")
	ErrApprovalDenied = errors.New("approval denied")
)

// DefaultSearchURL is used when Options.SearchURL is empty.
const DefaultSearchURL = "https://www.google.com/search?q=%s"

// Policy is the part of the guardrail the dispatcher needs.
type Policy interface {
	IsAllowed(action, target string) bool
	LogAction(action string, approved bool)
}

// StepResult is the immutable outcome of one dispatched step.
type StepResult struct {
	StepNumber int       `json:"stepNumber"`
	Action     string    `json:"action"`
	Success    bool      `json:"success"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	Err        error     `json:"-"`
}

type Options struct {
	Policy          Policy
	Launcher        host.Launcher
	Input           host.TextInput
	Mouse           host.Mouse
	RequireApproval bool
	Approver        governance.Approver
	// Aliases maps spoken names to executables. Nil means DefaultAliases.
	Aliases map[string]string
	// SearchURL is a template with exactly one %s for the escaped query.
	SearchURL string
	Logger    *observability.Logger
	// Sleep suspends for d or until ctx ends. Defaults to SleepContext.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Dispatcher struct {
	policy          Policy
	launcher        host.Launcher
	input           host.TextInput
	mouse           host.Mouse
	requireApproval bool
	approver        governance.Approver
	aliases         map[string]string
	searchURL       string
	logger          *observability.Logger
	sleep           func(ctx context.Context, d time.Duration) error
	now             func() time.Time
}

// New validates the wiring. Input and Mouse are optional; their verbs fail
// at dispatch time when absent.
func New(opts Options) (*Dispatcher, error) {
	if opts.Policy == nil {
		return nil, errors.New("dispatch: policy is required")
	}
	if opts.Launcher == nil {
		return nil, errors.New("dispatch: launcher is required")
	}
	if opts.RequireApproval && opts.Approver == nil {
		return nil, errors.New("dispatch: approval is required but no approver is configured")
	}
	if opts.SearchURL == "" {
		opts.SearchURL = DefaultSearchURL
	}
	if strings.Count(opts.SearchURL, "%s") != 1 {
		return nil, fmt.Errorf("dispatch: search url %q must contain exactly one %%s", opts.SearchURL)
	}
	if opts.Aliases == nil {
		opts.Aliases = DefaultAliases()
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}
	if opts.Sleep == nil {
		opts.Sleep = SleepContext
	}

	return &Dispatcher{
		policy:          opts.Policy,
		launcher:        opts.Launcher,
		input:           opts.Input,
		mouse:           opts.Mouse,
		requireApproval: opts.RequireApproval,
		approver:        opts.Approver,
		aliases:         MergeAliases(opts.Aliases, nil),
		searchURL:       opts.SearchURL,
		logger:          opts.Logger,
		sleep:           opts.Sleep,
		now:             time.Now,
	}, nil
}

// SleepContext waits for d unless ctx ends first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Dispatch runs one step. It never panics and never returns an error; every
// failure is reported in the StepResult.
func (d *Dispatcher) Dispatch(ctx context.Context, step intent.ActionStep) (res StepResult) {
	res = StepResult{StepNumber: step.Order, Action: step.Action}
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			res.Success = false
			res.Message = "Error: " + err.Error()
			res.Err = err
		}
		res.Timestamp = d.now()
		if !res.Success {
			d.logger.Zap().Debug("step failed",
				zap.Int("step", res.StepNumber),
				zap.String("action", res.Action),
				zap.String("message", res.Message),
				zap.Error(res.Err))
		}
	}()

	if err := ctx.Err(); err != nil {
		return failed(res, err, "Error: "+err.Error())
	}

	switch a := action.Decode(step).(type) {
	case action.OpenApp:
		return d.openApp(ctx, res, a)
	case action.TypeText:
		if d.input == nil {
			return unavailable(res, "Input control")
		}
		if err := d.guard(ctx, string(a.Verb()), a.Text); err != nil {
			return denied(res, err, a.Text)
		}
		if err := d.input.TypeText(ctx, a.Text); err != nil {
			return failed(res, err, "Error: "+err.Error())
		}
		return succeeded(res, fmt.Sprintf("Typed: %s", a.Text))
	case action.PressKey:
		if d.input == nil {
			return unavailable(res, "Input control")
		}
		if err := d.guard(ctx, string(a.Verb()), a.Key); err != nil {
			return denied(res, err, a.Key)
		}
		if err := d.input.PressKey(ctx, a.Key); err != nil {
			return failed(res, err, "Error: "+err.Error())
		}
		return succeeded(res, fmt.Sprintf("Pressed: %s", a.Key))
	case action.Wait:
		if err := d.sleep(ctx, a.Duration); err != nil {
			return failed(res, err, "Error: "+err.Error())
		}
		return succeeded(res, fmt.Sprintf("Waited %dms", a.Duration.Milliseconds()))
	case action.SearchWeb:
		return d.search(ctx, res, a)
	case action.Click:
		if d.mouse == nil {
			return unavailable(res, "Input control")
		}
		if err := d.guard(ctx, string(a.Verb()), ""); err != nil {
			return denied(res, err, "mouse click")
		}
		if err := d.mouse.Click(ctx); err != nil {
			return failed(res, err, "Error: "+err.Error())
		}
		return succeeded(res, "Mouse clicked")
	case action.MoveMouse:
		if d.mouse == nil {
			return unavailable(res, "Input control")
		}
		where := fmt.Sprintf("%d,%d", a.X, a.Y)
		if err := d.guard(ctx, string(a.Verb()), where); err != nil {
			return denied(res, err, where)
		}
		if err := d.mouse.MoveMouse(ctx, a.X, a.Y); err != nil {
			return failed(res, err, "Error: "+err.Error())
		}
		return succeeded(res, fmt.Sprintf("Moved mouse to (%d, %d)", a.X, a.Y))
	case action.Unknown:
		return failed(res, a.Err(), fmt.Sprintf("Unknown action: %s", a.Name))
	default:
		return failed(res, action.ErrUnknownVerb, fmt.Sprintf("Unknown action: %s", step.Action))
	}
}

func (d *Dispatcher) openApp(ctx context.Context, res StepResult, a action.OpenApp) StepResult {
	exe := resolveApp(d.aliases, a.Name)
	if err := d.guard(ctx, "open", exe); err != nil {
		return denied(res, err, exe)
	}
	if err := d.launcher.Launch(ctx, exe, a.Args); err != nil {
		return failed(res, err, fmt.Sprintf("Failed to open %s: %v", a.Name, err))
	}
	return succeeded(res, fmt.Sprintf("Opened %s", a.Name))
}

func (d *Dispatcher) search(ctx context.Context, res StepResult, a action.SearchWeb) StepResult {
	target := d.SearchURL(a.Query)
	if err := d.guard(ctx, "open", target); err != nil {
		return denied(res, err, target)
	}
	if err := d.launcher.Launch(ctx, target, ""); err != nil {
		return failed(res, err, fmt.Sprintf("Failed to search for %s: %v", a.Query, err))
	}
	return succeeded(res, fmt.Sprintf("Searching for: %s", a.Query))
}

// SearchURL builds the web-search URL for query.
func (d *Dispatcher) SearchURL(query string) string {
	return fmt.Sprintf(d.searchURL, url.QueryEscape(query))
}

// guard audits the policy decision, then asks the approver when approval
// is required.
func (d *Dispatcher) guard(ctx context.Context, verb, target string) error {
	allowed := d.policy.IsAllowed(verb, target)
	d.policy.LogAction(auditName(verb, target), allowed)
	if !allowed {
		return ErrPolicyDenied
	}
	if !d.requireApproval {
		return nil
	}

	ok, err := d.approver.Approve(ctx, governance.Request{Action: verb, Target: target})
	d.policy.LogAction(auditName("approve:"+verb, target), ok && err == nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrApprovalDenied, err)
	}
	if !ok {
		return ErrApprovalDenied
	}
	return nil
}

func auditName(verb, target string) string {
	if target == "" {
		return verb
	}
	return verb + ":" + target
}

func succeeded(res StepResult, msg string) StepResult {
	res.Success = true
	res.Message = msg
	return res
}

func failed(res StepResult, err error, msg string) StepResult {
	res.Success = false
	res.Message = msg
	res.Err = err
	return res
}

func denied(res StepResult, err error, subject string) StepResult {
	if errors.Is(err, ErrApprovalDenied) {
		return failed(res, err, fmt.Sprintf("Approval denied: %s", subject))
	}
	return failed(res, err, fmt.Sprintf("Security policy blocks: %s", subject))
}

func unavailable(res StepResult, service string) StepResult {
	return failed(res, host.ErrUnavailable, service+" service not available")
}
