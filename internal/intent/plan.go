// Package intent turns loosely structured model output into typed action plans.
package intent

import (
	"errors"
	"fmt"
	"strings"
)

// Reserved plan actions produced by the parser itself.
const (
	ActionMultiStep = "multi_step"
	ActionClarify   = "clarify"
	ActionError     = "error"
	ActionUnknown   = "unknown"
)

// ActionDeny is what the model answers when it refuses a request.
const ActionDeny = "deny"

// Executable reports whether the plan should be handed to the workflow
// engine: it parsed, and the model neither asked a question nor refused.
func (p IntentPlan) Executable() bool {
	if !p.Success {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(p.Action)) {
	case ActionClarify, ActionDeny, ActionError:
		return false
	}
	return true
}

// ActionStep is one unit of work in a plan. Steps run in ascending Order;
// DelayMs is applied after the step succeeds.
type ActionStep struct {
	Action      string         `json:"action"`
	Target      string         `json:"target,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Order       int            `json:"order"`
	DelayMs     int            `json:"delayMs"`
	Description string         `json:"description,omitempty"`
}

// IntentPlan is the parsed form of a single model response. It is either a
// single action (Action/Target/Parameters) or an ordered list of Steps, in
// which case Action is ActionMultiStep.
type IntentPlan struct {
	Success    bool           `json:"success"`
	Confidence float64        `json:"confidence"`
	Message    string         `json:"message"`
	RawText    string         `json:"raw_text"`
	Action     string         `json:"action"`
	Target     string         `json:"target,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Steps      []ActionStep   `json:"steps,omitempty"`
}

func (p IntentPlan) IsMultiStep() bool {
	return len(p.Steps) > 0
}

// SingleStep returns the top-level action as a step with order 1.
func (p IntentPlan) SingleStep() ActionStep {
	return ActionStep{
		Action:      p.Action,
		Target:      p.Target,
		Parameters:  p.Parameters,
		Order:       1,
		Description: p.Message,
	}
}

// Validate reports suspicious but executable plan content. A non-nil error
// does not make the plan unusable.
func (p IntentPlan) Validate() error {
	var errs []error
	if p.Confidence < 0 || p.Confidence > 1 {
		errs = append(errs, fmt.Errorf("confidence %v outside [0,1]", p.Confidence))
	}
	for i, s := range p.Steps {
		if s.Action == "" {
			errs = append(errs, fmt.Errorf("step %d: empty action", i+1))
		}
		if s.DelayMs < 0 {
			errs = append(errs, fmt.Errorf("step %d: negative delayMs %d", i+1, s.DelayMs))
		}
	}
	return errors.Join(errs...)
}
