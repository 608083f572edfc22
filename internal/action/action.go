// Package action decodes plan steps into a closed set of typed actions.
package action

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rahul/handsfree/internal/intent"
)

// ErrUnknownVerb is wrapped by Unknown.Err.
var ErrUnknownVerb = errors.New("unknown action")

// Verb is the canonical lower-case action name.
type Verb string

const (
	VerbOpenApp   Verb = "open_app"
	VerbTypeText  Verb = "type_text"
	VerbPressKey  Verb = "press_key"
	VerbWait      Verb = "wait"
	VerbSearchWeb Verb = "search_web"
	VerbClick     Verb = "click"
	VerbMoveMouse Verb = "move_mouse"
)

// DefaultWait applies when a wait step has no usable milliseconds parameter.
const DefaultWait = 1000 * time.Millisecond

// Action is implemented only by the variants in this package.
type Action interface {
	Verb() Verb
	// SideEffect reports whether the action touches the host.
	SideEffect() bool
	sealed()
}

type OpenApp struct {
	Name string
	Args string
}

type TypeText struct {
	Text string
}

type PressKey struct {
	Key string
}

type Wait struct {
	Duration time.Duration
}

type SearchWeb struct {
	Query string
}

type Click struct{}

type MoveMouse struct {
	X, Y int
}

// Unknown carries a verb outside the supported set, as written by the model.
type Unknown struct {
	Name string
}

func (OpenApp) Verb() Verb   { return VerbOpenApp }
func (TypeText) Verb() Verb  { return VerbTypeText }
func (PressKey) Verb() Verb  { return VerbPressKey }
func (Wait) Verb() Verb      { return VerbWait }
func (SearchWeb) Verb() Verb { return VerbSearchWeb }
func (Click) Verb() Verb     { return VerbClick }
func (MoveMouse) Verb() Verb { return VerbMoveMouse }
func (u Unknown) Verb() Verb { return Verb(strings.ToLower(u.Name)) }

func (OpenApp) SideEffect() bool   { return true }
func (TypeText) SideEffect() bool  { return true }
func (PressKey) SideEffect() bool  { return true }
func (Wait) SideEffect() bool      { return false }
func (SearchWeb) SideEffect() bool { return true }
func (Click) SideEffect() bool     { return true }
func (MoveMouse) SideEffect() bool { return true }
func (Unknown) SideEffect() bool   { return false }

func (OpenApp) sealed()   {}
func (TypeText) sealed()  {}
func (PressKey) sealed()  {}
func (Wait) sealed()      {}
func (SearchWeb) sealed() {}
func (Click) sealed()     {}
func (MoveMouse) sealed() {}
func (Unknown) sealed()   {}

func (u Unknown) Err() error {
	return fmt.Errorf("%w: %s", ErrUnknownVerb, u.Name)
}

// Decode maps a step to its typed action. Verb matching ignores case and
// surrounding whitespace; anything unrecognized becomes Unknown.
func Decode(step intent.ActionStep) Action {
	switch Verb(strings.ToLower(strings.TrimSpace(step.Action))) {
	case VerbOpenApp:
		return OpenApp{Name: step.Target, Args: stringParam(step.Parameters, "args")}
	case VerbTypeText:
		return TypeText{Text: step.Target}
	case VerbPressKey:
		return PressKey{Key: step.Target}
	case VerbWait:
		ms, ok := IntParam(step.Parameters, "milliseconds")
		if !ok || ms < 0 {
			return Wait{Duration: DefaultWait}
		}
		return Wait{Duration: time.Duration(ms) * time.Millisecond}
	case VerbSearchWeb:
		return SearchWeb{Query: step.Target}
	case VerbClick:
		return Click{}
	case VerbMoveMouse:
		x, _ := IntParam(step.Parameters, "x")
		y, _ := IntParam(step.Parameters, "y")
		return MoveMouse{X: x, Y: y}
	default:
		return Unknown{Name: step.Action}
	}
}

// IntParam reads an integer parameter. JSON numbers and numeric strings are
// accepted; fractional values are rounded. ok is false when the key is
// absent or the value is not numeric.
func IntParam(params map[string]any, key string) (int, bool) {
	v, ok := params[key]
	if !ok || v == nil {
		return 0, false
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		return n, true
	case int64:
		return int(n), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(math.Round(f)), true
}

func stringParam(params map[string]any, key string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
