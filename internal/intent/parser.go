package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tailscale/hujson"
)

// ErrNoObject means no JSON object could be located in the text.
var ErrNoObject = errors.New("no json object found")

// ErrTooDeep means the candidate object nests deeper than maxDepth.
var ErrTooDeep = errors.New("json nesting too deep")

// maxDepth bounds object and array nesting before decoding. It matches the
// limit encoding/json enforces.
const maxDepth = 10000

// Options tune object extraction.
type Options struct {
	// Strict selects the first balanced top-level object instead of the
	// span between the first '{' and the last '}'.
	Strict bool
}

// wirePlan is the exact shape the model is prompted to produce.
type wirePlan struct {
	Action      *string        `json:"action"`
	Target      *string        `json:"target"`
	Parameters  map[string]any `json:"parameters"`
	Confidence  float64        `json:"confidence"`
	Explanation *string        `json:"explanation"`
	Steps       []ActionStep   `json:"steps"`
}

// Parse converts raw model output into a plan using the legacy first-brace
// to last-brace extraction. It never fails: unusable input produces a plan
// with Success=false and Action set to ActionClarify or ActionError.
func Parse(raw string) IntentPlan {
	return ParseWith(raw, Options{})
}

// ParseWith is Parse with explicit extraction options.
func ParseWith(raw string, opts Options) (plan IntentPlan) {
	defer func() {
		if r := recover(); r != nil {
			plan = errorPlan(raw, fmt.Errorf("%v", r))
		}
	}()

	cleaned := stripFences(raw)

	var candidate string
	var ok bool
	if opts.Strict {
		candidate, ok = balancedObject(cleaned)
	} else {
		candidate, ok = outerObject(cleaned)
	}
	if !ok {
		return IntentPlan{
			Success:    false,
			Action:     ActionClarify,
			Confidence: 0.5,
			Message:    raw,
			RawText:    raw,
		}
	}

	if nestingDepth(candidate) > maxDepth {
		return errorPlan(raw, ErrTooDeep)
	}

	wp, err := decode(candidate)
	if err != nil {
		return errorPlan(raw, err)
	}

	plan = IntentPlan{
		Success:    true,
		Action:     ActionUnknown,
		Target:     deref(wp.Target),
		Parameters: wp.Parameters,
		Confidence: wp.Confidence,
		Message:    raw,
		RawText:    raw,
	}
	if a := deref(wp.Action); a != "" {
		plan.Action = a
	}
	if e := deref(wp.Explanation); e != "" {
		plan.Message = e
	}
	if plan.Parameters == nil {
		plan.Parameters = map[string]any{}
	}
	if len(wp.Steps) > 0 {
		plan.Action = ActionMultiStep
		plan.Steps = wp.Steps
	}
	return plan
}

func errorPlan(raw string, err error) IntentPlan {
	return IntentPlan{
		Success:    false,
		Action:     ActionError,
		Confidence: 0,
		Message:    fmt.Sprintf("Parse error: %v", err),
		RawText:    raw,
	}
}

// decode standardizes JWCC input (trailing commas, comments) to plain JSON
// before unmarshalling. Field names match case-insensitively.
func decode(candidate string) (wirePlan, error) {
	var wp wirePlan
	v, err := hujson.Parse([]byte(candidate))
	if err != nil {
		return wp, err
	}
	v.Standardize()
	if err := json.Unmarshal(v.Pack(), &wp); err != nil {
		return wp, err
	}
	return wp, nil
}

// stripFences removes a leading ``` line (with any language tag) and a
// trailing ``` marker.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimLeft(s[3:], "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func outerObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// balancedObject returns the earliest-starting '{' ... '}' span whose braces
// balance, ignoring braces inside JSON string literals. It runs in one pass.
func balancedObject(s string) (string, bool) {
	var open []int
	from, to := -1, -1
	scanStructural(s, func(i int, c byte) bool {
		switch c {
		case '{':
			open = append(open, i)
		case '}':
			if len(open) == 0 {
				return true
			}
			p := open[len(open)-1]
			open = open[:len(open)-1]
			if from < 0 || p < from {
				from, to = p, i
			}
			// With nothing left open no earlier '{' can still close.
			return len(open) > 0
		}
		return true
	})
	if from < 0 {
		return "", false
	}
	return s[from : to+1], true
}

// nestingDepth is the deepest object or array nesting in s.
func nestingDepth(s string) int {
	depth, deepest := 0, 0
	scanStructural(s, func(_ int, c byte) bool {
		switch c {
		case '{', '[':
			depth++
			deepest = max(deepest, depth)
		case '}', ']':
			depth--
		}
		return true
	})
	return deepest
}

// scanStructural calls fn for every byte of s outside JSON string literals
// until fn returns false.
func scanStructural(s string, fn func(i int, c byte) bool) {
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			continue
		}
		if !fn(i, c) {
			return
		}
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
