package governance

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rahul/handsfree/internal/observability"
)

var safeVerbs = map[string]bool{
	"speak":   true,
	"listen":  true,
	"display": true,
	"notify":  true,
}

var dangerousVerbs = map[string]bool{
	"delete":    true,
	"shutdown":  true,
	"restart":   true,
	"install":   true,
	"uninstall": true,
}

// Guardrail gates every side-effecting action and keeps the audit trail.
// It is safe for concurrent use.
type Guardrail struct {
	policy SecurityPolicy
	audit  *AuditLog
	logger *observability.Logger

	mu          sync.RWMutex
	deniedVerbs map[string]bool
	deniedRegex []*regexp.Regexp
}

type Option func(*Guardrail)

func WithLogger(l *observability.Logger) Option {
	return func(g *Guardrail) { g.logger = l }
}

// WithAuditSink mirrors every audit record into s.
func WithAuditSink(s AuditSink) Option {
	return func(g *Guardrail) { g.audit.sink = s }
}

// WithAuditLimit caps the in-memory trail; older records are dropped first.
func WithAuditLimit(n int) Option {
	return func(g *Guardrail) { g.audit.limit = n }
}

func NewGuardrail(policy SecurityPolicy, opts ...Option) *Guardrail {
	g := &Guardrail{
		policy:      policy,
		audit:       &AuditLog{},
		logger:      observability.NewNopLogger(),
		deniedVerbs: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.audit.logger = g.logger
	return g
}

func (g *Guardrail) Policy() SecurityPolicy {
	return g.policy
}

// DenyVerb blocks a verb outright, matched case-insensitively.
func (g *Guardrail) DenyVerb(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deniedVerbs[strings.ToLower(strings.TrimSpace(name))] = true
}

// DenyArguments blocks any target matching pattern.
func (g *Guardrail) DenyArguments(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deniedRegex = append(g.deniedRegex, re)
	return nil
}

// IsAllowed reports whether action may run against target.
func (g *Guardrail) IsAllowed(action, target string) bool {
	res := g.check(action, target)
	g.logger.LogPolicyCheck(action, target, res.Allowed(), res.Reason)
	return res.Allowed()
}

// Evaluate implements PolicyEngine.
func (g *Guardrail) Evaluate(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{Effect: EffectDeny, Reason: "evaluation canceled"}, err
	}
	res := g.check(req.Action, req.Target)
	g.logger.LogPolicyCheck(req.Action, req.Target, res.Allowed(), res.Reason)
	return res, nil
}

func (g *Guardrail) check(action, target string) Result {
	verb := strings.ToLower(strings.TrimSpace(action))
	if verb == "" {
		return deny("empty action")
	}
	if safeVerbs[verb] {
		return Result{Effect: EffectAllow, Reason: fmt.Sprintf("'%s' is always safe", verb)}
	}
	if dangerousVerbs[verb] {
		return deny(fmt.Sprintf("'%s' requires explicit approval outside this policy", verb))
	}

	if strings.TrimSpace(target) != "" {
		lower := strings.ToLower(target)
		if strings.HasSuffix(lower, ".exe") && !g.policy.AllowsApp(lower) {
			return deny(fmt.Sprintf("application '%s' is not in the allowed list", target))
		}
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
			host := extractHost(target)
			if !g.policy.AllowsDomain(host) {
				return deny(fmt.Sprintf("domain '%s' is not in the allowed list", host))
			}
		}
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.deniedVerbs[verb] {
		return deny(fmt.Sprintf("action '%s' is restricted by system policy", verb))
	}
	for _, re := range g.deniedRegex {
		if re.MatchString(target) {
			return deny(fmt.Sprintf("target matches restricted pattern: %s", re.String()))
		}
	}

	return Result{Effect: EffectAllow, Reason: "approved by default policy"}
}

func deny(reason string) Result {
	return Result{Effect: EffectDeny, Reason: reason}
}

// extractHost falls back to the raw target when the URL does not parse.
func extractHost(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Hostname() == "" {
		return target
	}
	return u.Hostname()
}

// LogAction appends an audit record.
func (g *Guardrail) LogAction(action string, approved bool) {
	g.audit.Append(ActionLog{
		Timestamp: time.Now(),
		Action:    action,
		Approved:  approved,
	})
	g.logger.LogAudit(action, approved)
}

// RecentLogs returns up to n records, oldest first.
func (g *Guardrail) RecentLogs(n int) []ActionLog {
	return g.audit.Recent(n)
}

// ClearLogs empties the in-memory trail. Records already mirrored to the
// sink are kept.
func (g *Guardrail) ClearLogs() {
	g.audit.Clear()
}

// AuditLen is the number of records currently held in memory.
func (g *Guardrail) AuditLen() int {
	return g.audit.Len()
}
