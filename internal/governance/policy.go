package governance

import (
	"context"
	"slices"
	"strings"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request contains the context of an action to be evaluated.
type Request struct {
	Action string
	Target string
	ChatID string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

func (r Result) Allowed() bool {
	return r.Effect == EffectAllow
}

// PolicyEngine evaluates actions against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// SecurityPolicy is an immutable snapshot of the allow-lists. An empty set
// places no restriction on its dimension.
type SecurityPolicy struct {
	apps            map[string]struct{}
	domains         map[string]struct{}
	requireApproval bool
}

// NewSecurityPolicy lower-cases and de-duplicates the given names. Blank
// entries are ignored.
func NewSecurityPolicy(apps, domains []string, requireApproval bool) SecurityPolicy {
	return SecurityPolicy{
		apps:            toSet(apps),
		domains:         toSet(domains),
		requireApproval: requireApproval,
	}
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		it = strings.ToLower(strings.TrimSpace(it))
		if it != "" {
			set[it] = struct{}{}
		}
	}
	return set
}

func (p SecurityPolicy) RequireApproval() bool {
	return p.requireApproval
}

// AllowsApp reports whether the executable passes the app allow-list.
func (p SecurityPolicy) AllowsApp(name string) bool {
	if len(p.apps) == 0 {
		return true
	}
	_, ok := p.apps[strings.ToLower(name)]
	return ok
}

// AllowsDomain reports whether the host passes the domain allow-list.
func (p SecurityPolicy) AllowsDomain(host string) bool {
	if len(p.domains) == 0 {
		return true
	}
	_, ok := p.domains[strings.ToLower(host)]
	return ok
}

func (p SecurityPolicy) AllowedApps() []string {
	return sortedKeys(p.apps)
}

func (p SecurityPolicy) AllowedDomains() []string {
	return sortedKeys(p.domains)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
