package governance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAllowed_AppAllowList(t *testing.T) {
	open := NewGuardrail(NewSecurityPolicy(nil, nil, false))
	assert.True(t, open.IsAllowed("open", "notepad.exe"), "empty allow-set is open")

	listed := NewGuardrail(NewSecurityPolicy([]string{"notepad.exe"}, nil, false))
	assert.True(t, listed.IsAllowed("open", "notepad.exe"))
	assert.True(t, listed.IsAllowed("open", "NotePad.EXE"))
	assert.False(t, listed.IsAllowed("open", "malware.exe"))
	assert.True(t, listed.IsAllowed("open", "notes.txt"), "non-executables skip the app list")
}

func TestIsAllowed_DomainAllowList(t *testing.T) {
	g := NewGuardrail(NewSecurityPolicy(nil, []string{"www.google.com", "github.com"}, false))

	tests := []struct {
		target string
		want   bool
	}{
		{"https://www.google.com/search?q=go", true},
		{"HTTP://GitHub.com:8080/x", true},
		{"https://evil.example.com", false},
		{"http://%zz", false},
		{"ftp://evil.example.com", true},
		{"github.com", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, g.IsAllowed("open", tt.target), tt.target)
	}
}

func TestIsAllowed_MalformedURLUsesRawTarget(t *testing.T) {
	raw := "http://%zz"
	g := NewGuardrail(NewSecurityPolicy(nil, []string{raw}, false))
	assert.True(t, g.IsAllowed("open", raw))
	assert.Equal(t, raw, extractHost(raw))
}

func TestIsAllowed_EmptyVerb(t *testing.T) {
	g := NewGuardrail(NewSecurityPolicy(nil, nil, false))
	assert.False(t, g.IsAllowed("", "notepad.exe"))
	assert.False(t, g.IsAllowed("   ", ""))
}

func TestIsAllowed_SafeVerbsIgnoreAllowSets(t *testing.T) {
	strict := NewGuardrail(NewSecurityPolicy([]string{"notepad.exe"}, []string{"github.com"}, true))
	strict.DenyVerb("speak")
	require.NoError(t, strict.DenyArguments(".*"))

	for _, verb := range []string{"speak", "listen", "display", "NOTIFY"} {
		for _, target := range []string{"", "malware.exe", "https://evil.example.com", "anything"} {
			assert.True(t, strict.IsAllowed(verb, target), "%s %s", verb, target)
		}
	}
}

func TestIsAllowed_DangerousVerbsAlwaysDenied(t *testing.T) {
	open := NewGuardrail(NewSecurityPolicy(nil, nil, false))
	for _, verb := range []string{"delete", "shutdown", "Restart", "install", "uninstall"} {
		for _, target := range []string{"", "notepad.exe", "https://github.com"} {
			assert.False(t, open.IsAllowed(verb, target), "%s %s", verb, target)
		}
	}
}

func TestIsAllowed_OtherVerbsAllowed(t *testing.T) {
	g := NewGuardrail(NewSecurityPolicy([]string{"notepad.exe"}, nil, false))
	assert.True(t, g.IsAllowed("type_text", "hello"))
	assert.True(t, g.IsAllowed("press_key", "ENTER"))
}

func TestAudit_DeniedOpenIsLogged(t *testing.T) {
	g := NewGuardrail(NewSecurityPolicy([]string{"notepad.exe"}, nil, false))

	before := len(g.RecentLogs(1000))
	assert.False(t, g.IsAllowed("open", "malware.exe"))
	g.LogAction("open", false)

	logs := g.RecentLogs(1000)
	require.Len(t, logs, before+1)
	last := logs[len(logs)-1]
	assert.Equal(t, "open", last.Action)
	assert.False(t, last.Approved)
	assert.False(t, last.Timestamp.IsZero())
}

func TestRecentLogs_OldestFirst(t *testing.T) {
	g := NewGuardrail(NewSecurityPolicy(nil, nil, false))
	for i := 0; i < 5; i++ {
		g.LogAction(fmt.Sprintf("a%d", i), i%2 == 0)
	}

	logs := g.RecentLogs(3)
	require.Len(t, logs, 3)
	assert.Equal(t, "a2", logs[0].Action)
	assert.Equal(t, "a4", logs[2].Action)

	assert.Len(t, g.RecentLogs(100), 5)
	assert.Empty(t, g.RecentLogs(0))
	assert.Empty(t, g.RecentLogs(-1))

	// returned slice is a copy
	logs[0].Action = "mutated"
	assert.Equal(t, "a2", g.RecentLogs(3)[0].Action)

	g.ClearLogs()
	assert.Zero(t, g.AuditLen())
}

func TestAuditLimit(t *testing.T) {
	g := NewGuardrail(NewSecurityPolicy(nil, nil, false), WithAuditLimit(2))
	g.LogAction("a", true)
	g.LogAction("b", true)
	g.LogAction("c", true)

	logs := g.RecentLogs(10)
	require.Len(t, logs, 2)
	assert.Equal(t, "b", logs[0].Action)
	assert.Equal(t, "c", logs[1].Action)
}

type recordingSink struct {
	mu      sync.Mutex
	entries []ActionLog
	err     error
}

func (s *recordingSink) AppendActionLog(_ context.Context, e ActionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return s.err
}

func TestAuditSink(t *testing.T) {
	sink := &recordingSink{}
	g := NewGuardrail(NewSecurityPolicy(nil, nil, false), WithAuditSink(sink))
	g.LogAction("open:notepad.exe", true)

	require.Len(t, sink.entries, 1)
	assert.Equal(t, "open:notepad.exe", sink.entries[0].Action)

	sink.err = errors.New("disk full")
	assert.NotPanics(t, func() { g.LogAction("open:calc.exe", false) })
	assert.Equal(t, 2, g.AuditLen())
}

func TestGuardrail_ConcurrentUse(t *testing.T) {
	g := NewGuardrail(NewSecurityPolicy([]string{"notepad.exe"}, nil, false))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok := g.IsAllowed("open", "notepad.exe")
			g.LogAction("open", ok)
			_ = g.RecentLogs(10)
			if i%10 == 0 {
				_ = g.DenyArguments("never-matches-" + strings.Repeat("x", i))
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, g.AuditLen())
}
