package governance

import (
	"context"
	"sync"
	"time"

	"github.com/rahul/handsfree/internal/observability"
	"go.uber.org/zap"
)

// ActionLog is one immutable audit record.
type ActionLog struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Approved  bool      `json:"approved"`
}

// AuditSink persists audit records beyond the process lifetime.
type AuditSink interface {
	AppendActionLog(ctx context.Context, entry ActionLog) error
}

const sinkTimeout = 2 * time.Second

// AuditLog is an append-only in-memory trail.
type AuditLog struct {
	mu      sync.Mutex
	entries []ActionLog
	limit   int
	sink    AuditSink
	logger  *observability.Logger
}

// Append records entry. Sink failures are logged and swallowed.
func (a *AuditLog) Append(entry ActionLog) {
	a.mu.Lock()
	a.entries = append(a.entries, entry)
	if a.limit > 0 && len(a.entries) > a.limit {
		a.entries = append([]ActionLog(nil), a.entries[len(a.entries)-a.limit:]...)
	}
	sink := a.sink
	a.mu.Unlock()

	if sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := sink.AppendActionLog(ctx, entry); err != nil && a.logger != nil {
		a.logger.Zap().Warn("audit sink write failed", zap.String("action", entry.Action), zap.Error(err))
	}
}

// Recent returns a copy of the last n records in insertion order.
func (a *AuditLog) Recent(n int) []ActionLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n <= 0 {
		return []ActionLog{}
	}
	start := 0
	if len(a.entries) > n {
		start = len(a.entries) - n
	}
	out := make([]ActionLog, len(a.entries)-start)
	copy(out, a.entries[start:])
	return out
}

func (a *AuditLog) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = nil
}

func (a *AuditLog) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}
