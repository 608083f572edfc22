package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rahul/handsfree/internal/governance"
	"github.com/tmc/langchaingo/llms"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestActionLogs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i := 0; i < 4; i++ {
		entry := governance.ActionLog{Timestamp: base.Add(time.Duration(i) * time.Second), Action: fmt.Sprintf("open:%d", i), Approved: i%2 == 0}
		if err := s.AppendActionLog(ctx, entry); err != nil {
			t.Fatalf("AppendActionLog failed: %v", err)
		}
	}

	logs, err := s.RecentActionLogs(ctx, 2)
	if err != nil {
		t.Fatalf("RecentActionLogs failed: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logs))
	}
	if logs[0].Action != "open:2" || logs[1].Action != "open:3" {
		t.Errorf("expected oldest first, got %v", logs)
	}
	if !logs[0].Approved || logs[1].Approved {
		t.Errorf("approved flags not preserved: %v", logs)
	}
	if !logs[1].Timestamp.Equal(base.Add(3 * time.Second)) {
		t.Errorf("timestamp not preserved: %v", logs[1].Timestamp)
	}

	if err := s.ClearActionLogs(ctx); err != nil {
		t.Fatalf("ClearActionLogs failed: %v", err)
	}
	logs, _ = s.RecentActionLogs(ctx, 10)
	if len(logs) != 0 {
		t.Errorf("expected empty trail, got %d", len(logs))
	}
}

func TestStoreAsAuditSink(t *testing.T) {
	s := openTestStore(t)
	g := governance.NewGuardrail(governance.NewSecurityPolicy([]string{"notepad.exe"}, nil, false), governance.WithAuditSink(s))

	g.LogAction("open:malware.exe", false)

	logs, err := s.RecentActionLogs(context.Background(), 5)
	if err != nil {
		t.Fatalf("RecentActionLogs failed: %v", err)
	}
	if len(logs) != 1 || logs[0].Action != "open:malware.exe" || logs[0].Approved {
		t.Errorf("unexpected persisted trail: %v", logs)
	}
}

func TestHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_ = s.AddMessage(ctx, "chat-1", "human", "open notepad")
	_ = s.AddMessage(ctx, "chat-1", "ai", `{"action":"open_app"}`)
	_ = s.AddMessage(ctx, "chat-2", "human", "other chat")
	_ = s.AddMessage(ctx, "chat-1", "human", "now type hello")

	history, err := s.GetHistory(ctx, "chat-1", 2)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Role != llms.ChatMessageTypeAI || history[1].Role != llms.ChatMessageTypeHuman {
		t.Errorf("unexpected roles: %v %v", history[0].Role, history[1].Role)
	}
	if text, ok := history[1].Parts[0].(llms.TextContent); !ok || text.Text != "now type hello" {
		t.Errorf("unexpected content: %#v", history[1].Parts[0])
	}

	if err := s.ClearHistory(ctx, "chat-1"); err != nil {
		t.Fatalf("ClearHistory failed: %v", err)
	}
	history, _ = s.GetHistory(ctx, "chat-1", 10)
	if len(history) != 0 {
		t.Errorf("expected cleared history, got %d", len(history))
	}
}

func TestCommands(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now()

	recs := []CommandRecord{
		{ID: "a", Source: "console", Command: "open notepad", Action: "open_app", Success: true, Message: "Opened notepad", CreatedAt: base},
		{ID: "b", ChatID: "42", Source: "telegram", Command: "shutdown", Action: "error", Message: "Parse error", CreatedAt: base.Add(time.Second)},
	}
	for _, r := range recs {
		if err := s.AddCommand(ctx, r); err != nil {
			t.Fatalf("AddCommand failed: %v", err)
		}
	}

	got, err := s.RecentCommands(ctx, 10)
	if err != nil {
		t.Fatalf("RecentCommands failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "a" {
		t.Fatalf("expected newest first, got %+v", got)
	}
	if !got[1].Success || got[0].Success || got[0].ChatID != "42" {
		t.Errorf("fields not preserved: %+v", got)
	}
}

func TestOpenOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "handsfree.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_ = s.AppendActionLog(context.Background(), governance.ActionLog{Timestamp: time.Now(), Action: "open", Approved: true})
	s.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	logs, _ := reopened.RecentActionLogs(context.Background(), 1)
	if len(logs) != 1 {
		t.Errorf("expected persisted log, got %d", len(logs))
	}
}
