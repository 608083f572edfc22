package observability

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeCommand     EventType = "command"
	EventTypePlan        EventType = "plan"
	EventTypePolicyCheck EventType = "policy_check"
	EventTypeAudit       EventType = "audit"
	EventTypeStep        EventType = "step"
	EventTypeWorkflow    EventType = "workflow"
	EventTypeHeartbeat   EventType = "heartbeat"
	EventTypeLLM         EventType = "llm"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	ChatID    string    `json:"chat_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger handles structured logging. Events go to zap; LLM exchanges are
// additionally appended to a size-rotated JSONL file.
type Logger struct {
	zl         *zap.Logger
	llmLogPath string
	maxSize    int64
	fileMu     sync.Mutex
}

// NewLogger builds a zap logger writing to stdout. format is "json" or
// "console"; an empty llmLogPath disables the LLM transcript file.
func NewLogger(level, format, llmLogPath string) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	if strings.EqualFold(format, "console") {
		cfg = zap.NewDevelopmentConfig()
	}
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stdout"}

	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{
		zl:         zl,
		llmLogPath: llmLogPath,
		maxSize:    10 * 1024 * 1024, // 10MB
	}, nil
}

// NewNopLogger discards everything.
func NewNopLogger() *Logger {
	return &Logger{zl: zap.NewNop()}
}

// Zap exposes the underlying logger for ad-hoc fields.
func (l *Logger) Zap() *zap.Logger {
	return l.zl
}

func (l *Logger) Sync() {
	_ = l.zl.Sync()
}

// Log emits a structured event.
func (l *Logger) Log(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	l.zl.Info(string(evt.Type),
		zap.String("chat_id", evt.ChatID),
		zap.String("task_id", evt.TaskID),
		zap.Any("data", evt.Data),
		zap.Time("event_time", evt.Timestamp),
	)

	if evt.Type == EventTypeLLM && l.llmLogPath != "" {
		data, err := json.Marshal(evt)
		if err != nil {
			l.zl.Warn("failed to marshal llm event", zap.Error(err))
			return
		}
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return
	}

	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write to log file: %v", err)
	}
}

func (l *Logger) rotateLogs() {
	// keep one .old file
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}

func (l *Logger) LogCommand(chatID, taskID, source, text string) {
	l.Log(Event{
		Type:   EventTypeCommand,
		ChatID: chatID,
		TaskID: taskID,
		Data: map[string]string{
			"source": source,
			"text":   text,
		},
	})
}

func (l *Logger) LogPlan(chatID, taskID, action string, steps int, confidence float64, success bool) {
	l.Log(Event{
		Type:   EventTypePlan,
		ChatID: chatID,
		TaskID: taskID,
		Data: map[string]any{
			"action":     action,
			"steps":      steps,
			"confidence": confidence,
			"success":    success,
		},
	})
}

func (l *Logger) LogPolicyCheck(action, target string, allowed bool, reason string) {
	l.Log(Event{
		Type: EventTypePolicyCheck,
		Data: map[string]any{
			"action":  action,
			"target":  target,
			"allowed": allowed,
			"reason":  reason,
		},
	})
}

func (l *Logger) LogAudit(action string, approved bool) {
	status := "DENIED"
	if approved {
		status = "APPROVED"
	}
	l.Log(Event{
		Type: EventTypeAudit,
		Data: map[string]any{
			"action": action,
			"status": status,
		},
	})
}

func (l *Logger) LogStep(taskID string, step int, action string, success bool, message string) {
	l.Log(Event{
		Type:   EventTypeStep,
		TaskID: taskID,
		Data: map[string]any{
			"step":    step,
			"action":  action,
			"success": success,
			"message": message,
		},
	})
}

func (l *Logger) LogWorkflow(taskID, state string, completed, total int, message string) {
	l.Log(Event{
		Type:   EventTypeWorkflow,
		TaskID: taskID,
		Data: map[string]any{
			"state":     state,
			"completed": completed,
			"total":     total,
			"message":   message,
		},
	})
}

func (l *Logger) LogHeartbeat() {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]string{"status": "alive"},
	})
}

func (l *Logger) LogLLM(chatID, taskID string, prompt any, response string) {
	l.Log(Event{
		Type:   EventTypeLLM,
		ChatID: chatID,
		TaskID: taskID,
		Data: map[string]any{
			"prompt":   prompt,
			"response": response,
		},
	})
}
