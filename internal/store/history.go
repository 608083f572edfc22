package store

import (
	"context"
	"database/sql"
	"slices"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/rahul/handsfree/internal/governance"
	"github.com/tmc/langchaingo/llms"
)

const timeLayout = time.RFC3339Nano

// Store persists the audit trail, command history and per-chat
// conversation in SQLite.
type Store struct {
	DB *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory") {
		// each connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT,
			role TEXT,
			content TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS action_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			action TEXT NOT NULL,
			approved INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS commands (
			id TEXT PRIMARY KEY,
			chat_id TEXT,
			source TEXT,
			command TEXT,
			raw_text TEXT,
			action TEXT,
			success INTEGER,
			message TEXT,
			created_at TEXT NOT NULL
		);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &Store{DB: db}, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

// AppendActionLog implements governance.AuditSink.
func (s *Store) AppendActionLog(ctx context.Context, entry governance.ActionLog) error {
	query := `INSERT INTO action_logs (timestamp, action, approved) VALUES (?, ?, ?)`
	_, err := s.DB.ExecContext(ctx, query, entry.Timestamp.UTC().Format(timeLayout), entry.Action, entry.Approved)
	return err
}

// RecentActionLogs returns up to n records, oldest first.
func (s *Store) RecentActionLogs(ctx context.Context, n int) ([]governance.ActionLog, error) {
	query := `SELECT timestamp, action, approved FROM action_logs ORDER BY id DESC LIMIT ?`
	rows, err := s.DB.QueryContext(ctx, query, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []governance.ActionLog{}
	for rows.Next() {
		var ts, action string
		var approved bool
		if err := rows.Scan(&ts, &action, &approved); err != nil {
			return nil, err
		}
		t, err := time.Parse(timeLayout, ts)
		if err != nil {
			return nil, err
		}
		logs = append(logs, governance.ActionLog{Timestamp: t, Action: action, Approved: approved})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(logs)
	return logs, nil
}

func (s *Store) ClearActionLogs(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM action_logs`)
	return err
}

func (s *Store) AddMessage(ctx context.Context, chatID, role, content string) error {
	query := `INSERT INTO messages (chat_id, role, content) VALUES (?, ?, ?)`
	_, err := s.DB.ExecContext(ctx, query, chatID, role, content)
	return err
}

// GetHistory returns the last limit messages of a chat in chronological
// order.
func (s *Store) GetHistory(ctx context.Context, chatID string, limit int) ([]llms.MessageContent, error) {
	query := `SELECT role, content FROM messages WHERE chat_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := s.DB.QueryContext(ctx, query, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []llms.MessageContent
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, err
		}

		var msgRole llms.ChatMessageType
		switch role {
		case "ai":
			msgRole = llms.ChatMessageTypeAI
		case "system":
			msgRole = llms.ChatMessageTypeSystem
		default:
			msgRole = llms.ChatMessageTypeHuman
		}

		history = append(history, llms.MessageContent{
			Role:  msgRole,
			Parts: []llms.ContentPart{llms.TextPart(content)},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.Reverse(history)
	return history, nil
}

func (s *Store) ClearHistory(ctx context.Context, chatID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID)
	return err
}

func (s *Store) AddCommand(ctx context.Context, rec CommandRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	query := `INSERT INTO commands (id, chat_id, source, command, raw_text, action, success, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.DB.ExecContext(ctx, query,
		rec.ID, rec.ChatID, rec.Source, rec.Command, rec.RawText, rec.Action, rec.Success, rec.Message,
		rec.CreatedAt.UTC().Format(timeLayout))
	return err
}

// RecentCommands returns up to n commands, newest first.
func (s *Store) RecentCommands(ctx context.Context, n int) ([]CommandRecord, error) {
	query := `SELECT id, chat_id, source, command, raw_text, action, success, message, created_at
		FROM commands ORDER BY created_at DESC, rowid DESC LIMIT ?`
	rows, err := s.DB.QueryContext(ctx, query, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommandRecord
	for rows.Next() {
		var rec CommandRecord
		var created string
		if err := rows.Scan(&rec.ID, &rec.ChatID, &rec.Source, &rec.Command, &rec.RawText,
			&rec.Action, &rec.Success, &rec.Message, &created); err != nil {
			return nil, err
		}
		if rec.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
