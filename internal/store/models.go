package store

import "time"

// CommandRecord is one handled command and how it ended.
type CommandRecord struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Source    string    `json:"source"`
	Command   string    `json:"command"`
	RawText   string    `json:"raw_text"`
	Action    string    `json:"action"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
