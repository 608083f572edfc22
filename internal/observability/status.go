package observability

import (
	"sync"
	"time"
)

// Role is what the assistant is doing right now.
type Role string

const (
	RoleIdle      Role = "IDLE"
	RoleResolving Role = "RESOLVING"
	RoleExecuting Role = "EXECUTING"
)

// Snapshot is a point-in-time copy of the status board.
type Snapshot struct {
	Role          Role      `json:"role"`
	Task          string    `json:"task"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
	Completed     int       `json:"completed"`
	Aborted       int       `json:"aborted"`
}

// board is process-wide; the terminal status line and /health read it.
var board = struct {
	mu sync.RWMutex
	s  Snapshot
}{s: Snapshot{Role: RoleIdle, LastHeartbeat: time.Now()}}

// SetStatus records the current role and the command being worked on.
func SetStatus(role Role, task string) {
	board.mu.Lock()
	defer board.mu.Unlock()
	board.s.Role = role
	board.s.Task = task
}

// RecordOutcome counts a finished workflow.
func RecordOutcome(success bool) {
	board.mu.Lock()
	defer board.mu.Unlock()
	if success {
		board.s.Completed++
		return
	}
	board.s.Aborted++
}

func Status() Snapshot {
	board.mu.RLock()
	defer board.mu.RUnlock()
	return board.s
}

// GetStatus returns the role, task and last heartbeat.
func GetStatus() (Role, string, time.Time) {
	s := Status()
	return s.Role, s.Task, s.LastHeartbeat
}

func GetCounts() (completed, aborted int) {
	s := Status()
	return s.Completed, s.Aborted
}

func Heartbeat() {
	board.mu.Lock()
	defer board.mu.Unlock()
	board.s.LastHeartbeat = time.Now()
}
