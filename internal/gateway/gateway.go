package gateway

import (
	"context"
	"errors"
	"slices"

	"github.com/rahul/handsfree/internal/agent"
)

// ErrNoPush is returned by gateways that can only answer requests.
var ErrNoPush = errors.New("gateway cannot push messages")

// Messenger defines the interface for communication gateways (Telegram, Discord, etc.)
type Messenger interface {
	// Start begins the message listening loop and blocks until ctx is done
	// or the source is exhausted.
	Start(ctx context.Context) error
	// Send sends a message to a specific chat
	Send(chatID string, text string) error
	// Stop gracefully shuts down the gateway
	Stop() error
}

// Handler turns a command into an outcome. *agent.Assistant implements it.
type Handler interface {
	Handle(ctx context.Context, cmd agent.Command) agent.Outcome
}

// PlanHandler also runs model output supplied by the caller.
type PlanHandler interface {
	Handler
	ExecutePlan(ctx context.Context, cmd agent.Command, raw string) agent.Outcome
}

// allowed reports whether id may issue commands. An empty list allows all.
func allowed(allowFrom []string, id string) bool {
	return len(allowFrom) == 0 || slices.Contains(allowFrom, id)
}
