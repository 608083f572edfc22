// Package host holds the capability interfaces that touch the machine and
// their Linux implementations.
package host

import (
	"context"
	"errors"
	"strings"
)

// ErrUnavailable is returned when a capability cannot run on this host.
var ErrUnavailable = errors.New("capability not available")

// Launcher starts applications and opens URLs.
type Launcher interface {
	Launch(ctx context.Context, target, args string) error
}

// TextInput injects keyboard input into the focused window.
type TextInput interface {
	TypeText(ctx context.Context, text string) error
	PressKey(ctx context.Context, key string) error
}

// Mouse drives the pointer.
type Mouse interface {
	MoveMouse(ctx context.Context, x, y int) error
	Click(ctx context.Context) error
}

// IsURL reports whether target has an http or https scheme.
func IsURL(target string) bool {
	lower := strings.ToLower(strings.TrimSpace(target))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
