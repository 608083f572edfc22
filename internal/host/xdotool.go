package host

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

var keyNames = map[string]string{
	"ENTER":     "Return",
	"ESC":       "Escape",
	"TAB":       "Tab",
	"SPACE":     "space",
	"BACKSPACE": "BackSpace",
	"DELETE":    "Delete",
	"LEFT":      "Left",
	"RIGHT":     "Right",
	"UP":        "Up",
	"DOWN":      "Down",
	"HOME":      "Home",
	"END":       "End",
	"PAGEUP":    "Page_Up",
	"PAGEDOWN":  "Page_Down",
}

// KeyName maps a symbolic key to its X keysym. Unknown names pass through.
func KeyName(key string) string {
	if name, ok := keyNames[strings.ToUpper(strings.TrimSpace(key))]; ok {
		return name
	}
	return key
}

// Xdotool implements TextInput and Mouse on X11.
type Xdotool struct {
	Binary string
	Run    func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func NewXdotool() *Xdotool {
	return &Xdotool{
		Binary: "xdotool",
		Run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// Available reports whether the binary is on PATH.
func (x *Xdotool) Available() bool {
	_, err := exec.LookPath(x.Binary)
	return err == nil
}

func (x *Xdotool) TypeText(ctx context.Context, text string) error {
	return x.exec(ctx, "type", "--", text)
}

func (x *Xdotool) PressKey(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("key is required")
	}
	return x.exec(ctx, "key", "--", KeyName(key))
}

func (x *Xdotool) MoveMouse(ctx context.Context, px, py int) error {
	return x.exec(ctx, "mousemove", strconv.Itoa(px), strconv.Itoa(py))
}

func (x *Xdotool) Click(ctx context.Context) error {
	return x.exec(ctx, "click", "1")
}

// ActiveWindowTitle returns the name of the focused window.
func (x *Xdotool) ActiveWindowTitle(ctx context.Context) (string, error) {
	output, err := x.Run(ctx, x.Binary, "getactivewindow", "getwindowname")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: %s is not installed", ErrUnavailable, x.Binary)
		}
		return "", fmt.Errorf("xdotool getactivewindow: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return strings.TrimSpace(string(output)), nil
}

func (x *Xdotool) exec(ctx context.Context, args ...string) error {
	output, err := x.Run(ctx, x.Binary, args...)
	if err == nil {
		return nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%w: %s is not installed", ErrUnavailable, x.Binary)
	}
	return fmt.Errorf("xdotool %s: %w: %s", args[0], err, strings.TrimSpace(string(output)))
}
