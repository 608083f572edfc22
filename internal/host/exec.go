package host

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ExecLauncher starts processes detached from the caller. URLs go to the
// desktop opener.
type ExecLauncher struct {
	// Opener handles URL targets. Defaults to xdg-open.
	Opener string
	// StripExe drops a trailing ".exe" so Windows-style names resolve on
	// Linux.
	StripExe bool
	// Start launches the process without waiting for it.
	Start func(name string, args ...string) error
}

func NewExecLauncher(stripExe bool) *ExecLauncher {
	return &ExecLauncher{
		Opener:   "xdg-open",
		StripExe: stripExe,
		Start:    startDetached,
	}
}

func startDetached(name string, args ...string) error {
	// not tied to a context: the launched app must outlive the step
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func (l *ExecLauncher) Launch(ctx context.Context, target, args string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return errors.New("empty launch target")
	}

	if IsURL(target) {
		return l.start(l.Opener, target)
	}

	name := target
	if l.StripExe && strings.HasSuffix(strings.ToLower(name), ".exe") {
		name = name[:len(name)-len(".exe")]
	}
	return l.start(name, strings.Fields(args)...)
}

func (l *ExecLauncher) start(name string, args ...string) error {
	err := l.Start(name, args...)
	if err == nil {
		return nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%w: %s not found in PATH", ErrUnavailable, name)
	}
	return fmt.Errorf("launch %s: %w", name, err)
}
