package governance

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Approver is the out-of-band approval surface consulted when the policy
// requires approval.
type Approver interface {
	Approve(ctx context.Context, req Request) (bool, error)
}

// StaticApprover answers every request the same way.
type StaticApprover bool

func (s StaticApprover) Approve(ctx context.Context, _ Request) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return bool(s), nil
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, req Request) (bool, error)

func (f ApproverFunc) Approve(ctx context.Context, req Request) (bool, error) {
	return f(ctx, req)
}

// TerminalApprover asks on the controlling terminal. Without a terminal
// every request is denied. One goroutine owns In for the approver's lifetime,
// and a line typed while no question is pending is discarded.
type TerminalApprover struct {
	In         io.Reader
	Out        io.Writer
	IsTerminal func() bool

	once  sync.Once
	lines chan string
}

func NewTerminalApprover() *TerminalApprover {
	return &TerminalApprover{
		In:  os.Stdin,
		Out: os.Stdout,
		IsTerminal: func() bool {
			return term.IsTerminal(int(os.Stdin.Fd()))
		},
	}
}

func (t *TerminalApprover) Approve(ctx context.Context, req Request) (bool, error) {
	if t.IsTerminal == nil || !t.IsTerminal() {
		return false, nil
	}

	started := false
	t.once.Do(func() {
		started = true
		t.lines = make(chan string)
		go t.readLines()
	})
	if !started {
		// Drop an answer typed before this question was asked.
		select {
		case <-t.lines:
		default:
		}
	}

	fmt.Fprintf(t.Out, "\nApprove %s %q? [y/N]: ", req.Action, req.Target)

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line := <-t.lines:
		return Affirmative(line), nil
	}
}

func (t *TerminalApprover) readLines() {
	defer close(t.lines)
	r := bufio.NewReader(t.In)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			t.lines <- line
		}
		if err != nil {
			return
		}
	}
}

// Affirmative reports whether an approval answer is yes.
func Affirmative(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}
