package gateway

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/rahul/handsfree/internal/agent"
	"github.com/rahul/handsfree/internal/governance"
)

// ConsoleGateway reads one command per line and prints the replies. It is
// also a governance.Approver: while a question is pending the next line
// answers it instead of being run as a command.
type ConsoleGateway struct {
	In      io.Reader
	Out     io.Writer
	Handler Handler

	mu      sync.Mutex
	pending []chan string
	eof     bool
	wg      sync.WaitGroup
}

var _ governance.Approver = (*ConsoleGateway)(nil)

func NewConsoleGateway(in io.Reader, out io.Writer, handler Handler) *ConsoleGateway {
	return &ConsoleGateway{In: in, Out: out, Handler: handler}
}

// Start returns when ctx is done or the input ends, after in-flight commands
// have replied.
func (c *ConsoleGateway) Start(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.In)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()
	defer c.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				c.endOfInput()
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			text := strings.TrimSpace(line)
			if c.answer(text) {
				continue
			}
			if text == "" {
				continue
			}
			c.wg.Go(func() {
				out := c.Handler.Handle(ctx, agent.Command{ChatID: "console", Source: "console", Text: text})
				_ = c.Send("console", out.Reply)
			})
		}
	}
}

func (c *ConsoleGateway) Send(_ string, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.Out, "> %s\n", text)
	return err
}

// Approve asks on the console and waits for the next input line. Questions
// from concurrent workflows are answered in the order they were asked.
func (c *ConsoleGateway) Approve(ctx context.Context, req governance.Request) (bool, error) {
	answer := make(chan string, 1)
	c.mu.Lock()
	if c.eof {
		c.mu.Unlock()
		return false, nil
	}
	c.pending = append(c.pending, answer)
	_, err := fmt.Fprintf(c.Out, "> Approve %s %q? [y/N]\n", req.Action, req.Target)
	c.mu.Unlock()
	if err != nil {
		c.withdraw(answer)
		return false, err
	}

	select {
	case <-ctx.Done():
		c.withdraw(answer)
		return false, ctx.Err()
	case line := <-answer:
		return governance.Affirmative(line), nil
	}
}

// answer hands line to the oldest pending question, if any.
func (c *ConsoleGateway) answer(line string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return false
	}
	c.pending[0] <- line
	c.pending = c.pending[1:]
	return true
}

// endOfInput denies every pending and future question.
func (c *ConsoleGateway) endOfInput() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eof = true
	for _, p := range c.pending {
		close(p)
	}
	c.pending = nil
}

func (c *ConsoleGateway) withdraw(answer chan string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = slices.DeleteFunc(c.pending, func(p chan string) bool { return p == answer })
}

func (c *ConsoleGateway) Stop() error {
	return nil
}
