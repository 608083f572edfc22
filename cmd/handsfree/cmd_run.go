package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rahul/handsfree/internal/agent"
	"github.com/rahul/handsfree/internal/screen"
	"github.com/spf13/cobra"
)

var errCommandFailed = errors.New("command did not complete")

var (
	runContext    string
	runContextURL string
	runJSON       bool
)

// runCmd resolves and executes a single command
var runCmd = &cobra.Command{
	Use:   "run [command]",
	Short: "Resolve and execute a single command",
	Long: `Sends one command to the language model, parses the plan and executes it
under the security policy.

Examples:
  handsfree run "open notepad and type hello"
  handsfree run "summarize what I see" --context-url https://example.com`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCommand,
}

// planCmd executes raw model output without calling the model
var planCmd = &cobra.Command{
	Use:   "plan [file|-]",
	Short: "Execute raw model output from a file or stdin",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlan,
}

func init() {
	runCmd.Flags().StringVar(&runContext, "context", "", "Screen context text passed to the model")
	runCmd.Flags().StringVar(&runContextURL, "context-url", "", "Read screen context from a web page")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the full outcome as JSON")
	planCmd.Flags().BoolVar(&runJSON, "json", false, "Print the full outcome as JSON")
}

func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	var opts wireOptions
	if runContextURL != "" {
		opts.screen = screen.NewPageProvider(runContextURL)
	}
	a, err := newApp(cfg, opts)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	out := a.assistant.Handle(ctx, agent.Command{
		ChatID:        "cli",
		Source:        "cli",
		Text:          strings.Join(args, " "),
		ScreenContext: runContext,
	})
	return printOutcome(cmd.OutOrStdout(), out)
}

func runPlan(cmd *cobra.Command, args []string) error {
	var (
		raw []byte
		err error
	)
	if args[0] == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("read plan: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, wireOptions{offline: true})
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	out := a.assistant.ExecutePlan(ctx, agent.Command{Source: "cli"}, string(raw))
	return printOutcome(cmd.OutOrStdout(), out)
}

func printOutcome(w io.Writer, out agent.Outcome) error {
	if runJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(w, out.Reply)
	}
	if out.Result != nil && !out.Result.Success {
		return errCommandFailed
	}
	return nil
}
