package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rahul/handsfree/internal/agent"
	"github.com/rahul/handsfree/internal/dispatch"
	"github.com/rahul/handsfree/internal/governance"
	"github.com/rahul/handsfree/internal/host"
	"github.com/rahul/handsfree/internal/intent"
	"github.com/rahul/handsfree/internal/observability"
	"github.com/rahul/handsfree/internal/screen"
	"github.com/rahul/handsfree/internal/store"
	"github.com/rahul/handsfree/internal/workflow"
	"github.com/rahul/handsfree/pkg/config"
	"go.uber.org/zap"
)

var errNoModel = errors.New("no language model configured for this command")

// app holds everything a command needs. close releases it in reverse order.
type app struct {
	cfg       *config.Config
	logger    *observability.Logger
	store     *store.Store
	guard     *governance.Guardrail
	browser   *host.BrowserLauncher
	assistant *agent.Assistant
}

type wireOptions struct {
	// offline skips building the model client; commands then resolve to an
	// error plan.
	offline  bool
	screen   screen.Provider
	// approver answers approval questions. When nil and approval is
	// required, a TerminalApprover reading stdin is used.
	approver governance.Approver
}

// offlineSource stands in for the model when only raw plans are executed.
type offlineSource struct{}

func (offlineSource) Resolve(context.Context, string, string, string) (string, error) {
	return "", errNoModel
}

func openStore(cfg *config.Config) (*store.Store, error) {
	path := cfg.Memory.Path
	if cfg.Memory.Type == "memory" || path == "" {
		path = ":memory:"
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	return st, nil
}

func newApp(cfg *config.Config, opts wireOptions) (_ *app, err error) {
	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.LLMLogPath)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if a.store, err = openStore(cfg); err != nil {
		return nil, err
	}

	policy := governance.NewSecurityPolicy(cfg.Security.AllowedApps, cfg.Security.AllowedDomains, cfg.Security.RequireApproval)
	a.guard = governance.NewGuardrail(policy,
		governance.WithLogger(logger),
		governance.WithAuditSink(a.store),
	)
	for _, p := range cfg.Security.DeniedPatterns {
		if err := a.guard.DenyArguments(p); err != nil {
			return nil, err
		}
	}

	execLauncher := host.NewExecLauncher(cfg.Launcher.StripExe)
	var launcher host.Launcher = execLauncher
	if cfg.Launcher.Browser == "chromedp" {
		a.browser = host.NewBrowserLauncher(execLauncher)
		launcher = a.browser
	}

	var (
		input  host.TextInput
		mouse  host.Mouse
		window screen.Provider
	)
	if cfg.Input.Backend == "xdotool" {
		x := host.NewXdotool()
		if x.Available() {
			input, mouse = x, x
			window = screen.WindowProvider{Source: x}
		} else {
			logger.Zap().Warn("xdotool not found; keyboard and mouse steps will fail")
		}
	}

	approver := opts.approver
	if cfg.Security.RequireApproval && approver == nil {
		approver = governance.NewTerminalApprover()
	}

	d, err := dispatch.New(dispatch.Options{
		Policy:          a.guard,
		Launcher:        launcher,
		Input:           input,
		Mouse:           mouse,
		RequireApproval: cfg.Security.RequireApproval,
		Approver:        approver,
		Aliases:         dispatch.MergeAliases(dispatch.DefaultAliases(), cfg.Apps),
		SearchURL:       cfg.Search.URLTemplate,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	engine := workflow.New(d,
		workflow.WithObserver(agent.StatusObserver{}),
		workflow.WithLogger(logger),
	)

	var source agent.IntentSource = offlineSource{}
	if !opts.offline {
		name, p := cfg.GetDefaultProvider()
		if name == "" {
			return nil, errors.New("no enabled provider found in config")
		}
		model, err := agent.NewModel(name, p)
		if err != nil {
			return nil, fmt.Errorf("init provider %s: %w", name, err)
		}
		source = agent.NewResolver(model, agent.NewPromptManager(cfg.App.Prompts), a.store, logger)
		logger.Zap().Info("model ready", zap.String("provider", name), zap.String("model", p.Model))
	}

	provider := opts.screen
	switch {
	case provider != nil:
	case a.browser != nil:
		provider = screen.BrowserProvider{Source: a.browser}
	case window != nil:
		provider = window
	}

	a.assistant, err = agent.NewAssistant(agent.AssistantOptions{
		Source:     source,
		Executor:   engine,
		Screen:     provider,
		Store:      a.store,
		Logger:     logger,
		KillSwitch: cfg.Security.KillSwitchKey,
		Parse:      intent.Options{Strict: cfg.Security.StrictParse},
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	if a.browser != nil {
		a.browser.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Zap().Warn("failed to close store", zap.Error(err))
		}
	}
	a.logger.Sync()
}
