package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rahul/handsfree/internal/gateway"
	"github.com/rahul/handsfree/internal/observability"
	"github.com/rahul/handsfree/pkg/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	serveConsole bool
	serveStatus  bool
)

// serveCmd listens on every enabled gateway
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Listen for commands on the configured gateways",
	Long: `Starts every gateway enabled in the config (telegram, discord, http) and
runs each incoming command through the assistant.

With no gateway enabled, or with --console, commands are also read from
standard input, one per line. Sending the kill switch text (default
"/stop") on any gateway cancels every running workflow.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveConsole, "console", false, "Also read commands from stdin")
	serveCmd.Flags().BoolVar(&serveStatus, "status", true, "Show the live status line on interactive terminals")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// The console owns stdin, so it also answers approval questions.
	var console *gateway.ConsoleGateway
	opts := wireOptions{}
	if serveConsole || !anyGatewayEnabled(cfg) {
		console = gateway.NewConsoleGateway(os.Stdin, observability.NewTermWriter(), nil)
		opts.approver = console
	}
	a, err := newApp(cfg, opts)
	if err != nil {
		return err
	}
	defer a.close()

	gateways, err := buildGateways(a)
	if err != nil {
		return err
	}
	if console != nil {
		console.Handler = a.assistant
		gateways["console"] = console
	}

	ctx, stop := signalContext()
	defer stop()

	if observability.IsInteractive() {
		observability.PrintBanner()
	}

	g, gctx := errgroup.WithContext(ctx)
	for name, gw := range gateways {
		g.Go(func() error {
			a.logger.Zap().Info("gateway starting", zap.String("gateway", name))
			if err := gw.Start(gctx); err != nil {
				return fmt.Errorf("%s gateway: %w", name, err)
			}
			return nil
		})
	}
	go heartbeat(gctx, a.logger)
	if serveStatus && observability.IsInteractive() {
		go liveStatus(gctx)
	}

	err = g.Wait()
	for name, gw := range gateways {
		if stopErr := gw.Stop(); stopErr != nil {
			a.logger.Zap().Warn("gateway stop failed", zap.String("gateway", name), zap.Error(stopErr))
		}
	}
	log.Println("handsfree stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func buildGateways(a *app) (map[string]gateway.Messenger, error) {
	gateways := map[string]gateway.Messenger{}

	if tg, ok := a.cfg.GetGatewayConfig("telegram"); ok {
		gw, err := gateway.NewTelegramGateway(tg.Token, a.assistant, tg.AllowFrom, a.logger)
		if err != nil {
			return nil, err
		}
		gateways["telegram"] = gw
	}
	if dc, ok := a.cfg.GetGatewayConfig("discord"); ok {
		gw, err := gateway.NewDiscordGateway(dc.Token, a.assistant, dc.AllowFrom, a.logger)
		if err != nil {
			return nil, err
		}
		gateways["discord"] = gw
	}
	if hc, ok := a.cfg.GetGatewayConfig("http"); ok {
		gateways["http"] = gateway.NewHTTPGateway(hc.Addr, hc.Token, a.assistant, a.guard, a.store, a.logger)
	}
	return gateways, nil
}

func anyGatewayEnabled(cfg *config.Config) bool {
	for _, name := range []string{"telegram", "discord", "http"} {
		if _, ok := cfg.GetGatewayConfig(name); ok {
			return true
		}
	}
	return false
}

func heartbeat(ctx context.Context, logger *observability.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.Heartbeat()
			logger.LogHeartbeat()
		}
	}
}

func liveStatus(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.PrintLiveStatus()
		}
	}
}
