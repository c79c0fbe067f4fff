package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus-core/internal/config"
	"github.com/haasonsaas/nexus-core/internal/gateway"
	"github.com/haasonsaas/nexus-core/internal/orchestrator"
)

// buildServeCmd matches the teacher's commands_serve.go: a config-path flag
// plus a debug override, dispatching into runServe.
func buildServeCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration core's reasoning loop and HTTP boundary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to nexus-core.toml (defaults to $NEXUS_CORE_CONFIG or ./nexus-core.toml)")
	cmd.Flags().BoolVar(&debug, "debug", false, "override the configured log level to debug")
	return cmd
}

// runServe loads configuration, builds every subsystem, starts them, and
// blocks until SIGINT/SIGTERM, then shuts each down in reverse order —
// following the teacher's handlers_serve.go Start/signal/Stop shape.
func runServe(ctx context.Context, configPath string, debug bool) error {
	if debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}
	logger := slog.Default()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	watcher, err := config.NewWatcher(configPath, logger, func(tools map[string]config.ToolConfig) {
		logger.Info("tool enable-flags reloaded", "count", len(tools))
	})
	if err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	}
	if watcher != nil {
		defer watcher.Close()
	}

	application, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	defer application.stores.Close()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	if err := application.gateway.Start(sigCtx); err != nil {
		return fmt.Errorf("start http boundary: %w", err)
	}
	application.scheduler.Start(sigCtx)
	if application.msgSync != nil {
		application.msgSync.Start(sigCtx)
	}

	logger.Info("nexus-core serving", "addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))

	select {
	case <-sigCtx.Done():
	case err := <-errCh:
		logger.Error("subsystem error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if application.msgSync != nil {
		application.msgSync.Stop()
	}
	application.scheduler.Stop()
	if err := application.gateway.Stop(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http boundary shutdown error", "error", err)
	}

	logger.Info("nexus-core stopped")
	return nil
}

// registerCommands exposes every registered orchestrator.Tool as a /command
// handler, per spec.md §2: "Command requests bypass the reasoning loop and
// dispatch directly to Tool Implementations (treated as command handlers)."
// Arguments arrive as a flat string map from the HTTP body and are
// re-encoded to the JSON the Tool.Execute contract expects.
func registerCommands(commands *gateway.CommandRegistry, registry *orchestrator.ToolRegistry) {
	for _, schema := range registry.Definitions() {
		tool, ok := registry.Get(schema.Name)
		if !ok {
			continue
		}
		commands.Register(schema.Name, toolCommandHandler(tool))
	}
}

// toolCommandHandler adapts an orchestrator.Tool into a gateway.CommandHandler.
func toolCommandHandler(tool orchestrator.Tool) gateway.CommandHandler {
	return func(ctx context.Context, args map[string]string) ([]string, error) {
		payload := make(map[string]string, len(args))
		for k, v := range args {
			payload[k] = v
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode command args: %w", err)
		}
		result, err := tool.Execute(ctx, raw)
		if err != nil {
			return nil, err
		}
		switch result.Kind {
		case orchestrator.ResultError:
			return nil, fmt.Errorf("%s", result.Text)
		case orchestrator.ResultNull:
			return []string{}, nil
		default:
			return []string{result.Text}, nil
		}
	}
}
