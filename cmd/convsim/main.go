// Convsim drives simulated users through trajectory documents against an
// agent under test and reports how each conversation ended.
//
// Usage:
//
//	# Run a trajectory against the configured agent
//	convsim run refund.yaml
//
//	# Check documents without running them
//	convsim validate trajectories/*.yaml
//
//	# Render a step graph
//	convsim graph refund.yaml | dot -Tsvg > refund.svg
//
//	# Serve the HTTP API
//	convsim serve
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/convsim/internal/config"
	"github.com/fyrsmithlabs/convsim/internal/logging"
	"github.com/fyrsmithlabs/convsim/internal/services"
	"github.com/fyrsmithlabs/convsim/internal/store"
	"github.com/fyrsmithlabs/convsim/internal/telemetry"
)

const tracerName = "github.com/fyrsmithlabs/convsim"

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

var (
	configPath string
	envFiles   []string
	logLevel   string
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "convsim",
		Short: "Simulate users conversing with an agent under test",
		Long: `convsim runs trajectory documents: a persona with a goal and a graph of
steps, played by a language model against the agent you are testing. Each
run ends with a stop reason (goal-reached, max-turns, agent-loop, ...) and
a full trace of the conversation.`,
		Version:       fmt.Sprintf("%s (%s)", version, gitCommit),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/convsim/config.yaml)")
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, ".env files to load before reading the environment (default .env when present)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newGraphCmd())
	root.AddCommand(newTranscriptCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newWorkerCmd())
	root.AddCommand(newBatchCmd())
	return root
}

// app holds everything a command needs after startup.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	tel      *telemetry.Telemetry
	registry *services.Registry
	closers  []func()
}

// Close flushes telemetry and releases connections.
func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if a.tel != nil {
		if err := a.tel.Shutdown(ctx); err != nil {
			a.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// loadEnv loads .env files. A missing default .env is not an error.
func loadEnv() error {
	if len(envFiles) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(envFiles...); err != nil {
		return fmt.Errorf("loading env files: %w", err)
	}
	return nil
}

// loadConfig reads config after .env files have populated the environment.
func loadConfig() (*config.Config, error) {
	if err := loadEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// newApp loads configuration and wires telemetry, logging, the store and the
// service registry.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	logger, err := newLogger(cfg, tel)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	if err := tel.Err(); err != nil {
		logger.Warn(ctx, "telemetry degraded", zap.Error(err))
	}

	st, closeStore, err := store.Open(cfg.Store, logger.Underlying())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("opening store: %w", err)
	}

	logger.Debug(ctx, "convsim configured",
		zap.String("llm.provider", cfg.LLM.Provider),
		zap.String("llm.model", cfg.LLM.Model),
		zap.String("store.kind", cfg.Store.Kind),
		zap.Bool("telemetry.enabled", cfg.Telemetry.Enabled),
	)

	opts := services.OptionsFromConfig(cfg, st, logger)
	opts.Tracer = tel.Tracer(tracerName)

	return &app{
		cfg:      cfg,
		logger:   logger,
		tel:      tel,
		registry: services.NewRegistry(opts),
		closers:  []func(){closeStore},
	}, nil
}

// newLogger maps the config logging section onto logging.Config. Entries go
// to the OTLP log pipeline as well when telemetry provides one.
func newLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	lc, err := logging.FromSettings(cfg.Logging, version)
	if err != nil {
		return nil, err
	}
	lp := tel.LoggerProvider()
	lc.OTEL = lp != nil
	return logging.NewLogger(lc, lp)
}

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}
