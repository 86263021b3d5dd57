// Command vguard verifies LLM outputs against configurable guards. It
// checks single candidates from the command line and serves verification
// over JSON-RPC or MCP on stdio.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cgast/vguard/internal/config"
	"github.com/cgast/vguard/internal/inspector"
	"github.com/cgast/vguard/internal/logger"
	"github.com/cgast/vguard/internal/setup"
)

var version = "dev"

// exitCodeBlocked is returned by check when the candidate is not verified.
const exitCodeBlocked = 2

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

type globalFlags struct {
	configPath string
	logLevel   string
	pretty     bool
}

var flags globalFlags

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vguard",
		Short: "Verify LLM outputs before they reach users or tools",
		Long: `vguard runs deterministic guards over model outputs: tool calls,
retrieved context and synthesized responses. Guards, routes, the spend
ledger and domain checks are configured in .vguard/config.yaml.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", config.DefaultPath, "path to the config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override the configured log level")
	root.PersistentFlags().BoolVar(&flags.pretty, "pretty", false, "human-readable log output")

	root.AddCommand(
		newCheckCmd(),
		newAgentCmd(),
		newMCPCmd(),
		newGuardsCmd(),
		newInitCmd(),
		newValidateCmd(),
		newVersionCmd(),
	)
	return root
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			if exit.msg != "" {
				fmt.Fprintln(os.Stderr, exit.msg)
			}
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.LoadConfig(flags.configPath)
	if err != nil {
		return cfg, err
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	return cfg, nil
}

// wire loads the config and builds the verification stack. When metrics
// are enabled the inspector is started in the background.
func wire(ctx context.Context) (*setup.Dependencies, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.LogLevel, flags.pretty)

	deps, err := setup.Wire(ctx, cfg, filepath.Dir(flags.configPath), log)
	if err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		srv := inspector.New(deps.Bus, deps.Handler, deps.Pipeline, deps.Ledger, log)
		go func() {
			if err := srv.Run(ctx, cfg.Metrics.Addr); err != nil {
				log.Error().Err(err).Msg("Inspector stopped")
			}
		}()
	}
	return deps, nil
}

func closeDeps(deps *setup.Dependencies, log zerolog.Logger) {
	if err := deps.Close(); err != nil {
		log.Warn().Err(err).Msg("Closing ledger")
	}
}
