package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/suche/seccheck/pkg/config"
	"github.com/suche/seccheck/pkg/logging"
	"github.com/suche/seccheck/pkg/rule"
	"github.com/suche/seccheck/pkg/ruleset"
	"github.com/suche/seccheck/pkg/telemetry"
)

var (
	configPath string
	verbose    bool
	quiet      bool
)

var rootCmd = &cobra.Command{
	Use:   "seccheck",
	Short: "seccheck - secret gate for git pushes",
	Long: `seccheck rejects git pushes that introduce secrets such as API keys,
passwords and tokens. It runs as a pre-receive or update hook, or as a
long-lived server that a hook talks to over stdio.

Detection rules use the gitleaks ruleset format.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (errors only)")

	// Add subcommands
	rootCmd.AddCommand(preReceiveCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// setup loads the configuration and builds the logger. Logs go to fallback
// unless the configuration names an output.
func setup(fallback string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	lc := cfg.Logging(fallback)
	switch {
	case verbose:
		lc.Level = "debug"
	case quiet:
		lc.Level = "error"
	}
	logger, err := logging.New(lc)
	if err != nil {
		return nil, nil, fmt.Errorf("creating logger: %w", err)
	}
	return cfg, logger, nil
}

func newSource(cfg *config.Config, logger *zap.Logger) *rule.Source {
	return &rule.Source{
		Path:             cfg.Ruleset.Path,
		URL:              cfg.Ruleset.URL,
		Timeout:          cfg.Ruleset.FetchTimeout,
		Retries:          cfg.Ruleset.Retries,
		EmbeddedFallback: cfg.Ruleset.EmbeddedFallback,
		Logger:           logger,
	}
}

func newProvider(cfg *config.Config, logger *zap.Logger, metrics *telemetry.Metrics) *ruleset.Provider {
	build := ruleset.FromSource(newSource(cfg, logger), rule.NewLoader(logger), cfg.RuleFilter(), cfg.MatcherOptions(logger)...)
	return ruleset.New(build, ruleset.WithLogger(logger), ruleset.WithMetrics(metrics))
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
