package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/suche/seccheck/pkg/enum"
	"github.com/suche/seccheck/pkg/logging"
	"github.com/suche/seccheck/pkg/scanner"
	"github.com/suche/seccheck/pkg/types"
)

// errRejected makes the process exit non-zero without printing an error;
// the rejection lines have already been written.
var errRejected = errors.New("push rejected")

var hookRepoPath string

var preReceiveCmd = &cobra.Command{
	Use:   "pre-receive",
	Short: "Run as a git pre-receive hook",
	Long: `Read "<old> <new> <ref>" lines from stdin, scan what each ref update
introduces and reject the push if any update contains a secret.

Objects are read from GIT_QUARANTINE_PATH when git sets it.`,
	Args: cobra.NoArgs,
	RunE: runPreReceive,
}

var updateCmd = &cobra.Command{
	Use:   "update <ref> <old> <new>",
	Short: "Run as a git update hook",
	Long:  "Scan a single ref update and reject it if it contains a secret",
	Args:  cobra.ExactArgs(3),
	RunE:  runUpdate,
}

func init() {
	for _, cmd := range []*cobra.Command{preReceiveCmd, updateCmd} {
		cmd.Flags().StringVar(&hookRepoPath, "repo", "", "Repository path (default $GIT_DIR or the working directory)")
	}
}

func runPreReceive(cmd *cobra.Command, args []string) error {
	updates, err := readRefUpdates(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("reading ref updates: %w", err)
	}
	return runHook(cmd, updates)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	return runHook(cmd, []types.RefUpdate{{Name: args[0], OldID: args[1], NewID: args[2]}})
}

// readRefUpdates parses pre-receive input. Malformed lines are ignored.
func readRefUpdates(r io.Reader) ([]types.RefUpdate, error) {
	var updates []types.RefUpdate
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if u, ok := types.ParseRefUpdate(sc.Text()); ok {
			updates = append(updates, u)
		}
	}
	return updates, sc.Err()
}

func runHook(cmd *cobra.Command, updates []types.RefUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	cfg, logger, err := setup(logging.OutputDiscard)
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	ctx := commandContext(cmd)
	provider := newProvider(cfg, logger, nil)
	provider.Start(ctx)

	waitCtx, cancel := context.WithTimeout(ctx, cfg.Hook.RulesetWait)
	_, err = provider.Wait(waitCtx)
	cancel()
	if err != nil {
		logger.Warn("no ruleset within wait budget", zap.Duration("wait", cfg.Hook.RulesetWait), zap.Error(err))
	}

	repo, err := enum.OpenQuarantined(repoPath(), os.Getenv("GIT_QUARANTINE_PATH"))
	if err != nil {
		logger.Error("opening repository failed, accepting push unscanned", zap.Error(err))
		return nil
	}
	defer repo.Close()

	core := scanner.New(provider, cfg.ScannerConfig(), scanner.WithLogger(logger))
	return writeDecisions(cmd.ErrOrStderr(), core.Evaluate(ctx, repo, updates))
}

func repoPath() string {
	if hookRepoPath != "" {
		return hookRepoPath
	}
	if dir := os.Getenv("GIT_DIR"); dir != "" {
		return dir
	}
	return "."
}

// writeDecisions prints each rejected ref followed by its message and
// returns errRejected if anything was rejected.
func writeDecisions(w io.Writer, decisions []types.RefDecision) error {
	rejected := false
	for _, d := range decisions {
		if !d.Rejected {
			continue
		}
		rejected = true
		fmt.Fprintf(w, "%s:\n%s\n", d.Ref, d.Message)
	}
	if rejected {
		return errRejected
	}
	return nil
}
