package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/suche/seccheck/pkg/enum"
	"github.com/suche/seccheck/pkg/logging"
	"github.com/suche/seccheck/pkg/sarif"
	"github.com/suche/seccheck/pkg/scanner"
	"github.com/suche/seccheck/pkg/types"
)

// errFindings makes the process exit non-zero after a scan reported secrets.
var errFindings = errors.New("secrets found")

var (
	scanRulesPath     string
	scanOutputFormat  string
	scanColor         string
	scanIncludeHidden bool
	scanMaxFileSize   int64
)

var scanCmd = &cobra.Command{
	Use:   "scan <target>",
	Short: "Scan a file or directory for secrets",
	Long: `Scan a file or directory with the same rules and path filters a push
is checked with. Exits non-zero when a secret is found.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanRulesPath, "rules", "", "Ruleset document (overrides ruleset.path)")
	scanCmd.Flags().StringVar(&scanOutputFormat, "format", "human", "Output format: human, json, sarif")
	scanCmd.Flags().StringVar(&scanColor, "color", "auto", "Color output: auto, always, never")
	scanCmd.Flags().BoolVar(&scanIncludeHidden, "include-hidden", false, "Include hidden files and directories")
	scanCmd.Flags().Int64Var(&scanMaxFileSize, "max-file-size", 0, "Maximum file size to scan in bytes (overrides scan.max_file_size)")
}

// scanResult is one finding of the scan command.
type scanResult struct {
	Path      string `json:"path"`
	Rule      string `json:"rule"`
	Line      int    `json:"line"`
	Rejection string `json:"rejection"`

	finding *types.Finding
}

func runScan(cmd *cobra.Command, args []string) error {
	target := args[0]
	if _, err := os.Stat(target); err != nil {
		return fmt.Errorf("target does not exist: %s", target)
	}
	switch scanOutputFormat {
	case "human", "json", "sarif":
	default:
		return fmt.Errorf("unknown output format: %s", scanOutputFormat)
	}

	cfg, logger, err := setup(logging.OutputStderr)
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	if scanRulesPath != "" {
		cfg.Ruleset.Path = scanRulesPath
	}
	if scanMaxFileSize > 0 {
		cfg.Scan.MaxFileSize = scanMaxFileSize
	}

	ctx := commandContext(cmd)
	provider := newProvider(cfg, logger, nil)
	if err := provider.Reload(ctx); err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	core := scanner.New(provider, cfg.ScannerConfig(), scanner.WithLogger(logger))
	enumerator := enum.NewFilesystemEnumerator(enum.Config{
		Root:          target,
		IncludeHidden: scanIncludeHidden,
		MaxFileSize:   cfg.Scan.MaxFileSize,
		Workers:       cfg.Scan.Workers,
	})

	var (
		mu      sync.Mutex
		results []scanResult
	)
	err = enumerator.Enumerate(ctx, func(path string, content []byte) error {
		finding, err := core.ScanContent(path, content)
		if err != nil {
			logger.Warn("skipping file", zap.String("path", path), zap.Error(err))
			return nil
		}
		if finding == nil {
			return nil
		}
		mu.Lock()
		results = append(results, scanResult{
			Path:      path,
			Rule:      finding.RuleID(),
			Line:      finding.Line,
			Rejection: finding.RejectionLine(path),
			finding:   finding,
		})
		mu.Unlock()
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning %s: %w", target, err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })

	if err := writeResults(cmd.OutOrStdout(), results); err != nil {
		return err
	}

	if len(results) > 0 {
		return errFindings
	}
	return nil
}

func writeResults(out io.Writer, results []scanResult) error {
	switch scanOutputFormat {
	case "json":
		if results == nil {
			results = []scanResult{}
		}
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(results)
	case "sarif":
		report := sarif.NewReport(version)
		for _, r := range results {
			report.AddResult(r.finding, r.Path)
		}
		data, err := report.ToJSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%s\n", data)
		return err
	default:
		writeHuman(out, results, colorEnabled(scanColor))
		return nil
	}
}

func colorEnabled(mode string) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default:
		// Check if stdout is a TTY and NO_COLOR is not set
		return term.IsTerminal(int(os.Stdout.Fd())) && os.Getenv("NO_COLOR") == ""
	}
}

func writeHuman(w io.Writer, results []scanResult, useColor bool) {
	path := color.New(color.Bold, color.FgHiWhite)
	ruleID := color.New(color.Bold, color.FgHiBlue)
	summary := color.New(color.FgYellow)
	if !useColor {
		path.DisableColor()
		ruleID.DisableColor()
		summary.DisableColor()
	}

	for _, r := range results {
		fmt.Fprintf(w, "%s:%d  %s\n", path.Sprint(r.Path), r.Line, ruleID.Sprint(r.Rule))
	}
	if len(results) == 0 {
		fmt.Fprintln(w, "No secrets found")
		return
	}
	summary.Fprintf(w, "\n%d file(s) with secrets\n", len(results))
}
