package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/suche/seccheck/pkg/logging"
	"github.com/suche/seccheck/pkg/matcher"
	"github.com/suche/seccheck/pkg/rule"
	"github.com/suche/seccheck/pkg/types"
)

var (
	rulesPath    string
	outputFormat string
	showGroups   bool
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage detection rules",
	Long:  "Commands for listing and checking detection rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured rules",
	Long:  "Display the detection rules of the configured ruleset after include/exclude filtering",
	Args:  cobra.NoArgs,
	RunE:  runRulesList,
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the ruleset",
	Long: `Load and compile the configured ruleset, report records that were
skipped or excluded from matching, and verify that each rule's examples are
detected and its negative examples are not.`,
	Args: cobra.NoArgs,
	RunE: runRulesCheck,
}

func init() {
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesCheckCmd)
	rulesCmd.PersistentFlags().StringVar(&rulesPath, "rules", "", "Ruleset document (overrides ruleset.path)")
	rulesListCmd.Flags().StringVar(&outputFormat, "format", "table", "Output format: table, json")
	rulesCheckCmd.Flags().BoolVar(&showGroups, "groups", false, "Print the capture group owned by each rule")
}

// loadRuleDocument loads the configured document and applies the id filter.
func loadRuleDocument(cmd *cobra.Command) (*rule.Document, []*types.Rule, []matcher.Option, error) {
	cfg, logger, err := setup(logging.OutputStderr)
	if err != nil {
		return nil, nil, nil, err
	}
	defer logging.Sync(logger)

	if rulesPath != "" {
		cfg.Ruleset.Path = rulesPath
	}
	doc, err := newSource(cfg, logger).Load(commandContext(cmd), rule.NewLoader(logger))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading rules: %w", err)
	}
	rules, err := rule.Filter(doc.Rules, cfg.RuleFilter())
	if err != nil {
		return nil, nil, nil, err
	}
	return doc, rules, cfg.MatcherOptions(logger), nil
}

func runRulesList(cmd *cobra.Command, args []string) error {
	_, rules, _, err := loadRuleDocument(cmd)
	if err != nil {
		return err
	}

	switch outputFormat {
	case "json":
		return outputRulesJSON(cmd, rules)
	case "table":
		return outputRulesTable(cmd, rules)
	default:
		return fmt.Errorf("unknown output format: %s", outputFormat)
	}
}

func runRulesCheck(cmd *cobra.Command, args []string) error {
	doc, rules, opts, err := loadRuleDocument(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	problems := 0

	for _, skipped := range doc.Skipped {
		fmt.Fprintf(out, "skipped: %v\n", skipped)
		problems++
	}

	rs, err := matcher.Compile(rules, opts...)
	if err != nil {
		return fmt.Errorf("compiling rules: %w", err)
	}
	for _, excluded := range rs.Excluded() {
		fmt.Fprintf(out, "excluded: %v\n", excluded)
		problems++
	}

	problems += checkGroups(out, rs)

	for _, failure := range rule.CheckExamples(rules, opts...) {
		fmt.Fprintf(out, "example: %s\n", failure)
		problems++
	}

	fmt.Fprintf(out, "%s: %d rules compiled, fingerprint %s\n", doc.Source, rs.Len(), rs.Fingerprint())
	if rs.KeywordGated() {
		fmt.Fprintln(out, "keyword prefilter: content without rule keywords is skipped")
	}
	if problems > 0 {
		return fmt.Errorf("ruleset check found %d problem(s)", problems)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// checkGroups verifies that every wrapper group resolves to its rule both by
// ordinal and by name, printing the mapping with --groups.
func checkGroups(out io.Writer, rs *matcher.Ruleset) int {
	problems := 0
	for _, ord := range rs.GroupOrdinals() {
		r, _ := rs.RuleForGroup(ord)
		name := matcher.GroupName(r.ID)
		if byName, ok := rs.RuleForGroupName(name); !ok || byName != r {
			fmt.Fprintf(out, "group: %d (%s) does not resolve to rule %s\n", ord, name, r.ID)
			problems++
			continue
		}
		if showGroups {
			fmt.Fprintf(out, "group %d\t%s\t%s\n", ord, name, r.ID)
		}
	}
	return problems
}

func outputRulesJSON(cmd *cobra.Command, rules []*types.Rule) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(rules)
}

func outputRulesTable(cmd *cobra.Command, rules []*types.Rule) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "ID\tKeywords\tDescription\n")
	fmt.Fprintf(w, "--\t--------\t-----------\n")

	for _, r := range rules {
		keywords := ""
		if len(r.Keywords) > 0 {
			keywords = r.Keywords[0]
			if len(r.Keywords) > 1 {
				keywords += fmt.Sprintf(" (+%d)", len(r.Keywords)-1)
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.ID, keywords, strings.TrimSpace(r.Description))
	}

	return nil
}
