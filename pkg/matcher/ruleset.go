package matcher

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"
	"github.com/suche/seccheck/pkg/prefilter"
	"github.com/suche/seccheck/pkg/types"
	"go.uber.org/zap"
)

// slot describes one capture-group ordinal of the combined pattern.
// Ordinals follow textual order of opening parentheses, 0 being the whole match.
type slot struct {
	rule    *types.Rule
	wrapper bool   // the rule's own top-level group
	name    string // "" for unnamed groups
	engine  int    // regexp2 group number
}

// Ruleset is a compiled, immutable collection of rules sharing one combined
// pattern. It is safe for concurrent use.
type Ruleset struct {
	rules       []*types.Rule
	rulesByID   map[string]*types.Rule
	pattern     *regexp2.Regexp
	source      string
	slots       []slot
	groupToRule map[int]*types.Rule
	nameToRule  map[string]*types.Rule
	excluded    []*RuleCompileError
	prefilter   *prefilter.Prefilter
	fingerprint string
	logger      *zap.Logger
}

// GroupName derives the capture-group name used for a rule id. Rule ids may
// contain characters that are not valid in group names.
func GroupName(id string) string {
	sum := md5.Sum([]byte(id))
	return "K" + hex.EncodeToString(sum[:])
}

type compiledRule struct {
	rule       *types.Rule
	name       string
	translated string
	groups     []captureGroup
}

// Compile builds a Ruleset from rules in input order. Rules without a pattern
// are dropped. A rule whose pattern cannot be translated or compiled on its
// own is excluded and reported through Excluded. Compile fails as a whole only
// when the combined pattern cannot be built or attributed.
func Compile(rules []*types.Rule, opts ...Option) (*Ruleset, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rs := &Ruleset{
		rulesByID:   make(map[string]*types.Rule),
		groupToRule: make(map[int]*types.Rule),
		nameToRule:  make(map[string]*types.Rule),
		logger:      logger,
	}

	exclude := func(id string, err error) {
		rs.excluded = append(rs.excluded, &RuleCompileError{RuleID: id, Err: err})
		logger.Warn("excluding rule from ruleset", zap.String("rule", id), zap.Error(err))
	}

	seen := make(map[string]bool)
	owners := make(map[string]string) // group name -> rule id
	var kept []compiledRule

	for _, r := range rules {
		if !r.HasPattern() {
			continue
		}
		if r.ID == "" {
			exclude("", errors.New("rule has no id"))
			continue
		}
		if seen[r.ID] {
			exclude(r.ID, errors.New("duplicate rule id"))
			continue
		}
		seen[r.ID] = true

		name := GroupName(r.ID)
		if other, ok := owners[name]; ok {
			return nil, &RulesetCompileError{
				Err: fmt.Errorf("group name %s derived from both %q and %q", name, other, r.ID),
			}
		}
		owners[name] = r.ID

		cr, err := compileRule(r, name, o.RegexOptions)
		if err != nil {
			exclude(r.ID, err)
			continue
		}
		kept = append(kept, cr)
	}

	for _, cr := range kept {
		for _, g := range cr.groups {
			if id, ok := owners[g.name]; ok && g.name != "" {
				return nil, &RulesetCompileError{
					Err: fmt.Errorf("rule %q defines group %s reserved for rule %q", cr.rule.ID, g.name, id),
				}
			}
		}
	}

	for _, cr := range kept {
		rs.rules = append(rs.rules, cr.rule)
		rs.rulesByID[cr.rule.ID] = cr.rule
	}

	if len(kept) == 0 {
		logger.Warn("ruleset has no usable rules")
		rs.fingerprint = fingerprint(o, "", nil)
		return rs, nil
	}

	var sb strings.Builder
	for i, cr := range kept {
		if i > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(wrap(cr.name, cr.translated))
	}
	rs.source = sb.String()

	re, err := regexp2.Compile(rs.source, o.RegexOptions)
	if err != nil {
		return nil, &RulesetCompileError{Err: err}
	}
	if o.MatchTimeout > 0 {
		re.MatchTimeout = o.MatchTimeout
	}
	rs.pattern = re

	if err := rs.buildSlots(kept); err != nil {
		return nil, &RulesetCompileError{Err: err}
	}

	if o.KeywordPrefilter {
		rs.prefilter = prefilter.New(rs.rules)
	}
	rs.fingerprint = fingerprint(o, rs.source, rs.rules)

	logger.Debug("compiled ruleset",
		zap.Int("rules", len(rs.rules)),
		zap.Int("excluded", len(rs.excluded)),
		zap.Int("groups", len(rs.slots)-1),
		zap.Bool("keyword_gated", rs.KeywordGated()),
		zap.String("fingerprint", rs.fingerprint))

	return rs, nil
}

// compileRule translates one rule and checks that it compiles on its own,
// wrapped exactly as it will appear in the combined pattern.
func compileRule(r *types.Rule, name string, opts regexp2.RegexOptions) (compiledRule, error) {
	translated, err := Translate(r.Pattern)
	if err != nil {
		return compiledRule{}, err
	}

	re, err := regexp2.Compile(wrap(name, translated), opts)
	if err != nil {
		return compiledRule{}, &InvalidPatternError{Pattern: r.Pattern, Reason: "does not compile after translation", Err: err}
	}

	groups, err := scanGroups(translated)
	if err != nil {
		return compiledRule{}, &InvalidPatternError{Pattern: r.Pattern, Reason: "unsupported group syntax", Err: err}
	}

	// +1 for the wrapper, +1 for group 0
	if got, want := len(re.GetGroupNumbers()), distinctCount(groups)+2; got != want {
		return compiledRule{}, &InvalidPatternError{
			Pattern: r.Pattern,
			Reason:  fmt.Sprintf("capture groups not recognized (found %d, engine reports %d)", want-2, got-2),
		}
	}

	return compiledRule{rule: r, name: name, translated: translated, groups: groups}, nil
}

func wrap(name, pattern string) string {
	return "(?<" + name + ">" + pattern + ")"
}

// buildSlots maps every textual ordinal to the engine's group number.
// regexp2 numbers unnamed groups first, in order, then named groups.
func (rs *Ruleset) buildSlots(kept []compiledRule) error {
	slots := []slot{{engine: 0}}
	for _, cr := range kept {
		slots = append(slots, slot{rule: cr.rule, wrapper: true, name: cr.name})
		for _, g := range cr.groups {
			slots = append(slots, slot{rule: cr.rule, name: g.name})
		}
	}

	var unnamed []int
	for _, n := range rs.pattern.GetGroupNumbers() {
		if n != 0 && rs.pattern.GroupNameFromNumber(n) == strconv.Itoa(n) {
			unnamed = append(unnamed, n)
		}
	}
	sort.Ints(unnamed)

	u := 0
	for i := 1; i < len(slots); i++ {
		if slots[i].name == "" {
			if u >= len(unnamed) {
				return fmt.Errorf("ordinal %d: engine has fewer unnamed groups than expected", i)
			}
			slots[i].engine = unnamed[u]
			u++
			continue
		}
		n := rs.pattern.GroupNumberFromName(slots[i].name)
		if n < 0 {
			return fmt.Errorf("ordinal %d: group %s not found in combined pattern", i, slots[i].name)
		}
		slots[i].engine = n
	}
	if u != len(unnamed) {
		return fmt.Errorf("engine has %d unnamed groups, expected %d", len(unnamed), u)
	}

	for i, s := range slots {
		if !s.wrapper {
			continue
		}
		if _, dup := rs.nameToRule[s.name]; dup {
			return fmt.Errorf("group %s appears more than once", s.name)
		}
		rs.groupToRule[i] = s.rule
		rs.nameToRule[s.name] = s.rule
	}
	rs.slots = slots
	return nil
}

func fingerprint(o Options, source string, rules []*types.Rule) string {
	h := sha1.New()
	fmt.Fprintf(h, "opts=%d prefilter=%t\n%s\n", o.RegexOptions, o.KeywordPrefilter, source)
	for _, r := range rules {
		entropy, group := "-", "-"
		if r.Entropy != nil {
			entropy = strconv.FormatFloat(*r.Entropy, 'g', -1, 64)
		}
		if r.SecretGroup != nil {
			group = strconv.Itoa(*r.SecretGroup)
		}
		structural := r.StructuralID
		if structural == "" {
			structural = r.ComputeStructuralID()
		}
		fmt.Fprintf(h, "%s %s %s %s %s\n", r.ID, structural, entropy, group, strings.Join(r.Keywords, ","))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Rules returns the rules that contribute to the combined pattern, in input order.
func (rs *Ruleset) Rules() []*types.Rule {
	out := make([]*types.Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// Len returns the number of contributing rules.
func (rs *Ruleset) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// Rule returns the contributing rule with the given id.
func (rs *Ruleset) Rule(id string) (*types.Rule, bool) {
	r, ok := rs.rulesByID[id]
	return r, ok
}

// RuleForGroup returns the rule owning the wrapper group at ordinal.
func (rs *Ruleset) RuleForGroup(ordinal int) (*types.Rule, bool) {
	r, ok := rs.groupToRule[ordinal]
	return r, ok
}

// RuleForGroupName returns the rule owning the named wrapper group.
func (rs *Ruleset) RuleForGroupName(name string) (*types.Rule, bool) {
	r, ok := rs.nameToRule[name]
	return r, ok
}

// GroupOrdinals returns the wrapper-group ordinals in ascending order.
func (rs *Ruleset) GroupOrdinals() []int {
	out := make([]int, 0, len(rs.groupToRule))
	for ord := range rs.groupToRule {
		out = append(out, ord)
	}
	sort.Ints(out)
	return out
}

// KeywordGated reports whether content without any rule keyword is skipped
// before the combined pattern runs. It is false when the prefilter is off or
// some rule has no keywords.
func (rs *Ruleset) KeywordGated() bool {
	return rs.prefilter != nil && !rs.prefilter.AlwaysChecks()
}

// Pattern returns the combined pattern source ("" for an empty ruleset).
func (rs *Ruleset) Pattern() string {
	return rs.source
}

// Excluded returns the rules that were left out during compilation.
func (rs *Ruleset) Excluded() []*RuleCompileError {
	out := make([]*RuleCompileError, len(rs.excluded))
	copy(out, rs.excluded)
	return out
}

// Fingerprint identifies the matching behaviour of this ruleset. Two rulesets
// with equal fingerprints produce identical findings for identical content.
func (rs *Ruleset) Fingerprint() string {
	if rs == nil {
		return ""
	}
	return rs.fingerprint
}
