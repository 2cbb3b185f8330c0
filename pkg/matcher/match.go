package matcher

import (
	"fmt"

	"github.com/dlclark/regexp2"
	"github.com/suche/seccheck/pkg/types"
	"go.uber.org/zap"
)

// FindMatch runs the combined pattern once over content and returns the first
// qualifying finding, or nil. Only the first overall match is inspected; within
// it, rules are tried in ordinal order until one passes its entropy threshold.
//
// The only error is ErrMatchTimeout.
func (rs *Ruleset) FindMatch(content string) (*types.Finding, error) {
	if rs == nil || rs.pattern == nil {
		return nil, nil
	}

	var admitted map[string]bool
	if rs.prefilter != nil {
		admitted = rs.prefilter.Admitted([]byte(content))
		if len(admitted) == 0 {
			return nil, nil
		}
	}

	m, err := rs.pattern.FindStringMatch(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMatchTimeout, err)
	}
	if m == nil {
		return nil, nil
	}

	for ord := 1; ord < len(rs.slots); ord++ {
		s := rs.slots[ord]
		if !s.wrapper {
			continue
		}
		g := m.GroupByNumber(s.engine)
		if g == nil || len(g.Captures) == 0 {
			continue
		}

		rule := s.rule
		if admitted != nil && !admitted[rule.ID] {
			rs.logger.Debug("rule fired without any of its keywords", zap.String("rule", rule.ID))
			continue
		}

		secret := rs.secretFor(m, ord, g)
		if rule.Entropy != nil {
			if e := ShannonEntropy(secret); e < *rule.Entropy {
				rs.logger.Debug("discarding low-entropy match",
					zap.String("rule", rule.ID),
					zap.Float64("entropy", e),
					zap.Float64("threshold", *rule.Entropy))
				continue
			}
		}

		return &types.Finding{
			Secret: secret,
			Match:  g.String(),
			Rule:   rule,
			Line:   types.LineOfRune(content, g.Index),
		}, nil
	}

	return nil, nil
}

// secretFor selects the secret for the rule whose wrapper group fired at ord.
func (rs *Ruleset) secretFor(m *regexp2.Match, ord int, fired *regexp2.Group) string {
	rule := rs.slots[ord].rule

	if rule.SecretGroup != nil {
		return rs.groupText(m, ord+*rule.SecretGroup)
	}

	next := ord + 1
	if next < len(rs.slots) && !rs.slots[next].wrapper {
		return rs.groupText(m, next)
	}

	return fired.String()
}

// groupText returns the text of the group at ordinal, or "" when the ordinal
// is out of range or the group did not participate.
func (rs *Ruleset) groupText(m *regexp2.Match, ord int) string {
	if ord < 0 || ord >= len(rs.slots) {
		return ""
	}
	g := m.GroupByNumber(rs.slots[ord].engine)
	if g == nil || len(g.Captures) == 0 {
		return ""
	}
	return g.String()
}
