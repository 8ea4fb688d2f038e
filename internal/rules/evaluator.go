package rules

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/StreetsDigital/prebidjs-light-sub004/internal/detect"
)

// SortPairs orders config/rule pairs for evaluation: priority descending,
// then rule ID ascending as the tiebreaker so equal-priority rules evaluate
// in creation order regardless of how the provider returned them. Pairs
// without a rule sort last.
func SortPairs(pairs []ConfigRule) {
	slices.SortStableFunc(pairs, func(a, b ConfigRule) int {
		switch {
		case a.Rule == nil && b.Rule == nil:
			return 0
		case a.Rule == nil:
			return 1
		case b.Rule == nil:
			return -1
		}
		if a.Rule.Priority != b.Rule.Priority {
			return b.Rule.Priority - a.Rule.Priority
		}
		switch {
		case a.Rule.ID < b.Rule.ID:
			return -1
		case a.Rule.ID > b.Rule.ID:
			return 1
		}
		return 0
	})
}

// Evaluate scans the sorted pairs and returns the first config whose enabled
// rule matches the request attributes, plus the rule that matched. The scan
// short-circuits at the first winner. A rule with malformed condition data is
// skipped, not fatal: bad stored data must never take out the rules that
// follow it.
func Evaluate(attrs detect.Attributes, pairs []ConfigRule) (*WrapperConfig, *Rule) {
	for i := range pairs {
		r := pairs[i].Rule
		if r == nil || !r.Enabled {
			continue
		}
		matched, err := ruleMatches(attrs, r)
		if err != nil {
			log.Warn().Err(err).Int64("rule_id", r.ID).Int64("config_id", r.ConfigID).
				Msg("skipping rule with malformed conditions")
			continue
		}
		if matched {
			return &pairs[i].Config, r
		}
	}
	return nil, nil
}

// DefaultConfig returns the publisher's designated default active config, or
// nil. Invoked only after Evaluate finds no winner.
func DefaultConfig(pairs []ConfigRule) *WrapperConfig {
	for i := range pairs {
		c := &pairs[i].Config
		if c.IsDefault && c.Status == StatusActive {
			return c
		}
	}
	return nil
}

func ruleMatches(attrs detect.Attributes, r *Rule) (bool, error) {
	if len(r.Conditions) == 0 {
		return false, nil
	}
	switch r.MatchType {
	case MatchAll:
		for _, c := range r.Conditions {
			ok, err := evalCondition(attrs, c)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case MatchAny:
		for _, c := range r.Conditions {
			ok, err := evalCondition(attrs, c)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("unknown match type %q", r.MatchType)
}

// evalCondition applies a single condition. An attribute the request does not
// carry fails the condition under every operator.
func evalCondition(attrs detect.Attributes, c Condition) (bool, error) {
	val, ok := attrs.Value(c.Attribute)
	if !ok {
		return false, nil
	}
	switch c.Operator {
	case OpEquals:
		return strings.EqualFold(val, c.Value), nil
	case OpContains:
		if c.Value == "" {
			return false, fmt.Errorf("contains condition on %q has empty operand", c.Attribute)
		}
		return strings.Contains(strings.ToLower(val), strings.ToLower(c.Value)), nil
	case OpIn:
		if c.Values == nil {
			return false, fmt.Errorf("in condition on %q has no list operand", c.Attribute)
		}
		return containsFold(c.Values, val), nil
	case OpNotIn:
		if c.Values == nil {
			return false, fmt.Errorf("not_in condition on %q has no list operand", c.Attribute)
		}
		return !containsFold(c.Values, val), nil
	}
	return false, fmt.Errorf("unknown operator %q", c.Operator)
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
