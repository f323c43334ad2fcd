// Package policy decides, per artifact, whether bulky renderings are
// durably persisted, cached with a TTL, or discarded. Rules are CEL
// expressions loaded from a YAML file so the materialization policy can
// change without a code deployment.
package policy

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Decision is the materialization outcome for one artifact's renderings.
type Decision string

const (
	DecisionPersist Decision = "PERSIST"
	DecisionCache   Decision = "CACHE"
	DecisionDiscard Decision = "DISCARD"
)

var ErrInvalidDecision = errors.New("invalid materialization decision")

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	switch d {
	case DecisionPersist, DecisionCache, DecisionDiscard:
		return true
	}
	return false
}

// Rule is one CEL materialization rule. Higher priority evaluates first;
// the first rule whose expression is true wins.
type Rule struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name,omitempty"`
	Expression string   `yaml:"expression"`
	Decision   Decision `yaml:"decision"`
	Priority   int      `yaml:"priority"`
	Enabled    bool     `yaml:"enabled"`
}

// RuleSet is a named collection of rules plus the default decision applied
// when no rule matches.
type RuleSet struct {
	Version string   `yaml:"version"`
	Name    string   `yaml:"name"`
	Default Decision `yaml:"default"`
	Rules   []Rule   `yaml:"rules"`
}

// LoadRules reads and validates a YAML rule set from path. Disabled rules
// are dropped and the remainder sorted by descending priority.
func LoadRules(path string) (*RuleSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read rules %s: %w", path, err)
	}
	return ParseRules(raw)
}

// ParseRules parses and validates a YAML rule set.
func ParseRules(raw []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(raw, &rs); err != nil {
		return nil, fmt.Errorf("policy: parse rules: %w", err)
	}
	if rs.Default == "" {
		rs.Default = DecisionDiscard
	}
	if !rs.Default.Valid() {
		return nil, fmt.Errorf("%w: default %q", ErrInvalidDecision, rs.Default)
	}

	enabled := rs.Rules[:0]
	for _, r := range rs.Rules {
		if !r.Enabled {
			continue
		}
		if r.ID == "" || r.Expression == "" {
			return nil, fmt.Errorf("policy: rule missing id or expression: %+v", r)
		}
		if !r.Decision.Valid() {
			return nil, fmt.Errorf("%w: rule %s has decision %q", ErrInvalidDecision, r.ID, r.Decision)
		}
		enabled = append(enabled, r)
	}
	rs.Rules = enabled
	sort.SliceStable(rs.Rules, func(i, j int) bool {
		return rs.Rules[i].Priority > rs.Rules[j].Priority
	})
	return &rs, nil
}
