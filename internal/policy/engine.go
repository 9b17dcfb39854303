package policy

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"mtdguard/internal/common"
	"mtdguard/internal/metrics"
)

var validate = validator.New()

// Engine assigns an action to each verdict. Rules can be replaced at runtime.
type Engine struct {
	mu    sync.RWMutex
	rules []Rule
}

func NewEngine(rules []Rule) *Engine {
	e := &Engine{}
	e.SetRules(rules)
	return e
}

// SetRules replaces the rule set.
func (e *Engine) SetRules(rules []Rule) {
	sorted := slices.Clone(rules)
	slices.SortStableFunc(sorted, func(a, b Rule) int { return cmp.Compare(b.Priority, a.Priority) })

	e.mu.Lock()
	e.rules = sorted
	e.mu.Unlock()
}

// Rules returns the rules in evaluation order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.rules)
}

func (e *Engine) Decide(in Input) Decision {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	for _, rule := range rules {
		if !rule.Enabled || !rule.Condition.matches(in) {
			continue
		}
		metrics.PolicyActions.WithLabelValues(string(rule.Action), rule.ID).Inc()
		return Decision{
			Action: rule.Action,
			RuleID: rule.ID,
			Reason: fmt.Sprintf("Rule '%s' matched", cmp.Or(rule.Name, rule.ID)),
		}
	}

	d := defaultDecision(in)
	metrics.PolicyActions.WithLabelValues(string(d.Action), DefaultRuleID).Inc()
	return d
}

func defaultDecision(in Input) Decision {
	d := Decision{RuleID: DefaultRuleID, Reason: "No specific rule matched, applying default policy"}
	switch {
	case in.RiskScore >= 0.8:
		d.Action = ActionBlock
	case in.RiskScore >= 0.5:
		d.Action = ActionAlert
	case in.ThreatLevel.AtLeast(common.ThreatMedium):
		d.Action = ActionAlert
	default:
		d.Action = ActionAllow
	}
	return d
}

func (c Condition) matches(in Input) bool {
	if len(c.Kinds) > 0 && !slices.Contains(c.Kinds, in.Kind) {
		return false
	}
	if c.MinRisk > 0 && in.RiskScore < c.MinRisk {
		return false
	}
	if c.MaxRisk > 0 && in.RiskScore > c.MaxRisk {
		return false
	}
	if c.MinLevel != "" && !in.ThreatLevel.AtLeast(c.MinLevel) {
		return false
	}
	if len(c.Techniques) > 0 && !slices.ContainsFunc(c.Techniques, func(id string) bool {
		return slices.Contains(in.Techniques, id)
	}) {
		return false
	}
	return true
}

// LoadRulesFile reads a YAML document with a top-level "rules" list.
func LoadRulesFile(path string) ([]Rule, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load policy file %s: %w", path, err)
	}

	var rules []Rule
	if err := k.Unmarshal("rules", &rules); err != nil {
		return nil, fmt.Errorf("decode policy rules: %w", err)
	}
	for i, r := range rules {
		if err := validate.Struct(r); err != nil {
			return nil, fmt.Errorf("policy rule %d (%s): %w", i, r.ID, err)
		}
	}
	slog.Info("loaded policy rules", "path", path, "count", len(rules))
	return rules, nil
}
