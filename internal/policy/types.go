package policy

import (
	"mtdguard/internal/common"
)

// ActionType is what the caller should do with a verdict.
type ActionType string

const (
	ActionAllow ActionType = "allow"
	ActionLog   ActionType = "log"
	ActionAlert ActionType = "alert"
	ActionBlock ActionType = "block"
)

// Condition selects verdicts. Empty fields match everything.
type Condition struct {
	Kinds      []common.EventKind `koanf:"kinds" json:"kinds,omitempty"`
	MinRisk    float64            `koanf:"min_risk" json:"min_risk,omitempty" validate:"min=0,max=1"`
	MaxRisk    float64            `koanf:"max_risk" json:"max_risk,omitempty" validate:"min=0,max=1"`
	MinLevel   common.ThreatLevel `koanf:"min_level" json:"min_level,omitempty" validate:"omitempty,oneof=safe low medium high critical"`
	Techniques []string           `koanf:"techniques" json:"techniques,omitempty"`
}

// Rule maps a condition to an action. Higher priority rules are evaluated
// first and the first match wins.
type Rule struct {
	ID        string     `koanf:"id" json:"id" validate:"required"`
	Name      string     `koanf:"name" json:"name"`
	Priority  int        `koanf:"priority" json:"priority"`
	Enabled   bool       `koanf:"enabled" json:"enabled"`
	Condition Condition  `koanf:"condition" json:"condition"`
	Action    ActionType `koanf:"action" json:"action" validate:"required,oneof=allow log alert block"`
}

// Input is the part of a verdict the policy looks at.
type Input struct {
	Kind        common.EventKind
	RiskScore   float64
	ThreatLevel common.ThreatLevel
	Techniques  []string
}

// Decision is the outcome of Decide.
type Decision struct {
	Action ActionType `json:"action"`
	RuleID string     `json:"rule_id"`
	Reason string     `json:"reason"`
}

// DefaultRuleID labels decisions made by the risk-based fallback.
const DefaultRuleID = "default"

// DefaultRules is the built-in rule set.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:        "critical-block",
			Name:      "Block critical threats",
			Priority:  100,
			Enabled:   true,
			Condition: Condition{MinLevel: common.ThreatCritical},
			Action:    ActionBlock,
		},
	}
}
