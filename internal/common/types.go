package common

import "math"

// ThreatType identifies what kind of intelligence match produced a threat entry.
type ThreatType string

const (
	ThreatMaliciousURL       ThreatType = "malicious_url"
	ThreatMaliciousDomain    ThreatType = "malicious_domain"
	ThreatSpamNumber         ThreatType = "spam_number"
	ThreatMaliciousPackage   ThreatType = "malicious_package"
	ThreatMaliciousSignature ThreatType = "malicious_signature"
)

// EventKind names a telemetry event variant.
type EventKind string

const (
	EventSms        EventKind = "sms"
	EventCall       EventKind = "call"
	EventAppInstall EventKind = "app_install"
	EventUnknown    EventKind = "unknown"
)

// ThreatLevel is the discrete classification attached to verdicts.
type ThreatLevel string

const (
	ThreatSafe     ThreatLevel = "safe"
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

var levelRank = map[ThreatLevel]int{
	ThreatSafe:     0,
	ThreatLow:      1,
	ThreatMedium:   2,
	ThreatHigh:     3,
	ThreatCritical: 4,
}

// Rank orders levels from safe (0) to critical (4). Unknown levels rank as safe.
func (l ThreatLevel) Rank() int { return levelRank[l] }

// AtLeast reports whether l is as severe as other.
func (l ThreatLevel) AtLeast(other ThreatLevel) bool { return l.Rank() >= other.Rank() }

// Valid reports whether l is one of the five known levels.
func (l ThreatLevel) Valid() bool {
	_, ok := levelRank[l]
	return ok
}

// Score maps a level onto the [0,1] risk scale.
func (l ThreatLevel) Score() float64 {
	switch l {
	case ThreatCritical:
		return 1.0
	case ThreatHigh:
		return 0.8
	case ThreatMedium:
		return 0.5
	case ThreatLow:
		return 0.25
	default:
		return 0
	}
}

// Escalate returns the more severe of current and candidate. It never downgrades.
func Escalate(current, candidate ThreatLevel) ThreatLevel {
	if !current.Valid() {
		current = ThreatSafe
	}
	if candidate.Rank() > current.Rank() {
		return candidate
	}
	return current
}

// LevelForRisk buckets a risk score into a threat level.
func LevelForRisk(score float64) ThreatLevel {
	switch {
	case score >= 0.8:
		return ThreatHigh
	case score >= 0.5:
		return ThreatMedium
	case score > 0.2:
		return ThreatLow
	default:
		return ThreatSafe
	}
}

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
