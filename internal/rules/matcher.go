package rules

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"mtdguard/internal/common"
)

// Technique ids attributed by the static rules.
const (
	TechniqueMaliciousApp     = "T1478"
	TechniqueLocationTracking = "T1430"
)

// URLPatternConfig describes one phishing indicator matched against SMS URLs.
type URLPatternConfig struct {
	Name        string
	Pattern     string
	Weight      float64
	Description string
}

type compiledURLPattern struct {
	URLPatternConfig
	regex *regexp.Regexp
}

var phishingURLPatterns = []URLPatternConfig{
	{Name: "bitly", Pattern: `bit\.ly`, Weight: 0.3, Description: "URL shortener"},
	{Name: "tinyurl", Pattern: `tinyurl\.com`, Weight: 0.3, Description: "URL shortener"},
	{Name: "googl", Pattern: `goo\.gl`, Weight: 0.3, Description: "URL shortener"},
	{Name: "login_verify", Pattern: `login.*verify`, Weight: 0.3, Description: "credential harvesting path"},
	{Name: "secure_account", Pattern: `secure.*account`, Weight: 0.3, Description: "account takeover lure"},
	{Name: "urgent_action", Pattern: `urgent.*action`, Weight: 0.3, Description: "urgency lure"},
}

var maliciousPackagePrefixes = []string{
	"com.example.malware",
	"com.fake.bank",
}

var riskyPermissionCombos = [][]string{
	{common.PermReadSMS, common.PermSendSMS, common.PermInternet},
	{common.PermCamera, common.PermRecordAudio, common.PermFineLocation},
}

const (
	shortMessageLength      = 50
	shortMessageWeight      = 0.2
	smsThreatThreshold      = 0.5
	excessivePermissionApps = 20
)

// SmsRuleResult is the static rule outcome for an SMS.
type SmsRuleResult struct {
	RiskScore      float64  `json:"risk_score"`
	ThreatDetected bool     `json:"threat_detected"`
	Reasons        []string `json:"reasons"`
}

// AppRuleResult is the static rule outcome for an app install.
type AppRuleResult struct {
	ThreatLevel common.ThreatLevel `json:"threat_level"`
	Reasons     []string           `json:"reasons"`
	Techniques  []string           `json:"mitre_techniques"`
}

// CallRuleResult is the static rule outcome for a call. Calls carry no
// static signal, so it is always neutral.
type CallRuleResult struct {
	RiskScore float64  `json:"risk_score"`
	IsSpam    bool     `json:"is_spam"`
	Reasons   []string `json:"reasons"`
}

// Matcher applies fixed pattern, package and permission rules. It is
// immutable after construction and safe for concurrent use.
type Matcher struct {
	urlPatterns []compiledURLPattern
	prefixes    []string
	combos      [][]string
}

func NewMatcher() *Matcher {
	m := &Matcher{
		prefixes: maliciousPackagePrefixes,
		combos:   riskyPermissionCombos,
	}
	for _, cfg := range phishingURLPatterns {
		m.urlPatterns = append(m.urlPatterns, compiledURLPattern{
			URLPatternConfig: cfg,
			regex:            regexp.MustCompile(`(?i)` + cfg.Pattern),
		})
	}
	return m
}

// AnalyzeSms scores the URLs carried by an SMS. Sender reputation is an
// indicator store lookup, not a static rule, so senderHash is unused.
func (m *Matcher) AnalyzeSms(senderHash string, urls []string, messageLength int) SmsRuleResult {
	score := 0.0
	reasons := []string{}

	for _, url := range urls {
		for _, p := range m.urlPatterns {
			if p.regex.MatchString(url) {
				score += p.Weight
				reasons = append(reasons, fmt.Sprintf("Suspicious URL pattern: %s", p.Pattern))
			}
		}
	}

	if len(urls) > 0 && messageLength < shortMessageLength {
		score += shortMessageWeight
		reasons = append(reasons, "Short message with URL")
	}

	return SmsRuleResult{
		RiskScore:      common.Clamp01(score),
		ThreatDetected: score > smsThreatThreshold,
		Reasons:        reasons,
	}
}

// AnalyzeApp checks the package name, then permission combinations, then the
// permission count. A later rule never lowers the level set by an earlier one.
func (m *Matcher) AnalyzeApp(packageName string, permissions []string) AppRuleResult {
	level := common.ThreatSafe
	reasons := []string{}
	var techniques []string

	for _, prefix := range m.prefixes {
		if strings.HasPrefix(packageName, prefix) {
			level = common.Escalate(level, common.ThreatCritical)
			reasons = append(reasons, fmt.Sprintf("Known malicious package (prefix %s)", prefix))
			techniques = appendUnique(techniques, TechniqueMaliciousApp)
		}
	}

	perms := common.NewPermissionSet(permissions)
	for _, combo := range m.combos {
		if perms.HasAll(combo...) {
			level = common.Escalate(level, common.ThreatMedium)
			reasons = append(reasons, "Risky permission combination detected")
			techniques = appendUnique(techniques, TechniqueLocationTracking)
		}
	}

	if len(perms) > excessivePermissionApps {
		level = common.Escalate(level, common.ThreatLow)
		reasons = append(reasons, "Excessive permissions requested")
	}

	if techniques == nil {
		techniques = []string{}
	}
	return AppRuleResult{
		ThreatLevel: level,
		Reasons:     reasons,
		Techniques:  techniques,
	}
}

// AnalyzeCall always returns a neutral result.
func (m *Matcher) AnalyzeCall(callerHash, callType string) CallRuleResult {
	return CallRuleResult{RiskScore: 0, IsSpam: false, Reasons: []string{}}
}

func appendUnique(list []string, id string) []string {
	if slices.Contains(list, id) {
		return list
	}
	return append(list, id)
}
