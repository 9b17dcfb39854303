package detection

import (
	"fmt"
	"strings"

	"mtdguard/internal/common"
)

// App categories inferred from package names.
const (
	AppCategoryCalculator = "calculator"
	AppCategoryFlashlight = "flashlight"
	AppCategoryGame       = "game"
	AppCategorySocial     = "social"
	AppCategoryUnknown    = "unknown"
)

// PermissionAnalysis is the PermissionScorer output for one app.
type PermissionAnalysis struct {
	RiskScore           float64  `json:"risk_score"`
	IsAnomalous         bool     `json:"is_anomalous"`
	Anomalies           []string `json:"anomalies"`
	CriticalPermissions []string `json:"critical_permissions"`
	Category            string   `json:"category"`
}

type categoryMatcher struct {
	category  string
	fragments []string
}

// First match wins.
var categoryMatchers = []categoryMatcher{
	{AppCategoryCalculator, []string{"calculator"}},
	{AppCategoryFlashlight, []string{"flashlight", "torch"}},
	{AppCategoryGame, []string{"game"}},
	{AppCategorySocial, []string{"facebook", "twitter", "instagram", "whatsapp"}},
}

var categoryBaselines = map[string]common.PermissionSet{
	AppCategoryCalculator: common.NewPermissionSet([]string{common.PermInternet}),
	AppCategoryFlashlight: common.NewPermissionSet([]string{common.PermCamera, common.PermFlashlight}),
	AppCategoryGame: common.NewPermissionSet([]string{
		common.PermInternet,
		common.PermAccessNetworkState,
		common.PermVibrate,
	}),
	AppCategorySocial: common.NewPermissionSet([]string{
		common.PermInternet,
		common.PermCamera,
		common.PermRecordAudio,
		common.PermReadContacts,
		common.PermFineLocation,
	}),
}

var criticalPermissions = common.NewPermissionSet([]string{
	common.PermReadSMS,
	common.PermSendSMS,
	common.PermReadCallLog,
	common.PermProcessOutgoingCalls,
	common.PermRecordAudio,
	common.PermCamera,
	common.PermFineLocation,
})

const (
	excessivePermissionCount = 15
	anomalyThreshold         = 0.5
)

// PermissionScorer flags permission sets that deviate from what an app of
// its inferred category needs.
type PermissionScorer struct{}

func NewPermissionScorer() *PermissionScorer { return &PermissionScorer{} }

// Analyze scores the permission set requested by packageName.
func (s *PermissionScorer) Analyze(packageName string, permissions []string) PermissionAnalysis {
	perms := common.NewPermissionSet(permissions)
	category := InferCategory(packageName)

	var anomalies []string
	score := 0.0

	if len(perms) > excessivePermissionCount {
		score += 0.2
		anomalies = append(anomalies, "Excessive permissions requested")
	}

	critical := []string{}
	for _, p := range perms.Sorted() {
		if criticalPermissions.Has(p) {
			critical = append(critical, p)
		}
	}
	if len(critical) > 0 {
		score += 0.1 * float64(len(critical))
		anomalies = append(anomalies, fmt.Sprintf("Requests %d critical permissions", len(critical)))
	}

	if baseline, ok := categoryBaselines[category]; ok {
		for p := range perms {
			if !baseline.Has(p) {
				score += 0.3
				anomalies = append(anomalies, fmt.Sprintf("Unexpected permissions for %s app", category))
				break
			}
		}
	}

	if perms.HasAll(common.PermReadSMS, common.PermInternet) {
		score += 0.4
		anomalies = append(anomalies, "Can read SMS and send data over network (exfiltration risk)")
	}

	return PermissionAnalysis{
		RiskScore:           common.Clamp01(score),
		IsAnomalous:         score > anomalyThreshold,
		Anomalies:           anomalies,
		CriticalPermissions: critical,
		Category:            category,
	}
}

// InferCategory guesses an app category from its package name.
func InferCategory(packageName string) string {
	lower := strings.ToLower(packageName)
	for _, m := range categoryMatchers {
		for _, frag := range m.fragments {
			if strings.Contains(lower, frag) {
				return m.category
			}
		}
	}
	return AppCategoryUnknown
}
