package correlation

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mtdguard/internal/common"
	"mtdguard/internal/mitre"
	"mtdguard/internal/policy"
	"mtdguard/internal/telemetry"
	"mtdguard/internal/threat"
)

func newTestAnalyzer(t *testing.T) (*Analyzer, *threat.MemoryStore) {
	t.Helper()
	store := threat.NewMemoryStore()
	threat.SeedIndicators(context.Background(), store)
	a := NewAnalyzer(Deps{Store: store, Workers: 3})
	t.Cleanup(a.Close)
	return a, store
}

func TestAnalyzeSmsSmishing(t *testing.T) {
	a, _ := newTestAnalyzer(t)
	body := "URGENTE: tu cuenta ha sido suspendida, haz clic aquí para verificar http://bit.ly/x"

	v := a.AnalyzeSms(context.Background(), telemetry.SmsEvent{
		ID:            "sms-1",
		DeviceID:      "dev-1",
		SenderHash:    "s1",
		URLs:          []string{"http://bit.ly/x"},
		MessageLength: len([]rune(body)),
		Body:          body,
		LocalScore:    0.7,
	})

	assert.Equal(t, common.EventSms, v.Kind)
	assert.Equal(t, "sms-1", v.EventID)
	assert.InDelta(t, 0.875, v.RiskScore, 1e-9)
	assert.Equal(t, common.ThreatHigh, v.ThreatLevel)
	assert.Equal(t, policy.ActionBlock, v.Action)
	assert.True(t, v.Actionable)
	assert.Equal(t, []string{mitre.DeliverMaliciousApp}, v.Techniques)
	assert.Equal(t, "Detected: Deliver Malicious App via Other Means (T1476)", v.Explanation)
	assert.Equal(t, "Contains 2 urgency keywords", v.Reasons[0])
	assert.Contains(t, v.Reasons, "Suspicious URL pattern: bit\\.ly")
	assert.NotEmpty(t, v.ID)
}

func TestAnalyzeSmsIndicatorMatchEscalates(t *testing.T) {
	a, store := newTestAnalyzer(t)
	ctx := context.Background()
	store.AddIndicator(ctx, "url", "https://example.org/pay", threat.IndicatorMeta{Confidence: intPtr(40)})

	v := a.AnalyzeSms(ctx, telemetry.SmsEvent{
		SenderHash:    "s1",
		URLs:          []string{"https://example.org/pay"},
		MessageLength: 120,
	})

	assert.InDelta(t, 0.4, v.RiskScore, 1e-9)
	assert.Equal(t, common.ThreatHigh, v.ThreatLevel, "an intelligence hit is at least high")
	assert.Contains(t, v.Reasons, "Threat intelligence match: malicious_url https://example.org/pay (confidence 40)")
	assert.Len(t, v.Indicators, 1)
	assert.Equal(t, policy.ActionAlert, v.Action)
}

func TestAnalyzeAppKnownMaliciousPackage(t *testing.T) {
	a, _ := newTestAnalyzer(t)

	v := a.AnalyzeApp(context.Background(), telemetry.AppInstallEvent{
		PackageName: "com.fake.bank",
		Permissions: []string{common.PermInternet},
	})

	assert.Equal(t, common.ThreatCritical, v.ThreatLevel)
	assert.Equal(t, 1.0, v.RiskScore)
	assert.Equal(t, []string{mitre.CaptureSMS, mitre.InstallMaliciousApp}, v.Techniques)
	assert.Equal(t, policy.ActionBlock, v.Action)
	assert.Equal(t, "critical-block", v.PolicyRule)
	assert.Contains(t, v.Reasons, "Threat intelligence match: malicious_package (confidence 90)")
	require.Len(t, v.Indicators, 1)
	assert.Equal(t, "com.fake.bank", v.Indicators[0].Value)
}

func TestAnalyzeAppPermissionRisk(t *testing.T) {
	a, _ := newTestAnalyzer(t)

	v := a.AnalyzeApp(context.Background(), telemetry.AppInstallEvent{
		PackageName: "com.social.app",
		Permissions: []string{
			"INTERNET", "READ_SMS", "CAMERA", "RECORD_AUDIO",
			"ACCESS_FINE_LOCATION", "READ_CONTACTS", "READ_CALL_LOG",
		},
	})

	assert.GreaterOrEqual(t, v.RiskScore, 0.9-1e-9)
	assert.Equal(t, common.ThreatHigh, v.ThreatLevel)
	assert.Equal(t, policy.ActionBlock, v.Action)
	assert.Equal(t, []string{
		"Risky permission combination detected",
		"Requests 5 critical permissions",
		"Can read SMS and send data over network (exfiltration risk)",
	}, v.Reasons)
	assert.Equal(t, []string{mitre.CaptureSMS, mitre.LocationTracking, mitre.AccessContactList, mitre.AccessCallLog}, v.Techniques)
}

func TestAnalyzeCallIsNeutralWithoutIntel(t *testing.T) {
	a, store := newTestAnalyzer(t)
	ctx := context.Background()

	v := a.AnalyzeCall(ctx, telemetry.CallEvent{CallerHash: "c1", CallType: telemetry.CallMissed})
	assert.Zero(t, v.RiskScore)
	assert.Equal(t, common.ThreatSafe, v.ThreatLevel)
	assert.Equal(t, policy.ActionAllow, v.Action)
	assert.False(t, v.Actionable)
	assert.Empty(t, v.Reasons)
	assert.Equal(t, "No specific threats identified.", v.Explanation)

	store.AddIndicator(ctx, "phone", "c1", threat.IndicatorMeta{Confidence: intPtr(85)})
	v = a.AnalyzeCall(ctx, telemetry.CallEvent{CallerHash: "c1", CallType: telemetry.CallMissed})
	assert.InDelta(t, 0.85, v.RiskScore, 1e-9)
	assert.Equal(t, common.ThreatHigh, v.ThreatLevel)
	assert.Equal(t, policy.ActionBlock, v.Action)
}

type otherEvent struct{}

func (otherEvent) Kind() common.EventKind { return "mms" }
func (otherEvent) EventID() string        { return "x" }

func TestAnalyzeUnknownKindIsNeutral(t *testing.T) {
	a, _ := newTestAnalyzer(t)

	v := a.Analyze(context.Background(), otherEvent{})

	assert.Equal(t, common.EventUnknown, v.Kind)
	assert.Zero(t, v.RiskScore)
	assert.Equal(t, common.ThreatSafe, v.ThreatLevel)
	assert.False(t, v.Actionable)
}

func TestAnalyzeBatchPreservesOrder(t *testing.T) {
	a, _ := newTestAnalyzer(t)

	var events []telemetry.Event
	for i := 0; i < 50; i++ {
		switch i % 3 {
		case 0:
			events = append(events, telemetry.SmsEvent{ID: fmt.Sprintf("e%d", i), SenderHash: "s"})
		case 1:
			events = append(events, &telemetry.AppInstallEvent{ID: fmt.Sprintf("e%d", i), PackageName: "com.fake.bank"})
		default:
			events = append(events, telemetry.CallEvent{ID: fmt.Sprintf("e%d", i), CallerHash: "c"})
		}
	}

	verdicts := a.AnalyzeBatch(context.Background(), events)

	require.Len(t, verdicts, len(events))
	for i, v := range verdicts {
		assert.Equal(t, fmt.Sprintf("e%d", i), v.EventID)
		assert.Equal(t, events[i].Kind(), v.Kind)
	}
	assert.Equal(t, common.ThreatCritical, verdicts[1].ThreatLevel)
}

func TestAnalyzeBatchAfterClose(t *testing.T) {
	store := threat.NewMemoryStore()
	a := NewDefaultAnalyzer(store)
	a.Close()

	verdicts := a.AnalyzeBatch(context.Background(), []telemetry.Event{telemetry.CallEvent{ID: "c"}})

	require.Len(t, verdicts, 1)
	assert.Equal(t, "c", verdicts[0].EventID)
}

func TestVerdictInvariants(t *testing.T) {
	a, _ := newTestAnalyzer(t)
	ctx := context.Background()

	verdicts := []Verdict{
		a.AnalyzeSms(ctx, telemetry.SmsEvent{SenderHash: "s", URLs: []string{"http://10.0.0.1/a-a-a-a-a/update.tk"}, MessageLength: 5, Body: "winner prize now click here verify account"}),
		a.AnalyzeApp(ctx, telemetry.AppInstallEvent{PackageName: "com.example.malware.x"}),
	}
	for _, v := range verdicts {
		assert.GreaterOrEqual(t, v.RiskScore, 0.0)
		assert.LessOrEqual(t, v.RiskScore, 1.0)
		assert.True(t, v.ThreatLevel.AtLeast(common.LevelForRisk(v.RiskScore)))
		assert.Equal(t, v.Action != policy.ActionAllow, v.Actionable)
		assert.IsNonDecreasing(t, v.Techniques)
	}
}
