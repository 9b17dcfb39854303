package correlation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"mtdguard/internal/common"
	"mtdguard/internal/detection"
	"mtdguard/internal/metrics"
	"mtdguard/internal/mitre"
	"mtdguard/internal/policy"
	"mtdguard/internal/rules"
	"mtdguard/internal/telemetry"
	"mtdguard/internal/threat"
)

// ErrUnknownEventKind is reported by callers that receive an event kind the
// analyzer does not handle. Analyze itself returns a neutral verdict.
var ErrUnknownEventKind = errors.New("unknown event kind")

// Verdict is the merged outcome for one event.
type Verdict struct {
	ID          string                   `json:"id"`
	EventID     string                   `json:"event_id,omitempty"`
	DeviceID    string                   `json:"device_id,omitempty"`
	Kind        common.EventKind         `json:"kind"`
	RiskScore   float64                  `json:"risk_score"`
	ThreatLevel common.ThreatLevel       `json:"threat_level"`
	Actionable  bool                     `json:"actionable"`
	Action      policy.ActionType        `json:"action"`
	PolicyRule  string                   `json:"policy_rule"`
	Reasons     []string                 `json:"reasons"`
	Techniques  []string                 `json:"mitre_techniques"`
	Indicators  []threat.IndicatorRecord `json:"indicators"`
	Explanation string                   `json:"explanation"`
	AnalyzedAt  time.Time                `json:"analyzed_at"`
}

// Deps are the components an Analyzer is assembled from. Nil components are
// replaced with defaults, except Store which is required.
type Deps struct {
	Store       threat.IndicatorStore
	Content     *detection.ContentScorer
	URLs        *detection.URLScorer
	Permissions *detection.PermissionScorer
	Rules       *rules.Matcher
	Catalog     *mitre.Catalog
	Policy      *policy.Engine
	Workers     int
}

// Analyzer runs every applicable scorer, the rule matcher and correlation
// for an event and merges the results. It is safe for concurrent use.
type Analyzer struct {
	content *detection.ContentScorer
	urls    *detection.URLScorer
	perms   *detection.PermissionScorer
	rules   *rules.Matcher
	catalog *mitre.Catalog
	engine  *Engine
	policy  *policy.Engine
	pool    *workerPool
	now     func() time.Time
}

func NewAnalyzer(d Deps) *Analyzer {
	if d.Content == nil {
		d.Content = detection.NewContentScorer()
	}
	if d.URLs == nil {
		d.URLs = detection.NewURLScorer()
	}
	if d.Permissions == nil {
		d.Permissions = detection.NewPermissionScorer()
	}
	if d.Rules == nil {
		d.Rules = rules.NewMatcher()
	}
	if d.Catalog == nil {
		d.Catalog = mitre.NewCatalog()
	}
	if d.Policy == nil {
		d.Policy = policy.NewEngine(policy.DefaultRules())
	}
	if d.Workers < 1 {
		d.Workers = 4
	}

	a := &Analyzer{
		content: d.Content,
		urls:    d.URLs,
		perms:   d.Permissions,
		rules:   d.Rules,
		catalog: d.Catalog,
		engine:  NewEngine(d.Store, d.Catalog),
		policy:  d.Policy,
		pool:    newWorkerPool(d.Workers, d.Workers*4),
		now:     time.Now,
	}
	a.pool.start()
	return a
}

// NewDefaultAnalyzer builds an analyzer with default components over store.
func NewDefaultAnalyzer(store threat.IndicatorStore) *Analyzer {
	return NewAnalyzer(Deps{Store: store})
}

// Close stops the batch workers and the URL cache sweeper.
func (a *Analyzer) Close() {
	a.pool.stop()
	a.urls.Close()
}

// Engine exposes the correlation engine.
func (a *Analyzer) Engine() *Engine { return a.engine }

// Catalog exposes the technique catalog.
func (a *Analyzer) Catalog() *mitre.Catalog { return a.catalog }

// Analyze dispatches on the event kind. Unknown kinds get a neutral verdict.
func (a *Analyzer) Analyze(ctx context.Context, ev telemetry.Event) Verdict {
	switch e := ev.(type) {
	case telemetry.SmsEvent:
		return a.AnalyzeSms(ctx, e)
	case *telemetry.SmsEvent:
		return a.AnalyzeSms(ctx, *e)
	case telemetry.AppInstallEvent:
		return a.AnalyzeApp(ctx, e)
	case *telemetry.AppInstallEvent:
		return a.AnalyzeApp(ctx, *e)
	case telemetry.CallEvent:
		return a.AnalyzeCall(ctx, e)
	case *telemetry.CallEvent:
		return a.AnalyzeCall(ctx, *e)
	default:
		slog.Debug("neutral verdict for unhandled event", "type", fmt.Sprintf("%T", ev))
		b := newBuilder(common.EventUnknown, "", "")
		return a.finish(b)
	}
}

// AnalyzeBatch analyzes events on the worker pool. Verdicts are returned in
// input order.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, events []telemetry.Event) []Verdict {
	out := make([]Verdict, len(events))
	done := make(chan struct{}, len(events))

	for i, ev := range events {
		a.pool.submit(func() {
			out[i] = a.Analyze(ctx, ev)
			done <- struct{}{}
		})
	}
	for range events {
		<-done
	}
	return out
}

func (a *Analyzer) AnalyzeSms(ctx context.Context, ev telemetry.SmsEvent) Verdict {
	b := newBuilder(common.EventSms, ev.ID, ev.DeviceID)

	if ev.Body != "" {
		c := a.content.Classify(ev.Body)
		b.risk(c.Confidence)
		b.reason(c.Features...)
	}

	for _, url := range ev.URLs {
		p := a.urls.Predict(url)
		b.risk(p.Confidence)
		b.reason(p.Reasons...)
	}

	r := a.rules.AnalyzeSms(ev.SenderHash, ev.URLs, ev.MessageLength)
	b.risk(r.RiskScore)
	b.reason(r.Reasons...)

	c := a.engine.CorrelateSms(ctx, ev)
	b.risk(c.RiskScore)
	b.threats(c.Threats)
	b.technique(c.Techniques...)
	b.indicators = append(b.indicators, c.Indicators...)
	if c.ThreatDetected {
		b.escalate(common.ThreatHigh)
	}

	return a.finish(b)
}

func (a *Analyzer) AnalyzeApp(ctx context.Context, ev telemetry.AppInstallEvent) Verdict {
	b := newBuilder(common.EventAppInstall, ev.ID, ev.DeviceID)

	r := a.rules.AnalyzeApp(ev.PackageName, ev.Permissions)
	b.escalate(r.ThreatLevel)
	b.risk(r.ThreatLevel.Score())
	b.reason(r.Reasons...)
	b.technique(r.Techniques...)

	p := a.perms.Analyze(ev.PackageName, ev.Permissions)
	b.risk(p.RiskScore)
	b.reason(p.Anomalies...)

	c := a.engine.CorrelateApp(ctx, ev)
	b.escalate(c.ThreatLevel)
	b.risk(c.ThreatLevel.Score())
	b.threats(c.Threats)
	b.technique(c.Techniques...)
	b.indicators = append(b.indicators, c.Indicators...)

	return a.finish(b)
}

func (a *Analyzer) AnalyzeCall(ctx context.Context, ev telemetry.CallEvent) Verdict {
	b := newBuilder(common.EventCall, ev.ID, ev.DeviceID)

	r := a.rules.AnalyzeCall(ev.CallerHash, string(ev.CallType))
	b.risk(r.RiskScore)
	b.reason(r.Reasons...)

	c := a.engine.CorrelateCall(ctx, ev)
	b.risk(c.RiskScore)
	b.threats(c.Threats)
	b.indicators = append(b.indicators, c.Indicators...)
	if c.ThreatDetected {
		b.escalate(common.ThreatHigh)
	}

	return a.finish(b)
}

// verdictBuilder accumulates partial results for one event.
type verdictBuilder struct {
	start      time.Time
	kind       common.EventKind
	eventID    string
	deviceID   string
	riskScore  float64
	level      common.ThreatLevel
	reasons    []string
	techniques techniqueSet
	indicators []threat.IndicatorRecord
}

func newBuilder(kind common.EventKind, eventID, deviceID string) *verdictBuilder {
	return &verdictBuilder{
		start:      time.Now(),
		kind:       kind,
		eventID:    eventID,
		deviceID:   deviceID,
		level:      common.ThreatSafe,
		reasons:    []string{},
		techniques: newTechniqueSet(),
	}
}

func (b *verdictBuilder) risk(score float64) {
	b.riskScore = max(b.riskScore, common.Clamp01(score))
}

func (b *verdictBuilder) escalate(level common.ThreatLevel) {
	b.level = common.Escalate(b.level, level)
}

func (b *verdictBuilder) reason(reasons ...string) {
	for _, r := range reasons {
		if r != "" && !slices.Contains(b.reasons, r) {
			b.reasons = append(b.reasons, r)
		}
	}
}

func (b *verdictBuilder) technique(ids ...string) { b.techniques.add(ids...) }

func (b *verdictBuilder) threats(threats []Threat) {
	for _, t := range threats {
		if t.Value != "" {
			b.reason(fmt.Sprintf("Threat intelligence match: %s %s (confidence %d)", t.Type, t.Value, t.Confidence))
		} else {
			b.reason(fmt.Sprintf("Threat intelligence match: %s (confidence %d)", t.Type, t.Confidence))
		}
	}
}

func (a *Analyzer) finish(b *verdictBuilder) Verdict {
	b.escalate(common.LevelForRisk(b.riskScore))
	techniques := b.techniques.sorted()

	indicators := b.indicators
	if indicators == nil {
		indicators = []threat.IndicatorRecord{}
	}

	v := Verdict{
		ID:          uuid.NewString(),
		EventID:     b.eventID,
		DeviceID:    b.deviceID,
		Kind:        b.kind,
		RiskScore:   b.riskScore,
		ThreatLevel: b.level,
		Reasons:     b.reasons,
		Techniques:  techniques,
		Indicators:  indicators,
		Explanation: a.catalog.DescribeTechniques(techniques),
		AnalyzedAt:  a.now().UTC(),
	}

	d := a.policy.Decide(policy.Input{
		Kind:        v.Kind,
		RiskScore:   v.RiskScore,
		ThreatLevel: v.ThreatLevel,
		Techniques:  v.Techniques,
	})
	v.Action = d.Action
	v.PolicyRule = d.RuleID
	v.Actionable = d.Action != policy.ActionAllow

	metrics.VerdictsTotal.WithLabelValues(string(v.Kind), string(v.ThreatLevel)).Inc()
	metrics.DetectionDuration.WithLabelValues(string(v.Kind)).Observe(time.Since(b.start).Seconds())
	return v
}
