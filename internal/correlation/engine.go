package correlation

import (
	"context"
	"net/url"
	"slices"
	"strings"

	"mtdguard/internal/common"
	"mtdguard/internal/metrics"
	"mtdguard/internal/mitre"
	"mtdguard/internal/telemetry"
	"mtdguard/internal/threat"
)

// Threat is one threat-intelligence match attached to an event.
type Threat struct {
	Type       common.ThreatType `json:"type"`
	Value      string            `json:"value,omitempty"`
	Confidence int               `json:"confidence"`
	Tags       []string          `json:"tags,omitempty"`
}

// SmsCorrelation is the threat-intelligence view of an SMS.
type SmsCorrelation struct {
	ThreatDetected bool                     `json:"threat_detected"`
	Threats        []Threat                 `json:"threats"`
	Techniques     []string                 `json:"mitre_techniques"`
	RiskScore      float64                  `json:"risk_score"`
	Indicators     []threat.IndicatorRecord `json:"-"`
}

// AppCorrelation is the threat-intelligence view of an app install.
type AppCorrelation struct {
	ThreatLevel common.ThreatLevel       `json:"threat_level"`
	Threats     []Threat                 `json:"threats"`
	Techniques  []string                 `json:"mitre_techniques"`
	Explanation string                   `json:"explanation"`
	Indicators  []threat.IndicatorRecord `json:"-"`
}

// CallCorrelation is the threat-intelligence view of a call.
type CallCorrelation struct {
	ThreatDetected bool                     `json:"threat_detected"`
	Threats        []Threat                 `json:"threats"`
	RiskScore      float64                  `json:"risk_score"`
	Indicators     []threat.IndicatorRecord `json:"-"`
}

// techniqueSpread is the number of permission-derived techniques above which
// an app without intelligence matches is still rated medium.
const techniqueSpread = 3

// Engine joins events with the indicator store and the technique catalog.
// Inactive indicators are ignored.
type Engine struct {
	store   threat.IndicatorStore
	catalog *mitre.Catalog
}

func NewEngine(store threat.IndicatorStore, catalog *mitre.Catalog) *Engine {
	return &Engine{store: store, catalog: catalog}
}

func (e *Engine) CorrelateSms(ctx context.Context, ev telemetry.SmsEvent) SmsCorrelation {
	out := SmsCorrelation{Threats: []Threat{}}
	techniques := newTechniqueSet()

	for _, rec := range e.store.BulkQuery(ctx, string(threat.TypeURL), ev.URLs) {
		if !e.match(rec) {
			continue
		}
		out.Threats = append(out.Threats, Threat{
			Type:       common.ThreatMaliciousURL,
			Value:      rec.Value,
			Confidence: rec.Confidence,
			Tags:       rec.Tags,
		})
		out.Indicators = append(out.Indicators, rec)
		techniques.add(rec.Techniques...)
	}

	for _, host := range urlHosts(ev.URLs) {
		rec, ok := e.lookup(ctx, threat.TypeDomain, host)
		if !ok {
			continue
		}
		out.Threats = append(out.Threats, Threat{
			Type:       common.ThreatMaliciousDomain,
			Value:      rec.Value,
			Confidence: rec.Confidence,
			Tags:       rec.Tags,
		})
		out.Indicators = append(out.Indicators, rec)
		techniques.add(rec.Techniques...)
	}

	if rec, ok := e.lookup(ctx, threat.TypePhone, ev.SenderHash); ok {
		out.Threats = append(out.Threats, Threat{Type: common.ThreatSpamNumber, Confidence: rec.Confidence})
		out.Indicators = append(out.Indicators, rec)
		techniques.add(rec.Techniques...)
	}

	techniques.add(e.catalog.MapSmsToTechniques(ev.URLs, ev.LocalScore)...)

	out.ThreatDetected = len(out.Threats) > 0
	out.Techniques = techniques.sorted()
	out.RiskScore = riskFromThreats(out.Threats)
	return out
}

func (e *Engine) CorrelateApp(ctx context.Context, ev telemetry.AppInstallEvent) AppCorrelation {
	out := AppCorrelation{Threats: []Threat{}}
	techniques := newTechniqueSet()

	if rec, ok := e.lookup(ctx, threat.TypePackage, ev.PackageName); ok {
		out.Threats = append(out.Threats, Threat{
			Type:       common.ThreatMaliciousPackage,
			Confidence: rec.Confidence,
			Tags:       rec.Tags,
		})
		out.Indicators = append(out.Indicators, rec)
		techniques.add(rec.Techniques...)
	}

	if rec, ok := e.lookup(ctx, threat.TypeHash, ev.SignatureDigest); ok {
		out.Threats = append(out.Threats, Threat{Type: common.ThreatMaliciousSignature, Confidence: rec.Confidence})
		out.Indicators = append(out.Indicators, rec)
		techniques.add(rec.Techniques...)
	}

	mapped := e.catalog.MapAppToTechniques(ev.Permissions)
	techniques.add(mapped...)

	switch {
	case len(out.Threats) > 0:
		out.ThreatLevel = common.ThreatCritical
	case len(mapped) > techniqueSpread:
		out.ThreatLevel = common.ThreatMedium
	default:
		out.ThreatLevel = common.ThreatSafe
	}

	out.Techniques = techniques.sorted()
	out.Explanation = e.catalog.DescribeTechniques(out.Techniques)
	return out
}

func (e *Engine) CorrelateCall(ctx context.Context, ev telemetry.CallEvent) CallCorrelation {
	out := CallCorrelation{Threats: []Threat{}}

	if rec, ok := e.lookup(ctx, threat.TypePhone, ev.CallerHash); ok {
		out.Threats = append(out.Threats, Threat{Type: common.ThreatSpamNumber, Confidence: rec.Confidence, Tags: rec.Tags})
		out.Indicators = append(out.Indicators, rec)
	}

	out.ThreatDetected = len(out.Threats) > 0
	out.RiskScore = riskFromThreats(out.Threats)
	return out
}

func (e *Engine) lookup(ctx context.Context, t threat.IndicatorType, value string) (threat.IndicatorRecord, bool) {
	if value == "" {
		return threat.IndicatorRecord{}, false
	}
	rec, ok := e.store.QueryIndicator(ctx, string(t), value)
	if !ok || !e.match(rec) {
		return threat.IndicatorRecord{}, false
	}
	return rec, true
}

// match filters out inactive records and counts the rest.
func (e *Engine) match(rec threat.IndicatorRecord) bool {
	if !rec.Active {
		return false
	}
	metrics.IndicatorMatches.WithLabelValues(string(rec.Type)).Inc()
	return true
}

// urlHosts returns the distinct lowercased hosts of urls in first-seen order,
// without port or a leading "www.". Scheme-less URLs are read as http.
func urlHosts(urls []string) []string {
	hosts := []string{}
	for _, raw := range urls {
		if !strings.Contains(raw, "://") {
			raw = "http://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		if host != "" && !slices.Contains(hosts, host) {
			hosts = append(hosts, host)
		}
	}
	return hosts
}

func riskFromThreats(threats []Threat) float64 {
	best := 0
	for _, t := range threats {
		best = max(best, t.Confidence)
	}
	return common.Clamp01(float64(best) / 100)
}

type techniqueSet map[string]struct{}

func newTechniqueSet() techniqueSet { return make(techniqueSet) }

func (s techniqueSet) add(ids ...string) {
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
}

func (s techniqueSet) sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
