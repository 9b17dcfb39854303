package threat

import (
	"context"
	"slices"
	"time"
)

// IndicatorType is the kind of observable an indicator describes.
type IndicatorType string

const (
	TypeDomain  IndicatorType = "domain"
	TypeURL     IndicatorType = "url"
	TypeHash    IndicatorType = "hash"
	TypePhone   IndicatorType = "phone"
	TypePackage IndicatorType = "package"
)

var indicatorTypes = []IndicatorType{TypeDomain, TypeURL, TypeHash, TypePhone, TypePackage}

// IndicatorTypes returns the recognized indicator types.
func IndicatorTypes() []IndicatorType { return slices.Clone(indicatorTypes) }

// ParseIndicatorType reports whether s names a recognized type.
func ParseIndicatorType(s string) (IndicatorType, bool) {
	t := IndicatorType(s)
	return t, slices.Contains(indicatorTypes, t)
}

const (
	DefaultConfidence = 50
	DefaultSource     = "unknown"
)

// IndicatorRecord is one indicator of compromise. Value is unique within Type.
type IndicatorRecord struct {
	Type       IndicatorType `json:"type"`
	Value      string        `json:"value"`
	Confidence int           `json:"confidence"`
	Source     string        `json:"source"`
	Tags       []string      `json:"tags"`
	Techniques []string      `json:"mitre_techniques"`
	FirstSeen  time.Time     `json:"first_seen"`
	LastSeen   time.Time     `json:"last_seen"`
	Active     bool          `json:"active"`
}

func (r IndicatorRecord) clone() IndicatorRecord {
	r.Tags = slices.Clone(r.Tags)
	r.Techniques = slices.Clone(r.Techniques)
	return r
}

// IndicatorMeta carries the optional fields of an AddIndicator call. Nil or
// empty fields keep the stored value on an update and take the defaults on
// insert.
type IndicatorMeta struct {
	Confidence *int       `json:"confidence,omitempty" validate:"omitempty,min=0,max=100"`
	Source     string     `json:"source,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	Techniques []string   `json:"mitre_techniques,omitempty"`
	FirstSeen  *time.Time `json:"first_seen,omitempty"`
	Active     *bool      `json:"active,omitempty"`
}

// IndicatorInput is an indicator as produced by a feed or posted by an
// operator, before it is merged into a store.
type IndicatorInput struct {
	Type  string `json:"type" validate:"required"`
	Value string `json:"value" validate:"required,max=4096"`
	IndicatorMeta
}

// StoreStats summarizes store contents.
type StoreStats struct {
	Total  int                   `json:"total_iocs"`
	ByType map[IndicatorType]int `json:"by_type"`
}

// IndicatorStore is the IOC repository shared by correlation and ingestion.
// Operations never fail hard: unknown types and storage errors surface as a
// false return or a miss.
type IndicatorStore interface {
	AddIndicator(ctx context.Context, typ, value string, meta IndicatorMeta) bool
	QueryIndicator(ctx context.Context, typ, value string) (IndicatorRecord, bool)
	BulkQuery(ctx context.Context, typ string, values []string) []IndicatorRecord
	Stats(ctx context.Context) StoreStats
	Deactivate(ctx context.Context, typ, value string) bool
}

// Source produces indicators for the ETL controller.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]IndicatorInput, error)
}

// mergeRecord builds the record stored for (typ, value) given the previous
// record, if any.
func mergeRecord(typ IndicatorType, value string, meta IndicatorMeta, prev *IndicatorRecord, now time.Time) IndicatorRecord {
	rec := IndicatorRecord{
		Type:       typ,
		Value:      value,
		Confidence: DefaultConfidence,
		Source:     DefaultSource,
		Tags:       []string{},
		Techniques: []string{},
		FirstSeen:  now,
		Active:     true,
	}
	if prev != nil {
		rec = prev.clone()
	}
	rec.LastSeen = now

	if meta.Confidence != nil {
		rec.Confidence = clampConfidence(*meta.Confidence)
	}
	if meta.Source != "" {
		rec.Source = meta.Source
	}
	if meta.Tags != nil {
		rec.Tags = slices.Clone(meta.Tags)
	}
	if meta.Techniques != nil {
		rec.Techniques = slices.Clone(meta.Techniques)
	}
	if meta.FirstSeen != nil {
		rec.FirstSeen = *meta.FirstSeen
	}
	if meta.Active != nil {
		rec.Active = *meta.Active
	}
	return rec
}

func clampConfidence(c int) int {
	return min(max(c, 0), 100)
}

func emptyStats() StoreStats {
	s := StoreStats{ByType: make(map[IndicatorType]int, len(indicatorTypes))}
	for _, t := range indicatorTypes {
		s.ByType[t] = 0
	}
	return s
}
