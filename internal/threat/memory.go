package threat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/willf/bloom"

	"mtdguard/internal/metrics"
)

const (
	bloomExpectedItems = 1_000_000
	bloomFalsePositive = 0.001
)

// MemoryStore is an in-process IndicatorStore. Readers share an RWMutex and
// always receive copies, so a concurrent writer is never observed mid-update.
// A bloom filter over "type|value" answers most misses without touching the
// maps.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[IndicatorType]map[string]IndicatorRecord
	filter  *bloom.BloomFilter
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		records: make(map[IndicatorType]map[string]IndicatorRecord, len(indicatorTypes)),
		filter:  bloom.NewWithEstimates(bloomExpectedItems, bloomFalsePositive),
		now:     time.Now,
	}
	for _, t := range indicatorTypes {
		s.records[t] = make(map[string]IndicatorRecord)
	}
	return s
}

func filterKey(t IndicatorType, value string) []byte {
	return []byte(string(t) + "|" + value)
}

func (s *MemoryStore) AddIndicator(ctx context.Context, typ, value string, meta IndicatorMeta) bool {
	t, ok := ParseIndicatorType(typ)
	if !ok {
		slog.Debug("rejecting indicator with unknown type", "type", typ)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var prev *IndicatorRecord
	if existing, found := s.records[t][value]; found {
		prev = &existing
	}
	s.records[t][value] = mergeRecord(t, value, meta, prev, s.now().UTC())
	s.filter.Add(filterKey(t, value))
	return true
}

func (s *MemoryStore) QueryIndicator(ctx context.Context, typ, value string) (IndicatorRecord, bool) {
	t, ok := ParseIndicatorType(typ)
	if !ok {
		return IndicatorRecord{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(t, value)
}

// lookup expects s.mu to be held.
func (s *MemoryStore) lookup(t IndicatorType, value string) (IndicatorRecord, bool) {
	if !s.filter.Test(filterKey(t, value)) {
		metrics.BloomNegatives.WithLabelValues(string(t)).Inc()
		return IndicatorRecord{}, false
	}
	rec, found := s.records[t][value]
	if !found {
		return IndicatorRecord{}, false
	}
	return rec.clone(), true
}

func (s *MemoryStore) BulkQuery(ctx context.Context, typ string, values []string) []IndicatorRecord {
	out := []IndicatorRecord{}
	t, ok := ParseIndicatorType(typ)
	if !ok {
		return out
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range values {
		if rec, found := s.lookup(t, v); found {
			out = append(out, rec)
		}
	}
	return out
}

func (s *MemoryStore) Stats(ctx context.Context) StoreStats {
	stats := emptyStats()

	s.mu.RLock()
	defer s.mu.RUnlock()
	for t, m := range s.records {
		stats.ByType[t] = len(m)
		stats.Total += len(m)
	}
	return stats
}

// Deactivate marks a record inactive. Records are never removed.
func (s *MemoryStore) Deactivate(ctx context.Context, typ, value string) bool {
	t, ok := ParseIndicatorType(typ)
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, found := s.records[t][value]
	if !found {
		return false
	}
	rec.Active = false
	s.records[t][value] = rec
	return true
}
