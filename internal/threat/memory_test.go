package threat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(s *MemoryStore) *time.Time {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return &now
}

func TestMemoryStoreAddAndQuery(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	ok := s.AddIndicator(ctx, "url", "http://evil.example/login", IndicatorMeta{
		Confidence: intPtr(77),
		Source:     "test",
		Tags:       []string{"phishing"},
		Techniques: []string{"T1476"},
	})
	require.True(t, ok)

	rec, found := s.QueryIndicator(ctx, "url", "http://evil.example/login")
	require.True(t, found)
	assert.Equal(t, 77, rec.Confidence)
	assert.Equal(t, "test", rec.Source)
	assert.Equal(t, []string{"phishing"}, rec.Tags)
	assert.Equal(t, []string{"T1476"}, rec.Techniques)
	assert.True(t, rec.Active)
	assert.Equal(t, TypeURL, rec.Type)
}

func TestMemoryStoreDefaults(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.True(t, s.AddIndicator(ctx, "phone", "abc123", IndicatorMeta{}))
	rec, found := s.QueryIndicator(ctx, "phone", "abc123")
	require.True(t, found)
	assert.Equal(t, DefaultConfidence, rec.Confidence)
	assert.Equal(t, DefaultSource, rec.Source)
	assert.NotNil(t, rec.Tags)
	assert.NotNil(t, rec.Techniques)
}

func TestMemoryStoreUnknownType(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	assert.False(t, s.AddIndicator(ctx, "ipv6", "::1", IndicatorMeta{}))
	assert.Zero(t, s.Stats(ctx).Total)

	_, found := s.QueryIndicator(ctx, "ipv6", "::1")
	assert.False(t, found)
	assert.Empty(t, s.BulkQuery(ctx, "ipv6", []string{"::1"}))
	assert.False(t, s.Deactivate(ctx, "ipv6", "::1"))
}

func TestMemoryStoreReAddUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := fixedClock(s)
	first := *now

	require.True(t, s.AddIndicator(ctx, "domain", "bad.example", IndicatorMeta{Confidence: intPtr(40), Tags: []string{"a"}}))
	*now = now.Add(time.Hour)
	require.True(t, s.AddIndicator(ctx, "domain", "bad.example", IndicatorMeta{Confidence: intPtr(80), Source: "feed"}))

	stats := s.Stats(ctx)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByType[TypeDomain])

	rec, _ := s.QueryIndicator(ctx, "domain", "bad.example")
	assert.Equal(t, 80, rec.Confidence)
	assert.Equal(t, "feed", rec.Source)
	assert.Equal(t, []string{"a"}, rec.Tags)
	assert.Equal(t, first, rec.FirstSeen)
	assert.Equal(t, *now, rec.LastSeen)

	supplied := first.Add(-24 * time.Hour)
	s.AddIndicator(ctx, "domain", "bad.example", IndicatorMeta{FirstSeen: &supplied})
	rec, _ = s.QueryIndicator(ctx, "domain", "bad.example")
	assert.Equal(t, supplied, rec.FirstSeen)
	assert.Equal(t, 80, rec.Confidence)
}

func TestMemoryStoreClampsConfidence(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	s.AddIndicator(ctx, "hash", "h1", IndicatorMeta{Confidence: intPtr(150)})
	s.AddIndicator(ctx, "hash", "h2", IndicatorMeta{Confidence: intPtr(-5)})

	r1, _ := s.QueryIndicator(ctx, "hash", "h1")
	r2, _ := s.QueryIndicator(ctx, "hash", "h2")
	assert.Equal(t, 100, r1.Confidence)
	assert.Equal(t, 0, r2.Confidence)
}

func TestMemoryStoreBulkQueryPreservesOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.AddIndicator(ctx, "url", "u1", IndicatorMeta{})
	s.AddIndicator(ctx, "url", "u3", IndicatorMeta{})

	got := s.BulkQuery(ctx, "url", []string{"u3", "missing", "u1"})

	require.Len(t, got, 2)
	assert.Equal(t, "u3", got[0].Value)
	assert.Equal(t, "u1", got[1].Value)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.AddIndicator(ctx, "package", "com.x", IndicatorMeta{Tags: []string{"trojan"}})

	rec, _ := s.QueryIndicator(ctx, "package", "com.x")
	rec.Tags[0] = "changed"

	again, _ := s.QueryIndicator(ctx, "package", "com.x")
	assert.Equal(t, "trojan", again.Tags[0])
}

func TestMemoryStoreDeactivate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.AddIndicator(ctx, "package", "com.x", IndicatorMeta{})

	assert.False(t, s.Deactivate(ctx, "package", "com.y"))
	require.True(t, s.Deactivate(ctx, "package", "com.x"))

	rec, found := s.QueryIndicator(ctx, "package", "com.x")
	require.True(t, found)
	assert.False(t, rec.Active)
	assert.Equal(t, 1, s.Stats(ctx).Total)

	s.AddIndicator(ctx, "package", "com.x", IndicatorMeta{Confidence: intPtr(60)})
	rec, _ = s.QueryIndicator(ctx, "package", "com.x")
	assert.False(t, rec.Active, "a sighting does not reactivate")
}

func TestMemoryStoreStatsListsEveryType(t *testing.T) {
	stats := NewMemoryStore().Stats(context.Background())

	assert.Zero(t, stats.Total)
	assert.Len(t, stats.ByType, len(IndicatorTypes()))
}

func TestMemoryStoreConcurrentReadersAndWriters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s.AddIndicator(ctx, "url", fmt.Sprintf("u%d", i), IndicatorMeta{
					Confidence: intPtr(w * 10),
					Tags:       []string{fmt.Sprintf("w%d", w)},
				})
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if rec, ok := s.QueryIndicator(ctx, "url", fmt.Sprintf("u%d", i)); ok {
					assert.Equal(t, fmt.Sprintf("w%d", rec.Confidence/10), rec.Tags[0])
				}
				_ = s.Stats(ctx)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, s.Stats(ctx).Total)
}

func TestSeedIndicators(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	assert.Equal(t, 2, SeedIndicators(ctx, s))

	pkg, found := s.QueryIndicator(ctx, "package", "com.fake.bank")
	require.True(t, found)
	assert.Equal(t, 90, pkg.Confidence)
	assert.Equal(t, []string{"T1478", "T1412"}, pkg.Techniques)

	dom, found := s.QueryIndicator(ctx, "domain", "malicious-phishing.com")
	require.True(t, found)
	assert.Equal(t, 95, dom.Confidence)
}
