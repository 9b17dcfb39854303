package threat

import (
	"context"
	"log/slog"
)

func intPtr(v int) *int { return &v }

var seedIndicators = []IndicatorInput{
	{
		Type:  string(TypeDomain),
		Value: "malicious-phishing.com",
		IndicatorMeta: IndicatorMeta{
			Confidence: intPtr(95),
			Source:     "public_feed",
			Tags:       []string{"phishing", "banking"},
			Techniques: []string{"T1476"},
		},
	},
	{
		Type:  string(TypePackage),
		Value: "com.fake.bank",
		IndicatorMeta: IndicatorMeta{
			Confidence: intPtr(90),
			Source:     "google_play_protect",
			Tags:       []string{"trojan", "banking"},
			Techniques: []string{"T1478", "T1412"},
		},
	},
}

// SeedIndicators installs the built-in demo indicators and returns how many
// were written.
func SeedIndicators(ctx context.Context, store IndicatorStore) int {
	n := 0
	for _, in := range seedIndicators {
		if store.AddIndicator(ctx, in.Type, in.Value, in.IndicatorMeta) {
			n++
		}
	}
	slog.Info("seeded indicators", "count", n)
	return n
}
