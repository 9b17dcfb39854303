package threat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	gobreaker "github.com/sony/gobreaker/v2"

	"mtdguard/internal/metrics"
)

var validate = validator.New()

// ValidateInput checks an indicator at the ingestion boundary.
func ValidateInput(in IndicatorInput) error {
	if err := validate.Struct(in); err != nil {
		return err
	}
	if _, ok := ParseIndicatorType(in.Type); !ok {
		return fmt.Errorf("unknown indicator type %q", in.Type)
	}
	return nil
}

// SourceReport is the outcome of one source in an ETL run.
type SourceReport struct {
	Source   string `json:"source"`
	Fetched  int    `json:"fetched"`
	Stored   int    `json:"stored"`
	Sighted  int    `json:"sighted"`
	Rejected int    `json:"rejected"`
	Err      string `json:"error,omitempty"`
}

// Report summarizes an ETL run.
type Report struct {
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Sources   []SourceReport `json:"sources"`
}

// Stored sums stored records across sources.
func (r Report) Stored() int {
	n := 0
	for _, s := range r.Sources {
		n += s.Stored
	}
	return n
}

type registeredSource struct {
	src     Source
	breaker *gobreaker.CircuitBreaker[[]IndicatorInput]
}

// ETLController pulls indicators from registered sources into a store.
// Each source sits behind its own circuit breaker so a failing feed does not
// hold up the others.
type ETLController struct {
	mu      sync.Mutex
	sources []registeredSource
	store   IndicatorStore
}

func NewETLController(store IndicatorStore) *ETLController {
	return &ETLController{store: store}
}

func (c *ETLController) Register(src Source) {
	name := src.Name()
	metrics.FeedBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]IndicatorInput](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    10 * time.Minute,
		Timeout:     5 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("feed breaker state change", "source", name, "from", from.String(), "to", to.String())
			metrics.FeedBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})

	c.mu.Lock()
	c.sources = append(c.sources, registeredSource{src: src, breaker: cb})
	c.mu.Unlock()
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Run fetches every source concurrently and upserts the results. Failures
// are isolated per source and joined into the returned error.
func (c *ETLController) Run(ctx context.Context) (Report, error) {
	c.mu.Lock()
	sources := append([]registeredSource(nil), c.sources...)
	c.mu.Unlock()

	report := Report{StartedAt: time.Now().UTC(), Sources: make([]SourceReport, len(sources))}
	errs := make([]error, len(sources))

	var wg sync.WaitGroup
	for i, rs := range sources {
		wg.Add(1)
		go func(i int, rs registeredSource) {
			defer wg.Done()
			report.Sources[i], errs[i] = c.runSource(ctx, rs)
		}(i, rs)
	}
	wg.Wait()

	report.Duration = time.Since(report.StartedAt)
	slog.Info("feed ingestion finished", "sources", len(sources), "stored", report.Stored(), "duration", report.Duration)
	return report, errors.Join(errs...)
}

func (c *ETLController) runSource(ctx context.Context, rs registeredSource) (SourceReport, error) {
	name := rs.src.Name()
	sr := SourceReport{Source: name}

	inputs, err := rs.breaker.Execute(func() ([]IndicatorInput, error) {
		return rs.src.Fetch(ctx)
	})
	if err != nil {
		metrics.FeedErrors.WithLabelValues(name).Inc()
		slog.Error("fetch failed", "source", name, "err", err)
		sr.Err = err.Error()
		return sr, fmt.Errorf("source %s: %w", name, err)
	}

	sr.Fetched = len(inputs)
	for _, in := range inputs {
		if err := ValidateInput(in); err != nil {
			sr.Rejected++
			slog.Debug("rejected indicator", "source", name, "value", in.Value, "err", err)
			continue
		}
		// A repeat sighting only refreshes LastSeen; the stored confidence,
		// source and tags belong to whoever first reported it.
		meta := in.IndicatorMeta
		_, seen := c.store.QueryIndicator(ctx, in.Type, in.Value)
		if seen {
			meta = IndicatorMeta{}
		}
		switch {
		case !c.store.AddIndicator(ctx, in.Type, in.Value, meta):
			sr.Rejected++
		case seen:
			sr.Sighted++
		default:
			sr.Stored++
		}
	}
	metrics.IndicatorsIngested.WithLabelValues(name).Add(float64(sr.Stored))
	slog.Info("stored indicators", "source", name, "stored", sr.Stored, "sighted", sr.Sighted, "rejected", sr.Rejected)
	return sr, nil
}
