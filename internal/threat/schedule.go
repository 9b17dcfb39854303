package threat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// FeedScheduler runs an ETLController on a cron schedule. Overlapping runs
// are skipped.
type FeedScheduler struct {
	cron *cron.Cron
	etl  *ETLController
	ctx  context.Context
}

func NewFeedScheduler(ctx context.Context, etl *ETLController) *FeedScheduler {
	return &FeedScheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DiscardLogger),
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
		etl: etl,
		ctx: ctx,
	}
}

// AddSchedule registers expr, a five-field cron expression or a descriptor
// such as "@every 1h".
func (s *FeedScheduler) AddSchedule(expr string) error {
	id, err := s.cron.AddFunc(expr, func() { RunAndLog(s.ctx, s.etl) })
	if err != nil {
		return fmt.Errorf("add feed schedule %q: %w", expr, err)
	}
	slog.Info("feed schedule added", "cron", expr, "entry_id", id)
	return nil
}

func (s *FeedScheduler) Start() {
	s.cron.Start()
	slog.Info("feed scheduler started")
}

// Stop waits for a running job to finish or ctx to expire.
func (s *FeedScheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		slog.Warn("feed scheduler stop timeout")
		return ctx.Err()
	}
}

// RunAndLog performs one ETL run and logs its report.
func RunAndLog(ctx context.Context, etl *ETLController) Report {
	report, err := etl.Run(ctx)
	if err != nil {
		slog.Error("feed run finished with errors", "err", err, "stored", report.Stored())
	}
	for _, sr := range report.Sources {
		slog.Debug("feed source report", "source", sr.Source, "fetched", sr.Fetched, "stored", sr.Stored, "sighted", sr.Sighted, "rejected", sr.Rejected)
	}
	return report
}

// NewFileETL builds a controller over the given feed specs (see ParseFeedSpec).
func NewFileETL(store IndicatorStore, specs []string) (*ETLController, error) {
	etl := NewETLController(store)
	for _, spec := range specs {
		src, err := ParseFeedSpec(spec)
		if err != nil {
			return nil, err
		}
		etl.Register(src)
	}
	return etl, nil
}
