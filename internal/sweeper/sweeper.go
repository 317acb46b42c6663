package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const runTimeout = time.Minute

// Purger removes expired share links and reports how many went.
type Purger interface {
	PurgeExpiredShareLinks(ctx context.Context) (int64, error)
}

// Sweeper runs the share-link purge on a cron schedule.
type Sweeper struct {
	purger Purger
	logger *slog.Logger
	cron   *cron.Cron
}

// New parses schedule ("@every 1h", "0 * * * *", ...) and registers the job.
// Nothing runs until Start.
func New(p Purger, schedule string, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{purger: p, logger: logger, cron: cron.New()}
	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// RunOnce purges immediately. Failures are logged, not returned, so a bad run
// does not stop the schedule.
func (s *Sweeper) RunOnce(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()
	n, err := s.purger.PurgeExpiredShareLinks(ctx)
	if err != nil {
		s.logger.Error("share link sweep failed", "error", err)
		return 0
	}
	s.logger.Debug("share link sweep done", "purged", n)
	return n
}

func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to
// end.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
