package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quoting-switch/internal/metrics"
	"github.com/Checker-Finance/quoting-switch/pkg/fspiop"
	"github.com/Checker-Finance/quoting-switch/pkg/model"
)

// DBExecutor defines the subset of pgxpool.Pool the sweeper needs.
type DBExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var sweptTables = []struct {
	resource fspiop.Resource
	table    string
}{
	{fspiop.ResourceQuotes, "quote"},
	{fspiop.ResourceBulkQuotes, "bulk_quote"},
	{fspiop.ResourceFxQuotes, "fx_quote"},
}

// ExpirySweeper periodically marks stored quotes whose expiration has passed
// and that never reached a terminal state as expired.
type ExpirySweeper struct {
	logger   *zap.Logger
	db       DBExecutor
	interval time.Duration
	now      func() time.Time
	stopCh   chan struct{}
}

// NewExpirySweeper constructs a background job that runs every interval.
func NewExpirySweeper(logger *zap.Logger, db DBExecutor, interval time.Duration) *ExpirySweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpirySweeper{
		logger:   logger.Named("jobs"),
		db:       db,
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or ctx is cancelled.
func (s *ExpirySweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("expiry_sweeper.started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.stopCh:
			s.logger.Info("expiry_sweeper.stopped")
			return
		case <-ctx.Done():
			s.logger.Info("expiry_sweeper.stopped")
			return
		}
	}
}

// Stop halts the sweeper.
func (s *ExpirySweeper) Stop() {
	close(s.stopCh)
}

// RunOnce executes one sweep over every quote table and returns the number of
// rows marked expired. A failing table is logged and does not stop the others.
func (s *ExpirySweeper) RunOnce(ctx context.Context) int64 {
	start := s.now()
	var total int64

	for _, t := range sweptTables {
		q := fmt.Sprintf(`
			UPDATE %s SET status = $1
			WHERE expiration IS NOT NULL AND expiration < $2
			  AND status IN ($3, $4, $5)`, t.table)
		tag, err := s.db.Exec(ctx, q,
			string(model.StatusExpired),
			start.UTC(),
			string(model.StatusNew),
			string(model.StatusForwarded),
			string(model.StatusResent),
		)
		if err != nil {
			s.logger.Error("expiry_sweeper.sweep_failed", zap.String("table", t.table), zap.Error(err))
			metrics.IncError("jobs", "sweep_failed")
			continue
		}
		if n := tag.RowsAffected(); n > 0 {
			metrics.AddExpired(string(t.resource), n)
			total += n
		}
	}

	s.logger.Info("expiry_sweeper.swept",
		zap.Int64("expired", total),
		zap.Duration("duration", s.now().Sub(start)))
	return total
}
