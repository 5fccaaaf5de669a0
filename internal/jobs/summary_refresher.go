package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/Checker-Finance/auction/internal/metrics"
)

// SummarySubject announces a completed seller summary refresh.
const SummarySubject = "evt.auction.summary.refreshed.v1"

// SummaryRefresher periodically refreshes the auction.seller_summary
// materialized view and emits a NATS message when it completes.
type SummaryRefresher struct {
	logger   *zap.Logger
	nc       MessagePublisher
	db       DBExecutor // small interface wrapper over pgxpool.Pool
	interval time.Duration
	stopCh   chan struct{}
}

// DBExecutor defines minimal subset of pgxpool.Pool needed for execution.
type DBExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// MessagePublisher is satisfied by *nats.Conn.
type MessagePublisher interface {
	Publish(subj string, data []byte) error
}

// NewSummaryRefresher constructs a background job that runs periodically.
func NewSummaryRefresher(logger *zap.Logger, nc MessagePublisher, db DBExecutor, interval time.Duration) *SummaryRefresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SummaryRefresher{
		logger:   logger,
		nc:       nc,
		db:       db,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the summary refresh loop.
func (r *SummaryRefresher) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("summary_refresher.started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ticker.C:
			_ = r.RunOnce(ctx)
		case <-r.stopCh:
			r.logger.Info("summary_refresher.stopped (manual stop)")
			return
		case <-ctx.Done():
			r.logger.Info("summary_refresher.stopped (context canceled)")
			return
		}
	}
}

// Stop gracefully halts the refresher. Call it at most once.
func (r *SummaryRefresher) Stop() {
	close(r.stopCh)
}

// RunOnce executes one refresh cycle.
func (r *SummaryRefresher) RunOnce(ctx context.Context) error {
	start := time.Now()

	if _, err := r.db.Exec(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY auction.seller_summary`); err != nil {
		metrics.IncError("summary_refresher", "refresh_failed")
		r.logger.Error("summary_refresher.refresh_failed", zap.Error(err))
		return err
	}

	// Emit event for downstream analytics systems
	event := map[string]any{
		"event":       SummarySubject,
		"timestamp":   time.Now().UTC(),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	data, _ := json.Marshal(event)
	if r.nc != nil {
		if err := r.nc.Publish(SummarySubject, data); err != nil {
			r.logger.Warn("summary_refresher.nats_publish_failed", zap.Error(err))
		}
	}

	r.logger.Info("summary_refresher.success",
		zap.Duration("duration", time.Since(start)))
	return nil
}
