package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/Checker-Finance/auction/internal/auction"
	"github.com/Checker-Finance/auction/internal/metrics"
	"github.com/Checker-Finance/auction/pkg/model"
)

// ListingSource is the read side of the engine the sweeper needs.
type ListingSource interface {
	Listings(ctx context.Context) []model.Listing
	GetListing(ctx context.Context, listingID uint64) (model.Listing, error)
	Now() int64
}

type deadline struct {
	end int64
	id  uint64
}

func lessDeadline(a, b deadline) bool {
	if a.end != b.end {
		return a.end < b.end
	}
	return a.id < b.id
}

// CloseSweeper emits AuctionClosed once for every listing whose window has
// passed. Deadlines are kept in a btree ordered by end time, so each sweep only
// visits listings that are due.
type CloseSweeper struct {
	logger   *zap.Logger
	source   ListingSource
	notifier auction.Notifier
	interval time.Duration

	mu        sync.Mutex
	deadlines *btree.BTreeG[deadline]
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func NewCloseSweeper(logger *zap.Logger, source ListingSource, notifier auction.Notifier, interval time.Duration) *CloseSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CloseSweeper{
		logger:    logger,
		source:    source,
		notifier:  notifier,
		interval:  interval,
		deadlines: btree.NewG[deadline](8, lessDeadline),
		stopCh:    make(chan struct{}),
	}
}

// Bootstrap indexes the listings that are still open or not yet started.
// Listings that ended before boot are not announced again.
func (s *CloseSweeper) Bootstrap(ctx context.Context) int {
	now := s.source.Now()
	n := 0
	for _, l := range s.source.Listings(ctx) {
		if l.EndTime > now && !l.Claimed {
			s.track(l.ID, l.EndTime)
			n++
		}
	}
	s.logger.Info("close_sweeper.bootstrapped", zap.Int("pending", n))
	return n
}

// Handle is the event bus subscription for ListingCreated.
func (s *CloseSweeper) Handle(_ context.Context, ev model.Event) {
	if created, ok := ev.(model.ListingCreated); ok {
		s.track(created.ListingID, created.EndTime)
	}
}

func (s *CloseSweeper) track(id uint64, end int64) {
	s.mu.Lock()
	s.deadlines.ReplaceOrInsert(deadline{end: end, id: id})
	s.mu.Unlock()
}

// Pending returns the number of listings waiting for their deadline.
func (s *CloseSweeper) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadlines.Len()
}

// Start runs the sweep loop until ctx is canceled or Stop is called.
func (s *CloseSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("close_sweeper.started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.stopCh:
			s.logger.Info("close_sweeper.stopped (manual stop)")
			return
		case <-ctx.Done():
			s.logger.Info("close_sweeper.stopped (context canceled)")
			return
		}
	}
}

// Stop gracefully halts the sweeper.
func (s *CloseSweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// RunOnce closes every due listing and returns how many were announced.
func (s *CloseSweeper) RunOnce(ctx context.Context) int {
	now := s.source.Now()

	var due []deadline
	s.mu.Lock()
	for {
		d, ok := s.deadlines.Min()
		if !ok || d.end > now {
			break
		}
		s.deadlines.DeleteMin()
		due = append(due, d)
	}
	s.mu.Unlock()

	closed := 0
	for _, d := range due {
		l, err := s.source.GetListing(ctx, d.id)
		if err != nil {
			s.logger.Error("close_sweeper.lookup_failed", zap.Uint64("listing_id", d.id), zap.Error(err))
			metrics.IncError("close_sweeper", "lookup_failed")
			continue
		}
		s.notifier.Notify(ctx, model.AuctionClosed{
			ListingID:  l.ID,
			Winner:     l.HighestBidder,
			WinningBid: l.HighestBid,
			Unsold:     !l.HasBids(),
			EndTime:    l.EndTime,
			Sequence:   l.Sequence,
			Timestamp:  time.Unix(now, 0).UTC(),
		})
		closed++
	}

	metrics.SetLastSweep(time.Unix(now, 0))
	if closed > 0 {
		s.logger.Info("close_sweeper.closed", zap.Int("listings", closed))
	}
	return closed
}
