package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/Checker-Finance/auction/internal/metrics"
	"github.com/Checker-Finance/auction/pkg/model"
)

// ListingSource reads the committed state of a listing.
type ListingSource interface {
	GetListing(ctx context.Context, listingID uint64) (model.Listing, error)
}

// Archiver persists every committed mutation it hears about on the event bus.
type Archiver struct {
	store  Store
	source ListingSource
	logger *zap.Logger
}

func NewArchiver(store Store, source ListingSource, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{store: store, source: source, logger: logger}
}

// Handle snapshots the listing and appends the bid or settlement row.
func (a *Archiver) Handle(ctx context.Context, ev model.Event) {
	if ev.EventType() == model.EventAuctionClosed {
		return
	}

	l, err := a.source.GetListing(ctx, ev.Listing())
	if err != nil {
		a.fail(ev, "lookup_failed", err)
		return
	}
	if err := a.store.SaveListing(ctx, l); err != nil {
		a.fail(ev, "snapshot_failed", err)
		return
	}

	switch e := ev.(type) {
	case model.NewWinningBid:
		err = a.store.RecordBid(ctx, e)
	case model.ProductClaimed:
		err = a.store.RecordSettlement(ctx, e)
	}
	if err != nil {
		a.fail(ev, "append_failed", err)
		return
	}
	metrics.IncDelivery("store", ev.EventType(), "ok")
}

func (a *Archiver) fail(ev model.Event, reason string, err error) {
	a.logger.Error("store.archive_failed",
		zap.String("event_type", ev.EventType()),
		zap.Uint64("listing_id", ev.Listing()),
		zap.String("reason", reason),
		zap.Error(err))
	metrics.IncDelivery("store", ev.EventType(), "error")
	metrics.IncError("store", reason)
}
