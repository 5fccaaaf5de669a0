package auction

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/Checker-Finance/auction/internal/metrics"
	"github.com/Checker-Finance/auction/pkg/model"
)

// CreateListingRequest carries the immutable fields of a new listing.
type CreateListingRequest struct {
	ReservePrice int64
	Seller       model.Identity
	MetadataURL  string
	StartTime    int64
	EndTime      int64
}

type entry struct {
	mu      sync.Mutex
	listing model.Listing
}

// Engine is the registry of listings and the only writer of their state.
// Mutations on one listing are serialized; different listings proceed independently.
type Engine struct {
	mu       sync.RWMutex
	listings map[uint64]*entry
	lastID   uint64

	clock    Clock
	ledger   Ledger
	notifier Notifier
	policy   CreatePolicy
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(c Clock) Option               { return func(e *Engine) { e.clock = c } }
func WithLedger(l Ledger) Option             { return func(e *Engine) { e.ledger = l } }
func WithNotifier(n Notifier) Option         { return func(e *Engine) { e.notifier = n } }
func WithCreatePolicy(p CreatePolicy) Option { return func(e *Engine) { e.policy = p } }
func WithLogger(l *zap.Logger) Option        { return func(e *Engine) { e.logger = l } }

// New constructs an empty engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		listings: make(map[uint64]*entry),
		clock:    SystemClock{},
		ledger:   noLedger{},
		notifier: noopNotifier{},
		policy:   AllowAll{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateListing registers a new listing and returns its id (1 for the first one).
func (e *Engine) CreateListing(ctx context.Context, caller model.Identity, req CreateListingRequest) (uint64, error) {
	if req.EndTime <= req.StartTime {
		return 0, fmt.Errorf("create listing [%d, %d): %w", req.StartTime, req.EndTime, ErrInvalidWindow)
	}
	if req.ReservePrice < 0 {
		return 0, fmt.Errorf("create listing reserve %d: %w", req.ReservePrice, ErrInvalidAmount)
	}
	if req.Seller.IsNone() {
		return 0, fmt.Errorf("create listing seller: %w", ErrInvalidIdentity)
	}
	if !e.policy.MayCreate(ctx, caller) {
		return 0, fmt.Errorf("create listing by %q: %w", caller, ErrUnauthorized)
	}

	e.mu.Lock()
	e.lastID++
	l := model.Listing{
		ID:           e.lastID,
		ReservePrice: req.ReservePrice,
		Seller:       req.Seller,
		MetadataURL:  req.MetadataURL,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		Sequence:     1,
		CreatedBy:    caller,
	}
	e.listings[l.ID] = &entry{listing: l}
	e.mu.Unlock()

	metrics.IncListingCreated()
	e.logger.Info("auction.listing_created",
		zap.Uint64("listing_id", l.ID),
		zap.String("seller", l.Seller.String()),
		zap.Int64("start_time", l.StartTime),
		zap.Int64("end_time", l.EndTime))

	e.notifier.Notify(ctx, model.ListingCreated{
		ListingID:    l.ID,
		Seller:       l.Seller,
		CreatedBy:    caller,
		ReservePrice: l.ReservePrice,
		MetadataURL:  l.MetadataURL,
		StartTime:    l.StartTime,
		EndTime:      l.EndTime,
		Sequence:     l.Sequence,
		Timestamp:    e.clock.Now().UTC(),
	})
	return l.ID, nil
}

// Bid places amount on behalf of caller. It is accepted only while the auction is
// open and only when amount is strictly greater than the current highest bid.
func (e *Engine) Bid(ctx context.Context, caller model.Identity, listingID uint64, amount int64) error {
	if caller.IsNone() {
		return fmt.Errorf("bid: %w", ErrInvalidIdentity)
	}
	ent, err := e.lookup(listingID)
	if err != nil {
		metrics.IncBid(Code(err))
		return err
	}

	ent.mu.Lock()
	now := e.clock.Now()
	l := &ent.listing
	if err := checkBid(l, now.Unix(), amount); err != nil {
		ent.mu.Unlock()
		metrics.IncBid(Code(err))
		e.logger.Debug("auction.bid_rejected",
			zap.Uint64("listing_id", listingID),
			zap.String("bidder", caller.String()),
			zap.Int64("amount", amount),
			zap.Error(err))
		return err
	}

	ev := model.NewWinningBid{
		ListingID:      l.ID,
		Amount:         amount,
		Bidder:         caller,
		PreviousBid:    l.HighestBid,
		PreviousBidder: l.HighestBidder,
		Timestamp:      now.UTC(),
	}
	l.HighestBid = amount
	l.HighestBidder = caller
	l.BidCount++
	l.Sequence++
	ev.Sequence = l.Sequence
	ent.mu.Unlock()

	metrics.IncBid("accepted")
	e.logger.Info("auction.bid_accepted",
		zap.Uint64("listing_id", listingID),
		zap.String("bidder", caller.String()),
		zap.Int64("amount", amount),
		zap.Int64("previous_bid", ev.PreviousBid))

	e.notifier.Notify(ctx, ev)
	return nil
}

func checkBid(l *model.Listing, now, amount int64) error {
	switch {
	case l.Claimed:
		return fmt.Errorf("bid on listing %d: %w", l.ID, ErrAlreadyClaimed)
	case now < l.StartTime:
		return fmt.Errorf("bid on listing %d at %d (starts %d): %w", l.ID, now, l.StartTime, ErrAuctionNotStarted)
	case now >= l.EndTime:
		return fmt.Errorf("bid on listing %d at %d (ended %d): %w", l.ID, now, l.EndTime, ErrAuctionEnded)
	case amount <= l.HighestBid:
		return fmt.Errorf("bid %d on listing %d (highest %d): %w", amount, l.ID, l.HighestBid, ErrBidTooLow)
	}
	return nil
}

// ClaimProduct settles a finished auction: the winner pays exactly the winning bid,
// the seller is credited through the ledger and the listing becomes claimed.
// A failed transfer leaves the listing unclaimed so the claim can be retried.
func (e *Engine) ClaimProduct(ctx context.Context, caller model.Identity, listingID uint64, payment int64) error {
	ent, err := e.lookup(listingID)
	if err != nil {
		metrics.IncClaim(Code(err))
		return err
	}

	ent.mu.Lock()
	now := e.clock.Now()
	l := &ent.listing
	if err := checkClaim(l, now.Unix(), caller, payment); err != nil {
		ent.mu.Unlock()
		metrics.IncClaim(Code(err))
		e.logger.Debug("auction.claim_rejected",
			zap.Uint64("listing_id", listingID),
			zap.String("caller", caller.String()),
			zap.Error(err))
		return err
	}

	if err := e.ledger.Transfer(ctx, caller, l.Seller, payment); err != nil {
		ent.mu.Unlock()
		metrics.IncClaim(Code(ErrTransferFailed))
		e.logger.Warn("auction.claim_transfer_failed",
			zap.Uint64("listing_id", listingID),
			zap.String("winner", caller.String()),
			zap.String("seller", l.Seller.String()),
			zap.Int64("amount", payment),
			zap.Error(err))
		return fmt.Errorf("claim listing %d: %w: %w", listingID, ErrTransferFailed, err)
	}

	l.Claimed = true
	l.Sequence++
	ev := model.ProductClaimed{
		ListingID: l.ID,
		Winner:    caller,
		Seller:    l.Seller,
		Amount:    payment,
		Sequence:  l.Sequence,
		Timestamp: now.UTC(),
	}
	ent.mu.Unlock()

	metrics.IncClaim("claimed")
	e.logger.Info("auction.product_claimed",
		zap.Uint64("listing_id", listingID),
		zap.String("winner", caller.String()),
		zap.String("seller", ev.Seller.String()),
		zap.Int64("amount", payment))

	e.notifier.Notify(ctx, ev)
	return nil
}

func checkClaim(l *model.Listing, now int64, caller model.Identity, payment int64) error {
	switch {
	case l.Claimed:
		return fmt.Errorf("claim listing %d: %w", l.ID, ErrAlreadyClaimed)
	case now < l.EndTime:
		return fmt.Errorf("claim listing %d at %d (ends %d): %w", l.ID, now, l.EndTime, ErrAuctionNotEnded)
	case caller.IsNone() || caller != l.HighestBidder:
		return fmt.Errorf("claim listing %d by %q: %w", l.ID, caller, ErrNotWinner)
	case payment != l.HighestBid:
		return fmt.Errorf("claim listing %d paying %d (winning bid %d): %w", l.ID, payment, l.HighestBid, ErrPaymentMismatch)
	}
	return nil
}

// GetListing returns a copy of the last committed state of the listing.
func (e *Engine) GetListing(_ context.Context, listingID uint64) (model.Listing, error) {
	ent, err := e.lookup(listingID)
	if err != nil {
		return model.Listing{}, err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.listing, nil
}

// Listings returns a snapshot of every listing ordered by id.
func (e *Engine) Listings(_ context.Context) []model.Listing {
	e.mu.RLock()
	entries := make([]*entry, 0, len(e.listings))
	for _, ent := range e.listings {
		entries = append(entries, ent)
	}
	e.mu.RUnlock()

	out := make([]model.Listing, 0, len(entries))
	for _, ent := range entries {
		ent.mu.Lock()
		out = append(out, ent.listing)
		ent.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Now exposes the engine clock to collaborators that derive listing state.
func (e *Engine) Now() int64 {
	return e.clock.Now().Unix()
}

// Restore loads persisted listings into an empty engine. Ids must be unique and
// non-zero; a gap left by a lost snapshot is logged and the next listing id
// continues after the highest restored one. No events are emitted.
func (e *Engine) Restore(_ context.Context, listings []model.Listing) error {
	sorted := make([]model.Listing, len(listings))
	copy(sorted, listings)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var last, missing uint64
	for _, l := range sorted {
		if l.ID == 0 || l.ID == last {
			return fmt.Errorf("restore: listing id %d is zero or repeated: %w", l.ID, ErrCorruptSnapshot)
		}
		missing += l.ID - last - 1
		last = l.ID
		if l.EndTime <= l.StartTime || l.HighestBid < 0 || (l.HighestBid > 0) == l.HighestBidder.IsNone() {
			return fmt.Errorf("restore listing %d: %w", l.ID, ErrCorruptSnapshot)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.listings) > 0 {
		return fmt.Errorf("restore into non-empty engine: %w", ErrCorruptSnapshot)
	}
	for _, l := range sorted {
		e.listings[l.ID] = &entry{listing: l}
	}
	// ids are never reused, even those whose snapshot was lost
	e.lastID = last

	if missing > 0 {
		metrics.IncError("auction", "restore_gap")
		e.logger.Warn("auction.restore_gaps",
			zap.Uint64("missing", missing),
			zap.Uint64("last_id", last))
	}
	e.logger.Info("auction.restored", zap.Int("listings", len(sorted)))
	return nil
}

func (e *Engine) lookup(id uint64) (*entry, error) {
	e.mu.RLock()
	ent, ok := e.listings[id]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("listing %d: %w", id, ErrUnknownListing)
	}
	return ent, nil
}
