package auction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/auction/pkg/model"
)

const (
	seller  model.Identity = "seller"
	bidder1 model.Identity = "bidder1"
	bidder2 model.Identity = "bidder2"
	unit    int64          = 1_000_000
)

// fakeLedger keeps balances and records every successful transfer.
type fakeLedger struct {
	mu        sync.Mutex
	balances  map[model.Identity]int64
	transfers int
	failNext  error
}

func newFakeLedger(initial map[model.Identity]int64) *fakeLedger {
	b := make(map[model.Identity]int64, len(initial))
	for k, v := range initial {
		b[k] = v
	}
	return &fakeLedger{balances: b}
}

func (f *fakeLedger) Transfer(_ context.Context, from, to model.Identity, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	if f.balances[from] < amount {
		return fmt.Errorf("insufficient funds: %s has %d", from, f.balances[from])
	}
	f.balances[from] -= amount
	f.balances[to] += amount
	f.transfers++
	return nil
}

func (f *fakeLedger) balance(id model.Identity) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[id]
}

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Notify(_ context.Context, ev model.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) all() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.events...)
}

func (r *recorder) bids() []model.NewWinningBid {
	var out []model.NewWinningBid
	for _, ev := range r.all() {
		if b, ok := ev.(model.NewWinningBid); ok {
			out = append(out, b)
		}
	}
	return out
}

type fixture struct {
	engine *Engine
	clock  *ManualClock
	ledger *fakeLedger
	events *recorder
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	f := &fixture{
		clock: NewManualClock(now),
		ledger: newFakeLedger(map[model.Identity]int64{
			bidder1: 1000 * unit,
			bidder2: 1000 * unit,
			seller:  105 * unit,
		}),
		events: &recorder{},
	}
	f.engine = New(WithClock(f.clock), WithLedger(f.ledger), WithNotifier(f.events))
	return f
}

func (f *fixture) create(t *testing.T, start, end time.Time, reserve int64) uint64 {
	t.Helper()
	id, err := f.engine.CreateListing(context.Background(), seller, CreateListingRequest{
		ReservePrice: reserve,
		Seller:       seller,
		MetadataURL:  "https://example.test/item.json",
		StartTime:    start.Unix(),
		EndTime:      end.Unix(),
	})
	require.NoError(t, err)
	return id
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// --- Scenarios ---

func TestScenarioA_FirstBidAcceptedBelowReserve(t *testing.T) {
	f := newFixture(t, date(2022, 6, 1))
	id := f.create(t, date(2022, 5, 13), date(2022, 12, 12), 123)

	require.NoError(t, f.engine.Bid(context.Background(), bidder1, id, 100))

	bids := f.events.bids()
	require.Len(t, bids, 1)
	assert.Equal(t, bidder1, bids[0].Bidder)
	assert.Equal(t, int64(100), bids[0].Amount)
	assert.Equal(t, model.None, bids[0].PreviousBidder)

	l, err := f.engine.GetListing(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(123), l.ReservePrice)
	assert.Equal(t, int64(100), l.HighestBid)
}

func TestScenarioB_LowerBidRejected(t *testing.T) {
	f := newFixture(t, date(2022, 6, 1))
	id := f.create(t, date(2022, 5, 13), date(2022, 12, 12), 123)

	require.NoError(t, f.engine.Bid(context.Background(), bidder1, id, 100))
	err := f.engine.Bid(context.Background(), bidder2, id, 99)
	require.ErrorIs(t, err, ErrBidTooLow)

	l, err := f.engine.GetListing(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, bidder1, l.HighestBidder)
	assert.Equal(t, int64(100), l.HighestBid)
	assert.Len(t, f.events.bids(), 1)
}

func TestScenarioC_ClaimPaysSeller(t *testing.T) {
	now := date(2023, 1, 1)
	f := newFixture(t, now)
	id := f.create(t, now, now.Add(86400*time.Second), 0)

	require.NoError(t, f.engine.Bid(context.Background(), bidder1, id, unit))
	f.clock.Advance(86400 * time.Second)

	require.NoError(t, f.engine.ClaimProduct(context.Background(), bidder1, id, unit))
	assert.Equal(t, 106*unit, f.ledger.balance(seller))
	assert.Equal(t, 999*unit, f.ledger.balance(bidder1))

	l, err := f.engine.GetListing(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, l.Claimed)
	assert.Equal(t, model.StateClaimed, l.State(f.clock.Now()))

	last := f.events.all()
	claimed, ok := last[len(last)-1].(model.ProductClaimed)
	require.True(t, ok)
	assert.Equal(t, bidder1, claimed.Winner)
	assert.Equal(t, seller, claimed.Seller)
	assert.Equal(t, unit, claimed.Amount)
}

// --- CreateListing ---

func TestCreateListing_IDsDenseFromOne(t *testing.T) {
	f := newFixture(t, date(2023, 1, 1))
	for want := uint64(1); want <= 5; want++ {
		id := f.create(t, date(2023, 1, 1), date(2023, 2, 1), 0)
		assert.Equal(t, want, id)
	}
	assert.Len(t, f.engine.Listings(context.Background()), 5)
}

func TestCreateListing_Validation(t *testing.T) {
	f := newFixture(t, date(2023, 1, 1))
	start := date(2023, 1, 1).Unix()

	cases := []struct {
		name string
		req  CreateListingRequest
		want error
	}{
		{"end equals start", CreateListingRequest{Seller: seller, StartTime: start, EndTime: start}, ErrInvalidWindow},
		{"end before start", CreateListingRequest{Seller: seller, StartTime: start, EndTime: start - 1}, ErrInvalidWindow},
		{"negative reserve", CreateListingRequest{Seller: seller, StartTime: start, EndTime: start + 1, ReservePrice: -1}, ErrInvalidAmount},
		{"missing seller", CreateListingRequest{StartTime: start, EndTime: start + 1}, ErrInvalidIdentity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.CreateListing(context.Background(), seller, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Empty(t, f.events.all())

	// A failed creation does not consume an id.
	id := f.create(t, date(2023, 1, 1), date(2023, 2, 1), 0)
	assert.Equal(t, uint64(1), id)
}

func TestCreateListing_EmitsEvent(t *testing.T) {
	f := newFixture(t, date(2023, 1, 1))
	id := f.create(t, date(2023, 1, 2), date(2023, 2, 1), 50)

	evs := f.events.all()
	require.Len(t, evs, 1)
	created, ok := evs[0].(model.ListingCreated)
	require.True(t, ok)
	assert.Equal(t, id, created.ListingID)
	assert.Equal(t, seller, created.Seller)
	assert.Equal(t, int64(50), created.ReservePrice)
	assert.Equal(t, date(2023, 1, 2).Unix(), created.StartTime)
	assert.Equal(t, uint64(1), created.Sequence)
}

func TestCreateListing_AllowlistPolicy(t *testing.T) {
	e := New(WithCreatePolicy(Allowlist{"admin"}))
	req := CreateListingRequest{Seller: seller, StartTime: 1, EndTime: 2}

	_, err := e.CreateListing(context.Background(), "mallory", req)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = e.CreateListing(context.Background(), model.None, req)
	assert.ErrorIs(t, err, ErrUnauthorized)

	id, err := e.CreateListing(context.Background(), "admin", req)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
}

// --- Bid ---

func TestBid_WindowAndClaimChecks(t *testing.T) {
	now := date(2023, 1, 10)
	f := newFixture(t, now)
	future := f.create(t, now.Add(time.Hour), now.Add(2*time.Hour), 0)
	open := f.create(t, now, now.Add(time.Hour), 0)

	err := f.engine.Bid(context.Background(), bidder1, future, 10)
	assert.ErrorIs(t, err, ErrAuctionNotStarted)

	err = f.engine.Bid(context.Background(), bidder1, 99, 10)
	assert.ErrorIs(t, err, ErrUnknownListing)

	err = f.engine.Bid(context.Background(), model.None, open, 10)
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	require.NoError(t, f.engine.Bid(context.Background(), bidder1, open, 10))

	// end time is exclusive for bidding
	f.clock.Set(now.Add(time.Hour))
	err = f.engine.Bid(context.Background(), bidder2, open, 20)
	assert.ErrorIs(t, err, ErrAuctionEnded)

	require.NoError(t, f.engine.ClaimProduct(context.Background(), bidder1, open, 10))
	err = f.engine.Bid(context.Background(), bidder2, open, 30)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestBid_ZeroAndEqualRejected(t *testing.T) {
	now := date(2023, 1, 10)
	f := newFixture(t, now)
	id := f.create(t, now, now.Add(time.Hour), 0)

	assert.ErrorIs(t, f.engine.Bid(context.Background(), bidder1, id, 0), ErrBidTooLow)
	assert.ErrorIs(t, f.engine.Bid(context.Background(), bidder1, id, -5), ErrBidTooLow)
	require.NoError(t, f.engine.Bid(context.Background(), bidder1, id, 7))
	assert.ErrorIs(t, f.engine.Bid(context.Background(), bidder2, id, 7), ErrBidTooLow)
}

func TestBid_RejectedNeverMutatesOrEmits(t *testing.T) {
	now := date(2023, 1, 10)
	f := newFixture(t, now)
	id := f.create(t, now, now.Add(time.Hour), 0)
	require.NoError(t, f.engine.Bid(context.Background(), bidder1, id, 50))

	before, err := f.engine.GetListing(context.Background(), id)
	require.NoError(t, err)
	eventsBefore := len(f.events.all())

	for _, amount := range []int64{0, 10, 49, 50} {
		assert.Error(t, f.engine.Bid(context.Background(), bidder2, id, amount))
	}

	after, err := f.engine.GetListing(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Len(t, f.events.all(), eventsBefore)
}

func TestBid_HighestIsMaxOfAccepted(t *testing.T) {
	now := date(2023, 1, 10)
	f := newFixture(t, now)
	id := f.create(t, now, now.Add(time.Hour), 0)

	var maxAccepted int64
	var lastWinner model.Identity
	amounts := []int64{5, 3, 8, 8, 12, 1, 20, 19, 21}
	for i, a := range amounts {
		who := bidder1
		if i%2 == 1 {
			who = bidder2
		}
		if err := f.engine.Bid(context.Background(), who, id, a); err == nil {
			require.Greater(t, a, maxAccepted)
			maxAccepted = a
			lastWinner = who
		}
	}

	l, err := f.engine.GetListing(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, maxAccepted, l.HighestBid)
	assert.Equal(t, lastWinner, l.HighestBidder)
	assert.Equal(t, len(f.events.bids()), l.BidCount)

	var prev uint64
	for _, b := range f.events.bids() {
		assert.Greater(t, b.Sequence, prev)
		prev = b.Sequence
	}
}

// --- ClaimProduct ---

func TestClaim_Rules(t *testing.T) {
	now := date(2023, 3, 1)
	f := newFixture(t, now)
	id := f.create(t, now, now.Add(time.Hour), 0)
	require.NoError(t, f.engine.Bid(context.Background(), bidder1, id, 40))

	assert.ErrorIs(t, f.engine.ClaimProduct(context.Background(), bidder1, id, 40), ErrAuctionNotEnded)

	f.clock.Advance(time.Hour)
	assert.ErrorIs(t, f.engine.ClaimProduct(context.Background(), bidder2, id, 40), ErrNotWinner)
	assert.ErrorIs(t, f.engine.ClaimProduct(context.Background(), bidder1, id, 39), ErrPaymentMismatch)
	assert.ErrorIs(t, f.engine.ClaimProduct(context.Background(), bidder1, id, 41), ErrPaymentMismatch)
	assert.ErrorIs(t, f.engine.ClaimProduct(context.Background(), bidder1, 42, 40), ErrUnknownListing)
	assert.Zero(t, f.ledger.transfers)

	require.NoError(t, f.engine.ClaimProduct(context.Background(), bidder1, id, 40))
	assert.ErrorIs(t, f.engine.ClaimProduct(context.Background(), bidder1, id, 40), ErrAlreadyClaimed)
	assert.Equal(t, 1, f.ledger.transfers)
}

func TestClaim_NoBidsHasNoWinner(t *testing.T) {
	now := date(2023, 3, 1)
	f := newFixture(t, now)
	id := f.create(t, now, now.Add(time.Hour), 0)
	f.clock.Advance(2 * time.Hour)

	assert.ErrorIs(t, f.engine.ClaimProduct(context.Background(), bidder1, id, 0), ErrNotWinner)
	assert.ErrorIs(t, f.engine.ClaimProduct(context.Background(), model.None, id, 0), ErrNotWinner)
}

func TestClaim_TransferFailureIsRetryable(t *testing.T) {
	now := date(2023, 3, 1)
	f := newFixture(t, now)
	id := f.create(t, now, now.Add(time.Hour), 0)
	require.NoError(t, f.engine.Bid(context.Background(), bidder1, id, 25))
	f.clock.Advance(time.Hour)

	cause := errors.New("ledger unavailable")
	f.ledger.failNext = cause
	err := f.engine.ClaimProduct(context.Background(), bidder1, id, 25)
	require.ErrorIs(t, err, ErrTransferFailed)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "TransferFailed", Code(err))

	l, err := f.engine.GetListing(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, l.Claimed)

	require.NoError(t, f.engine.ClaimProduct(context.Background(), bidder1, id, 25))
	assert.Equal(t, 1, f.ledger.transfers)
}

func TestClaim_ConcurrentClaimsTransferOnce(t *testing.T) {
	now := date(2023, 3, 1)
	f := newFixture(t, now)
	id := f.create(t, now, now.Add(time.Hour), 0)
	require.NoError(t, f.engine.Bid(context.Background(), bidder1, id, 30))
	f.clock.Advance(time.Hour)

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- f.engine.ClaimProduct(context.Background(), bidder1, id, 30)
		}()
	}
	wg.Wait()
	close(results)

	var ok, claimed int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyClaimed):
			claimed++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 7, claimed)
	assert.Equal(t, 1, f.ledger.transfers)
}

func TestClaim_DefaultLedgerRejects(t *testing.T) {
	clock := NewManualClock(date(2023, 3, 1))
	e := New(WithClock(clock))
	id, err := e.CreateListing(context.Background(), seller, CreateListingRequest{
		Seller: seller, StartTime: clock.Now().Unix(), EndTime: clock.Now().Add(time.Minute).Unix(),
	})
	require.NoError(t, err)
	require.NoError(t, e.Bid(context.Background(), bidder1, id, 1))
	clock.Advance(time.Minute)

	assert.ErrorIs(t, e.ClaimProduct(context.Background(), bidder1, id, 1), ErrTransferFailed)
}

// --- Concurrency ---

func TestConcurrentBidsAcrossListings(t *testing.T) {
	now := date(2023, 4, 1)
	f := newFixture(t, now)
	const listings = 4
	const bidsPer = 50

	ids := make([]uint64, listings)
	for i := range ids {
		ids[i] = f.create(t, now, now.Add(time.Hour), 0)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		for n := 1; n <= bidsPer; n++ {
			wg.Add(1)
			go func(id uint64, amount int64) {
				defer wg.Done()
				_ = f.engine.Bid(context.Background(), model.Identity(fmt.Sprintf("b%d", amount)), id, amount)
			}(id, int64(n))
		}
	}
	wg.Wait()

	for _, id := range ids {
		l, err := f.engine.GetListing(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, int64(bidsPer), l.HighestBid)
		assert.Equal(t, model.Identity(fmt.Sprintf("b%d", bidsPer)), l.HighestBidder)
	}
}

func TestConcurrentCreateIsDense(t *testing.T) {
	e := New()
	const n = 64
	var wg sync.WaitGroup
	seen := make(chan uint64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := e.CreateListing(context.Background(), seller, CreateListingRequest{Seller: seller, StartTime: 1, EndTime: 2})
			if err == nil {
				seen <- id
			}
		}()
	}
	wg.Wait()
	close(seen)

	got := make(map[uint64]bool)
	for id := range seen {
		got[id] = true
	}
	require.Len(t, got, n)
	for id := uint64(1); id <= n; id++ {
		assert.True(t, got[id], "missing id %d", id)
	}
}

// --- Restore ---

func TestRestore(t *testing.T) {
	snap := []model.Listing{
		{ID: 2, Seller: seller, StartTime: 10, EndTime: 20, HighestBid: 5, HighestBidder: bidder1, BidCount: 1, Sequence: 2},
		{ID: 1, Seller: seller, StartTime: 10, EndTime: 20, Sequence: 1},
	}
	e := New(WithClock(NewManualClock(time.Unix(15, 0))))
	require.NoError(t, e.Restore(context.Background(), snap))

	all := e.Listings(context.Background())
	require.Len(t, all, 2)
	assert.Equal(t, uint64(1), all[0].ID)
	assert.Equal(t, int64(5), all[1].HighestBid)

	id, err := e.CreateListing(context.Background(), seller, CreateListingRequest{Seller: seller, StartTime: 10, EndTime: 20})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), id)

	assert.ErrorIs(t, e.Restore(context.Background(), nil), ErrCorruptSnapshot)
}

func TestRestore_ToleratesGaps(t *testing.T) {
	e := New()
	snap := []model.Listing{
		{ID: 4, Seller: seller, StartTime: 10, EndTime: 20, HighestBid: 7, HighestBidder: bidder1, Sequence: 2},
		{ID: 1, Seller: seller, StartTime: 10, EndTime: 20, Sequence: 1},
	}
	require.NoError(t, e.Restore(context.Background(), snap))

	all := e.Listings(context.Background())
	require.Len(t, all, 2)
	assert.Equal(t, uint64(1), all[0].ID)
	assert.Equal(t, uint64(4), all[1].ID)

	_, err := e.GetListing(context.Background(), 2)
	assert.ErrorIs(t, err, ErrUnknownListing)

	id, err := e.CreateListing(context.Background(), seller, CreateListingRequest{Seller: seller, StartTime: 10, EndTime: 20})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), id)
}

func TestRestore_RejectsBadRows(t *testing.T) {
	cases := map[string][]model.Listing{
		"duplicate id":   {{ID: 1, Seller: seller, StartTime: 1, EndTime: 2}, {ID: 1, Seller: seller, StartTime: 1, EndTime: 2}},
		"bad window":     {{ID: 1, Seller: seller, StartTime: 2, EndTime: 2}},
		"bid no bidder":  {{ID: 1, Seller: seller, StartTime: 1, EndTime: 2, HighestBid: 4}},
		"bidder no bid":  {{ID: 1, Seller: seller, StartTime: 1, EndTime: 2, HighestBidder: bidder1}},
		"starts at zero": {{ID: 0, Seller: seller, StartTime: 1, EndTime: 2}},
	}
	for name, snap := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, New().Restore(context.Background(), snap), ErrCorruptSnapshot)
		})
	}
}

func TestCode(t *testing.T) {
	assert.Equal(t, "BidTooLow", Code(fmt.Errorf("wrapped: %w", ErrBidTooLow)))
	assert.Equal(t, "Internal", Code(errors.New("boom")))
}
