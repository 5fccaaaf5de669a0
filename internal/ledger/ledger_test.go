package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/auction/internal/auction"
	"github.com/Checker-Finance/auction/pkg/model"
)

// Both implementations satisfy the engine's ledger contract.
var (
	_ auction.Ledger = (*Memory)(nil)
	_ auction.Ledger = (*Redis)(nil)
)

type balanceLedger interface {
	auction.Ledger
	Deposit(ctx context.Context, id model.Identity, amount int64) error
	Balance(ctx context.Context, id model.Identity) (int64, error)
}

func newTestRedis(t *testing.T, initial int64) *Redis {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis(rdb, "test", initial)
}

func implementations(t *testing.T, initial int64) map[string]balanceLedger {
	return map[string]balanceLedger{
		"memory": NewMemory(initial),
		"redis":  newTestRedis(t, initial),
	}
}

func TestTransfer_MovesFunds(t *testing.T) {
	for name, l := range implementations(t, 0) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, l.Deposit(ctx, "buyer", 50))
			require.NoError(t, l.Deposit(ctx, "seller", 105))

			require.NoError(t, l.Transfer(ctx, "buyer", "seller", 1))

			buyer, err := l.Balance(ctx, "buyer")
			require.NoError(t, err)
			seller, err := l.Balance(ctx, "seller")
			require.NoError(t, err)
			assert.Equal(t, int64(49), buyer)
			assert.Equal(t, int64(106), seller)
		})
	}
}

func TestTransfer_InsufficientFundsIsAtomic(t *testing.T) {
	for name, l := range implementations(t, 0) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, l.Deposit(ctx, "buyer", 10))

			err := l.Transfer(ctx, "buyer", "seller", 11)
			require.ErrorIs(t, err, ErrInsufficientFunds)

			buyer, _ := l.Balance(ctx, "buyer")
			seller, _ := l.Balance(ctx, "seller")
			assert.Equal(t, int64(10), buyer)
			assert.Equal(t, int64(0), seller)
		})
	}
}

func TestTransfer_InitialBalanceForUnseenIdentities(t *testing.T) {
	for name, l := range implementations(t, 1000) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			bal, err := l.Balance(ctx, "nobody")
			require.NoError(t, err)
			assert.Equal(t, int64(1000), bal)

			require.NoError(t, l.Transfer(ctx, "alice", "bob", 400))
			alice, _ := l.Balance(ctx, "alice")
			bob, _ := l.Balance(ctx, "bob")
			assert.Equal(t, int64(600), alice)
			assert.Equal(t, int64(1400), bob)
		})
	}
}

func TestTransfer_Validation(t *testing.T) {
	for name, l := range implementations(t, 100) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			assert.ErrorIs(t, l.Transfer(ctx, "", "bob", 1), ErrInvalidTransfer)
			assert.ErrorIs(t, l.Transfer(ctx, "alice", "", 1), ErrInvalidTransfer)
			assert.ErrorIs(t, l.Transfer(ctx, "alice", "bob", -1), ErrInvalidTransfer)
			assert.ErrorIs(t, l.Deposit(ctx, "alice", -1), ErrInvalidTransfer)
		})
	}
}

func TestMemory_ConcurrentTransfersConserveTotal(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	require.NoError(t, m.Deposit(ctx, "a", 500))
	require.NoError(t, m.Deposit(ctx, "b", 500))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); _ = m.Transfer(ctx, "a", "b", 7) }()
		go func() { defer wg.Done(); _ = m.Transfer(ctx, "b", "a", 3) }()
	}
	wg.Wait()

	a, _ := m.Balance(ctx, "a")
	b, _ := m.Balance(ctx, "b")
	assert.Equal(t, int64(1000), a+b)
	assert.GreaterOrEqual(t, a, int64(0))
	assert.GreaterOrEqual(t, b, int64(0))
}

func TestRedis_BalanceFailsWhenDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewRedis(rdb, "", 0)
	mr.Close()

	_, err = l.Balance(context.Background(), "alice")
	assert.Error(t, err)
	assert.Error(t, l.Transfer(context.Background(), "alice", "bob", 1))
}

func TestEngineClaimSettlesThroughLedger(t *testing.T) {
	ctx := context.Background()
	unit := int64(1_000_000)
	l := newTestRedis(t, 0)
	require.NoError(t, l.Deposit(ctx, "bidder1", 10*unit))
	require.NoError(t, l.Deposit(ctx, "seller", 105*unit))

	now := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := auction.NewManualClock(now)
	e := auction.New(auction.WithClock(clock), auction.WithLedger(l))

	id, err := e.CreateListing(ctx, "seller", auction.CreateListingRequest{
		Seller:    "seller",
		StartTime: now.Unix(),
		EndTime:   now.Add(24 * time.Hour).Unix(),
	})
	require.NoError(t, err)
	require.NoError(t, e.Bid(ctx, "bidder1", id, unit))
	clock.Advance(24 * time.Hour)
	require.NoError(t, e.ClaimProduct(ctx, "bidder1", id, unit))

	seller, err := l.Balance(ctx, "seller")
	require.NoError(t, err)
	assert.Equal(t, 106*unit, seller)
}

func TestEngineClaimUnderfundedIsRetryable(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(0)

	now := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := auction.NewManualClock(now)
	e := auction.New(auction.WithClock(clock), auction.WithLedger(l))

	id, err := e.CreateListing(ctx, "seller", auction.CreateListingRequest{
		Seller: "seller", StartTime: now.Unix(), EndTime: now.Add(time.Hour).Unix(),
	})
	require.NoError(t, err)
	require.NoError(t, e.Bid(ctx, "bidder1", id, 5))
	clock.Advance(time.Hour)

	err = e.ClaimProduct(ctx, "bidder1", id, 5)
	require.ErrorIs(t, err, auction.ErrTransferFailed)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	require.NoError(t, l.Deposit(ctx, "bidder1", 5))
	require.NoError(t, e.ClaimProduct(ctx, "bidder1", id, 5))
}
