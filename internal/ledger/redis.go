package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Checker-Finance/auction/pkg/model"
)

// Lua runs atomically on the Redis server, so debit and credit cannot interleave
// with another transfer. Missing balances are seeded with ARGV[2].
var transferScript = redis.NewScript(`
	-- KEYS[1]: balance of the payer
	-- KEYS[2]: balance of the payee
	-- ARGV[1]: amount
	-- ARGV[2]: initial balance for unseen identities
	local amount = tonumber(ARGV[1])
	redis.call('SET', KEYS[1], ARGV[2], 'NX')
	redis.call('SET', KEYS[2], ARGV[2], 'NX')

	local have = tonumber(redis.call('GET', KEYS[1]))
	if have < amount then
		return {0, have}
	end
	redis.call('DECRBY', KEYS[1], amount)
	redis.call('INCRBY', KEYS[2], amount)
	return {1, have - amount}
`)

var depositScript = redis.NewScript(`
	redis.call('SET', KEYS[1], ARGV[2], 'NX')
	return redis.call('INCRBY', KEYS[1], ARGV[1])
`)

// Redis is a ledger shared by every engine instance pointed at the same Redis.
type Redis struct {
	rdb     *redis.Client
	prefix  string
	initial int64
}

func NewRedis(rdb *redis.Client, prefix string, initial int64) *Redis {
	if prefix == "" {
		prefix = "auction:ledger"
	}
	return &Redis{rdb: rdb, prefix: prefix, initial: initial}
}

func (r *Redis) key(id model.Identity) string {
	return fmt.Sprintf("%s:balance:%s", r.prefix, id)
}

func (r *Redis) Transfer(ctx context.Context, from, to model.Identity, amount int64) error {
	if err := validate(from, to, amount); err != nil {
		return err
	}
	res, err := transferScript.Run(ctx, r.rdb, []string{r.key(from), r.key(to)}, amount, r.initial).Int64Slice()
	if err != nil {
		return fmt.Errorf("ledger transfer %s -> %s: %w", from, to, err)
	}
	if len(res) != 2 {
		return fmt.Errorf("ledger transfer: unexpected script result %v", res)
	}
	if res[0] == 0 {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, from, res[1], amount)
	}
	return nil
}

func (r *Redis) Deposit(ctx context.Context, id model.Identity, amount int64) error {
	if id.IsNone() || amount < 0 {
		return fmt.Errorf("%w: deposit %d to %q", ErrInvalidTransfer, amount, id)
	}
	if err := depositScript.Run(ctx, r.rdb, []string{r.key(id)}, amount, r.initial).Err(); err != nil {
		return fmt.Errorf("ledger deposit %s: %w", id, err)
	}
	return nil
}

func (r *Redis) Balance(ctx context.Context, id model.Identity) (int64, error) {
	v, err := r.rdb.Get(ctx, r.key(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return r.initial, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger balance %s: %w", id, err)
	}
	return v, nil
}
