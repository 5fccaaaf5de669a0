package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Checker-Finance/auction/pkg/model"
)

// Store defines the contract for caching and persisting auction state.
type Store interface {
	SaveListing(ctx context.Context, l model.Listing) error
	LoadListings(ctx context.Context) ([]model.Listing, error)
	RecordBid(ctx context.Context, bid model.NewWinningBid) error
	RecordSettlement(ctx context.Context, claim model.ProductClaimed) error
	ListBids(ctx context.Context, listingID uint64) ([]model.NewWinningBid, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) error
	EnsureSchema(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Close() error
}

var _ Store = (*HybridStore)(nil)

const listingKeyPrefix = "auction:listing:"

func listingKey(id uint64) string {
	return listingKeyPrefix + strconv.FormatUint(id, 10)
}

// listingSeqKey holds the sequence of the snapshot stored under listingKey.
// Its suffix is not numeric, so the snapshot scan never picks it up.
func listingSeqKey(id uint64) string {
	return listingKey(id) + ":seq"
}

// snapshotScript replaces the snapshot only when ARGV[2] is not older than the
// stored sequence. It returns 0 for a stale write.
var snapshotScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[2]) or '0')
if cur > tonumber(ARGV[2]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
return 1
`)

// Schema is applied by EnsureSchema when Postgres is configured.
const Schema = `
CREATE SCHEMA IF NOT EXISTS auction;

CREATE TABLE IF NOT EXISTS auction.listings (
	listing_id      BIGINT PRIMARY KEY,
	reserve_price   BIGINT NOT NULL,
	seller          TEXT NOT NULL,
	metadata_url    TEXT NOT NULL DEFAULT '',
	start_time      BIGINT NOT NULL,
	end_time        BIGINT NOT NULL,
	highest_bid     BIGINT NOT NULL DEFAULT 0,
	highest_bidder  TEXT NOT NULL DEFAULT '',
	claimed         BOOLEAN NOT NULL DEFAULT FALSE,
	bid_count       INTEGER NOT NULL DEFAULT 0,
	sequence        BIGINT NOT NULL,
	created_by      TEXT NOT NULL DEFAULT '',
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS auction.bids (
	listing_id      BIGINT NOT NULL REFERENCES auction.listings (listing_id),
	sequence        BIGINT NOT NULL,
	bidder          TEXT NOT NULL,
	amount          BIGINT NOT NULL,
	previous_bid    BIGINT NOT NULL,
	previous_bidder TEXT NOT NULL DEFAULT '',
	placed_at       TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (listing_id, sequence)
);

CREATE TABLE IF NOT EXISTS auction.settlements (
	listing_id      BIGINT PRIMARY KEY REFERENCES auction.listings (listing_id),
	winner          TEXT NOT NULL,
	seller          TEXT NOT NULL,
	amount          BIGINT NOT NULL,
	source          TEXT NOT NULL,
	settled_at      TIMESTAMPTZ NOT NULL
);

CREATE MATERIALIZED VIEW IF NOT EXISTS auction.seller_summary AS
	SELECT seller,
	       COUNT(*)               AS settled_count,
	       COALESCE(SUM(amount), 0) AS settled_total,
	       MAX(settled_at)        AS last_settled_at
	FROM auction.settlements
	GROUP BY seller;

CREATE UNIQUE INDEX IF NOT EXISTS seller_summary_seller_idx ON auction.seller_summary (seller);
`

type HybridStore struct {
	redis  *redis.Client
	PG     *pgxpool.Pool
	logger *zap.Logger
	source string
}

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// NewHybrid creates a Redis-first, Postgres-backed store. Postgres is optional.
// source identifies the service recording settlements.
func NewHybrid(redisAddr string, redisDB int, redisPass, pgURL string, pgPoolConfig PGPoolConfig, source string, logger *zap.Logger) (*HybridStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		DB:       redisDB,
		Password: redisPass,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	var pgPool *pgxpool.Pool
	if pgURL != "" {
		cfg, err := pgxpool.ParseConfig(pgURL)
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("invalid pg config: %w", err)
		}
		if pgPoolConfig.MaxConns > 0 {
			cfg.MaxConns = pgPoolConfig.MaxConns
		}
		if pgPoolConfig.MinConns > 0 {
			cfg.MinConns = pgPoolConfig.MinConns
		}
		if pgPoolConfig.MaxConnLifetime > 0 {
			cfg.MaxConnLifetime = pgPoolConfig.MaxConnLifetime
		}
		if pgPoolConfig.MaxConnIdleTime > 0 {
			cfg.MaxConnIdleTime = pgPoolConfig.MaxConnIdleTime
		}
		if pgPoolConfig.HealthCheckPeriod > 0 {
			cfg.HealthCheckPeriod = pgPoolConfig.HealthCheckPeriod
		}
		pgPool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	}

	return &HybridStore{redis: rdb, PG: pgPool, logger: logger, source: source}, nil
}

// Redis exposes the client so the ledger can share the connection.
func (s *HybridStore) Redis() *redis.Client {
	return s.redis
}

func (s *HybridStore) EnsureSchema(ctx context.Context) error {
	if s.PG == nil {
		return nil
	}
	if _, err := s.PG.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// SaveListing writes the snapshot to Redis and upserts the Postgres row. In
// both places a snapshot only replaces one with an equal or older sequence, so
// concurrent archivers cannot roll a listing back.
func (s *HybridStore) SaveListing(ctx context.Context, l model.Listing) error {
	data, err := json.Marshal(l)
	if err != nil {
		return err
	}
	applied, err := snapshotScript.Run(ctx, s.redis,
		[]string{listingKey(l.ID), listingSeqKey(l.ID)},
		data, strconv.FormatUint(l.Sequence, 10)).Int()
	if err != nil {
		s.logger.Error("store.redis.snapshot_failed", zap.Uint64("listing_id", l.ID), zap.Error(err))
		return err
	}
	if applied == 0 {
		s.logger.Debug("store.redis.stale_snapshot_skipped",
			zap.Uint64("listing_id", l.ID), zap.Uint64("sequence", l.Sequence))
	}
	if s.PG == nil {
		return nil
	}
	_, err = s.PG.Exec(ctx, `
		INSERT INTO auction.listings (
			listing_id, reserve_price, seller, metadata_url, start_time, end_time,
			highest_bid, highest_bidder, claimed, bid_count, sequence, created_by, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (listing_id)
		DO UPDATE SET
			highest_bid = EXCLUDED.highest_bid,
			highest_bidder = EXCLUDED.highest_bidder,
			claimed = EXCLUDED.claimed,
			bid_count = EXCLUDED.bid_count,
			sequence = EXCLUDED.sequence,
			updated_at = EXCLUDED.updated_at
		WHERE auction.listings.sequence <= EXCLUDED.sequence;
	`, l.ID, l.ReservePrice, string(l.Seller), l.MetadataURL, l.StartTime, l.EndTime,
		l.HighestBid, string(l.HighestBidder), l.Claimed, l.BidCount, l.Sequence, string(l.CreatedBy))
	if err != nil {
		s.logger.Error("store.pg.upsert_listing_failed", zap.Uint64("listing_id", l.ID), zap.Error(err))
	}
	return err
}

// LoadListings returns every persisted listing ordered by id, from Postgres when
// configured and from the Redis snapshots otherwise.
func (s *HybridStore) LoadListings(ctx context.Context) ([]model.Listing, error) {
	if s.PG != nil {
		return s.loadListingsPG(ctx)
	}
	return s.loadListingsRedis(ctx)
}

func (s *HybridStore) loadListingsPG(ctx context.Context) ([]model.Listing, error) {
	rows, err := s.PG.Query(ctx, `
		SELECT listing_id, reserve_price, seller, metadata_url, start_time, end_time,
		       highest_bid, highest_bidder, claimed, bid_count, sequence, created_by
		FROM auction.listings
		ORDER BY listing_id;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Listing
	for rows.Next() {
		var (
			l                         model.Listing
			seller, bidder, createdBy string
		)
		if err := rows.Scan(&l.ID, &l.ReservePrice, &seller, &l.MetadataURL, &l.StartTime, &l.EndTime,
			&l.HighestBid, &bidder, &l.Claimed, &l.BidCount, &l.Sequence, &createdBy); err != nil {
			return nil, err
		}
		l.Seller = model.Identity(seller)
		l.HighestBidder = model.Identity(bidder)
		l.CreatedBy = model.Identity(createdBy)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *HybridStore) loadListingsRedis(ctx context.Context) ([]model.Listing, error) {
	var out []model.Listing
	iter := s.redis.Scan(ctx, 0, listingKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if _, err := strconv.ParseUint(strings.TrimPrefix(key, listingKeyPrefix), 10, 64); err != nil {
			continue
		}
		var l model.Listing
		if err := s.GetJSON(ctx, key, &l); err != nil {
			return nil, fmt.Errorf("load %s: %w", key, err)
		}
		out = append(out, l)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RecordBid inserts an immutable row into auction.bids. No-op without Postgres.
func (s *HybridStore) RecordBid(ctx context.Context, bid model.NewWinningBid) error {
	if s.PG == nil {
		return nil
	}
	_, err := s.PG.Exec(ctx, `
		INSERT INTO auction.bids (
			listing_id, sequence, bidder, amount, previous_bid, previous_bidder, placed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (listing_id, sequence) DO NOTHING;
	`, bid.ListingID, bid.Sequence, string(bid.Bidder), bid.Amount, bid.PreviousBid,
		string(bid.PreviousBidder), bid.Timestamp)
	if err != nil {
		s.logger.Error("store.pg.insert_bid_failed", zap.Uint64("listing_id", bid.ListingID), zap.Error(err))
	}
	return err
}

// RecordSettlement writes the single settlement row of a claimed listing.
func (s *HybridStore) RecordSettlement(ctx context.Context, claim model.ProductClaimed) error {
	if s.PG == nil {
		return nil
	}
	_, err := s.PG.Exec(ctx, `
		INSERT INTO auction.settlements (
			listing_id, winner, seller, amount, source, settled_at
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (listing_id) DO NOTHING;
	`, claim.ListingID, string(claim.Winner), string(claim.Seller), claim.Amount, s.source, claim.Timestamp)
	if err != nil {
		s.logger.Error("store.pg.insert_settlement_failed", zap.Uint64("listing_id", claim.ListingID), zap.Error(err))
	}
	return err
}

// ListBids returns the accepted bids of a listing in sequence order.
func (s *HybridStore) ListBids(ctx context.Context, listingID uint64) ([]model.NewWinningBid, error) {
	if s.PG == nil {
		return nil, fmt.Errorf("postgres unavailable")
	}
	rows, err := s.PG.Query(ctx, `
		SELECT listing_id, sequence, bidder, amount, previous_bid, previous_bidder, placed_at
		FROM auction.bids
		WHERE listing_id = $1
		ORDER BY sequence;
	`, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.NewWinningBid, error) {
		var (
			b            model.NewWinningBid
			bidder, prev string
		)
		err := row.Scan(&b.ListingID, &b.Sequence, &bidder, &b.Amount, &b.PreviousBid, &prev, &b.Timestamp)
		b.Bidder = model.Identity(bidder)
		b.PreviousBidder = model.Identity(prev)
		return b, err
	})
}

func (s *HybridStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, data, ttl).Err()
}

func (s *HybridStore) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (s *HybridStore) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if s.PG != nil {
		if err := s.PG.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
	}
	return nil
}

func (s *HybridStore) Close() error {
	if s.PG != nil {
		s.PG.Close()
	}
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
