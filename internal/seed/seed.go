// Package seed creates listings and opening balances from a TOML file at boot.
//
// Example:
//
//	[[listing]]
//	seller       = "alice"
//	reserve      = "1.5"
//	metadata_url = "ipfs://item-1"
//	start        = 2026-11-01T12:00:00Z
//	end          = 2026-11-02T12:00:00Z
//
//	[[listing]]
//	seller   = "bob"
//	start_in = "1m"
//	duration = "24h"
//
//	[[balance]]
//	identity = "carol"
//	amount   = "250"
package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"github.com/Checker-Finance/auction/internal/auction"
	"github.com/Checker-Finance/auction/pkg/model"
)

// Creator is the part of the engine the loader drives.
type Creator interface {
	CreateListing(ctx context.Context, caller model.Identity, req auction.CreateListingRequest) (uint64, error)
	Now() int64
}

// Depositor credits opening balances.
type Depositor interface {
	Deposit(ctx context.Context, id model.Identity, amount int64) error
}

// File is the decoded seed document.
type File struct {
	Listings []Listing `toml:"listing"`
	Balances []Balance `toml:"balance"`
}

// Balance is an opening deposit in major units.
type Balance struct {
	Identity string `toml:"identity"`
	Amount   string `toml:"amount"`
}

// Listing is one seed entry. Either start or start_in, and either end or duration, apply.
type Listing struct {
	Seller      string    `toml:"seller"`
	Reserve     string    `toml:"reserve"`
	MetadataURL string    `toml:"metadata_url"`
	Start       time.Time `toml:"start"`
	End         time.Time `toml:"end"`
	StartIn     string    `toml:"start_in"`
	Duration    string    `toml:"duration"`
}

// Decode parses a seed document.
func Decode(data string) (*File, error) {
	f := &File{}
	md, err := toml.Decode(data, f)
	if err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("decode seed: unknown key %q", undecoded[0].String())
	}
	return f, nil
}

// DecodeFile reads and parses the seed document at path.
func DecodeFile(path string) (*File, error) {
	f := &File{}
	md, err := toml.DecodeFile(path, f)
	if err != nil {
		return nil, fmt.Errorf("decode seed %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("decode seed %s: unknown key %q", path, undecoded[0].String())
	}
	return f, nil
}

// Request converts the entry into a create request relative to now (unix seconds).
func (l Listing) Request(now int64, decimals int32) (auction.CreateListingRequest, error) {
	req := auction.CreateListingRequest{
		Seller:      model.Identity(l.Seller),
		MetadataURL: l.MetadataURL,
	}
	if l.Reserve != "" {
		reserve, err := model.ToMinor(l.Reserve, decimals)
		if err != nil {
			return req, err
		}
		req.ReservePrice = reserve
	}

	switch {
	case !l.Start.IsZero():
		req.StartTime = l.Start.Unix()
	case l.StartIn != "":
		d, err := time.ParseDuration(l.StartIn)
		if err != nil {
			return req, fmt.Errorf("start_in: %w", err)
		}
		req.StartTime = now + int64(d/time.Second)
	default:
		req.StartTime = now
	}

	switch {
	case !l.End.IsZero():
		req.EndTime = l.End.Unix()
	case l.Duration != "":
		d, err := time.ParseDuration(l.Duration)
		if err != nil {
			return req, fmt.Errorf("duration: %w", err)
		}
		req.EndTime = req.StartTime + int64(d/time.Second)
	default:
		return req, errors.New("one of end or duration is required")
	}
	return req, nil
}

// Apply creates every listing in f on behalf of creator and returns the new ids.
// It stops at the first failure; listings created before it remain.
func Apply(ctx context.Context, c Creator, f *File, creator model.Identity, decimals int32, logger *zap.Logger) ([]uint64, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ids := make([]uint64, 0, len(f.Listings))
	for i, l := range f.Listings {
		req, err := l.Request(c.Now(), decimals)
		if err != nil {
			return ids, fmt.Errorf("seed listing #%d: %w", i+1, err)
		}
		id, err := c.CreateListing(ctx, creator, req)
		if err != nil {
			return ids, fmt.Errorf("seed listing #%d: %w", i+1, err)
		}
		ids = append(ids, id)
	}
	logger.Info("seed.listings_created", zap.Int("count", len(ids)))
	return ids, nil
}

// ApplyBalances deposits every balance entry in f. It stops at the first failure.
func ApplyBalances(ctx context.Context, d Depositor, f *File, decimals int32, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	for i, b := range f.Balances {
		amount, err := model.ToMinor(b.Amount, decimals)
		if err != nil {
			return fmt.Errorf("seed balance #%d: %w", i+1, err)
		}
		if err := d.Deposit(ctx, model.Identity(b.Identity), amount); err != nil {
			return fmt.Errorf("seed balance #%d: %w", i+1, err)
		}
	}
	logger.Info("seed.balances_deposited", zap.Int("count", len(f.Balances)))
	return nil
}
