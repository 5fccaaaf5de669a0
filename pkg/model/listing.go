package model

import "time"

// Identity is an opaque caller/account reference. The empty identity means "none".
type Identity string

// None is the zero identity, used for a listing without bids.
const None Identity = ""

func (i Identity) IsNone() bool { return i == None }

func (i Identity) String() string { return string(i) }

// ListingState is the lifecycle phase of a listing. It is derived from the clock
// and never persisted.
type ListingState string

const (
	StateCreated ListingState = "created"
	StateOpen    ListingState = "open"
	StateEnded   ListingState = "ended"
	StateClaimed ListingState = "claimed"
)

// Listing is one auctionable item (a "product") with its own bidding window.
// StartTime and EndTime are unix seconds; amounts are in the smallest money unit.
type Listing struct {
	ID            uint64   `json:"id"`
	ReservePrice  int64    `json:"reserve_price"`
	Seller        Identity `json:"seller"`
	MetadataURL   string   `json:"metadata_url"`
	StartTime     int64    `json:"start_time"`
	EndTime       int64    `json:"end_time"`
	HighestBid    int64    `json:"highest_bid"`
	HighestBidder Identity `json:"highest_bidder,omitempty"`
	Claimed       bool     `json:"claimed"`
	BidCount      int      `json:"bid_count"`
	Sequence      uint64   `json:"sequence"`
	CreatedBy     Identity `json:"created_by,omitempty"`
}

// State derives the lifecycle phase of the listing at now.
func (l Listing) State(now time.Time) ListingState {
	t := now.Unix()
	switch {
	case l.Claimed:
		return StateClaimed
	case t < l.StartTime:
		return StateCreated
	case t < l.EndTime:
		return StateOpen
	default:
		return StateEnded
	}
}

// HasBids reports whether any bid has been accepted.
func (l Listing) HasBids() bool {
	return !l.HighestBidder.IsNone()
}
