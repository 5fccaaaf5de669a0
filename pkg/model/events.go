package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type names, used as NATS subject suffixes and RabbitMQ routing keys.
const (
	EventListingCreated = "listing.created"
	EventNewWinningBid  = "bid.winning"
	EventProductClaimed = "listing.claimed"
	EventAuctionClosed  = "listing.closed"
)

// Event is a notification emitted after a committed engine mutation.
type Event interface {
	EventType() string
	Listing() uint64
}

// ListingCreated is emitted once per created listing.
type ListingCreated struct {
	ListingID    uint64    `json:"listing_id"`
	Seller       Identity  `json:"seller"`
	CreatedBy    Identity  `json:"created_by"`
	ReservePrice int64     `json:"reserve_price"`
	MetadataURL  string    `json:"metadata_url"`
	StartTime    int64     `json:"start_time"`
	EndTime      int64     `json:"end_time"`
	Sequence     uint64    `json:"sequence"`
	Timestamp    time.Time `json:"timestamp"`
}

func (e ListingCreated) EventType() string { return EventListingCreated }
func (e ListingCreated) Listing() uint64   { return e.ListingID }

// NewWinningBid is emitted for every accepted bid. Bidder is the caller that placed it.
type NewWinningBid struct {
	ListingID      uint64    `json:"listing_id"`
	Amount         int64     `json:"amount"`
	Bidder         Identity  `json:"bidder"`
	PreviousBid    int64     `json:"previous_bid"`
	PreviousBidder Identity  `json:"previous_bidder,omitempty"`
	Sequence       uint64    `json:"sequence"`
	Timestamp      time.Time `json:"timestamp"`
}

func (e NewWinningBid) EventType() string { return EventNewWinningBid }
func (e NewWinningBid) Listing() uint64   { return e.ListingID }

// ProductClaimed is emitted when the winner pays and the seller is credited.
type ProductClaimed struct {
	ListingID uint64    `json:"listing_id"`
	Winner    Identity  `json:"winner"`
	Seller    Identity  `json:"seller"`
	Amount    int64     `json:"amount"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

func (e ProductClaimed) EventType() string { return EventProductClaimed }
func (e ProductClaimed) Listing() uint64   { return e.ListingID }

// AuctionClosed is emitted once when a listing's bidding window has passed.
// Winner is None and Unsold is true when no bid was accepted.
type AuctionClosed struct {
	ListingID  uint64    `json:"listing_id"`
	Winner     Identity  `json:"winner,omitempty"`
	WinningBid int64     `json:"winning_bid"`
	Unsold     bool      `json:"unsold"`
	EndTime    int64     `json:"end_time"`
	Sequence   uint64    `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e AuctionClosed) EventType() string { return EventAuctionClosed }
func (e AuctionClosed) Listing() uint64   { return e.ListingID }

// Envelope is the canonical wrapper for events leaving the process.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	ListingID     uint64          `json:"listing_id"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps ev for publication on topic.
func NewEnvelope(source, topic string, ev Event) (*Envelope, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		ListingID:     ev.Listing(),
		Topic:         topic,
		EventType:     ev.EventType(),
		Version:       "1.0.0",
		Source:        source,
		Timestamp:     time.Now().UTC(),
		Payload:       data,
	}, nil
}
