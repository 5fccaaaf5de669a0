package api

import (
	"time"

	"github.com/Checker-Finance/auction/pkg/model"
)

// ListingResponse is the public view of a listing. Amounts are rendered both
// as major-unit strings and as raw minor units.
type ListingResponse struct {
	ID                uint64 `json:"id"`
	Seller            string `json:"seller"`
	ReservePrice      string `json:"reservePrice"`
	ReservePriceMinor int64  `json:"reservePriceMinor"`
	MetadataURL       string `json:"metadataUrl"`
	StartTime         int64  `json:"startTime"`
	EndTime           int64  `json:"endTime"`
	HighestBid        string `json:"highestBid"`
	HighestBidMinor   int64  `json:"highestBidMinor"`
	HighestBidder     string `json:"highestBidder,omitempty"`
	BidCount          int    `json:"bidCount"`
	Claimed           bool   `json:"claimed"`
	State             string `json:"state"`
	Sequence          uint64 `json:"sequence"`
}

// BidResponse describes one accepted bid.
type BidResponse struct {
	ListingID   uint64 `json:"listingId"`
	Bidder      string `json:"bidder"`
	Amount      string `json:"amount"`
	AmountMinor int64  `json:"amountMinor"`
	Sequence    uint64 `json:"sequence,omitempty"`
	PlacedAt    int64  `json:"placedAt,omitempty"`
}

// BalanceResponse is a ledger balance.
type BalanceResponse struct {
	Identity     string `json:"identity"`
	Balance      string `json:"balance"`
	BalanceMinor int64  `json:"balanceMinor"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func toListingResponse(l model.Listing, now int64, decimals int32) ListingResponse {
	return ListingResponse{
		ID:                l.ID,
		Seller:            l.Seller.String(),
		ReservePrice:      model.FormatMajor(l.ReservePrice, decimals),
		ReservePriceMinor: l.ReservePrice,
		MetadataURL:       l.MetadataURL,
		StartTime:         l.StartTime,
		EndTime:           l.EndTime,
		HighestBid:        model.FormatMajor(l.HighestBid, decimals),
		HighestBidMinor:   l.HighestBid,
		HighestBidder:     l.HighestBidder.String(),
		BidCount:          l.BidCount,
		Claimed:           l.Claimed,
		State:             string(l.State(time.Unix(now, 0))),
		Sequence:          l.Sequence,
	}
}

func toBidResponse(b model.NewWinningBid, decimals int32) BidResponse {
	r := BidResponse{
		ListingID:   b.ListingID,
		Bidder:      b.Bidder.String(),
		Amount:      model.FormatMajor(b.Amount, decimals),
		AmountMinor: b.Amount,
		Sequence:    b.Sequence,
	}
	if !b.Timestamp.IsZero() {
		r.PlacedAt = b.Timestamp.Unix()
	}
	return r
}
