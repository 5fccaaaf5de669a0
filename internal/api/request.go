package api

import (
	"errors"
	"fmt"
)

// CreateListingRequest is the payload for creating a listing. Amounts are
// major-unit decimal strings ("1.5"); times are unix seconds.
type CreateListingRequest struct {
	Seller       string `json:"seller"`
	ReservePrice string `json:"reservePrice"`
	MetadataURL  string `json:"metadataUrl"`
	StartTime    int64  `json:"startTime"`
	EndTime      int64  `json:"endTime"`
}

// BidRequest is the payload for placing a bid.
type BidRequest struct {
	Amount string `json:"amount"`
}

// ClaimRequest is the payload for claiming a finished auction.
type ClaimRequest struct {
	Payment string `json:"payment"`
}

// Validate checks that CreateListingRequest has all required fields.
// Window ordering is left to the engine.
func (r *CreateListingRequest) Validate() error {
	if r.Seller == "" {
		return errors.New("seller is required")
	}
	if r.StartTime <= 0 || r.EndTime <= 0 {
		return fmt.Errorf("startTime and endTime are required")
	}
	return nil
}

func (r *BidRequest) Validate() error {
	if r.Amount == "" {
		return errors.New("amount is required")
	}
	return nil
}

func (r *ClaimRequest) Validate() error {
	if r.Payment == "" {
		return errors.New("payment is required")
	}
	return nil
}
