package auction

import "errors"

// Every engine failure wraps exactly one of these. Callers test with errors.Is.
var (
	ErrInvalidWindow     = errors.New("end time must be after start time")
	ErrInvalidAmount     = errors.New("amount must not be negative")
	ErrInvalidIdentity   = errors.New("identity is required")
	ErrUnauthorized      = errors.New("caller may not create listings")
	ErrUnknownListing    = errors.New("unknown listing")
	ErrAuctionNotStarted = errors.New("auction has not started")
	ErrAuctionEnded      = errors.New("auction has ended")
	ErrAlreadyClaimed    = errors.New("listing already claimed")
	ErrBidTooLow         = errors.New("bid must exceed the current highest bid")
	ErrAuctionNotEnded   = errors.New("auction has not ended")
	ErrNotWinner         = errors.New("caller is not the highest bidder")
	ErrPaymentMismatch   = errors.New("payment must equal the winning bid")
	ErrTransferFailed    = errors.New("payment transfer failed")
	ErrCorruptSnapshot   = errors.New("listing snapshot is not restorable")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidWindow, "InvalidWindow"},
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrInvalidIdentity, "InvalidIdentity"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrUnknownListing, "UnknownListing"},
	{ErrAuctionNotStarted, "AuctionNotStarted"},
	{ErrAuctionEnded, "AuctionEnded"},
	{ErrAlreadyClaimed, "AlreadyClaimed"},
	{ErrBidTooLow, "BidTooLow"},
	{ErrAuctionNotEnded, "AuctionNotEnded"},
	{ErrNotWinner, "NotWinner"},
	{ErrPaymentMismatch, "PaymentMismatch"},
	{ErrTransferFailed, "TransferFailed"},
	{ErrCorruptSnapshot, "CorruptSnapshot"},
}

// Code returns the stable error kind name for err ("BidTooLow"), or "Internal".
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "Internal"
}
