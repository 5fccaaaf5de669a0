package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/Checker-Finance/auction/internal/auction"
)

// errBadAmount marks amounts that cannot be parsed at the configured precision.
var errBadAmount = errors.New("invalid amount")

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadAmount),
		errors.Is(err, auction.ErrInvalidWindow),
		errors.Is(err, auction.ErrInvalidAmount),
		errors.Is(err, auction.ErrInvalidIdentity),
		errors.Is(err, auction.ErrBidTooLow),
		errors.Is(err, auction.ErrPaymentMismatch):
		return fiber.StatusBadRequest
	case errors.Is(err, auction.ErrUnauthorized),
		errors.Is(err, auction.ErrNotWinner):
		return fiber.StatusForbidden
	case errors.Is(err, auction.ErrUnknownListing):
		return fiber.StatusNotFound
	case errors.Is(err, auction.ErrAuctionNotStarted),
		errors.Is(err, auction.ErrAuctionEnded),
		errors.Is(err, auction.ErrAuctionNotEnded),
		errors.Is(err, auction.ErrAlreadyClaimed):
		return fiber.StatusConflict
	case errors.Is(err, auction.ErrTransferFailed):
		return fiber.StatusPaymentRequired
	default:
		return fiber.StatusInternalServerError
	}
}

func codeFor(err error) string {
	if errors.Is(err, errBadAmount) {
		return "InvalidAmount"
	}
	return auction.Code(err)
}

func writeError(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(ErrorResponse{Error: err.Error(), Code: codeFor(err)})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: msg, Code: "BadRequest"})
}
