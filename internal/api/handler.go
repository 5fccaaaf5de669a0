package api

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/auction/internal/auction"
	"github.com/Checker-Finance/auction/pkg/model"
)

// CallerHeader carries the authenticated caller identity, set by the gateway.
const CallerHeader = "X-Caller-Identity"

// AuctionService defines the engine operations used by the handler.
type AuctionService interface {
	CreateListing(ctx context.Context, caller model.Identity, req auction.CreateListingRequest) (uint64, error)
	Bid(ctx context.Context, caller model.Identity, listingID uint64, amount int64) error
	ClaimProduct(ctx context.Context, caller model.Identity, listingID uint64, payment int64) error
	GetListing(ctx context.Context, listingID uint64) (model.Listing, error)
	Listings(ctx context.Context) []model.Listing
	Now() int64
}

// Balances reads ledger balances.
type Balances interface {
	Balance(ctx context.Context, id model.Identity) (int64, error)
}

// BidHistory lists archived bids of a listing.
type BidHistory interface {
	ListBids(ctx context.Context, listingID uint64) ([]model.NewWinningBid, error)
}

// Handler serves the listing, bid, claim and balance endpoints.
type Handler struct {
	logger   *zap.Logger
	service  AuctionService
	balances Balances
	history  BidHistory
	decimals int32
}

// NewHandler creates a Handler. balances and history may be nil, which
// disables the corresponding endpoints.
func NewHandler(logger *zap.Logger, service AuctionService, balances Balances, history BidHistory, decimals int32) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		balances: balances,
		history:  history,
		decimals: decimals,
	}
}

// Caller returns the caller identity of the request.
func Caller(c *fiber.Ctx) model.Identity {
	return model.Identity(c.Get(CallerHeader))
}

func listingID(c *fiber.Ctx) (uint64, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("listing %q: %w", c.Params("id"), auction.ErrUnknownListing)
	}
	return id, nil
}

func (h *Handler) amount(raw string) (int64, error) {
	v, err := model.ToMinor(raw, h.decimals)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errBadAmount, err)
	}
	return v, nil
}

// CreateListing handles POST /api/v1/listings.
func (h *Handler) CreateListing(c *fiber.Ctx) error {
	caller := Caller(c)
	if caller.IsNone() {
		return writeError(c, auction.ErrInvalidIdentity)
	}
	var req CreateListingRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err.Error())
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	reserve := int64(0)
	if req.ReservePrice != "" {
		v, err := h.amount(req.ReservePrice)
		if err != nil {
			return writeError(c, err)
		}
		reserve = v
	}

	id, err := h.service.CreateListing(c.Context(), caller, auction.CreateListingRequest{
		ReservePrice: reserve,
		Seller:       model.Identity(req.Seller),
		MetadataURL:  req.MetadataURL,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
	})
	if err != nil {
		h.logger.Info("api.create_listing_rejected",
			zap.String("caller", caller.String()),
			zap.Error(err))
		return writeError(c, err)
	}

	l, err := h.service.GetListing(c.Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(toListingResponse(l, h.service.Now(), h.decimals))
}

// ListListings handles GET /api/v1/listings. ?state=open filters by derived state.
func (h *Handler) ListListings(c *fiber.Ctx) error {
	now := h.service.Now()
	state := c.Query("state")

	out := make([]ListingResponse, 0)
	for _, l := range h.service.Listings(c.Context()) {
		r := toListingResponse(l, now, h.decimals)
		if state != "" && r.State != state {
			continue
		}
		out = append(out, r)
	}
	return c.JSON(out)
}

// GetListing handles GET /api/v1/listings/:id.
func (h *Handler) GetListing(c *fiber.Ctx) error {
	id, err := listingID(c)
	if err != nil {
		return writeError(c, err)
	}
	l, err := h.service.GetListing(c.Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(toListingResponse(l, h.service.Now(), h.decimals))
}

// PlaceBid handles POST /api/v1/listings/:id/bids.
func (h *Handler) PlaceBid(c *fiber.Ctx) error {
	caller := Caller(c)
	if caller.IsNone() {
		return writeError(c, auction.ErrInvalidIdentity)
	}
	id, err := listingID(c)
	if err != nil {
		return writeError(c, err)
	}
	var req BidRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err.Error())
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err.Error())
	}
	amount, err := h.amount(req.Amount)
	if err != nil {
		return writeError(c, err)
	}

	if err := h.service.Bid(c.Context(), caller, id, amount); err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(BidResponse{
		ListingID:   id,
		Bidder:      caller.String(),
		Amount:      model.FormatMajor(amount, h.decimals),
		AmountMinor: amount,
	})
}

// ListBids handles GET /api/v1/listings/:id/bids from the archive.
func (h *Handler) ListBids(c *fiber.Ctx) error {
	if h.history == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(ErrorResponse{Error: "bid history not configured", Code: "NotConfigured"})
	}
	id, err := listingID(c)
	if err != nil {
		return writeError(c, err)
	}
	if _, err := h.service.GetListing(c.Context(), id); err != nil {
		return writeError(c, err)
	}
	bids, err := h.history.ListBids(c.Context(), id)
	if err != nil {
		h.logger.Error("api.list_bids_failed", zap.Uint64("listing_id", id), zap.Error(err))
		return writeError(c, err)
	}
	out := make([]BidResponse, 0, len(bids))
	for _, b := range bids {
		out = append(out, toBidResponse(b, h.decimals))
	}
	return c.JSON(out)
}

// Claim handles POST /api/v1/listings/:id/claim.
func (h *Handler) Claim(c *fiber.Ctx) error {
	caller := Caller(c)
	if caller.IsNone() {
		return writeError(c, auction.ErrInvalidIdentity)
	}
	id, err := listingID(c)
	if err != nil {
		return writeError(c, err)
	}
	var req ClaimRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err.Error())
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err.Error())
	}
	payment, err := h.amount(req.Payment)
	if err != nil {
		return writeError(c, err)
	}

	if err := h.service.ClaimProduct(c.Context(), caller, id, payment); err != nil {
		return writeError(c, err)
	}
	l, err := h.service.GetListing(c.Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(toListingResponse(l, h.service.Now(), h.decimals))
}

// Balance handles GET /api/v1/accounts/:identity/balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	if h.balances == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(ErrorResponse{Error: "ledger balances not available", Code: "NotConfigured"})
	}
	id := model.Identity(c.Params("identity"))
	if id.IsNone() {
		return writeError(c, auction.ErrInvalidIdentity)
	}
	bal, err := h.balances.Balance(c.Context(), id)
	if err != nil {
		h.logger.Error("api.balance_failed", zap.String("identity", id.String()), zap.Error(err))
		return writeError(c, err)
	}
	return c.JSON(BalanceResponse{
		Identity:     id.String(),
		Balance:      model.FormatMajor(bal, h.decimals),
		BalanceMinor: bal,
	})
}
