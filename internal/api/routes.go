package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Checker-Finance/auction/internal/rate"
)

// HealthChecker is implemented by the store.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RegisterRoutes registers all HTTP routes on the Fiber app.
// A nil nc or st is reported as disabled; a nil limiter disables bid throttling.
func RegisterRoutes(app *fiber.App, nc *nats.Conn, st HealthChecker, h *Handler, limiter *rate.Manager) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		checks := map[string]string{
			"nats":  "disabled",
			"store": "disabled",
		}
		status := "ok"
		code := fiber.StatusOK

		if nc != nil {
			checks["nats"] = "ok"
			if !nc.IsConnected() {
				checks["nats"] = "disconnected"
				status = "degraded"
				code = fiber.StatusServiceUnavailable
			} else if err := nc.FlushTimeout(1 * time.Second); err != nil {
				checks["nats"] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
			}
		}

		if st != nil {
			checks["store"] = "ok"
			healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := st.HealthCheck(healthCtx); err != nil {
				checks["store"] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
			}
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	})

	// API routes
	v1 := app.Group("/api/v1")
	v1.Post("/listings", h.CreateListing)
	v1.Get("/listings", h.ListListings)
	v1.Get("/listings/:id", h.GetListing)
	v1.Get("/listings/:id/bids", h.ListBids)
	if limiter != nil {
		v1.Post("/listings/:id/bids", rate.Middleware(limiter, "bids", func(c *fiber.Ctx) string {
			return Caller(c).String()
		}), h.PlaceBid)
	} else {
		v1.Post("/listings/:id/bids", h.PlaceBid)
	}
	v1.Post("/listings/:id/claim", h.Claim)
	v1.Get("/accounts/:identity/balance", h.Balance)
}
