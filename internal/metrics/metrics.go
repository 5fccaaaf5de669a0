package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counts listings created since process start.
	ListingsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auction_listings_created_total",
			Help: "Total number of listings created.",
		},
	)

	// Bids by outcome: "accepted" or the rejection kind (e.g. "BidTooLow").
	BidsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_bids_total",
			Help: "Bids placed, by result.",
		},
		[]string{"result"},
	)

	// Claims by outcome: "claimed" or the rejection kind.
	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_claims_total",
			Help: "Claim attempts, by result.",
		},
		[]string{"result"},
	)

	// Event deliveries to external sinks (nats, rabbitmq, webhook, stream, store).
	EventDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_event_deliveries_total",
			Help: "Events delivered to external sinks, by sink, event type and result.",
		},
		[]string{"sink", "event_type", "result"}, // result = "ok" | "error"
	)

	NATSMessageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nats_message_latency_seconds",
			Help:    "Time taken to publish NATS messages",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subject"},
	)

	// Requests rejected by the per-caller rate limiter.
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_rate_limited_total",
			Help: "Requests rejected by the per-caller rate limiter.",
		},
		[]string{"route"},
	)

	// Tracks total errors (aggregated).
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_errors_total",
			Help: "Count of service-level errors by component.",
		},
		[]string{"component", "reason"},
	)

	// Live websocket subscribers across all listings.
	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "auction_stream_subscribers",
			Help: "Number of connected websocket subscribers.",
		},
	)

	// Timestamp of the last close sweep.
	LastSweepTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "auction_last_sweep_timestamp",
			Help: "Timestamp (unix seconds) of the last close sweep.",
		},
	)
)

// ObserveDuration records elapsed time since start into a HistogramVec or SummaryVec.
func ObserveDuration(v any, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	}
}

func IncListingCreated() {
	ListingsCreated.Inc()
}

func IncBid(result string) {
	BidsTotal.WithLabelValues(result).Inc()
}

func IncClaim(result string) {
	ClaimsTotal.WithLabelValues(result).Inc()
}

func IncDelivery(sink, eventType, result string) {
	EventDeliveries.WithLabelValues(sink, eventType, result).Inc()
}

func IncRateLimited(route string) {
	RateLimited.WithLabelValues(route).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func SetLastSweep(t time.Time) {
	LastSweepTimestamp.Set(float64(t.Unix()))
}
