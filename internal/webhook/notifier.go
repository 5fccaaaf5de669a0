package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/Checker-Finance/auction/internal/httpclient"
	"github.com/Checker-Finance/auction/internal/metrics"
	"github.com/Checker-Finance/auction/pkg/model"
)

const queueSize = 1024

// Notifier posts event envelopes to a single HTTP endpoint. Delivery happens on
// a worker goroutine so a slow receiver never blocks the engine.
type Notifier struct {
	endpoint string
	host     string
	service  string
	exec     *httpclient.Executor
	queue    chan *model.Envelope
	logger   *zap.Logger
}

func New(endpoint, service string, exec *httpclient.Executor, logger *zap.Logger) (*Notifier, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook url %q", endpoint)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		endpoint: endpoint,
		host:     u.Host,
		service:  service,
		exec:     exec,
		queue:    make(chan *model.Envelope, queueSize),
		logger:   logger,
	}, nil
}

// Handle is the event bus subscription. It only enqueues.
func (n *Notifier) Handle(_ context.Context, ev model.Event) {
	env, err := model.NewEnvelope(n.service, ev.EventType(), ev)
	if err != nil {
		metrics.IncError("webhook", "marshal_failed")
		return
	}
	select {
	case n.queue <- env:
	default:
		n.logger.Warn("webhook.queue_full",
			zap.String("event_type", ev.EventType()),
			zap.Uint64("listing_id", ev.Listing()))
		metrics.IncDelivery("webhook", ev.EventType(), "dropped")
	}
}

// Run delivers queued envelopes until ctx is done.
func (n *Notifier) Run(ctx context.Context) error {
	n.logger.Info("webhook.started", zap.String("host", n.host))
	for {
		select {
		case <-ctx.Done():
			n.logger.Info("webhook.stopped", zap.Int("pending", len(n.queue)))
			return nil
		case env := <-n.queue:
			if err := n.Deliver(ctx, env); err != nil {
				n.logger.Warn("webhook.delivery_failed",
					zap.String("event_type", env.EventType),
					zap.Uint64("listing_id", env.ListingID),
					zap.Error(err))
			}
		}
	}
}

// Deliver posts one envelope, retrying 5xx responses through the executor.
func (n *Notifier) Deliver(ctx context.Context, env *model.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", env.EventType)
	req.Header.Set("X-Event-Id", env.ID.String())

	if err := n.exec.DoJSON(ctx, req, n.host, nil); err != nil {
		metrics.IncDelivery("webhook", env.EventType, "error")
		return err
	}
	metrics.IncDelivery("webhook", env.EventType, "ok")
	return nil
}
