package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/auction/internal/metrics"
	"github.com/Checker-Finance/auction/pkg/logger"
	"github.com/Checker-Finance/auction/pkg/model"
)

// Publisher wraps a NATS connection and publishes auction events as canonical envelopes.
type Publisher struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	prefix  string
	service string
}

// New creates a new Publisher with JetStream enabled.
func New(nc *nats.Conn, prefix, service string) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &Publisher{
		nc:      nc,
		js:      js,
		prefix:  prefix,
		service: service,
	}, nil
}

// Subject returns the subject events of eventType are published on.
func (p *Publisher) Subject(eventType string) string {
	return fmt.Sprintf("%s.%s.v1", p.prefix, eventType)
}

// EnsureStream creates the stream covering every auction subject if it does not exist.
func (p *Publisher) EnsureStream(name string) error {
	_, err := p.js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", name, err)
	}
	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: []string{p.prefix + ".>"},
		Storage:  nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("add stream %s: %w", name, err)
	}
	logger.S().Infow("publisher.stream_created", "stream", name, "subjects", p.prefix+".>")
	return nil
}

// PublishEnvelope serializes and publishes a canonical event envelope to NATS.
// The message id makes redelivery of the same listing mutation idempotent on the stream.
func (p *Publisher) PublishEnvelope(ctx context.Context, subject string, env *model.Envelope, msgID string) error {
	data, err := json.Marshal(env)
	if err != nil {
		logger.S().Errorw("publisher.marshal_failed",
			"subject", subject,
			"event_type", env.EventType,
			"error", err,
		)
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
			"listing_id":     []string{strconv.FormatUint(env.ListingID, 10)},
		},
	}
	if msgID != "" {
		msg.Header.Set(nats.MsgIdHdr, msgID)
	}

	start := time.Now()
	_, err = p.js.PublishMsg(msg, nats.Context(ctx))
	metrics.ObserveDuration(metrics.NATSMessageLatency, start, subject)

	if err != nil {
		logger.S().Errorw("publisher.publish_failed",
			"subject", subject,
			"event_type", env.EventType,
			"listing_id", env.ListingID,
			"error", err,
		)
		metrics.IncDelivery("nats", env.EventType, "error")
		return err
	}

	logger.S().Debugw("publisher.publish_success",
		"subject", subject,
		"event_type", env.EventType,
		"listing_id", env.ListingID,
	)

	metrics.IncDelivery("nats", env.EventType, "ok")
	return nil
}

// PublishEvent wraps ev in an envelope and publishes it on its subject.
func (p *Publisher) PublishEvent(ctx context.Context, ev model.Event) error {
	subject := p.Subject(ev.EventType())
	env, err := model.NewEnvelope(p.service, subject, ev)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}
	return p.PublishEnvelope(ctx, subject, env, messageID(ev))
}

// Handle is the event bus subscription. Failures are logged and counted, not returned.
func (p *Publisher) Handle(ctx context.Context, ev model.Event) {
	_ = p.PublishEvent(ctx, ev)
}

func messageID(ev model.Event) string {
	var seq uint64
	switch e := ev.(type) {
	case model.ListingCreated:
		seq = e.Sequence
	case model.NewWinningBid:
		seq = e.Sequence
	case model.ProductClaimed:
		seq = e.Sequence
	case model.AuctionClosed:
		// closing does not bump the listing sequence; the type keeps it distinct
		seq = e.Sequence
	}
	return fmt.Sprintf("listing-%d-%s-%d", ev.Listing(), ev.EventType(), seq)
}

func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		p.nc.Close()
	}
}
