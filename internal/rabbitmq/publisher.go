package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/auction/internal/metrics"
	"github.com/Checker-Finance/auction/pkg/model"
)

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher publishes auction events to a topic exchange, routed by event type.
type Publisher struct {
	conn     *amqp.Connection
	channel  publishChannel
	exchange string
	service  string
	logger   *zap.Logger
}

// NewPublisher creates a new RabbitMQ publisher and declares its exchange.
func NewPublisher(url, exchange, service string, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &Publisher{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		service:  service,
		logger:   logger,
	}, nil
}

// Handle is the event bus subscription.
func (p *Publisher) Handle(ctx context.Context, ev model.Event) {
	msg, err := p.publishing(ev)
	if err != nil {
		p.logger.Error("rabbitmq.marshal_failed", zap.String("event_type", ev.EventType()), zap.Error(err))
		metrics.IncError("rabbitmq", "marshal_failed")
		return
	}

	err = p.channel.PublishWithContext(ctx, p.exchange, ev.EventType(), false, false, msg)
	if err != nil {
		p.logger.Error("rabbitmq.publish_failed",
			zap.String("event_type", ev.EventType()),
			zap.Uint64("listing_id", ev.Listing()),
			zap.Error(err))
		metrics.IncDelivery("rabbitmq", ev.EventType(), "error")
		return
	}
	metrics.IncDelivery("rabbitmq", ev.EventType(), "ok")
}

func (p *Publisher) publishing(ev model.Event) (amqp.Publishing, error) {
	env, err := model.NewEnvelope(p.service, ev.EventType(), ev)
	if err != nil {
		return amqp.Publishing{}, err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return amqp.Publishing{}, err
	}

	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.ID.String(),
		CorrelationId: env.CorrelationID.String(),
		Timestamp:     env.Timestamp,
		Type:          ev.EventType(),
		AppId:         p.service,
		Headers:       amqp.Table{"listing_id": strconv.FormatUint(ev.Listing(), 10)},
		Body:          body,
	}
	if ev.EventType() == model.EventProductClaimed {
		msg.Priority = 10
	}
	return msg, nil
}

// Close closes the publisher
func (p *Publisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
