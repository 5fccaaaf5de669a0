package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/auction/internal/auction"
	"github.com/Checker-Finance/auction/internal/httpclient"
	"github.com/Checker-Finance/auction/internal/metrics"
	"github.com/Checker-Finance/auction/pkg/model"
)

const (
	CommandBid   = "bid"
	CommandClaim = "claim"
)

// maxDeliveries bounds how often a failing command is redelivered before it is
// rejected (and dead-lettered when the queue has a DLX).
const maxDeliveries = 5

// Command is a bid or claim submitted through the command queue.
// Amount is in minor units; for claims it is the payment.
type Command struct {
	Type      string         `json:"type"`
	Caller    model.Identity `json:"caller"`
	ListingID uint64         `json:"listing_id"`
	Amount    int64          `json:"amount"`
}

// AuctionService is the part of the engine commands are applied to.
type AuctionService interface {
	Bid(ctx context.Context, caller model.Identity, listingID uint64, amount int64) error
	ClaimProduct(ctx context.Context, caller model.Identity, listingID uint64, payment int64) error
}

// Consumer consumes auction commands from RabbitMQ
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	service AuctionService
	queue   string
	logger  *zap.Logger
	done    chan struct{}
	streak  int // consecutive requeues, owned by the consume goroutine
}

// NewConsumer creates a new RabbitMQ consumer
func NewConsumer(url, queue string, service AuctionService, logger *zap.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	return &Consumer{
		conn:    conn,
		channel: channel,
		service: service,
		queue:   queue,
		logger:  logger,
		done:    make(chan struct{}),
	}, nil
}

// Start declares the command queue and consumes it until ctx is done or Close is called.
func (c *Consumer) Start(ctx context.Context) error {
	if _, err := c.channel.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", c.queue, err)
	}
	// one in-flight command keeps per-listing ordering equal to queue order
	if err := c.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	msgs, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume from %s: %w", c.queue, err)
	}

	c.logger.Info("rabbitmq.consumer_started", zap.String("queue", c.queue))
	go c.consume(ctx, msgs)
	return nil
}

func (c *Consumer) consume(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn("rabbitmq.command_channel_closed")
				return
			}
			switch c.dispatch(ctx, msg.Body) {
			case outcomeAck:
				c.streak = 0
				_ = msg.Ack(false)
			case outcomeReject:
				c.streak = 0
				_ = msg.Nack(false, false)
			case outcomeRequeue:
				c.requeue(ctx, msg)
			}
		}
	}
}

// requeue returns a failed command to the queue after a backoff, or rejects it
// once it has been delivered maxDeliveries times.
func (c *Consumer) requeue(ctx context.Context, msg amqp.Delivery) {
	again, delay := retryPlan(msg, c.streak)
	if !again {
		c.streak = 0
		c.logger.Error("rabbitmq.command_dead_lettered",
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Int("deliveries", deliveryCount(msg)))
		metrics.IncError("rabbitmq", "dead_lettered")
		_ = msg.Nack(false, false)
		return
	}
	c.streak++
	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		case <-c.done:
			t.Stop()
		}
	}
	_ = msg.Nack(false, true)
}

// deliveryCount is how many times msg was delivered before. Quorum queues carry
// it in x-delivery-count; classic queues only flag a redelivery.
func deliveryCount(msg amqp.Delivery) int {
	switch v := msg.Headers["x-delivery-count"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	if msg.Redelivered {
		return 1
	}
	return 0
}

// retryPlan reports whether msg goes back to the queue and how long to hold it
// first. streak is the number of requeues in a row on this consumer, which
// stands in for the delivery count on queues that do not report one.
func retryPlan(msg amqp.Delivery, streak int) (bool, time.Duration) {
	n := deliveryCount(msg)
	if n >= maxDeliveries {
		return false, 0
	}
	if streak > n {
		n = streak
	}
	if n == 0 {
		return true, 0
	}
	return true, httpclient.Backoff(n - 1)
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeReject
	outcomeRequeue
)

// dispatch applies one command body. Business rejections are final and are
// acknowledged; only unexpected failures are requeued.
func (c *Consumer) dispatch(ctx context.Context, body []byte) outcome {
	var cmd Command
	if err := json.Unmarshal(body, &cmd); err != nil {
		c.logger.Error("rabbitmq.command_unmarshal_failed", zap.Error(err))
		metrics.IncError("rabbitmq", "unmarshal_failed")
		return outcomeReject
	}

	var err error
	switch cmd.Type {
	case CommandBid:
		err = c.service.Bid(ctx, cmd.Caller, cmd.ListingID, cmd.Amount)
	case CommandClaim:
		err = c.service.ClaimProduct(ctx, cmd.Caller, cmd.ListingID, cmd.Amount)
	default:
		c.logger.Error("rabbitmq.unknown_command", zap.String("type", cmd.Type))
		metrics.IncError("rabbitmq", "unknown_command")
		return outcomeReject
	}

	if err == nil {
		return outcomeAck
	}

	code := auction.Code(err)
	fields := []zap.Field{
		zap.String("type", cmd.Type),
		zap.Uint64("listing_id", cmd.ListingID),
		zap.String("caller", cmd.Caller.String()),
		zap.String("code", code),
		zap.Error(err),
	}
	if code == "Internal" || errors.Is(err, context.Canceled) {
		c.logger.Error("rabbitmq.command_failed", fields...)
		metrics.IncError("rabbitmq", "command_failed")
		return outcomeRequeue
	}
	c.logger.Info("rabbitmq.command_rejected", fields...)
	return outcomeAck
}

// Close closes the consumer
func (c *Consumer) Close() error {
	close(c.done)

	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
