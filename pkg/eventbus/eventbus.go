package eventbus

import (
	"context"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/Checker-Finance/auction/pkg/model"
)

// Handler is a function that handles an event
type Handler func(ctx context.Context, event model.Event)

// EventBus provides in-process pub/sub for auction events.
// Delivery is synchronous and follows subscription order.
type EventBus struct {
	handlers map[reflect.Type][]Handler
	all      []Handler
	mu       sync.RWMutex
	logger   *zap.Logger
}

// New creates a new EventBus
func New(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		handlers: make(map[reflect.Type][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for the concrete type of eventType.
func (e *EventBus) Subscribe(eventType model.Event, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := reflect.TypeOf(eventType)
	e.handlers[t] = append(e.handlers[t], handler)
}

// SubscribeAll registers a handler that receives every event.
func (e *EventBus) SubscribeAll(handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, handler)
}

// Notify delivers event to the typed subscribers and then to the catch-all ones.
// A panicking handler is logged and does not stop delivery to the rest.
func (e *EventBus) Notify(ctx context.Context, event model.Event) {
	if event == nil {
		return
	}

	e.mu.RLock()
	typed := e.handlers[reflect.TypeOf(event)]
	handlers := make([]Handler, 0, len(typed)+len(e.all))
	handlers = append(handlers, typed...)
	handlers = append(handlers, e.all...)
	e.mu.RUnlock()

	for _, h := range handlers {
		e.deliver(ctx, h, event)
	}
}

func (e *EventBus) deliver(ctx context.Context, h Handler, event model.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("eventbus.handler_panic",
				zap.String("event_type", event.EventType()),
				zap.Uint64("listing_id", event.Listing()),
				zap.Any("panic", r))
		}
	}()
	h(ctx, event)
}
