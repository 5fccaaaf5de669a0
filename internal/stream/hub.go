package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Checker-Finance/auction/internal/metrics"
	"github.com/Checker-Finance/auction/pkg/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Message is what subscribers receive for every event on their listing.
type Message struct {
	Type      string          `json:"type"`
	ListingID uint64          `json:"listing_id"`
	Data      json.RawMessage `json:"data"`
}

// Client is one websocket subscriber watching a single listing.
type Client struct {
	ID        string
	ListingID uint64
	conn      *websocket.Conn
	send      chan []byte

	mu      sync.Mutex
	closed  bool
	pending bool // set until the snapshot is queued; live frames wait in backlog
	backlog []frame
}

// frame is one outgoing message. seq is the listing sequence it reflects, or 0
// when it must always be delivered.
type frame struct {
	seq  uint64
	data []byte
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// offer queues f and reports false when the client cannot keep up.
func (c *Client) offer(f frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	if c.pending {
		// one slot stays free for the snapshot
		if len(c.backlog) >= cap(c.send)-1 {
			return false
		}
		c.backlog = append(c.backlog, f)
		return true
	}
	select {
	case c.send <- f.data:
		return true
	default:
		return false
	}
}

// prime queues the snapshot, then every backlogged frame newer than it.
func (c *Client) prime(snapshot []byte, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.send <- snapshot
	for _, f := range c.backlog {
		if f.seq != 0 && f.seq <= seq {
			continue
		}
		c.send <- f.data
	}
	c.backlog = nil
	c.pending = false
}

// Hub fans auction events out to the websocket subscribers of each listing.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]map[*Client]struct{}
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{subs: make(map[uint64]map[*Client]struct{}), logger: logger}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	set, ok := h.subs[c.ListingID]
	if !ok {
		set = make(map[*Client]struct{})
		h.subs[c.ListingID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	metrics.StreamSubscribers.Inc()
	h.logger.Debug("stream.subscribed", zap.String("client_id", c.ID), zap.Uint64("listing_id", c.ListingID))
}

// unregister is idempotent. The send channel is closed only after the client
// has left the map, so Broadcast never writes to a closed channel.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	set := h.subs[c.ListingID]
	_, present := set[c]
	if present {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, c.ListingID)
		}
	}
	h.mu.Unlock()

	if present {
		metrics.StreamSubscribers.Dec()
		h.logger.Debug("stream.unsubscribed", zap.String("client_id", c.ID), zap.Uint64("listing_id", c.ListingID))
	}
	c.close()
}

// Broadcast queues payload for every subscriber of listingID. Subscribers whose
// buffer is full are disconnected so one slow reader cannot stall the rest.
func (h *Hub) Broadcast(listingID uint64, payload []byte) int {
	return h.broadcast(listingID, frame{data: payload})
}

func (h *Hub) broadcast(listingID uint64, f frame) int {
	var slow []*Client
	sent := 0

	h.mu.RLock()
	for c := range h.subs[listingID] {
		if c.offer(f) {
			sent++
		} else {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("stream.slow_subscriber_dropped", zap.String("client_id", c.ID), zap.Uint64("listing_id", listingID))
		h.unregister(c)
	}
	return sent
}

// Handle is the event bus subscription.
func (h *Hub) Handle(_ context.Context, ev model.Event) {
	payload, err := encode(ev)
	if err != nil {
		metrics.IncError("stream", "marshal_failed")
		return
	}
	if n := h.broadcast(ev.Listing(), frame{seq: mutationSeq(ev), data: payload}); n > 0 {
		metrics.IncDelivery("stream", ev.EventType(), "ok")
	}
}

// mutationSeq is the listing sequence an event leaves behind. AuctionClosed
// does not advance the sequence and is never deduplicated against a snapshot.
func mutationSeq(ev model.Event) uint64 {
	switch e := ev.(type) {
	case model.ListingCreated:
		return e.Sequence
	case model.NewWinningBid:
		return e.Sequence
	case model.ProductClaimed:
		return e.Sequence
	}
	return 0
}

func encode(ev model.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: ev.EventType(), ListingID: ev.Listing(), Data: data})
}

// SubscriberCount returns the number of clients watching listingID.
func (h *Hub) SubscriberCount(listingID uint64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[listingID])
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*Client
	for _, set := range h.subs {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		h.unregister(c)
	}
}

// writePump pumps messages from the send channel to the websocket connection
func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.unregister(c)
				return
			}

		case <-ticker.C:
			// keepalive
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}

// readPump only drains control frames; subscribers never send commands.
func (h *Hub) readPump(c *Client) {
	defer h.unregister(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("stream.read_failed", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
	}
}
