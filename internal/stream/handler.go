package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Checker-Finance/auction/internal/auction"
	"github.com/Checker-Finance/auction/pkg/model"
)

// ListingSource reads the committed state of a listing.
type ListingSource interface {
	GetListing(ctx context.Context, listingID uint64) (model.Listing, error)
}

// Handler serves the websocket bid stream.
type Handler struct {
	hub      *Hub
	listings ListingSource
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewHandler(hub *Hub, listings ListingSource, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		hub:      hub,
		listings: listings,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// browsers on any origin may watch public auctions
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Router configures the stream routes.
func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/ws/listings/{id:[0-9]+}", h.HandleWebSocket)
	router.HandleFunc("/stats/listings/{id:[0-9]+}", h.GetStats).Methods(http.MethodGet)
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	return router
}

// HandleWebSocket upgrades the connection and sends the current listing as a
// "snapshot" message before any live event. The client is subscribed before the
// listing is read, so no mutation committed in between is lost; live events the
// snapshot already reflects are dropped.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid listing id"})
		return
	}

	client := &Client{
		ID:        uuid.New().String(),
		ListingID: id,
		send:      make(chan []byte, sendBuffer),
		pending:   true,
	}
	h.hub.register(client)

	listing, err := h.listings.GetListing(r.Context(), id)
	if errors.Is(err, auction.ErrUnknownListing) {
		h.hub.unregister(client)
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error(), "code": auction.Code(err)})
		return
	} else if err != nil {
		h.hub.unregister(client)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.unregister(client)
		h.logger.Warn("stream.upgrade_failed", zap.Error(err))
		return
	}
	client.conn = conn

	snapshot, _ := json.Marshal(listing)
	hello, _ := json.Marshal(Message{Type: "snapshot", ListingID: id, Data: snapshot})
	client.prime(hello, listing.Sequence)

	go h.hub.writePump(client)
	go h.hub.readPump(client)
}

// GetStats returns the number of subscribers watching a listing.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid listing id"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listing_id": id, "subscribers": h.hub.SubscriberCount(id)})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
