package socket

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"codraft/internal/config"
	"codraft/internal/document/model"
	"codraft/pkg/logger"
)

// Hub fans row-level change events out to every client subscribed to a
// document. It holds no document content: persistence goes through the
// compare-and-swap save path, the hub only notifies.
type Hub struct {
	Rooms      map[string]map[*Client]bool
	Broadcast  chan model.ChangeEvent
	Register   chan *Client
	Unregister chan *Client
	db         *sql.DB
	cfg        config.WebSocketConfig
	mu         sync.Mutex
}

func NewHub(db *sql.DB, cfg config.WebSocketConfig) *Hub {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 1024
	}
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = 1024
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = 256
	}
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = 30 * time.Second
	}
	return &Hub{
		Rooms:      make(map[string]map[*Client]bool),
		Broadcast:  make(chan model.ChangeEvent, 64),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		db:         db,
		cfg:        cfg,
	}
}

// Publish hands a change event to the hub loop. Implements the document
// service's Feed dependency.
func (h *Hub) Publish(ev model.ChangeEvent) {
	h.Broadcast <- ev
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			if h.Rooms[client.DocID] == nil {
				h.Rooms[client.DocID] = make(map[*Client]bool)
			}
			h.Rooms[client.DocID][client] = true
			h.mu.Unlock()
			logger.Sugar.Infof("Feed subscriber joined doc %s (user %s)", client.DocID, client.UserID)

		case client := <-h.Unregister:
			h.mu.Lock()
			if _, ok := h.Rooms[client.DocID][client]; ok {
				delete(h.Rooms[client.DocID], client)
				close(client.Send)
				if len(h.Rooms[client.DocID]) == 0 {
					delete(h.Rooms, client.DocID)
					logger.Sugar.Infof("Closed empty feed room: %s", client.DocID)
				}
			}
			h.mu.Unlock()

		case ev := <-h.Broadcast:
			payload, err := json.Marshal(ev)
			if err != nil {
				logger.Sugar.Errorf("Error marshalling change event: %v", err)
				continue
			}

			// Copy the recipient list so socket I/O happens outside the lock.
			h.mu.Lock()
			clientsToSend := make([]*Client, 0, len(h.Rooms[ev.DocumentID]))
			for client := range h.Rooms[ev.DocumentID] {
				clientsToSend = append(clientsToSend, client)
			}
			h.mu.Unlock()

			// Delivery is at-least-once and FIFO per subscription; the
			// saver's own session receives its echo too and drops it by
			// timestamp comparison.
			for _, client := range clientsToSend {
				select {
				case client.Send <- payload:
				default:
					// Send buffer full means the client is lagging badly.
					// Unregister it rather than block the hub. Must not
					// send to our own channel from this loop.
					logger.Sugar.Warnf("Client %s's send buffer is full. Unregistering.", client.UserID)
					go func(c *Client) { h.Unregister <- c }(client)
				}
			}
		}
	}
}

// RemoveDocument disconnects every subscriber of a deleted document and
// drops its room.
func (h *Hub) RemoveDocument(docID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.Rooms[docID]; ok {
		for client := range clients {
			client.Conn.Close() // readPump exits and unregisters safely
		}
		delete(h.Rooms, docID)
	}
}
