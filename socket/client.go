package socket

import (
	"database/sql"
	"net/http"
	"time"

	"codraft/internal/config"
	"codraft/pkg/logger"

	"github.com/gorilla/websocket"
)

func newUpgrader(cfg config.WebSocketConfig) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		// CheckOrigin allows connections from the dev frontend.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
}

// Client is one subscriber connection to a document's change feed.
// The feed is push-only: clients never send edits over the socket,
// saves go through the REST save path.
type Client struct {
	Hub    *Hub
	Conn   *websocket.Conn
	DocID  string
	UserID string
	Send   chan []byte
}

func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, userID string) {
	docID := r.URL.Query().Get("docId")
	if docID == "" {
		http.Error(w, "Missing docId parameter", http.StatusBadRequest)
		return
	}

	// Read access gate: owner, collaborator, or public document.
	var ownerID, visibility string
	err := hub.db.QueryRow("SELECT owner_id, visibility FROM documents WHERE id = $1", docID).
		Scan(&ownerID, &visibility)
	if err == sql.ErrNoRows {
		logger.Sugar.Warnf("Feed connection rejected: document %s not found", docID)
		http.Error(w, "Document not found", http.StatusNotFound)
		return
	} else if err != nil {
		logger.Sugar.Errorf("Database error checking document %s: %v", docID, err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	if ownerID != userID && visibility != "public" {
		var permission string
		if err := hub.db.QueryRow("SELECT permission FROM collaborators WHERE document_id = $1 AND user_id = $2",
			docID, userID).Scan(&permission); err != nil {
			logger.Sugar.Warnf("Feed connection rejected: user %s has no access to doc %s", userID, docID)
			http.Error(w, "Access denied", http.StatusForbidden)
			return
		}
	}

	upgrader := newUpgrader(hub.cfg)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Error(err)
		return
	}

	client := &Client{
		Hub:    hub,
		Conn:   conn,
		DocID:  docID,
		UserID: userID,
		Send:   make(chan []byte, hub.cfg.SendBufferSize),
	}

	client.Hub.Register <- client

	go client.writePump()
	go client.readPump()
}

// readPump exists only to detect disconnects; inbound frames are discarded.
func (c *Client) readPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Sugar.Errorf("error: %v", err)
			}
			break
		}
	}
}

func (c *Client) writePump() {
	// Periodic pings keep the connection alive and detect drops.
	ticker := time.NewTicker(c.Hub.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.Send:
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.Conn.WriteMessage(websocket.TextMessage, message)
		case <-ticker.C:
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return // Connection is dead
			}
		}
	}
}
