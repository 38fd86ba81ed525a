package websocket

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	sendBuffer     = 16
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxInboundSize = 512
)

// Client is one open socket of a user. Clients only receive; anything the
// browser sends besides control frames is discarded.
type Client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// OriginChecker builds an upgrader origin check from the CORS allow list.
// An empty list or "*" accepts any origin.
func OriginChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, candidate := range allowed {
			if candidate == "*" || strings.EqualFold(candidate, origin) {
				return true
			}
		}
		return false
	}
}

// ServeWS upgrades the request and streams balance and notification pushes
// for userID until the socket closes.
func ServeWS(w http.ResponseWriter, r *http.Request, hub *Hub, userID string, checkOrigin func(*http.Request) bool) {
	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		return
	}
	client := &Client{userID: userID, conn: conn, send: make(chan []byte, sendBuffer)}
	hub.Register(userID, client)
	go client.write(hub)
	client.drain(hub)
}

func (c *Client) close(hub *Hub) {
	hub.Unregister(c.userID, c)
	_ = c.conn.Close()
}

func (c *Client) drain(hub *Hub) {
	defer c.close(hub)
	c.conn.SetReadLimit(maxInboundSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}

func (c *Client) write(hub *Hub) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close(hub)
	}()
	for {
		var (
			kind    int
			payload []byte
		)
		select {
		case message, ok := <-c.send:
			if !ok {
				kind = websocket.CloseMessage
			} else {
				kind, payload = websocket.TextMessage, message
			}
		case <-ticker.C:
			kind = websocket.PingMessage
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(kind, payload); err != nil || kind == websocket.CloseMessage {
			return
		}
	}
}
