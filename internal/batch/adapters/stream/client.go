package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is the frame exchanged with stream clients.
type Message struct {
	Type    string      `json:"type"`
	Event   string      `json:"event,omitempty"`
	Room    string      `json:"room,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// Client is one websocket connection. Rooms are entity types.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	remote string

	mu    sync.RWMutex
	rooms map[string]bool
}

// ServeWS upgrades the request and streams flush events until the client
// goes away. Clients may pre-subscribe with ?entityType=a&entityType=b.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade stream connection", "error", err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		remote: c.ClientIP(),
		rooms:  make(map[string]bool),
	}
	for _, room := range c.QueryArray("entityType") {
		if room != "" {
			client.rooms[room] = true
		}
	}

	if !h.join(client) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_ = conn.Close()
		return
	}

	client.reply(Message{Type: "ack", Event: "connected", Payload: client.subscriptions()})

	go client.writePump()
	go client.readPump()
}

func (c *Client) wants(room string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rooms) == 0 || c.rooms[room]
}

func (c *Client) subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("Stream read error", "error", err)
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(Message{Type: "error", Payload: "malformed message"})
		return
	}

	switch msg.Type {
	case "subscribe":
		if msg.Room == "" {
			c.reply(Message{Type: "error", Event: "subscribe", Payload: "room is required"})
			return
		}
		c.mu.Lock()
		c.rooms[msg.Room] = true
		c.mu.Unlock()
		c.reply(Message{Type: "ack", Event: "subscribed", Room: msg.Room})

	case "unsubscribe":
		c.mu.Lock()
		delete(c.rooms, msg.Room)
		c.mu.Unlock()
		c.reply(Message{Type: "ack", Event: "unsubscribed", Room: msg.Room})

	case "ping":
		c.reply(Message{Type: "pong", Payload: time.Now().UnixMilli()})

	default:
		c.hub.logger.Debug("Unknown stream message type", "type", msg.Type)
	}
}

// reply queues msg for this client only.
func (c *Client) reply(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
	}
}
