package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/scoutbatch-go/internal/batch/ports"
	"github.com/scoutbatch-go/internal/domain/batch"
	"github.com/scoutbatch-go/pkg/logger"
)

const broadcastBuffer = 256

// FlushEvent is the payload pushed to subscribers after each flush.
type FlushEvent struct {
	batch.FlushResult
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}

type envelope struct {
	room string
	data []byte
}

// Hub fans flush outcomes out to websocket clients. A client with no
// subscriptions hears about every entity type; otherwise only about the
// entity types it subscribed to. All client bookkeeping happens on the Run
// goroutine.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	logger     logger.Logger

	mu    sync.RWMutex
	count int
}

var _ ports.FlushObserver = (*Hub)(nil)

func NewHub(log logger.Logger) *Hub {
	if log == nil {
		log = logger.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     log,
	}
}

// Run serves the hub until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for client := range h.clients {
			h.drop(client)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.clients[client] = true
			h.setCount(len(h.clients))
			h.logger.Info("Stream client connected", "remote", client.remote)
		case client := <-h.unregister:
			if h.clients[client] {
				h.drop(client)
				h.logger.Info("Stream client disconnected", "remote", client.remote)
			}
		case msg := <-h.broadcast:
			for client := range h.clients {
				if !client.wants(msg.room) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					h.logger.Warn("Dropping slow stream client", "remote", client.remote)
					h.drop(client)
				}
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.done)
	h.setCount(len(h.clients))
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// ConnectionCount returns the number of connected clients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// FlushCompleted queues a flush event for delivery. It never blocks the
// flush path: when the hub is stopped or backed up the event is dropped.
func (h *Hub) FlushCompleted(result batch.FlushResult, err error) {
	event := FlushEvent{FlushResult: result, At: time.Now().UTC()}
	if err != nil {
		event.Error = err.Error()
	}
	data, mErr := json.Marshal(Message{Type: "flush", Room: result.Key.EntityType, Payload: event})
	if mErr != nil {
		h.logger.Error("Failed to encode flush event", "error", mErr)
		return
	}

	select {
	case <-h.done:
	case h.broadcast <- envelope{room: result.Key.EntityType, data: data}:
	default:
		h.logger.Warn("Stream backlog full, dropping flush event", "entityType", result.Key.EntityType)
	}
}

// join hands client to the Run loop. It reports false once the hub has
// stopped.
func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
