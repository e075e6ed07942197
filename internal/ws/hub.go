package ws

import (
	"context"
	"encoding/json"
	"sync"

	"go-invoice-stock/internal/event"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"
)

// Hub fans events out to websocket clients and in-process subscribers.
type Hub struct {
	Clients    map[*websocket.Conn]bool
	Register   chan *websocket.Conn
	Unregister chan *websocket.Conn
	Broadcast  chan event.Event

	subscribers map[chan event.Event]struct{}
	mutex       sync.Mutex
	logger      *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		Clients:     make(map[*websocket.Conn]bool),
		Register:    make(chan *websocket.Conn),
		Unregister:  make(chan *websocket.Conn),
		Broadcast:   make(chan event.Event, 256),
		subscribers: make(map[chan event.Event]struct{}),
		logger:      logger,
	}
}

// Publish queues e for delivery. When the queue is full the event is dropped
// rather than stalling the caller.
func (h *Hub) Publish(e event.Event) {
	select {
	case h.Broadcast <- e:
	default:
		h.logger.Warn("ws hub queue full, dropping event", zap.String("type", string(e.Type)))
	}
}

// Subscribe returns a buffered channel receiving every published event and a
// cancel func that closes it.
func (h *Hub) Subscribe(buffer int) (<-chan event.Event, func()) {
	ch := make(chan event.Event, buffer)
	h.mutex.Lock()
	h.subscribers[ch] = struct{}{}
	h.mutex.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mutex.Lock()
			delete(h.subscribers, ch)
			h.mutex.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for conn := range h.Clients {
				conn.Close()
				delete(h.Clients, conn)
			}
			h.mutex.Unlock()
			return

		case conn := <-h.Register:
			h.mutex.Lock()
			h.Clients[conn] = true
			h.mutex.Unlock()
			h.logger.Debug("ws client connected")

		case conn := <-h.Unregister:
			h.mutex.Lock()
			if _, ok := h.Clients[conn]; ok {
				delete(h.Clients, conn)
				conn.Close()
			}
			h.mutex.Unlock()

		case e := <-h.Broadcast:
			h.dispatch(e)
		}
	}
}

func (h *Hub) dispatch(e event.Event) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for ch := range h.subscribers {
		select {
		case ch <- e:
		default:
			h.logger.Warn("subscriber lagging, event dropped", zap.String("type", string(e.Type)))
		}
	}

	if len(h.Clients) == 0 {
		return
	}
	message, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("marshal ws event", zap.Error(err))
		return
	}
	for conn := range h.Clients {
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			conn.Close()
			delete(h.Clients, conn)
		}
	}
}
