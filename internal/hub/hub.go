package hub

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"sentiment-engine/internal/domain"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

// Event kinds sent to browser clients.
const (
	KindInit         = "connection_init"
	KindStream       = "stream"
	KindNotification = "notification"
)

type Event struct {
	Kind      string `json:"kind"`
	Pair      string `json:"pair,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Hub relays live updates and batch notifications to connected browsers.
type Hub struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
	status   func() any
}

// client owns a connection's writes. Broadcast only queues on send; the
// client's writer goroutine performs the socket writes and pings.
type client struct {
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	stopOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *client) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("hub: write failed err=%v", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func New() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetStatusFunc sets the payload attached to each client's hello message.
func (h *Hub) SetStatusFunc(fn func() any) {
	h.status = fn
}

// ServeWS upgrades the request and keeps the client registered until its
// read loop fails. Clients are not expected to send anything.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("hub: upgrade failed err=%v", err)
		return
	}
	defer conn.Close()

	// nothing else writes to conn until it is registered
	hello := Event{Kind: KindInit, Timestamp: time.Now().UnixMilli()}
	if h.status != nil {
		hello.Data = h.status()
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(hello); err != nil {
		return
	}

	c := newClient(conn)
	h.register(c)
	defer h.unregister(c)
	go c.writeLoop()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	log.Printf("hub: client connected total=%d", len(h.clients))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		log.Printf("hub: client disconnected total=%d", len(h.clients))
	}
	c.stop()
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues ev for every client without blocking. A client whose
// queue is full is disconnected.
func (h *Hub) Broadcast(ev Event) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("hub: marshal failed kind=%s err=%v", ev.Kind, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			log.Printf("hub: dropping slow client kind=%s", ev.Kind)
			delete(h.clients, c)
			c.stop()
		}
	}
}

// OnStreamMessage relays a parsed live update.
func (h *Hub) OnStreamMessage(msg domain.StreamMessage) {
	h.Broadcast(Event{Kind: KindStream, Pair: msg.Pair, Data: msg})
}

// Notify relays a batch notification. It never fails.
func (h *Hub) Notify(_ context.Context, n domain.BatchNotification) error {
	h.Broadcast(Event{Kind: KindNotification, Pair: n.Pair, Data: n})
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.stop()
	}
}
