package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/desertthunder/pkgsend/internal/shared"
	"github.com/desertthunder/pkgsend/internal/tasks"
)

const (
	// sendBufferSize is the per-client outbound frame buffer.
	sendBufferSize = 256

	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// Hub accepts operator connections, runs their commands and broadcasts task updates.
type Hub struct {
	dispatcher *Dispatcher
	logger     *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	clients map[*WSClient]struct{}
	mu      sync.RWMutex
	wg      sync.WaitGroup
}

// WSClient is one connected operator.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn

	mu     sync.Mutex // guards send against close
	send   chan []byte
	closed bool
}

// NewHub creates a hub that dispatches commands through d.
func NewHub(d *Dispatcher, logger *log.Logger) *Hub {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		dispatcher: d,
		logger:     logger.With("component", "bridge"),
		ctx:        ctx,
		cancel:     cancel,
		clients:    make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then cancels in-flight commands and disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.cancel()
	h.closeAll()
	h.wg.Wait()
}

// Routes returns the HTTP routes this handler serves.
func (h *Hub) Routes() []string {
	return []string{"GET /ws"}
}

// ServeHTTP upgrades the connection and starts the client's pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	h.register(client)

	go client.writePump()
	go client.readPump()
}

func (h *Hub) register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("operator connected", "clients", h.ClientCount())
}

// unregister removes c and closes its send channel.
func (h *Hub) unregister(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	c.close()
	h.logger.Debug("operator disconnected", "clients", h.ClientCount())
}

// ClientCount returns the number of connected operators.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an id-less event to every operator.
func (h *Hub) Broadcast(event string, payload any) {
	data, err := json.Marshal(newEvent("", event, payload))
	if err != nil {
		h.logger.Error("failed to marshal broadcast", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.trySend(data)
	}
}

// Handle broadcasts a registry update: updateTask for live tasks, removeTask once gone.
func (h *Hub) Handle(u tasks.Update) {
	if u.Task == nil {
		return
	}
	if u.Kind.Terminal() {
		h.Broadcast(EventRemoveTask, u.Task.Name)
		return
	}
	h.Broadcast(EventUpdateTask, u.Task)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		c.close()
		c.conn.Close()
		delete(h.clients, c)
	}
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleMessage(data)
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage runs a command in its own goroutine so a slow device call does not stall reads.
func (c *WSClient) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(Message{Type: TypeError, Payload: mustJSON(map[string]string{"message": "invalid JSON message"})})
		return
	}
	if c.hub.ctx.Err() != nil {
		return
	}
	if msg.Type != TypeCommand {
		c.reply(Message{Type: TypeError, ID: msg.ID, Payload: mustJSON(map[string]string{"message": "unexpected frame type: " + msg.Type})})
		return
	}

	c.hub.wg.Add(1)
	go func() {
		defer c.hub.wg.Done()
		for _, out := range c.hub.dispatcher.Dispatch(c.hub.ctx, msg) {
			c.reply(out)
		}
		c.reply(Message{Type: TypeDone, ID: msg.ID})
	}()
}

func (c *WSClient) reply(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.logger.Error("failed to marshal reply", "event", msg.Event, "error", err)
		return
	}
	c.trySend(data)
}

// trySend queues data without blocking, dropping it when the buffer is full or the client is gone.
func (c *WSClient) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close closes the send channel once; the write pump then sends a close frame and exits.
func (c *WSClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
