package services

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Riboost-Studio/order-print-desk/internal/model"
)

// --- Dashboard WebSocket push ---

var upgrader = websocket.Upgrader{
	CheckOrigin: localOrigin,
}

// localOrigin accepts non-browser clients and pages served from the
// loopback interface only. Matching the request's own Host is not enough:
// a rebound DNS name would pass.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return loopbackHost(u.Host)
}

// loopbackHost reports whether host (with or without a port) names the
// loopback interface.
func loopbackHost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.Trim(host, "[]"), ".")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan model.WSMessage
	hub  *Hub
}

// Hub fans push messages out to every connected dashboard. Retained
// messages are replayed to dashboards that connect later.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan model.WSMessage
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mutex      sync.RWMutex

	retainMu sync.Mutex
	retained map[model.MessageType]model.WSMessage

	logger *logrus.Logger
	now    func() time.Time
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan model.WSMessage, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		retained:   make(map[model.MessageType]model.WSMessage),
		logger:     logger,
		now:        time.Now,
	}
}

// Run delivers messages until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mutex.Unlock()
			return

		case c := <-h.register:
			h.mutex.Lock()
			h.clients[c] = true
			count := len(h.clients)
			h.mutex.Unlock()
			for _, msg := range h.retainedMessages() {
				select {
				case c.send <- msg:
				default:
				}
			}
			h.logger.WithFields(logrus.Fields{"client_id": c.id, "client_count": count}).Info("Dashboard connected")

		case c := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.WithFields(logrus.Fields{"client_id": c.id, "client_count": count}).Info("Dashboard disconnected")

		case message := <-h.broadcast:
			h.mutex.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mutex.Unlock()
		}
	}
}

func (h *Hub) message(t model.MessageType, data any) model.WSMessage {
	return model.WSMessage{
		Type:      t,
		Data:      data,
		Timestamp: h.now().Format(time.RFC3339),
	}
}

func (h *Hub) Broadcast(t model.MessageType, data any) {
	h.publish(h.message(t, data))
}

// Retain broadcasts and remembers the message as the latest of its type.
func (h *Hub) Retain(t model.MessageType, data any) {
	msg := h.message(t, data)
	h.retainMu.Lock()
	h.retained[t] = msg
	h.retainMu.Unlock()
	h.publish(msg)
}

// Forget drops the retained message of type t.
func (h *Hub) Forget(t model.MessageType) {
	h.retainMu.Lock()
	delete(h.retained, t)
	h.retainMu.Unlock()
}

func (h *Hub) retainedMessages() []model.WSMessage {
	h.retainMu.Lock()
	defer h.retainMu.Unlock()
	msgs := make([]model.WSMessage, 0, len(h.retained))
	for _, m := range h.retained {
		msgs = append(msgs, m)
	}
	return msgs
}

func (h *Hub) publish(msg model.WSMessage) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.WithField("type", msg.Type).Warn("Broadcast channel full, dropping message")
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan model.WSMessage, 256),
		hub:  h,
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithError(err).WithField("client_id", c.id).Error("WebSocket error")
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				c.hub.logger.WithError(err).Error("Failed to marshal WebSocket message")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
