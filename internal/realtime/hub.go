// Package realtime pushes domain changes to websocket subscribers.
package realtime

import (
	"context"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/core-coin/speculum/internal/models"
	"github.com/core-coin/speculum/pkg/logger"
)

const (
	sendBuffer   = 256
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ClientMessage is sent by websocket clients.
// Service is a service name such as "notifier.stakes", or "*" for every service.
type ClientMessage struct {
	Action  string `json:"action"`
	Service string `json:"service"`
}

// ServerMessage is sent to websocket clients.
type ServerMessage struct {
	Type    string      `json:"type"`
	Service string      `json:"service,omitempty"`
	Payload interface{} `json:"payload"`
}

type subscriptions struct {
	mu       sync.RWMutex
	services map[string]bool
}

func (s *subscriptions) subscribe(service string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[service] = true
}

func (s *subscriptions) unsubscribe(service string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.services, service)
}

func (s *subscriptions) has(service string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.services["*"] || s.services[service]
}

type client struct {
	send chan ServerMessage
	subs *subscriptions
}

// Hub keeps the connected websocket clients and broadcasts service events to them.
type Hub struct {
	logger *logger.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub(logger *logger.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Service returns the emitter of one named service.
func (h *Hub) Service(name string) models.Emitter {
	return &serviceEmitter{hub: h, name: name}
}

type serviceEmitter struct {
	hub  *Hub
	name string
}

func (e *serviceEmitter) Emit(event string, payload interface{}) {
	e.hub.broadcast(ServerMessage{Type: event, Service: e.name, Payload: payload})
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(msg ServerMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.subs.has(msg.Service) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.logger.Warnw("Dropping message for slow websocket client", "service", msg.Service, "type", msg.Type)
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// ServeHTTP upgrades the connection and serves one client until it disconnects.
//
// Client sends: {"action": "subscribe", "service": "notifier.stakes"}
// Server sends: {"type": "updated", "service": "notifier.stakes", "payload": {...}}
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("Failed to upgrade websocket connection", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &client{
		send: make(chan ServerMessage, sendBuffer),
		subs: &subscriptions{services: make(map[string]bool)},
	}
	h.register(c)
	h.logger.Debugw("Websocket client connected", "remote_addr", r.RemoteAddr)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		defer h.recoverClient(cancel, r.RemoteAddr)
		h.writeMessages(ctx, conn, c.send)
	}()

	h.readClientMessages(ctx, conn, cancel, c)

	h.unregister(c)
	cancel()
	wg.Wait()
	h.logger.Debugw("Websocket client disconnected", "remote_addr", r.RemoteAddr)
}

func (h *Hub) recoverClient(cancel context.CancelFunc, remote string) {
	if rec := recover(); rec != nil {
		h.logger.Errorw("Panic in websocket writer",
			"panic", rec,
			"stack", string(debug.Stack()),
			"remote_addr", remote)
		cancel()
	}
}

func (h *Hub) writeMessages(ctx context.Context, conn *websocket.Conn, send <-chan ServerMessage) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Warnw("Failed to write websocket message", "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeTimeout)); err != nil {
				h.logger.Warnw("Failed to send ping", "error", err)
				return
			}
		}
	}
}

func (h *Hub) readClientMessages(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc, c *client) {
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	reply := func(msg ServerMessage) {
		select {
		case c.send <- msg:
		case <-ctx.Done():
		}
	}

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warnw("Websocket read error", "error", err)
			}
			cancel()
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		if msg.Service == "" && (msg.Action == "subscribe" || msg.Action == "unsubscribe") {
			reply(ServerMessage{Type: "error", Payload: map[string]string{"message": "service is required"}})
			continue
		}
		switch msg.Action {
		case "subscribe":
			c.subs.subscribe(msg.Service)
			reply(ServerMessage{Type: "subscribed", Payload: map[string]string{"service": msg.Service}})
		case "unsubscribe":
			c.subs.unsubscribe(msg.Service)
			reply(ServerMessage{Type: "unsubscribed", Payload: map[string]string{"service": msg.Service}})
		default:
			reply(ServerMessage{Type: "error", Payload: map[string]string{"message": "unknown action: " + msg.Action}})
		}
	}
}
