package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"transcendence/coordinator/internal/config"
)

const writeWait = 10 * time.Second

// Hub owns the websocket surface: it upgrades connections, tracks live
// clients by session identifier, and serves as the broadcaster's transport.
type Hub struct {
	cfg      *config.Config
	log      *zap.Logger
	auth     websocketAuthenticator
	upgrader websocket.Upgrader

	service *Service

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub builds the websocket hub. The service is attached afterwards via
// SetService because the service needs the hub as its transport.
func NewHub(cfg *config.Config, auth websocketAuthenticator, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		cfg:     cfg,
		log:     log,
		auth:    auth,
		clients: make(map[string]*Client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// SetService attaches the coordination service once it is constructed.
func (h *Hub) SetService(svc *Service) {
	h.service = svc
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// Send delivers a prepared frame to one session. Delivery is fire and
// forget: a session whose buffer is full is disconnected rather than
// allowed to stall everyone behind it.
func (h *Hub) Send(sessionID string, frame []byte) {
	h.mu.RLock()
	c := h.clients[sessionID]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	select {
	case c.send <- frame:
	default:
		h.log.Warn("send buffer full, dropping client",
			zap.String("session_id", sessionID))
		c.closeSlow()
	}
}

// ClientCount reports the number of live sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS authenticates and upgrades an incoming websocket request, then
// hands the connection to its read and write pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.Authenticate(r)
	if err != nil {
		h.log.Warn("websocket auth rejected", zap.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if h.cfg.MaxClients > 0 && h.ClientCount() >= h.cfg.MaxClients {
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	session := &Session{ID: uuid.NewString(), UserID: userID}
	c := &Client{
		hub:     h,
		session: session,
		conn:    conn,
		send:    make(chan []byte, h.cfg.SendBuffer),
	}

	h.mu.Lock()
	h.clients[session.ID] = c
	h.mu.Unlock()

	h.service.HandleConnect(session)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	current, ok := h.clients[c.session.ID]
	if ok && current == c {
		delete(h.clients, c.session.ID)
	}
	h.mu.Unlock()
	if !ok || current != c {
		return
	}
	h.service.HandleDisconnect(c.session)
}

// CloseAll disconnects every live client, used during shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.closeSlow()
	}
}

// Client is one websocket connection plus its outbound buffer.
type Client struct {
	hub     *Hub
	session *Session
	conn    *websocket.Conn
	send    chan []byte

	closeOnce sync.Once
}

func (c *Client) closeSlow() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}

// readPump consumes inbound frames until the connection drops, then runs
// the full disconnect cleanup exactly once.
func (c *Client) readPump() {
	defer func() {
		c.hub.drop(c)
		c.closeSlow()
	}()

	cfg := c.hub.cfg
	c.conn.SetReadLimit(cfg.MaxPayloadBytes)
	wait := cfg.PingInterval * 2
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.hub.log.Debug("websocket read", zap.Error(err))
			}
			return
		}
		c.hub.dispatch(c, raw)
	}
}

// writePump drains the send buffer and keeps the connection alive with
// periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.closeSlow()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
