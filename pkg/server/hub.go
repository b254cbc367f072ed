package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"

	"github.com/rojolang/talker-go/pkg/talker"
)

const (
	WriteWait        = 10 * time.Second
	HeartbeatTimeout = 30 * time.Second
	pingPeriod       = HeartbeatTimeout * 9 / 10
	maxMessageSize   = 64 << 10

	clientSendQueueSize = 64
	hubQueueSize        = 256

	EventSubscribed = "subscribed"
	EventPing       = "ping"
	EventPong       = "pong"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ClientConn is one push channel connection. Its session is the chat session
// it subscribed to; an unsubscribed client receives every push.
type ClientConn struct {
	ID      string
	conn    *websocket.Conn
	send    chan []byte
	session string
	hub     *Hub
}

type inbound struct {
	client *ClientConn
	msg    talker.WebSocketMessage
}

type outbound struct {
	sessionID string
	data      []byte
}

// Hub owns the set of connected clients. All membership and subscription
// changes happen on the goroutine running Run.
type Hub struct {
	clients    map[*ClientConn]struct{}
	register   chan *ClientConn
	unregister chan *ClientConn
	inbound    chan inbound
	broadcast  chan outbound
	done       chan struct{}
	count      atomic.Int64
	logger     *talker.Logger
}

func NewHub(logger *talker.Logger) *Hub {
	if logger == nil {
		logger = talker.GetGlobalLogger()
	}
	return &Hub{
		clients:    make(map[*ClientConn]struct{}),
		register:   make(chan *ClientConn),
		unregister: make(chan *ClientConn),
		inbound:    make(chan inbound, hubQueueSize),
		broadcast:  make(chan outbound, hubQueueSize),
		done:       make(chan struct{}),
		logger:     logger.WithComponent("Hub"),
	}
}

// ClientCount is the number of registered connections.
func (h *Hub) ClientCount() int { return int(h.count.Load()) }

// Run manages the hub until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for c := range h.clients {
			h.drop(c)
		}
		close(h.done)
	}()
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Add(1)
			h.logger.LogConnectionEvent("client_joined", talker.Connected, map[string]interface{}{"client_id": c.ID})
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.LogConnectionEvent("client_left", talker.Disconnected, map[string]interface{}{"client_id": c.ID})
			}
		case in := <-h.inbound:
			if _, ok := h.clients[in.client]; ok {
				h.handle(in.client, &in.msg)
			}
		case out := <-h.broadcast:
			for c := range h.clients {
				if out.sessionID == "" || c.session == "" || c.session == out.sessionID {
					h.enqueue(c, out.data)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// Push sends an envelope to every client subscribed to sessionID. An empty
// sessionID reaches all clients.
func (h *Hub) Push(ctx context.Context, sessionID, eventType string, payload interface{}) error {
	data, err := encodeEnvelope(eventType, payload)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- outbound{sessionID: sessionID, data: data}:
		return nil
	case <-h.done:
		return talker.NewWebSocketError("push hub stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) handle(c *ClientConn, msg *talker.WebSocketMessage) {
	switch msg.Type {
	case talker.EventSubscribe:
		var sub talker.SubscribePayload
		if err := msg.Decode(&sub); err != nil {
			h.logger.WithError(err).Warn("Invalid subscribe payload")
			return
		}
		c.session = sub.SessionID
		h.logger.LogMessageEvent(EventSubscribed, map[string]interface{}{
			"client_id":  c.ID,
			"session_id": sub.SessionID,
		})
		h.reply(c, EventSubscribed, sub)
	case EventPing:
		h.reply(c, EventPong, msg.Payload)
	default:
		h.logger.LogMessageEvent(msg.Type, map[string]interface{}{"client_id": c.ID, "ignored": true})
	}
}

func (h *Hub) reply(c *ClientConn, eventType string, payload interface{}) {
	data, err := encodeEnvelope(eventType, payload)
	if err != nil {
		h.logger.LogError(err)
		return
	}
	h.enqueue(c, data)
}

// enqueue drops a client whose send queue is full rather than stalling the
// hub on one slow reader.
func (h *Hub) enqueue(c *ClientConn, data []byte) {
	select {
	case c.send <- data:
	default:
		h.logger.Warnf("Send queue of client %s is full, disconnecting", c.ID)
		h.drop(c)
	}
}

func (h *Hub) drop(c *ClientConn) {
	delete(h.clients, c)
	close(c.send)
	h.count.Add(-1)
}

func encodeEnvelope(eventType string, payload interface{}) ([]byte, error) {
	if raw, ok := payload.(json.RawMessage); ok && len(raw) == 0 {
		payload = nil
	}
	msg, err := talker.NewWebSocketMessage(eventType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// the goroutine that runs this function reads from c.conn
func (c *ClientConn) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(HeartbeatTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(HeartbeatTimeout))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithError(err).Warn("Unexpected websocket closure")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(HeartbeatTimeout))

		var msg talker.WebSocketMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.logger.Debugf("Invalid message from %s: %s", c.ID, string(data))
			continue
		}
		select {
		case c.hub.inbound <- inbound{client: c, msg: msg}:
		case <-c.hub.done:
			return
		}
	}
}

// the goroutine that runs this function writes to c.conn
func (c *ClientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if s.tokens != nil {
		if err := s.tokens.Verify(r.URL.Query().Get("token")); err != nil {
			s.logger.WithError(err).Warnf("Client from %v fails to connect", r.RemoteAddr)
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := &ClientConn{
		ID:   xid.New().String(),
		conn: conn,
		send: make(chan []byte, clientSendQueueSize),
		hub:  s.hub,
	}
	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}
