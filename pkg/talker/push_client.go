package talker

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type eventEntry struct {
	id uint64
	fn EventHandler
}

// PushClient keeps a WebSocket to the backend open and dispatches the
// envelopes it receives by type. After an abnormal closure it reconnects up
// to MaxReconnectAttempts times, ReconnectDelay apart. A normal closure
// (1000) or Disconnect never triggers a reconnect.
type PushClient struct {
	config *Config
	tokens *TokenManager
	dialer *websocket.Dialer
	logger *Logger

	mu          sync.Mutex
	writeMu     sync.Mutex
	conn        *websocket.Conn
	state       ConnectionState
	attempts    int
	manualClose bool
	ctx         context.Context
	cancel      context.CancelFunc

	nextID             uint64
	handlers           map[string][]eventEntry
	connectionHandlers map[uint64]ConnectionHandler
	errorHandlers      map[uint64]ErrorHandler
	trace              EventHandler
}

func NewPushClient(config *Config, logger *Logger) *PushClient {
	var tokens *TokenManager
	if config.UseTokenAuth && config.TokenEndpoint != "" {
		tokens = NewTokenManager(config.TokenEndpoint, config.Headers, config.TokenRefreshBuffer)
	}
	pc := &PushClient{
		config:             config,
		tokens:             tokens,
		dialer:             &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		logger:             loggerOrGlobal(logger, "PushClient"),
		state:              Disconnected,
		handlers:           make(map[string][]eventEntry),
		connectionHandlers: make(map[uint64]ConnectionHandler),
		errorHandlers:      make(map[uint64]ErrorHandler),
	}
	if config.DebugWebsocket {
		pc.trace = CreateLoggingEventHandler(logger, true)
	}
	pc.AddErrorHandler(CreateErrorLoggingHandler(logger, "PushClient"))
	return pc
}

// Connect dials the push endpoint. When the first dial fails the error is
// returned and the reconnect policy takes over in the background.
func (pc *PushClient) Connect(ctx context.Context) error {
	pc.mu.Lock()
	if pc.state == Connected || pc.state == Connecting {
		pc.mu.Unlock()
		return NewConnectionError("already connected or connecting")
	}
	if pc.cancel != nil {
		pc.cancel()
	}
	pc.ctx, pc.cancel = context.WithCancel(context.Background())
	pc.manualClose = false
	pc.attempts = 0
	lifecycle := pc.ctx
	pc.state = Connecting
	handlers := pc.connectionHandlersLocked()
	pc.mu.Unlock()

	for _, h := range handlers {
		h(Connecting)
	}

	if err := pc.dial(ctx, lifecycle); err != nil {
		werr := WrapErrorf(err, ErrCodeConnectionFailed, "failed to connect to push channel").
			AddDetail("endpoint", pc.config.WsEndpoint)
		pc.handleError(werr)
		pc.scheduleReconnect(lifecycle)
		return werr
	}
	return nil
}

func (pc *PushClient) dial(ctx context.Context, lifecycle context.Context) error {
	endpoint, err := pc.endpoint(ctx)
	if err != nil {
		return err
	}

	header := make(http.Header)
	for k, v := range pc.config.Headers {
		header.Set(k, v)
	}

	conn, _, err := pc.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return err
	}

	pc.mu.Lock()
	if lifecycle.Err() != nil {
		pc.mu.Unlock()
		_ = conn.Close()
		return NewConnectionError("disconnected while connecting")
	}
	pc.conn = conn
	pc.attempts = 0
	pc.mu.Unlock()

	pc.setState(Connected)
	pc.logger.LogConnectionEvent("connected", Connected, map[string]interface{}{"endpoint": pc.config.WsEndpoint})
	pc.emitLocal(EventConnected, nil)

	go pc.readLoop(conn)
	return nil
}

func (pc *PushClient) endpoint(ctx context.Context) (string, error) {
	if pc.tokens == nil {
		return pc.config.WsEndpoint, nil
	}
	token, err := pc.tokens.GetToken(ctx)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(pc.config.WsEndpoint)
	if err != nil {
		return "", WrapErrorf(err, ErrCodeConfigInvalid, "invalid WebSocket endpoint")
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (pc *PushClient) readLoop(conn *websocket.Conn) {
	for {
		var msg WebSocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			pc.handleClose(conn, err)
			return
		}
		if pc.trace != nil {
			pc.trace(&msg)
		}
		pc.dispatch(&msg)
	}
}

func (pc *PushClient) handleClose(conn *websocket.Conn, err error) {
	code := websocket.CloseAbnormalClosure
	reason := err.Error()
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code, reason = ce.Code, ce.Text
	}

	pc.mu.Lock()
	if pc.conn != conn {
		pc.mu.Unlock()
		return
	}
	pc.conn = nil
	manual := pc.manualClose
	lifecycle := pc.ctx
	pc.mu.Unlock()
	_ = conn.Close()

	pc.logger.LogConnectionEvent("closed", pc.State(), map[string]interface{}{"code": code, "reason": reason})
	pc.emitLocal(EventDisconnected, DisconnectPayload{Code: code, Reason: reason})

	if manual || code == websocket.CloseNormalClosure {
		pc.setState(Disconnected)
		return
	}
	pc.scheduleReconnect(lifecycle)
}

func (pc *PushClient) scheduleReconnect(lifecycle context.Context) {
	pc.mu.Lock()
	if pc.manualClose || lifecycle.Err() != nil {
		pc.mu.Unlock()
		return
	}
	pc.attempts++
	attempt := pc.attempts
	pc.mu.Unlock()

	if attempt > pc.config.MaxReconnectAttempts {
		pc.setState(ErrorState)
		pc.handleError(NewReconnectError("max reconnect attempts reached", attempt-1, pc.config.MaxReconnectAttempts))
		return
	}

	pc.setState(Reconnecting)
	pc.logger.LogConnectionEvent("reconnect_scheduled", Reconnecting, map[string]interface{}{
		"attempt": attempt,
		"delay":   pc.config.ReconnectDelay.String(),
	})

	go func() {
		timer := time.NewTimer(pc.config.ReconnectDelay)
		defer timer.Stop()
		select {
		case <-lifecycle.Done():
			return
		case <-timer.C:
		}
		if err := pc.dial(lifecycle, lifecycle); err != nil {
			pc.logger.WithError(err).WithField("attempt", attempt).Warn("Reconnect attempt failed")
			pc.scheduleReconnect(lifecycle)
		}
	}()
}

// Send writes one envelope. It fails unless connected.
func (pc *PushClient) Send(eventType string, payload interface{}) error {
	msg, err := NewWebSocketMessage(eventType, payload)
	if err != nil {
		return err
	}

	pc.mu.Lock()
	conn := pc.conn
	connected := pc.state == Connected
	pc.mu.Unlock()
	if !connected || conn == nil {
		return NewWebSocketError("not connected").AddDetail("type", eventType)
	}

	pc.writeMu.Lock()
	defer pc.writeMu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		return WrapErrorf(err, ErrCodeWebSocket, "failed to send message").AddDetail("type", eventType)
	}
	return nil
}

// Subscribe scopes pushes to one session.
func (pc *PushClient) Subscribe(sessionID string) error {
	return pc.Send(EventSubscribe, SubscribePayload{SessionID: sessionID})
}

// Disconnect closes the socket with a normal closure and stops reconnecting.
func (pc *PushClient) Disconnect() {
	pc.mu.Lock()
	pc.manualClose = true
	if pc.cancel != nil {
		pc.cancel()
	}
	conn := pc.conn
	pc.conn = nil
	pc.mu.Unlock()

	if conn != nil {
		pc.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
			time.Now().Add(time.Second))
		pc.writeMu.Unlock()
		_ = conn.Close()
		pc.emitLocal(EventDisconnected, DisconnectPayload{Code: websocket.CloseNormalClosure, Reason: "client disconnect"})
	}
	pc.setState(Disconnected)
}

// On registers h for envelopes of the given type, including the local
// connected and disconnected events. The returned function unregisters it.
func (pc *PushClient) On(eventType string, h EventHandler) func() {
	pc.mu.Lock()
	pc.nextID++
	id := pc.nextID
	pc.handlers[eventType] = append(pc.handlers[eventType], eventEntry{id: id, fn: h})
	pc.mu.Unlock()

	return func() {
		pc.mu.Lock()
		defer pc.mu.Unlock()
		entries := pc.handlers[eventType]
		for i, e := range entries {
			if e.id == id {
				pc.handlers[eventType] = append(entries[:i:i], entries[i+1:]...)
				break
			}
		}
	}
}

func (pc *PushClient) AddConnectionHandler(h ConnectionHandler) func() {
	pc.mu.Lock()
	pc.nextID++
	id := pc.nextID
	pc.connectionHandlers[id] = h
	pc.mu.Unlock()
	return func() {
		pc.mu.Lock()
		delete(pc.connectionHandlers, id)
		pc.mu.Unlock()
	}
}

func (pc *PushClient) AddErrorHandler(h ErrorHandler) func() {
	pc.mu.Lock()
	pc.nextID++
	id := pc.nextID
	pc.errorHandlers[id] = h
	pc.mu.Unlock()
	return func() {
		pc.mu.Lock()
		delete(pc.errorHandlers, id)
		pc.mu.Unlock()
	}
}

func (pc *PushClient) State() ConnectionState {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.state
}

func (pc *PushClient) IsConnected() bool {
	return pc.State() == Connected
}

// dispatch runs handlers on the read goroutine so they see envelopes in
// arrival order.
func (pc *PushClient) dispatch(msg *WebSocketMessage) {
	pc.mu.Lock()
	entries := append([]eventEntry(nil), pc.handlers[msg.Type]...)
	pc.mu.Unlock()

	for _, e := range entries {
		e.fn(msg)
	}
}

func (pc *PushClient) emitLocal(eventType string, payload interface{}) {
	msg, err := NewWebSocketMessage(eventType, payload)
	if err != nil {
		pc.logger.LogError(err)
		return
	}
	pc.dispatch(msg)
}

func (pc *PushClient) setState(state ConnectionState) {
	pc.mu.Lock()
	if pc.state == state {
		pc.mu.Unlock()
		return
	}
	pc.state = state
	handlers := pc.connectionHandlersLocked()
	pc.mu.Unlock()

	for _, h := range handlers {
		h(state)
	}
}

func (pc *PushClient) connectionHandlersLocked() []ConnectionHandler {
	handlers := make([]ConnectionHandler, 0, len(pc.connectionHandlers))
	for _, h := range pc.connectionHandlers {
		handlers = append(handlers, h)
	}
	return handlers
}

// handleError fans err out to the error handlers, including the logging one
// registered by NewPushClient.
func (pc *PushClient) handleError(err error) {
	pc.mu.Lock()
	handlers := make([]ErrorHandler, 0, len(pc.errorHandlers))
	for _, h := range pc.errorHandlers {
		handlers = append(handlers, h)
	}
	pc.mu.Unlock()

	for _, h := range handlers {
		h(err)
	}
}
