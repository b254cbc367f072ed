package talker

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// PushChannel is the part of PushClient the chat state listens to.
type PushChannel interface {
	On(eventType string, h EventHandler) func()
	IsConnected() bool
}

// ChatState is a snapshot of the conversation view.
type ChatState struct {
	Messages         []Message     `json:"messages"`
	Sessions         []ChatSession `json:"sessions"`
	CurrentSessionID string        `json:"currentSessionId,omitempty"`
	IsLoading        bool          `json:"isLoading"`
	Error            string        `json:"error,omitempty"`
	IsConnected      bool          `json:"isConnected"`
	IsTyping         bool          `json:"isTyping"`
}

func (s ChatState) clone() ChatState {
	s.Messages = append([]Message(nil), s.Messages...)
	s.Sessions = append([]ChatSession(nil), s.Sessions...)
	return s
}

// Chat merges REST responses and push events into one ordered message list
// for the current session.
type Chat struct {
	backend  ChatBackend
	push     PushChannel
	logger   *Logger
	language string

	mu    sync.Mutex
	state ChatState

	subs    *broadcaster[ChatState]
	replies *broadcaster[Message]
	offs    []func()
}

// NewChat wires the chat state to backend and, when push is not nil, to the
// push channel's message, typing, error and connection events.
func NewChat(backend ChatBackend, push PushChannel, logger *Logger) *Chat {
	c := &Chat{
		backend: backend,
		push:    push,
		logger:  loggerOrGlobal(logger, "Chat"),
		subs:    newBroadcaster[ChatState](),
		replies: newBroadcaster[Message](),
	}
	if push != nil {
		c.state.IsConnected = push.IsConnected()
		c.offs = append(c.offs,
			push.On(EventMessage, c.onPushMessage),
			push.On(EventTyping, c.onPushTyping),
			push.On(EventError, c.onPushError),
			push.On(EventConnected, func(*WebSocketMessage) { c.setConnected(true) }),
			push.On(EventDisconnected, func(*WebSocketMessage) { c.setConnected(false) }),
		)
	}
	return c
}

// SetLanguage sets the language new sessions are created with.
func (c *Chat) SetLanguage(language string) {
	c.mu.Lock()
	c.language = language
	c.mu.Unlock()
}

func (c *Chat) Snapshot() ChatState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Subscribe streams a snapshot after every change.
func (c *Chat) Subscribe() *Subscription[ChatState] {
	return c.subs.subscribe()
}

// OnAIMessage calls fn for each AI reply added to the current session.
func (c *Chat) OnAIMessage(fn func(Message)) func() {
	return watch(c.replies, fn)
}

// update mutates the state under the lock and publishes the result.
func (c *Chat) update(fn func(s *ChatState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.state)
	c.subs.publish(c.state.clone())
}

func (c *Chat) fail(err error) error {
	c.logger.LogError(err)
	c.update(func(s *ChatState) {
		s.Error = err.Error()
		s.IsLoading = false
	})
	return err
}

func (c *Chat) begin() {
	c.update(func(s *ChatState) {
		s.IsLoading = true
		s.Error = ""
	})
}

func (c *Chat) done() {
	c.update(func(s *ChatState) { s.IsLoading = false })
}

// LoadSessions refreshes the session list. When no session is current the
// most recent one is selected and its messages loaded.
func (c *Chat) LoadSessions(ctx context.Context) error {
	c.begin()
	list, err := c.backend.ListSessions(ctx, 1, 50)
	if err != nil {
		return c.fail(err)
	}

	var selected string
	c.update(func(s *ChatState) {
		s.Sessions = list.Sessions
		s.IsLoading = false
		if s.CurrentSessionID == "" && len(list.Sessions) > 0 {
			s.CurrentSessionID = list.Sessions[0].ID
			selected = s.CurrentSessionID
		}
	})
	if selected != "" {
		return c.loadMessages(ctx, selected)
	}
	return nil
}

func (c *Chat) loadMessages(ctx context.Context, sessionID string) error {
	c.begin()
	list, err := c.backend.GetSessionMessages(ctx, sessionID, 1, 100)
	if err != nil {
		return c.fail(err)
	}
	c.update(func(s *ChatState) {
		if s.CurrentSessionID == sessionID {
			s.Messages = list.Messages
		}
		s.IsLoading = false
	})
	return nil
}

// SwitchSession makes sessionID current and loads its messages.
func (c *Chat) SwitchSession(ctx context.Context, sessionID string) error {
	c.update(func(s *ChatState) {
		s.CurrentSessionID = sessionID
		s.Messages = nil
		s.IsTyping = false
	})
	if sessionID == "" {
		return nil
	}
	return c.loadMessages(ctx, sessionID)
}

// CreateSession creates a session, puts it first and makes it current with
// an empty message list.
func (c *Chat) CreateSession(ctx context.Context, title string) error {
	c.begin()
	c.mu.Lock()
	language := c.language
	c.mu.Unlock()

	session, err := c.backend.CreateSession(ctx, title, language)
	if err != nil {
		return c.fail(err)
	}
	c.update(func(s *ChatState) {
		s.Sessions = append([]ChatSession{*session}, s.Sessions...)
		s.CurrentSessionID = session.ID
		s.Messages = nil
		s.IsTyping = false
		s.IsLoading = false
	})
	return nil
}

// DeleteSession removes a session. Deleting the current one switches to the
// first remaining session, or to none.
func (c *Chat) DeleteSession(ctx context.Context, sessionID string) error {
	if err := c.backend.DeleteSession(ctx, sessionID); err != nil {
		return c.fail(err)
	}

	var next string
	var switched bool
	c.update(func(s *ChatState) {
		s.Sessions = lo.Filter(s.Sessions, func(cs ChatSession, _ int) bool { return cs.ID != sessionID })
		if s.CurrentSessionID == sessionID {
			switched = true
			s.CurrentSessionID = ""
			if len(s.Sessions) > 0 {
				s.CurrentSessionID = s.Sessions[0].ID
			}
			next = s.CurrentSessionID
			s.Messages = nil
			s.IsTyping = false
		}
	})
	if switched && next != "" {
		return c.loadMessages(ctx, next)
	}
	return nil
}

// SendMessage appends the user's message right away and sends it. While the
// push channel is connected the reply arrives as a push event and the typing
// indicator is shown until then; otherwise the reply from the REST response
// is appended directly. Blank content is ignored.
func (c *Chat) SendMessage(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	var sessionID string
	c.update(func(s *ChatState) {
		sessionID = s.CurrentSessionID
		s.IsLoading = true
		s.Error = ""
		s.Messages = append(s.Messages, Message{
			ID:        uuid.NewString(),
			Type:      UserMessage,
			Content:   content,
			Timestamp: time.Now(),
			SessionID: sessionID,
		})
	})

	resp, err := c.backend.SendMessage(ctx, CreateChatRequest{Message: content, SessionID: sessionID})
	if err != nil {
		return c.fail(err)
	}

	if sessionID == "" && resp.SessionID != "" {
		c.update(func(s *ChatState) {
			if s.CurrentSessionID == "" {
				s.CurrentSessionID = resp.SessionID
			}
		})
		if err := c.LoadSessions(ctx); err != nil {
			c.logger.WithError(err).Warn("Reloading sessions after send failed")
		}
	}

	reply := replyMessage(resp)
	var added bool
	c.update(func(s *ChatState) {
		s.IsLoading = false
		if hasMessage(s.Messages, reply.ID) {
			return
		}
		if s.IsConnected {
			s.IsTyping = true
			return
		}
		s.Messages = append(s.Messages, reply)
		added = true
	})
	if added {
		c.replies.publish(reply)
	}
	return nil
}

// ClearError drops the stored error.
func (c *Chat) ClearError() {
	c.update(func(s *ChatState) { s.Error = "" })
}

func (c *Chat) onPushMessage(msg *WebSocketMessage) {
	var resp ChatResponse
	if err := msg.Decode(&resp); err != nil {
		c.logger.WithError(err).Warn("Ignoring malformed message push")
		return
	}
	reply := replyMessage(&resp)

	var added bool
	c.update(func(s *ChatState) {
		if s.CurrentSessionID != "" && reply.SessionID != "" && reply.SessionID != s.CurrentSessionID {
			return
		}
		s.IsTyping = false
		if hasMessage(s.Messages, reply.ID) {
			return
		}
		s.Messages = append(s.Messages, reply)
		added = true
	})
	if added {
		c.replies.publish(reply)
	}
}

func (c *Chat) onPushTyping(msg *WebSocketMessage) {
	var ti TypingIndicator
	if err := msg.Decode(&ti); err != nil {
		c.logger.WithError(err).Warn("Ignoring malformed typing push")
		return
	}
	c.update(func(s *ChatState) {
		if ti.SessionID == s.CurrentSessionID {
			s.IsTyping = ti.IsTyping
		}
	})
}

func (c *Chat) onPushError(msg *WebSocketMessage) {
	var ep ErrorPayload
	if err := msg.Decode(&ep); err != nil || ep.Error == "" {
		ep.Error = "server error"
	}
	c.update(func(s *ChatState) { s.Error = ep.Error })
}

func (c *Chat) setConnected(connected bool) {
	c.update(func(s *ChatState) {
		s.IsConnected = connected
		if !connected {
			s.IsTyping = false
		}
	})
}

// Close unregisters push handlers and ends all subscriptions.
func (c *Chat) Close() {
	for _, off := range c.offs {
		off()
	}
	c.offs = nil
	c.subs.close()
	c.replies.close()
}

func replyMessage(resp *ChatResponse) Message {
	id := resp.ID
	if id == "" {
		id = uuid.NewString()
	}
	ts := resp.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return Message{
		ID:        id,
		Type:      AIMessage,
		Content:   resp.Message,
		Timestamp: ts,
		Emotion:   resp.Emotion,
		AudioURL:  resp.AudioURL,
		SessionID: resp.SessionID,
	}
}

func hasMessage(messages []Message, id string) bool {
	return lo.ContainsBy(messages, func(m Message) bool { return m.ID == id })
}
