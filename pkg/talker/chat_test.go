package talker

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeBackend struct {
	mu       sync.Mutex
	sessions []ChatSession
	messages map[string][]Message
	reply    ChatResponse
	sendErr  error
	sent     []CreateChatRequest
	deleted  []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{messages: make(map[string][]Message)}
}

func (b *fakeBackend) CreateSession(_ context.Context, title, language string) (*ChatSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := ChatSession{ID: "new-" + title, Title: title, Language: language}
	b.sessions = append([]ChatSession{s}, b.sessions...)
	return &s, nil
}

func (b *fakeBackend) ListSessions(context.Context, int, int) (*SessionList, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &SessionList{Sessions: append([]ChatSession(nil), b.sessions...), Total: len(b.sessions)}, nil
}

func (b *fakeBackend) GetSessionMessages(_ context.Context, id string, _, _ int) (*MessageList, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.messages[id]
	return &MessageList{Messages: append([]Message(nil), msgs...), Total: len(msgs)}, nil
}

func (b *fakeBackend) DeleteSession(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, id)
	return nil
}

func (b *fakeBackend) SendMessage(_ context.Context, req CreateChatRequest) (*ChatResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, req)
	if b.sendErr != nil {
		return nil, b.sendErr
	}
	resp := b.reply
	return &resp, nil
}

func (b *fakeBackend) sentRequests() []CreateChatRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]CreateChatRequest(nil), b.sent...)
}

type fakePush struct {
	mu        sync.Mutex
	connected bool
	handlers  map[string][]EventHandler
}

func newFakePush(connected bool) *fakePush {
	return &fakePush{connected: connected, handlers: make(map[string][]EventHandler)}
}

func (p *fakePush) On(eventType string, h EventHandler) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[eventType] = append(p.handlers[eventType], h)
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.handlers, eventType)
	}
}

func (p *fakePush) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakePush) emit(t *testing.T, eventType string, payload interface{}) {
	t.Helper()
	msg, err := NewWebSocketMessage(eventType, payload)
	if err != nil {
		t.Fatal(err)
	}
	p.mu.Lock()
	hs := append([]EventHandler(nil), p.handlers[eventType]...)
	p.mu.Unlock()
	for _, h := range hs {
		h(msg)
	}
}

func TestChat_LoadSessionsSelectsFirst(t *testing.T) {
	b := newFakeBackend()
	b.sessions = []ChatSession{{ID: "s2"}, {ID: "s1"}}
	b.messages["s2"] = []Message{{ID: "m1", Type: UserMessage, Content: "hi", SessionID: "s2"}}

	c := NewChat(b, nil, NopLogger())
	defer c.Close()

	if err := c.LoadSessions(context.Background()); err != nil {
		t.Fatalf("LoadSessions() error = %v", err)
	}
	s := c.Snapshot()
	if s.CurrentSessionID != "s2" || len(s.Sessions) != 2 || len(s.Messages) != 1 || s.IsLoading {
		t.Fatalf("state = %+v", s)
	}
}

func TestChat_SendMessageOfflineAppendsReply(t *testing.T) {
	b := newFakeBackend()
	b.sessions = []ChatSession{{ID: "s1"}}
	b.reply = ChatResponse{ID: "r1", Message: "hello back", SessionID: "s1", Timestamp: time.Now()}

	c := NewChat(b, newFakePush(false), NopLogger())
	defer c.Close()
	replies := make(chan Message, 2)
	off := c.OnAIMessage(func(m Message) { replies <- m })
	defer off()

	if err := c.SwitchSession(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}
	if err := c.SendMessage(context.Background(), "  hello  "); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	s := c.Snapshot()
	if len(s.Messages) != 2 {
		t.Fatalf("messages = %+v, want user and reply", s.Messages)
	}
	if s.Messages[0].Type != UserMessage || s.Messages[0].Content != "hello" || s.Messages[0].ID == "" {
		t.Fatalf("user message = %+v", s.Messages[0])
	}
	if s.Messages[1].ID != "r1" || s.Messages[1].Type != AIMessage {
		t.Fatalf("reply = %+v", s.Messages[1])
	}
	if sent := b.sentRequests(); len(sent) != 1 || sent[0].SessionID != "s1" || sent[0].Message != "hello" {
		t.Fatalf("sent = %+v", sent)
	}

	select {
	case m := <-replies:
		if m.ID != "r1" {
			t.Fatalf("OnAIMessage got %+v", m)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("OnAIMessage never called")
	}
}

func TestChat_BlankMessageIsIgnored(t *testing.T) {
	b := newFakeBackend()
	c := NewChat(b, nil, NopLogger())
	defer c.Close()

	if err := c.SendMessage(context.Background(), " \n\t"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if len(b.sentRequests()) != 0 || len(c.Snapshot().Messages) != 0 {
		t.Fatalf("blank message was sent")
	}
}

func TestChat_SendMessageOnlineWaitsForPush(t *testing.T) {
	b := newFakeBackend()
	b.reply = ChatResponse{ID: "r1", Message: "pushed", SessionID: "s1"}
	push := newFakePush(true)

	c := NewChat(b, push, NopLogger())
	defer c.Close()
	if err := c.SwitchSession(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}

	if err := c.SendMessage(context.Background(), "question"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	s := c.Snapshot()
	if !s.IsTyping || len(s.Messages) != 1 {
		t.Fatalf("state after send = %+v, want typing with only the user message", s)
	}

	push.emit(t, EventMessage, b.reply)
	push.emit(t, EventMessage, b.reply)

	s = c.Snapshot()
	if s.IsTyping {
		t.Fatalf("still typing after reply")
	}
	if len(s.Messages) != 2 || s.Messages[1].ID != "r1" {
		t.Fatalf("messages = %+v, want one deduplicated reply", s.Messages)
	}
}

func TestChat_PushScopedToCurrentSession(t *testing.T) {
	push := newFakePush(true)
	c := NewChat(newFakeBackend(), push, NopLogger())
	defer c.Close()
	if err := c.SwitchSession(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}

	push.emit(t, EventTyping, TypingIndicator{IsTyping: true, SessionID: "other"})
	push.emit(t, EventMessage, ChatResponse{ID: "x", Message: "elsewhere", SessionID: "other"})
	if s := c.Snapshot(); s.IsTyping || len(s.Messages) != 0 {
		t.Fatalf("state = %+v, want other session ignored", s)
	}

	push.emit(t, EventTyping, TypingIndicator{IsTyping: true, SessionID: "s1"})
	if !c.Snapshot().IsTyping {
		t.Fatalf("typing for current session ignored")
	}

	push.emit(t, EventError, ErrorPayload{Error: "model offline"})
	if got := c.Snapshot().Error; got != "model offline" {
		t.Fatalf("Error = %q", got)
	}
	c.ClearError()

	push.emit(t, EventDisconnected, DisconnectPayload{Code: 1006})
	if s := c.Snapshot(); s.IsConnected || s.IsTyping || s.Error != "" {
		t.Fatalf("state after disconnect = %+v", s)
	}
}

func TestChat_SendFailureSetsError(t *testing.T) {
	b := newFakeBackend()
	b.sendErr = NewConnectionError("backend down")
	c := NewChat(b, nil, NopLogger())
	defer c.Close()

	err := c.SendMessage(context.Background(), "hi")
	if !IsErrorCode(err, ErrCodeConnectionFailed) {
		t.Fatalf("SendMessage() error = %v", err)
	}
	s := c.Snapshot()
	if s.Error == "" || s.IsLoading || len(s.Messages) != 1 {
		t.Fatalf("state = %+v, want error with the user message kept", s)
	}
}

func TestChat_NewConversationAdoptsSession(t *testing.T) {
	b := newFakeBackend()
	b.reply = ChatResponse{ID: "r1", Message: "welcome", SessionID: "fresh"}
	b.sessions = []ChatSession{{ID: "fresh"}, {ID: "old"}}

	c := NewChat(b, nil, NopLogger())
	defer c.Close()

	if err := c.SendMessage(context.Background(), "start"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	s := c.Snapshot()
	if s.CurrentSessionID != "fresh" || len(s.Sessions) != 2 {
		t.Fatalf("state = %+v, want session adopted and list reloaded", s)
	}
}

func TestChat_CreateAndDeleteSession(t *testing.T) {
	b := newFakeBackend()
	b.sessions = []ChatSession{{ID: "a"}, {ID: "b"}}
	c := NewChat(b, nil, NopLogger())
	defer c.Close()
	c.SetLanguage("de")

	if err := c.LoadSessions(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.CreateSession(context.Background(), "plan"); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	s := c.Snapshot()
	if s.CurrentSessionID != "new-plan" || s.Sessions[0].ID != "new-plan" || s.Sessions[0].Language != "de" {
		t.Fatalf("state after create = %+v", s)
	}

	if err := c.DeleteSession(context.Background(), "new-plan"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	s = c.Snapshot()
	if s.CurrentSessionID != "a" || len(s.Sessions) != 2 {
		t.Fatalf("state after delete = %+v, want fallback to a", s)
	}

	if err := c.DeleteSession(context.Background(), "b"); err != nil {
		t.Fatal(err)
	}
	if s := c.Snapshot(); s.CurrentSessionID != "a" || len(s.Sessions) != 1 {
		t.Fatalf("deleting another session changed current: %+v", s)
	}
}

func TestChat_SubscribeSeesUpdates(t *testing.T) {
	c := NewChat(newFakeBackend(), nil, NopLogger())
	sub := c.Subscribe()

	c.SetLanguage("en")
	if err := c.SwitchSession(context.Background(), "s9"); err != nil {
		t.Fatal(err)
	}
	got := waitFor(t, sub, func(s ChatState) bool { return s.CurrentSessionID == "s9" })
	if got.IsTyping {
		t.Fatalf("state = %+v", got)
	}

	c.Close()
	for range sub.C() {
	}
}
