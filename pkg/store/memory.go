package store

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/rojolang/talker-go/pkg/talker"
)

// MemoryStore keeps everything in maps guarded by one RWMutex.
type MemoryStore struct {
	mutex         sync.RWMutex
	sessions      map[string]talker.ChatSession
	messages      map[string][]talker.Message
	messageIndex  map[string]talker.Message
	conversations []talker.Conversation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:     make(map[string]talker.ChatSession),
		messages:     make(map[string][]talker.Message),
		messageIndex: make(map[string]talker.Message),
	}
}

func (s *MemoryStore) Name() string { return BackendMemory }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateSession(_ context.Context, session talker.ChatSession) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return duplicate("session", session.ID)
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (talker.ChatSession, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return talker.ChatSession{}, notFound("session", id)
	}
	return session, nil
}

func (s *MemoryStore) ListSessions(_ context.Context, offset, limit int) ([]talker.ChatSession, int, error) {
	s.mutex.RLock()
	all := lo.Values(s.sessions)
	s.mutex.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].ID > all[j].ID
	})
	from, to := window(len(all), offset, limit)
	return all[from:to], len(all), nil
}

func (s *MemoryStore) UpdateSessionTitle(_ context.Context, id, title string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return notFound("session", id)
	}
	session.Title = title
	s.sessions[id] = session
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return notFound("session", id)
	}
	for _, m := range s.messages[id] {
		delete(s.messageIndex, m.ID)
	}
	delete(s.messages, id)
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, m talker.Message) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	session, ok := s.sessions[m.SessionID]
	if !ok {
		return notFound("session", m.SessionID)
	}
	if _, ok := s.messageIndex[m.ID]; ok {
		return duplicate("message", m.ID)
	}
	s.messages[m.SessionID] = append(s.messages[m.SessionID], m)
	s.messageIndex[m.ID] = m

	session.LastMessage = preview(m.Content)
	session.MessageCount++
	session.UpdatedAt = m.Timestamp
	s.sessions[m.SessionID] = session
	return nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id string) (talker.Message, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	m, ok := s.messageIndex[id]
	if !ok {
		return talker.Message{}, notFound("message", id)
	}
	return m, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, sessionID string, offset, limit int) ([]talker.Message, int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, 0, notFound("session", sessionID)
	}
	msgs := s.messages[sessionID]
	from, to := window(len(msgs), offset, limit)
	out := make([]talker.Message, to-from)
	copy(out, msgs[from:to])
	return out, len(msgs), nil
}

func (s *MemoryStore) SaveConversation(_ context.Context, c talker.Conversation) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.sessions[c.SessionID]; !ok {
		return notFound("session", c.SessionID)
	}
	s.conversations = append(s.conversations, c)
	return nil
}

func (s *MemoryStore) ListConversations(_ context.Context) ([]talker.Conversation, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make([]talker.Conversation, len(s.conversations))
	copy(out, s.conversations)
	return out, nil
}

func (s *MemoryStore) SessionCount(_ context.Context) (int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.sessions), nil
}
