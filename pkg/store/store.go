// Package store persists chat sessions, their messages and the prompt/response
// conversation log. Two backends are provided: an in-process map and Redis.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/rojolang/talker-go/pkg/talker"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Store is the persistence boundary of the backend service.
//
// Sessions are listed newest-updated first; messages of a session are listed
// in the order they were appended. Missing records yield a NOT_FOUND
// *talker.TalkerError, and creating a session with an id that is already
// taken yields DUPLICATE.
type Store interface {
	CreateSession(ctx context.Context, s talker.ChatSession) error
	GetSession(ctx context.Context, id string) (talker.ChatSession, error)
	ListSessions(ctx context.Context, offset, limit int) ([]talker.ChatSession, int, error)
	UpdateSessionTitle(ctx context.Context, id, title string) error
	DeleteSession(ctx context.Context, id string) error

	// AppendMessage adds m to its session and bumps the session's
	// LastMessage, MessageCount and UpdatedAt.
	AppendMessage(ctx context.Context, m talker.Message) error
	GetMessage(ctx context.Context, id string) (talker.Message, error)
	ListMessages(ctx context.Context, sessionID string, offset, limit int) ([]talker.Message, int, error)

	// SaveConversation requires the referenced session to exist.
	SaveConversation(ctx context.Context, c talker.Conversation) error
	ListConversations(ctx context.Context) ([]talker.Conversation, error)

	SessionCount(ctx context.Context) (int, error)
	Name() string
	Close() error
}

// New returns a store of the named backend. url is only used by Redis.
func New(ctx context.Context, backend, url string, logger *talker.Logger) (Store, error) {
	switch strings.ToLower(backend) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendRedis:
		return NewRedisStoreFromURL(ctx, url, logger)
	default:
		return nil, talker.NewConfigError(fmt.Sprintf("unknown store backend %q", backend))
	}
}

func notFound(kind, id string) error {
	return talker.NewTalkerError(kind+" not found", talker.ErrCodeNotFound).AddDetail("id", id)
}

func duplicate(kind, id string) error {
	return talker.NewTalkerError(kind+" already exists", talker.ErrCodeDuplicate).AddDetail("id", id)
}

// window clamps [offset, offset+limit) to n items. limit <= 0 means the rest.
func window(n, offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > n {
		offset = n
	}
	end := n
	if limit > 0 && offset+limit < n {
		end = offset + limit
	}
	return offset, end
}

func preview(content string) string {
	const max = 100
	r := []rune(content)
	if len(r) <= max {
		return content
	}
	return string(r[:max])
}
