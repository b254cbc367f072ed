package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rojolang/talker-go/pkg/talker"
)

const (
	defaultKeyPrefix = "talker"
	maxTxRetries     = 5
)

// RedisStore keeps sessions and messages as JSON strings. Session ids are
// held in a sorted set scored by UpdatedAt (ms) and each session's message
// ids in a list, so both orderings come straight from Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *talker.Logger
}

// NewRedisStore wraps an existing client. An empty prefix selects "talker".
func NewRedisStore(client *redis.Client, prefix string, logger *talker.Logger) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if logger == nil {
		logger = talker.GetGlobalLogger()
	}
	return &RedisStore{client: client, prefix: prefix, logger: logger.WithComponent("RedisStore")}
}

// NewRedisStoreFromURL parses a redis:// URL, connects and pings.
func NewRedisStoreFromURL(ctx context.Context, url string, logger *talker.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, talker.WrapErrorf(err, talker.ErrCodeConfigInvalid, "invalid redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, talker.WrapErrorf(err, talker.ErrCodeConnectionFailed, "redis ping failed").AddDetail("addr", opts.Addr)
	}
	s := NewRedisStore(client, "", logger)
	s.logger.Infof("Connected to redis at %s (db %d)", opts.Addr, opts.DB)
	return s, nil
}

func (s *RedisStore) Name() string { return BackendRedis }

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) sessionKey(id string) string  { return fmt.Sprintf("%s:session:%s", s.prefix, id) }
func (s *RedisStore) messagesKey(id string) string { return fmt.Sprintf("%s:session:%s:messages", s.prefix, id) }
func (s *RedisStore) messageKey(id string) string  { return fmt.Sprintf("%s:message:%s", s.prefix, id) }
func (s *RedisStore) sessionsKey() string          { return s.prefix + ":sessions" }
func (s *RedisStore) conversationsKey() string     { return s.prefix + ":conversations" }

func (s *RedisStore) CreateSession(ctx context.Context, session talker.ChatSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return talker.WrapError(err, talker.ErrCodeJSONParse)
	}
	ok, err := s.client.SetNX(ctx, s.sessionKey(session.ID), raw, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return duplicate("session", session.ID)
	}
	return s.client.ZAdd(ctx, s.sessionsKey(), redis.Z{
		Score:  float64(session.UpdatedAt.UnixMilli()),
		Member: session.ID,
	}).Err()
}

func (s *RedisStore) GetSession(ctx context.Context, id string) (talker.ChatSession, error) {
	return s.getSession(ctx, s.client, id)
}

func (s *RedisStore) getSession(ctx context.Context, c redis.Cmdable, id string) (talker.ChatSession, error) {
	var session talker.ChatSession
	raw, err := c.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return session, notFound("session", id)
	}
	if err != nil {
		return session, err
	}
	if err := json.Unmarshal(raw, &session); err != nil {
		return session, talker.WrapError(err, talker.ErrCodeJSONParse).AddDetail("id", id)
	}
	return session, nil
}

func (s *RedisStore) ListSessions(ctx context.Context, offset, limit int) ([]talker.ChatSession, int, error) {
	total, err := s.client.ZCard(ctx, s.sessionsKey()).Result()
	if err != nil {
		return nil, 0, err
	}
	from, to := window(int(total), offset, limit)
	if from == to {
		return []talker.ChatSession{}, int(total), nil
	}
	ids, err := s.client.ZRevRange(ctx, s.sessionsKey(), int64(from), int64(to-1)).Result()
	if err != nil {
		return nil, 0, err
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.sessionKey(id)
	}
	sessions, err := mgetJSON[talker.ChatSession](ctx, s.client, keys)
	if err != nil {
		return nil, 0, err
	}
	return sessions, int(total), nil
}

func (s *RedisStore) UpdateSessionTitle(ctx context.Context, id, title string) error {
	key := s.sessionKey(id)
	return s.update(ctx, func(tx *redis.Tx) error {
		session, err := s.getSession(ctx, tx, id)
		if err != nil {
			return err
		}
		session.Title = title
		raw, err := json.Marshal(session)
		if err != nil {
			return talker.WrapError(err, talker.ErrCodeJSONParse)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			return nil
		})
		return err
	}, key)
}

func (s *RedisStore) DeleteSession(ctx context.Context, id string) error {
	key, listKey := s.sessionKey(id), s.messagesKey(id)
	return s.update(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return notFound("session", id)
		}
		ids, err := tx.LRange(ctx, listKey, 0, -1).Result()
		if err != nil {
			return err
		}
		doomed := []string{key, listKey}
		for _, mid := range ids {
			doomed = append(doomed, s.messageKey(mid))
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, doomed...)
			pipe.ZRem(ctx, s.sessionsKey(), id)
			return nil
		})
		return err
	}, key, listKey)
}

func (s *RedisStore) AppendMessage(ctx context.Context, m talker.Message) error {
	key, msgKey := s.sessionKey(m.SessionID), s.messageKey(m.ID)
	raw, err := json.Marshal(m)
	if err != nil {
		return talker.WrapError(err, talker.ErrCodeJSONParse)
	}
	return s.update(ctx, func(tx *redis.Tx) error {
		session, err := s.getSession(ctx, tx, m.SessionID)
		if err != nil {
			return err
		}
		n, err := tx.Exists(ctx, msgKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return duplicate("message", m.ID)
		}

		session.LastMessage = preview(m.Content)
		session.MessageCount++
		session.UpdatedAt = m.Timestamp
		sessionRaw, err := json.Marshal(session)
		if err != nil {
			return talker.WrapError(err, talker.ErrCodeJSONParse)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, msgKey, raw, 0)
			pipe.RPush(ctx, s.messagesKey(m.SessionID), m.ID)
			pipe.Set(ctx, key, sessionRaw, 0)
			pipe.ZAdd(ctx, s.sessionsKey(), redis.Z{
				Score:  float64(session.UpdatedAt.UnixMilli()),
				Member: session.ID,
			})
			return nil
		})
		return err
	}, key, msgKey)
}

func (s *RedisStore) GetMessage(ctx context.Context, id string) (talker.Message, error) {
	var m talker.Message
	raw, err := s.client.Get(ctx, s.messageKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return m, notFound("message", id)
	}
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, talker.WrapError(err, talker.ErrCodeJSONParse).AddDetail("id", id)
	}
	return m, nil
}

func (s *RedisStore) ListMessages(ctx context.Context, sessionID string, offset, limit int) ([]talker.Message, int, error) {
	n, err := s.client.Exists(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, 0, err
	}
	if n == 0 {
		return nil, 0, notFound("session", sessionID)
	}
	total, err := s.client.LLen(ctx, s.messagesKey(sessionID)).Result()
	if err != nil {
		return nil, 0, err
	}
	from, to := window(int(total), offset, limit)
	if from == to {
		return []talker.Message{}, int(total), nil
	}
	ids, err := s.client.LRange(ctx, s.messagesKey(sessionID), int64(from), int64(to-1)).Result()
	if err != nil {
		return nil, 0, err
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.messageKey(id)
	}
	msgs, err := mgetJSON[talker.Message](ctx, s.client, keys)
	if err != nil {
		return nil, 0, err
	}
	return msgs, int(total), nil
}

func (s *RedisStore) SaveConversation(ctx context.Context, c talker.Conversation) error {
	n, err := s.client.Exists(ctx, s.sessionKey(c.SessionID)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("session", c.SessionID)
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return talker.WrapError(err, talker.ErrCodeJSONParse)
	}
	return s.client.RPush(ctx, s.conversationsKey(), raw).Err()
}

func (s *RedisStore) ListConversations(ctx context.Context) ([]talker.Conversation, error) {
	items, err := s.client.LRange(ctx, s.conversationsKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]talker.Conversation, 0, len(items))
	for _, item := range items {
		var c talker.Conversation
		if err := json.Unmarshal([]byte(item), &c); err != nil {
			s.logger.WithError(err).Warn("Skipping unreadable conversation record")
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *RedisStore) SessionCount(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, s.sessionsKey()).Result()
	return int(n), err
}

// update runs fn in an optimistic WATCH transaction, retrying when a watched
// key changed underneath it.
func (s *RedisStore) update(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		s.logger.Debugf("Redis transaction on %v conflicted, retrying (%d/%d)", keys, i+1, maxTxRetries)
	}
	return talker.NewTalkerError("redis transaction kept conflicting", talker.ErrCodeTimeout).AddDetail("keys", keys)
}

// mgetJSON loads keys in one round trip. Keys that vanished between the index
// read and the MGET are skipped.
func mgetJSON[T any](ctx context.Context, c redis.Cmdable, keys []string) ([]T, error) {
	vals, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var item T
		if err := json.Unmarshal([]byte(str), &item); err != nil {
			return nil, talker.WrapError(err, talker.ErrCodeJSONParse).AddDetail("key", keys[i])
		}
		out = append(out, item)
	}
	return out, nil
}
