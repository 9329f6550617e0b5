package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/jaberry835/agentmesh/core"
	"github.com/jaberry835/agentmesh/orchestration"
)

// sessionTTL bounds how long an idle session history is retained.
const sessionTTL = 24 * time.Hour

// SessionStore persists chat histories. The runtime itself owns no
// persistent state; this is the adapter boundary for the external
// chat-storage collaborator.
type SessionStore interface {
	AppendMessage(ctx context.Context, sessionID string, msg orchestration.Message) error
	History(ctx context.Context, sessionID string) ([]orchestration.Message, error)
}

// MemorySessionStore keeps sessions in process memory. It is the
// default when no Redis address is configured.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string][]orchestration.Message
}

// NewMemorySessionStore creates an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string][]orchestration.Message)}
}

func (s *MemorySessionStore) AppendMessage(ctx context.Context, sessionID string, msg orchestration.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], msg)
	return nil
}

func (s *MemorySessionStore) History(ctx context.Context, sessionID string) ([]orchestration.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.sessions[sessionID]
	out := make([]orchestration.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// RedisSessionStore persists sessions as Redis lists of JSON messages.
type RedisSessionStore struct {
	client *redis.Client
	logger core.Logger
}

// NewRedisSessionStore connects to Redis using a redis:// URL.
func NewRedisSessionStore(url string, logger core.Logger) (*RedisSessionStore, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: redis url: %v", core.ErrInvalidConfiguration, err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("%w: redis ping: %v", core.ErrConnectionFailed, err)
	}
	return &RedisSessionStore{client: client, logger: logger}, nil
}

func sessionKey(sessionID string) string {
	return "agentmesh:session:" + sessionID
}

func (s *RedisSessionStore) AppendMessage(ctx context.Context, sessionID string, msg orchestration.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := sessionKey(sessionID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", core.ErrConnectionFailed, err)
	}
	return nil
}

func (s *RedisSessionStore) History(ctx context.Context, sessionID string) ([]orchestration.Message, error) {
	raw, err := s.client.LRange(ctx, sessionKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConnectionFailed, err)
	}
	out := make([]orchestration.Message, 0, len(raw))
	for _, item := range raw {
		var msg orchestration.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			s.logger.Warn("Skipping undecodable session message", map[string]interface{}{
				"operation":  "session_store",
				"session_id": sessionID,
				"error":      err.Error(),
			})
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Close releases the Redis connection.
func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}
