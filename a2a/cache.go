package a2a

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/jaberry835/agentmesh/core"
)

const (
	clientCacheTTL = 10 * time.Minute
	clientCacheCap = 32
)

type cachedClient struct {
	client   *Client
	lastUsed time.Time
}

// ClientCache hands out a2a clients. Requests without delegated
// credentials share one client; requests carrying a delegated token get
// a client cached under the token's hash, with a TTL and an LRU cap so
// expired or evicted credentials never linger.
type ClientCache struct {
	mu      sync.Mutex
	shared  *Client
	byToken map[string]*cachedClient
	config  *ClientConfig
	logger  core.Logger
	now     func() time.Time
}

// NewClientCache creates a cache producing clients from config.
func NewClientCache(config *ClientConfig) *ClientCache {
	if config == nil {
		config = DefaultClientConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &ClientCache{
		shared:  NewClient(config),
		byToken: make(map[string]*cachedClient),
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// For returns the client to use for the given forwarded headers.
func (c *ClientCache) For(headers ForwardHeaders) *Client {
	token := headers.DelegatedToken()
	if token == "" {
		return c.shared
	}

	key := hashToken(token)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictExpired(now)

	if entry, ok := c.byToken[key]; ok {
		entry.lastUsed = now
		return entry.client
	}

	if len(c.byToken) >= clientCacheCap {
		c.evictOldest()
	}

	client := NewClient(c.config)
	c.byToken[key] = &cachedClient{client: client, lastUsed: now}
	c.logger.Debug("Created delegated-credential client", map[string]interface{}{
		"operation":  "a2a_client_cache",
		"cache_size": len(c.byToken),
	})
	return client
}

// Size returns the number of delegated clients currently cached.
func (c *ClientCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byToken)
}

func (c *ClientCache) evictExpired(now time.Time) {
	for key, entry := range c.byToken {
		if now.Sub(entry.lastUsed) > clientCacheTTL {
			delete(c.byToken, key)
		}
	}
}

func (c *ClientCache) evictOldest() {
	var oldestKey string
	var oldestSeen time.Time
	for key, entry := range c.byToken {
		if oldestKey == "" || entry.lastUsed.Before(oldestSeen) {
			oldestKey = key
			oldestSeen = entry.lastUsed
		}
	}
	if oldestKey != "" {
		delete(c.byToken, oldestKey)
	}
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
