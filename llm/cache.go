package llm

import (
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/modelmux/modelmux/providers"
)

// ResponseCache is an in-memory LRU over final responses, keyed by a hash
// of the provider name and the exact request body. Only tool-free final
// responses are cached; a turn that triggered tool execution depends on
// handler side effects and must not be replayed.
type ResponseCache struct {
	cache *lru.Cache[string, *providers.Response]
}

// NewResponseCache creates a cache holding up to size responses.
func NewResponseCache(size int) (*ResponseCache, error) {
	cache, err := lru.New[string, *providers.Response](size)
	if err != nil {
		return nil, err
	}
	return &ResponseCache{cache: cache}, nil
}

// Key derives the cache key for a marshaled request.
func (c *ResponseCache) Key(provider string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached response for key, if any.
func (c *ResponseCache) Get(key string) (*providers.Response, bool) {
	return c.cache.Get(key)
}

// Put stores a final response. Responses carrying tool calls are skipped.
func (c *ResponseCache) Put(key string, resp *providers.Response) {
	if resp == nil || resp.HasToolCalls() {
		return
	}
	c.cache.Add(key, resp)
}

// Len returns the number of cached responses.
func (c *ResponseCache) Len() int {
	return c.cache.Len()
}
