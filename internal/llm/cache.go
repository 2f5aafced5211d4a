package llm

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"medscreen/internal/config"
)

// Cache is the content-addressed response cache: SHA-256 over a canonical
// JSON of (provider, model, prompt, sorted params), TTL-bounded, LRU-evicted
// at max size. Only responses carrying a valid decision label are stored;
// the dispatcher enforces that before calling Put.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	ll      *list.List
	items   map[string]*list.Element

	now func() time.Time // test hook
}

type cacheEntry struct {
	key     string
	resp    Response
	expires time.Time
}

// NewCache builds a cache from configuration.
func NewCache(cfg config.CacheConfig) *Cache {
	return &Cache{
		maxSize: cfg.MaxSize,
		ttl:     cfg.TTL(),
		ll:      list.New(),
		items:   make(map[string]*list.Element),
		now:     time.Now,
	}
}

// cacheKeyPayload is marshaled canonically: params as a sorted pair list so
// map ordering can never change the key.
type cacheKeyPayload struct {
	Provider string     `json:"provider"`
	Model    string     `json:"model"`
	Prompt   string     `json:"prompt"`
	Params   [][2]string `json:"params"`
}

// CacheKey derives the content address of one call.
func CacheKey(provider, model, fullPrompt string, params map[string]string) string {
	pairs := make([][2]string, 0, len(params))
	for k, v := range params {
		pairs = append(pairs, [2]string{k, v})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })
	payload, _ := json.Marshal(cacheKeyPayload{
		Provider: provider, Model: model, Prompt: fullPrompt, Params: pairs,
	})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Get returns the cached response for key, if present and unexpired.
func (c *Cache) Get(key string) (Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return Response{}, false
	}
	entry := el.Value.(*cacheEntry)
	if c.now().After(entry.expires) {
		c.ll.Remove(el)
		delete(c.items, key)
		return Response{}, false
	}
	c.ll.MoveToFront(el)
	return entry.resp, true
}

// Put stores a response, evicting the least recently used entry when full.
func (c *Cache) Put(key string, resp Response) {
	if c.maxSize <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.resp = resp
		entry.expires = c.now().Add(c.ttl)
		c.ll.MoveToFront(el)
		return
	}
	for c.ll.Len() >= c.maxSize {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
	el := c.ll.PushFront(&cacheEntry{key: key, resp: resp, expires: c.now().Add(c.ttl)})
	c.items[key] = el
}

// Len reports the number of live entries (expired ones included until read).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
