package llm

import (
	"fmt"
	"testing"
	"time"

	"medscreen/internal/config"
)

func TestCacheKeyStability(t *testing.T) {
	a := CacheKey("openai", "gpt-4o", "prompt", map[string]string{"temperature": "0.1", "seed": "42"})
	b := CacheKey("openai", "gpt-4o", "prompt", map[string]string{"seed": "42", "temperature": "0.1"})
	if a != b {
		t.Error("param ordering changed the cache key")
	}
	if len(a) != 64 {
		t.Errorf("key length = %d, want 64 hex chars", len(a))
	}
	if c := CacheKey("openai", "gpt-4o-mini", "prompt", map[string]string{"seed": "42", "temperature": "0.1"}); c == a {
		t.Error("different models must produce different keys")
	}
	if c := CacheKey("openai", "gpt-4o", "prompt2", nil); c == a {
		t.Error("different prompts must produce different keys")
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	clock := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	c := NewCache(config.CacheConfig{MaxSize: 10, TTLSec: 3600})
	c.now = func() time.Time { return clock }

	c.Put("k", Response{Text: "v"})
	if _, ok := c.Get("k"); !ok {
		t.Fatal("fresh entry missing")
	}
	clock = clock.Add(3601 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Error("entry served past its TTL")
	}
	if c.Len() != 0 {
		t.Error("expired entry not dropped on read")
	}
}

func TestCacheLRUEviction(t *testing.T) {
	c := NewCache(config.CacheConfig{MaxSize: 3, TTLSec: 3600})
	for i := 0; i < 3; i++ {
		c.Put(fmt.Sprintf("k%d", i), Response{Text: fmt.Sprintf("v%d", i)})
	}
	c.Get("k0") // refresh k0, so k1 is now the oldest
	c.Put("k3", Response{Text: "v3"})

	if _, ok := c.Get("k1"); ok {
		t.Error("least recently used entry survived eviction")
	}
	for _, k := range []string{"k0", "k2", "k3"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("entry %s evicted out of order", k)
		}
	}
}

func TestCachePutUpdatesExisting(t *testing.T) {
	c := NewCache(config.CacheConfig{MaxSize: 2, TTLSec: 3600})
	c.Put("k", Response{Text: "old"})
	c.Put("k", Response{Text: "new"})
	if c.Len() != 1 {
		t.Errorf("duplicate key grew the cache to %d entries", c.Len())
	}
	resp, _ := c.Get("k")
	if resp.Text != "new" {
		t.Errorf("Get = %q, want updated value", resp.Text)
	}
}

func TestCacheZeroSizeDisables(t *testing.T) {
	c := NewCache(config.CacheConfig{MaxSize: 0, TTLSec: 3600})
	c.Put("k", Response{Text: "v"})
	if _, ok := c.Get("k"); ok {
		t.Error("zero-size cache stored an entry")
	}
}
