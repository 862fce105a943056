package lru

import (
	"fmt"
	"testing"
)

func TestKey(t *testing.T) {
	base := KeyFields{Model: "llama-3.1-8b-instant", Prompt: "hello", Temperature: 0.7, MaxTokens: 512, TopP: 1.0}

	k1 := Key(base)
	k2 := Key(base)
	if k1 != k2 {
		t.Error("same input should produce same key")
	}

	other := base
	other.Model = "llama3-70b-8192"
	if Key(other) == k1 {
		t.Error("different model should produce different key")
	}

	withSystem := base
	withSystem.System = "be brief"
	if Key(withSystem) == k1 {
		t.Error("different system prompt should produce different key")
	}

	tokens := base
	tokens.MaxTokens = 16
	if Key(tokens) == k1 {
		t.Error("different max_tokens should produce different key")
	}
}

func TestKeyRounding(t *testing.T) {
	a := KeyFields{Model: "m", Prompt: "p", Temperature: 0.7, MaxTokens: 10, TopP: 0.9}
	b := KeyFields{Model: "m", Prompt: "p", Temperature: 0.7001, MaxTokens: 10, TopP: 0.9049}
	if Key(a) != Key(b) {
		t.Error("differences below two decimals should not change the key")
	}

	c := a
	c.Temperature = 0.71
	if Key(a) == Key(c) {
		t.Error("a 0.01 temperature difference should change the key")
	}
}

func TestPutAndGet(t *testing.T) {
	c := New(4)
	c.Put("k", "hello")

	got, ok := c.Get("k")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got != "hello" {
		t.Errorf("unexpected value: %q", got)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("expected cache miss")
	}
}

func TestEviction(t *testing.T) {
	c := New(64)
	for i := range 65 {
		c.Put(fmt.Sprintf("key-%d", i), fmt.Sprintf("value-%d", i))
	}

	if c.Len() != 64 {
		t.Fatalf("expected 64 entries, got %d", c.Len())
	}
	if c.Contains("key-0") {
		t.Error("least recently used entry should have been evicted")
	}
	for i := 1; i < 65; i++ {
		if !c.Contains(fmt.Sprintf("key-%d", i)) {
			t.Errorf("key-%d should still be cached", i)
		}
	}
}

func TestGetPromotes(t *testing.T) {
	c := New(2)
	c.Put("a", "1")
	c.Put("b", "2")

	// Touch a so b becomes the eviction candidate.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected hit for a")
	}
	c.Put("c", "3")

	if !c.Contains("a") {
		t.Error("recently used entry a was evicted")
	}
	if c.Contains("b") {
		t.Error("expected b to be evicted")
	}
}

func TestContainsDoesNotPromote(t *testing.T) {
	c := New(2)
	c.Put("a", "1")
	c.Put("b", "2")
	c.Contains("a")
	c.Put("c", "3")

	if c.Contains("a") {
		t.Error("Contains must not refresh recency")
	}
}

func TestPutExistingKey(t *testing.T) {
	c := New(2)
	c.Put("a", "1")
	c.Put("a", "2")
	if c.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", c.Len())
	}
	if got, _ := c.Get("a"); got != "2" {
		t.Errorf("expected updated value, got %q", got)
	}
}

func TestMinimumCapacity(t *testing.T) {
	c := New(0)
	c.Put("a", "1")
	c.Put("b", "2")
	if c.Len() != 1 {
		t.Errorf("expected capacity clamped to 1, got %d entries", c.Len())
	}
}

func TestStats(t *testing.T) {
	c := New(8)
	c.Put("h1", "data")
	c.Get("h1") // hit
	c.Get("h2") // miss

	stats := c.Stats()
	if stats.Entries != 1 {
		t.Errorf("expected 1 entry, got %d", stats.Entries)
	}
	if stats.Capacity != 8 {
		t.Errorf("expected capacity 8, got %d", stats.Capacity)
	}
	if stats.Hits != 1 {
		t.Errorf("expected 1 hit, got %d", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", stats.Misses)
	}
}

func TestClear(t *testing.T) {
	c := New(8)
	c.Put("h1", "data")
	c.Put("h2", "data")
	c.Clear()

	if c.Len() != 0 {
		t.Errorf("expected 0 entries after clear, got %d", c.Len())
	}
	if c.Contains("h1") {
		t.Error("expected h1 to be gone")
	}
	c.Put("h3", "data")
	if c.Len() != 1 {
		t.Errorf("cache unusable after clear: %d entries", c.Len())
	}
}
