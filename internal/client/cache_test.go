package client

import (
	"testing"
	"time"
)

func TestResponseCache_PutGet(t *testing.T) {
	cache := NewResponseCache(1 * time.Minute)

	cache.Put("key1", "value1")
	cache.Put("key2", 42)

	v, ok := cache.Get("key1")
	if !ok || v != "value1" {
		t.Fatalf("expected 'value1', got %v (ok=%v)", v, ok)
	}

	v, ok = cache.Get("key2")
	if !ok || v != 42 {
		t.Fatalf("expected 42, got %v (ok=%v)", v, ok)
	}
}

func TestResponseCache_Expiry(t *testing.T) {
	cache := NewResponseCache(1 * time.Millisecond)

	cache.Put("key1", "value1")
	time.Sleep(5 * time.Millisecond)

	if _, ok := cache.Get("key1"); ok {
		t.Fatal("expected cache miss for expired key")
	}
}
