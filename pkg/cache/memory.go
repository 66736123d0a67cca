package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is the degraded, single-worker fallback used when Redis is
// unreachable (spec.md §4.8 "graceful fallback"). Pub/Sub is delivered
// in-process only: a worker running MemoryCache never observes messages
// published by another process.
type MemoryCache struct {
	mu   sync.Mutex
	data map[string]entry
	subs map[string][]*memSubscription
}

type entry struct {
	value   string
	expires time.Time // zero means no expiry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		data: make(map[string]entry),
		subs: make(map[string][]*memSubscription),
	}
}

func (c *MemoryCache) Degraded() bool { return true }

func (c *MemoryCache) expired(e entry) bool {
	return !e.expires.IsZero() && time.Now().After(e.expires)
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[key]
	if !ok || c.expired(e) {
		delete(c.data, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = c.mkEntry(value, ttl)
	return nil
}

func (c *MemoryCache) mkEntry(value string, ttl time.Duration) entry {
	if ttl <= 0 {
		return entry{value: value}
	}
	return entry{value: value, expires: time.Now().Add(ttl)}
}

func (c *MemoryCache) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.data[key]; ok && !c.expired(e) {
		return false, nil
	}
	c.data[key] = c.mkEntry(value, ttl)
	return true, nil
}

func (c *MemoryCache) Expire(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[key]
	if !ok {
		return nil
	}
	e.expires = time.Now().Add(ttl)
	c.data[key] = e
	return nil
}

func (c *MemoryCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *MemoryCache) Publish(_ context.Context, channel string, payload string) error {
	c.mu.Lock()
	subs := append([]*memSubscription(nil), c.subs[channel]...)
	c.mu.Unlock()
	for _, s := range subs {
		select {
		case s.out <- Message{Channel: channel, Payload: payload}:
		default:
		}
	}
	return nil
}

func (c *MemoryCache) Subscribe(_ context.Context, channel string) (Subscription, error) {
	s := &memSubscription{cache: c, channel: channel, out: make(chan Message, 16)}
	c.mu.Lock()
	c.subs[channel] = append(c.subs[channel], s)
	c.mu.Unlock()
	return s, nil
}

func (c *MemoryCache) Close() error { return nil }

type memSubscription struct {
	cache   *MemoryCache
	channel string
	out     chan Message
	once    sync.Once
}

func (s *memSubscription) Channel() <-chan Message { return s.out }

func (s *memSubscription) Close() error {
	s.once.Do(func() {
		s.cache.mu.Lock()
		defer s.cache.mu.Unlock()
		subs := s.cache.subs[s.channel]
		for i, sub := range subs {
			if sub == s {
				s.cache.subs[s.channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(s.out)
	})
	return nil
}
