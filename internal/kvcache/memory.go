package kvcache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore：进程内 LRU + TTL 存储，Redis 关闭时使用
// 约束：容量满时淘汰最久未访问项；过期项在读取或枚举时惰性删除
type MemoryStore struct {
	mu   sync.Mutex
	cap  int
	lst  *list.List
	dict map[string]*list.Element
	now  func() time.Time
}

type memEntry struct {
	k   string
	v   []byte
	exp time.Time
}

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 4096
	}
	return &MemoryStore{cap: capacity, lst: list.New(), dict: make(map[string]*list.Element), now: time.Now}
}

// WithClock：替换时钟，测试中推进 TTL 用
func (c *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

func (c *MemoryStore) Get(_ context.Context, k string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.dict[k]; ok {
		it := e.Value.(memEntry)
		if c.now().Before(it.exp) {
			c.lst.MoveToFront(e)
			return it.v, true, nil
		}
		c.lst.Remove(e)
		delete(c.dict, k)
	}
	return nil, false, nil
}

func (c *MemoryStore) Set(_ context.Context, k string, v []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it := memEntry{k: k, v: v, exp: c.now().Add(ttl)}
	if e, ok := c.dict[k]; ok {
		e.Value = it
		c.lst.MoveToFront(e)
		return nil
	}
	c.dict[k] = c.lst.PushFront(it)
	for c.lst.Len() > c.cap {
		back := c.lst.Back()
		if back == nil {
			break
		}
		delete(c.dict, back.Value.(memEntry).k)
		c.lst.Remove(back)
	}
	return nil
}

func (c *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	var out []string
	for k, e := range c.dict {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if !now.Before(e.Value.(memEntry).exp) {
			c.lst.Remove(e)
			delete(c.dict, k)
			continue
		}
		out = append(out, k)
	}
	return out, nil
}

func (c *MemoryStore) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if e, ok := c.dict[k]; ok {
			c.lst.Remove(e)
			delete(c.dict, k)
		}
	}
	return nil
}

func (c *MemoryStore) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lst.Len()
}
