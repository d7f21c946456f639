package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value    int64
	expireAt time.Time
}

// MemoryCounter Redis 不可用时的进程内计数器，单次操作在互斥锁内完成
type MemoryCounter struct {
	mu      sync.Mutex
	entries map[uint]memoryEntry
	now     func() time.Time
}

// NewMemoryCounter 创建进程内计数器
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		entries: make(map[uint]memoryEntry),
		now:     time.Now,
	}
}

// lookup 需持有锁调用，顺带清理过期项
func (c *MemoryCounter) lookup(productID uint) (memoryEntry, bool) {
	entry, ok := c.entries[productID]
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expireAt.IsZero() && !c.now().Before(entry.expireAt) {
		delete(c.entries, productID)
		return memoryEntry{}, false
	}
	return entry, true
}

func (c *MemoryCounter) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

// Get 读取计数器
func (c *MemoryCounter) Get(_ context.Context, productID uint) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.lookup(productID)
	return entry.value, ok, nil
}

// Set 覆盖写入计数器
func (c *MemoryCounter) Set(_ context.Context, productID uint, value int64, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[productID] = memoryEntry{value: value, expireAt: c.expiry(ttl)}
	return nil
}

// DecrementWithFloor 原子扣减，余量不足时拒绝
func (c *MemoryCounter) DecrementWithFloor(_ context.Context, productID uint, amount int64) (int64, CounterResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.lookup(productID)
	if !ok {
		return 0, CounterMissing, nil
	}
	return c.decrementLocked(productID, entry, amount)
}

// SeedAndDecrement 冷启动时原子初始化并扣减
func (c *MemoryCounter) SeedAndDecrement(_ context.Context, productID uint, seed, amount int64, ttl time.Duration) (int64, CounterResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.lookup(productID)
	if !ok {
		entry = memoryEntry{value: seed, expireAt: c.expiry(ttl)}
		c.entries[productID] = entry
	}
	return c.decrementLocked(productID, entry, amount)
}

func (c *MemoryCounter) decrementLocked(productID uint, entry memoryEntry, amount int64) (int64, CounterResult, error) {
	if entry.value < amount {
		return entry.value, CounterInsufficient, nil
	}
	entry.value -= amount
	c.entries[productID] = entry
	return entry.value, CounterOK, nil
}

// IncrementIfExists 计数器存在时原子增加
func (c *MemoryCounter) IncrementIfExists(_ context.Context, productID uint, amount int64) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.lookup(productID)
	if !ok {
		return 0, false, nil
	}
	entry.value += amount
	c.entries[productID] = entry
	return entry.value, true, nil
}

// Delete 删除计数器
func (c *MemoryCounter) Delete(_ context.Context, productID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, productID)
	return nil
}

// Exists 计数器是否存在
func (c *MemoryCounter) Exists(_ context.Context, productID uint) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.lookup(productID)
	return ok, nil
}
