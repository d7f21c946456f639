package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// CounterResult 计数器原子扣减结果
type CounterResult int

const (
	// CounterOK 扣减成功
	CounterOK CounterResult = iota
	// CounterInsufficient 余量不足，未做任何修改
	CounterInsufficient
	// CounterMissing 计数器不存在（冷启动）
	CounterMissing
)

func (r CounterResult) String() string {
	switch r {
	case CounterOK:
		return "ok"
	case CounterInsufficient:
		return "insufficient"
	case CounterMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// CounterStore 商品可用库存计数器
type CounterStore interface {
	Get(ctx context.Context, productID uint) (int64, bool, error)
	Set(ctx context.Context, productID uint, value int64, ttl time.Duration) error
	DecrementWithFloor(ctx context.Context, productID uint, amount int64) (int64, CounterResult, error)
	SeedAndDecrement(ctx context.Context, productID uint, seed, amount int64, ttl time.Duration) (int64, CounterResult, error)
	IncrementIfExists(ctx context.Context, productID uint, amount int64) (int64, bool, error)
	Delete(ctx context.Context, productID uint) error
	Exists(ctx context.Context, productID uint) (bool, error)
}

// 返回 {code, value}：1 成功 / 0 不足 / -1 不存在
var decrementWithFloorScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
	return {-1, 0}
end
local cur = tonumber(v)
local amt = tonumber(ARGV[1])
if cur < amt then
	return {0, cur}
end
return {1, redis.call('DECRBY', KEYS[1], amt)}
`)

// 不存在时先以 ARGV[1] 初始化，再执行带下限的扣减
var seedAndDecrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	local ttl = tonumber(ARGV[3])
	if ttl > 0 then
		redis.call('SET', KEYS[1], ARGV[1], 'EX', ttl)
	else
		redis.call('SET', KEYS[1], ARGV[1])
	end
end
local cur = tonumber(redis.call('GET', KEYS[1]))
local amt = tonumber(ARGV[2])
if cur < amt then
	return {0, cur}
end
return {1, redis.call('DECRBY', KEYS[1], amt)}
`)

var incrementIfExistsScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return {0, 0}
end
return {1, redis.call('INCRBY', KEYS[1], ARGV[1])}
`)

// RedisCounter 基于 Redis 的计数器实现
type RedisCounter struct {
	client *redis.Client
	prefix string
}

// NewRedisCounter 创建 Redis 计数器
func NewRedisCounter(client *redis.Client, prefix string) *RedisCounter {
	return &RedisCounter{client: client, prefix: NormalizePrefix(prefix)}
}

func (c *RedisCounter) key(productID uint) string {
	return buildKey(c.prefix, fmt.Sprintf("product:stock:%d", productID))
}

// Get 读取计数器
func (c *RedisCounter) Get(ctx context.Context, productID uint) (int64, bool, error) {
	val, err := c.client.Get(ctx, c.key(productID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return val, true, nil
}

// Set 覆盖写入计数器
func (c *RedisCounter) Set(ctx context.Context, productID uint, value int64, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return c.client.Set(ctx, c.key(productID), value, ttl).Err()
}

// DecrementWithFloor 原子扣减，余量不足时拒绝
func (c *RedisCounter) DecrementWithFloor(ctx context.Context, productID uint, amount int64) (int64, CounterResult, error) {
	raw, err := decrementWithFloorScript.Run(ctx, c.client, []string{c.key(productID)}, amount).Result()
	if err != nil {
		return 0, CounterMissing, err
	}
	return parseScriptReply(raw)
}

// SeedAndDecrement 冷启动时原子初始化并扣减
func (c *RedisCounter) SeedAndDecrement(ctx context.Context, productID uint, seed, amount int64, ttl time.Duration) (int64, CounterResult, error) {
	seconds := int64(ttl / time.Second)
	raw, err := seedAndDecrementScript.Run(ctx, c.client, []string{c.key(productID)}, seed, amount, seconds).Result()
	if err != nil {
		return 0, CounterMissing, err
	}
	return parseScriptReply(raw)
}

// IncrementIfExists 计数器存在时原子增加
func (c *RedisCounter) IncrementIfExists(ctx context.Context, productID uint, amount int64) (int64, bool, error) {
	raw, err := incrementIfExistsScript.Run(ctx, c.client, []string{c.key(productID)}, amount).Result()
	if err != nil {
		return 0, false, err
	}
	value, result, err := parseScriptReply(raw)
	if err != nil {
		return 0, false, err
	}
	return value, result == CounterOK, nil
}

// Delete 删除计数器
func (c *RedisCounter) Delete(ctx context.Context, productID uint) error {
	return c.client.Del(ctx, c.key(productID)).Err()
}

// Exists 计数器是否存在
func (c *RedisCounter) Exists(ctx context.Context, productID uint) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(productID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func parseScriptReply(raw interface{}) (int64, CounterResult, error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return 0, CounterMissing, fmt.Errorf("unexpected counter script reply: %v", raw)
	}
	code, err := toInt64(values[0])
	if err != nil {
		return 0, CounterMissing, err
	}
	value, err := toInt64(values[1])
	if err != nil {
		return 0, CounterMissing, err
	}
	switch code {
	case 1:
		return value, CounterOK, nil
	case 0:
		return value, CounterInsufficient, nil
	default:
		return 0, CounterMissing, nil
	}
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected counter value type %T", v)
	}
}
