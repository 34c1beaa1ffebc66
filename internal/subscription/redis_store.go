package subscription

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/notify"
)

// ==================== 常量定义 ====================

const (
	defaultMaxPerUser = 16

	redisEndpointKeyFormat = "%s:sub:ep:%s"
	redisUserKeyFormat     = "%s:sub:user:%s"
)

// ==================== 数据结构 ====================

// RedisStore 推送订阅的 Redis 存储
// 每个端点一个 Hash,每个用户一个按注册时间排序的 ZSet 索引;
// 超出每用户上限时裁掉最旧的端点(旧浏览器会话自然淘汰)
type RedisStore struct {
	client       *redis.Client
	namespace    string
	maxPerUser   int64
	ttl          time.Duration
	timeProvider func() time.Time
}

// Options 订阅存储配置
type Options struct {
	Namespace  string
	MaxPerUser int64
	TTL        time.Duration
}

// NewRedisStore 创建订阅存储实例
func NewRedisStore(client *redis.Client, options Options) *RedisStore {
	maxPerUser := options.MaxPerUser
	if maxPerUser <= 0 {
		maxPerUser = defaultMaxPerUser
	}

	return &RedisStore{
		client:     client,
		namespace:  options.Namespace,
		maxPerUser: maxPerUser,
		ttl:        options.TTL,
	}
}

// SetTimeProvider 设置时间提供函数（主要用于测试）
func (store *RedisStore) SetTimeProvider(provider func() time.Time) {
	store.timeProvider = provider
}

// ==================== Lua 脚本 ====================

var trimUserEndpointsScript = redis.NewScript(`
local userSetKey = KEYS[1]
local maxKeepCount = tonumber(ARGV[1])
if maxKeepCount <= 0 then return 0 end

local totalCount = redis.call("ZCARD", userSetKey)
if totalCount <= maxKeepCount then return 0 end

local excessCount = totalCount - maxKeepCount
local oldEndpointKeys = redis.call("ZRANGE", userSetKey, 0, excessCount - 1)

for i, endpointKey in ipairs(oldEndpointKeys) do
  redis.call("DEL", endpointKey)
end

redis.call("ZREMRANGEBYRANK", userSetKey, 0, excessCount - 1)
return excessCount
`)

// ==================== 核心方法 ====================

// Add 注册一个新端点,返回带服务端生成 ID 的端点
func (store *RedisStore) Add(ctx context.Context, userID notify.RecipientID, endpointURL, p256dh, auth string) (notify.PushEndpoint, error) {
	endpoint := notify.PushEndpoint{
		ID:        uuid.NewString(),
		UserID:    userID,
		Endpoint:  endpointURL,
		P256dh:    p256dh,
		Auth:      auth,
		CreatedAt: store.now().Unix(),
	}

	if err := store.saveEndpointWithPipeline(ctx, endpoint); err != nil {
		return notify.PushEndpoint{}, err
	}

	if err := store.trimUser(ctx, userID); err != nil {
		return notify.PushEndpoint{}, err
	}

	return endpoint, nil
}

// Remove 注销端点,不存在时静默成功
func (store *RedisStore) Remove(ctx context.Context, endpointID string) error {
	endpointKey := store.buildEndpointKey(endpointID)

	userID, err := store.client.HGet(ctx, endpointKey, "user_id").Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load endpoint %s failed: %w", endpointID, err)
	}

	pipeline := store.client.TxPipeline()
	pipeline.Del(ctx, endpointKey)
	pipeline.ZRem(ctx, store.buildUserKey(notify.RecipientID(userID)), endpointKey)

	if _, err := pipeline.Exec(ctx); err != nil {
		return fmt.Errorf("remove endpoint %s failed: %w", endpointID, err)
	}
	return nil
}

// EndpointsFor 返回接收人当前注册的全部端点
// Hash 已过期但索引仍在的条目被跳过,等下一次 Add 触发裁剪
func (store *RedisStore) EndpointsFor(ctx context.Context, recipient notify.RecipientID) ([]notify.PushEndpoint, error) {
	endpointKeys, err := store.client.ZRange(ctx, store.buildUserKey(recipient), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list endpoints of %s failed: %w", recipient, err)
	}

	endpoints := make([]notify.PushEndpoint, 0, len(endpointKeys))
	for _, endpointKey := range endpointKeys {
		endpoint, found, err := store.fetchEndpoint(ctx, endpointKey)
		if err != nil {
			return nil, err
		}
		if found {
			endpoints = append(endpoints, endpoint)
		}
	}

	return endpoints, nil
}

// ==================== 私有辅助方法 - Key 生成 ====================

func (store *RedisStore) buildEndpointKey(endpointID string) string {
	return fmt.Sprintf(redisEndpointKeyFormat, store.namespace, endpointID)
}

func (store *RedisStore) buildUserKey(userID notify.RecipientID) string {
	return fmt.Sprintf(redisUserKeyFormat, store.namespace, userID)
}

// ==================== 私有辅助方法 - 存储逻辑 ====================

func (store *RedisStore) now() time.Time {
	if store.timeProvider != nil {
		return store.timeProvider()
	}
	return time.Now()
}

func (store *RedisStore) saveEndpointWithPipeline(ctx context.Context, endpoint notify.PushEndpoint) error {
	endpointKey := store.buildEndpointKey(endpoint.ID)
	userKey := store.buildUserKey(endpoint.UserID)

	pipeline := store.client.TxPipeline()

	pipeline.HSet(ctx, endpointKey, map[string]string{
		"id":         endpoint.ID,
		"user_id":    string(endpoint.UserID),
		"endpoint":   endpoint.Endpoint,
		"p256dh":     endpoint.P256dh,
		"auth":       endpoint.Auth,
		"created_at": strconv.FormatInt(endpoint.CreatedAt, 10),
	})

	if store.ttl > 0 {
		pipeline.Expire(ctx, endpointKey, store.ttl)
		pipeline.Expire(ctx, userKey, store.ttl)
	}

	pipeline.ZAdd(ctx, userKey, redis.Z{
		Score:  float64(endpoint.CreatedAt),
		Member: endpointKey,
	})

	if _, err := pipeline.Exec(ctx); err != nil {
		return fmt.Errorf("save endpoint pipeline failed: %w", err)
	}
	return nil
}

func (store *RedisStore) trimUser(ctx context.Context, userID notify.RecipientID) error {
	_, err := trimUserEndpointsScript.Run(
		ctx,
		store.client,
		[]string{store.buildUserKey(userID)},
		store.maxPerUser,
	).Int()

	if err != nil {
		return fmt.Errorf("trim endpoints of %s failed: %w", userID, err)
	}
	return nil
}

func (store *RedisStore) fetchEndpoint(ctx context.Context, endpointKey string) (notify.PushEndpoint, bool, error) {
	hashData, err := store.client.HGetAll(ctx, endpointKey).Result()
	if err != nil {
		return notify.PushEndpoint{}, false, fmt.Errorf("load endpoint %s failed: %w", endpointKey, err)
	}
	if len(hashData) == 0 {
		return notify.PushEndpoint{}, false, nil
	}

	createdAt, _ := strconv.ParseInt(hashData["created_at"], 10, 64)

	return notify.PushEndpoint{
		ID:        hashData["id"],
		UserID:    notify.RecipientID(hashData["user_id"]),
		Endpoint:  hashData["endpoint"],
		P256dh:    hashData["p256dh"],
		Auth:      hashData["auth"],
		CreatedAt: createdAt,
	}, true, nil
}
