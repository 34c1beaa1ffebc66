package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/notify"
)

// ==================== 常量定义 ====================

const (
	defaultQueryLimit = 50
	redisKeyFormat    = "%s:dispatch:%s"
	redisTimesKey     = "%s:dispatch:times"
	redisSeqKey       = "%s:dispatch:seq"
)

// ==================== 数据结构 ====================

// RedisStore 分发结果的 Redis 存储
// 每次扇出一个 Hash,时间线 ZSet 支持倒序查询与定量裁剪
type RedisStore struct {
	client         *redis.Client
	namespace      string
	maxKeepReports int64
	ttl            time.Duration
	timeProvider   func() time.Time
}

// NewRedisStore 创建 Redis 存储实例
func NewRedisStore(client *redis.Client, namespace string, maxKeep int64, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client:         client,
		namespace:      namespace,
		maxKeepReports: maxKeep,
		ttl:            ttl,
		timeProvider:   nil,
	}
}

// SetTimeProvider 设置时间提供函数（主要用于测试）
func (store *RedisStore) SetTimeProvider(provider func() time.Time) {
	store.timeProvider = provider
}

// reportHashData Hash 存储的结果数据
type reportHashData map[string]string

// ==================== Lua 脚本 ====================

var trimReportsScript = redis.NewScript(`
local sortedSetKey = KEYS[1]
local maxKeepCount = tonumber(ARGV[1])
if maxKeepCount <= 0 then return 0 end

local totalCount = redis.call("ZCARD", sortedSetKey)
if totalCount <= maxKeepCount then return 0 end

local excessCount = totalCount - maxKeepCount
local oldReportKeys = redis.call("ZRANGE", sortedSetKey, 0, excessCount - 1)

for i, reportKey in ipairs(oldReportKeys) do
  redis.call("DEL", reportKey)
end

redis.call("ZREMRANGEBYRANK", sortedSetKey, 0, excessCount - 1)
return excessCount
`)

// ==================== 核心方法 ====================

// SaveReport 保存一次扇出的分发结果
func (store *RedisStore) SaveReport(ctx context.Context, report notify.DispatchReport) error {
	sequenceID, err := store.nextSequenceID(ctx)
	if err != nil {
		return fmt.Errorf("generate report id failed: %w", err)
	}

	createdTimestamp := store.getCreatedTimestamp(report.CreatedAt)
	hashKey := store.buildReportHashKey(sequenceID)
	hashData := store.buildHashData(report, createdTimestamp)

	return store.saveReportWithPipeline(ctx, hashKey, hashData, createdTimestamp)
}

// Trim 清理超出限制的旧结果
func (store *RedisStore) Trim(ctx context.Context) (int, error) {
	if store.maxKeepReports <= 0 {
		return 0, nil
	}

	deletedCount, err := trimReportsScript.Run(
		ctx,
		store.client,
		[]string{store.buildTimesKey()},
		store.maxKeepReports,
	).Int()

	if err != nil {
		return 0, fmt.Errorf("trim dispatch reports failed: %w", err)
	}

	return deletedCount, nil
}

// QueryReports 按时间倒序查询最近的分发结果
func (store *RedisStore) QueryReports(ctx context.Context, limit int64) ([]notify.DispatchReport, error) {
	limit = store.normalizeQueryLimit(limit)

	reportKeys, err := store.fetchReportKeys(ctx, limit)
	if err != nil {
		return nil, err
	}

	return store.fetchReports(ctx, reportKeys)
}

// GetTotalReports 获取留存结果总数
func (store *RedisStore) GetTotalReports(ctx context.Context) (int64, error) {
	count, err := store.client.ZCard(ctx, store.buildTimesKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("get total reports count failed: %w", err)
	}

	return count, nil
}

// ==================== 私有辅助方法 - Key 生成 ====================

func (store *RedisStore) buildReportHashKey(id string) string {
	return fmt.Sprintf(redisKeyFormat, store.namespace, id)
}

func (store *RedisStore) buildTimesKey() string {
	return fmt.Sprintf(redisTimesKey, store.namespace)
}

func (store *RedisStore) buildSequenceKey() string {
	return fmt.Sprintf(redisSeqKey, store.namespace)
}

// ==================== 私有辅助方法 - 存储逻辑 ====================

func (store *RedisStore) nextSequenceID(ctx context.Context) (string, error) {
	sequenceID, err := store.client.Incr(ctx, store.buildSequenceKey()).Result()
	if err != nil {
		return "", err
	}

	return strconv.FormatInt(sequenceID, 10), nil
}

func (store *RedisStore) getCreatedTimestamp(reportCreatedAt int64) int64 {
	if reportCreatedAt != 0 {
		return reportCreatedAt
	}

	timeFunc := store.timeProvider
	if timeFunc == nil {
		timeFunc = time.Now
	}

	return timeFunc().Unix()
}

func (store *RedisStore) buildHashData(report notify.DispatchReport, createdAt int64) reportHashData {
	outcomesJSON, _ := json.Marshal(report.Outcomes)

	return reportHashData{
		"type":       report.Type,
		"record_id":  report.RecordID,
		"label":      report.Label,
		"recipients": strconv.Itoa(report.Recipients),
		"outcomes":   string(outcomesJSON),
		"delivered":  strconv.Itoa(report.Delivered),
		"transient":  strconv.Itoa(report.Transient),
		"permanent":  strconv.Itoa(report.Permanent),
		"created_at": strconv.FormatInt(createdAt, 10),
	}
}

func (store *RedisStore) saveReportWithPipeline(ctx context.Context, hashKey string, data reportHashData, timestamp int64) error {
	pipeline := store.client.TxPipeline()

	pipeline.HSet(ctx, hashKey, data)

	if store.ttl > 0 {
		pipeline.Expire(ctx, hashKey, store.ttl)
	}

	pipeline.ZAdd(ctx, store.buildTimesKey(), redis.Z{
		Score:  float64(timestamp),
		Member: hashKey,
	})

	_, err := pipeline.Exec(ctx)
	if err != nil {
		return fmt.Errorf("save report pipeline failed: %w", err)
	}

	return nil
}

// ==================== 私有辅助方法 - 查询逻辑 ====================

func (store *RedisStore) normalizeQueryLimit(limit int64) int64 {
	if limit <= 0 {
		return defaultQueryLimit
	}
	return limit
}

func (store *RedisStore) fetchReportKeys(ctx context.Context, limit int64) ([]string, error) {
	reportKeys, err := store.client.ZRevRange(ctx, store.buildTimesKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch report keys failed: %w", err)
	}
	return reportKeys, nil
}

func (store *RedisStore) fetchReports(ctx context.Context, reportKeys []string) ([]notify.DispatchReport, error) {
	reports := make([]notify.DispatchReport, 0, len(reportKeys))

	for _, reportKey := range reportKeys {
		report, err := store.fetchSingleReport(ctx, reportKey)
		if err != nil {
			continue
		}

		if report != nil {
			reports = append(reports, *report)
		}
	}

	return reports, nil
}

func (store *RedisStore) fetchSingleReport(ctx context.Context, reportKey string) (*notify.DispatchReport, error) {
	hashData, err := store.client.HGetAll(ctx, reportKey).Result()
	if err != nil || len(hashData) == 0 {
		return nil, err
	}

	report := store.parseReportFromHash(hashData)
	return &report, nil
}

// ==================== 私有辅助方法 - 数据解析 ====================

func (store *RedisStore) parseReportFromHash(data map[string]string) notify.DispatchReport {
	report := notify.DispatchReport{
		Type:     data["type"],
		RecordID: data["record_id"],
		Label:    data["label"],
	}

	if outcomesJSON := data["outcomes"]; outcomesJSON != "" {
		var outcomes []notify.EndpointOutcome
		if json.Unmarshal([]byte(outcomesJSON), &outcomes) == nil {
			report.Outcomes = outcomes
		}
	}

	store.parseNumericFields(&report, data)

	return report
}

func (store *RedisStore) parseNumericFields(report *notify.DispatchReport, data map[string]string) {
	if recipients, err := strconv.Atoi(data["recipients"]); err == nil {
		report.Recipients = recipients
	}
	if delivered, err := strconv.Atoi(data["delivered"]); err == nil {
		report.Delivered = delivered
	}
	if transient, err := strconv.Atoi(data["transient"]); err == nil {
		report.Transient = transient
	}
	if permanent, err := strconv.Atoi(data["permanent"]); err == nil {
		report.Permanent = permanent
	}
	if createdAt, err := strconv.ParseInt(data["created_at"], 10, 64); err == nil {
		report.CreatedAt = createdAt
	}
}
