package main

import (
	"context"
	"flag"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/config"
	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/notify"
	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/recorder"
	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/subscription"
)

var (
	configFile = flag.String("config", "etc/app.yaml", "配置文件路径")
	mode       = flag.String("mode", "verify", "操作模式: verify|cleanup")
	dryRun     = flag.Bool("dry-run", false, "仅预览，不执行实际操作")
	scanLimit  = flag.Int64("limit", 2000, "扫描的分发结果条数")
)

func main() {
	flag.Parse()

	cfg := config.MustLoad(*configFile)

	rc := redis.NewClient(&redis.Options{Addr: cfg.Storage.RedisAddr})
	defer rc.Close()

	cleaner := &EndpointCleaner{
		reports: recorder.NewRedisStore(rc, cfg.Storage.Namespace, cfg.Storage.MaxKeepReports, cfg.Storage.ReportTTL),
		subscriptions: subscription.NewRedisStore(rc, subscription.Options{
			Namespace:  cfg.Storage.Namespace,
			MaxPerUser: cfg.Storage.SubMaxPerUser,
			TTL:        cfg.Storage.SubscriptionTTL,
		}),
		dryRun:    *dryRun,
		scanLimit: *scanLimit,
	}

	switch *mode {
	case "verify":
		cleaner.Verify()
	case "cleanup":
		cleaner.CleanupDeadEndpoints()
	default:
		log.Fatalf("未知模式: %s", *mode)
	}
}

// EndpointCleaner 端点清理器
// 根据最近分发结果里的永久失败,淘汰已失效的推送端点
type EndpointCleaner struct {
	reports       *recorder.RedisStore
	subscriptions *subscription.RedisStore
	dryRun        bool
	scanLimit     int64
}

// Verify 统计最近分发结果中的失效端点
func (c *EndpointCleaner) Verify() {
	ctx := context.Background()

	deadEndpoints := c.collectDeadEndpoints(ctx)

	total, err := c.reports.GetTotalReports(ctx)
	if err != nil {
		log.Printf("获取留存结果总数失败: %v", err)
	}

	log.Printf("留存分发结果总数: %d", total)
	log.Printf("最近 %d 条结果中发现 %d 个永久失败端点", c.scanLimit, len(deadEndpoints))

	for endpointID, recipient := range deadEndpoints {
		log.Printf("  失效端点: %s (接收人: %s)", endpointID, recipient)
	}
}

// CleanupDeadEndpoints 注销出现过永久失败的端点
// 端点已被推送服务判定失效(404/410),留着只会继续白打
func (c *EndpointCleaner) CleanupDeadEndpoints() {
	ctx := context.Background()

	log.Printf("开始清理失效端点...")

	deadEndpoints := c.collectDeadEndpoints(ctx)
	if len(deadEndpoints) == 0 {
		log.Printf("未发现失效端点")
		return
	}

	removedCount := 0
	for endpointID, recipient := range deadEndpoints {
		if c.dryRun {
			log.Printf("[dry-run] 将注销端点 %s (接收人: %s)", endpointID, recipient)
			removedCount++
			continue
		}

		if err := c.subscriptions.Remove(ctx, endpointID); err != nil {
			log.Printf("注销端点 %s 失败: %v", endpointID, err)
			continue
		}

		removedCount++
	}

	log.Printf("清理完成: 处理了 %d 个失效端点", removedCount)
}

// collectDeadEndpoints 从最近的分发结果中收集永久失败的端点
// 返回 端点ID → 接收人 的映射,同一端点只记一次
func (c *EndpointCleaner) collectDeadEndpoints(ctx context.Context) map[string]notify.RecipientID {
	reports, err := c.reports.QueryReports(ctx, c.scanLimit)
	if err != nil {
		log.Fatalf("查询分发结果失败: %v", err)
	}

	deadEndpoints := make(map[string]notify.RecipientID)

	for _, report := range reports {
		for _, outcome := range report.Outcomes {
			if outcome.Kind != notify.OutcomePermanentFailure {
				continue
			}

			// 空端点 ID 表示接收人级失败,不指向具体端点
			if outcome.EndpointID == "" {
				continue
			}

			deadEndpoints[outcome.EndpointID] = outcome.Recipient
		}
	}

	return deadEndpoints
}
