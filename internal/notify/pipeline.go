package notify

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ==================== 常量定义 ====================

const (
	// defaultRuleConcurrency 规则并发求值默认上限
	defaultRuleConcurrency = 4
)

// ==================== Pipeline 结构 ====================

// Pipeline 通知分发编排器
// 串起 规则匹配 → 新旧受众解析 → 差集 → 负载构造 → 扇出 全流程,
// 是引擎唯一的吞错边界:任何内部故障都只上报,绝不抛回调用方
type Pipeline struct {
	catalog         Catalog
	resolver        *Resolver
	payloads        *PayloadBuilder
	fanout          *Fanout
	dispatchLog     DispatchLog
	reporter        Reporter
	ruleConcurrency int
}

// NewPipeline 创建编排器
// dispatchLog 可为 nil(不留存分发结果)
func NewPipeline(catalog Catalog, resolver *Resolver, payloads *PayloadBuilder,
	fanout *Fanout, dispatchLog DispatchLog, reporter Reporter, ruleConcurrency int) (*Pipeline, error) {

	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audience catalog: %w", err)
	}
	if ruleConcurrency <= 0 {
		ruleConcurrency = defaultRuleConcurrency
	}
	if reporter == nil {
		reporter = NopReporter{}
	}

	return &Pipeline{
		catalog:         catalog,
		resolver:        resolver,
		payloads:        payloads,
		fanout:          fanout,
		dispatchLog:     dispatchLog,
		reporter:        reporter,
		ruleConcurrency: ruleConcurrency,
	}, nil
}

// ==================== 顶层入口 ====================

// OnRecordChanged 记录变更的分发入口
// 对调用方永不失败:规则级故障隔离上报,未预期的 panic 也在此兜底;
// 返回的结果列表仅供同步调用方观测,空列表同样是成功
func (pipeline *Pipeline) OnRecordChanged(ctx context.Context, table, actor string, oldRecord, newRecord RecordSnapshot) []DispatchReport {
	defer func() {
		if recovered := recover(); recovered != nil {
			pipeline.reporter.Report(
				fmt.Errorf("unexpected dispatch failure: %v", recovered),
				map[string]any{"table": table, "actor": actor},
			)
		}
	}()

	rules := pipeline.catalog.ForTable(table)
	if len(rules) == 0 {
		return nil
	}

	var (
		mutex   sync.Mutex
		reports []DispatchReport
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(pipeline.ruleConcurrency)

	for _, rule := range rules {
		rule := rule

		group.Go(func() error {
			report, dispatched := pipeline.dispatchRule(groupCtx, rule, actor, oldRecord, newRecord)
			if dispatched {
				mutex.Lock()
				reports = append(reports, report)
				mutex.Unlock()
			}
			return nil
		})
	}

	// 规则级失败已就地上报,这里不会收到错误
	_ = group.Wait()

	return reports
}

// ==================== 单规则流程 ====================

// dispatchRule 对一条规则执行完整分发
// 第二返回值表示是否真的产生了一次扇出(差集为空时跳过)
func (pipeline *Pipeline) dispatchRule(ctx context.Context, rule AudienceRule, actor string, oldRecord, newRecord RecordSnapshot) (DispatchReport, bool) {
	newlyQualified, err := pipeline.audienceDelta(ctx, rule, oldRecord, newRecord)
	if err != nil {
		pipeline.reporter.Report(err, map[string]any{
			"table": rule.SourceTable,
			"type":  rule.Type,
			"actor": actor,
		})
		return DispatchReport{}, false
	}

	if newlyQualified.Empty() {
		return DispatchReport{}, false
	}

	payload, degraded := pipeline.payloads.Build(ctx, rule, newRecord)
	if degraded != nil {
		// 摘要前缀降级,负载仍然可用
		pipeline.reporter.Report(degraded, map[string]any{
			"table": rule.SourceTable,
			"type":  rule.Type,
		})
	}

	log.Printf("[PIPELINE] 规则 %s/%s 命中 %d 个新晋接收人", rule.SourceTable, rule.Type, newlyQualified.Len())

	report := pipeline.fanout.Dispatch(ctx, newlyQualified, payload)
	pipeline.saveReport(ctx, report)

	return report, true
}

// audienceDelta 并发解析新旧两侧受众并取差集
// 任一侧解析失败即放弃整条规则(宁可漏发不可错发)
func (pipeline *Pipeline) audienceDelta(ctx context.Context, rule AudienceRule, oldRecord, newRecord RecordSnapshot) (RecipientSet, error) {
	var oldAudience, newAudience RecipientSet

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		audience, err := pipeline.resolver.Resolve(groupCtx, rule, oldRecord)
		if err != nil {
			return fmt.Errorf("resolve old side: %w", err)
		}
		oldAudience = audience
		return nil
	})

	group.Go(func() error {
		audience, err := pipeline.resolver.Resolve(groupCtx, rule, newRecord)
		if err != nil {
			return fmt.Errorf("resolve new side: %w", err)
		}
		newAudience = audience
		return nil
	})

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return Delta(oldAudience, newAudience), nil
}

// saveReport 留存分发结果,留存失败只上报不影响分发结论
func (pipeline *Pipeline) saveReport(ctx context.Context, report DispatchReport) {
	if pipeline.dispatchLog == nil {
		return
	}

	if err := pipeline.dispatchLog.SaveReport(ctx, report); err != nil {
		pipeline.reporter.Report(NewLookupError("save dispatch report", err), map[string]any{
			"type":      report.Type,
			"record_id": report.RecordID,
		})
	}
}
