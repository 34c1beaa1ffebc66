package notify

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
)

// ==================== 观测上报 ====================

// Reporter 观测上报接口
// 发后不理:Report 自身绝不 panic、绝不返回错误,
// 引擎内部所有被隔离吞掉的失败只对它可见
type Reporter interface {
	Report(err error, context map[string]any)
}

// LogReporter 基于标准日志的上报实现
type LogReporter struct {
	prefix string
}

// NewLogReporter 创建日志上报器
func NewLogReporter(prefix string) *LogReporter {
	if prefix == "" {
		prefix = "NOTIFY"
	}
	return &LogReporter{prefix: prefix}
}

// Report 打印错误与上下文
func (reporter *LogReporter) Report(err error, context map[string]any) {
	defer func() {
		// 上报自身不允许把故障抛回调用方
		_ = recover()
	}()

	log.Printf("[%s] %v%s", reporter.prefix, err, formatReportContext(context))
}

// formatReportContext 将上下文键值格式化为稳定顺序的后缀
func formatReportContext(context map[string]any) string {
	if len(context) == 0 {
		return ""
	}

	keys := make([]string, 0, len(context))
	for key := range context {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", key, context[key]))
	}

	return " (" + strings.Join(parts, ", ") + ")"
}

// NopReporter 空实现,测试用
type NopReporter struct{}

func (NopReporter) Report(err error, context map[string]any) {}

// ==================== 分发结果 ====================

// OutcomeKind 单端点投递结果分类
type OutcomeKind string

const (
	OutcomeDelivered        OutcomeKind = "delivered"
	OutcomeTransientFailure OutcomeKind = "transient-failure"
	OutcomePermanentFailure OutcomeKind = "permanent-failure"
)

// EndpointOutcome 单个端点的投递结果
// 仅用于观测,不反馈到受众或负载计算
// EndpointID 为空表示接收人级失败(端点列表获取失败)
type EndpointOutcome struct {
	Recipient  RecipientID `json:"recipient"`
	EndpointID string      `json:"endpoint_id,omitempty"`
	Endpoint   string      `json:"endpoint,omitempty"`
	Kind       OutcomeKind `json:"kind"`
	Detail     string      `json:"detail,omitempty"`
}

// DispatchReport 一次扇出的聚合结果
// 对调用方不承载控制流意义,仅供测试与观测
type DispatchReport struct {
	Type       string            `json:"type"`
	RecordID   string            `json:"record_id"`
	Label      string            `json:"label"`
	Recipients int               `json:"recipients"`
	Outcomes   []EndpointOutcome `json:"outcomes"`
	Delivered  int               `json:"delivered"`
	Transient  int               `json:"transient"`
	Permanent  int               `json:"permanent"`
	CreatedAt  int64             `json:"created_at"`
}

// Tally 根据端点结果刷新统计计数
func (report *DispatchReport) Tally() {
	report.Delivered = 0
	report.Transient = 0
	report.Permanent = 0

	for _, outcome := range report.Outcomes {
		switch outcome.Kind {
		case OutcomeDelivered:
			report.Delivered++
		case OutcomeTransientFailure:
			report.Transient++
		case OutcomePermanentFailure:
			report.Permanent++
		}
	}
}

// DispatchLog 分发结果留存接口(可选注入)
type DispatchLog interface {
	SaveReport(ctx context.Context, report DispatchReport) error
	Trim(ctx context.Context) (int, error)
}
