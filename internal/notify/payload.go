package notify

import (
	"context"
	"time"
)

// ==================== PayloadBuilder ====================

// PayloadBuilder 通知负载构造器
// 负责文案选择与上下文摘要前缀;摘要查询失败只降级不阻断
type PayloadBuilder struct {
	records       RecordStore
	labels        map[string]string
	lookupTimeout time.Duration
}

// NewPayloadBuilder 创建负载构造器
// labels 覆盖默认文案,键为通知类型;nil 时只用默认表
func NewPayloadBuilder(records RecordStore, labels map[string]string, lookupTimeout time.Duration) *PayloadBuilder {
	if lookupTimeout <= 0 {
		lookupTimeout = defaultLookupTimeout
	}

	merged := DefaultLabels()
	for notifyType, label := range labels {
		merged[notifyType] = label
	}

	return &PayloadBuilder{
		records:       records,
		labels:        merged,
		lookupTimeout: lookupTimeout,
	}
}

// Build 构造本次分发的通知负载
// 返回的 error 仅表示摘要前缀被降级省略,负载本身始终可用,
// 调用方应上报该错误后继续分发
func (builder *PayloadBuilder) Build(ctx context.Context, rule AudienceRule, record RecordSnapshot) (Payload, error) {
	payload := Payload{
		Type:  rule.Type,
		ID:    record.ID(),
		Label: builder.baseLabel(rule, record),
	}

	summary, err := builder.projectSummary(ctx, rule, record)
	if summary != "" {
		payload.Label = summary + " " + payload.Label
	}

	return payload, err
}

// baseLabel 文案选择:规则指定的记录列优先,缺失或为空回退默认文案
func (builder *PayloadBuilder) baseLabel(rule AudienceRule, record RecordSnapshot) string {
	if rule.LabelColumn != "" {
		if label := record.String(rule.LabelColumn); label != "" {
			return label
		}
	}

	if label, ok := builder.labels[rule.Type]; ok {
		return label
	}

	return rule.Type
}

// projectSummary 上下文摘要查询
// 项目记录取自身摘要,从属实体经 project 列取父项目摘要;
// 父项目悬空或查询失败时返回空摘要与(可上报的)错误
func (builder *PayloadBuilder) projectSummary(ctx context.Context, rule AudienceRule, record RecordSnapshot) (string, error) {
	var projectID string

	switch rule.SourceTable {
	case TableProject:
		projectID = record.ID()
	case TableDetailSheet, TableQuote, TableSurvey:
		projectID = record.String(ColumnProject)
	default:
		return "", nil
	}

	if projectID == "" {
		return "", nil
	}

	readCtx, cancel := context.WithTimeout(ctx, builder.lookupTimeout)
	defer cancel()

	summary, found, err := builder.records.ReadScalar(readCtx, TableProject, ColumnSummary, projectID)
	if err != nil {
		return "", NewLookupError("summary of project "+projectID, err)
	}

	if !found {
		// 父项目悬空不是错误,只是没有前缀可加
		return "", nil
	}

	return summary, nil
}
