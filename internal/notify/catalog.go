package notify

import (
	"context"
	"fmt"
)

// ==================== 领域列名常量 ====================

const (
	ColumnSummary        = "summary"
	ColumnEstimateLate   = "estimateLate"
	ColumnHandoffReady   = "handoffReady"
	ColumnProjectManager = "projectManager"
	ColumnWatchers       = "watchers"
	ColumnPersonnel      = "personnel"
	ColumnProject        = "project"
	ColumnComplete       = "complete"
	ColumnSubmitted      = "submitted"
	ColumnApproved       = "approved"
	ColumnAddressedTo    = "addressedTo"
	ColumnRequestedBy    = "quoteRequestedBy"
	ColumnDescription    = "description"
	ColumnReadyForReview = "readyForReview"
	ColumnCategories     = "categories"
	ColumnTitle          = "title"

	// 人员名单条目内的字段
	PersonnelFieldUser = "user"
	PersonnelFieldRole = "role"
)

// ==================== 通知类型常量 ====================

const (
	TypeLateEstimate        = "late-estimate"
	TypeHandoffReady        = "handoff-ready"
	TypeProjectAssigned     = "project-assigned"
	TypeProjectWatch        = "project-watch"
	TypeQuoteSubmitted      = "quote-submitted"
	TypeQuoteApproved       = "quote-approved"
	TypeSurveyReview        = "survey-review"
	TypeDetailSheetsDone    = "detail-sheets-complete"
	TypeEstimateReminder    = "estimate-reminder"
)

// ==================== 权限名常量 ====================

const (
	PermissionShowLateEstimates  = "show-late-estimates"
	PermissionReceiveHandoffs    = "receive-handoffs"
	PermissionApproveQuotes      = "approve-quotes"
	PermissionManageDetailSheets = "manage-detail-sheets"

	categoryPermissionPrefix = "category-manager-"
)

// CategoryPermission 品类标签到权限名的映射
func CategoryPermission(tag string) string {
	return categoryPermissionPrefix + tag
}

// ==================== 默认文案 ====================

// DefaultLabels 按通知类型的静态默认文案
// 可被配置中的 Labels 段覆盖
func DefaultLabels() map[string]string {
	return map[string]string{
		TypeLateEstimate:     "Late Estimate",
		TypeHandoffReady:     "Ready For Handoff",
		TypeProjectAssigned:  "Project Assigned",
		TypeProjectWatch:     "Project Updated",
		TypeQuoteSubmitted:   "Quote Submitted",
		TypeQuoteApproved:    "Quote Approved",
		TypeSurveyReview:     "Survey Ready For Review",
		TypeDetailSheetsDone: "Detail Sheets Complete",
		TypeEstimateReminder: "Estimate Reminder",
	}
}

// ==================== 门控函数 ====================

// gateBoolColumn 生成只看单个布尔列的门控
func gateBoolColumn(column string) GateFunc {
	return func(ctx context.Context, record RecordSnapshot, records RecordStore) (bool, error) {
		return record.Bool(column), nil
	}
}

// gateAllDetailSheetsComplete 跨实体门控
// 当前快照自身必须完成,其余兄弟明细表取自存储;
// 自身状态以快照为准,否则新旧两侧会读到同一份存储数据,差集恒为空
func gateAllDetailSheetsComplete(ctx context.Context, record RecordSnapshot, records RecordStore) (bool, error) {
	if !record.Bool(ColumnComplete) {
		return false, nil
	}

	projectID := record.String(ColumnProject)
	if projectID == "" {
		return false, nil
	}

	sheets, err := records.ReadRelated(ctx, TableDetailSheet, ColumnProject, projectID)
	if err != nil {
		return false, fmt.Errorf("list detail sheets for project %s: %w", projectID, err)
	}

	for _, sheet := range sheets {
		if sheet.ID() == record.ID() {
			continue
		}
		if !sheet.Bool(ColumnComplete) {
			return false, nil
		}
	}

	return true, nil
}

// surveyCategories 问卷记录的品类标签派生
func surveyCategories(record RecordSnapshot) []string {
	return record.StringList(ColumnCategories)
}

// ==================== 默认规则目录 ====================

// DefaultCatalog 内置受众规则目录
// 每个 (来源表, 通知类型) 对恰好一条;门控与品类派生是代码,
// 所以目录本体在代码中组装,仅文案可经配置覆盖
func DefaultCatalog() Catalog {
	return Catalog{
		{
			SourceTable: TableProject,
			Type:        TypeLateEstimate,
			Strategy:    StrategyPermission,
			Permission:  PermissionShowLateEstimates,
			Gate:        gateBoolColumn(ColumnEstimateLate),
		},
		{
			SourceTable: TableProject,
			Type:        TypeHandoffReady,
			Strategy:    StrategyProjectRole,
			Permission:  PermissionReceiveHandoffs,
			Gate:        gateBoolColumn(ColumnHandoffReady),
		},
		{
			SourceTable: TableProject,
			Type:        TypeProjectAssigned,
			Strategy:    StrategyLinkColumn,
			Column:      ColumnProjectManager,
		},
		{
			SourceTable: TableProject,
			Type:        TypeProjectWatch,
			Strategy:    StrategyColumn,
			Column:      ColumnWatchers,
		},
		{
			SourceTable: TableQuote,
			Type:        TypeQuoteSubmitted,
			Strategy:    StrategyUserColumnPermission,
			Column:      ColumnAddressedTo,
			Permission:  PermissionApproveQuotes,
			Gate:        gateBoolColumn(ColumnSubmitted),
			LabelColumn: ColumnDescription,
		},
		{
			SourceTable: TableQuote,
			Type:        TypeQuoteApproved,
			Strategy:    StrategyQuoteRequestedBy,
			Column:      ColumnRequestedBy,
			Gate:        gateBoolColumn(ColumnApproved),
			LabelColumn: ColumnDescription,
		},
		{
			SourceTable: TableSurvey,
			Type:        TypeSurveyReview,
			Strategy:    StrategyCategoryManager,
			Categories:  surveyCategories,
			Gate:        gateBoolColumn(ColumnReadyForReview),
			LabelColumn: ColumnTitle,
		},
		{
			SourceTable: TableDetailSheet,
			Type:        TypeDetailSheetsDone,
			Strategy:    StrategyRelatedProjectRole,
			Permission:  PermissionManageDetailSheets,
			Gate:        gateAllDetailSheetsComplete,
		},
		{
			// 定时提醒变体,由批处理通道消费,不参与实时分发
			SourceTable: TableProject,
			Type:        TypeEstimateReminder,
			Dated:       true,
			Strategy:    StrategyPermission,
			Permission:  PermissionShowLateEstimates,
		},
	}
}
