package notify

import (
	"context"
	"fmt"
)

// ==================== 实体表常量 ====================

const (
	TableProject          = "Project"
	TableDetailSheet      = "DetailSheet"
	TableQuote            = "Quote"
	TableSurvey           = "Survey"
	TableProjectPersonnel = "ProjectPersonnel"
)

// ==================== 解析策略 ====================

// StrategyKind 受众解析策略标签(封闭变体)
type StrategyKind string

const (
	// StrategyColumn 记录列本身即接收人集合
	StrategyColumn StrategyKind = "column"

	// StrategyLinkColumn 记录列指向至多一个接收人
	StrategyLinkColumn StrategyKind = "link-column"

	// StrategyPermission 持有指定权限的全部用户
	StrategyPermission StrategyKind = "permission"

	// StrategyCategoryManager 记录派生出的品类标签对应的品类负责人
	StrategyCategoryManager StrategyKind = "category-manager"

	// StrategyUserColumnPermission 权限持有者与记录列指定用户的并集
	StrategyUserColumnPermission StrategyKind = "user-column-permission"

	// StrategyQuoteRequestedBy 完成报价请求流程步骤的那个用户
	StrategyQuoteRequestedBy StrategyKind = "quote-requested-by"

	// StrategyProjectRole 记录自带人员名单中持有授权角色的成员
	StrategyProjectRole StrategyKind = "project-role"

	// StrategyRelatedProjectRole 关联项目人员名单中持有授权角色的成员
	// 用于从属实体(如明细表)的规则
	StrategyRelatedProjectRole StrategyKind = "related-project-role"
)

// GateFunc 记录级布尔门控
// 可能需要跨实体查询(如取项目全部明细表判断整体状态),门控为假时受众为空
type GateFunc func(ctx context.Context, record RecordSnapshot, records RecordStore) (bool, error)

// CategoryFunc 由记录派生品类标签集合
type CategoryFunc func(record RecordSnapshot) []string

// ==================== AudienceRule ====================

// AudienceRule 受众规则
// 声明式地把 (来源表, 通知类型) 绑定到一种解析策略,进程启动时装载,分发期间只读
type AudienceRule struct {
	// SourceTable 规则响应的实体表
	SourceTable string

	// Type 通知类型标签,用于默认文案与负载判别
	Type string

	// Dated 为真时规则保留给定时/批处理变体,不参与实时分发
	Dated bool

	// LabelColumn 可选,提供自定义文案的记录列
	LabelColumn string

	// Strategy 解析策略标签
	Strategy StrategyKind

	// Column 列类策略及 user-column/quote-requested-by 策略使用的列名
	Column string

	// Permission 权限类策略检查的权限名
	Permission string

	// Gate 布尔门控,nil 表示无条件
	Gate GateFunc

	// Categories 品类负责人策略的标签派生函数
	Categories CategoryFunc
}

// ==================== Catalog ====================

// Catalog 规则目录
// 固定表,每个 (来源表, 通知类型) 对恰好一条规则
type Catalog []AudienceRule

// Validate 校验目录不变式:同一 (表, 类型) 对不允许重复
func (catalog Catalog) Validate() error {
	seen := make(map[string]struct{}, len(catalog))

	for _, rule := range catalog {
		key := rule.SourceTable + "/" + rule.Type
		if _, duplicate := seen[key]; duplicate {
			return fmt.Errorf("duplicate audience rule for (%s, %s)", rule.SourceTable, rule.Type)
		}
		seen[key] = struct{}{}
	}

	return nil
}

// ForTable 返回响应指定表的实时规则
// Dated 规则被排除,规则之间相互独立,返回顺序不承载语义
func (catalog Catalog) ForTable(table string) []AudienceRule {
	var matched []AudienceRule

	for _, rule := range catalog {
		if rule.SourceTable != table || rule.Dated {
			continue
		}
		matched = append(matched, rule)
	}

	return matched
}
