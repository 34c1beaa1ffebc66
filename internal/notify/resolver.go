package notify

import (
	"context"
	"log"
	"time"
)

// ==================== 常量定义 ====================

const (
	// defaultLookupTimeout 外部查询默认超时
	defaultLookupTimeout = 5 * time.Second
)

// ==================== Resolver 结构 ====================

// Resolver 受众解析器
// 对单条规则与单个记录快照求值,产出接收人集合;
// 对良构输入不报错,目录/代码不匹配时以 ConfigurationError 快速失败
type Resolver struct {
	records       RecordStore
	permissions   PermissionStore
	lookupTimeout time.Duration
}

// NewResolver 创建受众解析器
func NewResolver(records RecordStore, permissions PermissionStore, lookupTimeout time.Duration) *Resolver {
	if lookupTimeout <= 0 {
		lookupTimeout = defaultLookupTimeout
	}

	return &Resolver{
		records:       records,
		permissions:   permissions,
		lookupTimeout: lookupTimeout,
	}
}

// ==================== 公共解析接口 ====================

// Resolve 解析规则在给定快照下的受众
// 墓碑快照(recordVersion 缺失)短路为空集:对应"旧侧不存在"的创建事件
func (resolver *Resolver) Resolve(ctx context.Context, rule AudienceRule, record RecordSnapshot) (RecipientSet, error) {
	if !record.Valid() {
		return NewRecipientSet(), nil
	}

	switch rule.Strategy {
	case StrategyColumn:
		return resolver.resolveColumn(rule, record)
	case StrategyLinkColumn:
		return resolver.resolveLinkColumn(rule, record)
	case StrategyPermission,
		StrategyCategoryManager,
		StrategyUserColumnPermission,
		StrategyQuoteRequestedBy,
		StrategyProjectRole,
		StrategyRelatedProjectRole:
		return resolver.resolveGated(ctx, rule, record)
	default:
		return nil, NewConfigurationError(rule.SourceTable, rule.Strategy, "unknown strategy")
	}
}

// ==================== 列类策略 ====================

// resolveColumn 直接列策略:列值本身即接收人集合
// 列中的重复项由集合语义去重,顺序无关
func (resolver *Resolver) resolveColumn(rule AudienceRule, record RecordSnapshot) (RecipientSet, error) {
	if _, exists := record.Column(rule.Column); !exists {
		return nil, NewConfigurationError(rule.SourceTable, rule.Strategy,
			"required column %q missing", rule.Column)
	}

	audience := NewRecipientSet()
	for _, id := range record.StringList(rule.Column) {
		audience.Add(RecipientID(id))
	}

	return audience, nil
}

// resolveLinkColumn 单链接列策略:0 或 1 个接收人
func (resolver *Resolver) resolveLinkColumn(rule AudienceRule, record RecordSnapshot) (RecipientSet, error) {
	if _, exists := record.Column(rule.Column); !exists {
		return nil, NewConfigurationError(rule.SourceTable, rule.Strategy,
			"required column %q missing", rule.Column)
	}

	audience := NewRecipientSet()
	audience.Add(RecipientID(record.String(rule.Column)))
	return audience, nil
}

// ==================== 门控策略 ====================

// resolveGated 先评估布尔门控,为真时递归进入表专属策略
func (resolver *Resolver) resolveGated(ctx context.Context, rule AudienceRule, record RecordSnapshot) (RecipientSet, error) {
	open, err := resolver.evaluateGate(ctx, rule, record)
	if err != nil {
		return nil, err
	}

	if !open {
		return NewRecipientSet(), nil
	}

	switch rule.Strategy {
	case StrategyPermission:
		return resolver.usersWithPermission(ctx, rule.Permission)
	case StrategyCategoryManager:
		return resolver.resolveCategoryManagers(ctx, rule, record)
	case StrategyUserColumnPermission:
		return resolver.resolveUserColumnPermission(ctx, rule, record)
	case StrategyQuoteRequestedBy:
		return resolver.resolveQuoteRequestedBy(rule, record)
	case StrategyProjectRole:
		return resolver.resolveProjectRole(ctx, rule, record.MapList(ColumnPersonnel))
	case StrategyRelatedProjectRole:
		return resolver.resolveRelatedProjectRole(ctx, rule, record)
	default:
		return nil, NewConfigurationError(rule.SourceTable, rule.Strategy, "gated strategy not supported")
	}
}

// evaluateGate 带超时评估门控谓词
// 门控查询失败降级为作用域限定在该规则的 LookupError
func (resolver *Resolver) evaluateGate(ctx context.Context, rule AudienceRule, record RecordSnapshot) (bool, error) {
	if rule.Gate == nil {
		return true, nil
	}

	gateCtx, cancel := context.WithTimeout(ctx, resolver.lookupTimeout)
	defer cancel()

	open, err := rule.Gate(gateCtx, record, resolver.records)
	if err != nil {
		return false, NewLookupError("gate "+rule.SourceTable+"/"+rule.Type, err)
	}

	return open, nil
}

// resolveCategoryManagers 品类负责人策略
// 记录派生品类标签 → 每个标签映射一个权限 → 持有任一权限即入选(并集语义)
func (resolver *Resolver) resolveCategoryManagers(ctx context.Context, rule AudienceRule, record RecordSnapshot) (RecipientSet, error) {
	if rule.Categories == nil {
		return nil, NewConfigurationError(rule.SourceTable, rule.Strategy, "category derivation not configured")
	}

	audience := NewRecipientSet()

	for _, tag := range rule.Categories(record) {
		holders, err := resolver.usersWithPermission(ctx, CategoryPermission(tag))
		if err != nil {
			return nil, err
		}
		audience = audience.Union(holders)
	}

	return audience, nil
}

// resolveUserColumnPermission 权限持有者与记录列用户的并集
// 覆盖"负责人必收,持审计权限者同收"的场景
func (resolver *Resolver) resolveUserColumnPermission(ctx context.Context, rule AudienceRule, record RecordSnapshot) (RecipientSet, error) {
	if _, exists := record.Column(rule.Column); !exists {
		return nil, NewConfigurationError(rule.SourceTable, rule.Strategy,
			"required column %q missing", rule.Column)
	}

	holders, err := resolver.usersWithPermission(ctx, rule.Permission)
	if err != nil {
		return nil, err
	}

	audience := holders.Union(NewRecipientSet())
	audience.Add(RecipientID(record.String(rule.Column)))
	return audience, nil
}

// resolveQuoteRequestedBy 报价请求完成人策略:记录上登记的那个用户
func (resolver *Resolver) resolveQuoteRequestedBy(rule AudienceRule, record RecordSnapshot) (RecipientSet, error) {
	if _, exists := record.Column(rule.Column); !exists {
		return nil, NewConfigurationError(rule.SourceTable, rule.Strategy,
			"required column %q missing", rule.Column)
	}

	audience := NewRecipientSet()
	audience.Add(RecipientID(record.String(rule.Column)))
	return audience, nil
}

// resolveProjectRole 项目角色策略
// 先解出授予权限的角色集合,再用它过滤人员名单(授权角色与本地名单的连接)
func (resolver *Resolver) resolveProjectRole(ctx context.Context, rule AudienceRule, personnel []map[string]any) (RecipientSet, error) {
	qualifying, err := resolver.rolesGranting(ctx, rule.Permission)
	if err != nil {
		return nil, err
	}

	audience := NewRecipientSet()

	for _, member := range personnel {
		role, _ := member[PersonnelFieldRole].(string)
		if _, qualified := qualifying[role]; !qualified {
			continue
		}

		if user, ok := member[PersonnelFieldUser].(string); ok {
			audience.Add(RecipientID(user))
		}
	}

	return audience, nil
}

// resolveRelatedProjectRole 关联项目角色策略
// 来源表是从属实体时,对关联项目的人员表执行等价连接
func (resolver *Resolver) resolveRelatedProjectRole(ctx context.Context, rule AudienceRule, record RecordSnapshot) (RecipientSet, error) {
	projectID := record.String(ColumnProject)
	if projectID == "" {
		return nil, NewConfigurationError(rule.SourceTable, rule.Strategy,
			"required column %q missing or empty", ColumnProject)
	}

	readCtx, cancel := context.WithTimeout(ctx, resolver.lookupTimeout)
	defer cancel()

	rows, err := resolver.records.ReadRelated(readCtx, TableProjectPersonnel, ColumnProject, projectID)
	if err != nil {
		return nil, NewLookupError("read personnel of project "+projectID, err)
	}

	personnel := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		personnel = append(personnel, row.Columns)
	}

	return resolver.resolveProjectRole(ctx, rule, personnel)
}

// ==================== 权限查询辅助 ====================

// rolesGranting 带超时查询授予权限的角色,返回集合便于过滤
func (resolver *Resolver) rolesGranting(ctx context.Context, permission string) (map[string]struct{}, error) {
	queryCtx, cancel := context.WithTimeout(ctx, resolver.lookupTimeout)
	defer cancel()

	roles, err := resolver.permissions.RolesGranting(queryCtx, permission)
	if err != nil {
		return nil, NewLookupError("roles granting "+permission, err)
	}

	roleSet := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		roleSet[role] = struct{}{}
	}

	return roleSet, nil
}

// usersWithPermission 持有指定权限(经任一角色)的全部用户
func (resolver *Resolver) usersWithPermission(ctx context.Context, permission string) (RecipientSet, error) {
	queryCtx, cancel := context.WithTimeout(ctx, resolver.lookupTimeout)
	defer cancel()

	roles, err := resolver.permissions.RolesGranting(queryCtx, permission)
	if err != nil {
		return nil, NewLookupError("roles granting "+permission, err)
	}

	if len(roles) == 0 {
		log.Printf("[RESOLVER] 权限 %s 未授予任何角色,受众为空", permission)
		return NewRecipientSet(), nil
	}

	usersCtx, cancel := context.WithTimeout(ctx, resolver.lookupTimeout)
	defer cancel()

	users, err := resolver.permissions.UsersWithAnyRole(usersCtx, roles)
	if err != nil {
		return nil, NewLookupError("users with roles for "+permission, err)
	}

	return users, nil
}
