package notify

import "context"

// 本文件定义引擎消费的全部外部协作方接口
// 三个只读存储 + 推送传输 + 观测上报,测试通过内存伪实现注入

// ==================== 记录存储 ====================

// RecordStore 关系记录存储的窄读取接口
// 用于跨实体布尔门控、项目角色关联以及上下文摘要查询
type RecordStore interface {
	// ReadRelated 按过滤列读取关联记录列表
	ReadRelated(ctx context.Context, table, filterColumn, value string) ([]RecordSnapshot, error)

	// ReadScalar 读取单条记录的单列值,第二返回值表示是否存在
	ReadScalar(ctx context.Context, table, column, id string) (string, bool, error)
}

// ==================== 权限存储 ====================

// PermissionStore 权限/角色模型的窄查询接口
type PermissionStore interface {
	// RolesGranting 返回授予指定权限的角色集合
	RolesGranting(ctx context.Context, permission string) ([]string, error)

	// UsersWithAnyRole 返回持有任一指定角色的用户集合
	UsersWithAnyRole(ctx context.Context, roles []string) (RecipientSet, error)
}

// ==================== 订阅存储 ====================

// PushEndpoint 浏览器推送端点
// 归属于唯一接收人,含投递地址与两个不透明认证密钥,
// 生命周期完全由外部订阅存储管理,每次分发现查不缓存
type PushEndpoint struct {
	ID        string      `json:"id"`
	UserID    RecipientID `json:"user_id"`
	Endpoint  string      `json:"endpoint"`
	P256dh    string      `json:"p256dh"`
	Auth      string      `json:"auth"`
	CreatedAt int64       `json:"created_at"`
}

// SubscriptionStore 推送订阅存储接口
type SubscriptionStore interface {
	// EndpointsFor 返回接收人当前注册的全部端点(可能为空)
	EndpointsFor(ctx context.Context, recipient RecipientID) ([]PushEndpoint, error)
}

// ==================== 推送传输 ====================

// Transport 出站推送传输能力:投递负载到端点,报告成败
// 协议级失败(端点失效)返回 Kind 为 protocol 的 *PushError,
// 网络类失败返回 Kind 为 transport 的 *PushError
type Transport interface {
	Deliver(ctx context.Context, endpoint PushEndpoint, payload []byte) error
}

// ==================== 通知负载 ====================

// Payload 通知负载,唯一对外可见的数据形状
// 每次事件新建,本引擎不持久化,必须原样通过传输层序列化
type Payload struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Label string `json:"label"`
}
