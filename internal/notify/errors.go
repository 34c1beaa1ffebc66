package notify

import (
	"fmt"
)

// ==================== ConfigurationError ====================

// ConfigurationError 规则目录与代码不匹配时的错误
// 表示某条规则引用了解析器不支持的 (表, 策略) 组合或缺失必需列,
// 属于目录缺陷而非运行期状况,必须上报,不允许静默忽略
type ConfigurationError struct {
	Table    string
	Strategy StrategyKind
	Detail   string
}

func (err *ConfigurationError) Error() string {
	return fmt.Sprintf("audience rule misconfigured (table=%s, strategy=%s): %s",
		err.Table, err.Strategy, err.Detail)
}

// NewConfigurationError 构造配置错误
func NewConfigurationError(table string, strategy StrategyKind, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{
		Table:    table,
		Strategy: strategy,
		Detail:   fmt.Sprintf(format, args...),
	}
}

// ==================== LookupFailure ====================

// LookupError 关联实体或权限存储调用失败(含超时)
// 作用域限定在发生它的那条规则或那次摘要查询,不影响兄弟规则
type LookupError struct {
	Operation string
	Err       error
}

func (err *LookupError) Error() string {
	return fmt.Sprintf("lookup failed (%s): %v", err.Operation, err.Err)
}

func (err *LookupError) Unwrap() error {
	return err.Err
}

// NewLookupError 构造查询失败错误
func NewLookupError(operation string, cause error) *LookupError {
	return &LookupError{Operation: operation, Err: cause}
}

// ==================== PushError ====================

// PushErrorKind 推送错误分类
type PushErrorKind string

const (
	// PushProtocolError 协议级错误:端点失效/已退订,永久性,本引擎不重试
	PushProtocolError PushErrorKind = "protocol"

	// PushTransportError 传输级错误:网络或服务瞬时故障
	PushTransportError PushErrorKind = "transport"
)

// PushError 单个端点投递失败
// 作用域限定在该端点,不阻断同一接收人的其余端点或其他接收人
type PushError struct {
	Kind       PushErrorKind
	StatusCode int
	Err        error
}

func (err *PushError) Error() string {
	if err.StatusCode > 0 {
		return fmt.Sprintf("push %s error (status=%d): %v", err.Kind, err.StatusCode, err.Err)
	}
	return fmt.Sprintf("push %s error: %v", err.Kind, err.Err)
}

func (err *PushError) Unwrap() error {
	return err.Err
}

// Permanent 判断错误是否为永久性(协议级)
func (err *PushError) Permanent() bool {
	return err.Kind == PushProtocolError
}
