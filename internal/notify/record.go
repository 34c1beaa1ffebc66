package notify

import (
	"encoding/json"
	"sort"
)

// ==================== 列名常量 ====================

const (
	// ColumnRecordVersion 记录版本列
	// 缺失该列表示记录处于墓碑/未创建状态,所有规则对其解析为空受众
	ColumnRecordVersion = "recordVersion"

	// ColumnID 记录主键列
	ColumnID = "id"
)

// ==================== RecipientSet ====================

// RecipientID 通知接收人标识(用户身份)
type RecipientID string

// RecipientSet 接收人集合
// 支持并集/差集运算,去重由集合语义天然保证
type RecipientSet map[RecipientID]struct{}

// NewRecipientSet 由若干接收人构造集合
func NewRecipientSet(ids ...RecipientID) RecipientSet {
	set := make(RecipientSet, len(ids))
	for _, id := range ids {
		set.Add(id)
	}
	return set
}

// Add 加入一个接收人(空标识忽略)
func (set RecipientSet) Add(id RecipientID) {
	if id == "" {
		return
	}
	set[id] = struct{}{}
}

// Has 判断接收人是否在集合中
func (set RecipientSet) Has(id RecipientID) bool {
	_, ok := set[id]
	return ok
}

// Union 返回与另一个集合的并集(不修改原集合)
func (set RecipientSet) Union(other RecipientSet) RecipientSet {
	result := make(RecipientSet, len(set)+len(other))
	for id := range set {
		result[id] = struct{}{}
	}
	for id := range other {
		result[id] = struct{}{}
	}
	return result
}

// Diff 返回在本集合但不在另一个集合中的成员
func (set RecipientSet) Diff(other RecipientSet) RecipientSet {
	result := make(RecipientSet)
	for id := range set {
		if !other.Has(id) {
			result[id] = struct{}{}
		}
	}
	return result
}

// Members 返回排序后的成员列表(便于测试和日志输出稳定)
func (set RecipientSet) Members() []RecipientID {
	members := make([]RecipientID, 0, len(set))
	for id := range set {
		members = append(members, id)
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members
}

// Len 返回集合大小
func (set RecipientSet) Len() int {
	return len(set)
}

// Empty 判断集合是否为空
func (set RecipientSet) Empty() bool {
	return len(set) == 0
}

// ==================== RecordSnapshot ====================

// RecordSnapshot 一个实体版本的只读列视图
// 引擎不修改快照,由调用方在单次分发调用期间提供
type RecordSnapshot struct {
	Columns map[string]any
}

// NewRecordSnapshot 由列映射构造快照
func NewRecordSnapshot(columns map[string]any) RecordSnapshot {
	return RecordSnapshot{Columns: columns}
}

// Valid 判断快照是否为有效记录
// recordVersion 缺失(或为 nil)表示墓碑,所有规则短路为空受众
func (snapshot RecordSnapshot) Valid() bool {
	if snapshot.Columns == nil {
		return false
	}
	version, exists := snapshot.Columns[ColumnRecordVersion]
	return exists && version != nil
}

// ID 返回记录主键
func (snapshot RecordSnapshot) ID() string {
	return snapshot.String(ColumnID)
}

// Column 返回指定列的原始值
func (snapshot RecordSnapshot) Column(name string) (any, bool) {
	if snapshot.Columns == nil {
		return nil, false
	}
	value, exists := snapshot.Columns[name]
	return value, exists
}

// String 返回字符串列的值,缺失或类型不符返回空串
func (snapshot RecordSnapshot) String(name string) string {
	value, exists := snapshot.Column(name)
	if !exists {
		return ""
	}
	text, _ := value.(string)
	return text
}

// Bool 返回布尔列的值,缺失或类型不符返回 false
func (snapshot RecordSnapshot) Bool(name string) bool {
	value, exists := snapshot.Column(name)
	if !exists {
		return false
	}
	flag, _ := value.(bool)
	return flag
}

// StringList 返回字符串列表列的值
// 兼容 []string 与 JSON 反序列化产生的 []any 两种形态
func (snapshot RecordSnapshot) StringList(name string) []string {
	value, exists := snapshot.Column(name)
	if !exists {
		return nil
	}

	switch typed := value.(type) {
	case []string:
		return typed
	case []any:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			if text, ok := item.(string); ok && text != "" {
				items = append(items, text)
			}
		}
		return items
	default:
		return nil
	}
}

// MapList 返回对象列表列的值(如项目人员名单)
func (snapshot RecordSnapshot) MapList(name string) []map[string]any {
	value, exists := snapshot.Column(name)
	if !exists {
		return nil
	}

	switch typed := value.(type) {
	case []map[string]any:
		return typed
	case []any:
		items := make([]map[string]any, 0, len(typed))
		for _, item := range typed {
			if entry, ok := item.(map[string]any); ok {
				items = append(items, entry)
			}
		}
		return items
	default:
		return nil
	}
}

// MarshalJSON 快照在线上按原始列对象序列化
func (snapshot RecordSnapshot) MarshalJSON() ([]byte, error) {
	if snapshot.Columns == nil {
		return []byte("null"), nil
	}
	return json.Marshal(snapshot.Columns)
}

// UnmarshalJSON 由原始列对象还原快照
func (snapshot *RecordSnapshot) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &snapshot.Columns)
}
