package notify

import (
	"encoding/json"
	"fmt"
)

// ==================== ChangeEvent ====================

// ChangeEvent 记录变更事件,队列与 HTTP 入口共用的线格式
// Old/New 任一侧可为墓碑(null 或缺少 recordVersion),
// 分别对应创建与删除;Actor 仅用于观测上下文
type ChangeEvent struct {
	Table string         `json:"table"`
	Actor string         `json:"actor"`
	Old   RecordSnapshot `json:"old"`
	New   RecordSnapshot `json:"new"`
}

// Validate 校验事件基本形状
func (event *ChangeEvent) Validate() error {
	if event.Table == "" {
		return fmt.Errorf("change event missing table")
	}
	return nil
}

// Encode 序列化为队列消息体
func (event *ChangeEvent) Encode() ([]byte, error) {
	return json.Marshal(event)
}

// DecodeChangeEvent 从消息体还原事件并做形状校验
func DecodeChangeEvent(data []byte) (*ChangeEvent, error) {
	var event ChangeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("decode change event: %w", err)
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return &event, nil
}
