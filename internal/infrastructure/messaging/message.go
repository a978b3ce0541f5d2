// Package messaging 基于 Redis Stream 的异步任务分发
package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// StreamPipelineAdvance 流水线推进任务流
	StreamPipelineAdvance = "stream:pipeline:advance"

	// TypeAdvanceStage 推进一个阶段
	TypeAdvanceStage = "pipeline.advance_stage"
)

// Message 流消息信封
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
	RetryCount int             `json:"retry_count"`
}

// AdvanceStagePayload 推进任务载荷
type AdvanceStagePayload struct {
	UserID  string `json:"user_id"`
	StoryID string `json:"story_id"`
	// RequestID 贯穿请求链路的追踪标识
	RequestID string `json:"request_id,omitempty"`
}

// NewMessage 创建流消息
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now(),
	}, nil
}

// UnmarshalPayload 解析载荷到目标结构
func (m *Message) UnmarshalPayload(v interface{}) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return nil
}

// Encode 序列化为流字段
func (m *Message) Encode() (map[string]interface{}, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return map[string]interface{}{"data": string(data)}, nil
}

// DecodeMessage 从流字段还原消息
func DecodeMessage(values map[string]interface{}) (*Message, error) {
	raw, ok := values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("missing data field in stream entry")
	}
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &msg, nil
}
