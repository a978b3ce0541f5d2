// Package service 定义跨层的稳定契约（port）
package service

import "context"

// EventKind 生命周期事件类型
type EventKind string

const (
	EventMetaGenerated         EventKind = "meta_generated"
	EventSummariesGenerated    EventKind = "summaries_generated"
	EventArcsGenerated         EventKind = "arcs_generated"
	EventChapterGuideGenerated EventKind = "chapter_guide_generated"
	EventChapterGenerated      EventKind = "chapter_generated"
	EventImageGenerated        EventKind = "image_generated"
	EventGenerationError       EventKind = "generation_error"
	EventNotification          EventKind = "notification"
)

// Event 推送给发起用户的生命周期事件
type Event struct {
	Kind    EventKind      `json:"kind"`
	StoryID string         `json:"story_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// EventNotifier 按用户通道扇出生命周期事件
// 尽力投递、至多一次；丢失通知不影响流水线正确性——
// stage 字段与生成流水才是事实来源
type EventNotifier interface {
	Notify(ctx context.Context, userID string, event Event)
}
