// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"storyforge-api/internal/domain/entity"
)

// StoryRepository 故事仓储接口
type StoryRepository interface {
	// GetByID 根据 ID 获取故事
	GetByID(ctx context.Context, id string) (*entity.Story, error)

	// UpdateStage 推进故事阶段
	UpdateStage(ctx context.Context, id string, stage entity.StoryStage) error

	// UpdateCoverImage 写入封面图存储键
	UpdateCoverImage(ctx context.Context, id, imageKey string) error
}

// ChapterRepository 章节仓储接口
type ChapterRepository interface {
	// ListByStory 按章节序号升序获取故事的全部章节
	ListByStory(ctx context.Context, storyID string) ([]*entity.Chapter, error)

	// GetByNumber 根据故事和章节序号获取章节
	GetByNumber(ctx context.Context, storyID string, chapterNumber int) (*entity.Chapter, error)

	// Upsert 按 (story_id, chapter_number) 创建或更新章节
	Upsert(ctx context.Context, chapter *entity.Chapter) error

	// Update 更新章节
	Update(ctx context.Context, chapter *entity.Chapter) error
}
