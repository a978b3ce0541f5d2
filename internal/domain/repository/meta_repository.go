// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"storyforge-api/internal/domain/entity"
)

// StoryMetaRepository 元数据（角色/地点）仓储接口
// 元数据阶段整体替换：先删后插，在同一事务内完成
type StoryMetaRepository interface {
	// ReplaceCharacters 替换故事的全部角色
	ReplaceCharacters(ctx context.Context, storyID string, characters []*entity.Character) error

	// ReplaceLocations 替换故事的全部地点
	ReplaceLocations(ctx context.Context, storyID string, locations []*entity.Location) error

	// ListCharacters 获取故事的角色列表
	ListCharacters(ctx context.Context, storyID string) ([]*entity.Character, error)

	// ListLocations 获取故事的地点列表
	ListLocations(ctx context.Context, storyID string) ([]*entity.Location, error)
}

// StoryArcRepository 故事主线仓储接口
type StoryArcRepository interface {
	// Replace 替换故事的全部主线，按 arc_order 排序
	Replace(ctx context.Context, storyID string, arcs []*entity.StoryArc) error

	// ListByStory 按 arc_order 升序获取主线列表
	ListByStory(ctx context.Context, storyID string) ([]*entity.StoryArc, error)
}

// ChapterGuideRepository 章节指南仓储接口
type ChapterGuideRepository interface {
	// Replace 替换故事的全部章节指南
	Replace(ctx context.Context, storyID string, guides []*entity.ChapterGuide) error

	// ListByStory 获取故事的全部指南，按章节标题 + part_index 排序
	ListByStory(ctx context.Context, storyID string) ([]*entity.ChapterGuide, error)

	// ListByChapterTitle 获取某章的指南片段，按 part_index 升序
	ListByChapterTitle(ctx context.Context, storyID, chapterTitle string) ([]*entity.ChapterGuide, error)
}
