package postgres

import (
	"context"
	"fmt"

	"storyforge-api/internal/domain/entity"
	"storyforge-api/internal/domain/repository"
)

// storyMetaRepository 元数据仓储 PostgreSQL 实现
// Replace 系列先删后插，调用方负责包在事务内
type storyMetaRepository struct {
	client *Client
}

// NewStoryMetaRepository 创建元数据仓储
func NewStoryMetaRepository(client *Client) repository.StoryMetaRepository {
	return &storyMetaRepository{client: client}
}

// ReplaceCharacters 替换故事的全部角色
func (r *storyMetaRepository) ReplaceCharacters(ctx context.Context, storyID string, characters []*entity.Character) error {
	ctx, span := tracer.Start(ctx, "storyMetaRepository.ReplaceCharacters")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Where("story_id = ?", storyID).Delete(&entity.Character{}).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete characters: %w", err)
	}
	if len(characters) == 0 {
		return nil
	}
	if err := db.Create(characters).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create characters: %w", err)
	}
	return nil
}

// ReplaceLocations 替换故事的全部地点
func (r *storyMetaRepository) ReplaceLocations(ctx context.Context, storyID string, locations []*entity.Location) error {
	ctx, span := tracer.Start(ctx, "storyMetaRepository.ReplaceLocations")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Where("story_id = ?", storyID).Delete(&entity.Location{}).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete locations: %w", err)
	}
	if len(locations) == 0 {
		return nil
	}
	if err := db.Create(locations).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create locations: %w", err)
	}
	return nil
}

// ListCharacters 获取故事的角色列表
func (r *storyMetaRepository) ListCharacters(ctx context.Context, storyID string) ([]*entity.Character, error) {
	ctx, span := tracer.Start(ctx, "storyMetaRepository.ListCharacters")
	defer span.End()

	var characters []*entity.Character
	err := getDB(ctx, r.client.db).
		Where("story_id = ?", storyID).
		Order("name ASC").
		Find(&characters).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list characters: %w", err)
	}
	return characters, nil
}

// ListLocations 获取故事的地点列表
func (r *storyMetaRepository) ListLocations(ctx context.Context, storyID string) ([]*entity.Location, error) {
	ctx, span := tracer.Start(ctx, "storyMetaRepository.ListLocations")
	defer span.End()

	var locations []*entity.Location
	err := getDB(ctx, r.client.db).
		Where("story_id = ?", storyID).
		Order("name ASC").
		Find(&locations).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	return locations, nil
}

// storyArcRepository 故事主线仓储 PostgreSQL 实现
type storyArcRepository struct {
	client *Client
}

// NewStoryArcRepository 创建故事主线仓储
func NewStoryArcRepository(client *Client) repository.StoryArcRepository {
	return &storyArcRepository{client: client}
}

// Replace 替换故事的全部主线
func (r *storyArcRepository) Replace(ctx context.Context, storyID string, arcs []*entity.StoryArc) error {
	ctx, span := tracer.Start(ctx, "storyArcRepository.Replace")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Where("story_id = ?", storyID).Delete(&entity.StoryArc{}).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete story arcs: %w", err)
	}
	if len(arcs) == 0 {
		return nil
	}
	if err := db.Create(arcs).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create story arcs: %w", err)
	}
	return nil
}

// ListByStory 按 arc_order 升序获取主线列表
func (r *storyArcRepository) ListByStory(ctx context.Context, storyID string) ([]*entity.StoryArc, error) {
	ctx, span := tracer.Start(ctx, "storyArcRepository.ListByStory")
	defer span.End()

	var arcs []*entity.StoryArc
	err := getDB(ctx, r.client.db).
		Where("story_id = ?", storyID).
		Order("arc_order ASC").
		Find(&arcs).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list story arcs: %w", err)
	}
	return arcs, nil
}

// chapterGuideRepository 章节指南仓储 PostgreSQL 实现
type chapterGuideRepository struct {
	client *Client
}

// NewChapterGuideRepository 创建章节指南仓储
func NewChapterGuideRepository(client *Client) repository.ChapterGuideRepository {
	return &chapterGuideRepository{client: client}
}

// Replace 替换故事的全部章节指南
func (r *chapterGuideRepository) Replace(ctx context.Context, storyID string, guides []*entity.ChapterGuide) error {
	ctx, span := tracer.Start(ctx, "chapterGuideRepository.Replace")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Where("story_id = ?", storyID).Delete(&entity.ChapterGuide{}).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete chapter guides: %w", err)
	}
	if len(guides) == 0 {
		return nil
	}
	if err := db.Create(guides).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create chapter guides: %w", err)
	}
	return nil
}

// ListByStory 获取故事的全部指南
func (r *chapterGuideRepository) ListByStory(ctx context.Context, storyID string) ([]*entity.ChapterGuide, error) {
	ctx, span := tracer.Start(ctx, "chapterGuideRepository.ListByStory")
	defer span.End()

	var guides []*entity.ChapterGuide
	err := getDB(ctx, r.client.db).
		Where("story_id = ?", storyID).
		Order("chapter_title ASC, part_index ASC").
		Find(&guides).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list chapter guides: %w", err)
	}
	return guides, nil
}

// ListByChapterTitle 获取某章的指南片段，按 part_index 升序
func (r *chapterGuideRepository) ListByChapterTitle(ctx context.Context, storyID, chapterTitle string) ([]*entity.ChapterGuide, error) {
	ctx, span := tracer.Start(ctx, "chapterGuideRepository.ListByChapterTitle")
	defer span.End()

	var guides []*entity.ChapterGuide
	err := getDB(ctx, r.client.db).
		Where("story_id = ? AND chapter_title = ?", storyID, chapterTitle).
		Order("part_index ASC").
		Find(&guides).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list chapter guides by title: %w", err)
	}
	return guides, nil
}
