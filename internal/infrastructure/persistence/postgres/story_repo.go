package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"storyforge-api/internal/domain/entity"
	"storyforge-api/internal/domain/repository"
	apperrors "storyforge-api/pkg/errors"
)

// storyRepository 故事仓储 PostgreSQL 实现
type storyRepository struct {
	client *Client
}

// NewStoryRepository 创建故事仓储
func NewStoryRepository(client *Client) repository.StoryRepository {
	return &storyRepository{client: client}
}

// GetByID 根据 ID 获取故事
func (r *storyRepository) GetByID(ctx context.Context, id string) (*entity.Story, error) {
	ctx, span := tracer.Start(ctx, "storyRepository.GetByID")
	defer span.End()

	var story entity.Story
	err := getDB(ctx, r.client.db).Where("id = ?", id).First(&story).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrStoryNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get story: %w", err)
	}
	return &story, nil
}

// UpdateStage 推进故事阶段
func (r *storyRepository) UpdateStage(ctx context.Context, id string, stage entity.StoryStage) error {
	ctx, span := tracer.Start(ctx, "storyRepository.UpdateStage")
	defer span.End()

	result := getDB(ctx, r.client.db).Model(&entity.Story{}).
		Where("id = ?", id).
		Update("stage", stage)
	if result.Error != nil {
		span.RecordError(result.Error)
		return fmt.Errorf("failed to update story stage: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrStoryNotFound
	}
	return nil
}

// UpdateCoverImage 写入封面图存储键
func (r *storyRepository) UpdateCoverImage(ctx context.Context, id, imageKey string) error {
	ctx, span := tracer.Start(ctx, "storyRepository.UpdateCoverImage")
	defer span.End()

	result := getDB(ctx, r.client.db).Model(&entity.Story{}).
		Where("id = ?", id).
		Update("cover_image_key", imageKey)
	if result.Error != nil {
		span.RecordError(result.Error)
		return fmt.Errorf("failed to update cover image: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrStoryNotFound
	}
	return nil
}

// chapterRepository 章节仓储 PostgreSQL 实现
type chapterRepository struct {
	client *Client
}

// NewChapterRepository 创建章节仓储
func NewChapterRepository(client *Client) repository.ChapterRepository {
	return &chapterRepository{client: client}
}

// ListByStory 按章节序号升序获取故事的全部章节
func (r *chapterRepository) ListByStory(ctx context.Context, storyID string) ([]*entity.Chapter, error) {
	ctx, span := tracer.Start(ctx, "chapterRepository.ListByStory")
	defer span.End()

	var chapters []*entity.Chapter
	err := getDB(ctx, r.client.db).
		Where("story_id = ?", storyID).
		Order("chapter_number ASC").
		Find(&chapters).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list chapters: %w", err)
	}
	return chapters, nil
}

// GetByNumber 根据故事和章节序号获取章节
func (r *chapterRepository) GetByNumber(ctx context.Context, storyID string, chapterNumber int) (*entity.Chapter, error) {
	ctx, span := tracer.Start(ctx, "chapterRepository.GetByNumber")
	defer span.End()

	var chapter entity.Chapter
	err := getDB(ctx, r.client.db).
		Where("story_id = ? AND chapter_number = ?", storyID, chapterNumber).
		First(&chapter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrChapterNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get chapter: %w", err)
	}
	return &chapter, nil
}

// Upsert 按 (story_id, chapter_number) 创建或更新章节
func (r *chapterRepository) Upsert(ctx context.Context, chapter *entity.Chapter) error {
	ctx, span := tracer.Start(ctx, "chapterRepository.Upsert")
	defer span.End()

	err := getDB(ctx, r.client.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "story_id"}, {Name: "chapter_number"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "summary", "updated_at",
		}),
	}).Create(chapter).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to upsert chapter: %w", err)
	}
	return nil
}

// Update 更新章节
func (r *chapterRepository) Update(ctx context.Context, chapter *entity.Chapter) error {
	ctx, span := tracer.Start(ctx, "chapterRepository.Update")
	defer span.End()

	err := getDB(ctx, r.client.db).Save(chapter).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update chapter: %w", err)
	}
	return nil
}
