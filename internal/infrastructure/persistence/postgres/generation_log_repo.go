package postgres

import (
	"context"
	"fmt"
	"time"

	"storyforge-api/internal/domain/entity"
	"storyforge-api/internal/domain/repository"
)

// generationLogRepository 生成流水仓储 PostgreSQL 实现
type generationLogRepository struct {
	client *Client
}

// NewGenerationLogRepository 创建生成流水仓储
func NewGenerationLogRepository(client *Client) repository.GenerationLogRepository {
	return &generationLogRepository{client: client}
}

// Create 创建流水记录
func (r *generationLogRepository) Create(ctx context.Context, log *entity.GenerationLog) error {
	ctx, span := tracer.Start(ctx, "generationLogRepository.Create")
	defer span.End()

	if err := getDB(ctx, r.client.db).Create(log).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create generation log: %w", err)
	}
	return nil
}

// Finalize 写入终态；WHERE 条件保证已终态的记录不被覆盖
func (r *generationLogRepository) Finalize(ctx context.Context, log *entity.GenerationLog) error {
	ctx, span := tracer.Start(ctx, "generationLogRepository.Finalize")
	defer span.End()

	result := getDB(ctx, r.client.db).Model(&entity.GenerationLog{}).
		Where("id = ? AND status NOT IN ?", log.ID,
			[]entity.GenerationStatus{entity.GenerationStatusSucceeded, entity.GenerationStatusFailed}).
		Updates(map[string]interface{}{
			"status":        log.Status,
			"model":         log.Model,
			"real_cost":     log.RealCost,
			"input_tokens":  log.InputTokens,
			"output_tokens": log.OutputTokens,
			"error_message": log.ErrorMessage,
			"finalized_at":  log.FinalizedAt,
		})
	if result.Error != nil {
		span.RecordError(result.Error)
		return fmt.Errorf("failed to finalize generation log: %w", result.Error)
	}
	return nil
}

// ListByStory 获取故事的流水记录，按创建时间倒序
func (r *generationLogRepository) ListByStory(ctx context.Context, storyID string, limit int) ([]*entity.GenerationLog, error) {
	ctx, span := tracer.Start(ctx, "generationLogRepository.ListByStory")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	var logs []*entity.GenerationLog
	err := getDB(ctx, r.client.db).
		Where("story_id = ?", storyID).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list generation logs: %w", err)
	}
	return logs, nil
}

// ListStale 列出长期停留在 running 状态的记录
func (r *generationLogRepository) ListStale(ctx context.Context, olderThanSeconds int, limit int) ([]*entity.GenerationLog, error) {
	ctx, span := tracer.Start(ctx, "generationLogRepository.ListStale")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}
	cutoff := time.Now().Add(-time.Duration(olderThanSeconds) * time.Second)

	var logs []*entity.GenerationLog
	err := getDB(ctx, r.client.db).
		Where("status = ? AND created_at < ?", entity.GenerationStatusRunning, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list stale generation logs: %w", err)
	}
	return logs, nil
}
