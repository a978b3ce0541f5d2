package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"storyforge-api/internal/domain/entity"
	"storyforge-api/internal/domain/repository"
)

// billingConfigRepository 价目与系数配置仓储 PostgreSQL 实现
type billingConfigRepository struct {
	client *Client
}

// NewBillingConfigRepository 创建价目配置仓储
func NewBillingConfigRepository(client *Client) repository.BillingConfigRepository {
	return &billingConfigRepository{client: client}
}

// GetTokenCostConfig 获取价目配置（单行，取最新）
func (r *billingConfigRepository) GetTokenCostConfig(ctx context.Context) (*entity.TokenCostConfig, error) {
	ctx, span := tracer.Start(ctx, "billingConfigRepository.GetTokenCostConfig")
	defer span.End()

	var cfg entity.TokenCostConfig
	err := getDB(ctx, r.client.db).Order("id DESC").First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("token cost config not seeded: %w", err)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get token cost config: %w", err)
	}
	return &cfg, nil
}

// GetCreditModifiers 获取动作系数表
func (r *billingConfigRepository) GetCreditModifiers(ctx context.Context) (map[string]int, error) {
	ctx, span := tracer.Start(ctx, "billingConfigRepository.GetCreditModifiers")
	defer span.End()

	var rows []*entity.CreditConfig
	if err := getDB(ctx, r.client.db).Find(&rows).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list credit configs: %w", err)
	}

	modifiers := make(map[string]int, len(rows))
	for _, row := range rows {
		modifiers[row.Action] = row.Modifier
	}
	return modifiers, nil
}

// SeedDefaults 写入默认价目与系数，已有记录保持不变
func (r *billingConfigRepository) SeedDefaults(ctx context.Context, cost *entity.TokenCostConfig, modifiers map[string]int) error {
	ctx, span := tracer.Start(ctx, "billingConfigRepository.SeedDefaults")
	defer span.End()

	db := getDB(ctx, r.client.db)

	var count int64
	if err := db.Model(&entity.TokenCostConfig{}).Count(&count).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to count token cost configs: %w", err)
	}
	if count == 0 {
		if err := db.Create(cost).Error; err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to seed token cost config: %w", err)
		}
	}

	for action, modifier := range modifiers {
		row := &entity.CreditConfig{Action: action, Modifier: modifier}
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "action"}},
			DoNothing: true,
		}).Create(row).Error
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to seed credit config %s: %w", action, err)
		}
	}
	return nil
}
