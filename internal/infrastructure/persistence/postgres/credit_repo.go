package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"storyforge-api/internal/domain/entity"
	"storyforge-api/internal/domain/repository"
	apperrors "storyforge-api/pkg/errors"
)

// creditRepository 信用点账户仓储 PostgreSQL 实现
// 余额变更全部走守卫式单语句 UPDATE，依赖行级锁保证并发安全
type creditRepository struct {
	client *Client
}

// NewCreditRepository 创建信用点仓储
func NewCreditRepository(client *Client) repository.CreditRepository {
	return &creditRepository{client: client}
}

// GetAccount 获取账户
func (r *creditRepository) GetAccount(ctx context.Context, userID string) (*entity.CreditAccount, error) {
	ctx, span := tracer.Start(ctx, "creditRepository.GetAccount")
	defer span.End()

	var account entity.CreditAccount
	err := getDB(ctx, r.client.db).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrAccountNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get credit account: %w", err)
	}
	return &account, nil
}

// CreateAccount 创建账户
func (r *creditRepository) CreateAccount(ctx context.Context, account *entity.CreditAccount) error {
	ctx, span := tracer.Start(ctx, "creditRepository.CreateAccount")
	defer span.End()

	if err := getDB(ctx, r.client.db).Create(account).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create credit account: %w", err)
	}
	return nil
}

// TryReserve 原子地增加 reserved，仅当可用余额充足
// 守卫条件放在 WHERE 里，RowsAffected == 0 即余额不足
func (r *creditRepository) TryReserve(ctx context.Context, userID string, amount int64) (bool, error) {
	ctx, span := tracer.Start(ctx, "creditRepository.TryReserve")
	defer span.End()

	result := getDB(ctx, r.client.db).Model(&entity.CreditAccount{}).
		Where("user_id = ? AND balance - reserved >= ?", userID, amount).
		Update("reserved", gorm.Expr("reserved + ?", amount))
	if result.Error != nil {
		span.RecordError(result.Error)
		return false, fmt.Errorf("failed to reserve credits: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ApplySettlement 原子地完成结算：balance -= actual, reserved -= held
// actual 可能大于 held，此时余额允许为负
func (r *creditRepository) ApplySettlement(ctx context.Context, userID string, held, actual int64) error {
	ctx, span := tracer.Start(ctx, "creditRepository.ApplySettlement")
	defer span.End()

	result := getDB(ctx, r.client.db).Model(&entity.CreditAccount{}).
		Where("user_id = ? AND reserved >= ?", userID, held).
		Updates(map[string]interface{}{
			"balance":  gorm.Expr("balance - ?", actual),
			"reserved": gorm.Expr("reserved - ?", held),
		})
	if result.Error != nil {
		span.RecordError(result.Error)
		return fmt.Errorf("failed to settle credits: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrAccountNotFound
	}
	return nil
}

// ApplyRelease 原子地取消预留：reserved -= held
func (r *creditRepository) ApplyRelease(ctx context.Context, userID string, held int64) error {
	ctx, span := tracer.Start(ctx, "creditRepository.ApplyRelease")
	defer span.End()

	result := getDB(ctx, r.client.db).Model(&entity.CreditAccount{}).
		Where("user_id = ? AND reserved >= ?", userID, held).
		Update("reserved", gorm.Expr("reserved - ?", held))
	if result.Error != nil {
		span.RecordError(result.Error)
		return fmt.Errorf("failed to release credits: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrAccountNotFound
	}
	return nil
}

// AddBalance 原子地增加余额
func (r *creditRepository) AddBalance(ctx context.Context, userID string, amount int64) error {
	ctx, span := tracer.Start(ctx, "creditRepository.AddBalance")
	defer span.End()

	result := getDB(ctx, r.client.db).Model(&entity.CreditAccount{}).
		Where("user_id = ?", userID).
		Update("balance", gorm.Expr("balance + ?", amount))
	if result.Error != nil {
		span.RecordError(result.Error)
		return fmt.Errorf("failed to add balance: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrAccountNotFound
	}
	return nil
}

// CreateHold 落库一条预留记录
func (r *creditRepository) CreateHold(ctx context.Context, hold *entity.CreditHold) error {
	ctx, span := tracer.Start(ctx, "creditRepository.CreateHold")
	defer span.End()

	if err := getDB(ctx, r.client.db).Create(hold).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create credit hold: %w", err)
	}
	return nil
}

// GetHold 获取预留记录
func (r *creditRepository) GetHold(ctx context.Context, id string) (*entity.CreditHold, error) {
	ctx, span := tracer.Start(ctx, "creditRepository.GetHold")
	defer span.End()

	var hold entity.CreditHold
	err := getDB(ctx, r.client.db).Where("id = ?", id).First(&hold).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrHoldNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get credit hold: %w", err)
	}
	return &hold, nil
}

// UpdateHold 更新预留记录状态
func (r *creditRepository) UpdateHold(ctx context.Context, hold *entity.CreditHold) error {
	ctx, span := tracer.Start(ctx, "creditRepository.UpdateHold")
	defer span.End()

	if err := getDB(ctx, r.client.db).Save(hold).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update credit hold: %w", err)
	}
	return nil
}

// ListOpenHolds 获取用户所有 open 状态的预留
func (r *creditRepository) ListOpenHolds(ctx context.Context, userID string) ([]*entity.CreditHold, error) {
	ctx, span := tracer.Start(ctx, "creditRepository.ListOpenHolds")
	defer span.End()

	var holds []*entity.CreditHold
	err := getDB(ctx, r.client.db).
		Where("user_id = ? AND status = ?", userID, entity.HoldStatusOpen).
		Order("created_at ASC").
		Find(&holds).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list open holds: %w", err)
	}
	return holds, nil
}
