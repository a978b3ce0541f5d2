// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"storyforge-api/internal/domain/entity"
)

// CreditRepository 信用点账户与预留仓储接口
// 余额的一切变更都必须经由这里的原子操作，不允许直接改字段：
// 生成之外的扣减（如管理端手工调整）与流水线共享同一套守卫更新
type CreditRepository interface {
	// GetAccount 获取账户
	GetAccount(ctx context.Context, userID string) (*entity.CreditAccount, error)

	// CreateAccount 创建账户
	CreateAccount(ctx context.Context, account *entity.CreditAccount) error

	// TryReserve 原子地增加 reserved，仅当 balance - reserved >= amount；
	// 返回是否成功（失败即余额不足）
	TryReserve(ctx context.Context, userID string, amount int64) (bool, error)

	// ApplySettlement 原子地完成结算：balance -= actual, reserved -= held
	ApplySettlement(ctx context.Context, userID string, held, actual int64) error

	// ApplyRelease 原子地取消预留：reserved -= held
	ApplyRelease(ctx context.Context, userID string, held int64) error

	// AddBalance 原子地增加余额（充值入口，管理端协作方使用）
	AddBalance(ctx context.Context, userID string, amount int64) error

	// CreateHold 落库一条预留记录
	CreateHold(ctx context.Context, hold *entity.CreditHold) error

	// GetHold 获取预留记录
	GetHold(ctx context.Context, id string) (*entity.CreditHold, error)

	// UpdateHold 更新预留记录状态
	UpdateHold(ctx context.Context, hold *entity.CreditHold) error

	// ListOpenHolds 获取用户所有 open 状态的预留
	ListOpenHolds(ctx context.Context, userID string) ([]*entity.CreditHold, error)
}

// GenerationLogRepository 生成流水仓储接口（只追加）
type GenerationLogRepository interface {
	// Create 创建流水记录
	Create(ctx context.Context, log *entity.GenerationLog) error

	// Finalize 写入终态；记录已是终态时为空操作
	Finalize(ctx context.Context, log *entity.GenerationLog) error

	// ListByStory 获取故事的流水记录，按创建时间倒序
	ListByStory(ctx context.Context, storyID string, limit int) ([]*entity.GenerationLog, error)

	// ListStale 列出长期停留在 running 状态的记录（运维排查用，核心不自动清扫）
	ListStale(ctx context.Context, olderThanSeconds int, limit int) ([]*entity.GenerationLog, error)
}

// BillingConfigRepository 价目与系数配置仓储接口
type BillingConfigRepository interface {
	// GetTokenCostConfig 获取价目配置（单行）
	GetTokenCostConfig(ctx context.Context) (*entity.TokenCostConfig, error)

	// GetCreditModifiers 获取动作系数表
	GetCreditModifiers(ctx context.Context) (map[string]int, error)

	// SeedDefaults 写入默认价目与系数（bootstrap 用，已存在则跳过）
	SeedDefaults(ctx context.Context, cost *entity.TokenCostConfig, modifiers map[string]int) error
}
