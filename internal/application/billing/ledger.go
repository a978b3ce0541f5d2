package billing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"

	"storyforge-api/internal/domain/entity"
	"storyforge-api/internal/domain/repository"
	apperrors "storyforge-api/pkg/errors"
	"storyforge-api/pkg/logger"
	"storyforge-api/pkg/metrics"
)

var tracer = otel.Tracer("billing")

// Ledger 信用点账本
// 预留/结算/释放各自在一个事务里同时改账户和预留记录，
// 保证 open 的预留要么结算要么释放，不会悄悄消失
type Ledger struct {
	creditRepo repository.CreditRepository
	txManager  repository.Transactor
}

// NewLedger 创建账本服务
func NewLedger(creditRepo repository.CreditRepository, txManager repository.Transactor) *Ledger {
	return &Ledger{
		creditRepo: creditRepo,
		txManager:  txManager,
	}
}

// Reserve 预留信用点，可用余额不足返回 ErrInsufficientCredits
func (l *Ledger) Reserve(ctx context.Context, userID, storyID string, kind entity.StageKind, amount int64) (*entity.CreditHold, error) {
	ctx, span := tracer.Start(ctx, "Ledger.Reserve")
	defer span.End()

	if amount <= 0 {
		return nil, apperrors.ErrInvalidParam.WithDetail("reserve amount must be positive")
	}

	hold := &entity.CreditHold{
		UserID:  userID,
		StoryID: storyID,
		Stage:   kind,
		Amount:  amount,
		Status:  entity.HoldStatusOpen,
	}

	err := l.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		ok, err := l.creditRepo.TryReserve(ctx, userID, amount)
		if err != nil {
			return err
		}
		if !ok {
			metrics.InsufficientCreditsTotal.WithLabelValues(string(kind)).Inc()
			return apperrors.ErrInsufficientCredits
		}
		return l.creditRepo.CreateHold(ctx, hold)
	})
	if err != nil {
		return nil, err
	}

	metrics.CreditsReservedTotal.WithLabelValues(string(kind)).Add(float64(amount))
	logger.Debug(ctx, "credits reserved",
		"user_id", userID,
		"stage", string(kind),
		"amount", amount,
		"hold_id", hold.ID,
	)
	return hold, nil
}

// Settle 按实际开销结算预留：扣 actual，退回预留的差额
// actual 超出预留额时余额允许为负，完成的生成永远计费
func (l *Ledger) Settle(ctx context.Context, hold *entity.CreditHold, actual int64) error {
	ctx, span := tracer.Start(ctx, "Ledger.Settle")
	defer span.End()

	if !hold.IsOpen() {
		return apperrors.ErrConflict.WithDetail(
			fmt.Sprintf("hold %s already %s", hold.ID, hold.Status))
	}
	if actual < 0 {
		return apperrors.ErrInvalidParam.WithDetail("settlement amount must not be negative")
	}

	// 事务内只改副本，提交成功后才回写调用方的实体，
	// 回滚时预留保持 open，仍可结算或释放
	settled := *hold
	settled.MarkSettled(actual)
	err := l.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		if err := l.creditRepo.ApplySettlement(ctx, hold.UserID, hold.Amount, actual); err != nil {
			return err
		}
		return l.creditRepo.UpdateHold(ctx, &settled)
	})
	if err != nil {
		return err
	}
	*hold = settled

	metrics.CreditsSettledTotal.WithLabelValues(string(hold.Stage)).Add(float64(actual))
	logger.Info(ctx, "credits settled",
		"user_id", hold.UserID,
		"stage", string(hold.Stage),
		"held", hold.Amount,
		"actual", actual,
	)
	return nil
}

// Release 整额释放预留（阶段失败时调用），不向用户收任何费用
func (l *Ledger) Release(ctx context.Context, hold *entity.CreditHold) error {
	ctx, span := tracer.Start(ctx, "Ledger.Release")
	defer span.End()

	// 释放是幂等的：重复释放直接返回成功，失败路径可以放心重入
	if hold.Status == entity.HoldStatusReleased {
		return nil
	}
	if !hold.IsOpen() {
		return apperrors.ErrConflict.WithDetail(
			fmt.Sprintf("hold %s already %s", hold.ID, hold.Status))
	}

	released := *hold
	released.MarkReleased()
	err := l.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		if err := l.creditRepo.ApplyRelease(ctx, hold.UserID, hold.Amount); err != nil {
			return err
		}
		return l.creditRepo.UpdateHold(ctx, &released)
	})
	if err != nil {
		return err
	}
	*hold = released

	metrics.CreditsReleasedTotal.WithLabelValues(string(hold.Stage)).Add(float64(hold.Amount))
	logger.Info(ctx, "credits released",
		"user_id", hold.UserID,
		"stage", string(hold.Stage),
		"amount", hold.Amount,
	)
	return nil
}

// TopUp 充值入口，管理端协作方走这里而不是直接改字段
func (l *Ledger) TopUp(ctx context.Context, userID string, amount int64) error {
	ctx, span := tracer.Start(ctx, "Ledger.TopUp")
	defer span.End()

	if amount <= 0 {
		return apperrors.ErrInvalidParam.WithDetail("top-up amount must be positive")
	}
	return l.creditRepo.AddBalance(ctx, userID, amount)
}

// Balance 查询账户当前余额
func (l *Ledger) Balance(ctx context.Context, userID string) (*entity.CreditAccount, error) {
	ctx, span := tracer.Start(ctx, "Ledger.Balance")
	defer span.End()

	return l.creditRepo.GetAccount(ctx, userID)
}
