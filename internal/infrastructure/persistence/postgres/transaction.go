package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"storyforge-api/internal/domain/repository"
)

// TxManager 事务管理器实现
type TxManager struct {
	client *Client
}

// NewTxManager 创建事务管理器
func NewTxManager(client *Client) repository.Transactor {
	return &TxManager{client: client}
}

// WithTransaction 在事务中执行函数
// 事务句柄通过 context 传递，仓储层通过 getDB 取出
func (tm *TxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "postgres.WithTransaction")
	defer span.End()

	// 已在事务中则直接复用，避免嵌套开启
	if _, ok := ctx.Value(repository.TxKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}

	err := tm.client.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := context.WithValue(ctx, repository.TxKey{}, tx)
		return fn(txCtx)
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("transaction failed: %w", err)
	}
	return nil
}

// getDB 获取数据库句柄，优先使用 context 中的事务
func getDB(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(repository.TxKey{}).(*gorm.DB); ok {
		return tx
	}
	return db.WithContext(ctx)
}
