// Package entity 定义领域实体
package entity

import (
	"time"
)

// CreditAccount 用户信用点账户
// available = balance - reserved；reserve 保证 available 永不为负。
// 结算超支（实际输出超预估）允许把 balance 扣成负数，与产品侧
// "已完成的生成永远计费" 的策略一致。
type CreditAccount struct {
	UserID    string    `json:"user_id" gorm:"type:uuid;primaryKey"`
	Balance   int64     `json:"balance" gorm:"not null;default:0"`
	Reserved  int64     `json:"reserved" gorm:"not null;default:0"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (CreditAccount) TableName() string {
	return "credit_accounts"
}

// Available 可用余额
func (a *CreditAccount) Available() int64 {
	return a.Balance - a.Reserved
}

// HoldStatus 信用点预留状态
type HoldStatus string

const (
	HoldStatusOpen     HoldStatus = "open"
	HoldStatusSettled  HoldStatus = "settled"
	HoldStatusReleased HoldStatus = "released"
)

// CreditHold 针对用户余额的信用点预留
// 不变式：open 的预留最终一定会被 settle 或 release，不会被悄悄丢弃
type CreditHold struct {
	ID           string     `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID       string     `json:"user_id" gorm:"type:uuid;index;not null"`
	StoryID      string     `json:"story_id,omitempty" gorm:"type:uuid;index"`
	Stage        StageKind  `json:"stage" gorm:"type:varchar(32);not null"`
	Amount       int64      `json:"amount" gorm:"not null"`
	ActualAmount *int64     `json:"actual_amount,omitempty"`
	Status       HoldStatus `json:"status" gorm:"type:varchar(20);default:'open';index"`
	CreatedAt    time.Time  `json:"created_at" gorm:"autoCreateTime"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

// TableName 指定表名
func (CreditHold) TableName() string {
	return "credit_holds"
}

// IsOpen 预留是否仍然有效
func (h *CreditHold) IsOpen() bool {
	return h.Status == HoldStatusOpen
}

// MarkSettled 标记为已结算
func (h *CreditHold) MarkSettled(actual int64) {
	now := time.Now()
	h.Status = HoldStatusSettled
	h.ActualAmount = &actual
	h.ResolvedAt = &now
}

// MarkReleased 标记为已释放
func (h *CreditHold) MarkReleased() {
	now := time.Now()
	h.Status = HoldStatusReleased
	h.ResolvedAt = &now
}
