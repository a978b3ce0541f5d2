// Package entity 定义领域实体
package entity

import (
	"time"
)

// GenerationStatus 一次阶段执行的状态
type GenerationStatus string

const (
	GenerationStatusPending   GenerationStatus = "pending"
	GenerationStatusRunning   GenerationStatus = "running"
	GenerationStatusSucceeded GenerationStatus = "succeeded"
	GenerationStatusFailed    GenerationStatus = "failed"
)

// IsTerminal 是否为终态
func (s GenerationStatus) IsTerminal() bool {
	return s == GenerationStatusSucceeded || s == GenerationStatusFailed
}

// GenerationLog 阶段执行的审计流水，只追加
// 终态写入后不再变更；是预估/实际开销对账与故障诊断的唯一依据
type GenerationLog struct {
	ID            string           `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID        string           `json:"user_id" gorm:"type:uuid;index;not null"`
	StoryID       string           `json:"story_id" gorm:"type:uuid;index;not null"`
	ChapterNumber *int             `json:"chapter_number,omitempty"`
	Stage         StageKind        `json:"stage" gorm:"type:varchar(32);not null"`
	Model         string           `json:"model,omitempty" gorm:"type:varchar(64)"`
	PredictedCost int64            `json:"predicted_cost" gorm:"not null;default:0"`
	RealCost      *int64           `json:"real_cost,omitempty"`
	InputTokens   int              `json:"input_tokens" gorm:"not null;default:0"`
	OutputTokens  int              `json:"output_tokens" gorm:"not null;default:0"`
	Status        GenerationStatus `json:"status" gorm:"type:varchar(20);default:'pending';index"`
	ErrorMessage  string           `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt     time.Time        `json:"created_at" gorm:"autoCreateTime"`
	FinalizedAt   *time.Time       `json:"finalized_at,omitempty"`
}

// TableName 指定表名
func (GenerationLog) TableName() string {
	return "generation_logs"
}

// NewGenerationLog 创建一条待执行的流水记录
func NewGenerationLog(userID, storyID string, stage StageKind, predictedCost int64, inputTokens int) *GenerationLog {
	return &GenerationLog{
		UserID:        userID,
		StoryID:       storyID,
		Stage:         stage,
		PredictedCost: predictedCost,
		InputTokens:   inputTokens,
		Status:        GenerationStatusPending,
		CreatedAt:     time.Now(),
	}
}

// Start 标记开始执行
func (l *GenerationLog) Start() {
	l.Status = GenerationStatusRunning
}

// Succeed 写入成功终态
func (l *GenerationLog) Succeed(model string, realCost int64, inputTokens, outputTokens int) {
	if l.Status.IsTerminal() {
		return
	}
	now := time.Now()
	l.Status = GenerationStatusSucceeded
	l.Model = model
	l.RealCost = &realCost
	l.InputTokens = inputTokens
	l.OutputTokens = outputTokens
	l.FinalizedAt = &now
}

// Fail 写入失败终态
func (l *GenerationLog) Fail(errMsg string) {
	if l.Status.IsTerminal() {
		return
	}
	now := time.Now()
	l.Status = GenerationStatusFailed
	l.ErrorMessage = errMsg
	l.FinalizedAt = &now
}
