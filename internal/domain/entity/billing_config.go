// Package entity 定义领域实体
package entity

import (
	"time"
)

// TokenCostConfig 价目配置（单行），由管理端维护，核心只读
// 标准层与 o1 层各有一组价格常量，按模型标识选择
type TokenCostConfig struct {
	ID                 int       `json:"id" gorm:"primaryKey"`
	CostPerCredit      float64   `json:"cost_per_credit" gorm:"not null"`
	CostPer1MInput     float64   `json:"cost_per_1m_input" gorm:"not null"`
	CostPer1MOutput    float64   `json:"cost_per_1m_output" gorm:"not null"`
	O1CostPerCredit    float64   `json:"o1_cost_per_credit" gorm:"not null"`
	O1CostPer1MInput   float64   `json:"o1_cost_per_1m_input" gorm:"not null"`
	O1CostPer1MOutput  float64   `json:"o1_cost_per_1m_output" gorm:"not null"`
	DallEPricePerImage float64   `json:"dall_e_price_per_image" gorm:"not null"`
	UpdatedAt          time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (TokenCostConfig) TableName() string {
	return "token_cost_configs"
}

// CreditConfig 动作到整数系数的映射，乘在基础信用点开销上
type CreditConfig struct {
	Action    string    `json:"action" gorm:"type:varchar(64);primaryKey"`
	Modifier  int       `json:"modifier" gorm:"not null;default:2"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (CreditConfig) TableName() string {
	return "credit_configs"
}

// DefaultCreditModifiers 默认动作系数，bootstrap 时落库
func DefaultCreditModifiers() map[string]int {
	return map[string]int{
		"image":                50,
		"meta_input":           50,
		"meta_output":          50,
		"summary_input":        2,
		"summary_output":       2,
		"arcs_input":           2,
		"arcs_output":          2,
		"chapter_guide_input":  2,
		"chapter_guide_output": 2,
		"chapter_input":        2,
		"chapter_output":       2,
	}
}
