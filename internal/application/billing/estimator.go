// Package billing 实现信用点预估与账本
package billing

import (
	"math"
	"strings"

	"storyforge-api/internal/domain/entity"
)

// PriceTable 一次预估所用的价目快照
// 显式传入而不是进程级单例，换一张价目表就是换一个值
type PriceTable struct {
	CostPerCredit      float64
	CostPer1MInput     float64
	CostPer1MOutput    float64
	DallEPricePerImage float64
}

// PriceTableFor 按模型标识从配置行选出价目层
// o1 系列模型走独立的一组价格常量
func PriceTableFor(cfg *entity.TokenCostConfig, model string) PriceTable {
	if IsO1Model(model) {
		return PriceTable{
			CostPerCredit:      cfg.O1CostPerCredit,
			CostPer1MInput:     cfg.O1CostPer1MInput,
			CostPer1MOutput:    cfg.O1CostPer1MOutput,
			DallEPricePerImage: cfg.DallEPricePerImage,
		}
	}
	return PriceTable{
		CostPerCredit:      cfg.CostPerCredit,
		CostPer1MInput:     cfg.CostPer1MInput,
		CostPer1MOutput:    cfg.CostPer1MOutput,
		DallEPricePerImage: cfg.DallEPricePerImage,
	}
}

// IsO1Model 模型是否属于 o1 价目层
func IsO1Model(model string) bool {
	return strings.HasPrefix(model, "o1")
}

// Estimate 一次阶段执行的开销预估明细
type Estimate struct {
	InputTokens           int   `json:"input_tokens"`
	PredictedOutputTokens int   `json:"predicted_output_tokens"`
	BaseInputCredits      int64 `json:"base_credit_cost_input"`
	BaseOutputCredits     int64 `json:"base_credit_cost_output"`
	ModifiedInputCredits  int64 `json:"modified_credit_cost_input"`
	ModifiedOutputCredits int64 `json:"modified_credit_cost_output"`
	TotalCredits          int64 `json:"total_credit_cost"`
}

// TextCost 计算一次文本生成的信用点开销
// 预估与实际结算共用同一公式，只是 outputTokens 的来源不同
func TextCost(prices PriceTable, inputTokens, outputTokens, inputModifier, outputModifier int) Estimate {
	inputPerCredit := round2((prices.CostPerCredit * 1_000_000) / prices.CostPer1MInput)
	outputPerCredit := round2((prices.CostPerCredit * 1_000_000) / prices.CostPer1MOutput)

	baseInput := baseCredits(inputTokens, inputPerCredit)
	baseOutput := baseCredits(outputTokens, outputPerCredit)

	modifiedInput := int64(math.Round(float64(baseInput) * float64(inputModifier)))
	modifiedOutput := int64(math.Round(float64(baseOutput) * float64(outputModifier)))

	return Estimate{
		InputTokens:           inputTokens,
		PredictedOutputTokens: outputTokens,
		BaseInputCredits:      baseInput,
		BaseOutputCredits:     baseOutput,
		ModifiedInputCredits:  modifiedInput,
		ModifiedOutputCredits: modifiedOutput,
		TotalCredits:          modifiedInput + modifiedOutput,
	}
}

// ImageCost 计算单张图片的信用点开销，固定单价乘系数
func ImageCost(prices PriceTable, modifier int) int64 {
	return int64(math.Round(prices.DallEPricePerImage * float64(modifier)))
}

// baseCredits token 数折算基础信用点，最低 1 点
func baseCredits(tokens int, tokensPerCredit float64) int64 {
	if tokensPerCredit <= 0 {
		return 1
	}
	base := int64(math.Round(float64(tokens) / tokensPerCredit))
	if base < 1 {
		return 1
	}
	return base
}

// round2 保留两位小数，与折算常量的展示口径一致
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
