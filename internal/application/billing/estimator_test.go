package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"storyforge-api/internal/domain/entity"
)

func testCostConfig() *entity.TokenCostConfig {
	return &entity.TokenCostConfig{
		CostPerCredit:      1.0,
		CostPer1MInput:     5.0,
		CostPer1MOutput:    20.0,
		O1CostPerCredit:    1.0,
		O1CostPer1MInput:   3.0,
		O1CostPer1MOutput:  12.0,
		DallEPricePerImage: 0.08,
	}
}

func TestPriceTableFor(t *testing.T) {
	cfg := testCostConfig()

	std := PriceTableFor(cfg, "gpt-4o-mini")
	assert.Equal(t, 5.0, std.CostPer1MInput)
	assert.Equal(t, 20.0, std.CostPer1MOutput)

	o1 := PriceTableFor(cfg, "o1-mini")
	assert.Equal(t, 3.0, o1.CostPer1MInput)
	assert.Equal(t, 12.0, o1.CostPer1MOutput)

	// o1 层按前缀匹配
	assert.True(t, IsO1Model("o1"))
	assert.True(t, IsO1Model("o1-preview"))
	assert.False(t, IsO1Model("gpt-4o"))
}

func TestTextCost(t *testing.T) {
	prices := PriceTableFor(testCostConfig(), "gpt-4o-mini")

	// input: 1_000_000/5 = 200_000 token 一个信用点
	// 10_000 token 折 0.05 → 取整为 0 → 抬到最低 1 点，系数 2 → 2 点
	// output: 1_000_000/20 = 50_000 token 一个信用点
	// 250_000 token 折 5 点，系数 3 → 15 点
	est := TextCost(prices, 10_000, 250_000, 2, 3)
	assert.Equal(t, int64(1), est.BaseInputCredits)
	assert.Equal(t, int64(5), est.BaseOutputCredits)
	assert.Equal(t, int64(2), est.ModifiedInputCredits)
	assert.Equal(t, int64(15), est.ModifiedOutputCredits)
	assert.Equal(t, int64(17), est.TotalCredits)
	assert.Equal(t, 10_000, est.InputTokens)
	assert.Equal(t, 250_000, est.PredictedOutputTokens)
}

func TestTextCost_MinimumOneCredit(t *testing.T) {
	prices := PriceTableFor(testCostConfig(), "gpt-4o-mini")

	// 零 token 也至少收一个基础点
	est := TextCost(prices, 0, 0, 2, 2)
	assert.Equal(t, int64(1), est.BaseInputCredits)
	assert.Equal(t, int64(1), est.BaseOutputCredits)
	assert.Equal(t, int64(4), est.TotalCredits)
}

func TestTextCost_O1Tier(t *testing.T) {
	prices := PriceTableFor(testCostConfig(), "o1-mini")

	// o1 input: 1_000_000/3 ≈ 333_333.33 token 一个信用点
	// 1_000_000 token 折 round(3.0000000003) = 3 点
	est := TextCost(prices, 1_000_000, 0, 1, 1)
	assert.Equal(t, int64(3), est.BaseInputCredits)
}

func TestImageCost(t *testing.T) {
	prices := PriceTableFor(testCostConfig(), "dall-e-3")

	// 0.08 * 50 = 4 点
	assert.Equal(t, int64(4), ImageCost(prices, 50))
	// 0.08 * 2 = 0.16 → round 为 0
	assert.Equal(t, int64(0), ImageCost(prices, 2))
}

func TestModifiersFor(t *testing.T) {
	modifiers := entity.DefaultCreditModifiers()

	in, out := ModifiersFor(modifiers, entity.KindMeta)
	assert.Equal(t, 50, in)
	assert.Equal(t, 50, out)

	in, out = ModifiersFor(modifiers, entity.KindChapter)
	assert.Equal(t, 2, in)
	assert.Equal(t, 2, out)

	assert.Equal(t, 50, ImageModifier(modifiers))

	// 缺键兜底到 2
	in, out = ModifiersFor(map[string]int{}, entity.KindArcs)
	assert.Equal(t, 2, in)
	assert.Equal(t, 2, out)
	assert.Equal(t, 2, ImageModifier(map[string]int{}))

	// 未知工作类型同样兜底
	in, out = ModifiersFor(modifiers, entity.StageKind("unknown"))
	assert.Equal(t, 2, in)
	assert.Equal(t, 2, out)
}
