package pipeline

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"

	"storyforge-api/internal/application/billing"
	"storyforge-api/internal/config"
	"storyforge-api/internal/domain/entity"
	"storyforge-api/internal/domain/repository"
	"storyforge-api/internal/domain/service"
	apperrors "storyforge-api/pkg/errors"
)

var tracer = otel.Tracer("pipeline")

// ContextLoader 按工作类型加载提示词所需的故事上下文
type ContextLoader struct {
	metaRepo    repository.StoryMetaRepository
	arcRepo     repository.StoryArcRepository
	guideRepo   repository.ChapterGuideRepository
	chapterRepo repository.ChapterRepository
}

func NewContextLoader(
	metaRepo repository.StoryMetaRepository,
	arcRepo repository.StoryArcRepository,
	guideRepo repository.ChapterGuideRepository,
	chapterRepo repository.ChapterRepository,
) *ContextLoader {
	return &ContextLoader{
		metaRepo:    metaRepo,
		arcRepo:     arcRepo,
		guideRepo:   guideRepo,
		chapterRepo: chapterRepo,
	}
}

// load 只取该工作类型真正要用的上下文，避免无谓查询
func (l *ContextLoader) load(ctx context.Context, story *entity.Story, kind entity.StageKind) (*promptContext, error) {
	pc := &promptContext{Story: story}

	needsMeta := kind != entity.KindMeta
	needsArcs := kind == entity.KindSummaries || kind == entity.KindChapterGuide
	needsChapters := kind == entity.KindChapterGuide || kind.IsPerChapter()
	needsGuides := kind == entity.KindChapter

	var err error
	if needsMeta {
		if pc.Characters, err = l.metaRepo.ListCharacters(ctx, story.ID); err != nil {
			return nil, err
		}
		if pc.Locations, err = l.metaRepo.ListLocations(ctx, story.ID); err != nil {
			return nil, err
		}
	}
	if needsArcs {
		if pc.Arcs, err = l.arcRepo.ListByStory(ctx, story.ID); err != nil {
			return nil, err
		}
	}
	if needsChapters {
		if pc.Chapters, err = l.chapterRepo.ListByStory(ctx, story.ID); err != nil {
			return nil, err
		}
	}
	if needsGuides {
		if pc.Guides, err = l.guideRepo.ListByStory(ctx, story.ID); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

// StagePrediction 一个阶段（或其中一章）的开销预估
type StagePrediction struct {
	Kind          entity.StageKind `json:"kind"`
	Model         string           `json:"model"`
	ChapterNumber *int             `json:"chapter_number,omitempty"`
	Estimate      billing.Estimate `json:"estimate"`
	TotalCredits  int64            `json:"total_credits"`
}

// Predictor 开销预估服务
// 执行器预留前和预估查询接口共用同一套计算
type Predictor struct {
	loader      *ContextLoader
	tokenizer   service.Tokenizer
	billingRepo repository.BillingConfigRepository
	llmCfg      *config.LLMConfig
	genCfg      *config.GenerationConfig
}

// NewPredictor 创建开销预估服务
func NewPredictor(
	loader *ContextLoader,
	tokenizer service.Tokenizer,
	billingRepo repository.BillingConfigRepository,
	llmCfg *config.LLMConfig,
	genCfg *config.GenerationConfig,
) *Predictor {
	return &Predictor{
		loader:      loader,
		tokenizer:   tokenizer,
		billingRepo: billingRepo,
		llmCfg:      llmCfg,
		genCfg:      genCfg,
	}
}

// ModelFor 各工作类型使用的模型
func (p *Predictor) ModelFor(kind entity.StageKind) string {
	switch kind {
	case entity.KindMeta:
		return p.llmCfg.MetaModel
	case entity.KindImage:
		return p.llmCfg.ImageModel
	default:
		return p.llmCfg.StoryModel
	}
}

// predictedOutputFor 各工作类型的预估输出 token 常量
func (p *Predictor) predictedOutputFor(kind entity.StageKind) int {
	t := p.genCfg.PredictedOutputTokens
	switch kind {
	case entity.KindMeta:
		return t.Meta
	case entity.KindSummaries:
		return t.Summaries
	case entity.KindArcs:
		return t.Arcs
	case entity.KindChapterGuide:
		return t.ChapterGuide
	case entity.KindChapter:
		return t.Chapter
	default:
		return 0
	}
}

// buildPrompt 组装某工作类型的提示词
// chapter 仅对按章节扇出的工作类型有意义
func buildPrompt(pc *promptContext, kind entity.StageKind, chapter *entity.Chapter) (string, error) {
	switch kind {
	case entity.KindMeta:
		return buildMetaPrompt(pc), nil
	case entity.KindSummaries:
		return buildSummariesPrompt(pc), nil
	case entity.KindArcs:
		return buildArcsPrompt(pc), nil
	case entity.KindChapterGuide:
		return buildChapterGuidePrompt(pc), nil
	case entity.KindChapter:
		if chapter == nil {
			return "", apperrors.ErrInvalidParam.WithDetail("chapter required for prose prompt")
		}
		return buildChapterPrompt(pc, chapter), nil
	case entity.KindImage:
		return buildImagePrompt(pc, chapter), nil
	default:
		return "", apperrors.ErrInvalidParam.WithDetail(fmt.Sprintf("unknown stage kind %q", kind))
	}
}

// PredictText 预估一次文本生成的开销，返回组装好的提示词和明细
func (p *Predictor) PredictText(ctx context.Context, pc *promptContext, kind entity.StageKind, chapter *entity.Chapter) (string, billing.Estimate, error) {
	ctx, span := tracer.Start(ctx, "Predictor.PredictText")
	defer span.End()

	prompt, err := buildPrompt(pc, kind, chapter)
	if err != nil {
		return "", billing.Estimate{}, err
	}

	model := p.ModelFor(kind)
	inputTokens := p.tokenizer.CountTokens(model, prompt)

	costCfg, err := p.billingRepo.GetTokenCostConfig(ctx)
	if err != nil {
		return "", billing.Estimate{}, err
	}
	modifiers, err := p.billingRepo.GetCreditModifiers(ctx)
	if err != nil {
		return "", billing.Estimate{}, err
	}

	prices := billing.PriceTableFor(costCfg, model)
	modIn, modOut := billing.ModifiersFor(modifiers, kind)
	est := billing.TextCost(prices, inputTokens, p.predictedOutputFor(kind), modIn, modOut)
	return prompt, est, nil
}

// ActualTextCost 按真实用量结算同一公式
func (p *Predictor) ActualTextCost(ctx context.Context, kind entity.StageKind, usage service.TokenUsage) (billing.Estimate, error) {
	ctx, span := tracer.Start(ctx, "Predictor.ActualTextCost")
	defer span.End()

	model := p.ModelFor(kind)
	costCfg, err := p.billingRepo.GetTokenCostConfig(ctx)
	if err != nil {
		return billing.Estimate{}, err
	}
	modifiers, err := p.billingRepo.GetCreditModifiers(ctx)
	if err != nil {
		return billing.Estimate{}, err
	}

	prices := billing.PriceTableFor(costCfg, model)
	modIn, modOut := billing.ModifiersFor(modifiers, kind)
	return billing.TextCost(prices, usage.PromptTokens, usage.CompletionTokens, modIn, modOut), nil
}

// PredictImage 预估单张图片的开销
func (p *Predictor) PredictImage(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "Predictor.PredictImage")
	defer span.End()

	costCfg, err := p.billingRepo.GetTokenCostConfig(ctx)
	if err != nil {
		return 0, err
	}
	modifiers, err := p.billingRepo.GetCreditModifiers(ctx)
	if err != nil {
		return 0, err
	}

	prices := billing.PriceTableFor(costCfg, p.llmCfg.ImageModel)
	return billing.ImageCost(prices, billing.ImageModifier(modifiers)), nil
}

// PredictStage 预估故事下一阶段的开销；按章节扇出的阶段返回逐章明细
func (p *Predictor) PredictStage(ctx context.Context, story *entity.Story) ([]StagePrediction, error) {
	ctx, span := tracer.Start(ctx, "Predictor.PredictStage")
	defer span.End()

	kind, ok := story.PendingKind()
	if !ok {
		return nil, apperrors.ErrInvalidTransition.WithDetail("story pipeline already complete")
	}

	pc, err := p.loader.load(ctx, story, kind)
	if err != nil {
		return nil, err
	}

	if kind == entity.KindImage {
		perImage, err := p.PredictImage(ctx)
		if err != nil {
			return nil, err
		}
		preds := make([]StagePrediction, 0, len(pc.Chapters)+1)
		// 封面也是本阶段要生成的一张图，ChapterNumber 为空表示封面
		if story.CoverImageKey == "" {
			preds = append(preds, StagePrediction{
				Kind:         kind,
				Model:        p.ModelFor(kind),
				TotalCredits: perImage,
			})
		}
		for _, ch := range pc.Chapters {
			if ch.ImageStatus == entity.ChapterStepDone {
				continue
			}
			n := ch.ChapterNumber
			preds = append(preds, StagePrediction{
				Kind:          kind,
				Model:         p.ModelFor(kind),
				ChapterNumber: &n,
				TotalCredits:  perImage,
			})
		}
		return preds, nil
	}

	if kind == entity.KindChapter {
		preds := make([]StagePrediction, 0, len(pc.Chapters))
		for _, ch := range pc.Chapters {
			if ch.ProseStatus == entity.ChapterStepDone {
				continue
			}
			_, est, err := p.PredictText(ctx, pc, kind, ch)
			if err != nil {
				return nil, err
			}
			n := ch.ChapterNumber
			preds = append(preds, StagePrediction{
				Kind:          kind,
				Model:         p.ModelFor(kind),
				ChapterNumber: &n,
				Estimate:      est,
				TotalCredits:  est.TotalCredits,
			})
		}
		return preds, nil
	}

	_, est, err := p.PredictText(ctx, pc, kind, nil)
	if err != nil {
		return nil, err
	}
	return []StagePrediction{{
		Kind:         kind,
		Model:        p.ModelFor(kind),
		Estimate:     est,
		TotalCredits: est.TotalCredits,
	}}, nil
}
