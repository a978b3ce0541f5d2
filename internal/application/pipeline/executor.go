package pipeline

import (
	"context"
	"fmt"
	"time"

	"storyforge-api/internal/application/billing"
	"storyforge-api/internal/config"
	"storyforge-api/internal/domain/entity"
	"storyforge-api/internal/domain/repository"
	"storyforge-api/internal/domain/service"
	apperrors "storyforge-api/pkg/errors"
	"storyforge-api/pkg/logger"
	"storyforge-api/pkg/metrics"
)

// Executor 单阶段执行器
// 所有阶段共用一个执行模板：预估 → 预留 → 调用 → 校验落库 → 结算 → 记流水 → 发事件。
// 失败路径整额释放预留，不向用户收费
type Executor struct {
	predictor   *Predictor
	loader      *ContextLoader
	ledger      *billing.Ledger
	textGen     service.TextGenerator
	imageGen    service.ImageGenerator
	notifier    service.EventNotifier
	txManager   repository.Transactor
	storyRepo   repository.StoryRepository
	chapterRepo repository.ChapterRepository
	metaRepo    repository.StoryMetaRepository
	arcRepo     repository.StoryArcRepository
	guideRepo   repository.ChapterGuideRepository
	logRepo     repository.GenerationLogRepository
	llmCfg      *config.LLMConfig
}

// NewExecutor 创建阶段执行器
func NewExecutor(
	predictor *Predictor,
	loader *ContextLoader,
	ledger *billing.Ledger,
	textGen service.TextGenerator,
	imageGen service.ImageGenerator,
	notifier service.EventNotifier,
	txManager repository.Transactor,
	storyRepo repository.StoryRepository,
	chapterRepo repository.ChapterRepository,
	metaRepo repository.StoryMetaRepository,
	arcRepo repository.StoryArcRepository,
	guideRepo repository.ChapterGuideRepository,
	logRepo repository.GenerationLogRepository,
	llmCfg *config.LLMConfig,
) *Executor {
	return &Executor{
		predictor:   predictor,
		loader:      loader,
		ledger:      ledger,
		textGen:     textGen,
		imageGen:    imageGen,
		notifier:    notifier,
		txManager:   txManager,
		storyRepo:   storyRepo,
		chapterRepo: chapterRepo,
		metaRepo:    metaRepo,
		arcRepo:     arcRepo,
		guideRepo:   guideRepo,
		logRepo:     logRepo,
		llmCfg:      llmCfg,
	}
}

// ExecuteText 执行一次文本类阶段（或正文阶段的其中一章）
// chapter 仅对正文阶段传入
func (e *Executor) ExecuteText(ctx context.Context, pc *promptContext, kind entity.StageKind, chapter *entity.Chapter) error {
	ctx, span := tracer.Start(ctx, "Executor.ExecuteText")
	defer span.End()
	start := time.Now()

	story := pc.Story
	ctx = logger.WithContext(ctx, logger.StageKey, string(kind))

	// 预估：余额不足在任何外部调用之前失败
	prompt, est, err := e.predictor.PredictText(ctx, pc, kind, chapter)
	if err != nil {
		return err
	}

	hold, err := e.ledger.Reserve(ctx, story.UserID, story.ID, kind, est.TotalCredits)
	if err != nil {
		// 余额不足同步返回，不写流水
		return err
	}

	genLog := entity.NewGenerationLog(story.UserID, story.ID, kind, est.TotalCredits, est.InputTokens)
	if chapter != nil {
		n := chapter.ChapterNumber
		genLog.ChapterNumber = &n
	}
	genLog.Start()
	if err := e.logRepo.Create(ctx, genLog); err != nil {
		// 流水写不进去说明库已不可用，退还预留后放弃
		e.releaseQuietly(ctx, hold)
		return err
	}

	e.notifyProgress(ctx, story, kind, chapter)

	model := e.predictor.ModelFor(kind)
	output, usage, err := e.textGen.GenerateText(ctx, model, prompt)
	if err != nil {
		return e.failStage(ctx, hold, genLog, story, kind, err, start)
	}

	if err := e.persistText(ctx, pc, kind, chapter, output); err != nil {
		return e.failStage(ctx, hold, genLog, story, kind, err, start)
	}

	actual, err := e.predictor.ActualTextCost(ctx, kind, usage)
	if err != nil {
		return e.failStage(ctx, hold, genLog, story, kind, err, start)
	}
	if err := e.ledger.Settle(ctx, hold, actual.TotalCredits); err != nil {
		return e.failStage(ctx, hold, genLog, story, kind, err, start)
	}

	genLog.Succeed(model, actual.TotalCredits, usage.PromptTokens, usage.CompletionTokens)
	if err := e.logRepo.Finalize(ctx, genLog); err != nil {
		logger.Error(ctx, "failed to finalize generation log", err, "log_id", genLog.ID)
	}

	e.notifier.Notify(ctx, story.UserID, stageEvent(kind, story.ID, chapter))

	metrics.StageExecutionsTotal.WithLabelValues(string(kind), "success").Inc()
	metrics.StageDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	logger.Info(ctx, "stage executed",
		"story_id", story.ID,
		"stage", string(kind),
		"predicted_cost", est.TotalCredits,
		"actual_cost", actual.TotalCredits,
	)
	return nil
}

// ExecuteImage 执行一次图片生成
// chapter 为 nil 时生成封面
func (e *Executor) ExecuteImage(ctx context.Context, pc *promptContext, chapter *entity.Chapter) error {
	ctx, span := tracer.Start(ctx, "Executor.ExecuteImage")
	defer span.End()
	start := time.Now()

	story := pc.Story
	kind := entity.KindImage
	ctx = logger.WithContext(ctx, logger.StageKey, string(kind))

	cost, err := e.predictor.PredictImage(ctx)
	if err != nil {
		return err
	}

	hold, err := e.ledger.Reserve(ctx, story.UserID, story.ID, kind, cost)
	if err != nil {
		return err
	}

	genLog := entity.NewGenerationLog(story.UserID, story.ID, kind, cost, 0)
	if chapter != nil {
		n := chapter.ChapterNumber
		genLog.ChapterNumber = &n
	}
	genLog.Start()
	if err := e.logRepo.Create(ctx, genLog); err != nil {
		e.releaseQuietly(ctx, hold)
		return err
	}

	e.notifyProgress(ctx, story, kind, chapter)

	prompt := buildImagePrompt(pc, chapter)
	imageKey, err := e.imageGen.GenerateImage(ctx, e.llmCfg.ImageModel, prompt, e.llmCfg.ImageSize)
	if err != nil {
		return e.failStage(ctx, hold, genLog, story, kind, err, start)
	}

	if chapter == nil {
		err = e.storyRepo.UpdateCoverImage(ctx, story.ID, imageKey)
	} else {
		chapter.SetImage(imageKey)
		err = e.chapterRepo.Update(ctx, chapter)
	}
	if err != nil {
		return e.failStage(ctx, hold, genLog, story, kind, err, start)
	}

	// 图片按固定单价结算，预估即实际
	if err := e.ledger.Settle(ctx, hold, cost); err != nil {
		return e.failStage(ctx, hold, genLog, story, kind, err, start)
	}

	genLog.Succeed(e.llmCfg.ImageModel, cost, 0, 0)
	if err := e.logRepo.Finalize(ctx, genLog); err != nil {
		logger.Error(ctx, "failed to finalize generation log", err, "log_id", genLog.ID)
	}

	e.notifier.Notify(ctx, story.UserID, stageEvent(kind, story.ID, chapter))

	metrics.StageExecutionsTotal.WithLabelValues(string(kind), "success").Inc()
	metrics.StageDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	return nil
}

// persistText 按工作类型校验并落库文本输出
// JSON 类阶段整体替换旧数据，与模型输出保持一致
func (e *Executor) persistText(ctx context.Context, pc *promptContext, kind entity.StageKind, chapter *entity.Chapter, output string) error {
	story := pc.Story

	switch kind {
	case entity.KindMeta:
		meta, err := parseMeta(output)
		if err != nil {
			return err
		}
		characters := make([]*entity.Character, 0, len(meta.Characters))
		for _, c := range meta.Characters {
			characters = append(characters, &entity.Character{
				StoryID:         story.ID,
				Name:            c.Name,
				Description:     c.Description,
				ExampleDialogue: c.ExampleDialogue,
			})
		}
		locations := make([]*entity.Location, 0, len(meta.Locations))
		for _, l := range meta.Locations {
			locations = append(locations, &entity.Location{
				StoryID:     story.ID,
				Name:        l.Name,
				Description: l.Description,
			})
		}
		return e.txManager.WithTransaction(ctx, func(ctx context.Context) error {
			if err := e.metaRepo.ReplaceCharacters(ctx, story.ID, characters); err != nil {
				return err
			}
			return e.metaRepo.ReplaceLocations(ctx, story.ID, locations)
		})

	case entity.KindSummaries:
		summaries, err := parseSummaries(output, story.ChapterCount)
		if err != nil {
			return err
		}
		return e.txManager.WithTransaction(ctx, func(ctx context.Context) error {
			for i, s := range summaries {
				ch := &entity.Chapter{
					StoryID:       story.ID,
					ChapterNumber: i + 1,
					Title:         s.Title,
					Summary:       s.Summary,
				}
				if err := e.chapterRepo.Upsert(ctx, ch); err != nil {
					return err
				}
			}
			return nil
		})

	case entity.KindArcs:
		arcTexts, err := parseArcs(output)
		if err != nil {
			return err
		}
		arcs := make([]*entity.StoryArc, 0, len(arcTexts))
		for i, text := range arcTexts {
			arcs = append(arcs, &entity.StoryArc{
				StoryID:  story.ID,
				ArcText:  text,
				ArcOrder: i,
			})
		}
		return e.arcRepo.Replace(ctx, story.ID, arcs)

	case entity.KindChapterGuide:
		guides, err := parseChapterGuide(story.ID, output)
		if err != nil {
			return err
		}
		return e.guideRepo.Replace(ctx, story.ID, guides)

	case entity.KindChapter:
		content, err := parseProse(output)
		if err != nil {
			return err
		}
		chapter.SetContent(content)
		return e.chapterRepo.Update(ctx, chapter)

	default:
		return apperrors.ErrInvalidParam.WithDetail("unexpected stage kind for text persist")
	}
}

// notifyProgress 在真正开始调用模型前发一条进行中通知
func (e *Executor) notifyProgress(ctx context.Context, story *entity.Story, kind entity.StageKind, chapter *entity.Chapter) {
	message := fmt.Sprintf("Generating %s...", progressLabel(kind))
	if chapter != nil {
		message = fmt.Sprintf("Generating %s for chapter %d...", progressLabel(kind), chapter.ChapterNumber)
	}
	e.notifier.Notify(ctx, story.UserID, service.Event{
		Kind:    service.EventNotification,
		StoryID: story.ID,
		Payload: map[string]any{"message": message},
	})
}

func progressLabel(kind entity.StageKind) string {
	switch kind {
	case entity.KindMeta:
		return "characters and locations"
	case entity.KindSummaries:
		return "chapter summaries"
	case entity.KindArcs:
		return "story arcs"
	case entity.KindChapterGuide:
		return "chapter guides"
	case entity.KindChapter:
		return "prose"
	case entity.KindImage:
		return "artwork"
	default:
		return string(kind)
	}
}

// failStage 失败收尾：整额退预留、写失败流水、发错误事件
func (e *Executor) failStage(ctx context.Context, hold *entity.CreditHold, genLog *entity.GenerationLog, story *entity.Story, kind entity.StageKind, cause error, start time.Time) error {
	e.releaseQuietly(ctx, hold)

	genLog.Fail(cause.Error())
	if err := e.logRepo.Finalize(ctx, genLog); err != nil {
		logger.Error(ctx, "failed to finalize failed generation log", err, "log_id", genLog.ID)
	}

	e.notifier.Notify(ctx, story.UserID, service.Event{
		Kind:    service.EventGenerationError,
		StoryID: story.ID,
		Payload: map[string]any{
			"stage": string(kind),
			"error": cause.Error(),
		},
	})

	metrics.StageExecutionsTotal.WithLabelValues(string(kind), "failure").Inc()
	metrics.StageDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	logger.Error(ctx, "stage execution failed", cause,
		"story_id", story.ID,
		"stage", string(kind),
	)

	if apperrors.IsAppError(cause) {
		return cause
	}
	return apperrors.ErrGenerationFailed.WithError(cause)
}

// releaseQuietly 退预留，失败只记日志
// 退不掉的预留留在 open 状态，由对账流程兜底
func (e *Executor) releaseQuietly(ctx context.Context, hold *entity.CreditHold) {
	if err := e.ledger.Release(ctx, hold); err != nil {
		logger.Error(ctx, "failed to release credit hold", err, "hold_id", hold.ID)
	}
}

// stageEvent 拼出阶段完成事件
func stageEvent(kind entity.StageKind, storyID string, chapter *entity.Chapter) service.Event {
	payload := map[string]any{}
	if chapter != nil {
		payload["chapter_number"] = chapter.ChapterNumber
	}

	var eventKind service.EventKind
	switch kind {
	case entity.KindMeta:
		eventKind = service.EventMetaGenerated
	case entity.KindSummaries:
		eventKind = service.EventSummariesGenerated
	case entity.KindArcs:
		eventKind = service.EventArcsGenerated
	case entity.KindChapterGuide:
		eventKind = service.EventChapterGuideGenerated
	case entity.KindChapter:
		eventKind = service.EventChapterGenerated
	case entity.KindImage:
		eventKind = service.EventImageGenerated
	default:
		eventKind = service.EventNotification
	}

	return service.Event{
		Kind:    eventKind,
		StoryID: storyID,
		Payload: payload,
	}
}
