package pipeline

import (
	"context"
	"errors"
	"fmt"

	"storyforge-api/internal/application/billing"
	"storyforge-api/internal/domain/entity"
	"storyforge-api/internal/domain/repository"
	"storyforge-api/internal/domain/service"
	"storyforge-api/internal/infrastructure/messaging"
	apperrors "storyforge-api/pkg/errors"
	"storyforge-api/pkg/logger"
	"storyforge-api/pkg/metrics"
)

// Orchestrator 流水线编排器：每个故事一台状态机
// 阶段严格顺序推进，不跳过、不自动回退；整次推进持有一把用户级锁
type Orchestrator struct {
	executor  *Executor
	predictor *Predictor
	loader    *ContextLoader
	ledger    *billing.Ledger
	locker    service.GenerationLocker
	producer  *messaging.Producer
	storyRepo repository.StoryRepository
	logRepo   repository.GenerationLogRepository
}

// NewOrchestrator 创建流水线编排器
func NewOrchestrator(
	executor *Executor,
	predictor *Predictor,
	loader *ContextLoader,
	ledger *billing.Ledger,
	locker service.GenerationLocker,
	producer *messaging.Producer,
	storyRepo repository.StoryRepository,
	logRepo repository.GenerationLogRepository,
) *Orchestrator {
	return &Orchestrator{
		executor:  executor,
		predictor: predictor,
		loader:    loader,
		ledger:    ledger,
		locker:    locker,
		producer:  producer,
		storyRepo: storyRepo,
		logRepo:   logRepo,
	}
}

// loadOwnedStory 取故事并校验归属
func (o *Orchestrator) loadOwnedStory(ctx context.Context, userID, storyID string) (*entity.Story, error) {
	story, err := o.storyRepo.GetByID(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if story.UserID != userID {
		return nil, apperrors.ErrForbidden
	}
	return story, nil
}

// Submit 校验请求并把推进任务投入任务流，立即返回
// 真正的执行在 worker 里进行
func (o *Orchestrator) Submit(ctx context.Context, userID, storyID, requestID string) (entity.StageKind, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.Submit")
	defer span.End()

	story, err := o.loadOwnedStory(ctx, userID, storyID)
	if err != nil {
		return "", err
	}

	kind, ok := story.PendingKind()
	if !ok {
		return "", apperrors.ErrInvalidTransition.WithDetail(
			fmt.Sprintf("story %s pipeline already complete", storyID))
	}

	// 投递前先做一次可负担性预检，让余额不足的请求同步失败；
	// 真正的扣费守卫仍在 worker 的预留里
	preds, err := o.predictor.PredictStage(ctx, story)
	if err != nil {
		return "", err
	}
	var total int64
	for _, p := range preds {
		total += p.TotalCredits
	}
	account, err := o.ledger.Balance(ctx, userID)
	if err != nil {
		return "", err
	}
	if account.Available() < total {
		return "", apperrors.ErrInsufficientCredits.WithDetail(
			fmt.Sprintf("stage requires %d credits, %d available", total, account.Available()))
	}

	msg, err := messaging.NewMessage(messaging.TypeAdvanceStage, &messaging.AdvanceStagePayload{
		UserID:    userID,
		StoryID:   storyID,
		RequestID: requestID,
	})
	if err != nil {
		return "", err
	}
	if err := o.producer.Publish(ctx, messaging.StreamPipelineAdvance, msg); err != nil {
		return "", err
	}

	logger.Info(ctx, "pipeline advance submitted",
		"story_id", storyID,
		"pending_stage", string(kind),
	)
	return kind, nil
}

// Advance 推进故事到下一阶段，worker 的入口
// 整次推进（含按章节扇出）共用一次锁获取；任何一章失败都中断本次推进，
// 阶段字段不前移，已完成的章节保留，下次推进跳过它们
func (o *Orchestrator) Advance(ctx context.Context, userID, storyID string) error {
	ctx, span := tracer.Start(ctx, "Orchestrator.Advance")
	defer span.End()
	ctx = logger.WithContext(ctx, logger.UserIDKey, userID)
	ctx = logger.WithContext(ctx, logger.StoryIDKey, storyID)

	story, err := o.loadOwnedStory(ctx, userID, storyID)
	if err != nil {
		return err
	}

	kind, ok := story.PendingKind()
	if !ok {
		return apperrors.ErrInvalidTransition.WithDetail(
			fmt.Sprintf("story %s pipeline already complete", storyID))
	}

	token, err := o.locker.Acquire(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrGenerationInProgress) {
			metrics.LockContentionTotal.WithLabelValues(string(kind)).Inc()
		}
		return err
	}
	defer func() {
		if err := o.locker.Release(ctx, userID, token); err != nil {
			logger.Error(ctx, "failed to release generation lock", err, "user_id", userID)
		}
	}()

	pc, err := o.loader.load(ctx, story, kind)
	if err != nil {
		return err
	}

	if kind.IsPerChapter() {
		if err := o.runFanOut(ctx, pc, kind, token); err != nil {
			return err
		}
	} else {
		if err := o.executor.ExecuteText(ctx, pc, kind, nil); err != nil {
			return err
		}
	}

	if !story.AdvanceStage() {
		return apperrors.ErrInvalidTransition
	}
	if err := o.storyRepo.UpdateStage(ctx, story.ID, story.Stage); err != nil {
		return err
	}

	logger.Info(ctx, "story stage advanced",
		"story_id", story.ID,
		"stage", string(story.Stage),
	)
	return nil
}

// runFanOut 按章节序号升序扇出正文/插图生成
// 已完成的章节跳过，中途崩溃后重新推进即可从断点续做
func (o *Orchestrator) runFanOut(ctx context.Context, pc *promptContext, kind entity.StageKind, lockToken string) error {
	story := pc.Story

	if len(pc.Chapters) == 0 {
		return apperrors.New(apperrors.CodeStageIncomplete, "no chapters to generate")
	}
	if len(pc.Chapters) != story.ChapterCount {
		logger.Warn(ctx, "chapter count mismatch",
			"story_id", story.ID,
			"expected", story.ChapterCount,
			"actual", len(pc.Chapters),
		)
	}

	// 封面随插图阶段一起生成，只生成一次
	if kind == entity.KindImage && story.CoverImageKey == "" {
		if err := o.executor.ExecuteImage(ctx, pc, nil); err != nil {
			return err
		}
	}

	for _, chapter := range pc.Chapters {
		if chapterDone(kind, chapter) {
			continue
		}

		// 扇出可能跑很久，每章续一次锁，避免执行中途锁过期
		if renewed, err := o.locker.Renew(ctx, story.UserID, lockToken); err != nil {
			logger.Warn(ctx, "failed to renew generation lock", "error", err)
		} else if !renewed {
			return apperrors.New(apperrors.CodeLockError, "generation lock lost during fan-out")
		}

		var err error
		if kind == entity.KindImage {
			err = o.executor.ExecuteImage(ctx, pc, chapter)
		} else {
			err = o.executor.ExecuteText(ctx, pc, kind, chapter)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Predict 预估故事下一阶段的开销，供查询接口使用
func (o *Orchestrator) Predict(ctx context.Context, userID, storyID string) (*entity.Story, []StagePrediction, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.Predict")
	defer span.End()

	story, err := o.loadOwnedStory(ctx, userID, storyID)
	if err != nil {
		return nil, nil, err
	}
	preds, err := o.predictor.PredictStage(ctx, story)
	if err != nil {
		return nil, nil, err
	}
	return story, preds, nil
}

// Generations 查询故事的生成流水
func (o *Orchestrator) Generations(ctx context.Context, userID, storyID string, limit int) ([]*entity.GenerationLog, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.Generations")
	defer span.End()

	if _, err := o.loadOwnedStory(ctx, userID, storyID); err != nil {
		return nil, err
	}
	return o.logRepo.ListByStory(ctx, storyID, limit)
}

// chapterDone 该章在当前工作类型下是否已完成
func chapterDone(kind entity.StageKind, chapter *entity.Chapter) bool {
	if kind == entity.KindImage {
		return chapter.ImageStatus == entity.ChapterStepDone
	}
	return chapter.ProseStatus == entity.ChapterStepDone
}
