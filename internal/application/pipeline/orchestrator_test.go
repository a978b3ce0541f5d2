package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyforge-api/internal/application/billing"
	"storyforge-api/internal/config"
	"storyforge-api/internal/domain/entity"
	"storyforge-api/internal/domain/service"
	apperrors "storyforge-api/pkg/errors"
)

// ---- 内存仓储与协作方 ----

type fakeStoryRepo struct {
	story *entity.Story
}

func (r *fakeStoryRepo) GetByID(ctx context.Context, id string) (*entity.Story, error) {
	if r.story == nil || r.story.ID != id {
		return nil, apperrors.ErrStoryNotFound
	}
	copied := *r.story
	return &copied, nil
}

func (r *fakeStoryRepo) UpdateStage(ctx context.Context, id string, stage entity.StoryStage) error {
	r.story.Stage = stage
	return nil
}

func (r *fakeStoryRepo) UpdateCoverImage(ctx context.Context, id, imageKey string) error {
	r.story.CoverImageKey = imageKey
	return nil
}

type fakeChapterRepo struct {
	chapters []*entity.Chapter
}

func (r *fakeChapterRepo) ListByStory(ctx context.Context, storyID string) ([]*entity.Chapter, error) {
	return r.chapters, nil
}

func (r *fakeChapterRepo) GetByNumber(ctx context.Context, storyID string, n int) (*entity.Chapter, error) {
	for _, ch := range r.chapters {
		if ch.ChapterNumber == n {
			return ch, nil
		}
	}
	return nil, apperrors.ErrStoryNotFound
}

func (r *fakeChapterRepo) Upsert(ctx context.Context, chapter *entity.Chapter) error {
	for i, ch := range r.chapters {
		if ch.ChapterNumber == chapter.ChapterNumber {
			chapter.ProseStatus = ch.ProseStatus
			chapter.ImageStatus = ch.ImageStatus
			r.chapters[i] = chapter
			return nil
		}
	}
	r.chapters = append(r.chapters, chapter)
	return nil
}

func (r *fakeChapterRepo) Update(ctx context.Context, chapter *entity.Chapter) error {
	for i, ch := range r.chapters {
		if ch.ChapterNumber == chapter.ChapterNumber {
			r.chapters[i] = chapter
			return nil
		}
	}
	return apperrors.ErrStoryNotFound
}

type fakeMetaRepo struct {
	characters []*entity.Character
	locations  []*entity.Location
}

func (r *fakeMetaRepo) ReplaceCharacters(ctx context.Context, storyID string, cs []*entity.Character) error {
	r.characters = cs
	return nil
}

func (r *fakeMetaRepo) ReplaceLocations(ctx context.Context, storyID string, ls []*entity.Location) error {
	r.locations = ls
	return nil
}

func (r *fakeMetaRepo) ListCharacters(ctx context.Context, storyID string) ([]*entity.Character, error) {
	return r.characters, nil
}

func (r *fakeMetaRepo) ListLocations(ctx context.Context, storyID string) ([]*entity.Location, error) {
	return r.locations, nil
}

type fakeArcRepo struct {
	arcs []*entity.StoryArc
}

func (r *fakeArcRepo) Replace(ctx context.Context, storyID string, arcs []*entity.StoryArc) error {
	r.arcs = arcs
	return nil
}

func (r *fakeArcRepo) ListByStory(ctx context.Context, storyID string) ([]*entity.StoryArc, error) {
	return r.arcs, nil
}

type fakeGuideRepo struct {
	guides []*entity.ChapterGuide
}

func (r *fakeGuideRepo) Replace(ctx context.Context, storyID string, gs []*entity.ChapterGuide) error {
	r.guides = gs
	return nil
}

func (r *fakeGuideRepo) ListByStory(ctx context.Context, storyID string) ([]*entity.ChapterGuide, error) {
	return r.guides, nil
}

func (r *fakeGuideRepo) ListByChapterTitle(ctx context.Context, storyID, title string) ([]*entity.ChapterGuide, error) {
	var out []*entity.ChapterGuide
	for _, g := range r.guides {
		if g.ChapterTitle == title {
			out = append(out, g)
		}
	}
	return out, nil
}

type fakeLogRepo struct {
	logs   []*entity.GenerationLog
	nextID int
}

func (r *fakeLogRepo) Create(ctx context.Context, log *entity.GenerationLog) error {
	r.nextID++
	log.ID = fmt.Sprintf("log-%d", r.nextID)
	r.logs = append(r.logs, log)
	return nil
}

func (r *fakeLogRepo) Finalize(ctx context.Context, log *entity.GenerationLog) error {
	return nil
}

func (r *fakeLogRepo) ListByStory(ctx context.Context, storyID string, limit int) ([]*entity.GenerationLog, error) {
	return r.logs, nil
}

func (r *fakeLogRepo) ListStale(ctx context.Context, olderThanSeconds, limit int) ([]*entity.GenerationLog, error) {
	return nil, nil
}

type fakeCreditRepo struct {
	account *entity.CreditAccount
	holds   []*entity.CreditHold
}

func (r *fakeCreditRepo) GetAccount(ctx context.Context, userID string) (*entity.CreditAccount, error) {
	return r.account, nil
}

func (r *fakeCreditRepo) CreateAccount(ctx context.Context, account *entity.CreditAccount) error {
	r.account = account
	return nil
}

func (r *fakeCreditRepo) TryReserve(ctx context.Context, userID string, amount int64) (bool, error) {
	if r.account.Balance-r.account.Reserved < amount {
		return false, nil
	}
	r.account.Reserved += amount
	return true, nil
}

func (r *fakeCreditRepo) ApplySettlement(ctx context.Context, userID string, held, actual int64) error {
	r.account.Balance -= actual
	r.account.Reserved -= held
	return nil
}

func (r *fakeCreditRepo) ApplyRelease(ctx context.Context, userID string, held int64) error {
	r.account.Reserved -= held
	return nil
}

func (r *fakeCreditRepo) AddBalance(ctx context.Context, userID string, amount int64) error {
	r.account.Balance += amount
	return nil
}

func (r *fakeCreditRepo) CreateHold(ctx context.Context, hold *entity.CreditHold) error {
	hold.ID = fmt.Sprintf("hold-%d", len(r.holds)+1)
	r.holds = append(r.holds, hold)
	return nil
}

func (r *fakeCreditRepo) GetHold(ctx context.Context, id string) (*entity.CreditHold, error) {
	for _, h := range r.holds {
		if h.ID == id {
			return h, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *fakeCreditRepo) UpdateHold(ctx context.Context, hold *entity.CreditHold) error {
	return nil
}

func (r *fakeCreditRepo) ListOpenHolds(ctx context.Context, userID string) ([]*entity.CreditHold, error) {
	var open []*entity.CreditHold
	for _, h := range r.holds {
		if h.IsOpen() {
			open = append(open, h)
		}
	}
	return open, nil
}

type fakeTransactor struct{}

func (fakeTransactor) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeBillingRepo struct{}

func (fakeBillingRepo) GetTokenCostConfig(ctx context.Context) (*entity.TokenCostConfig, error) {
	return &entity.TokenCostConfig{
		CostPerCredit:      1.0,
		CostPer1MInput:     5.0,
		CostPer1MOutput:    20.0,
		O1CostPerCredit:    1.0,
		O1CostPer1MInput:   3.0,
		O1CostPer1MOutput:  12.0,
		DallEPricePerImage: 0.08,
	}, nil
}

func (fakeBillingRepo) GetCreditModifiers(ctx context.Context) (map[string]int, error) {
	return entity.DefaultCreditModifiers(), nil
}

func (fakeBillingRepo) SeedDefaults(ctx context.Context, cost *entity.TokenCostConfig, modifiers map[string]int) error {
	return nil
}

type fakeTokenizer struct{}

func (fakeTokenizer) CountTokens(model, text string) int {
	return 120
}

type fakeLocker struct {
	held     bool
	renewOK  bool
	acquires int
	releases int
	renews   int
}

func (l *fakeLocker) Acquire(ctx context.Context, userID string) (string, error) {
	if l.held {
		return "", apperrors.ErrGenerationInProgress
	}
	l.acquires++
	return "token-1", nil
}

func (l *fakeLocker) Release(ctx context.Context, userID, token string) error {
	l.releases++
	return nil
}

func (l *fakeLocker) Renew(ctx context.Context, userID, token string) (bool, error) {
	l.renews++
	return l.renewOK, nil
}

type fakeTextGen struct {
	output  string
	failOn  int // 第 N 次调用时失败；0 表示永不失败
	calls   int
	prompts []string
}

func (g *fakeTextGen) GenerateText(ctx context.Context, model, prompt string) (string, service.TokenUsage, error) {
	g.calls++
	g.prompts = append(g.prompts, prompt)
	if g.failOn > 0 && g.calls == g.failOn {
		return "", service.TokenUsage{}, errors.New("provider timeout")
	}
	return g.output, service.TokenUsage{PromptTokens: 120, CompletionTokens: 180}, nil
}

type fakeImageGen struct {
	calls int
}

func (g *fakeImageGen) GenerateImage(ctx context.Context, model, prompt, size string) (string, error) {
	g.calls++
	return fmt.Sprintf("images/key-%d.png", g.calls), nil
}

type fakeNotifier struct {
	events []service.Event
}

func (n *fakeNotifier) Notify(ctx context.Context, userID string, event service.Event) {
	n.events = append(n.events, event)
}

// ---- 测试装配 ----

type harness struct {
	storyRepo   *fakeStoryRepo
	chapterRepo *fakeChapterRepo
	metaRepo    *fakeMetaRepo
	arcRepo     *fakeArcRepo
	guideRepo   *fakeGuideRepo
	logRepo     *fakeLogRepo
	creditRepo  *fakeCreditRepo
	locker      *fakeLocker
	textGen     *fakeTextGen
	imageGen    *fakeImageGen
	notifier    *fakeNotifier
	orch        *Orchestrator
}

func newHarness(story *entity.Story, chapters []*entity.Chapter, balance int64) *harness {
	h := &harness{
		storyRepo:   &fakeStoryRepo{story: story},
		chapterRepo: &fakeChapterRepo{chapters: chapters},
		metaRepo:    &fakeMetaRepo{},
		arcRepo:     &fakeArcRepo{},
		guideRepo:   &fakeGuideRepo{},
		logRepo:     &fakeLogRepo{},
		creditRepo:  &fakeCreditRepo{account: &entity.CreditAccount{UserID: story.UserID, Balance: balance}},
		locker:      &fakeLocker{renewOK: true},
		textGen:     &fakeTextGen{output: "placeholder"},
		imageGen:    &fakeImageGen{},
		notifier:    &fakeNotifier{},
	}

	llmCfg := &config.LLMConfig{
		MetaModel:  "gpt-4o-mini",
		StoryModel: "o1-mini",
		ImageModel: "dall-e-3",
		ImageSize:  "1024x1024",
	}
	genCfg := &config.GenerationConfig{
		PredictedOutputTokens: config.PredictedOutputConfig{
			Meta: 200, Summaries: 250, Arcs: 250, ChapterGuide: 250, Chapter: 300,
		},
	}

	loader := NewContextLoader(h.metaRepo, h.arcRepo, h.guideRepo, h.chapterRepo)
	predictor := NewPredictor(loader, fakeTokenizer{}, fakeBillingRepo{}, llmCfg, genCfg)
	ledger := billing.NewLedger(h.creditRepo, fakeTransactor{})
	executor := NewExecutor(
		predictor, loader, ledger,
		h.textGen, h.imageGen, h.notifier,
		fakeTransactor{},
		h.storyRepo, h.chapterRepo, h.metaRepo, h.arcRepo, h.guideRepo, h.logRepo,
		llmCfg,
	)
	h.orch = NewOrchestrator(executor, predictor, loader, ledger, h.locker, nil, h.storyRepo, h.logRepo)
	return h
}

func testStory(stage entity.StoryStage) *entity.Story {
	return &entity.Story{
		ID:           "story-1",
		UserID:       "user-1",
		Title:        "The Cartographer",
		ChapterCount: 5,
		Stage:        stage,
	}
}

func testChapters(proseDone, imageDone int) []*entity.Chapter {
	chapters := make([]*entity.Chapter, 0, 5)
	for i := 1; i <= 5; i++ {
		ch := &entity.Chapter{
			StoryID:       "story-1",
			ChapterNumber: i,
			Title:         fmt.Sprintf("Chapter %d", i),
			Summary:       "something happens",
			ProseStatus:   entity.ChapterStepPending,
			ImageStatus:   entity.ChapterStepPending,
		}
		if i <= proseDone {
			ch.ProseStatus = entity.ChapterStepDone
		}
		if i <= imageDone {
			ch.ImageStatus = entity.ChapterStepDone
		}
		chapters = append(chapters, ch)
	}
	return chapters
}

// ---- 用例 ----

func TestOrchestrator_Advance_MetaStage(t *testing.T) {
	h := newHarness(testStory(entity.StageCreated), nil, 1000)
	h.textGen.output = `{
		"characters": [{"name": "Mira", "description": "a cartographer", "example_dialogue": "hm"}],
		"locations": [{"name": "Saltmarsh", "description": "a town"}]
	}`

	err := h.orch.Advance(context.Background(), "user-1", "story-1")
	require.NoError(t, err)

	// 阶段前移，元数据落库
	assert.Equal(t, entity.StageMetaGenerated, h.storyRepo.story.Stage)
	assert.Len(t, h.metaRepo.characters, 1)
	assert.Len(t, h.metaRepo.locations, 1)

	// 元数据系数 50/50：输入输出各折最低 1 点，结算 100 点
	assert.Equal(t, int64(900), h.creditRepo.account.Balance)
	assert.Equal(t, int64(0), h.creditRepo.account.Reserved)
	open, _ := h.creditRepo.ListOpenHolds(context.Background(), "user-1")
	assert.Empty(t, open)

	// 锁成对取放，先进行中通知后完成事件
	assert.Equal(t, 1, h.locker.acquires)
	assert.Equal(t, 1, h.locker.releases)
	require.Len(t, h.notifier.events, 2)
	assert.Equal(t, service.EventNotification, h.notifier.events[0].Kind)
	assert.Equal(t, service.EventMetaGenerated, h.notifier.events[1].Kind)
}

func TestOrchestrator_Advance_Forbidden(t *testing.T) {
	h := newHarness(testStory(entity.StageCreated), nil, 1000)

	err := h.orch.Advance(context.Background(), "user-2", "story-1")
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))
	assert.Equal(t, 0, h.locker.acquires)
}

func TestOrchestrator_Advance_TerminalStage(t *testing.T) {
	h := newHarness(testStory(entity.StageImagesGenerated), nil, 1000)

	err := h.orch.Advance(context.Background(), "user-1", "story-1")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))
}

func TestOrchestrator_Advance_LockHeld(t *testing.T) {
	h := newHarness(testStory(entity.StageCreated), nil, 1000)
	h.locker.held = true

	err := h.orch.Advance(context.Background(), "user-1", "story-1")
	assert.True(t, errors.Is(err, apperrors.ErrGenerationInProgress))

	// 没拿到锁就不碰任何状态
	assert.Equal(t, entity.StageCreated, h.storyRepo.story.Stage)
	assert.Equal(t, 0, h.textGen.calls)
	assert.Empty(t, h.logRepo.logs)
}

func TestOrchestrator_Advance_InsufficientCredits(t *testing.T) {
	h := newHarness(testStory(entity.StageCreated), nil, 10)

	err := h.orch.Advance(context.Background(), "user-1", "story-1")
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientCredits))

	// 余额不足在任何外部调用之前失败，不写流水
	assert.Equal(t, 0, h.textGen.calls)
	assert.Empty(t, h.logRepo.logs)
	assert.Equal(t, entity.StageCreated, h.storyRepo.story.Stage)
}

func TestOrchestrator_Advance_ProseFanOutResumes(t *testing.T) {
	// 第 1-3 章已有正文，只剩 4、5 两章
	h := newHarness(testStory(entity.StageGuidesGenerated), testChapters(3, 0), 1000)
	h.textGen.output = "# Chapter\n\nProse follows."

	err := h.orch.Advance(context.Background(), "user-1", "story-1")
	require.NoError(t, err)

	assert.Equal(t, 2, h.textGen.calls)
	assert.Equal(t, 2, h.locker.renews)
	assert.Equal(t, entity.StageProseGenerated, h.storyRepo.story.Stage)
	for _, ch := range h.chapterRepo.chapters {
		assert.Equal(t, entity.ChapterStepDone, ch.ProseStatus, "chapter %d", ch.ChapterNumber)
	}
	assert.Len(t, h.logRepo.logs, 2)
}

func TestOrchestrator_Advance_FanOutFailureKeepsStage(t *testing.T) {
	h := newHarness(testStory(entity.StageGuidesGenerated), testChapters(0, 0), 1000)
	h.textGen.output = "# Chapter\n\nProse follows."
	h.textGen.failOn = 3

	err := h.orch.Advance(context.Background(), "user-1", "story-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrGenerationFailed))

	// 失败的那章中断本次推进：阶段不前移，已完成的两章保留
	assert.Equal(t, entity.StageGuidesGenerated, h.storyRepo.story.Stage)
	assert.Equal(t, entity.ChapterStepDone, h.chapterRepo.chapters[0].ProseStatus)
	assert.Equal(t, entity.ChapterStepDone, h.chapterRepo.chapters[1].ProseStatus)
	assert.Equal(t, entity.ChapterStepPending, h.chapterRepo.chapters[2].ProseStatus)

	// 失败那次的预留整额退回
	assert.Equal(t, int64(0), h.creditRepo.account.Reserved)
	open, _ := h.creditRepo.ListOpenHolds(context.Background(), "user-1")
	assert.Empty(t, open)

	// 末尾是一条错误事件
	require.NotEmpty(t, h.notifier.events)
	assert.Equal(t, service.EventGenerationError, h.notifier.events[len(h.notifier.events)-1].Kind)

	// 重新推进从断点续做
	h.textGen.failOn = 0
	require.NoError(t, h.orch.Advance(context.Background(), "user-1", "story-1"))
	assert.Equal(t, entity.StageProseGenerated, h.storyRepo.story.Stage)
	assert.Equal(t, 6, h.textGen.calls)
}

func TestOrchestrator_Advance_FanOutStopsWhenLockLost(t *testing.T) {
	h := newHarness(testStory(entity.StageGuidesGenerated), testChapters(0, 0), 1000)
	h.locker.renewOK = false

	err := h.orch.Advance(context.Background(), "user-1", "story-1")
	require.Error(t, err)
	appErr := apperrors.AsAppError(err)
	assert.Equal(t, apperrors.CodeLockError, appErr.Code)

	assert.Equal(t, 0, h.textGen.calls)
	assert.Equal(t, entity.StageGuidesGenerated, h.storyRepo.story.Stage)
}

func TestOrchestrator_Advance_ImageStageGeneratesCoverOnce(t *testing.T) {
	h := newHarness(testStory(entity.StageProseGenerated), testChapters(5, 0), 1000)

	err := h.orch.Advance(context.Background(), "user-1", "story-1")
	require.NoError(t, err)

	// 封面一张 + 每章一张
	assert.Equal(t, 6, h.imageGen.calls)
	assert.NotEmpty(t, h.storyRepo.story.CoverImageKey)
	assert.Equal(t, entity.StageImagesGenerated, h.storyRepo.story.Stage)
	for _, ch := range h.chapterRepo.chapters {
		assert.Equal(t, entity.ChapterStepDone, ch.ImageStatus, "chapter %d", ch.ChapterNumber)
		assert.NotEmpty(t, ch.ChapterImageKey)
	}

	// 每张固定 4 点：0.08 美元 × 系数 50
	assert.Equal(t, int64(1000-6*4), h.creditRepo.account.Balance)
}

func TestOrchestrator_Advance_ImageStageSkipsExistingCover(t *testing.T) {
	story := testStory(entity.StageProseGenerated)
	story.CoverImageKey = "images/cover.png"
	h := newHarness(story, testChapters(5, 3), 1000)

	err := h.orch.Advance(context.Background(), "user-1", "story-1")
	require.NoError(t, err)

	// 封面已有、前三章已有插图：只为 4、5 两章生成
	assert.Equal(t, 2, h.imageGen.calls)
	assert.Equal(t, "images/cover.png", h.storyRepo.story.CoverImageKey)
}

func TestOrchestrator_Advance_FanOutWithoutChapters(t *testing.T) {
	h := newHarness(testStory(entity.StageGuidesGenerated), nil, 1000)

	err := h.orch.Advance(context.Background(), "user-1", "story-1")
	require.Error(t, err)
	appErr := apperrors.AsAppError(err)
	assert.Equal(t, apperrors.CodeStageIncomplete, appErr.Code)
}

func TestOrchestrator_Submit_TerminalStage(t *testing.T) {
	h := newHarness(testStory(entity.StageImagesGenerated), nil, 1000)

	_, err := h.orch.Submit(context.Background(), "user-1", "story-1", "req-1")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))
}

func TestOrchestrator_Submit_AffordabilityFastFail(t *testing.T) {
	// 元数据阶段要 100 点，余额只有 10 点：投递前同步拒绝
	h := newHarness(testStory(entity.StageCreated), nil, 10)

	_, err := h.orch.Submit(context.Background(), "user-1", "story-1", "req-1")
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientCredits))
}

func TestOrchestrator_Predict(t *testing.T) {
	h := newHarness(testStory(entity.StageGuidesGenerated), testChapters(3, 0), 1000)

	story, preds, err := h.orch.Predict(context.Background(), "user-1", "story-1")
	require.NoError(t, err)
	assert.Equal(t, entity.StageGuidesGenerated, story.Stage)

	// 已完成的章节不出现在预估里
	require.Len(t, preds, 2)
	for _, p := range preds {
		assert.Equal(t, entity.KindChapter, p.Kind)
		require.NotNil(t, p.ChapterNumber)
		assert.Greater(t, *p.ChapterNumber, 3)
		assert.Positive(t, p.TotalCredits)
	}
}

func TestOrchestrator_Predict_ImageStageCountsCover(t *testing.T) {
	h := newHarness(testStory(entity.StageProseGenerated), testChapters(5, 3), 1000)

	_, preds, err := h.orch.Predict(context.Background(), "user-1", "story-1")
	require.NoError(t, err)

	// 封面未生成：封面一条（ChapterNumber 为空）加两章插图
	require.Len(t, preds, 3)
	assert.Nil(t, preds[0].ChapterNumber)
	assert.Equal(t, entity.KindImage, preds[0].Kind)
	assert.Positive(t, preds[0].TotalCredits)
	require.NotNil(t, preds[1].ChapterNumber)
	require.NotNil(t, preds[2].ChapterNumber)

	// 封面已生成则只剩插图
	h.storyRepo.story.CoverImageKey = "stories/story-1/cover.png"
	_, preds, err = h.orch.Predict(context.Background(), "user-1", "story-1")
	require.NoError(t, err)
	require.Len(t, preds, 2)
	for _, p := range preds {
		require.NotNil(t, p.ChapterNumber)
	}
}

func TestOrchestrator_MalformedOutputFailsStage(t *testing.T) {
	h := newHarness(testStory(entity.StageCreated), nil, 1000)
	h.textGen.output = "sorry, I cannot produce JSON today"

	err := h.orch.Advance(context.Background(), "user-1", "story-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrMalformedOutput))

	// 校验失败按失败收尾：退预留、阶段不前移
	assert.Equal(t, entity.StageCreated, h.storyRepo.story.Stage)
	assert.Equal(t, int64(1000), h.creditRepo.account.Balance)
	assert.Equal(t, int64(0), h.creditRepo.account.Reserved)
	require.Len(t, h.logRepo.logs, 1)
	assert.Equal(t, entity.GenerationStatusFailed, h.logRepo.logs[0].Status)
}
