// Package app 装配应用依赖
package app

import (
	"github.com/gin-gonic/gin"

	"storyforge-api/internal/application/billing"
	"storyforge-api/internal/application/pipeline"
	"storyforge-api/internal/config"
	"storyforge-api/internal/domain/repository"
	"storyforge-api/internal/infrastructure/llm"
	"storyforge-api/internal/infrastructure/messaging"
	"storyforge-api/internal/infrastructure/persistence/postgres"
	"storyforge-api/internal/infrastructure/persistence/redis"
	"storyforge-api/internal/interfaces/http/handler"
	"storyforge-api/internal/interfaces/http/router"
)

// App 装配完成的应用
type App struct {
	Config *config.Config

	Postgres *postgres.Client
	Redis    *redis.Client

	StoryRepo   repository.StoryRepository
	ChapterRepo repository.ChapterRepository
	CreditRepo  repository.CreditRepository
	LogRepo     repository.GenerationLogRepository
	BillingRepo repository.BillingConfigRepository
	TxManager   repository.Transactor

	Ledger       *billing.Ledger
	Orchestrator *pipeline.Orchestrator

	router *router.Router
}

// New 装配应用
func New(cfg *config.Config) (*App, error) {
	pgClient, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, err
	}

	redisClient, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		pgClient.Close()
		return nil, err
	}

	txManager := postgres.NewTxManager(pgClient)
	storyRepo := postgres.NewStoryRepository(pgClient)
	chapterRepo := postgres.NewChapterRepository(pgClient)
	metaRepo := postgres.NewStoryMetaRepository(pgClient)
	arcRepo := postgres.NewStoryArcRepository(pgClient)
	guideRepo := postgres.NewChapterGuideRepository(pgClient)
	creditRepo := postgres.NewCreditRepository(pgClient)
	logRepo := postgres.NewGenerationLogRepository(pgClient)
	billingRepo := redis.NewCachedBillingConfigRepository(
		postgres.NewBillingConfigRepository(pgClient),
		redisClient,
		cfg.Generation.ConfigCacheTTL,
	)

	locker := redis.NewGenerationLock(redisClient, cfg.Generation.LockTTL)
	producer := messaging.NewProducer(redisClient.RDB(), &cfg.Messaging.RedisStream)
	notifier := messaging.NewEventNotifier(redisClient.RDB())

	llmClient := llm.NewClient(&cfg.LLM)
	tokenizer := llm.NewTokenizer()

	loader := pipeline.NewContextLoader(metaRepo, arcRepo, guideRepo, chapterRepo)
	predictor := pipeline.NewPredictor(loader, tokenizer, billingRepo, &cfg.LLM, &cfg.Generation)
	ledger := billing.NewLedger(creditRepo, txManager)
	executor := pipeline.NewExecutor(
		predictor, loader, ledger,
		llmClient, llmClient, notifier,
		txManager,
		storyRepo, chapterRepo, metaRepo, arcRepo, guideRepo, logRepo,
		&cfg.LLM,
	)
	orchestrator := pipeline.NewOrchestrator(
		executor, predictor, loader, ledger, locker, producer, storyRepo, logRepo,
	)

	a := &App{
		Config:       cfg,
		Postgres:     pgClient,
		Redis:        redisClient,
		StoryRepo:    storyRepo,
		ChapterRepo:  chapterRepo,
		CreditRepo:   creditRepo,
		LogRepo:      logRepo,
		BillingRepo:  billingRepo,
		TxManager:    txManager,
		Ledger:       ledger,
		Orchestrator: orchestrator,
	}

	a.router = router.New(cfg, router.Handlers{
		Health: handler.NewHealthHandler(map[string]handler.HealthChecker{
			"postgres": pgClient.HealthCheck,
			"redis":    redisClient.HealthCheck,
		}),
		Pipeline: handler.NewPipelineHandler(orchestrator),
		Credit:   handler.NewCreditHandler(ledger),
		Event:    handler.NewEventHandler(redisClient.RDB()),
	})
	return a, nil
}

// Engine 返回 HTTP 引擎
func (a *App) Engine() *gin.Engine {
	return a.router.Engine()
}

// Close 释放资源
func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Postgres != nil {
		_ = a.Postgres.Close()
	}
}
