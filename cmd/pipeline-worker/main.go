// Package main 流水线异步执行器入口（pipeline-worker）
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"storyforge-api/internal/app"
	"storyforge-api/internal/config"
	"storyforge-api/internal/infrastructure/messaging"
	"storyforge-api/pkg/logger"
	"storyforge-api/pkg/tracer"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	ctx := context.Background()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: "pipeline-worker",
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(ctx) }()

	application, err := app.New(cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize app", err)
	}
	defer application.Close()

	consumer := messaging.NewConsumer(
		application.Redis.RDB(),
		&cfg.Messaging.RedisStream,
		hostnameConsumerName(),
	)

	consumer.RegisterHandler(messaging.TypeAdvanceStage, func(ctx context.Context, msg *messaging.Message) error {
		var payload messaging.AdvanceStagePayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}
		if payload.RequestID != "" {
			ctx = logger.WithContext(ctx, logger.RequestIDKey, payload.RequestID)
		}
		return application.Orchestrator.Advance(ctx, payload.UserID, payload.StoryID)
	})

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info(ctx, "shutting down worker...")
		cancel()
	}()

	logger.Info(ctx, "pipeline worker starting", "stream", messaging.StreamPipelineAdvance)
	if err := consumer.Start(runCtx, messaging.StreamPipelineAdvance); err != nil {
		logger.Fatal(ctx, "worker exited", err)
	}
	logger.Info(ctx, "worker exited")
}

// hostnameConsumerName 以主机名区分消费组内的消费者
func hostnameConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "pipeline-worker"
	}
	return "pipeline-worker-" + host
}
