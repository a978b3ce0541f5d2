package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"storyforge-api/internal/config"
	"storyforge-api/internal/domain/entity"
	"storyforge-api/internal/infrastructure/persistence/postgres"
	apperrors "storyforge-api/pkg/errors"
)

func main() {
	_ = godotenv.Load()

	fmt.Println("Starting system bootstrap...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	pgClient, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		log.Fatalf("failed to initialize postgres: %v", err)
	}
	defer func() { _ = pgClient.Close() }()

	// 1. 建表
	fmt.Println("Running migrations...")
	err = pgClient.DB().AutoMigrate(
		&entity.Story{},
		&entity.Chapter{},
		&entity.Character{},
		&entity.Location{},
		&entity.StoryArc{},
		&entity.ChapterGuide{},
		&entity.CreditAccount{},
		&entity.CreditHold{},
		&entity.GenerationLog{},
		&entity.TokenCostConfig{},
		&entity.CreditConfig{},
	)
	if err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// 2. 写入默认价目与系数
	fmt.Println("Seeding billing defaults...")
	billingRepo := postgres.NewBillingConfigRepository(pgClient)
	defaultCost := &entity.TokenCostConfig{
		CostPerCredit:      1.0,
		CostPer1MInput:     0.15,
		CostPer1MOutput:    0.60,
		O1CostPerCredit:    1.0,
		O1CostPer1MInput:   3.0,
		O1CostPer1MOutput:  12.0,
		DallEPricePerImage: 0.08,
	}
	if err := billingRepo.SeedDefaults(ctx, defaultCost, entity.DefaultCreditModifiers()); err != nil {
		log.Fatalf("failed to seed billing defaults: %v", err)
	}

	// 3. 可选：为演示用户开账户充值
	if demoUserID := os.Getenv("BOOTSTRAP_DEMO_USER_ID"); demoUserID != "" {
		balance := int64(1000)
		if v := os.Getenv("BOOTSTRAP_DEMO_BALANCE"); v != "" {
			if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
				balance = parsed
			}
		}

		creditRepo := postgres.NewCreditRepository(pgClient)
		_, err := creditRepo.GetAccount(ctx, demoUserID)
		switch {
		case err == nil:
			fmt.Printf("Demo account %s already exists.\n", demoUserID)
		case errors.Is(err, apperrors.ErrAccountNotFound):
			fmt.Printf("Creating demo account %s with balance %d...\n", demoUserID, balance)
			account := &entity.CreditAccount{UserID: demoUserID, Balance: balance}
			if err := creditRepo.CreateAccount(ctx, account); err != nil {
				log.Fatalf("failed to create demo account: %v", err)
			}
		default:
			log.Fatalf("failed to check demo account: %v", err)
		}
	}

	fmt.Println("Bootstrap completed successfully.")
}
