package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/Dolores18/api-manager/internal/cli"
	"github.com/Dolores18/api-manager/internal/store/model"
	"github.com/Dolores18/api-manager/internal/store/sqlite"
)

// Seeds a local database with a couple of provider accounts and their prices
// so the gateway can be exercised without touching the admin API.
func main() {
	repo, err := sqlite.NewSQLiteStorage("file:manager.db?cache=shared&mode=rwc&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		_ = repo.Close()
	}()

	ctx := context.Background()
	now := time.Now().UTC()

	providers := []model.Provider{
		{
			ID:              uuid.NewString(),
			Name:            "siliconflow-main",
			ProviderType:    "siliconflow",
			BaseURL:         "https://api.siliconflow.cn",
			APIKey:          "sk-replace-me-siliconflow",
			Status:          model.StatusActive,
			MinBalance:      3.0,
			SupportsBalance: true,
			ModelName:       "deepseek-ai/DeepSeek-V3",
			ModelType:       "chat",
			CreatedAt:       now,
			UpdatedAt:       now,
		},
		{
			ID:              uuid.NewString(),
			Name:            "deepseek-official",
			ProviderType:    "deepseek",
			IsOfficial:      true,
			BaseURL:         "https://api.deepseek.com",
			APIKey:          "sk-replace-me-deepseek",
			Status:          model.StatusActive,
			MinBalance:      3.0,
			SupportsBalance: true,
			ModelName:       "deepseek-chat",
			ModelType:       "chat",
			CreatedAt:       now,
			UpdatedAt:       now,
		},
	}

	for _, p := range providers {
		if err := repo.Providers().Create(ctx, &p); err != nil {
			fmt.Printf("%s provider %s may already exist: %v\n", cli.CrossMark(), p.Name, err)
			continue
		}
		fmt.Printf("%s provider %s\n", cli.CheckMark(), p.Name)
		cli.PrettyPrint(p)
	}

	prices := []model.PriceEntry{
		{
			ID:              uuid.NewString(),
			Name:            "siliconflow-main",
			Model:           "deepseek-ai/DeepSeek-V3",
			PromptPrice:     0.001,
			CompletionPrice: 0.002,
			Currency:        "CNY",
			EffectiveDate:   now,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
		{
			ID:              uuid.NewString(),
			Name:            "deepseek-official",
			Model:           "deepseek-chat",
			PromptPrice:     0.002,
			CompletionPrice: 0.008,
			Currency:        "CNY",
			EffectiveDate:   now,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
	}

	for _, e := range prices {
		if err := repo.Pricing().Update(ctx, &e); err != nil {
			fmt.Printf("%s price for %s/%s: %v\n", cli.CrossMark(), e.Name, e.Model, err)
			continue
		}
		fmt.Printf("%s price %s/%s\n", cli.CheckMark(), e.Name, e.Model)
	}

	fmt.Printf("\n%s database seeded\n", cli.Arrow())
}
