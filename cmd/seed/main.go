package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"fleet-billing/internal/config"
	"fleet-billing/internal/domain/model"
	pg "fleet-billing/internal/infra/db/postgres"
	"fleet-billing/internal/infra/logging"
	"fleet-billing/internal/usecase"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	catalog := usecase.NewCatalogUseCase(pg.NewPostgresCatalogRepo(pool), logger)

	// If the catalog already has rows, do nothing
	current, err := catalog.List(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("list catalog")
	}
	if n := len(current.AccountCharges) + len(current.Services); n > 0 {
		fmt.Printf("%d catalog rows already present. No changes.\n", n)
		for _, a := range current.AccountCharges {
			fmt.Printf("  - charge %s (days=%d, amount=%s, credit=%s)\n", a.Period, a.DurationDays, a.Amount, a.CreditCost)
		}
		for _, s := range current.Services {
			fmt.Printf("  - service %s (days=%d, price=%s, credit=%s)\n", s.Name, s.DurationDays, s.Price, s.CreditCost)
		}
		return
	}

	charges := []model.AccountCharge{
		{Period: "1m", Description: "One month of tracking", Amount: decimal.NewFromInt(50_000), CreditCost: decimal.NewFromInt(40), DurationDays: 30},
		{Period: "3m", Description: "Three months of tracking", Amount: decimal.NewFromInt(140_000), CreditCost: decimal.NewFromInt(110), DurationDays: 90},
		{Period: "12m", Description: "One year of tracking", Amount: decimal.NewFromInt(500_000), CreditCost: decimal.NewFromInt(400), DurationDays: 365},
	}
	for i := range charges {
		a := &charges[i]
		if err := catalog.CreateAccountCharge(ctx, a); err != nil {
			logger.Fatal().Err(err).Str("period", a.Period).Msg("create account charge")
		}
		fmt.Printf("seeded charge: %s (id=%s, days=%d, amount=%s)\n", a.Period, a.ID, a.DurationDays, a.Amount)
	}

	services := []model.Service{
		{Name: "SIM recharge", Description: "Data SIM top-up", Price: decimal.NewFromInt(200_000), CreditCost: decimal.NewFromInt(150), DurationDays: 90},
		{Name: "Wallet 500", Description: "Reseller credit pack", Price: decimal.NewFromInt(600_000), CreditCost: decimal.NewFromInt(500)},
	}
	for i := range services {
		s := &services[i]
		if err := catalog.CreateService(ctx, s); err != nil {
			logger.Fatal().Err(err).Str("name", s.Name).Msg("create service")
		}
		fmt.Printf("seeded service: %s (id=%s, price=%s, credit=%s)\n", s.Name, s.ID, s.Price, s.CreditCost)
	}

	fmt.Println("Seeding complete.")
}
