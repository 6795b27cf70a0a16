package main

import (
	"context"
	"flag"
	"log"

	"go.uber.org/zap"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/config"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/observability"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/persistence"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/repository"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/seed"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	path := flag.String("file", cfg.Seed.File, "seed YAML file")
	flag.Parse()

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx := context.Background()
	if cfg.Postgres.DSN == "" {
		logger.Fatal("POSTGRES_DSN is required to seed")
	}
	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.Pool, cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	file, err := seed.Load(*path)
	if err != nil {
		logger.Fatal("failed to load seed file", zap.String("file", *path), zap.Error(err))
	}

	seeder := seed.NewSeeder(repository.NewUserRepository(pg.Pool), repository.NewCompanyRepository(pg.Pool), cfg.Auth.BcryptCost, logger)
	res, err := seeder.Apply(ctx, file)
	if err != nil {
		logger.Fatal("seed failed", zap.Error(err))
	}
	logger.Info("seed applied", zap.Int("created", res.Created), zap.Int("skipped", res.Skipped))
}
