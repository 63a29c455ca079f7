// Package main loads tenant and form fixtures into the configured store.
package main

import (
	"context"
	"flag"
	"time"

	"go.uber.org/zap"

	"github.com/tzomaik-art/form-builder/internal/config"
	"github.com/tzomaik-art/form-builder/internal/seed"
	"github.com/tzomaik-art/form-builder/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	fixturePath := flag.String("fixture", "deploy/seed/demo.yaml", "path to the YAML fixture")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	fixture, err := seed.LoadFixture(*fixturePath)
	if err != nil {
		logger.Fatal("Failed to load fixture", zap.String("path", *fixturePath), zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer db.Close()

	if err := seed.Apply(ctx, db, fixture, logger); err != nil {
		logger.Fatal("Failed to seed", zap.Error(err))
	}

	logger.Info("Seed data created",
		zap.Int("tenants", len(fixture.Tenants)),
		zap.Int("forms", len(fixture.Forms)))
}
