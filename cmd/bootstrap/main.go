// Command bootstrap seeds the system permissions, roles, and first admin. Safe to rerun.
package main

import (
	"context"
	"flag"
	"log"

	"medsales/internal/app"
	"medsales/internal/database"
	"medsales/internal/service"
	"medsales/pkg/config"
	"medsales/pkg/logger"
)

func main() {
	file := flag.String("file", "", "bootstrap YAML (defaults to BOOTSTRAP_FILE, then the embedded seed)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logg, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	path := cfg.Bootstrap.File
	if *file != "" {
		path = *file
	}
	seed, err := service.LoadBootstrap(path)
	if err != nil {
		logg.WithError(err).Fatal("invalid bootstrap file")
	}

	db, err := database.NewConnection(cfg.Database, logg)
	if err != nil {
		logg.WithError(err).Fatal("database connection failed")
	}

	ctx := context.Background()
	cache, closeCache := app.NewDecisionCache(ctx, cfg.Redis, logg)
	defer closeCache()

	res, err := app.New(cfg, db, logg, cache).Bootstrapper.Run(ctx, seed)
	if err != nil {
		logg.WithError(err).Fatal("bootstrap failed")
	}
	if res.AdminCreated {
		logg.Info("admin account created")
	}
}
