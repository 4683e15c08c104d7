package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "medsales/api/swagger" // swagger docs
	"medsales/internal/app"
	"medsales/internal/database"
	"medsales/internal/middleware"
	"medsales/pkg/config"
	"medsales/pkg/logger"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

// @title           Medical Sales API
// @version         1.0
// @description     Cases, batch inventory and role-based access control for a medical device sales team.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logg, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	gin.SetMode(cfg.Server.Mode)

	db, err := database.NewConnection(cfg.Database, logg)
	if err != nil {
		logg.WithError(err).Fatal("database connection failed")
	}
	logg.WithField("driver", cfg.Database.Driver).Info("connected to database")

	if err := middleware.RegisterValidators(); err != nil {
		logg.WithError(err).Fatal("failed to register validators")
	}

	cache, closeCache := app.NewDecisionCache(context.Background(), cfg.Redis, logg)
	defer closeCache()

	a := app.New(cfg, db, logg, cache)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Sweeper.Start(cfg.Inventory.ExpirySweepSpec); err != nil {
		logg.WithError(err).Fatal("failed to schedule expiry sweep")
	}
	defer a.Sweeper.Stop()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Hub.Run(gctx)
	})
	g.Go(func() error {
		logg.WithField("port", cfg.Server.Port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logg.Info("shutting down server")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logg.WithError(err).Error("server stopped with error")
	}
}
