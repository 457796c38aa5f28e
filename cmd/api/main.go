package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"snapcart/internal/api"
	"snapcart/internal/config"
	"snapcart/internal/database"
	"snapcart/internal/infrastructure/payment"
	"snapcart/internal/logger"
	"snapcart/internal/repo"
	"snapcart/internal/service"
	"snapcart/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logger.Setup("snapcart-api", cfg.LogLevel, cfg.Env)
	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	dbService := database.New(db, cfg.DB.Database)
	defer dbService.Close()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	repos := repo.NewRepos(db)
	gateway := payment.NewMemoryGateway()

	checkout := service.NewCheckoutService(db, repos, cfg.Checkout)
	orders := service.NewOrderService(db, repos, gateway, cfg.Checkout)
	coupons := service.NewCouponService(db, repos)
	wallets := service.NewWalletService(db, repos)

	go worker.NewReconciliationWorker(repos, orders, gateway, cfg.Worker).Run(ctx)

	srv := api.NewServer(checkout, orders, coupons, wallets, dbService).HTTPServer(cfg.HTTPAddr)

	idleConnsClosed := make(chan struct{})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http server shutdown")
		}
		close(idleConnsClosed)
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Msg("starting snapcart api")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("listen")
	}

	<-idleConnsClosed
	log.Info().Msg("server stopped")
}
