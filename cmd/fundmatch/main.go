// fundmatch is the fund-unit order matching and NAV pricing service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quantora/fundmatch/internal/config"
	"github.com/quantora/fundmatch/internal/database"
	"github.com/quantora/fundmatch/internal/engine"
	"github.com/quantora/fundmatch/internal/events"
	"github.com/quantora/fundmatch/internal/marketmaker"
	"github.com/quantora/fundmatch/internal/navfeed"
	"github.com/quantora/fundmatch/internal/orderstore"
	"github.com/quantora/fundmatch/internal/pricing"
	"github.com/quantora/fundmatch/internal/server"
	"github.com/quantora/fundmatch/pkg/logger"
)

func main() {
	// Optional .env for local development.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("Service exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	var db *gorm.DB
	var err error
	switch cfg.Database.Driver {
	case "postgres":
		db, err = database.NewPostgresDB(cfg.Database.DSN,
			cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	case "sqlite":
		db, err = database.NewSQLiteDB(cfg.Database.DSN)
	default:
		return fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
	if err != nil {
		return err
	}

	store, err := orderstore.NewGormStore(db)
	if err != nil {
		return err
	}

	step, err := cfg.PriceStep()
	if err != nil {
		return err
	}
	calc := pricing.NewCalculator(step)

	band, err := cfg.ToleranceBand()
	if err != nil {
		return err
	}
	if band == nil {
		log.Warn("Tolerance band not configured; profitability gate will reject all admissions")
	}
	gate := pricing.NewGate(band)

	var nav navfeed.Source = navfeed.NewStoreSource(store)
	var cached *navfeed.CachedSource
	if cfg.Redis.Enabled {
		redisClient, rerr := database.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if rerr != nil {
			return rerr
		}
		defer redisClient.Close()
		cached = navfeed.NewCachedSource(redisClient, nav, log, time.Hour)
		nav = cached
	}

	registry := engine.NewRegistry(log, store, calc, gate, nav, cfg.Engine.IdleTTL)

	mmParty := uuid.New()
	if cfg.MarketMaker.PartyID != "" {
		mmParty, err = uuid.Parse(cfg.MarketMaker.PartyID)
		if err != nil {
			return fmt.Errorf("invalid market_maker.party_id: %w", err)
		}
	}
	marketMaker := marketmaker.NewHandler(log, store, calc, gate, nav, mmParty)

	hub := navfeed.NewHub(log)
	distributor := navfeed.NewDistributor(log, store, cached, hub)
	publisher := events.NewPublisher(log, cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer publisher.Close()

	srv := server.NewServer(log, store, registry, marketMaker, calc, nav, distributor, hub, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	registry.StartSweeper(ctx, cfg.Engine.SweepInterval)
	defer registry.Stop()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if serr := httpServer.ListenAndServe(); serr != nil && serr != http.ErrServerClosed {
			errCh <- serr
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))
	case serr := <-errCh:
		return serr
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	hub.Close()
	log.Info("Service stopped")
	return nil
}
