package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lumenlab/scholar/internal/api"
	"github.com/lumenlab/scholar/internal/audit"
	"github.com/lumenlab/scholar/internal/collab"
	"github.com/lumenlab/scholar/internal/config"
	"github.com/lumenlab/scholar/internal/engine"
	"github.com/lumenlab/scholar/internal/index"
	"github.com/lumenlab/scholar/internal/memory"
	"github.com/lumenlab/scholar/internal/planner"
	pgstore "github.com/lumenlab/scholar/internal/store"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting scholard...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/scholard.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config unavailable, using defaults", zap.String("path", cfgPath), zap.Error(err))
		cfg = config.Default()
	} else {
		logger.Info("Config loaded", zap.String("path", cfgPath))
	}

	// Durable shadow of session state; the engine runs without it.
	var msgLog memory.MessageLog
	var factLog memory.FactLog
	var pgStore *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
			msgLog = ps
			factLog = ps
		}
	}

	// Query lifecycle audit trail; nil Trail is a no-op.
	var trail *audit.Trail
	if cfg.Database.Redis.URL != "" {
		t, trErr := audit.NewTrail(cfg.Database.Redis.URL, logger)
		if trErr != nil {
			logger.Warn("Redis unavailable, running without audit trail", zap.Error(trErr))
		} else {
			trail = t
		}
	}

	registry := memory.NewRegistry(cfg.Engine.TokenLimit, cfg.Engine.MaxFacts, msgLog, factLog, logger)
	if pgStore != nil {
		registry.SetRecovery(pgStore)
	}
	assembler := memory.NewAssembler(
		cfg.Engine.MaxFactsInContext,
		cfg.Engine.MaxIndexMatches,
		cfg.Engine.MaxBlocks,
		logger,
	)
	globalIndex := index.New(logger)

	classifier := planner.NewKeywordClassifier(
		cfg.Engine.Classifier.ComplexThreshold,
		cfg.Engine.Classifier.ModerateThreshold,
	)

	client := collab.NewOpenAIClient(collab.OpenAIConfig{
		Endpoint: cfg.Generator.Endpoint,
		APIKey:   cfg.Generator.APIKey,
		Model:    cfg.Generator.Model,
		Timeout:  cfg.Generator.Timeout.Std(),
	}, logger)

	breaker := collab.NewBreaker(
		cfg.Engine.Breaker.FailureThreshold,
		cfg.Engine.Breaker.Cooldown.Std(),
		logger,
	)
	caller := collab.NewCaller(collab.RetryPolicy{
		MaxRetries: cfg.Engine.Retry.MaxRetries,
		BaseDelay:  cfg.Engine.Retry.BaseDelay.Std(),
		MaxDelay:   cfg.Engine.Retry.MaxDelay.Std(),
	}, breaker, logger)

	eng := engine.New(
		registry, assembler, globalIndex,
		classifier, client, client, client, client,
		caller, trail,
		engine.Options{
			PoolSize:        cfg.Engine.PoolSize,
			QueryTimeout:    cfg.Engine.QueryTimeout.Std(),
			SubQueryTimeout: cfg.Engine.SubQueryTimeout.Std(),
		},
		logger,
	)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	registry.SweepIdle(sweepCtx, 10*time.Minute, 2*time.Hour)

	handler := api.NewHandler(eng, logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("scholard listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down scholard...")
	stopSweep()
	srv.Shutdown(context.Background())
	if trail != nil {
		trail.Close()
	}
	if pgStore != nil {
		pgStore.Close()
	}
}
