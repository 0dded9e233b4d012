package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/rivaldimahardhika/ProjectMagang/internal/api"
	"github.com/rivaldimahardhika/ProjectMagang/internal/auth"
	"github.com/rivaldimahardhika/ProjectMagang/internal/config"
	"github.com/rivaldimahardhika/ProjectMagang/internal/crypto"
	"github.com/rivaldimahardhika/ProjectMagang/internal/ingest"
	"github.com/rivaldimahardhika/ProjectMagang/internal/keys"
	"github.com/rivaldimahardhika/ProjectMagang/internal/ledger"
	"github.com/rivaldimahardhika/ProjectMagang/internal/store"
	"github.com/rivaldimahardhika/ProjectMagang/internal/worker"
)

func main() {
	log := logrus.New()
	cfg := config.Load()

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := store.Migrate(ctx, pool); err != nil {
		log.Fatalf("failed to apply schema: %v", err)
	}

	masterKey, err := keys.LoadMasterKey(cfg.MasterKeyHex, cfg.DevMode, log)
	if err != nil {
		log.Fatalf("master key: %v", err)
	}

	// The RSA pair is optional under the master-key scheme; records wrapped
	// under scheme 2 stay unreadable without it.
	rsaKey, err := keys.LoadRSAKeyPair(cfg.RSAPrivateKeyPath)
	if err != nil {
		if cfg.WrapScheme == crypto.SchemeRSA {
			log.Fatalf("rsa key pair: %v", err)
		}
		log.WithError(err).Warn("rsa key pair not loaded; scheme-2 records cannot be decrypted")
	}

	env, err := crypto.NewEnvelope(cfg.WrapScheme, masterKey, rsaKey)
	if err != nil {
		log.Fatalf("envelope cipher: %v", err)
	}

	queries := store.New(pool)
	authSvc := auth.NewService(queries)
	gate := ingest.New(time.Duration(cfg.SaveCooldownSeconds)*time.Second, cfg.PersistenceEnabled)
	led := ledger.New(queries, env, log)

	router := gin.Default()
	api.RegisterRoutes(router, queries, led, gate, authSvc, log)

	sweeper := worker.New(queries,
		time.Duration(cfg.RetentionDays)*24*time.Hour,
		time.Duration(cfg.RetentionSweepInterval)*time.Second,
		log)

	switch cfg.Mode {
	case "worker":
		log.Info("starting in worker-only mode")
		sweeper.Start(ctx) // blocks until ctx cancelled
	case "api":
		// API-only: no embedded sweeper; run it as a separate process.
		log.Info("starting in api-only mode")
		if err := router.Run(":" + cfg.Port); err != nil {
			log.Fatalf("server error: %v", err)
		}
	default:
		// Default: API server and retention sweeper in the same process.
		go sweeper.Start(ctx)

		if err := router.Run(":" + cfg.Port); err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
