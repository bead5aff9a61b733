package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"cloud-inspection-service/internal/config"
	"cloud-inspection-service/internal/events"
	"cloud-inspection-service/internal/lease"
	"cloud-inspection-service/internal/queue"
	"cloud-inspection-service/internal/store"
	"cloud-inspection-service/internal/vault"
	"cloud-inspection-service/internal/worker"
	"cloud-inspection-service/internal/worker/checkers"
	gorm_db "cloud-inspection-service/pkg/db"
)

func main() {
	config.LoadDotenv()
	level, err := zerolog.ParseLevel(config.Getenv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	workerID := "worker-" + uuid.NewString()
	log.Logger = zerolog.New(os.Stdout).Level(level).With().
		Timestamp().Str("service", "inspection-worker").Str("worker_id", workerID).Logger()

	gormDB, err := gorm_db.NewGormDB()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	if err := gorm_db.AutoMigrate(gormDB, store.Models()...); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	vaultAdapter, err := vault.NewAdapter(gormDB, os.Getenv("VAULT_MASTER_KEY"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize credential vault")
	}

	checkers.RegisterDefaults()

	reader := queue.NewDispatchReader()
	defer reader.Close()
	completions := queue.NewCompletionProducer()
	defer completions.Close()

	runner := &worker.Runner{
		DB:          gormDB,
		Leases:      lease.NewStore(gormDB, workerID),
		Vault:       vaultAdapter,
		Completions: completions,
		// Lease TTL must exceed the worst-case checker duration; its expiry
		// exists only to recover from a crashed worker.
		CheckerTimeout: config.GetenvDuration("CHECKER_TIMEOUT", time.Minute),
		LeaseTTL:       config.GetenvDuration("LEASE_TTL", 5*time.Minute),
		Log:            log.Logger,
	}

	concurrency := config.GetenvInt("WORKER_CONCURRENCY", 4)
	slots := make(chan struct{}, concurrency)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
		sig := <-signals
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	// In-flight executions run on their own context so a shutdown signal
	// drains them instead of aborting them mid-run.
	runCtx, runCancel := context.WithCancel(context.Background())

	log.Info().Int("concurrency", concurrency).Msg("inspection worker listening")
	for {
		select {
		case <-ctx.Done():
			// Drain in-flight executions before exiting.
			for i := 0; i < concurrency; i++ {
				slots <- struct{}{}
			}
			runCancel()
			log.Info().Msg("inspection worker stopped")
			return
		default:
			readCtx, readCancel := context.WithTimeout(ctx, time.Second)
			m, err := reader.ReadMessage(readCtx)
			readCancel()
			if err == context.DeadlineExceeded {
				continue
			}
			if err == context.Canceled {
				continue
			}
			if err == io.EOF {
				log.Info().Msg("dispatch reader closed")
				cancel()
				continue
			}
			if err != nil {
				log.Error().Err(err).Msg("dispatch read error")
				time.Sleep(time.Second)
				continue
			}

			var req events.ExecutionRequest
			if err := json.Unmarshal(m.Value, &req); err != nil {
				log.Error().Err(err).Str("value", string(m.Value)).Msg("bad execution request payload")
				continue
			}
			slots <- struct{}{}
			go func(req events.ExecutionRequest) {
				defer func() { <-slots }()
				runner.Run(runCtx, req)
			}(req)
		}
	}
}
