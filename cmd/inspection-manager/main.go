package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"cloud-inspection-service/internal/config"
	"cloud-inspection-service/internal/lease"
	"cloud-inspection-service/internal/manager/api"
	"cloud-inspection-service/internal/manager/services"
	"cloud-inspection-service/internal/notify"
	"cloud-inspection-service/internal/queue"
	"cloud-inspection-service/internal/store"
	"cloud-inspection-service/internal/vault"
	gorm_db "cloud-inspection-service/pkg/db"
)

func main() {
	config.LoadDotenv()
	level, err := zerolog.ParseLevel(config.Getenv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	log.Logger = zerolog.New(os.Stdout).Level(level).With().
		Timestamp().Str("service", "inspection-manager").Logger()

	appCtx, appCancel := context.WithCancel(context.Background())

	gormDB, err := gorm_db.NewGormDB()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	if err := gorm_db.AutoMigrate(gormDB, store.Models()...); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}
	log.Info().Msg("database initialized and migrated")

	vaultAdapter, err := vault.NewAdapter(gormDB, os.Getenv("VAULT_MASTER_KEY"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize credential vault")
	}

	dispatchProducer := queue.NewDispatchProducer()
	leases := lease.NewStore(gormDB, "manager-"+uuid.NewString())

	var notifier notify.Notifier
	if webhookURL := os.Getenv("NOTIFY_WEBHOOK_URL"); webhookURL != "" {
		notifier, err = notify.NewWebhookNotifier(webhookURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize webhook notifier")
		}
		log.Info().Str("url", webhookURL).Msg("webhook notifier configured")
	} else {
		notifier = &notify.LogNotifier{Log: log.Logger}
	}

	resultService := services.NewResultService(queue.NewCompletionReader(), notifier, log.Logger)
	resultService.StartConsuming(appCtx)

	tick := config.GetenvDuration("SCHEDULER_TICK", time.Minute)
	schedulerService, err := services.NewSchedulerService(appCtx, gormDB, dispatchProducer, leases, tick, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create scheduler service")
	}
	if err := schedulerService.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler service")
	}

	serverAddr := config.Getenv("SERVER_ADDR", ":8080")
	hlog.SetOutput(os.Stdout)
	hlog.SetLevel(hlog.LevelInfo)
	h := server.Default(server.WithHostPorts(serverAddr), server.WithExitWaitTime(5*time.Second))

	taskHandler := api.NewTaskHandler(gormDB, dispatchProducer, leases, log.Logger)
	executionHandler := api.NewExecutionHandler(gormDB)
	credentialHandler := api.NewCredentialHandler(gormDB, vaultAdapter)

	taskGroup := h.Group("/tasks")
	{
		taskGroup.POST("", taskHandler.CreateTask)
		taskGroup.GET("", taskHandler.GetTasks)
		taskGroup.GET("/:id", taskHandler.GetTaskByID)
		taskGroup.PUT("/:id", taskHandler.UpdateTask)
		taskGroup.DELETE("/:id", taskHandler.DeleteTask)
		taskGroup.POST("/:id/execute", taskHandler.TriggerExecution)
		taskGroup.GET("/:id/executions", executionHandler.ListExecutions)
	}
	h.GET("/executions/:id", executionHandler.GetExecution)

	credentialGroup := h.Group("/credentials")
	{
		credentialGroup.POST("", credentialHandler.CreateCredential)
		credentialGroup.GET("", credentialHandler.GetCredentials)
		credentialGroup.DELETE("/:id", credentialHandler.DeleteCredential)
	}

	adminGroup := h.Group("/admin")
	adminGroup.GET("/executions/stale", executionHandler.StaleExecutions)

	h.GET("/ping", func(c context.Context, ctxReq *app.RequestContext) {
		ctxReq.JSON(http.StatusOK, utils.H{"message": "pong"})
	})

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
		sig := <-signals
		log.Info().Str("signal", sig.String()).Msg("shutting down")

		appCancel()

		shutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer httpShutdownCancel()
		if err := h.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http server shutdown error")
		}

		schedulerService.Stop()
		resultService.Close()
		if err := dispatchProducer.Close(); err != nil {
			log.Error().Err(err).Msg("dispatch producer close error")
		}
		log.Info().Msg("inspection manager shut down")
	}()

	log.Info().Str("addr", serverAddr).Msg("inspection manager listening")
	h.Spin()
}
