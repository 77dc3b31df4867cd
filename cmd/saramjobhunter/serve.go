package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/YonghoLee79/saramjobhunter/internal/config"
	handler "github.com/YonghoLee79/saramjobhunter/internal/delivery/http"
	"github.com/YonghoLee79/saramjobhunter/internal/domain"
	"github.com/YonghoLee79/saramjobhunter/internal/scheduler"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control surface and the daily scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if err := cfg.ValidateService(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting saramjobhunter")

	gin.SetMode(cfg.Server.GinMode)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	logger = a.logger

	baseCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()
	automation := a.newController(baseCtx)

	creds := domain.Credentials{Username: cfg.Saramin.Username, Password: cfg.Saramin.Password}
	var sched *scheduler.Scheduler
	if creds.Username != "" && creds.Password != "" {
		sched = scheduler.New(cfg.Schedule.Cron, automation, a.settings, creds, cfg.Search.JobType, logger)
		if err := sched.Start(baseCtx); err != nil {
			return err
		}
	} else {
		logger.Warn("Scheduler disabled: SARAMIN_USERNAME and SARAMIN_PASSWORD are not set")
	}

	router := handler.NewRouter(&handler.RouterDeps{
		Automation:      automation,
		Settings:        a.settings,
		Logger:          logger,
		RateLimitPerMin: cfg.Server.RateLimit,
		Checks:          a.checks,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case err := <-serveErr:
		logger.Error("Server failed", zap.Error(err))
	}

	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if sched != nil {
		<-sched.Stop().Done()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := automation.Shutdown(shutdownCtx); err != nil {
		logger.Error("Active run did not finish in time", zap.Error(err))
	}

	logger.Info("Server stopped")
	return nil
}
