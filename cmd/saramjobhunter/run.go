package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/YonghoLee79/saramjobhunter/internal/control"
	"github.com/YonghoLee79/saramjobhunter/internal/domain"
)

func runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run today's applications in the foreground",
		Long: `Run today's applications in the foreground with the configured keywords.
The first interrupt stops after the current posting; a second one aborts the run.
With MANUAL_LOGIN_FALLBACK enabled, press Enter once you have logged in by hand.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if err := cfg.Validate(); err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			baseCtx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			automation := a.newController(baseCtx)

			if _, err := automation.Start(control.StartRequest{
				Username:        cfg.Saramin.Username,
				Password:        cfg.Saramin.Password,
				Keywords:        cfg.Search.Keywords,
				Location:        cfg.Search.Location,
				JobType:         cfg.Search.JobType,
				MaxApplications: cfg.Search.MaxApplications,
				MaxPages:        cfg.Search.MaxPages,
			}); err != nil {
				return err
			}

			if cfg.Login.ManualFallback {
				go resumeOnEnter(os.Stdin, automation, a.logger)
			}

			quit := make(chan os.Signal, 2)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)
			go func() {
				<-quit
				a.logger.Info("Interrupt received, stopping after the current posting")
				automation.Stop()
				<-quit
				a.logger.Warn("Second interrupt received, aborting the run")
				cancel()
			}()

			if err := automation.Wait(context.Background()); err != nil {
				return err
			}

			st := automation.Status()
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(st); err != nil {
				return err
			}
			if st.LastError != nil {
				return errors.New(*st.LastError)
			}
			return nil
		},
	}
}

// resumeOnEnter resumes a run waiting on a manual login whenever a line is read.
func resumeOnEnter(r io.Reader, automation *control.Controller, logger *zap.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := automation.ResumeManualLogin(); err != nil {
			if errors.Is(err, domain.ErrNotAwaitingManualLogin) {
				continue
			}
			logger.Warn("Resume manual login failed", zap.Error(err))
		}
	}
}
