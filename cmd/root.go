// Package cmd holds the CLI entrypoints.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hemolink/hemolink/api"
	"github.com/hemolink/hemolink/app"
	"github.com/hemolink/hemolink/config"
	"github.com/hemolink/hemolink/infra/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "hemolink",
	Short: "Blood request matching service",
	RunE:  run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, closeAll, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeAll()

	log := logger.New("main")
	handler := api.NewHandler(svc, cfg.HTTP.CreateLimit)
	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler.Router()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("http shutdown: %v", err)
		}
	}()
	go func() {
		log.Infof("listening on %s", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("http server: %v", err)
			stop()
		}
	}()

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
