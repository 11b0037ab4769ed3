package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hemolink/hemolink/app"
	"github.com/hemolink/hemolink/config"
	"github.com/hemolink/hemolink/infra/logger"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one expiration and escalation sweep, then exit",
	RunE:  sweepOnce,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func sweepOnce(cmd *cobra.Command, args []string) error {
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

	expired, escalated, err := svc.SweepExpirations(ctx)
	if err != nil {
		return err
	}
	logger.New("sweep").Infof("expired=%d escalated=%d", len(expired), len(escalated))
	return nil
}
