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

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <request-id>",
	Short: "Fan notifications out for one request",
	Args:  cobra.ExactArgs(1),
	RunE:  dispatchRequest,
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
}

func dispatchRequest(cmd *cobra.Command, args []string) error {
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

	rep, err := svc.Dispatch(ctx, args[0])
	if err != nil {
		return err
	}
	logger.New("dispatch").Infof("request %s: notified=%d rate_limited=%d failed=%d degraded=%v",
		rep.RequestID, rep.Notified(), rep.RateLimited(), rep.Failed(), rep.Degraded)
	return nil
}
