package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/srg/gattd/internal/bluez"
	"github.com/srg/gattd/internal/peripheral"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Publish the configured GATT application",
	Long: `Powers the adapter, exports the configured GATT tree on the system bus,
registers the pairing agent and registers the application with BlueZ.
Advertising starts once BlueZ accepts the application. A rejected
registration is fatal.

Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	conn, err := bluez.Connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, stop := signalContext()
	defer stop()

	return peripheral.NewServer(cfg, conn, logger).Run(ctx)
}

// signalContext is cancelled by Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
