package main

import (
	"github.com/spf13/cobra"

	"github.com/srg/gattd/internal/bluez"
	"github.com/srg/gattd/internal/peripheral"
)

// agentCmd represents the agent command
var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run only the pairing agent and the connection policy",
	Long: `Registers the configured pairing agent with BlueZ and keeps the adapter
hidden while a central is connected, without publishing any GATT service.`,
	Args: cobra.NoArgs,
	RunE: runAgent,
}

func runAgent(cmd *cobra.Command, args []string) error {
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

	return peripheral.NewServer(cfg, conn, logger).RunAgent(ctx)
}
