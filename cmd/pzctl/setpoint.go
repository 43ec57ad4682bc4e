package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	setpointDevice  int
	setpointChannel int
)

// setpointCmd represents the setpoint command
var setpointCmd = &cobra.Command{
	Use:   "setpoint <value>",
	Short: "Send a pressure setpoint to one channel",
	Long: `Connect to the registered devices and write a pressure setpoint, in
the configured unit, to one channel of one device.`,
	Args: cobra.ExactArgs(1),
	RunE: runSetpoint,
}

func init() {
	setpointCmd.Flags().IntVarP(&setpointDevice, "dev", "d", 0, "Device index")
	setpointCmd.Flags().IntVarP(&setpointChannel, "channel", "c", 0, "Channel index")
}

func runSetpoint(cmd *cobra.Command, args []string) error {
	value, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return err
	}

	f, _, err := buildFleet(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := f.Start(ctx); err != nil {
		return err
	}
	defer f.Stop()

	if err := waitConnected(ctx, f); err != nil {
		return err
	}
	return f.SendSetpoint(setpointDevice, setpointChannel, value)
}
