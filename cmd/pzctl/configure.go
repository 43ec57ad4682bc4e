package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/piezense/piezense-go/internal/telemetry"
)

var (
	cfgDevice  int
	cfgChannel int
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config <key=value>...",
	Short: "Send channel configuration",
	Long: `Write one or more key=value configuration entries to one channel,
e.g. "set_act_mode=1 set_pid_p=0.5".

Supported keys: ` + strings.Join(telemetry.ConfigKeys(), ", ") + `.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConfig,
}

func init() {
	configCmd.Flags().IntVarP(&cfgDevice, "dev", "d", 0, "Device index")
	configCmd.Flags().IntVarP(&cfgChannel, "channel", "c", 0, "Channel index")
}

func runConfig(cmd *cobra.Command, args []string) error {
	values := make(map[string]float64, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("invalid config entry %q: expected key=value", arg)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid value in %q: %w", arg, err)
		}
		values[key] = v
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
	return f.SendConfig(cfgDevice, cfgChannel, values)
}
