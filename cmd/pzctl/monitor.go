package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Stream live pressure readings",
	Long: `Connect to every registered device and print pressure readings as
telemetry arrives, one line per device update. Press Ctrl+C to stop.`,
	RunE: runMonitor,
}

func runMonitor(cmd *cobra.Command, args []string) error {
	f, _, err := buildFleet(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deviceColor := color.New(color.FgCyan, color.Bold)
	valueColor := color.New(color.FgGreen)

	f.SetCallback(func(device int, readings []float64) {
		parts := make([]string, len(readings))
		for i, v := range readings {
			parts[i] = valueColor.Sprintf("%8.2f", v)
		}
		fmt.Printf("%s %s\n", deviceColor.Sprintf("[dev %d]", device), strings.Join(parts, " "))
	})

	if err := f.Start(ctx); err != nil {
		return err
	}
	defer f.Stop()

	fmt.Println("Waiting for devices... (Ctrl+C to stop)")
	<-ctx.Done()
	return nil
}
