package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/piezense/piezense-go/pkg/fleet"
)

// modeCmd represents the mode command
var modeCmd = &cobra.Command{
	Use:   "mode <mode-file.yaml>",
	Short: "Execute a mode transition",
	Long: `Load a mode specification from a YAML file and execute it as an
ordered sequence: clear forwarding, send reset_config, send setpoints,
wait, install forwarding, send final_config.

Example mode file:

    reset_config:
      - {device: 0, channel: 0, values: {set_act_mode: 1}}
    setpoints:
      - {device: 0, channel: 0, value: 1013}
    wait_time: 2s
    forwarding:
      - {src_device: 0, src_channel: 0, dst_device: 1, dst_channel: 0, scale: 2}
    final_config:
      - {device: 1, channel: 0, values: {set_act_mode: 2}}`,
	Args: cobra.ExactArgs(1),
	RunE: runMode,
}

func runMode(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read mode file: %w", err)
	}
	var spec fleet.ModeSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return fmt.Errorf("failed to parse mode file: %w", err)
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

	result := f.SetMode(ctx, spec)
	printStepErrors("reset_config", result.ResetErrors)
	printStepErrors("setpoints", result.SetpointErrors)
	printStepErrors("forwarding", result.ForwardingErrors)
	printStepErrors("final_config", result.FinalErrors)

	switch {
	case result.Interrupted:
		return fmt.Errorf("mode transition interrupted")
	case result.Failed():
		return fmt.Errorf("mode transition completed with failures")
	default:
		color.Green("Mode transition completed")
		return nil
	}
}

func printStepErrors(step string, errs []error) {
	for i, err := range errs {
		if err != nil {
			color.Red("%s[%d]: %s", step, i, FormatUserError(err))
		}
	}
}
