package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pzctl",
	Short: "PieZense pneumatic fleet control tool",
	Long: `Command-line tool for a fleet of PieZense pneumatic controllers
reachable over Bluetooth Low Energy:

- Monitor live multi-channel pressure telemetry
- Send pressure setpoints and channel configuration
- Route (optionally transformed) pressure between channels
- Execute full mode transitions from a YAML mode file

Devices are addressed by their advertised Bluetooth name and a declared
channel count, e.g. --device "Pod-A:2".`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(setpointCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(forwardCmd)
	rootCmd.AddCommand(modeCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringSliceVar(&deviceFlags, "device", nil, `Device to register as "Name:channels" (repeatable)`)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().Float64Var(&scaleFlag, "scale", 0, "Pressure scale factor override (1.0 = mbar)")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
