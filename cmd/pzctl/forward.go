package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/piezense/piezense-go/pkg/fleet"
)

var (
	fwdSrcDevice  int
	fwdSrcChannel int
	fwdDstDevice  int
	fwdDstChannel int
	fwdScale      float64
	fwdOffset     float64
)

// forwardCmd represents the forward command
var forwardCmd = &cobra.Command{
	Use:   "forward",
	Short: "Route pressure from one channel to another",
	Long: `Install a forwarding rule copying the source channel's pressure to
the target channel's setpoint, transformed as value*scale + offset, and
keep it running until interrupted. Rules that would create a forwarding
cycle are rejected.`,
	RunE: runForward,
}

func init() {
	forwardCmd.Flags().IntVar(&fwdSrcDevice, "src-dev", 0, "Source device index")
	forwardCmd.Flags().IntVar(&fwdSrcChannel, "src-channel", 0, "Source channel index")
	forwardCmd.Flags().IntVar(&fwdDstDevice, "dst-dev", 0, "Target device index")
	forwardCmd.Flags().IntVar(&fwdDstChannel, "dst-channel", 0, "Target channel index")
	forwardCmd.Flags().Float64Var(&fwdScale, "transform-scale", 1.0, "Transform scale")
	forwardCmd.Flags().Float64Var(&fwdOffset, "transform-offset", 0, "Transform offset")
}

func runForward(cmd *cobra.Command, args []string) error {
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

	errs := f.AddForwardingBatch([]fleet.ForwardingEntry{{
		SrcDevice:  fwdSrcDevice,
		SrcChannel: fwdSrcChannel,
		DstDevice:  fwdDstDevice,
		DstChannel: fwdDstChannel,
		Scale:      fwdScale,
		Offset:     fwdOffset,
	}})
	if errs[0] != nil {
		return errs[0]
	}

	fmt.Printf("Forwarding %d/%d -> %d/%d (Ctrl+C to stop)\n",
		fwdSrcDevice, fwdSrcChannel, fwdDstDevice, fwdDstChannel)
	<-ctx.Done()
	return nil
}
