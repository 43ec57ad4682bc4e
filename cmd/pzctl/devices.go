package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/piezense/piezense-go/internal/transport/goble"
	"github.com/piezense/piezense-go/pkg/config"
	"github.com/piezense/piezense-go/pkg/fleet"
)

var (
	deviceFlags []string
	configPath  string
	scaleFlag   float64
)

// parseDeviceFlag splits a "Name:channels" device spec.
func parseDeviceFlag(spec string) (string, int, error) {
	idx := strings.LastIndex(spec, ":")
	if idx <= 0 || idx == len(spec)-1 {
		return "", 0, fmt.Errorf("invalid device spec %q: expected \"Name:channels\"", spec)
	}
	name := spec[:idx]
	channels, err := strconv.Atoi(spec[idx+1:])
	if err != nil || channels <= 0 {
		return "", 0, fmt.Errorf("invalid channel count in device spec %q", spec)
	}
	return name, channels, nil
}

// buildFleet assembles a fleet from the global flags and registers every
// --device entry.
func buildFleet(cmd *cobra.Command) (*fleet.Fleet, *logrus.Logger, error) {
	logger, err := configureLogger(cmd)
	if err != nil {
		return nil, nil, err
	}

	cfg := config.Default()
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
	}
	if scaleFlag > 0 {
		cfg.ScaleFactor = scaleFlag
	}

	if len(deviceFlags) == 0 {
		return nil, nil, fmt.Errorf("no devices given: use --device \"Name:channels\" at least once")
	}

	f := fleet.New(cfg, goble.NewTransport(logger), logger)
	for _, spec := range deviceFlags {
		name, channels, err := parseDeviceFlag(spec)
		if err != nil {
			return nil, nil, err
		}
		if _, err := f.RegisterDevice(name, channels); err != nil {
			return nil, nil, err
		}
	}
	return f, logger, nil
}

// waitConnected polls until every device is connected or the context
// ends.
func waitConnected(ctx context.Context, f *fleet.Fleet) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		if f.IsEverythingConnected() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
