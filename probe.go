package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gimbal-tracker/internal/metrics"
)

func probeCmd() *cobra.Command {
	var (
		configPath string
		gimbalHost string
		serialDev  string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Connect to the gimbal and print what it reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("gimbal") {
				cfg.Gimbal.Host = gimbalHost
			}
			if cmd.Flags().Changed("serial") {
				cfg.Gimbal.SerialDevice = serialDev
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			g, err := openGimbal(ctx, cfg.Gimbal, metrics.Discard())
			if err != nil {
				return err
			}
			defer g.Close()

			report := func(name string, v any, ok bool, err error) {
				switch {
				case err != nil:
					fmt.Printf("  %-16s error: %v\n", name+":", err)
				case !ok:
					fmt.Printf("  %-16s no answer\n", name+":")
				default:
					fmt.Printf("  %-16s %v\n", name+":", v)
				}
			}

			fmt.Printf("Gimbal at %s\n", target(cfg.Gimbal.SerialDevice, cfg.Gimbal.Address()))
			fw, ok, err := g.FirmwareVersion(ctx)
			report("Firmware", fw, ok, err)
			hw, ok, err := g.HardwareID(ctx)
			report("Hardware ID", hw, ok, err)
			att, ok, err := g.Attitude(ctx)
			report("Attitude", att, ok, err)
			maxZoom, ok, err := g.MaxZoom(ctx)
			report("Max zoom", fmt.Sprintf("%.1fx", maxZoom), ok, err)
			zoom, ok, err := g.CurrentZoom(ctx)
			report("Zoom", fmt.Sprintf("%.1fx", zoom), ok, err)
			mode, ok, err := g.WorkingMode(ctx)
			report("Working mode", mode, ok, err)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&gimbalHost, "gimbal", "", "Gimbal IP address")
	flags.StringVar(&serialDev, "serial", "", "Gimbal serial device (replaces TCP)")
	flags.DurationVar(&timeout, "timeout", 15*time.Second, "Overall probe timeout")

	return cmd
}

func target(serial, addr string) string {
	if serial != "" {
		return serial
	}
	return addr
}
