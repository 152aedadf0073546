package main

import (
	"embed"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gimbal-tracker/internal/config"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

//go:embed web/*
var staticFiles embed.FS

func main() {
	rootCmd := &cobra.Command{
		Use:   "gimbal-tracker",
		Short: "Keep a SIYI gimbal pointed at a selected target",
		Long: `gimbal-tracker drives a SIYI gimbal camera so that a target picked
by an operator stays centred in the video.

Targets are selected from YOLO detections, by dragging a box, or by
holding a point. The operator page and REST API are served over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		probeCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// loadConfig reads path over the defaults, or returns the defaults when
// path is empty.
func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
