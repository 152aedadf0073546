package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"gimbal-tracker/internal/app"
	"gimbal-tracker/internal/config"
	"gimbal-tracker/internal/frames"
	"gimbal-tracker/internal/journal"
	"gimbal-tracker/internal/metrics"
	"gimbal-tracker/internal/ptz"
	"gimbal-tracker/internal/server"
	"gimbal-tracker/internal/siyi"
	"gimbal-tracker/internal/tracking"
	"gimbal-tracker/internal/vision"
	"gimbal-tracker/internal/webrtc"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		listenAddr string
		rtspURL    string
		gimbalHost string
		serialDev  string
		backend    string
		iceIPs     string
		journalDB  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tracker and the operator server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("listen") {
				cfg.Server.ListenAddr = listenAddr
			}
			if flags.Changed("rtsp") {
				cfg.Camera.URL = rtspURL
			}
			if flags.Changed("gimbal") {
				cfg.Gimbal.Host = gimbalHost
			}
			if flags.Changed("serial") {
				cfg.Gimbal.SerialDevice = serialDev
			}
			if flags.Changed("backend") {
				cfg.Tracking.Backend = backend
			}
			if flags.Changed("ice-ips") {
				cfg.Server.ICEIPs = iceIPs
			}
			if flags.Changed("journal") {
				cfg.Journal.Path = journalDB
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration:\n%w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&listenAddr, "listen", ":8080", "HTTP listen address")
	flags.StringVar(&rtspURL, "rtsp", "", "RTSP URL for camera stream")
	flags.StringVar(&gimbalHost, "gimbal", "", "Gimbal IP address")
	flags.StringVar(&serialDev, "serial", "", "Gimbal serial device (replaces TCP)")
	flags.StringVar(&backend, "backend", "", "Tracking backend (visual or identity)")
	flags.StringVar(&iceIPs, "ice-ips", "", "Comma-separated list of static server IPs (enables ICE-lite mode)")
	flags.StringVar(&journalDB, "journal", "", "SQLite journal path")

	return cmd
}

// openGimbal connects over the serial port when one is configured, TCP
// otherwise.
func openGimbal(ctx context.Context, cfg config.GimbalConfig, m *metrics.Metrics) (*siyi.Gimbal, error) {
	linkCfg := siyi.LinkConfig{
		DialTimeout:       cfg.DialTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Metrics:           m,
	}

	var (
		link *siyi.Link
		err  error
	)
	if cfg.SerialDevice != "" {
		link, err = siyi.OpenSerial(cfg.SerialDevice, cfg.SerialBaud, linkCfg)
	} else {
		link, err = siyi.Dial(ctx, cfg.Address(), linkCfg)
	}
	if err != nil {
		return nil, err
	}
	return siyi.NewGimbal(link, cfg.RequestTimeout), nil
}

func serve(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// The server and video keep running without the gimbal.
	var (
		gimbal    ptz.Controller = ptz.Offline{}
		telemetry ptz.Telemetry
		online    bool
	)
	if g, err := openGimbal(ctx, cfg.Gimbal, m); err != nil {
		log.Printf("Warning: %v; continuing offline", err)
	} else {
		gimbal, telemetry, online = g, g, true
	}
	defer gimbal.Close()

	capture, err := vision.OpenCapture(cfg.Camera)
	if err != nil {
		return err
	}
	defer capture.Close()

	var detector tracking.Detector
	if cfg.Detection.Enabled {
		yolo, err := vision.NewYOLO(cfg.Detection, m)
		if err != nil {
			return err
		}
		defer yolo.Close()
		detector = yolo
	}

	factory, err := vision.NewVisualFactory(cfg.Tracking.Algorithm)
	if err != nil {
		return err
	}
	tracker, err := tracking.New(cfg.Tracking, tracking.Options{
		Visual:   factory,
		Detector: detector,
		Metrics:  m,
	})
	if err != nil {
		return err
	}

	var recorder app.Recorder
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer j.Close()
		recorder = j
	}

	source := frames.NewSource(m)
	defer source.Close()

	loop, err := app.New(cfg, app.Options{
		Gimbal:    gimbal,
		Frames:    source,
		Tracker:   tracker,
		Detector:  detector,
		Telemetry: telemetry,
		Journal:   recorder,
		Metrics:   m,
	})
	if err != nil {
		return err
	}

	relayURL := cfg.Server.RTSPURL
	if relayURL == "" {
		relayURL = cfg.Camera.URL
	}
	rtcCfg := webrtc.DefaultConfig()
	rtcCfg.PublicIPs = webrtc.ParseIPs(cfg.Server.ICEIPs)

	srv, err := server.New(server.Config{
		ListenAddr:     cfg.Server.ListenAddr,
		RTSPURL:        relayURL,
		WebRTC:         rtcCfg,
		ClickTolerance: cfg.Tracking.ClickTolerance,
		GimbalOnline:   online,
		Gatherer:       reg,
	}, loop, staticFiles)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	log.Printf("Gimbal tracker %s", version)
	log.Printf("  Listen: %s", cfg.Server.ListenAddr)
	log.Printf("  Camera: %s", cfg.Camera.URL)
	log.Printf("  Backend: %s (%s)", cfg.Tracking.Backend, cfg.Tracking.Algorithm)
	if len(rtcCfg.PublicIPs) > 0 {
		log.Printf("  WebRTC: ICE-lite mode enabled with IPs: %v", rtcCfg.PublicIPs)
	}

	errCh := make(chan error, 3)
	go func() {
		errCh <- source.Run(ctx, capture, time.Second)
	}()
	go func() {
		errCh <- loop.Run(ctx)
	}()
	go func() {
		errCh <- srv.Start()
	}()

	pending := 3
	var runErr error
	select {
	case <-ctx.Done():
		log.Println("Shutting down...")
	case runErr = <-errCh:
		pending--
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}

	// The loop stops the gimbal on exit; wait for it before closing the link.
	for ; pending > 0; pending-- {
		select {
		case err := <-errCh:
			if runErr == nil {
				runErr = err
			}
		case <-shutdownCtx.Done():
			return errors.New("timed out waiting for shutdown")
		}
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}
