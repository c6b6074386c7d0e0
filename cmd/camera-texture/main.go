package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/internal/service"
)

// Version information
const version = "v0.1.0"

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	device := flag.String("device", "", "Override capture device (e.g. /dev/video1)")
	testSource := flag.Bool("test-source", false, "Use videotestsrc instead of a camera")
	snapshotDir := flag.String("snapshots", "", "Override scene snapshot directory")
	preview := flag.String("preview", "", "Enable preview server on this address (e.g. :8090)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	jsonLogs := flag.Bool("json", false, "Log as JSON")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("camera-texture %s\n", version)
		os.Exit(0)
	}

	// Setup structured logger
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, handlerOpts)
	if *jsonLogs {
		handler = slog.NewJSONHandler(os.Stdout, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))

	cfg, err := loadConfig(*configPath, *device, *testSource, *snapshotDir, *preview)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("starting camera-texture",
		"version", version,
		"config", *configPath,
		"debug", *debug,
	)

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	svc, err := service.New(cfg)
	if err != nil {
		slog.Error("failed to create camera-texture service", "error", err)
		os.Exit(1)
	}

	// Run service in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- svc.Run(ctx) // Always send, even if nil
	}()

	// Wait for shutdown signal or error
	var runErr error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
		runErr = <-errChan
	case runErr = <-errChan:
		cancel()
	}
	if runErr != nil {
		slog.Error("service error", "error", runErr)
	}

	// Graceful shutdown
	shutdownTimeout := svc.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
		os.Exit(1)
	}
	if runErr != nil {
		os.Exit(1)
	}

	slog.Info("camera-texture stopped successfully")
}

// loadConfig reads the configuration file (or the defaults) and applies
// command line overrides before validating.
func loadConfig(path, device string, testSource bool, snapshotDir, preview string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	if device != "" {
		cfg.Capture.Source = "v4l2"
		cfg.Capture.Device = device
	}
	if testSource {
		cfg.Capture.Source = "test"
	}
	if snapshotDir != "" {
		cfg.Display.SnapshotDir = snapshotDir
	}
	if preview != "" {
		cfg.Preview.Enabled = true
		cfg.Preview.Listen = preview
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
