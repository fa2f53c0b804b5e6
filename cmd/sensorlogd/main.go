package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"sensorlog/config"
	"sensorlog/metrics"
	"sensorlog/sampler"
	"sensorlog/sensor"
	"sensorlog/store"
)

var (
	initFlag   = flag.Bool("init", false, "Write a sample configuration into -home, then exit")
	homeDir    = flag.String("home", "sldata", "Home directory for configuration and data")
	configFile = flag.String("config", "", "Config file (default <home>/"+config.SampleFileName+")")
)

func main() {
	flag.Parse()

	if *initFlag {
		path, err := config.WriteSample(*homeDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Initialization failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Sample configuration written to %s\n", path)
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	path := *configFile
	if path == "" {
		path = filepath.Join(*homeDir, config.SampleFileName)
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("Failed to load config", "path", path, "err", err)
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		logger.Error("Invalid config", "path", path, "err", err)
		os.Exit(1)
	}
	if cfg.Debug {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	st, err := store.NewStore(cfg, *homeDir, logger.With("component", "store"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	rep := st.LastRecovery()
	logger.Info("Ring log ready",
		"backend", st.Backend(),
		"location", st.Location(),
		"records", st.Len(),
		"capacity", st.Capacity(),
		"recovery", rep.Mode,
	)

	src, err := sensor.Open(cfg.Sensor)
	if err != nil {
		return fmt.Errorf("open sensor: %w", err)
	}
	defer src.Close()

	smp, err := sampler.New(src, st, cfg.SampleInterval(), logger.With("component", "sampler"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		metrics.StartMetricsServer(ctx, cfg.MetricsAddr, st.Engine, smp, logger.With("component", "metrics"))
	}

	logger.Info("Sampling", "sensor", cfg.Sensor.Kind, "interval", cfg.SampleInterval())
	err = smp.Run(ctx)
	logger.Info("Shutting down...")
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
