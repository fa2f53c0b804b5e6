package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sensorlog/config"
	"sensorlog/export"
	"sensorlog/region"
	"sensorlog/store"
)

type Config struct {
	Home       string
	ConfigPath string
	Sink       string
	Out        string
	From       uint
	To         uint
	Poll       time.Duration
}

func main() {
	cfg := parseFlags()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	logger.Info("Starting sensorlog-export", "config", cfg)

	ctx, cancel := context.WithCancel(context.Background())
	setupSignalHandler(cancel, logger)

	sink, err := export.OpenSink(cfg.Sink, cfg.Out)
	if err != nil {
		logger.Error("Failed to open sink", "sink", cfg.Sink, "path", cfg.Out, "error", err)
		os.Exit(1)
	}
	defer sink.Close()

	if cfg.Poll <= 0 {
		if err := exportOnce(ctx, cfg, sink, logger); err != nil {
			logger.Error("Export failed", "error", err)
			os.Exit(1)
		}
		return
	}

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()
	for {
		if err := exportOnce(ctx, cfg, sink, logger); err != nil {
			if errors.Is(err, region.ErrLocked) {
				logger.Warn("Ring log busy, retrying next poll")
			} else {
				logger.Error("Export failed", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			logger.Info("Shutdown complete")
			return
		case <-ticker.C:
		}
	}
}

func parseFlags() Config {
	c := Config{}
	flag.StringVar(&c.Home, "home", "sldata", "Home directory of the ring log")
	flag.StringVar(&c.ConfigPath, "config", config.SampleFileName, "Config file, relative to -home")
	flag.StringVar(&c.Sink, "sink", export.KindSQLite, "Sink kind: sqlite or leveldb")
	flag.StringVar(&c.Out, "out", "readings.db", "Sink path")
	flag.UintVar(&c.From, "from", 0, "Lowest timestamp to export")
	flag.UintVar(&c.To, "to", 0, "Highest timestamp to export (0 = no bound)")
	flag.DurationVar(&c.Poll, "poll", 0, "Re-export on this interval (0 exports once)")
	flag.Parse()
	return c
}

func exportOnce(ctx context.Context, cfg Config, sink export.Sink, logger *slog.Logger) error {
	rc, err := config.Load(config.ResolvePath(cfg.Home, cfg.ConfigPath))
	if err != nil {
		return err
	}
	if err := config.Validate(rc); err != nil {
		return err
	}
	st, err := store.NewStore(rc, cfg.Home, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	start := time.Now()
	n, err := export.Export(ctx, st, sink, export.Filter{From: uint32(cfg.From), To: uint32(cfg.To)})
	if err != nil {
		return err
	}
	total, err := sink.Count(ctx)
	if err != nil {
		return err
	}
	logger.Info("Export complete", "records", n, "archived", total, "duration", time.Since(start))
	return nil
}

func setupSignalHandler(cancel context.CancelFunc, logger *slog.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		logger.Info("Received shutdown signal")
		cancel()
	}()
}
