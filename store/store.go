package store

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"sensorlog/config"
	"sensorlog/protocol"
	"sensorlog/region"
	"sensorlog/ringdb"
)

const (
	dirMode = 0o755

	RecordsFile = "records.bin"
	MetaFile    = "meta.bin"
)

// ErrIncompatibleFlash is returned when a flash partition was laid out for a
// different capacity and a reset was not allowed.
var ErrIncompatibleFlash = errors.New("flash partition layout does not match configured capacity")

// StoreStats holds engine counters plus wrapper details.
type StoreStats struct {
	ringdb.Stats
	Backend string
	Uptime  string
}

// Store wraps ringdb.Engine with the regions it was opened over.
type Store struct {
	*ringdb.Engine
	logger    *slog.Logger
	startTime time.Time
	backend   string
	location  string
	device    io.Closer // flash partition; nil for the file backend
}

// NewStore opens the ring log described by cfg. Relative paths resolve
// against homeDir.
func NewStore(cfg *config.Config, homeDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	opts := ringdb.Options{
		Capacity:             cfg.Capacity,
		Logger:               logger,
		AllowClockRegression: cfg.AllowClockRegression,
	}

	switch cfg.Backend {
	case config.BackendFile, "":
		return openFileStore(config.ResolvePath(homeDir, cfg.DataDir), opts)
	case config.BackendFlash:
		return openFlashStore(config.ResolvePath(homeDir, cfg.Flash.Device), cfg.Flash, opts)
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// OpenDir opens a file-backed ring log in dir.
func OpenDir(dir string, opts ringdb.Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return openFileStore(dir, opts)
}

func openFileStore(dir string, opts ringdb.Options) (*Store, error) {
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, err
	}
	data, err := region.OpenFile(filepath.Join(dir, RecordsFile))
	if err != nil {
		return nil, fmt.Errorf("open records: %w", err)
	}
	meta, err := region.OpenFile(filepath.Join(dir, MetaFile))
	if err != nil {
		data.Close()
		return nil, fmt.Errorf("open metadata: %w", err)
	}

	e, err := ringdb.Open(data, meta, opts)
	if err != nil {
		data.Close()
		meta.Close()
		return nil, err
	}
	opts.Logger.Info("Ring log opened", "backend", config.BackendFile, "dir", dir)
	return &Store{
		Engine:    e,
		logger:    opts.Logger,
		startTime: time.Now(),
		backend:   config.BackendFile,
		location:  dir,
	}, nil
}

// FlashLayout returns the data length a partition needs for capacity
// records: the record region followed by the metadata region.
func FlashLayout(capacity int) (records, meta, total int64) {
	if capacity == 0 {
		capacity = protocol.DefaultCapacity
	}
	records = protocol.RecordRegionSize(capacity)
	meta = protocol.MetaRegionSize
	return records, meta, records + meta
}

func openFlashStore(path string, fc config.FlashConfig, opts ringdb.Options) (*Store, error) {
	dev, err := region.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open flash device: %w", err)
	}

	recSize, metaSize, need := FlashLayout(opts.Capacity)
	sector := fc.SectorSize
	partition := region.Align(need+sector, sector)

	// Image files grow to fit; real devices are what they are.
	if dev.Regular() && dev.Size() < partition {
		if err := dev.Truncate(partition); err != nil {
			dev.Close()
			return nil, fmt.Errorf("resize flash image: %w", err)
		}
	}

	reset := false
	if h, err := region.TouchFlashHeader(dev); err == nil && int64(h.Size) != partition {
		if !fc.ResetIfIncompatible {
			dev.Close()
			return nil, fmt.Errorf("%w: header size %d, need %d", ErrIncompatibleFlash, h.Size, partition)
		}
		opts.Logger.Warn("Flash layout incompatible, resetting partition", "header_size", h.Size, "need", partition)
		reset = true
	}

	fl, err := region.OpenFlash(dev, sector, need, reset, opts.Logger)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("open flash partition: %w", err)
	}
	data, err := region.NewSub(fl, 0, recSize)
	if err != nil {
		fl.Close()
		return nil, err
	}
	meta, err := region.NewSub(fl, recSize, metaSize)
	if err != nil {
		fl.Close()
		return nil, err
	}

	e, err := ringdb.Open(data, meta, opts)
	if err != nil {
		fl.Close()
		return nil, err
	}
	opts.Logger.Info("Ring log opened", "backend", config.BackendFlash, "device", path)
	return &Store{
		Engine:    e,
		logger:    opts.Logger,
		startTime: time.Now(),
		backend:   config.BackendFlash,
		location:  path,
		device:    fl,
	}, nil
}

// Location is the data directory or flash device path.
func (s *Store) Location() string { return s.location }

func (s *Store) Backend() string { return s.backend }

// Close closes the engine and, for flash, the underlying partition.
func (s *Store) Close() error {
	s.logger.Info("Closing ring log store", "location", s.location)
	err := s.Engine.Close()
	if s.device != nil {
		err = errors.Join(err, s.device.Close())
		s.device = nil
	}
	return err
}

// Stats returns usage statistics.
func (s *Store) Stats() StoreStats {
	return StoreStats{
		Stats:   s.Engine.Stats(),
		Backend: s.backend,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	}
}
