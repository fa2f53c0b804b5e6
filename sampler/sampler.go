// Package sampler runs the node's single control loop: read the sensor,
// stamp the reading, store it.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"sensorlog/protocol"
	"sensorlog/sensor"
)

var ErrClock = errors.New("sampler: wall clock out of range")

// Sink receives stamped readings.
type Sink interface {
	Enqueue(protocol.Slot) error
	Latest() (protocol.Slot, bool, error)
}

// Stats counts loop outcomes.
type Stats struct {
	Samples      uint64
	SensorErrors uint64
	StoreErrors  uint64
	ClockErrors  uint64
}

// Sampler polls a source on a fixed interval. No overlap, no retries.
type Sampler struct {
	src      sensor.Source
	sink     Sink
	interval time.Duration
	logger   *slog.Logger

	// Now is the wall clock used to stamp readings.
	Now func() time.Time

	samples      atomic.Uint64
	sensorErrors atomic.Uint64
	storeErrors  atomic.Uint64
	clockErrors  atomic.Uint64
}

func New(src sensor.Source, sink Sink, interval time.Duration, logger *slog.Logger) (*Sampler, error) {
	if src == nil || sink == nil {
		return nil, errors.New("sampler: source and sink required")
	}
	if interval <= 0 {
		return nil, errors.New("sampler: interval must be > 0")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sampler{src: src, sink: sink, interval: interval, logger: logger, Now: time.Now}, nil
}

// SampleOnce performs one read-stamp-store cycle.
func (s *Sampler) SampleOnce(ctx context.Context) error {
	r, err := s.src.Read(ctx)
	if err != nil {
		s.sensorErrors.Add(1)
		return fmt.Errorf("read sensor: %w", err)
	}

	sec := s.Now().Unix()
	if sec <= 0 || sec > math.MaxUint32 {
		s.clockErrors.Add(1)
		return fmt.Errorf("%w: %d", ErrClock, sec)
	}

	slot := protocol.NewSlot(uint32(sec), r.TemperatureC, r.HumidityPct)
	if err := s.sink.Enqueue(slot); err != nil {
		s.storeErrors.Add(1)
		return fmt.Errorf("store reading: %w", err)
	}
	s.samples.Add(1)
	s.logger.Debug("Reading stored", "reading", slot.String())
	return nil
}

// Run samples immediately and then on every tick until ctx is done. Cycle
// failures are logged and the loop continues.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.cycle(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				return nil
			}
		}
	}
}

func (s *Sampler) cycle(ctx context.Context) {
	if err := s.SampleOnce(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("Sample cycle failed", "err", err)
		return
	}
	latest, ok, err := s.sink.Latest()
	switch {
	case err != nil:
		s.logger.Warn("Failed to read latest reading", "err", err)
	case ok:
		s.logger.Info("Latest reading", "reading", latest.String())
	default:
		s.logger.Info("No readings stored")
	}
}

func (s *Sampler) Stats() Stats {
	return Stats{
		Samples:      s.samples.Load(),
		SensorErrors: s.sensorErrors.Load(),
		StoreErrors:  s.storeErrors.Load(),
		ClockErrors:  s.clockErrors.Load(),
	}
}
