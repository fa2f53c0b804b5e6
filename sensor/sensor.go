// Package sensor acquires temperature and humidity readings.
package sensor

import (
	"context"
	"errors"
	"fmt"

	"sensorlog/config"
)

var ErrUnknownKind = errors.New("sensor: unknown kind")

// Reading is one measurement in engineering units. It carries no timestamp;
// the caller stamps it when storing.
type Reading struct {
	TemperatureC float64
	HumidityPct  float64
}

func (r Reading) String() string {
	return fmt.Sprintf("%.1f°C %.1f%%", r.TemperatureC, r.HumidityPct)
}

// Source produces readings on demand.
type Source interface {
	Read(ctx context.Context) (Reading, error)
	Close() error
}

// Open builds the source described by cfg.
func Open(cfg config.SensorConfig) (Source, error) {
	switch cfg.Kind {
	case config.SensorSimulated, "":
		return NewSimulated(cfg.Seed), nil
	case config.SensorModbusTCP, config.SensorModbusRTU:
		return NewModbus(cfg)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
}
