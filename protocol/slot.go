package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Representable measurement bounds (tenths packed into one byte).
const (
	MinTemperatureC = -12.8
	MaxTemperatureC = 12.7
	MinHumidityPct  = 0.0
	MaxHumidityPct  = 25.5
)

// Slot is one measurement: a unix timestamp plus temperature and humidity in tenths.
type Slot struct {
	Timestamp   uint32 // Unix seconds.
	Temperature int8   // Tenths of a degree Celsius.
	Humidity    uint8  // Tenths of a percent.
}

// NewSlot converts real units to tenths, saturating at the representable bounds.
func NewSlot(timestamp uint32, temperatureC, humidityPct float64) Slot {
	return Slot{
		Timestamp:   timestamp,
		Temperature: int8(saturate(temperatureC*10, math.MinInt8, math.MaxInt8)),
		Humidity:    uint8(saturate(humidityPct*10, 0, math.MaxUint8)),
	}
}

func saturate(v, lo, hi float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	// Truncation toward zero, matching a float-to-int cast.
	return math.Trunc(v)
}

// TemperatureC returns the temperature in degrees Celsius.
func (s Slot) TemperatureC() float64 {
	return float64(s.Temperature) / 10
}

// HumidityPct returns the relative humidity in percent.
func (s Slot) HumidityPct() float64 {
	return float64(s.Humidity) / 10
}

func (s Slot) String() string {
	return fmt.Sprintf("Slot{ts: %d, temperature: %.1f°C, humidity: %.1f%%}", s.Timestamp, s.TemperatureC(), s.HumidityPct())
}

func (s Slot) put(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], s.Timestamp)
	buf[4] = byte(s.Temperature)
	buf[5] = s.Humidity
}

func slotFrom(buf []byte) Slot {
	return Slot{
		Timestamp:   binary.LittleEndian.Uint32(buf[0:4]),
		Temperature: int8(buf[4]),
		Humidity:    buf[5],
	}
}
