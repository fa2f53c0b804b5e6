package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sensorlog/protocol"
)

const (
	BackendFile  = "file"
	BackendFlash = "flash"

	SensorSimulated = "simulated"
	SensorModbusTCP = "modbus-tcp"
	SensorModbusRTU = "modbus-rtu"

	RegisterInput   = "input"
	RegisterHolding = "holding"

	SampleFileName = "sensorlog.json"
)

// Config represents the node configuration.
type Config struct {
	DataDir              string       `json:"data_dir" yaml:"data_dir"`
	Backend              string       `json:"backend" yaml:"backend"`
	Capacity             int          `json:"capacity" yaml:"capacity"`
	Flash                FlashConfig  `json:"flash" yaml:"flash"`
	SampleIntervalMs     int          `json:"sample_interval_ms" yaml:"sample_interval_ms"`
	AllowClockRegression bool         `json:"allow_clock_regression" yaml:"allow_clock_regression"`
	Sensor               SensorConfig `json:"sensor" yaml:"sensor"`
	MetricsAddr          string       `json:"metrics_addr" yaml:"metrics_addr"`
	Debug                bool         `json:"debug" yaml:"debug"`
}

// FlashConfig describes a raw partition backend.
type FlashConfig struct {
	Device              string `json:"device" yaml:"device"`
	SectorSize          int64  `json:"sector_size" yaml:"sector_size"`
	ResetIfIncompatible bool   `json:"reset_if_incompatible" yaml:"reset_if_incompatible"`
}

// SensorConfig selects and parameterizes the acquisition source.
type SensorConfig struct {
	Kind     string `json:"kind" yaml:"kind"`
	Endpoint string `json:"endpoint" yaml:"endpoint"` // host:port for TCP, device path for RTU

	BaudRate int    `json:"baud_rate" yaml:"baud_rate"`
	DataBits int    `json:"data_bits" yaml:"data_bits"`
	Parity   string `json:"parity" yaml:"parity"`
	StopBits int    `json:"stop_bits" yaml:"stop_bits"`

	UnitID              uint8   `json:"unit_id" yaml:"unit_id"`
	RegisterType        string  `json:"register_type" yaml:"register_type"`
	TemperatureRegister uint16  `json:"temperature_register" yaml:"temperature_register"`
	HumidityRegister    uint16  `json:"humidity_register" yaml:"humidity_register"`
	Scale               float64 `json:"scale" yaml:"scale"` // raw register value * scale = engineering unit
	TimeoutMs           int     `json:"timeout_ms" yaml:"timeout_ms"`

	Seed int64 `json:"seed" yaml:"seed"` // simulated source only
}

// Default returns a configuration with every default applied.
func Default() Config {
	var c Config
	c.SetDefaults()
	return c
}

// Load reads a configuration file. Files ending in .yaml or .yml are decoded
// as YAML, anything else as JSON. Unknown fields are rejected in both.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.Backend == "" {
		c.Backend = BackendFile
	}
	if c.Capacity == 0 {
		c.Capacity = protocol.DefaultCapacity
	}
	if c.Flash.SectorSize == 0 {
		c.Flash.SectorSize = 4096
	}
	if c.SampleIntervalMs == 0 {
		c.SampleIntervalMs = 5000
	}
	s := &c.Sensor
	if s.Kind == "" {
		s.Kind = SensorSimulated
	}
	if s.RegisterType == "" {
		s.RegisterType = RegisterInput
	}
	if s.HumidityRegister == 0 && s.TemperatureRegister == 0 {
		s.HumidityRegister = 1
	}
	if s.Scale == 0 {
		s.Scale = 0.1
	}
	if s.TimeoutMs == 0 {
		s.TimeoutMs = 1000
	}
	if s.Kind == SensorModbusRTU {
		if s.BaudRate == 0 {
			s.BaudRate = 9600
		}
		if s.DataBits == 0 {
			s.DataBits = 8
		}
		if s.Parity == "" {
			s.Parity = "N"
		}
		if s.StopBits == 0 {
			s.StopBits = 1
		}
	}
	if s.UnitID == 0 && s.Kind != SensorSimulated {
		s.UnitID = 1
	}
}

// Validate checks configuration correctness. It does not mutate cfg.
func Validate(cfg *Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if cfg.Capacity < 1 || cfg.Capacity > protocol.MaxCapacity {
		return fmt.Errorf("capacity %d out of range 1..%d", cfg.Capacity, protocol.MaxCapacity)
	}
	if cfg.SampleIntervalMs <= 0 {
		return fmt.Errorf("sample_interval_ms must be > 0")
	}

	switch cfg.Backend {
	case BackendFile:
	case BackendFlash:
		if cfg.Flash.Device == "" {
			return fmt.Errorf("backend %q requires flash.device", BackendFlash)
		}
		ss := cfg.Flash.SectorSize
		if ss <= 0 || ss&(ss-1) != 0 {
			return fmt.Errorf("flash.sector_size %d must be a power of two", ss)
		}
	default:
		return fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	s := cfg.Sensor
	switch s.Kind {
	case SensorSimulated:
		return nil
	case SensorModbusTCP, SensorModbusRTU:
	default:
		return fmt.Errorf("unknown sensor kind %q", s.Kind)
	}

	if s.Endpoint == "" {
		return fmt.Errorf("sensor %q requires endpoint", s.Kind)
	}
	if s.RegisterType != RegisterInput && s.RegisterType != RegisterHolding {
		return fmt.Errorf("sensor register_type %q must be %q or %q", s.RegisterType, RegisterInput, RegisterHolding)
	}
	if s.TemperatureRegister == s.HumidityRegister {
		return fmt.Errorf("sensor temperature_register and humidity_register must differ")
	}
	if s.Scale <= 0 {
		return fmt.Errorf("sensor scale must be > 0")
	}
	if s.TimeoutMs <= 0 {
		return fmt.Errorf("sensor timeout_ms must be > 0")
	}
	if s.Kind == SensorModbusRTU {
		switch s.Parity {
		case "N", "E", "O":
		default:
			return fmt.Errorf("sensor parity %q must be N, E or O", s.Parity)
		}
		if s.StopBits != 1 && s.StopBits != 2 {
			return fmt.Errorf("sensor stop_bits %d must be 1 or 2", s.StopBits)
		}
		if s.DataBits < 5 || s.DataBits > 8 {
			return fmt.Errorf("sensor data_bits %d must be 5..8", s.DataBits)
		}
		if s.BaudRate <= 0 {
			return fmt.Errorf("sensor baud_rate must be > 0")
		}
	}
	return nil
}

func (c *Config) SampleInterval() time.Duration {
	return time.Duration(c.SampleIntervalMs) * time.Millisecond
}

func (s SensorConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// ResolvePath returns an absolute path relative to the home directory if strictly necessary.
func ResolvePath(homeDir, path string) string {
	if path == "" {
		return homeDir
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(homeDir, path)
}

// WriteSample creates homeDir and writes a default configuration into it.
// It returns the path of the written file.
func WriteSample(homeDir string) (string, error) {
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return "", fmt.Errorf("error creating home directory: %w", err)
	}
	if err := os.MkdirAll(ResolvePath(homeDir, "data"), 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("error generating config json: %w", err)
	}
	path := filepath.Join(homeDir, SampleFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("error writing config file: %w", err)
	}
	return path, nil
}
