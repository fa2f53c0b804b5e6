package sensor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/goburrow/modbus"

	"sensorlog/config"
)

// RegisterReader is the subset of modbus.Client the source needs.
type RegisterReader interface {
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
}

// Modbus reads temperature and humidity from two 16-bit registers of a
// Modbus TCP or RTU device. Temperature is a signed register, humidity
// unsigned; both are multiplied by Scale.
type Modbus struct {
	mu      sync.Mutex
	client  RegisterReader
	handler io.Closer

	holding  bool
	tempReg  uint16
	humReg   uint16
	scale    float64
	endpoint string
}

// NewModbus connects to the device described by cfg.
func NewModbus(cfg config.SensorConfig) (*Modbus, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("sensor modbus: endpoint required")
	}

	var (
		handler modbus.ClientHandler
		closer  io.Closer
	)
	switch cfg.Kind {
	case config.SensorModbusTCP:
		h := modbus.NewTCPClientHandler(cfg.Endpoint)
		h.Timeout = cfg.Timeout()
		h.SlaveId = cfg.UnitID
		if err := h.Connect(); err != nil {
			return nil, fmt.Errorf("sensor modbus: connect %s: %w", cfg.Endpoint, err)
		}
		handler, closer = h, h
	case config.SensorModbusRTU:
		h := modbus.NewRTUClientHandler(cfg.Endpoint)
		h.BaudRate = cfg.BaudRate
		h.DataBits = cfg.DataBits
		h.Parity = cfg.Parity
		h.StopBits = cfg.StopBits
		h.SlaveId = cfg.UnitID
		h.Timeout = cfg.Timeout()
		if err := h.Connect(); err != nil {
			return nil, fmt.Errorf("sensor modbus: open %s: %w", cfg.Endpoint, err)
		}
		handler, closer = h, h
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}

	m := NewModbusWithClient(modbus.NewClient(handler), cfg)
	m.handler = closer
	return m, nil
}

// NewModbusWithClient wraps an existing register reader.
func NewModbusWithClient(client RegisterReader, cfg config.SensorConfig) *Modbus {
	scale := cfg.Scale
	if scale == 0 {
		scale = 0.1
	}
	return &Modbus{
		client:   client,
		holding:  cfg.RegisterType == config.RegisterHolding,
		tempReg:  cfg.TemperatureRegister,
		humReg:   cfg.HumidityRegister,
		scale:    scale,
		endpoint: cfg.Endpoint,
	}
}

func (m *Modbus) read(addr, qty uint16) ([]uint16, error) {
	var (
		raw []byte
		err error
	)
	if m.holding {
		raw, err = m.client.ReadHoldingRegisters(addr, qty)
	} else {
		raw, err = m.client.ReadInputRegisters(addr, qty)
	}
	if err != nil {
		return nil, err
	}
	if len(raw) < int(qty)*2 {
		return nil, fmt.Errorf("sensor modbus: short response: %d bytes for %d registers", len(raw), qty)
	}
	regs := make([]uint16, qty)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(raw[2*i:])
	}
	return regs, nil
}

// Read fetches both registers, in one request when they are adjacent.
func (m *Modbus) Read(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var tempRaw, humRaw uint16
	switch {
	case m.humReg == m.tempReg+1:
		regs, err := m.read(m.tempReg, 2)
		if err != nil {
			return Reading{}, fmt.Errorf("sensor modbus %s: read registers %d..%d: %w", m.endpoint, m.tempReg, m.humReg, err)
		}
		tempRaw, humRaw = regs[0], regs[1]
	case m.tempReg == m.humReg+1:
		regs, err := m.read(m.humReg, 2)
		if err != nil {
			return Reading{}, fmt.Errorf("sensor modbus %s: read registers %d..%d: %w", m.endpoint, m.humReg, m.tempReg, err)
		}
		humRaw, tempRaw = regs[0], regs[1]
	default:
		regs, err := m.read(m.tempReg, 1)
		if err != nil {
			return Reading{}, fmt.Errorf("sensor modbus %s: read temperature register %d: %w", m.endpoint, m.tempReg, err)
		}
		tempRaw = regs[0]
		if err := ctx.Err(); err != nil {
			return Reading{}, err
		}
		regs, err = m.read(m.humReg, 1)
		if err != nil {
			return Reading{}, fmt.Errorf("sensor modbus %s: read humidity register %d: %w", m.endpoint, m.humReg, err)
		}
		humRaw = regs[0]
	}

	return Reading{
		TemperatureC: float64(int16(tempRaw)) * m.scale,
		HumidityPct:  float64(humRaw) * m.scale,
	}, nil
}

func (m *Modbus) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handler == nil {
		return nil
	}
	return m.handler.Close()
}
