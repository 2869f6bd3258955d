package transport

import (
	"context"
	"fmt"

	"github.com/homenetio/bridge/internal/config"
	serial "go.bug.st/serial"
)

// serialPort adapts go.bug.st/serial to the Port interface.
type serialPort struct {
	port serial.Port
}

func openSerial(cfg config.SerialConfig) (Port, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("transport: serial config missing path")
	}
	baud := cfg.Baud
	if baud == 0 {
		baud = 9600
	}
	mode := &serial.Mode{BaudRate: baud, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
	p, err := serial.Open(cfg.Path, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open serial %s: %w", cfg.Path, err)
	}
	return &serialPort{port: p}, nil
}

func (s *serialPort) Read(p []byte) (int, error) { return s.port.Read(p) }

func (s *serialPort) Write(ctx context.Context, p []byte) error {
	_, err := s.port.Write(p)
	return err
}

func (s *serialPort) Close() error { return s.port.Close() }
