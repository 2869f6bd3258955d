// Package transport is the external collaborator boundary for bus I/O:
// opening a serial port or a TCP-tunnelled serial connection, and
// reconnecting the latter with backoff. The core packages never import
// this package directly — they depend on the command.Writer/io.Reader
// method sets it satisfies.
package transport

import (
	"context"
	"fmt"

	"github.com/homenetio/bridge/internal/config"
)

// Port is the minimal byte-stream contract a bus transport offers.
// Write is synchronous; Read is expected to be driven by a dedicated
// goroutine feeding frame.Parser.Feed.
type Port interface {
	Read(p []byte) (int, error)
	Write(ctx context.Context, p []byte) error
	Close() error
}

// Dial opens the configured transport: a local serial device or a
// TCP-tunnelled serial endpoint (e.g. ser2net), matching
// SerialConfig.Type.
func Dial(cfg config.SerialConfig) (Port, error) {
	switch cfg.Type {
	case "", "serial":
		return openSerial(cfg)
	case "tcp":
		return openTCP(cfg)
	default:
		return nil, fmt.Errorf("transport: unknown serial config type %q", cfg.Type)
	}
}
