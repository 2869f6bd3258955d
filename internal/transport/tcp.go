package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/homenetio/bridge/internal/config"
)

// tcpPort adapts a plain TCP connection (e.g. a ser2net-style serial
// tunnel) to the Port interface.
type tcpPort struct {
	conn net.Conn
}

func openTCP(cfg config.SerialConfig) (Port, error) {
	if cfg.Host == "" || cfg.Port == 0 {
		return nil, fmt.Errorf("transport: tcp config missing host/port")
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial tcp %s: %w", addr, err)
	}
	return &tcpPort{conn: conn}, nil
}

func (t *tcpPort) Read(p []byte) (int, error) { return t.conn.Read(p) }

func (t *tcpPort) Write(ctx context.Context, p []byte) error {
	_, err := t.conn.Write(p)
	return err
}

func (t *tcpPort) Close() error { return t.conn.Close() }
