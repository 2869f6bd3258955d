package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/homenetio/bridge/internal/config"
)

// ErrClosed is returned from Read/Write after Close.
var ErrClosed = errors.New("transport: closed")

// Reconnecting wraps Dial with an exponential-backoff redial policy:
// on a read/write error it closes the dead connection, waits the
// backoff delay, and retries until Close is called.
type Reconnecting struct {
	cfg config.SerialConfig
	log *slog.Logger

	mu      sync.Mutex
	port    Port
	backoff Backoff
	closed  bool
}

// NewReconnecting dials cfg once and returns a Port that transparently
// redials on failure.
func NewReconnecting(cfg config.SerialConfig, log *slog.Logger) (*Reconnecting, error) {
	if log == nil {
		log = slog.Default()
	}
	r := &Reconnecting{
		cfg:     cfg,
		log:     log,
		backoff: Backoff{Base: time.Second, Max: 30 * time.Second},
	}
	p, err := Dial(cfg)
	if err != nil {
		return nil, err
	}
	r.port = p
	return r, nil
}

func (r *Reconnecting) Read(p []byte) (int, error) {
	port, closed := r.snapshot()
	if closed {
		return 0, ErrClosed
	}
	n, err := port.Read(p)
	if err != nil {
		r.handleError(err)
	}
	return n, err
}

func (r *Reconnecting) Write(ctx context.Context, p []byte) error {
	port, closed := r.snapshot()
	if closed {
		return ErrClosed
	}
	err := port.Write(ctx, p)
	if err != nil {
		r.handleError(err)
	}
	return err
}

func (r *Reconnecting) snapshot() (Port, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.port, r.closed
}

// handleError closes the dead port and spawns a redial loop; callers
// observe errors immediately and may retry reads/writes once the
// reconnect completes (Read/Write return ErrClosed in the interim only
// if Close was explicitly called).
func (r *Reconnecting) handleError(cause error) {
	if errors.Is(cause, io.EOF) {
		r.log.Warn("transport connection closed by peer, reconnecting", "err", cause)
	} else {
		r.log.Warn("transport error, reconnecting", "err", cause)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	old := r.port
	r.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	go r.redialLoop()
}

func (r *Reconnecting) redialLoop() {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		delay := r.backoff.Next()
		r.mu.Unlock()

		time.Sleep(delay)

		p, err := Dial(r.cfg)
		if err != nil {
			r.log.Warn("transport reconnect attempt failed", "err", err)
			continue
		}
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			_ = p.Close()
			return
		}
		r.port = p
		r.backoff.Reset()
		r.mu.Unlock()
		r.log.Info("transport reconnected")
		return
	}
}

// Close stops any in-flight redial loop and closes the current port.
func (r *Reconnecting) Close() error {
	r.mu.Lock()
	r.closed = true
	port := r.port
	r.mu.Unlock()
	if port == nil {
		return nil
	}
	return port.Close()
}
