// Package command implements the CommandAssembler:
// resolving an entity/command invocation to bytes, framing them per
// the bus's tx_* packet defaults, and tracking the pending-ack window
// with bounded, backed-off retry for commands that declare one.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/homenetio/bridge/internal/checksum"
	"github.com/homenetio/bridge/internal/codec"
	"github.com/homenetio/bridge/internal/config"
	"github.com/homenetio/bridge/internal/device"
	"github.com/homenetio/bridge/internal/state"
	"golang.org/x/time/rate"
)

// Writer is the outbound half of the bus transport. The assembler
// depends only on this method set.
type Writer interface {
	Write(ctx context.Context, frame []byte) error
}

// DefaultMaxRetries bounds the pending-ack retry loop of every
// ack-bearing command; command schemas carry no limit of their own.
const DefaultMaxRetries = 3

// RetryBackoffBase/RetryBackoffMax shape the doubling retry delay
// between unacknowledged resends.
const (
	RetryBackoffBase = 200 * time.Millisecond
	RetryBackoffMax  = 5 * time.Second
)

// DefaultWriteRate/DefaultWriteBurst cap a bus's sustained outbound
// write rate to something a typical RS-485 link can keep up with,
// while still letting a scene ("all lights off") burst through.
const (
	DefaultWriteRate  rate.Limit = 50
	DefaultWriteBurst            = 20
)

// Assembler resolves, frames, sends, and (for ack-bearing commands)
// retries command invocations for one bus.
type Assembler struct {
	registry *device.Registry
	defaults config.PacketDefaults
	writer   Writer
	store    *state.Store
	log      *slog.Logger

	// writeLimiter paces outbound writes so a runaway automation rule or
	// retry storm can't flood the transport faster than the bus can
	// physically drain it. Nil (the default) means unlimited.
	writeLimiter *rate.Limiter

	mu      sync.Mutex
	pending map[string]*pendingCommand
}

// SetWriteRate arms (or replaces) the outbound write rate limit; burst
// permits short bursts (e.g. a "turn off all lights" scene) above the
// sustained rate.
func (a *Assembler) SetWriteRate(r rate.Limit, burst int) {
	a.writeLimiter = rate.NewLimiter(r, burst)
}

func (a *Assembler) write(ctx context.Context, frame []byte) error {
	if a.writeLimiter != nil {
		if err := a.writeLimiter.Wait(ctx); err != nil {
			return err
		}
	}
	return a.writer.Write(ctx, frame)
}

type pendingCommand struct {
	entityID string
	command  string
	ack      *config.StateSchema
	payload  []byte
	timeout  time.Duration
	attempt  int
	cancel   context.CancelFunc
}

// New constructs an Assembler for one bus. store is optional: when set,
// it backs the on/off/toggle default template for optimistic entities
// that declare no command schema of their own (see sendOptimisticDefault).
func New(registry *device.Registry, defaults config.PacketDefaults, writer Writer, store *state.Store, log *slog.Logger) *Assembler {
	if log == nil {
		log = slog.Default()
	}
	return &Assembler{
		registry: registry,
		defaults: defaults,
		writer:   writer,
		store:    store,
		log:      log,
		pending:  make(map[string]*pendingCommand),
	}
}

// Send resolves entityID's command schema, constructs and frames the
// payload, writes it, and — if the schema declares an ack — opens a
// pending-ack window that retries with a doubling backoff until the
// ack schema matches an inbound packet (via Resolve) or the retry
// budget is exhausted. For an optimistic entity with no declared
// command schema, on/off/toggle fall back to sendOptimisticDefault
// instead of erroring.
func (a *Assembler) Send(ctx context.Context, entityID, name string, value any) error {
	cmd, err := a.registry.Command(entityID, name)
	if err != nil {
		if a.sendOptimisticDefault(entityID, name) {
			return nil
		}
		return err
	}
	payload, err := a.registry.Assemble(ctx, entityID, name, value)
	if err != nil {
		return fmt.Errorf("command: assemble %s.%s: %w", entityID, name, err)
	}
	frame := a.frame(payload)

	if err := a.write(ctx, frame); err != nil {
		return fmt.Errorf("command: write %s.%s: %w", entityID, name, err)
	}

	if cmd.Ack == nil {
		return nil
	}
	a.openPending(ctx, entityID, name, cmd, frame)
	return nil
}

// frame wraps a constructed payload with the bus's tx header, trailing
// checksum(s), and footer.
func (a *Assembler) frame(payload []byte) []byte {
	buf := make([]byte, 0, len(a.defaults.TxHeader)+len(payload)+len(a.defaults.TxFooter)+2)
	buf = append(buf, a.defaults.TxHeader...)
	buf = append(buf, payload...)
	buf = checksum.AppendTx(a.defaults, buf)
	buf = append(buf, a.defaults.TxFooter...)
	return buf
}

// sendOptimisticDefault implements spec §4.5 item 1's fallback: an
// optimistic entity with no command_on/command_off/command_toggle
// schema of its own has no meaningful bytes to frame — it exists
// purely in the state store — so on/off/toggle merge the entity's
// "state" property directly instead of writing to the transport.
// Reports whether it handled name.
func (a *Assembler) sendOptimisticDefault(entityID, name string) bool {
	if a.store == nil {
		return false
	}
	e := a.registry.Entity(entityID)
	if e == nil || !e.Optimistic {
		return false
	}

	var next string
	switch name {
	case "on":
		next = "ON"
	case "off":
		next = "OFF"
	case "toggle":
		next = "ON"
		if snap := a.store.Get(entityID); snap != nil {
			if cur, _ := snap["state"].(string); cur == "ON" {
				next = "OFF"
			}
		}
	default:
		return false
	}

	a.store.Merge(device.StateUpdate{EntityID: entityID, Attr: "state", Value: next})
	return true
}

func pendingKey(entityID, name string) string { return entityID + ":" + name }

func (a *Assembler) openPending(ctx context.Context, entityID, name string, cmd *config.CommandSchema, frame []byte) {
	timeout, err := config.ParseDuration(cmd.AckTimeout)
	if err != nil || timeout <= 0 {
		timeout = RetryBackoffMax
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	pc := &pendingCommand{
		entityID: entityID, command: name, ack: cmd.Ack,
		payload: frame, timeout: timeout, cancel: cancel,
	}

	key := pendingKey(entityID, name)
	a.mu.Lock()
	if old, exists := a.pending[key]; exists {
		old.cancel()
	}
	a.pending[key] = pc
	a.mu.Unlock()

	go a.retryLoop(runCtx, key, pc)
}

func (a *Assembler) retryLoop(ctx context.Context, key string, pc *pendingCommand) {
	delay := RetryBackoffBase
	timer := time.NewTimer(pc.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			a.mu.Lock()
			_, stillPending := a.pending[key]
			if stillPending {
				pc.attempt++
			}
			a.mu.Unlock()
			if !stillPending {
				return
			}
			if pc.attempt >= DefaultMaxRetries {
				a.log.Warn("command ack timed out, giving up", "entity", pc.entityID, "command", pc.command, "attempts", pc.attempt)
				a.clearPending(key)
				return
			}
			a.log.Debug("command ack timed out, retrying", "entity", pc.entityID, "command", pc.command, "attempt", pc.attempt)
			if err := a.write(ctx, pc.payload); err != nil {
				a.log.Warn("command retry write failed", "entity", pc.entityID, "command", pc.command, "err", err)
			}
			delay *= 2
			if delay > RetryBackoffMax {
				delay = RetryBackoffMax
			}
			timer.Reset(delay)
		}
	}
}

func (a *Assembler) clearPending(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if pc, ok := a.pending[key]; ok {
		pc.cancel()
		delete(a.pending, key)
	}
}

// Resolve is fed every inbound packet (after frame extraction); it
// checks pending commands' ack schemas against it and clears any that
// match, stopping their retry loop.
func (a *Assembler) Resolve(ctx context.Context, eval codec.Evaluator, packet []byte) {
	a.mu.Lock()
	var matched []string
	for key, pc := range a.pending {
		if codec.Matches(ctx, eval, pc.ack, packet, 0, nil) {
			matched = append(matched, key)
		}
	}
	a.mu.Unlock()

	for _, key := range matched {
		a.clearPending(key)
	}
}

// Pending reports whether entityID/name currently has an open ack
// window, for diagnostics/tests.
func (a *Assembler) Pending(entityID, name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.pending[pendingKey(entityID, name)]
	return ok
}
