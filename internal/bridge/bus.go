// Package bridge wires one bus's FrameParser, device registry,
// StateStore, CommandAssembler, and AutomationEngine together with its
// transport and broker collaborators, and owns the bus's lifecycle.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/homenetio/bridge/internal/automation"
	"github.com/homenetio/bridge/internal/broker"
	"github.com/homenetio/bridge/internal/codec"
	"github.com/homenetio/bridge/internal/command"
	"github.com/homenetio/bridge/internal/config"
	"github.com/homenetio/bridge/internal/device"
	"github.com/homenetio/bridge/internal/frame"
	"github.com/homenetio/bridge/internal/history"
	"github.com/homenetio/bridge/internal/state"
	"github.com/homenetio/bridge/internal/transport"
	"github.com/homenetio/bridge/internal/wsfeed"
	"golang.org/x/time/rate"
)

// packetEventRate/packetEventBurst cap the raw-packet bridge event's
// publish rate: it's a best-effort debugging aid, not a reliable feed,
// so a busy bus drops events past this rate rather than flooding the
// broker.
const (
	packetEventRate  rate.Limit = 20
	packetEventBurst            = 10
)

// portWriter adapts a transport.Port to command.Writer/automation's
// writer need, which only ever call Write.
type portWriter struct{ port transport.Port }

func (w portWriter) Write(ctx context.Context, payload []byte) error { return w.port.Write(ctx, payload) }

// Bus runs one configured RS-485/serial bus end to end.
type Bus struct {
	Name string

	cfg       *config.BusConfig
	prefix    string
	port      transport.Port
	publisher broker.Publisher
	eval      codec.Evaluator
	log       *slog.Logger

	parser       *frame.Parser
	registry     *device.Registry
	store        *state.Store
	assembler    *command.Assembler
	engine       *automation.Engine
	history      *history.Store
	feed         *wsfeed.Feed
	packetEvents *rate.Limiter

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// transportUp tracks the availability topic's last-published edge.
	// Only ever touched from Run's single goroutine, so it needs no lock.
	transportUp bool
}

// SetHistory wires an optional audit trail: every merged state change
// on this bus is appended to it. A nil history (the default) disables
// auditing with no cost beyond a nil check.
func (b *Bus) SetHistory(h *history.Store) { b.history = h }

// SetFeed wires an optional diagnostic websocket feed: every merged
// state change and automation queue-overflow on this bus is pushed to
// it. A nil feed (the default) disables the feed with no cost beyond a
// nil check.
func (b *Bus) SetFeed(f *wsfeed.Feed) { b.feed = f }

// New wires one bus's subsystems from its config and external
// collaborators. It does not start any goroutines; call Run for that.
func New(cfg *config.BusConfig, port transport.Port, publisher broker.Publisher, eval codec.Evaluator, prefix string, log *slog.Logger) (*Bus, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("bus", cfg.Name)

	registry := device.New(cfg.Entities, eval, log)
	store := state.New()
	writer := portWriter{port: port}
	assembler := command.New(registry, cfg.PacketDefaults, writer, store, log)
	assembler.SetWriteRate(command.DefaultWriteRate, command.DefaultWriteBurst)

	b := &Bus{
		Name: cfg.Name, cfg: cfg, prefix: prefix, port: port, publisher: publisher, eval: eval, log: log,
		parser: frame.New(cfg.PacketDefaults, log), registry: registry, store: store,
		assembler: assembler, packetEvents: rate.NewLimiter(packetEventRate, packetEventBurst),
	}

	// b itself implements automation.Events (RuleStarted/RuleFinished/
	// QueueOverflow) so the engine can report rule lifecycle and
	// queue-overflow without depending on broker/wsfeed directly.
	engine, err := automation.New(cfg.Automation, registry, store, assembler, writer, publisher, eval, cfg.PacketDefaults, b, log)
	if err != nil {
		return nil, fmt.Errorf("bridge: compile automation rules: %w", err)
	}
	b.engine = engine

	changed := make(chan state.Changed, 64)
	store.Subscribe(changed)
	go b.pumpStateChanges(changed)

	b.seedOptimisticEntities()
	return b, nil
}

// seedOptimisticEntities gives optimistic entities an initial "state" so
// they exist in the store before any command runs, matching the
// ON/OFF convention command.Assembler's on/off/toggle default template
// reads back when deciding toggle's new value.
func (b *Bus) seedOptimisticEntities() {
	for _, id := range b.registry.AllEntityIDs() {
		e := b.registry.Entity(id)
		if e != nil && e.Optimistic && b.store.Get(id) == nil {
			b.store.Merge(device.StateUpdate{EntityID: id, Attr: "state", Value: "OFF"})
		}
	}
}

func (b *Bus) pumpStateChanges(changed <-chan state.Changed) {
	for c := range changed {
		if b.history != nil {
			if err := b.history.RecordStateChange(context.Background(), b.Name, c.EntityID, c.Attr, c.Value); err != nil {
				b.log.Warn("failed to record state change", "entity", c.EntityID, "err", err)
			}
		}
		if b.feed != nil {
			b.feed.Publish(c.EntityID, c.Attr, c.Value)
		}
		b.engine.OnStateChanged(context.Background(), c)
		b.publishState(c.EntityID)
	}
}

// publishState serialises an entity's full merged record and publishes
// it retained.
func (b *Bus) publishState(entityID string) {
	if b.publisher == nil {
		return
	}
	snap := b.store.Get(entityID)
	if snap == nil {
		return
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		b.log.Warn("failed to marshal state for publish", "entity", entityID, "err", err)
		return
	}
	topic := broker.StateTopic(b.prefix, entityID)
	if err := b.publisher.Publish(context.Background(), topic, payload, true); err != nil {
		b.log.Warn("failed to publish state", "entity", entityID, "topic", topic, "err", err)
	}
}

// publishAvailability flips every entity's availability topic between
// "online"/"offline", retained so a client connecting mid-outage sees
// the current state immediately.
func (b *Bus) publishAvailability(ctx context.Context, up bool) {
	if b.publisher == nil {
		return
	}
	payload := []byte("offline")
	if up {
		payload = []byte("online")
	}
	for _, id := range b.registry.AllEntityIDs() {
		topic := broker.AvailabilityTopic(b.prefix, id)
		if err := b.publisher.Publish(ctx, topic, payload, true); err != nil {
			b.log.Warn("failed to publish availability", "entity", id, "err", err)
		}
	}
}

// publishPacketEvent best-effort publishes one raw extracted packet to
// the diagnostic bridge topic, rate-limited so a fast/noisy bus can't
// flood the broker with a feed nothing depends on for correctness.
func (b *Bus) publishPacketEvent(ctx context.Context, pkt []byte) {
	if b.publisher == nil || !b.packetEvents.Allow() {
		return
	}
	payload, err := json.Marshal(struct {
		Bus  string `json:"bus"`
		Data []byte `json:"data"`
	}{Bus: b.Name, Data: pkt})
	if err != nil {
		return
	}
	topic := broker.BridgeEventTopic(b.prefix, "packet")
	if err := b.publisher.Publish(ctx, topic, payload, false); err != nil {
		b.log.Debug("failed to publish packet bridge event", "err", err)
	}
}

// automationEvent is the JSON shape published to
// "<prefix>/bridge/automation/<rule_id>".
type automationEvent struct {
	Event   string `json:"event"`
	Error   string `json:"error,omitempty"`
	Dropped int64  `json:"dropped,omitempty"`
}

func (b *Bus) publishAutomationEvent(ruleID string, ev automationEvent) {
	if b.publisher == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	topic := broker.BridgeEventTopic(b.prefix, "automation/"+ruleID)
	if err := b.publisher.Publish(context.Background(), topic, payload, false); err != nil {
		b.log.Debug("failed to publish automation bridge event", "rule", ruleID, "err", err)
	}
}

// RuleStarted implements automation.Events.
func (b *Bus) RuleStarted(ruleID string) {
	b.publishAutomationEvent(ruleID, automationEvent{Event: "start"})
}

// RuleFinished implements automation.Events.
func (b *Bus) RuleFinished(ruleID string, err error) {
	ev := automationEvent{Event: "finish"}
	if err != nil {
		ev.Event = "error"
		ev.Error = err.Error()
	}
	b.publishAutomationEvent(ruleID, ev)
}

// QueueOverflow implements automation.Events. SPEC_FULL §11 requires
// this counter to reach the diagnostic /ws/events feed, not just the
// broker, so operators watching the dashboard see drops in real time.
func (b *Bus) QueueOverflow(ruleID string, totalDropped int64) {
	b.publishAutomationEvent(ruleID, automationEvent{Event: "queue_overflow", Dropped: totalDropped})
	if b.feed != nil {
		b.feed.Publish("automation:"+ruleID, "queue_overflow", totalDropped)
	}
}

// portRead is one Read call's outcome, handed from the dedicated
// reader goroutine to Run's select loop so idle-flush timing and byte
// arrival share one logical task runner per spec's single-threaded
// per-bus scheduling model instead of racing the Parser from two
// goroutines.
type portRead struct {
	data []byte
	err  error
}

// Run starts the bus's read loop, idle-flush timer, and automation
// engine; it blocks until ctx is cancelled or the transport fails
// unrecoverably.
func (b *Bus) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.engine.Start(runCtx)

	reads := make(chan portRead, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			select {
			case <-runCtx.Done():
				return
			default:
			}
			n, err := b.port.Read(buf)
			var data []byte
			if n > 0 {
				data = append([]byte(nil), buf[:n]...)
			}
			select {
			case reads <- portRead{data: data, err: err}:
			case <-runCtx.Done():
				return
			}
		}
	}()

	idleTimeout := time.Duration(b.cfg.PacketDefaults.RxTimeoutMS) * time.Millisecond
	var idleTimer *time.Timer
	var idleC <-chan time.Time
	if idleTimeout > 0 {
		idleTimer = time.NewTimer(idleTimeout)
		defer idleTimer.Stop()
		idleC = idleTimer.C
	}

	b.transportUp = true
	b.publishAvailability(runCtx, true)

	for {
		select {
		case <-runCtx.Done():
			return runCtx.Err()

		case r := <-reads:
			if r.err == nil {
				if !b.transportUp {
					b.transportUp = true
					b.publishAvailability(runCtx, true)
				}
			} else if b.transportUp {
				b.transportUp = false
				b.publishAvailability(runCtx, false)
			}
			if len(r.data) > 0 {
				b.ingest(runCtx, r.data)
				resetTimer(idleTimer, idleTimeout)
			}
			if r.err != nil {
				b.log.Warn("bus transport read error", "err", r.err)
				select {
				case <-runCtx.Done():
					return runCtx.Err()
				default:
				}
			}

		case <-idleC:
			b.parser.IdleFlush()
			resetTimer(idleTimer, idleTimeout)
		}
	}
}

// resetTimer rearms t for another idleTimeout, draining a pending fire
// first so Reset doesn't race a timer that already fired. t is nil
// when rx_timeout_ms is unset, in which case there's nothing to do.
func resetTimer(t *time.Timer, d time.Duration) {
	if t == nil {
		return
	}
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// ingest feeds raw bytes to the parser and routes every extracted
// packet through decode, automation, and ack resolution, in that exact
// order.
func (b *Bus) ingest(ctx context.Context, data []byte) {
	for _, pkt := range b.parser.Feed(data) {
		updates := b.registry.Decode(ctx, pkt.Bytes)
		b.store.MergeAll(updates)
		b.publishPacketEvent(ctx, pkt.Bytes)
		b.engine.OnPacket(ctx, pkt.Bytes)
		b.assembler.Resolve(ctx, b.eval, pkt.Bytes)
	}
}

// Stop tears the bus down: cancels the read loop, stops the
// automation engine, and closes the transport.
func (b *Bus) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.engine.Stop()
	b.publishAvailability(context.Background(), false)
	_ = b.port.Close()
}
