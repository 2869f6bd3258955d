package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/homenetio/bridge/internal/broker"
	"github.com/homenetio/bridge/internal/codec"
	"github.com/homenetio/bridge/internal/config"
	"github.com/homenetio/bridge/internal/history"
	"github.com/homenetio/bridge/internal/transport"
	"github.com/homenetio/bridge/internal/wsfeed"
)

// Manager owns one bus's full lifecycle across config reloads: a
// configuration reload tears down the bus and rebuilds it rather than
// mutating the catalog in place.
type Manager struct {
	path      string
	publisher broker.Publisher
	sub       broker.Subscriber
	eval      codec.Evaluator
	prefix    string
	log       *slog.Logger
	history   *history.Store
	feed      *wsfeed.Feed

	mu      sync.Mutex
	bus     *Bus
	watcher *fsnotify.Watcher
}

// NewManager loads the config at path, opens its transport, builds the
// initial Bus, and arms an fsnotify watch on the config file's directory.
func NewManager(path string, publisher broker.Publisher, sub broker.Subscriber, eval codec.Evaluator, prefix string, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{path: path, publisher: publisher, sub: sub, eval: eval, prefix: prefix, log: log}

	if err := m.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("bridge: create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("bridge: watch config dir: %w", err)
	}
	m.watcher = watcher
	return m, nil
}

// SetHistory wires an optional audit trail into this manager; every
// bus it builds (including ones rebuilt on reload) records to it.
func (m *Manager) SetHistory(h *history.Store) {
	m.mu.Lock()
	m.history = h
	bus := m.bus
	m.mu.Unlock()
	if bus != nil {
		bus.SetHistory(h)
	}
}

// SetFeed wires an optional diagnostic websocket feed into this
// manager; every bus it builds (including ones rebuilt on reload)
// pushes state changes and automation queue-overflow events to it.
func (m *Manager) SetFeed(f *wsfeed.Feed) {
	m.mu.Lock()
	m.feed = f
	bus := m.bus
	m.mu.Unlock()
	if bus != nil {
		bus.SetFeed(f)
	}
}

// Run starts the current bus and blocks handling reload events and ctx
// cancellation. It returns when ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	busCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		bus := m.currentBus()
		if err := bus.Run(busCtx); err != nil {
			m.log.Warn("bus run loop exited", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			m.currentBus().Stop()
			if m.watcher != nil {
				m.watcher.Close()
			}
			return ctx.Err()

		case ev, ok := <-m.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != m.path || (ev.Op&(fsnotify.Write|fsnotify.Create) == 0) {
				continue
			}
			m.log.Info("config changed, reloading bus", "path", m.path)
			old := m.currentBus()
			if err := m.reload(); err != nil {
				m.log.Warn("config reload failed, keeping previous bus running", "err", err)
				continue
			}
			old.Stop()
			cancel()
			busCtx, cancel = context.WithCancel(ctx)
			newBus := m.currentBus()
			go func() {
				if err := newBus.Run(busCtx); err != nil {
					m.log.Warn("bus run loop exited", "err", err)
				}
			}()

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return nil
			}
			m.log.Warn("config watcher error", "err", err)
		}
	}
}

func (m *Manager) reload() error {
	cfg, err := config.Load(m.path)
	if err != nil {
		return fmt.Errorf("bridge: load config: %w", err)
	}
	port, err := transport.Dial(cfg.Serial)
	if err != nil {
		return fmt.Errorf("bridge: open transport: %w", err)
	}
	bus, err := New(cfg, port, m.publisher, m.eval, m.prefix, m.log)
	if err != nil {
		port.Close()
		return err
	}
	if m.sub != nil {
		m.wireCommandTopics(bus)
	}
	if m.history != nil {
		bus.SetHistory(m.history)
	}
	if m.feed != nil {
		bus.SetFeed(m.feed)
	}

	m.mu.Lock()
	m.bus = bus
	m.mu.Unlock()
	return nil
}

func (m *Manager) currentBus() *Bus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bus
}

// wireCommandTopics subscribes ".../set" and ".../set_<property>" for
// every entity so inbound broker commands invoke the CommandAssembler.
func (m *Manager) wireCommandTopics(bus *Bus) {
	for _, id := range bus.registry.AllEntityIDs() {
		entityID := id
		setTopic := broker.SetTopic(m.prefix, entityID)
		_ = m.sub.Subscribe(setTopic, func(_ string, payload []byte) {
			m.handleSetPayload(bus, entityID, "", payload)
		})
		for prop := range bus.registry.Entity(entityID).Commands {
			prop := prop
			topic := broker.SetPropertyTopic(m.prefix, entityID, prop)
			_ = m.sub.Subscribe(topic, func(_ string, payload []byte) {
				m.handleSetPayload(bus, entityID, prop, payload)
			})
		}
	}
}

func (m *Manager) handleSetPayload(bus *Bus, entityID, command string, payload []byte) {
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		value = string(payload)
	}
	if command == "" {
		command = "set"
	}
	if err := bus.assembler.Send(context.Background(), entityID, command, value); err != nil {
		m.log.Warn("command from broker failed", "entity", entityID, "command", command, "err", err)
	}
}
