// Package automation implements the AutomationEngine: a
// per-rule state machine that evaluates packet/state/startup/time
// triggers and runs a small action DSL with per-rule concurrency modes.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/homenetio/bridge/internal/codec"
	"github.com/homenetio/bridge/internal/command"
	"github.com/homenetio/bridge/internal/config"
	"github.com/homenetio/bridge/internal/cron"
	"github.com/homenetio/bridge/internal/device"
	"github.com/homenetio/bridge/internal/state"
)

// Publisher is the broker-facing half of a publish action.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error
}

// Events is the automation lifecycle sink the embedding bus observes
// rule invocations and queued-mode drops through, without the engine
// knowing anything about brokers or diagnostic feeds downstream. A nil
// Events disables all notification.
type Events interface {
	RuleStarted(ruleID string)
	RuleFinished(ruleID string, err error)
	QueueOverflow(ruleID string, totalDropped int64)
}

// maxQueueDepth bounds the queued-mode backlog.
const maxQueueDepth = 32

// stopInvocation is the sentinel returned by the `stop` action; it
// unwinds the current invocation's action sequence without being
// logged as a failure.
type stopInvocation struct{ reason string }

func (s *stopInvocation) Error() string { return fmt.Sprintf("stopped: %s", s.reason) }

// Engine runs every automation rule declared for one bus.
type Engine struct {
	rules     []*compiledRule
	registry  *device.Registry
	store     *state.Store
	assembler *command.Assembler
	writer    command.Writer
	publisher Publisher
	eval      codec.Evaluator
	defaults  config.PacketDefaults
	events    Events
	log       *slog.Logger

	mu     sync.Mutex
	states map[string]*ruleRuntime
	timers []*time.Timer
	tickers []*time.Ticker
	stopCh chan struct{}
}

type ruleRuntime struct {
	mu      sync.Mutex
	running int
	cancel  context.CancelFunc
	queue   []func(context.Context)
	dropped int64
}

// New compiles rules and wires the engine's collaborators. events may
// be nil to disable lifecycle notification.
func New(
	rules []*config.Rule,
	registry *device.Registry,
	store *state.Store,
	assembler *command.Assembler,
	writer command.Writer,
	publisher Publisher,
	eval codec.Evaluator,
	defaults config.PacketDefaults,
	events Events,
	log *slog.Logger,
) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		registry: registry, store: store, assembler: assembler, writer: writer,
		publisher: publisher, eval: eval, defaults: defaults, events: events, log: log,
		states: make(map[string]*ruleRuntime), stopCh: make(chan struct{}),
	}
	for _, r := range rules {
		if !r.IsEnabled() {
			continue
		}
		cr, err := compileRule(r)
		if err != nil {
			return nil, err
		}
		e.rules = append(e.rules, cr)
		e.states[r.ID] = &ruleRuntime{}
	}
	return e, nil
}

// Start schedules every startup/time trigger. Packet and state
// triggers need no scheduling — they're driven by OnPacket/OnStateChanged.
func (e *Engine) Start(ctx context.Context) {
	now := time.Now()
	for _, cr := range e.rules {
		cr := cr
		for _, d := range cr.startupDelays {
			t := time.AfterFunc(d, func() {
				e.invoke(ctx, cr, nil)
			})
			e.mu.Lock()
			e.timers = append(e.timers, t)
			e.mu.Unlock()
		}
		for _, sched := range cr.cronSchedules {
			e.scheduleCron(ctx, cr, sched, now)
		}
		for _, interval := range cr.intervalTimers {
			ticker := time.NewTicker(interval)
			e.mu.Lock()
			e.tickers = append(e.tickers, ticker)
			e.mu.Unlock()
			go e.runTicker(ctx, cr, ticker)
		}
	}
}

func (e *Engine) runTicker(ctx context.Context, cr *compiledRule, ticker *time.Ticker) {
	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.invoke(ctx, cr, nil)
		}
	}
}

// scheduleCron arms one timer for sched's next fire time and, from
// inside that fire, arms the next one again — a self-rescheduling
// chain rather than a ticker, since cron intervals aren't uniform.
func (e *Engine) scheduleCron(ctx context.Context, cr *compiledRule, sched *cron.Schedule, from time.Time) {
	next := sched.Next(from)
	if next.IsZero() {
		e.log.Warn("cron schedule exhausted search window", "rule", cr.rule.ID)
		return
	}
	var t *time.Timer
	t = time.AfterFunc(time.Until(next), func() {
		select {
		case <-e.stopCh:
			return
		default:
		}
		e.invoke(ctx, cr, nil)
		e.scheduleCron(ctx, cr, sched, next)
	})
	e.mu.Lock()
	e.timers = append(e.timers, t)
	e.mu.Unlock()
}

// Stop cancels every pending timer/ticker and the in-flight invocation of
// each single- or restart-mode rule. Parallel and queued invocations
// already running are not cancelled, and entries already queued stay
// queued.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.mu.Lock()
	for _, t := range e.timers {
		t.Stop()
	}
	for _, t := range e.tickers {
		t.Stop()
	}
	for _, rt := range e.states {
		rt.mu.Lock()
		if rt.cancel != nil {
			rt.cancel()
		}
		rt.mu.Unlock()
	}
	e.mu.Unlock()
}

// OnPacket evaluates every packet trigger against one extracted frame.
func (e *Engine) OnPacket(ctx context.Context, packet []byte) {
	baseOffset := len(e.defaults.RxHeader)
	bindings := codec.Bindings{"data": packet}
	for _, cr := range e.rules {
		for _, schema := range cr.packetTriggers {
			if codec.Matches(ctx, e.eval, schema, packet, baseOffset, bindings) {
				e.invoke(ctx, cr, bindings)
				break
			}
		}
	}
}

// OnStateChanged evaluates every state trigger against one state:changed event.
func (e *Engine) OnStateChanged(ctx context.Context, c state.Changed) {
	for _, cr := range e.rules {
		for _, st := range cr.stateTriggers {
			if st.entityID != "" && st.entityID != c.EntityID {
				continue
			}
			if st.property != "" && st.property != c.Attr {
				continue
			}
			if matchValue(st.match, c.Value) {
				e.invoke(ctx, cr, codec.Bindings{"entityId": c.EntityID, "value": c.Value})
				break
			}
		}
	}
}

// invoke starts (or queues, or drops, or restarts) one run of a rule's
// action list per its concurrency mode.
func (e *Engine) invoke(ctx context.Context, cr *compiledRule, bindings codec.Bindings) {
	rt := e.states[cr.rule.ID]
	run := func(runCtx context.Context) {
		if e.events != nil {
			e.events.RuleStarted(cr.rule.ID)
		}
		err := e.runActions(runCtx, cr, cr.rule.Then, bindings)
		if err != nil {
			if _, ok := err.(*stopInvocation); ok {
				err = nil
			} else {
				e.log.Warn("automation rule action failed", "rule", cr.rule.ID, "err", err)
			}
		}
		if e.events != nil {
			e.events.RuleFinished(cr.rule.ID, err)
		}
	}

	switch cr.rule.EffectiveMode() {
	case config.ModeParallel:
		runCtx, cancel := context.WithCancel(ctx)
		rt.mu.Lock()
		rt.running++
		rt.mu.Unlock()
		go func() {
			defer cancel()
			defer func() {
				rt.mu.Lock()
				rt.running--
				rt.mu.Unlock()
			}()
			run(runCtx)
		}()

	case config.ModeSingle:
		rt.mu.Lock()
		if rt.running > 0 {
			rt.mu.Unlock()
			return
		}
		rt.running++
		runCtx, cancel := context.WithCancel(ctx)
		rt.cancel = cancel
		rt.mu.Unlock()
		go func() {
			defer cancel()
			run(runCtx)
			rt.mu.Lock()
			rt.running--
			rt.mu.Unlock()
		}()

	case config.ModeRestart:
		rt.mu.Lock()
		if rt.cancel != nil {
			rt.cancel()
		}
		runCtx, cancel := context.WithCancel(ctx)
		rt.cancel = cancel
		rt.running = 1
		rt.mu.Unlock()
		go func() {
			run(runCtx)
			rt.mu.Lock()
			if rt.cancel != nil && runCtx.Err() == nil {
				rt.running = 0
			}
			rt.mu.Unlock()
		}()

	case config.ModeQueued:
		rt.mu.Lock()
		if rt.running > 0 {
			overflowed := false
			if len(rt.queue) >= maxQueueDepth {
				rt.queue = rt.queue[1:]
				rt.dropped++
				overflowed = true
				e.log.Warn("automation queued-mode backlog full, dropped oldest", "rule", cr.rule.ID)
			}
			rt.queue = append(rt.queue, run)
			dropped := rt.dropped
			rt.mu.Unlock()
			if overflowed && e.events != nil {
				e.events.QueueOverflow(cr.rule.ID, dropped)
			}
			return
		}
		rt.running++
		rt.mu.Unlock()
		go e.drainQueue(ctx, rt, run)
	}
}

// drainQueue runs fn and then, serially, everything enqueued behind it
// while fn (and each successor) was executing.
func (e *Engine) drainQueue(ctx context.Context, rt *ruleRuntime, fn func(context.Context)) {
	for {
		fn(ctx)
		rt.mu.Lock()
		if len(rt.queue) == 0 {
			rt.running--
			rt.mu.Unlock()
			return
		}
		fn = rt.queue[0]
		rt.queue = rt.queue[1:]
		rt.mu.Unlock()
	}
}
