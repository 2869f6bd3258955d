package automation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/homenetio/bridge/internal/config"
	"github.com/homenetio/bridge/internal/device"
	"github.com/homenetio/bridge/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type fakeWriter struct {
	mu     sync.Mutex
	frames [][]byte
}

func (w *fakeWriter) Write(ctx context.Context, frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = append(w.frames, append([]byte{}, frame...))
	return nil
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames)
}

type fakePublisher struct {
	mu    sync.Mutex
	calls []string
}

func (p *fakePublisher) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, topic)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func boolPtr(b bool) *bool { return &b }

type fakeEvents struct {
	mu        sync.Mutex
	started   []string
	finished  []string
	overflows []int64
}

func (e *fakeEvents) RuleStarted(ruleID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = append(e.started, ruleID)
}

func (e *fakeEvents) RuleFinished(ruleID string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finished = append(e.finished, ruleID)
}

func (e *fakeEvents) QueueOverflow(ruleID string, totalDropped int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.overflows = append(e.overflows, totalDropped)
}

func (e *fakeEvents) startedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.started)
}

func newTestEngine(t *testing.T, rules []*config.Rule) (*Engine, *fakeWriter, *fakePublisher) {
	t.Helper()
	eng, w, pub, _ := newTestEngineWithEvents(t, rules)
	return eng, w, pub
}

func newTestEngineWithEvents(t *testing.T, rules []*config.Rule) (*Engine, *fakeWriter, *fakePublisher, *fakeEvents) {
	t.Helper()
	reg := device.New(nil, nil, nil)
	store := state.New()
	w := &fakeWriter{}
	pub := &fakePublisher{}
	ev := &fakeEvents{}
	eng, err := New(rules, reg, store, nil, w, pub, nil, config.PacketDefaults{}, ev, nil)
	require.NoError(t, err)
	return eng, w, pub, ev
}

func TestPacketTriggerInvokesPublish(t *testing.T) {
	rule := &config.Rule{
		ID:   "r1",
		Mode: config.ModeParallel,
		Trigger: []config.Trigger{
			{Platform: "packet", Match: matchNode(t, map[string]any{"data": []int{0x01}})},
		},
		Then: []config.Action{{Do: "publish", Topic: "homenet/bridge/event", Payload: "fired"}},
	}
	eng, _, pub := newTestEngine(t, []*config.Rule{rule})

	eng.OnPacket(context.Background(), []byte{0x01, 0x02})

	assert.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSingleModeDropsWhileRunning(t *testing.T) {
	rule := &config.Rule{
		ID:   "r1",
		Mode: config.ModeSingle,
		Trigger: []config.Trigger{
			{Platform: "packet", Match: matchNode(t, map[string]any{"data": []int{0x01}})},
		},
		Then: []config.Action{{Do: "delay", Delay: "50ms"}, {Do: "publish", Topic: "t", Payload: "x"}},
	}
	eng, _, pub := newTestEngine(t, []*config.Rule{rule})

	eng.OnPacket(context.Background(), []byte{0x01})
	eng.OnPacket(context.Background(), []byte{0x01})
	eng.OnPacket(context.Background(), []byte{0x01})

	assert.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, pub.count())
}

func TestQueuedModeRunsSerially(t *testing.T) {
	rule := &config.Rule{
		ID:   "r1",
		Mode: config.ModeQueued,
		Trigger: []config.Trigger{
			{Platform: "packet", Match: matchNode(t, map[string]any{"data": []int{0x01}})},
		},
		Then: []config.Action{{Do: "delay", Delay: "10ms"}, {Do: "publish", Topic: "t", Payload: "x"}},
	}
	eng, _, pub := newTestEngine(t, []*config.Rule{rule})

	for i := 0; i < 3; i++ {
		eng.OnPacket(context.Background(), []byte{0x01})
	}
	assert.Eventually(t, func() bool { return pub.count() == 3 }, time.Second, 5*time.Millisecond)
}

func TestStateTriggerMatchesProperty(t *testing.T) {
	rule := &config.Rule{
		ID:   "r1",
		Mode: config.ModeParallel,
		Trigger: []config.Trigger{
			{Platform: "state", EntityID: "fan1", Property: "speed", Match: scalarNode(t, "high")},
		},
		Then: []config.Action{{Do: "publish", Topic: "t", Payload: "x"}},
	}
	eng, _, pub := newTestEngine(t, []*config.Rule{rule})

	eng.OnStateChanged(context.Background(), state.Changed{EntityID: "fan1", Attr: "speed", Value: "low"})
	eng.OnStateChanged(context.Background(), state.Changed{EntityID: "fan1", Attr: "speed", Value: "high"})

	assert.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestStopActionShortCircuits(t *testing.T) {
	rule := &config.Rule{
		ID:   "r1",
		Mode: config.ModeParallel,
		Trigger: []config.Trigger{
			{Platform: "packet", Match: matchNode(t, map[string]any{"data": []int{0x01}})},
		},
		Then: []config.Action{{Do: "stop", Reason: "done"}, {Do: "publish", Topic: "t", Payload: "x"}},
	}
	eng, _, pub := newTestEngine(t, []*config.Rule{rule})

	eng.OnPacket(context.Background(), []byte{0x01})
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, pub.count())
}

func TestRepeatActionTimes(t *testing.T) {
	rule := &config.Rule{
		ID:   "r1",
		Mode: config.ModeParallel,
		Trigger: []config.Trigger{
			{Platform: "packet", Match: matchNode(t, map[string]any{"data": []int{0x01}})},
		},
		Then: []config.Action{{Do: "repeat", Times: 3, Then: []config.Action{{Do: "publish", Topic: "t", Payload: "x"}}}},
	}
	eng, _, pub := newTestEngine(t, []*config.Rule{rule})

	eng.OnPacket(context.Background(), []byte{0x01})
	assert.Eventually(t, func() bool { return pub.count() == 3 }, time.Second, 5*time.Millisecond)
}

func TestEventsRuleStartedFinished(t *testing.T) {
	rule := &config.Rule{
		ID:   "r1",
		Mode: config.ModeParallel,
		Trigger: []config.Trigger{
			{Platform: "packet", Match: matchNode(t, map[string]any{"data": []int{0x01}})},
		},
		Then: []config.Action{{Do: "publish", Topic: "t", Payload: "x"}},
	}
	eng, _, _, ev := newTestEngineWithEvents(t, []*config.Rule{rule})

	eng.OnPacket(context.Background(), []byte{0x01})

	assert.Eventually(t, func() bool { return ev.startedCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		ev.mu.Lock()
		defer ev.mu.Unlock()
		return len(ev.finished) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEventsQueueOverflowReported(t *testing.T) {
	rule := &config.Rule{
		ID:   "r1",
		Mode: config.ModeQueued,
		Trigger: []config.Trigger{
			{Platform: "packet", Match: matchNode(t, map[string]any{"data": []int{0x01}})},
		},
		Then: []config.Action{{Do: "delay", Delay: "50ms"}, {Do: "publish", Topic: "t", Payload: "x"}},
	}
	eng, _, _, ev := newTestEngineWithEvents(t, []*config.Rule{rule})

	for i := 0; i < maxQueueDepth+3; i++ {
		eng.OnPacket(context.Background(), []byte{0x01})
	}

	assert.Eventually(t, func() bool {
		ev.mu.Lock()
		defer ev.mu.Unlock()
		return len(ev.overflows) > 0
	}, time.Second, 5*time.Millisecond)
}

func TestParseTargetLiteralArg(t *testing.T) {
	tg, err := parseTarget(`id(fan1).command_speed(2)`)
	require.NoError(t, err)
	assert.Equal(t, "fan1", tg.entityID)
	assert.Equal(t, "speed", tg.command)
	assert.Equal(t, int64(2), literalArg(tg.argRaw))
}

func TestParseTargetNoArg(t *testing.T) {
	tg, err := parseTarget(`id(fan1).command_on()`)
	require.NoError(t, err)
	assert.Equal(t, "on", tg.command)
	assert.False(t, tg.hasArg)
}

func TestQueuedModeDropsOldestBeyondLimit(t *testing.T) {
	rule := &config.Rule{
		ID:   "r1",
		Mode: config.ModeQueued,
		Trigger: []config.Trigger{
			{Platform: "packet", Match: matchNode(t, map[string]any{"data": []int{0x01}})},
		},
		Then: []config.Action{{Do: "delay", Delay: "200ms"}, {Do: "publish", Topic: "t", Payload: "x"}},
	}
	eng, _, _ := newTestEngine(t, []*config.Rule{rule})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The first packet starts a run; the next maxQueueDepth+4 queue behind
	// it, so the 4 oldest queued invocations are dropped.
	for i := 0; i < maxQueueDepth+5; i++ {
		eng.OnPacket(ctx, []byte{0x01})
	}

	rt := eng.states["r1"]
	rt.mu.Lock()
	defer rt.mu.Unlock()
	assert.Len(t, rt.queue, maxQueueDepth)
	assert.Equal(t, int64(4), rt.dropped)
}

// matchNode/scalarNode build yaml.Node fixtures without going through
// the file loader, for tests that only need a Trigger's Match field.
func matchNode(t *testing.T, m map[string]any) yaml.Node {
	t.Helper()
	return encodeNode(t, m)
}

func scalarNode(t *testing.T, v any) yaml.Node {
	t.Helper()
	return encodeNode(t, v)
}

func encodeNode(t *testing.T, v any) yaml.Node {
	t.Helper()
	var n yaml.Node
	require.NoError(t, n.Encode(v))
	return n
}
