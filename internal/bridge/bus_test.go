package bridge

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/homenetio/bridge/internal/config"
	"github.com/homenetio/bridge/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// fakePort is a transport.Port double that never produces inbound
// bytes on its own; tests drive ingestion directly via Bus.ingest and
// only inspect what gets written back out.
type fakePort struct {
	mu     sync.Mutex
	writes [][]byte
}

func (p *fakePort) Read(b []byte) (int, error) { return 0, io.EOF }

func (p *fakePort) Write(ctx context.Context, b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, append([]byte{}, b...))
	return nil
}

func (p *fakePort) Close() error { return nil }

func (p *fakePort) writeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.writes)
}

func (p *fakePort) snapshot() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.writes))
	copy(out, p.writes)
	return out
}

func intPtr(i int) *int { return &i }

func matchNode(t *testing.T, v any) yaml.Node {
	t.Helper()
	var n yaml.Node
	require.NoError(t, n.Encode(v))
	return n
}

// TestPacketTriggerSendsExactlyOnePacket feeds a fixed-length bus a
// packet that matches a rule's trigger and checks the rule's
// send_packet action produces exactly one outbound write of the
// declared bytes, untouched (no header/footer/checksum configured).
func TestPacketTriggerSendsExactlyOnePacket(t *testing.T) {
	cfg := &config.BusConfig{
		Name: "garage",
		PacketDefaults: config.PacketDefaults{
			RxLength:   intPtr(4),
			RxChecksum: config.ChecksumNone,
		},
		Automation: []*config.Rule{{
			ID:   "open-on-trigger",
			Mode: config.ModeParallel,
			Trigger: []config.Trigger{
				{Platform: "packet", Match: matchNode(t, map[string]any{"data": []int{0xAD, 0x5A, 0x00, 0x77}})},
			},
			Then: []config.Action{
				{Do: "send_packet", Data: config.ByteList{0xB0, 0x5A, 0x00, 0x6A}},
			},
		}},
	}

	port := &fakePort{}
	bus, err := New(cfg, port, nil, nil, "homenet", nil)
	require.NoError(t, err)

	bus.ingest(context.Background(), []byte{0xAD, 0x5A, 0x00, 0x77})

	assert.Eventually(t, func() bool { return port.writeCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	writes := port.snapshot()
	require.Len(t, writes, 1)
	assert.Equal(t, []byte{0xB0, 0x5A, 0x00, 0x6A}, writes[0])
}

// TestStateTriggerRestartModeCancelsEarlierInvocation covers a
// restart-mode rule whose action chain is send_packet, then a delay,
// then a command: firing its state trigger twice in quick succession
// must cancel the first invocation's pending delay so only the second
// invocation's command ever reaches the transport.
func TestStateTriggerRestartModeCancelsEarlierInvocation(t *testing.T) {
	cfg := &config.BusConfig{
		Name: "elevator",
		Entities: []*config.Entity{{
			ID:         "elevator_call",
			Optimistic: true,
			Commands: map[string]*config.CommandSchema{
				"off": {Data: config.ByteList{0xE0}},
			},
		}},
		Automation: []*config.Rule{{
			ID:   "elevator-call-timeout",
			Mode: config.ModeRestart,
			Trigger: []config.Trigger{
				{Platform: "state", EntityID: "elevator_call", Property: "state", Match: matchNode(t, "on")},
			},
			Then: []config.Action{
				{Do: "send_packet", Data: config.ByteList{0xA1}},
				{Do: "delay", Delay: "30ms"},
				{Do: "command", Target: "id(elevator_call).command_off()"},
			},
		}},
	}

	port := &fakePort{}
	bus, err := New(cfg, port, nil, nil, "homenet", nil)
	require.NoError(t, err)

	ctx := context.Background()
	bus.engine.Start(ctx)
	defer bus.engine.Stop()

	bus.engine.OnStateChanged(ctx, state.Changed{EntityID: "elevator_call", Attr: "state", Value: "on"})
	time.Sleep(10 * time.Millisecond)
	bus.engine.OnStateChanged(ctx, state.Changed{EntityID: "elevator_call", Attr: "state", Value: "on"})

	var offCount int
	assert.Eventually(t, func() bool {
		offCount = 0
		for _, w := range port.snapshot() {
			if len(w) == 1 && w[0] == 0xE0 {
				offCount++
			}
		}
		return offCount > 0
	}, time.Second, 5*time.Millisecond)

	// Give any surviving-but-spurious second invocation time to also
	// reach the off command, if cancellation had failed to take hold.
	time.Sleep(60 * time.Millisecond)
	offCount = 0
	for _, w := range port.snapshot() {
		if len(w) == 1 && w[0] == 0xE0 {
			offCount++
		}
	}
	assert.Equal(t, 1, offCount, "exactly one eventual command off; the first invocation must be cancelled")
}
