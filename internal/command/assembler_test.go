package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/homenetio/bridge/internal/codec"
	"github.com/homenetio/bridge/internal/config"
	"github.com/homenetio/bridge/internal/device"
	"github.com/homenetio/bridge/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu     sync.Mutex
	frames [][]byte
}

func (w *recordingWriter) Write(ctx context.Context, frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = append(w.frames, append([]byte{}, frame...))
	return nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames)
}

func intPtr(i int) *int { return &i }

func fanEntityWithCommand() *config.Entity {
	return &config.Entity{
		ID:   "fan1",
		Type: config.EntityFan,
		State: &config.StateSchema{
			Data: config.ByteList{0x50},
		},
		Sub: map[string]*config.StateSchema{},
		Commands: map[string]*config.CommandSchema{
			"on": {
				Data: config.ByteList{0x01, 0x00},
			},
			"on_with_ack": {
				Data:       config.ByteList{0x01, 0x00},
				Ack:        &config.StateSchema{Data: config.ByteList{0xAA}},
				AckTimeout: "20ms",
			},
		},
	}
}

func TestSendFramesWithHeaderFooterChecksum(t *testing.T) {
	reg := device.New([]*config.Entity{fanEntityWithCommand()}, nil, nil)
	defaults := config.PacketDefaults{
		TxHeader:   config.ByteList{0x02},
		TxFooter:   config.ByteList{0x03},
		TxChecksum: config.ChecksumAdd,
	}
	w := &recordingWriter{}
	asm := New(reg, defaults, w, nil, nil)

	err := asm.Send(context.Background(), "fan1", "on", nil)
	require.NoError(t, err)
	require.Equal(t, 1, w.count())

	got := w.frames[0]
	// header(0x02) + payload(0x01,0x00) + checksum(add over header+payload: 0x02+0x01+0x00=0x03) + footer(0x03)
	assert.Equal(t, []byte{0x02, 0x01, 0x00, 0x03, 0x03}, got)
}

func TestSendWithAckOpensPendingAndResolveClears(t *testing.T) {
	reg := device.New([]*config.Entity{fanEntityWithCommand()}, nil, nil)
	defaults := config.PacketDefaults{}
	w := &recordingWriter{}
	asm := New(reg, defaults, w, nil, nil)

	err := asm.Send(context.Background(), "fan1", "on_with_ack", nil)
	require.NoError(t, err)
	assert.True(t, asm.Pending("fan1", "on_with_ack"))

	asm.Resolve(context.Background(), codec.Evaluator(nil), []byte{0xAA})
	assert.False(t, asm.Pending("fan1", "on_with_ack"))
}

func TestSendWithAckRetriesOnTimeout(t *testing.T) {
	reg := device.New([]*config.Entity{fanEntityWithCommand()}, nil, nil)
	defaults := config.PacketDefaults{}
	w := &recordingWriter{}
	asm := New(reg, defaults, w, nil, nil)

	err := asm.Send(context.Background(), "fan1", "on_with_ack", nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return w.count() >= 2 }, time.Second, 5*time.Millisecond)
}

func optimisticLampEntity() *config.Entity {
	return &config.Entity{
		ID: "lamp1", Type: config.EntityLight, Optimistic: true,
		Sub: map[string]*config.StateSchema{}, Commands: map[string]*config.CommandSchema{},
	}
}

func TestSendOptimisticDefaultOnOffToggle(t *testing.T) {
	reg := device.New([]*config.Entity{optimisticLampEntity()}, nil, nil)
	store := state.New()
	w := &recordingWriter{}
	asm := New(reg, config.PacketDefaults{}, w, store, nil)

	require.NoError(t, asm.Send(context.Background(), "lamp1", "on", nil))
	assert.Equal(t, "ON", store.Get("lamp1")["state"])
	assert.Zero(t, w.count(), "optimistic default must not write to the transport")

	require.NoError(t, asm.Send(context.Background(), "lamp1", "toggle", nil))
	assert.Equal(t, "OFF", store.Get("lamp1")["state"])

	require.NoError(t, asm.Send(context.Background(), "lamp1", "off", nil))
	assert.Equal(t, "OFF", store.Get("lamp1")["state"])
}

func TestSendUnknownCommandWithoutOptimisticStillErrors(t *testing.T) {
	reg := device.New([]*config.Entity{fanEntityWithCommand()}, nil, nil)
	w := &recordingWriter{}
	asm := New(reg, config.PacketDefaults{}, w, state.New(), nil)

	err := asm.Send(context.Background(), "fan1", "nonexistent", nil)
	assert.Error(t, err)
}
