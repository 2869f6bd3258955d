package device

import (
	"context"
	"testing"

	"github.com/homenetio/bridge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int { return &i }

// fanEntity covers decoding a fan's speed out
// of a masked nibble; it declares no on/off sub-schemas, so its typed
// dispatch contributes nothing beyond the generic speed fallthrough.
func fanEntity() *config.Entity {
	return &config.Entity{
		Type: config.EntityFan,
		ID:   "living_room_fan",
		Name: "Living Room Fan",
		State: &config.StateSchema{
			Offset: intPtr(0), Data: config.ByteList{0x50}, Mask: config.ByteList{0xF0},
		},
		Sub: map[string]*config.StateSchema{
			"speed": {
				Offset: intPtr(0), Length: intPtr(1), Mask: config.ByteList{0x0F},
				Decode: config.DecodeRawUint, AllowEmptyData: true,
				Mapping: map[int]string{0: "off", 1: "low", 2: "medium", 3: "high"},
			},
		},
		Commands: map[string]*config.CommandSchema{},
	}
}

func TestDecodeFanSpeed(t *testing.T) {
	reg := New([]*config.Entity{fanEntity()}, nil, nil)
	updates := reg.Decode(context.Background(), []byte{0x52})

	require.Len(t, updates, 1)
	assert.Equal(t, "living_room_fan", updates[0].EntityID)
	assert.Equal(t, "speed", updates[0].Attr)
	assert.Equal(t, "medium", updates[0].Value)
}

func TestDecodeNoMatchYieldsNoUpdates(t *testing.T) {
	reg := New([]*config.Entity{fanEntity()}, nil, nil)
	updates := reg.Decode(context.Background(), []byte{0x10})
	assert.Empty(t, updates)
}

func TestCommandUnknownEntity(t *testing.T) {
	reg := New([]*config.Entity{fanEntity()}, nil, nil)
	_, err := reg.Command("nonexistent", "on")
	assert.Error(t, err)
}

func TestAssembleCommand(t *testing.T) {
	e := fanEntity()
	e.Commands["speed"] = &config.CommandSchema{
		Data: config.ByteList{0x50}, ValueOffset: intPtr(0), Length: 1,
		Mapping: map[string]int{"off": 0x50, "low": 0x51, "medium": 0x52, "high": 0x53},
	}
	reg := New([]*config.Entity{e}, nil, nil)

	out, err := reg.Assemble(context.Background(), "living_room_fan", "speed", "medium")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x52}, out)
}

// TestDecodeLightOnOffFirstMatchWins covers the Light/Switch/Valve/
// Lock/BinarySensor typed group: a discrete "state" property derived
// from whichever of state_on/state_off matches first, not the raw
// primary schema value.
func TestDecodeLightOnOffFirstMatchWins(t *testing.T) {
	light := &config.Entity{
		Type: config.EntityLight,
		ID:   "porch_light",
		State: &config.StateSchema{
			Offset: intPtr(0), Data: config.ByteList{0x11}, AllowEmptyData: true,
		},
		Sub: map[string]*config.StateSchema{
			"on":  {Offset: intPtr(1), Data: config.ByteList{0x01}},
			"off": {Offset: intPtr(1), Data: config.ByteList{0x00}},
		},
		Commands: map[string]*config.CommandSchema{},
	}
	reg := New([]*config.Entity{light}, nil, nil)

	on := reg.Decode(context.Background(), []byte{0x11, 0x01})
	require.Len(t, on, 1)
	assert.Equal(t, "state", on[0].Attr)
	assert.Equal(t, "ON", on[0].Value)

	off := reg.Decode(context.Background(), []byte{0x11, 0x00})
	require.Len(t, off, 1)
	assert.Equal(t, "state", off[0].Attr)
	assert.Equal(t, "OFF", off[0].Value)
}

// TestDecodeFanSpeedOscillatingDirection reproduces the fan decode
// scenario: primary selector at offset 0, speed as a raw percentage,
// oscillating collapsing to a bool, and direction resolving to the
// forward|reverse enum from a single binary sub-schema.
func TestDecodeFanSpeedOscillatingDirection(t *testing.T) {
	fan := &config.Entity{
		Type: config.EntityFan,
		ID:   "bedroom_fan",
		State: &config.StateSchema{
			Offset: intPtr(0), Data: config.ByteList{0x40},
		},
		Sub: map[string]*config.StateSchema{
			"on":          {Offset: intPtr(1), Data: config.ByteList{0x01}},
			"off":         {Offset: intPtr(1), Data: config.ByteList{0x00}},
			"speed":       {Offset: intPtr(2), Length: intPtr(1), AllowEmptyData: true},
			"oscillating": {Offset: intPtr(3), Data: config.ByteList{0x01}},
			"direction":   {Offset: intPtr(4), Data: config.ByteList{0x00}},
		},
		Commands: map[string]*config.CommandSchema{},
	}
	reg := New([]*config.Entity{fan}, nil, nil)

	updates := reg.Decode(context.Background(), []byte{0x40, 0x01, 0x32, 0x01, 0x00})

	byAttr := map[string]any{}
	for _, u := range updates {
		assert.Equal(t, "bedroom_fan", u.EntityID)
		byAttr[u.Attr] = u.Value
	}
	assert.Equal(t, "ON", byAttr["state"])
	assert.Equal(t, uint64(50), byAttr["speed"])
	assert.Equal(t, true, byAttr["oscillating"])
	assert.Equal(t, "forward", byAttr["direction"])
}

// TestDecodeClimateMaskedModeAndTemperatures reproduces the masked
// climate decode scenario: a masked primary selector, BCD-decoded
// current/target temperatures, and mode resolved from the first
// matching state_<mode> candidate (here state_off).
func TestDecodeClimateMaskedModeAndTemperatures(t *testing.T) {
	climate := &config.Entity{
		Type: config.EntityClimate,
		ID:   "hallway_thermostat",
		State: &config.StateSchema{
			Data: config.ByteList{0x80, 0x00, 0x04}, Mask: config.ByteList{0xF9, 0x00, 0xFF},
		},
		Sub: map[string]*config.StateSchema{
			"off":                 {Offset: intPtr(1), Data: config.ByteList{0x80}},
			"temperature_current": {Offset: intPtr(3), Length: intPtr(1), Decode: config.DecodeBCD, AllowEmptyData: true},
			"temperature_target":  {Offset: intPtr(4), Length: intPtr(1), Decode: config.DecodeBCD, AllowEmptyData: true},
		},
		Commands: map[string]*config.CommandSchema{},
	}
	reg := New([]*config.Entity{climate}, nil, nil)

	updates := reg.Decode(context.Background(), []byte{0x82, 0x80, 0x04, 0x22, 0x15, 0x00, 0x00, 0x3D})

	byAttr := map[string]any{}
	for _, u := range updates {
		assert.Equal(t, "hallway_thermostat", u.EntityID)
		byAttr[u.Attr] = u.Value
	}
	assert.Equal(t, "off", byAttr["mode"])
	assert.Equal(t, int64(22), byAttr["temperature_current"])
	assert.Equal(t, int64(15), byAttr["temperature_target"])
}

// TestDecodeButtonEmitsPressEvent covers the transient Button type:
// a match produces a "pressed" event rather than any persisted value.
func TestDecodeButtonEmitsPressEvent(t *testing.T) {
	button := &config.Entity{
		Type:  config.EntityButton,
		ID:    "doorbell",
		State: &config.StateSchema{Offset: intPtr(0), Data: config.ByteList{0xF0}},
	}
	reg := New([]*config.Entity{button}, nil, nil)

	updates := reg.Decode(context.Background(), []byte{0xF0})
	require.Len(t, updates, 1)
	assert.Equal(t, "pressed", updates[0].Attr)
	assert.Equal(t, true, updates[0].Value)
}
