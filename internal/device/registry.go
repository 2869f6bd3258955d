// Package device is the typed per-entity dispatch layer:
// it walks the entities declared in a bus's config against an incoming
// packet and turns schema matches into typed state updates, and turns
// outbound command requests into assembled payload bytes.
package device

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/homenetio/bridge/internal/codec"
	"github.com/homenetio/bridge/internal/config"
)

// StateUpdate is one decoded attribute for one entity, ready for the
// state store to merge. Attr is "" for an entity's
// primary state value and the sub-key (e.g. "speed", "mode") otherwise.
type StateUpdate struct {
	EntityID string
	Attr     string
	Value    any
}

// Registry holds one bus's entity catalog and resolves packets against
// it. It is read-only after construction and safe for concurrent use.
type Registry struct {
	entities []*config.Entity
	byID     map[string]*config.Entity
	eval     codec.Evaluator
	log      *slog.Logger
}

// New builds a Registry from a bus's declared entities.
func New(entities []*config.Entity, eval codec.Evaluator, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{entities: entities, eval: eval, log: log, byID: make(map[string]*config.Entity, len(entities))}
	for _, e := range entities {
		r.byID[e.ID] = e
	}
	return r
}

// Entity looks up one entity by its declared id.
func (r *Registry) Entity(id string) *config.Entity {
	return r.byID[id]
}

// AllEntityIDs returns every declared entity's id, in catalog order.
func (r *Registry) AllEntityIDs() []string {
	out := make([]string, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e.ID)
	}
	return out
}

// Decode walks every entity's primary state schema against packet and,
// for each that matches, dispatches to the per-entity-type typed layer
// (decodeTyped) to derive its named properties: entity types with a
// known typed representation (on/off for Light/Switch/Valve/Lock/
// BinarySensor/Fan, mode/action for Climate, a press event for Button)
// skip the raw primary value in favor of that derived form; everything
// else — Sensor, Number, Select, Text, TextSensor — keeps the primary
// schema's own extracted value as its reading.
func (r *Registry) Decode(ctx context.Context, packet []byte) []StateUpdate {
	var out []StateUpdate
	for _, e := range r.entities {
		if e.State == nil || !codec.Matches(ctx, r.eval, e.State, packet, 0, nil) {
			continue
		}
		if !typedPrimarySuppressed[e.Type] {
			v, err := codec.Extract(e.State, packet, 0)
			if err != nil {
				r.log.Debug("primary state extract failed", "entity", e.ID, "err", err)
			} else {
				out = append(out, StateUpdate{EntityID: e.ID, Value: v})
			}
		}
		out = append(out, r.decodeTyped(ctx, e, packet)...)
	}
	return out
}

// Command resolves the named command schema ("on", "speed", ...) on an
// entity, mirroring the "command_NAME" sibling keys in config.
func (r *Registry) Command(entityID, name string) (*config.CommandSchema, error) {
	e := r.byID[entityID]
	if e == nil {
		return nil, fmt.Errorf("device: unknown entity %q", entityID)
	}
	c, ok := e.Commands[name]
	if !ok {
		return nil, fmt.Errorf("device: entity %q has no command %q", entityID, name)
	}
	return c, nil
}

// Assemble resolves and constructs the outbound payload for a command
// invocation in one step.
func (r *Registry) Assemble(ctx context.Context, entityID, name string, value any) ([]byte, error) {
	c, err := r.Command(entityID, name)
	if err != nil {
		return nil, err
	}
	return codec.Construct(ctx, r.eval, c, value)
}
