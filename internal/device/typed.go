package device

import (
	"context"
	"strings"

	"github.com/homenetio/bridge/internal/codec"
	"github.com/homenetio/bridge/internal/config"
)

// onOffCandidates/modeCandidates/actionCandidates name the sub-schema
// keys the typed layer treats as a first-match-wins discrete group,
// per the dispatch table entity type describes for Light/Switch/
// Valve/Lock/BinarySensor/Fan (state) and Climate (mode, action).
var onOffCandidates = []string{"on", "off"}

var modeCandidates = []string{"off", "heat", "cool", "auto", "dry", "fan_only", "heat_cool"}

var actionCandidates = []string{"heating", "cooling", "idle"}

// typedPrimarySuppressed is the set of entity types whose typed
// dispatch fully describes the decoded state, so the generic primary
// "" extraction (meant for entities with no sub-schema taxonomy, like
// a bare sensor) would otherwise surface as a meaningless stray field.
var typedPrimarySuppressed = map[config.EntityType]bool{
	config.EntityLight:        true,
	config.EntitySwitch:       true,
	config.EntityValve:        true,
	config.EntityLock:         true,
	config.EntityBinarySensor: true,
	config.EntityFan:          true,
	config.EntityClimate:      true,
	config.EntityButton:       true,
}

// fanDirectionForward/fanDirectionReverse are the two labels fan's
// direction sub-schema resolves to: the schema matching is "forward",
// anything else is "reverse" (spec's forward|reverse enum keyed off
// one binary sub-schema rather than a pair like on/off).
const (
	fanDirectionForward = "forward"
	fanDirectionReverse = "reverse"
)

// fanBoolAttrs names fan sub-schema keys that resolve to a boolean
// presence (did the schema match) rather than a decoded numeric value.
var fanBoolAttrs = map[string]bool{"oscillating": true}

// decodeTyped derives one entity's type-specific named properties:
// on/off discrete state, climate mode/action, and fan's
// oscillating/direction coercions, falling through to the generic
// sub-schema decode for everything the type doesn't specialise.
func (r *Registry) decodeTyped(ctx context.Context, e *config.Entity, packet []byte) []StateUpdate {
	var out []StateUpdate
	consumed := map[string]bool{}

	switch e.Type {
	case config.EntityLight, config.EntitySwitch, config.EntityValve, config.EntityLock, config.EntityBinarySensor, config.EntityFan:
		consumed["on"] = true
		consumed["off"] = true
		if label, ok := r.firstMatchingLabel(ctx, e, packet, onOffCandidates); ok {
			out = append(out, StateUpdate{EntityID: e.ID, Attr: "state", Value: strings.ToUpper(label)})
		}

	case config.EntityClimate:
		for _, c := range modeCandidates {
			consumed[c] = true
		}
		if label, ok := r.firstMatchingLabel(ctx, e, packet, modeCandidates); ok {
			out = append(out, StateUpdate{EntityID: e.ID, Attr: "mode", Value: label})
		}
		for _, c := range actionCandidates {
			consumed[c] = true
		}
		if label, ok := r.firstMatchingLabel(ctx, e, packet, actionCandidates); ok {
			out = append(out, StateUpdate{EntityID: e.ID, Attr: "action", Value: label})
		}

	case config.EntityButton:
		out = append(out, StateUpdate{EntityID: e.ID, Attr: "pressed", Value: true})
	}

	if e.Type == config.EntityFan {
		if sub, ok := e.Sub["direction"]; ok {
			consumed["direction"] = true
			value := fanDirectionReverse
			if codec.Matches(ctx, r.eval, sub, packet, 0, nil) {
				value = fanDirectionForward
			}
			out = append(out, StateUpdate{EntityID: e.ID, Attr: "direction", Value: value})
		}
	}

	for attr, sub := range e.Sub {
		if consumed[attr] {
			continue
		}
		if !codec.Matches(ctx, r.eval, sub, packet, 0, nil) {
			continue
		}
		v, err := codec.Extract(sub, packet, 0)
		if err != nil {
			r.log.Debug("sub state extract failed", "entity", e.ID, "attr", attr, "err", err)
			continue
		}
		if e.Type == config.EntityFan && fanBoolAttrs[attr] {
			v = numericTruthy(v)
		}
		out = append(out, StateUpdate{EntityID: e.ID, Attr: attr, Value: v})
	}
	return out
}

// firstMatchingLabel returns the first candidate (in declared order)
// whose sub-schema is present on e and matches packet.
func (r *Registry) firstMatchingLabel(ctx context.Context, e *config.Entity, packet []byte, candidates []string) (string, bool) {
	for _, c := range candidates {
		sub, ok := e.Sub[c]
		if !ok {
			continue
		}
		if codec.Matches(ctx, r.eval, sub, packet, 0, nil) {
			return c, true
		}
	}
	return "", false
}

// numericTruthy coerces a decoded numeric value to a bool (nonzero is
// true); non-numeric values pass through unchanged.
func numericTruthy(v any) any {
	switch x := v.(type) {
	case uint64:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	default:
		return v
	}
}
