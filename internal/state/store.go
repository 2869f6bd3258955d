// Package state implements the StateStore: the
// per-entity merged view of decoded attributes, deduplicated so that
// two consecutive identical decodes for the same entity yield exactly
// one publish.
package state

import (
	"fmt"
	"sync"

	"github.com/homenetio/bridge/internal/device"
)

// Snapshot is the merged, current view of one entity's attributes.
// Attr "" holds the primary value.
type Snapshot map[string]any

// Changed is emitted on the event bus once per attribute that actually
// changed value.
type Changed struct {
	EntityID string
	Attr     string
	Value    any
	Old      any
}

// Store holds the merged state for every entity on one bus and
// fan-outs Changed events to subscribers. It is safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	byID map[string]Snapshot

	subMu sync.RWMutex
	subs  []chan<- Changed
}

// New constructs an empty Store.
func New() *Store {
	return &Store{byID: make(map[string]Snapshot)}
}

// Subscribe registers ch to receive every future Changed event. Sends
// are non-blocking: a subscriber that falls behind drops events rather
// than stalling the bus's decode path.
func (s *Store) Subscribe(ch chan<- Changed) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subs = append(s.subs, ch)
}

// Get returns the current snapshot for one entity, or nil if nothing
// has been decoded for it yet.
func (s *Store) Get(entityID string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.byID[entityID]
	if !ok {
		return nil
	}
	out := make(Snapshot, len(snap))
	for k, v := range snap {
		out[k] = v
	}
	return out
}

// Merge applies one decoded StateUpdate, publishing a Changed event
// only when the attribute's value actually differs from what's
// currently stored (fingerprint-dedupe: two consecutive
// identical merges yield exactly one publish").
func (s *Store) Merge(u device.StateUpdate) {
	s.mu.Lock()
	snap, ok := s.byID[u.EntityID]
	if !ok {
		snap = make(Snapshot)
		s.byID[u.EntityID] = snap
	}
	old, existed := snap[u.Attr]
	changed := !existed || !equalValue(old, u.Value)
	snap[u.Attr] = u.Value
	s.mu.Unlock()

	if !changed {
		return
	}
	s.broadcast(Changed{EntityID: u.EntityID, Attr: u.Attr, Value: u.Value, Old: old})
}

// MergeAll applies a batch of updates, as produced by one
// device.Registry.Decode call for a single packet.
func (s *Store) MergeAll(updates []device.StateUpdate) {
	for _, u := range updates {
		s.Merge(u)
	}
}

func (s *Store) broadcast(c Changed) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

// equalValue compares decoded values the way the merge step needs to:
// ordinary == for comparable kinds, with a fallback that treats
// differently-typed numerics holding the same magnitude as equal so a
// schema change between uint64/int64/float64 representations of "the
// same number" doesn't spuriously fire.
func equalValue(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := numericValue(a)
	bf, bok := numericValue(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func numericValue(v any) (float64, bool) {
	switch x := v.(type) {
	case uint64:
		return float64(x), true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}
