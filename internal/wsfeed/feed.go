// Package wsfeed is a diagnostic, read-only websocket feed for a
// dashboard. Nothing in the core packages depends on it; events reach
// it only through Publish, which the bus calls for each state change
// and each automation queue overflow.
package wsfeed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// event is the JSON shape pushed to every connected client.
type event struct {
	EntityID string `json:"entityId"`
	Attr     string `json:"attr"`
	Value    any    `json:"value"`
}

// Feed fans one upstream event source out to any number of connected
// websocket clients.
type Feed struct {
	log *slog.Logger

	mu      sync.Mutex
	clients map[chan event]struct{}
}

// New constructs an empty Feed.
func New(log *slog.Logger) *Feed {
	if log == nil {
		log = slog.Default()
	}
	return &Feed{log: log, clients: make(map[chan event]struct{})}
}

// Publish fans one event out to every connected client, never blocking
// on a slow reader.
func (f *Feed) Publish(entityID, attr string, value any) {
	ev := event{EntityID: entityID, Attr: attr, Value: value}
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Handler serves GET /ws/events, upgrading to a websocket connection
// and streaming events until the client disconnects.
func (f *Feed) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			f.log.Warn("wsfeed: accept failed", "err", err)
			return
		}
		defer conn.CloseNow()

		ch := make(chan event, 32)
		f.mu.Lock()
		f.clients[ch] = struct{}{}
		f.mu.Unlock()
		defer func() {
			f.mu.Lock()
			delete(f.clients, ch)
			f.mu.Unlock()
		}()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-ch:
				if err := wsjson.Write(ctx, conn, ev); err != nil {
					return
				}
			}
		}
	}
}

// MarshalEvent is exposed for tests that need the exact wire shape
// without standing up a real websocket connection.
func MarshalEvent(entityID, attr string, value any) ([]byte, error) {
	return json.Marshal(event{EntityID: entityID, Attr: attr, Value: value})
}
