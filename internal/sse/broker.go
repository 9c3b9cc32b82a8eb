// Package sse streams catalog change notifications to browsers as
// Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeComponentIngested = "component.ingested"
	TypeComponentLinked   = "component.linked"
	TypeTagRegistered     = "tag.registered"
	TypeCatalogUpdated    = "catalog.updated" // rate-limited summary of the above
)

const clientBuffer = 64

// keepAlive is how long a stream may sit idle before a comment line is sent.
var keepAlive = 25 * time.Second

// Event is one notification.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ComponentChange describes a change to one component.
type ComponentChange struct {
	Key     string `json:"key"`
	Name    string `json:"name"`
	Created int    `json:"created,omitempty"` // edges created, for link events
	Skipped int    `json:"skipped,omitempty"`
}

// Broker fans encoded events out to subscribed streams. A subscriber whose
// buffer is full misses the frame rather than stalling the publisher.
type Broker struct {
	every time.Duration

	mu       sync.Mutex
	subs     map[chan []byte]struct{}
	lastSent time.Time
	done     bool
}

// NewBroker returns a broker that follows change events with a
// catalog.updated frame no more than once every interval.
func NewBroker(interval time.Duration) *Broker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Broker{every: interval, subs: make(map[chan []byte]struct{})}
}

// frame renders e in the text/event-stream wire format.
func frame(e Event) ([]byte, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return fmt.Appendf(nil, "id: %s\nevent: %s\ndata: %s\n\n", uuid.NewString(), e.Type, data), nil
}

// fanOut must be called with mu held.
func (b *Broker) fanOut(e Event) {
	msg, err := frame(e)
	if err != nil {
		return
	}
	for ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Close ends every open stream. Later calls are no-ops.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.done = true
	for ch := range b.subs {
		close(ch)
	}
	clear(b.subs)
}

// Subscribe returns a buffered stream of encoded frames. On a closed
// broker the channel comes back already closed.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, clientBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		close(ch)
		return ch
	}
	b.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe detaches ch and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

// ClientCount reports how many streams are attached.
func (b *Broker) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish delivers e unchanged. A nil or closed broker ignores it.
func (b *Broker) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.done {
		b.fanOut(e)
	}
}

// PublishChange delivers a component change, then a catalog.updated frame
// if the last one went out at least one interval ago.
func (b *Broker) PublishChange(eventType string, c ComponentChange) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.fanOut(Event{Type: eventType, Data: c})
	if now := time.Now(); now.Sub(b.lastSent) >= b.every {
		b.lastSent = now
		b.fanOut(Event{Type: TypeCatalogUpdated, Data: map[string]string{}})
	}
}

// ServeHTTP streams events to one client until it disconnects or the
// broker closes. Idle streams get a comment line so proxies keep the
// connection open.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	f.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	tick := time.NewTicker(keepAlive)
	defer tick.Stop()

	for {
		var msg []byte
		select {
		case <-r.Context().Done():
			return
		case <-tick.C:
			msg = []byte(": keep-alive\n\n")
		case m, open := <-ch:
			if !open {
				return
			}
			msg = m
		}
		if _, err := w.Write(msg); err != nil {
			return
		}
		f.Flush()
	}
}
