// Package sse pushes session transitions and source-change notices to
// browsers as Server-Sent Events.
package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Event types.
const (
	TypeSessionState = "session.state"
	TypeDatasetStale = "dataset.stale"
)

const (
	defaultStaleThrottle = 2 * time.Second
	defaultKeepAlive     = 15 * time.Second
	subscriptionBuffer   = 32
)

// Event is one message. An empty Session broadcasts to every client.
type Event struct {
	Type    string `json:"type"`
	Session string `json:"-"`
	Data    any    `json:"data"`
}

// Subscription is one connected client. C is closed on Unsubscribe or
// when the broker shuts down.
type Subscription struct {
	C       chan []byte
	session string
}

// Broker fans events out to subscriptions. Publishing never blocks: a
// client whose buffer is full misses the frame.
type Broker struct {
	mu        sync.Mutex
	subs      map[*Subscription]struct{}
	seq       uint64
	closed    bool
	lastStale time.Time

	staleThrottle time.Duration
	keepAlive     time.Duration
	now           func() time.Time
}

// NewBroker creates a broker that emits at most one dataset.stale notice per
// staleThrottle.
func NewBroker(staleThrottle time.Duration) *Broker {
	if staleThrottle <= 0 {
		staleThrottle = defaultStaleThrottle
	}
	return &Broker{
		subs:          make(map[*Subscription]struct{}),
		staleThrottle: staleThrottle,
		keepAlive:     defaultKeepAlive,
		now:           time.Now,
	}
}

// Subscribe registers a client. It receives broadcasts plus the events of
// session; an empty session receives broadcasts only.
func (b *Broker) Subscribe(session string) *Subscription {
	sub := &Subscription{C: make(chan []byte, subscriptionBuffer), session: session}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.C)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a client and closes its channel. It is safe to call
// more than once.
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.C)
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish delivers event to every matching client.
func (b *Broker) Publish(event Event) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliverLocked(event, payload)
}

// PublishStale announces that the source file at path changed. Bursts are
// collapsed to one notice per throttle window.
func (b *Broker) PublishStale(path string) {
	payload, _ := json.Marshal(map[string]string{"source": path})
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if !b.lastStale.IsZero() && now.Sub(b.lastStale) < b.staleThrottle {
		return
	}
	b.lastStale = now
	b.deliverLocked(Event{Type: TypeDatasetStale}, payload)
}

func (b *Broker) deliverLocked(event Event, payload []byte) {
	if b.closed {
		return
	}
	b.seq++
	frame := encodeFrame(b.seq, event.Type, payload)
	for sub := range b.subs {
		if event.Session != "" && sub.session != event.Session {
			continue
		}
		select {
		case sub.C <- frame:
		default:
		}
	}
}

func encodeFrame(id uint64, typ string, payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("id: ")
	buf.WriteString(strconv.FormatUint(id, 10))
	buf.WriteString("\nevent: ")
	buf.WriteString(typ)
	buf.WriteString("\ndata: ")
	buf.Write(payload)
	buf.WriteString("\n\n")
	return buf.Bytes()
}

// Close disconnects every client. Later publishes are ignored.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.C)
		delete(b.subs, sub)
	}
}

// ServeHTTP streams broadcast events only.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.Stream(w, r, "")
}

// Stream serves the event stream for one session until the client leaves
// or the broker closes.
func (b *Broker) Stream(w http.ResponseWriter, r *http.Request, session string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "retry: 3000\n\n")
	flusher.Flush()

	sub := b.Subscribe(session)
	defer b.Unsubscribe(sub)

	ping := time.NewTicker(b.keepAlive)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case frame, ok := <-sub.C:
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
