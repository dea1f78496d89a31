// Package sse implements a Server-Sent Events broker for live demo updates.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event types.
const (
	TypeDemoUpdated = "demo.updated"
	TypeHostChanged = "host.changed"
)

// Event is one SSE message. An empty Session broadcasts to every client;
// otherwise only that session's subscribers receive it.
type Event struct {
	Type    string `json:"type"`
	Session string `json:"-"`
	Data    any    `json:"data"`
}

// HostChange is the payload of host.changed.
type HostChange struct {
	Session string `json:"session"`
	State   string `json:"state"`
	DemoID  string `json:"demo_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

type subscription struct {
	session string
	ch      chan []byte
}

// Broker manages SSE client connections and routes events.
//
// A single internal event loop owns the client set and the per-demo throttle
// timestamps. Public methods talk to it through channels.
type Broker struct {
	demoMin time.Duration

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	demoEventCh   chan string
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker. demo.updated events for the same demo id are
// coalesced when they arrive closer together than demoThrottle.
func NewBroker(demoThrottle time.Duration) *Broker {
	if demoThrottle <= 0 {
		demoThrottle = 500 * time.Millisecond
	}

	b := &Broker{
		demoMin:       demoThrottle,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		demoEventCh:   make(chan string, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]string)
	lastDemo := make(map[string]time.Time)

	deliver := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		raw := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload))

		for ch, session := range clients {
			if event.Session != "" && event.Session != session {
				continue
			}
			select {
			case ch <- raw:
			default:
				// slow client, drop
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = sub.session

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			deliver(event)

		case id := <-b.demoEventCh:
			now := time.Now()
			if now.Sub(lastDemo[id]) < b.demoMin {
				continue
			}
			lastDemo[id] = now
			deliver(Event{Type: TypeDemoUpdated, Data: map[string]string{"id": id}})

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops the broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client for session ("" receives broadcasts only) and
// returns its channel.
func (b *Broker) Subscribe(session string) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{session: session, ch: ch}:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish routes an event to its clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishDemoUpdated broadcasts a throttled demo.updated event for id.
func (b *Broker) PublishDemoUpdated(id string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.demoEventCh <- id:
	case <-b.stopped:
	}
}

// PublishHostChanged sends host.changed to the subscribers of c.Session.
func (b *Broker) PublishHostChanged(c HostChange) {
	b.Publish(Event{Type: TypeHostChanged, Session: c.Session, Data: c})
}

// ServeHTTP is the SSE endpoint handler (GET /api/events?session=<id>).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(r.URL.Query().Get("session"))
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
