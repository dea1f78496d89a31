package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe("")
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDemoUpdated_Broadcast(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	anon := b.Subscribe("")
	defer b.Unsubscribe(anon)
	s1 := b.Subscribe("s1")
	defer b.Unsubscribe(s1)

	b.PublishDemoUpdated("2026-02-19-2620-counter")

	for _, ch := range []chan []byte{anon, s1} {
		select {
		case msg := <-ch:
			s := string(msg)
			if !strings.Contains(s, "event: demo.updated") {
				t.Errorf("missing event type in %q", s)
			}
			if !strings.Contains(s, `"id":"2026-02-19-2620-counter"`) {
				t.Errorf("missing data in %q", s)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	}
}

func TestPublishDemoUpdated_ThrottledPerID(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	b.PublishDemoUpdated("a")
	b.PublishDemoUpdated("a")
	b.PublishDemoUpdated("b")

	time.Sleep(50 * time.Millisecond)
	msgs := drain(ch)
	if len(msgs) != 2 {
		t.Fatalf("events = %d, want 2 (a throttled once): %v", len(msgs), msgs)
	}
}

func TestPublishHostChanged_RoutedToSession(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	s1 := b.Subscribe("s1")
	defer b.Unsubscribe(s1)
	s2 := b.Subscribe("s2")
	defer b.Unsubscribe(s2)

	b.PublishHostChanged(HostChange{Session: "s1", State: "ready", DemoID: "a"})
	time.Sleep(50 * time.Millisecond)

	got1, got2 := drain(s1), drain(s2)
	if len(got1) != 1 || !strings.Contains(got1[0], "event: host.changed") || !strings.Contains(got1[0], `"state":"ready"`) {
		t.Errorf("s1 got %v", got1)
	}
	if len(got2) != 0 {
		t.Errorf("s2 should not see s1's host events, got %v", got2)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events?session=s1", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishHostChanged(HostChange{Session: "s1", State: "loading", DemoID: "x"})
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: host.changed") {
		t.Errorf("handler output missing event: %q", body)
	}
	if w.Header().Get("Content-Type") != "text/event-stream" {
		t.Errorf("content-type = %q", w.Header().Get("Content-Type"))
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
}

func TestConcurrentPublish(t *testing.T) {
	b := NewBroker(time.Millisecond)
	defer b.Close()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.PublishHostChanged(HostChange{Session: "s", State: "ready"})
			b.PublishDemoUpdated("a")
		}()
	}
	wg.Wait()
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe("s1")
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	b.PublishDemoUpdated("x")
	b.PublishHostChanged(HostChange{Session: "s1"})
}
