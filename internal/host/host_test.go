package host

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/leetlab/internal/models"
)

// gate is a loader that blocks until released.
type gate struct {
	id      string
	release chan struct{}
	err     error
	calls   atomic.Int32
}

func newGate(id string) *gate {
	return &gate{id: id, release: make(chan struct{})}
}

func (g *gate) descriptor() models.Descriptor {
	return models.Descriptor{ID: g.id, Title: g.id, Loader: g.load}
}

func (g *gate) load(ctx context.Context) (*models.View, error) {
	g.calls.Add(1)
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if g.err != nil {
		return nil, g.err
	}
	return &models.View{DemoID: g.id, HTML: "<p>" + g.id + "</p>"}, nil
}

func instant(id string, err error) models.Descriptor {
	return models.Descriptor{ID: id, Loader: func(context.Context) (*models.View, error) {
		if err != nil {
			return nil, err
		}
		return &models.View{DemoID: id}, nil
	}}
}

func wait(t *testing.T, h *Host) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return s
}

func TestHost_StartsIdle(t *testing.T) {
	h := New(context.Background())
	if s := h.Snapshot(); s.State != Idle || s.DemoID != "" {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestHost_ShowLoadsToReady(t *testing.T) {
	h := New(context.Background())
	h.Show(instant("a", nil))
	s := wait(t, h)
	if s.State != Ready || s.View == nil || s.View.DemoID != "a" {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestHost_LastRequestWins(t *testing.T) {
	h := New(context.Background())
	a, b := newGate("a"), newGate("b")

	h.Show(a.descriptor())
	h.Show(b.descriptor())

	close(b.release) // B completes first
	s := wait(t, h)
	if s.State != Ready || s.View.DemoID != "b" {
		t.Fatalf("snapshot = %+v, want ready b", s)
	}

	close(a.release) // A completes late and must be ignored
	time.Sleep(50 * time.Millisecond)
	if s := h.Snapshot(); s.View == nil || s.View.DemoID != "b" {
		t.Errorf("stale load applied: %+v", s)
	}
}

func TestHost_LastRequestWins_OutOfOrder(t *testing.T) {
	h := New(context.Background())
	a, b := newGate("a"), newGate("b")

	h.Show(a.descriptor())
	h.Show(b.descriptor())
	close(a.release) // A resolves while B is still pending
	time.Sleep(30 * time.Millisecond)
	if s := h.Snapshot(); s.State != Loading || s.DemoID != "b" {
		t.Fatalf("snapshot = %+v, want loading b", s)
	}
	close(b.release)
	if s := wait(t, h); s.View.DemoID != "b" {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestHost_SupersededLoadIsCancelled(t *testing.T) {
	h := New(context.Background())
	cancelled := make(chan struct{})
	slow := models.Descriptor{ID: "slow", Loader: func(ctx context.Context) (*models.View, error) {
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	}}
	h.Show(slow)
	h.Show(instant("fast", nil))
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("superseded load was not cancelled")
	}
	if s := wait(t, h); s.State != Ready || s.DemoID != "fast" {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestHost_ShowSameIDIsNoop(t *testing.T) {
	h := New(context.Background())
	g := newGate("a")
	h.Show(g.descriptor())
	h.Show(g.descriptor())
	close(g.release)
	wait(t, h)
	h.Show(g.descriptor())
	if n := g.calls.Load(); n != 1 {
		t.Errorf("loader calls = %d, want 1", n)
	}
}

func TestHost_FailureThenRetryOnReselect(t *testing.T) {
	h := New(context.Background())
	boom := errors.New("boom")
	fails := true
	var mu sync.Mutex
	d := models.Descriptor{ID: "a", Loader: func(context.Context) (*models.View, error) {
		mu.Lock()
		defer mu.Unlock()
		if fails {
			return nil, boom
		}
		return &models.View{DemoID: "a"}, nil
	}}

	h.Show(d)
	s := wait(t, h)
	if s.State != Failed || s.Error != "boom" {
		t.Fatalf("snapshot = %+v, want failed", s)
	}

	mu.Lock()
	fails = false
	mu.Unlock()
	h.Show(d)
	if s := wait(t, h); s.State != Ready {
		t.Errorf("snapshot after retry = %+v", s)
	}
}

func TestHost_Reload(t *testing.T) {
	h := New(context.Background())
	g := newGate("a")
	close(g.release)
	h.Show(g.descriptor())
	first := wait(t, h)
	h.Reload()
	second := wait(t, h)
	if g.calls.Load() != 2 {
		t.Errorf("loader calls = %d, want 2", g.calls.Load())
	}
	if second.Generation <= first.Generation {
		t.Errorf("generation did not advance: %d → %d", first.Generation, second.Generation)
	}
}

func TestHost_ReloadIdleIsNoop(t *testing.T) {
	h := New(context.Background())
	h.Reload()
	if s := h.Snapshot(); s.State != Idle || s.Generation != 0 {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestHost_LoadTimeout(t *testing.T) {
	h := New(context.Background(), WithLoadTimeout(30*time.Millisecond))
	h.Show(newGate("a").descriptor())
	s := wait(t, h)
	if s.State != Failed {
		t.Errorf("snapshot = %+v, want failed", s)
	}
}

func TestHost_ListenerSeesTransitions(t *testing.T) {
	var mu sync.Mutex
	var states []State
	h := New(context.Background(), WithListener(func(s Snapshot) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	}))
	h.Show(instant("a", nil))
	wait(t, h)
	h.Clear()

	mu.Lock()
	defer mu.Unlock()
	want := []State{Loading, Ready, Idle}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("states = %v, want %v", states, want)
		}
	}
}

func TestHost_WaitFollowsNewerGeneration(t *testing.T) {
	h := New(context.Background())
	a, b := newGate("a"), newGate("b")
	h.Show(a.descriptor())

	done := make(chan Snapshot, 1)
	go func() {
		s, _ := h.Wait(context.Background())
		done <- s
	}()
	time.Sleep(20 * time.Millisecond)
	h.Show(b.descriptor())
	close(b.release)

	select {
	case s := <-done:
		if s.DemoID != "b" || s.State != Ready {
			t.Errorf("snapshot = %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return")
	}
}

func TestHost_CloseCancelsPending(t *testing.T) {
	h := New(context.Background())
	g := newGate("a")
	h.Show(g.descriptor())
	h.Close()
	time.Sleep(30 * time.Millisecond)
	h.Show(instant("b", nil))
	if s := h.Snapshot(); s.DemoID != "a" {
		t.Errorf("Show after Close changed host: %+v", s)
	}
}

// trackedBase is a base context that counts the child contexts still
// attached to it. The context package registers children through AfterFunc
// and calls the returned stop func when a child is cancelled.
type trackedBase struct {
	context.Context
	done chan struct{}

	mu   sync.Mutex
	live int
}

func newTrackedBase() *trackedBase {
	return &trackedBase{Context: context.Background(), done: make(chan struct{})}
}

func (b *trackedBase) Done() <-chan struct{} { return b.done }

func (b *trackedBase) AfterFunc(func()) func() bool {
	b.mu.Lock()
	b.live++
	b.mu.Unlock()
	var once sync.Once
	return func() bool {
		stopped := false
		once.Do(func() {
			b.mu.Lock()
			b.live--
			b.mu.Unlock()
			stopped = true
		})
		return stopped
	}
}

func (b *trackedBase) attached() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live
}

func TestHost_RestartsReleaseLoadContexts(t *testing.T) {
	for _, timeout := range []time.Duration{0, time.Second} {
		base := newTrackedBase()
		h := New(base, WithLoadTimeout(timeout))

		for i := range 50 {
			if i%2 == 0 {
				h.Show(instant("a", nil))
			} else {
				h.Show(instant("b", nil))
			}
			wait(t, h)
		}
		h.Reload()
		wait(t, h)

		deadline := time.Now().Add(2 * time.Second)
		for base.attached() != 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if n := base.attached(); n != 0 {
			t.Errorf("timeout=%v: %d load contexts still attached to the base", timeout, n)
		}
		h.Close()
	}
}
