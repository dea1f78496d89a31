// Package host drives the load of one demo view at a time.
//
// A Host moves through idle → loading → ready|failed. Every restart bumps a
// generation; a load that completes after a newer restart is discarded, so
// the last request always wins.
package host

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/leetlab/internal/models"
)

// State is the host's load state.
type State string

const (
	Idle    State = "idle"
	Loading State = "loading"
	Ready   State = "ready"
	Failed  State = "failed"
)

// Snapshot is what the shell renders.
type Snapshot struct {
	State      State        `json:"state"`
	DemoID     string       `json:"demo_id,omitempty"`
	Generation uint64       `json:"generation"`
	View       *models.View `json:"view,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// Settled reports whether the snapshot is not loading.
func (s Snapshot) Settled() bool {
	return s.State != Loading
}

// Listener receives a snapshot after every transition, in transition order.
// It must not call back into the Host.
type Listener func(Snapshot)

// Host owns the load of the currently shown descriptor.
type Host struct {
	base        context.Context
	loadTimeout time.Duration
	logger      *slog.Logger
	listener    Listener

	notifyMu sync.Mutex // orders listener calls

	mu      sync.Mutex
	current models.Descriptor
	snap    Snapshot
	cancel  context.CancelFunc
	settled chan struct{} // closed when the current generation settles
	closed  bool
}

// Option configures a Host.
type Option func(*Host)

// WithLoadTimeout bounds each load.
func WithLoadTimeout(d time.Duration) Option {
	return func(h *Host) { h.loadTimeout = d }
}

// WithLogger sets the host's logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// WithListener registers a transition listener.
func WithListener(fn Listener) Option {
	return func(h *Host) { h.listener = fn }
}

// New creates an idle Host. Loads run under contexts derived from base.
func New(base context.Context, opts ...Option) *Host {
	settled := make(chan struct{})
	close(settled)
	h := &Host{
		base:    base,
		logger:  slog.New(slog.DiscardHandler),
		snap:    Snapshot{State: Idle},
		settled: settled,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Show displays d. A load starts when d differs from the current
// descriptor, or the host is idle or failed. Showing the descriptor that is
// already loading or ready does nothing.
func (h *Host) Show(d models.Descriptor) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	if d.ID == h.current.ID && (h.snap.State == Loading || h.snap.State == Ready) {
		h.mu.Unlock()
		return
	}
	h.unlockAndNotify(h.restartLocked(d))
}

// Reload restarts the load of the current descriptor. It does nothing while
// the host is idle.
func (h *Host) Reload() {
	h.mu.Lock()
	if h.closed || h.snap.State == Idle {
		h.mu.Unlock()
		return
	}
	h.unlockAndNotify(h.restartLocked(h.current))
}

// Clear cancels any pending load and returns the host to idle.
func (h *Host) Clear() {
	h.mu.Lock()
	if h.snap.State == Idle {
		h.mu.Unlock()
		return
	}
	h.stopLocked()
	h.releaseLocked()
	h.current = models.Descriptor{}
	h.snap = Snapshot{State: Idle, Generation: h.snap.Generation + 1}
	h.unlockAndNotify(h.snap)
}

// Snapshot returns the current state.
func (h *Host) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap
}

// Current returns the id of the descriptor being shown, or "".
func (h *Host) Current() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current.ID
}

// Wait blocks until the current generation settles or ctx is done. If a
// newer generation starts while waiting, Wait follows it.
func (h *Host) Wait(ctx context.Context) (Snapshot, error) {
	for {
		h.mu.Lock()
		ch, snap := h.settled, h.snap
		h.mu.Unlock()
		if snap.Settled() {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return h.Snapshot(), ctx.Err()
		case <-ch:
		}
	}
}

// Close cancels any pending load. Later calls to Show and Reload are ignored.
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.stopLocked()
}

// restartLocked starts a new generation for d. Caller holds h.mu.
func (h *Host) restartLocked(d models.Descriptor) Snapshot {
	h.stopLocked()
	h.releaseLocked()

	gen := h.snap.Generation + 1
	h.current = d
	h.snap = Snapshot{State: Loading, DemoID: d.ID, Generation: gen}
	h.settled = make(chan struct{})

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if h.loadTimeout > 0 {
		ctx, cancel = context.WithTimeout(h.base, h.loadTimeout)
	} else {
		ctx, cancel = context.WithCancel(h.base)
	}
	h.cancel = cancel

	go h.run(ctx, cancel, d, gen, h.settled)
	return h.snap
}

// releaseLocked wakes waiters on a generation that will never settle on its
// own because it is being superseded.
func (h *Host) releaseLocked() {
	if h.snap.State == Loading {
		close(h.settled)
	}
}

func (h *Host) stopLocked() {
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

func (h *Host) run(ctx context.Context, cancel context.CancelFunc, d models.Descriptor, gen uint64, settled chan struct{}) {
	defer cancel()

	var (
		view *models.View
		err  error
	)
	if d.Loader == nil {
		err = errNoLoader
	} else {
		view, err = d.Loader(ctx)
	}

	h.mu.Lock()
	if h.snap.Generation != gen {
		h.mu.Unlock()
		h.logger.Debug("host: stale load dropped",
			slog.String("id", d.ID), slog.Uint64("generation", gen))
		return
	}
	if err != nil {
		h.snap = Snapshot{State: Failed, DemoID: d.ID, Generation: gen, Error: err.Error()}
		h.logger.Warn("host: load failed", slog.String("id", d.ID), slog.String("error", err.Error()))
	} else {
		h.snap = Snapshot{State: Ready, DemoID: d.ID, Generation: gen, View: view}
	}
	h.cancel = nil
	close(settled)
	h.unlockAndNotify(h.snap)
}

// unlockAndNotify releases h.mu and delivers s to the listener. notifyMu is
// taken before h.mu is released so deliveries follow transition order.
func (h *Host) unlockAndNotify(s Snapshot) {
	if h.listener == nil {
		h.mu.Unlock()
		return
	}
	h.notifyMu.Lock()
	h.mu.Unlock()
	defer h.notifyMu.Unlock()
	h.listener(s)
}
