// Package session keeps per-browser view state and demo hosts in memory.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/leetlab/internal/apperr"
	"github.com/starford/leetlab/internal/host"
	"github.com/starford/leetlab/internal/registry"
	"github.com/starford/leetlab/internal/sse"
	"github.com/starford/leetlab/internal/viewstate"
)

// Publisher receives host transitions of every session.
type Publisher interface {
	PublishHostChanged(sse.HostChange)
}

// Snapshot is the full renderable state of one session.
type Snapshot struct {
	ID           string               `json:"id"`
	Query        string               `json:"query"`
	Tag          string               `json:"tag"`
	ActiveID     string               `json:"active_id"`
	Visible      bool                 `json:"visible"`
	Tags         []string             `json:"tags"`
	Demos        []viewstate.ListItem `json:"demos"`
	EmptyMessage string               `json:"empty_message,omitempty"`
	Host         host.Snapshot        `json:"host"`
}

// Session pairs a ViewState with the Host showing its active demo.
type Session struct {
	id      string
	catalog *registry.Catalog

	mu       sync.Mutex
	state    *viewstate.State
	host     *host.Host
	lastSeen time.Time
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// SetQuery updates the search text and re-resolves the active demo.
func (s *Session) SetQuery(q string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.SetQuery(q)
	return s.syncLocked()
}

// SetTag updates the tag filter. Unknown tags return apperr.ErrInvalidTag.
func (s *Session) SetTag(tag string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.state.SetTag(tag); err != nil {
		return s.snapshotLocked(s.state.Resolve()), err
	}
	return s.syncLocked(), nil
}

// Select makes id the active demo. Unknown ids return apperr.ErrNotFound.
func (s *Session) Select(id string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.state.Select(id); err != nil {
		return s.snapshotLocked(s.state.Resolve()), err
	}
	return s.syncLocked(), nil
}

// Reload restarts the load of the shown demo.
func (s *Session) Reload() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.host.Reload()
	return s.snapshotLocked(s.state.Resolve())
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(s.state.Resolve())
}

// Wait blocks until the session's host settles.
func (s *Session) Wait(ctx context.Context) (Snapshot, error) {
	if _, err := s.host.Wait(ctx); err != nil {
		return s.Snapshot(), err
	}
	return s.Snapshot(), nil
}

func (s *Session) reloadIfShowing(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.host.Current() != id {
		return false
	}
	s.host.Reload()
	return true
}

// syncLocked resolves the active demo and hands it to the host. Hidden
// resolutions clear the host so their content is never shown.
func (s *Session) syncLocked() Snapshot {
	res := s.state.Resolve()
	if res.Active != nil && res.Visible {
		s.host.Show(*res.Active)
	} else {
		s.host.Clear()
	}
	return s.snapshotLocked(res)
}

func (s *Session) snapshotLocked(res viewstate.Resolution) Snapshot {
	s.lastSeen = time.Now()
	return Snapshot{
		ID:           s.id,
		Query:        s.state.Query(),
		Tag:          s.state.Tag(),
		ActiveID:     s.state.ActiveID(),
		Visible:      res.Visible,
		Tags:         s.state.Tags(),
		Demos:        viewstate.Items(res.Filtered),
		EmptyMessage: viewstate.EmptyMessage(s.catalog.Len(), res),
		Host:         s.host.Snapshot(),
	}
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Manager owns every live session.
type Manager struct {
	base      context.Context
	catalog   *registry.Catalog
	publisher Publisher
	hostOpts  []host.Option
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a Manager. Hosts run their loads under base. publisher
// may be nil.
func NewManager(base context.Context, catalog *registry.Catalog, publisher Publisher, logger *slog.Logger, hostOpts ...host.Option) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		base:      base,
		catalog:   catalog,
		publisher: publisher,
		hostOpts:  hostOpts,
		logger:    logger,
		sessions:  make(map[string]*Session),
	}
}

// Create starts a session with default view state and begins loading the
// first demo.
func (m *Manager) Create() *Session {
	id := uuid.NewString()
	s := &Session{
		id:      id,
		catalog: m.catalog,
		state:   viewstate.New(m.catalog),
	}
	opts := append([]host.Option{host.WithLogger(m.logger.With(slog.String("session", id)))}, m.hostOpts...)
	if m.publisher != nil {
		opts = append(opts, host.WithListener(func(snap host.Snapshot) {
			m.publisher.PublishHostChanged(sse.HostChange{
				Session: id,
				State:   string(snap.State),
				DemoID:  snap.DemoID,
				Error:   snap.Error,
			})
		}))
	}
	s.host = host.New(m.base, opts...)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	s.mu.Lock()
	s.syncLocked()
	s.mu.Unlock()

	m.logger.Debug("session: created", slog.String("session", id))
	return s
}

// Get returns a live session or apperr.ErrNotFound.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("session: %q: %w", id, apperr.ErrNotFound)
	}
	return s, nil
}

// Delete ends a session and cancels its pending load.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session: %q: %w", id, apperr.ErrNotFound)
	}
	s.host.Close()
	m.logger.Debug("session: deleted", slog.String("session", id))
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ReloadDemo reloads every host currently showing demo id and returns how
// many were restarted.
func (m *Manager) ReloadDemo(id string) int {
	n := 0
	for _, s := range m.list() {
		if s.reloadIfShowing(id) {
			n++
		}
	}
	return n
}

// Sweep deletes sessions idle for longer than ttl and returns how many were
// removed.
func (m *Manager) Sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	n := 0
	for _, s := range m.list() {
		if s.idleSince().Before(cutoff) {
			if m.Delete(s.id) == nil {
				n++
			}
		}
	}
	if n > 0 {
		m.logger.Info("session: swept idle sessions", slog.Int("count", n))
	}
	return n
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (m *Manager) RunSweeper(ctx context.Context, interval, ttl time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep(ttl)
		}
	}
}

// Close ends every session.
func (m *Manager) Close() {
	for _, s := range m.list() {
		_ = m.Delete(s.id)
	}
}

func (m *Manager) list() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}
