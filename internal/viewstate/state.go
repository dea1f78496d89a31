// Package viewstate holds the per-session shell state: search query, tag
// filter and active selection, plus the views computed from them.
//
// State is not safe for concurrent use; the owning session serializes access.
package viewstate

import (
	"fmt"

	"github.com/starford/leetlab/internal/apperr"
	"github.com/starford/leetlab/internal/models"
	"github.com/starford/leetlab/internal/registry"
)

// Resolution is the outcome of resolving the active entry against the
// current filters.
type Resolution struct {
	// Active is nil only when the catalog is empty.
	Active *models.Descriptor
	// Visible reports whether Active is part of Filtered. When false the
	// shell shows the empty state instead of Active's content.
	Visible  bool
	Filtered []models.Descriptor
}

// State is the mutable view state of one session.
type State struct {
	catalog  *registry.Catalog
	tags     []string
	query    string
	tag      string
	activeID string
}

// New creates a State over catalog with the first entry active.
func New(catalog *registry.Catalog) *State {
	all := catalog.All()
	s := &State{
		catalog: catalog,
		tags:    TagUniverse(all),
		tag:     AllTags,
	}
	if len(all) > 0 {
		s.activeID = all[0].ID
	}
	return s
}

// Query returns the current free-text query.
func (s *State) Query() string { return s.query }

// SetQuery replaces the free-text query. Any text is valid.
func (s *State) SetQuery(q string) { s.query = q }

// Tag returns the current tag filter.
func (s *State) Tag() string { return s.tag }

// SetTag sets the tag filter. Tags outside the universe are rejected.
func (s *State) SetTag(tag string) error {
	for _, t := range s.tags {
		if t == tag {
			s.tag = tag
			return nil
		}
	}
	return fmt.Errorf("viewstate: tag %q: %w", tag, apperr.ErrInvalidTag)
}

// ActiveID returns the stored selection.
func (s *State) ActiveID() string { return s.activeID }

// Select stores id as the selection. The id must exist in the catalog; it
// does not have to pass the current filters (Resolve decides what is shown).
func (s *State) Select(id string) error {
	if _, ok := s.catalog.Get(id); !ok {
		return fmt.Errorf("viewstate: demo %q: %w", id, apperr.ErrNotFound)
	}
	s.activeID = id
	return nil
}

// Tags returns the tag universe ("all" first).
func (s *State) Tags() []string {
	return append([]string(nil), s.tags...)
}

// Filtered returns the catalog entries passing the current filters.
func (s *State) Filtered() []models.Descriptor {
	return Filter(s.catalog.All(), s.query, s.tag)
}

// Resolve picks the active entry and resynchronizes the stored selection.
//
// Order of preference: the stored selection if it passes the filters, the
// first filtered entry, the stored selection from the full catalog, the
// first catalog entry. Only the first two are visible.
func (s *State) Resolve() Resolution {
	all := s.catalog.All()
	filtered := Filter(all, s.query, s.tag)
	res := Resolution{Filtered: filtered}

	pick := func(d models.Descriptor, visible bool) {
		res.Active, res.Visible = &d, visible
	}
	if i := indexOf(filtered, s.activeID); i >= 0 {
		pick(filtered[i], true)
	} else if len(filtered) > 0 {
		pick(filtered[0], true)
	} else if i := indexOf(all, s.activeID); i >= 0 {
		pick(all[i], false)
	} else if len(all) > 0 {
		pick(all[0], false)
	}

	if res.Active != nil && res.Active.ID != s.activeID {
		s.activeID = res.Active.ID
	}
	return res
}

func indexOf(entries []models.Descriptor, id string) int {
	for i, d := range entries {
		if d.ID == id {
			return i
		}
	}
	return -1
}
