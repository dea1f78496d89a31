package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/starford/leetlab/internal/apperr"
	"github.com/starford/leetlab/internal/models"
)

// Catalog is the ordered, immutable list of demo descriptors built once at
// startup. Accessors hand out copies.
type Catalog struct {
	entries []models.Descriptor
	index   map[string]int
}

// NewCatalog orders entries by the catalog rule and indexes them by id.
// Later entries with an id already seen are dropped.
func NewCatalog(entries []models.Descriptor) *Catalog {
	c := &Catalog{index: make(map[string]int, len(entries))}
	for _, d := range entries {
		if _, dup := c.index[d.ID]; dup {
			continue
		}
		c.index[d.ID] = len(c.entries)
		c.entries = append(c.entries, cloneDescriptor(d))
	}
	sortEntries(c.entries)
	for i, d := range c.entries {
		c.index[d.ID] = i
	}
	return c
}

// All returns every entry in catalog order.
func (c *Catalog) All() []models.Descriptor {
	out := make([]models.Descriptor, len(c.entries))
	for i, d := range c.entries {
		out[i] = cloneDescriptor(d)
	}
	return out
}

// Get returns the entry with the given id.
func (c *Catalog) Get(id string) (models.Descriptor, bool) {
	i, ok := c.index[id]
	if !ok {
		return models.Descriptor{}, false
	}
	return cloneDescriptor(c.entries[i]), true
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// IDs returns the entry ids in catalog order.
func (c *Catalog) IDs() []string {
	out := make([]string, len(c.entries))
	for i, d := range c.entries {
		out[i] = d.ID
	}
	return out
}

// Build derives one descriptor per unit and returns the ordered catalog.
//
// Keys of both tables are slash paths relative to the demos root; the first
// segment is the unit id ("2026-02-17-hello-world/demo.html"). A sidecar that
// fails to parse only costs its own unit the metadata: the unit keeps its
// inferred title and date and an empty tag list.
func Build(units map[string]models.ModuleLoader, metas map[string][]byte, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	metaByID := make(map[string][]byte, len(metas))
	for _, p := range sortedKeys(metas) {
		id := unitID(p)
		if id == "" {
			continue
		}
		if _, ok := metaByID[id]; !ok {
			metaByID[id] = metas[p]
		}
	}

	seen := make(map[string]struct{}, len(units))
	entries := make([]models.Descriptor, 0, len(units))
	for _, p := range sortedKeys(units) {
		id := unitID(p)
		if id == "" {
			logger.Warn("registry: unit path has no folder", slog.String("path", p))
			continue
		}
		if _, dup := seen[id]; dup {
			logger.Warn("registry: duplicate unit ignored", slog.String("id", id), slog.String("path", p))
			continue
		}
		seen[id] = struct{}{}
		entries = append(entries, describe(id, units[p], metaByID[id], logger))
	}

	c := NewCatalog(entries)
	logger.Info("registry: catalog built", slog.Int("demos", c.Len()))
	return c
}

func describe(id string, load models.ModuleLoader, rawMeta []byte, logger *slog.Logger) models.Descriptor {
	date, title := Infer(id)
	d := models.Descriptor{
		ID:     id,
		Title:  title,
		Date:   date,
		Tags:   []string{},
		Loader: defaultView(id, load),
	}

	if rawMeta == nil {
		return d
	}
	meta, err := ParseMeta(rawMeta)
	if err != nil {
		logger.Warn("registry: metadata ignored",
			slog.String("id", id),
			slog.String("error", err.Error()))
		return d
	}
	if meta == nil {
		return d
	}
	if meta.Title != nil {
		d.Title = *meta.Title
	}
	if meta.Date != nil {
		d.Date = *meta.Date
	}
	if meta.Tags != nil {
		d.Tags = dedupe(meta.Tags)
	}
	return d
}

// defaultView exposes only the module's default view to callers.
func defaultView(id string, load models.ModuleLoader) models.ViewLoader {
	return func(ctx context.Context) (*models.View, error) {
		if load == nil {
			return nil, fmt.Errorf("registry: load %s: no loader registered", id)
		}
		mod, err := load(ctx)
		if err != nil {
			return nil, fmt.Errorf("registry: load %s: %w", id, err)
		}
		if mod == nil || mod.Default == nil {
			return nil, fmt.Errorf("registry: load %s: %w", id, apperr.ErrNoDefaultView)
		}
		return mod.Default, nil
	}
}

// unitID returns the first segment of a unit path.
func unitID(p string) string {
	p = path.Clean(strings.ReplaceAll(p, "\\", "/"))
	p = strings.TrimPrefix(p, "./")
	if p == "." || p == "" || strings.HasPrefix(p, "/") || strings.HasPrefix(p, "..") {
		return ""
	}
	id, _, _ := strings.Cut(p, "/")
	return id
}

// sortEntries applies the catalog order: dated entries newest first, then
// unknown-date entries by title. Ties fall back to id so the order never
// depends on discovery order.
func sortEntries(entries []models.Descriptor) {
	coll := collate.New(language.Und)
	slices.SortStableFunc(entries, func(a, b models.Descriptor) int {
		switch ad, bd := a.HasDate(), b.HasDate(); {
		case ad && bd:
			if c := strings.Compare(b.Date, a.Date); c != 0 {
				return c
			}
		case ad:
			return -1
		case bd:
			return 1
		default:
			if c := coll.CompareString(a.Title, b.Title); c != 0 {
				return c
			}
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func dedupe(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func cloneDescriptor(d models.Descriptor) models.Descriptor {
	d.Tags = append([]string{}, d.Tags...)
	return d
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
