package demoservice

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/starford/leetlab/internal/apperr"
	"github.com/starford/leetlab/internal/loader"
	"github.com/starford/leetlab/internal/models"
	"github.com/starford/leetlab/internal/registry"
	"github.com/starford/leetlab/internal/sandbox"
	"github.com/starford/leetlab/internal/storage"
	"github.com/starford/leetlab/internal/viewstate"
)

// DemoDetail is the full representation of a catalog entry.
type DemoDetail struct {
	ID    string       `json:"id"`
	Title string       `json:"title"`
	Date  string       `json:"date"`
	Tags  []string     `json:"tags"`
	View  *models.View `json:"view,omitempty"`
}

// InvokeRequest runs factory(args...) and then calls the returned closure
// once per entry of Calls.
type InvokeRequest struct {
	Factory string         `json:"factory"`
	Args    []any          `json:"args"`
	Calls   []sandbox.Call `json:"calls"`
}

// InvokeResult holds one result per call (or the factory result when it
// does not return a function).
type InvokeResult struct {
	Results []any `json:"results"`
}

// Service coordinates the catalog, the loader and demo assets.
type Service struct {
	catalog *registry.Catalog
	loader  *loader.Loader
	store   storage.Provider
	tags    []string
}

// NewService creates a new demo service.
func NewService(catalog *registry.Catalog, ld *loader.Loader, store storage.Provider) *Service {
	return &Service{
		catalog: catalog,
		loader:  ld,
		store:   store,
		tags:    viewstate.TagUniverse(catalog.All()),
	}
}

// Catalog returns the catalog the service was built with.
func (s *Service) Catalog() *registry.Catalog {
	return s.catalog
}

// ListDemos returns the entries passing query and tag, in catalog order.
// An empty tag means "all".
func (s *Service) ListDemos(_ context.Context, query, tag string) ([]viewstate.ListItem, error) {
	if tag == "" {
		tag = viewstate.AllTags
	}
	if !slices.Contains(s.tags, tag) {
		return nil, fmt.Errorf("demoservice: %q: %w", tag, apperr.ErrInvalidTag)
	}
	return viewstate.Items(viewstate.Filter(s.catalog.All(), query, tag)), nil
}

// Tags returns the tag universe, "all" first.
func (s *Service) Tags(_ context.Context) []string {
	return slices.Clone(s.tags)
}

// GetDemo returns the descriptor fields of id.
func (s *Service) GetDemo(_ context.Context, id string) (*DemoDetail, error) {
	d, ok := s.catalog.Get(id)
	if !ok {
		return nil, fmt.Errorf("demoservice: %q: %w", id, apperr.ErrNotFound)
	}
	return &DemoDetail{ID: d.ID, Title: d.Title, Date: d.Date, Tags: nonNilSlice(d.Tags)}, nil
}

// GetDemoWithView returns the descriptor fields plus the loaded view.
func (s *Service) GetDemoWithView(ctx context.Context, id string) (*DemoDetail, error) {
	detail, err := s.GetDemo(ctx, id)
	if err != nil {
		return nil, err
	}
	v, err := s.LoadView(ctx, id)
	if err != nil {
		return nil, err
	}
	detail.View = v
	return detail, nil
}

// LoadView runs the entry's loader.
func (s *Service) LoadView(ctx context.Context, id string) (*models.View, error) {
	d, ok := s.catalog.Get(id)
	if !ok {
		return nil, fmt.Errorf("demoservice: %q: %w", id, apperr.ErrNotFound)
	}
	return d.Loader(ctx)
}

// Invoke runs the demo's closure factory in the sandbox.
func (s *Service) Invoke(ctx context.Context, id string, req InvokeRequest) (*InvokeResult, error) {
	if _, ok := s.catalog.Get(id); !ok {
		return nil, fmt.Errorf("demoservice: %q: %w", id, apperr.ErrNotFound)
	}
	if strings.TrimSpace(req.Factory) == "" {
		return nil, fmt.Errorf("demoservice: factory is required: %w", apperr.ErrUnknownFunction)
	}
	prog, err := s.loader.Program(ctx, id)
	if err != nil {
		return nil, err
	}
	results, err := s.loader.Runner().Invoke(ctx, prog, req.Factory, req.Args, req.Calls)
	if err != nil {
		return nil, err
	}
	return &InvokeResult{Results: nonNilSlice(results)}, nil
}

// AssetPath resolves assets/<name> of demo id to an absolute file path.
// Names that climb out of the assets folder are rejected.
func (s *Service) AssetPath(id, name string) (string, error) {
	if _, ok := s.catalog.Get(id); !ok {
		return "", fmt.Errorf("demoservice: %q: %w", id, apperr.ErrNotFound)
	}
	cleaned := path.Clean("/" + name)
	if cleaned == "/" || strings.Contains(name, "..") {
		return "", fmt.Errorf("demoservice: asset %q: %w", name, apperr.ErrNotFound)
	}
	return s.store.Resolve(path.Join(id, storage.AssetsDir, cleaned))
}

// ContentChanged drops cached state for id after an on-disk edit.
func (s *Service) ContentChanged(id string) error {
	return s.loader.Invalidate(id)
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
