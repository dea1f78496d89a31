// Package loader reads demo folders into views, backed by the view cache
// and the script sandbox.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/starford/leetlab/internal/apperr"
	"github.com/starford/leetlab/internal/checksum"
	"github.com/starford/leetlab/internal/models"
	"github.com/starford/leetlab/internal/sandbox"
	"github.com/starford/leetlab/internal/storage"
	"github.com/starford/leetlab/internal/viewcache"
)

// Loader builds module loaders for demo units.
type Loader struct {
	store  storage.Provider
	cache  viewcache.Store
	runner *sandbox.Runner
	logger *slog.Logger
	group  singleflight.Group
	now    func() time.Time
}

// New creates a Loader. cache may be nil, in which case every load reads
// and compiles from disk.
func New(store storage.Provider, cache viewcache.Store, runner *sandbox.Runner, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if runner == nil {
		runner = sandbox.NewRunner()
	}
	return &Loader{
		store:  store,
		cache:  cache,
		runner: runner,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ModuleFor returns the raw module loader for the demo folder id.
// It has the shape registry.Discover expects for its module factory.
func (l *Loader) ModuleFor(id string) models.ModuleLoader {
	return func(ctx context.Context) (*models.Module, error) {
		return l.Load(ctx, id)
	}
}

// Load reads and compiles demo id. Concurrent loads of the same id share
// one underlying read; each caller still honours its own ctx.
func (l *Loader) Load(ctx context.Context, id string) (*models.Module, error) {
	ch := l.group.DoChan(id, func() (any, error) {
		return l.load(context.WithoutCancel(ctx), id)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("loader: load %s: %w", id, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Module), nil
	}
}

func (l *Loader) load(ctx context.Context, id string) (*models.Module, error) {
	html, script, err := l.readSources(id)
	if err != nil {
		return nil, err
	}
	sum := checksum.SumParts(html, script)

	if l.cache != nil {
		v, err := l.cache.Get(id, sum)
		if err == nil {
			l.logger.Debug("loader: cache hit", slog.String("id", id))
			return moduleOf(v), nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			l.logger.Warn("loader: cache read failed",
				slog.String("id", id), slog.String("error", err.Error()))
		}
	}

	v := &models.View{
		DemoID:   id,
		HTML:     string(html),
		Script:   string(script),
		Exports:  []string{},
		Checksum: sum,
		LoadedAt: l.now(),
	}
	if len(script) > 0 {
		prog, err := l.runner.Compile(ctx, id, sum, path.Join(id, storage.ScriptFile), string(script))
		if err != nil {
			return nil, fmt.Errorf("loader: %s: %w", id, err)
		}
		v.Exports = prog.Exports()
	}

	if l.cache != nil {
		if err := l.cache.Put(v); err != nil {
			l.logger.Warn("loader: cache write failed",
				slog.String("id", id), slog.String("error", err.Error()))
		}
	}
	l.logger.Debug("loader: loaded", slog.String("id", id), slog.Int("exports", len(v.Exports)))
	return moduleOf(v), nil
}

// Program returns the compiled script of demo id. It returns
// apperr.ErrNoScript when the demo has no algo.js or it is blank.
func (l *Loader) Program(ctx context.Context, id string) (*sandbox.Program, error) {
	script, err := l.readOptional(path.Join(id, storage.ScriptFile))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(script)) == "" {
		return nil, fmt.Errorf("loader: %s: %w", id, apperr.ErrNoScript)
	}
	html, err := l.readOptional(path.Join(id, storage.EntryFile))
	if err != nil {
		return nil, err
	}
	prog, err := l.runner.Compile(ctx, id, checksum.SumParts(html, script), path.Join(id, storage.ScriptFile), string(script))
	if err != nil {
		return nil, fmt.Errorf("loader: %s: %w", id, err)
	}
	return prog, nil
}

// Runner returns the sandbox used to compile scripts.
func (l *Loader) Runner() *sandbox.Runner {
	return l.runner
}

// Invalidate drops everything held for demo id: the cached view, the
// compiled script and any load in flight, so the next Load reads from disk.
func (l *Loader) Invalidate(id string) error {
	l.group.Forget(id)
	l.runner.Forget(id)
	if l.cache == nil {
		return nil
	}
	return l.cache.Delete(id)
}

func (l *Loader) readSources(id string) (html, script []byte, err error) {
	html, err = l.store.Read(path.Join(id, storage.EntryFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("loader: %s: %w", id, apperr.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("loader: %s: %w", id, err)
	}
	script, err = l.readOptional(path.Join(id, storage.ScriptFile))
	if err != nil {
		return nil, nil, err
	}
	return html, script, nil
}

func (l *Loader) readOptional(p string) ([]byte, error) {
	data, err := l.store.Read(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	return data, nil
}

func moduleOf(v *models.View) *models.Module {
	exports := make(map[string]any, len(v.Exports))
	for _, name := range v.Exports {
		exports[name] = "function"
	}
	return &models.Module{Default: v, Exports: exports}
}
