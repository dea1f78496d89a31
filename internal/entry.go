// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/leetlab/internal/api"
	"github.com/starford/leetlab/internal/demoservice"
	"github.com/starford/leetlab/internal/host"
	"github.com/starford/leetlab/internal/loader"
	"github.com/starford/leetlab/internal/mcpserver"
	"github.com/starford/leetlab/internal/registry"
	"github.com/starford/leetlab/internal/sandbox"
	"github.com/starford/leetlab/internal/session"
	"github.com/starford/leetlab/internal/sse"
	"github.com/starford/leetlab/internal/storage"
	"github.com/starford/leetlab/internal/viewcache"
	"github.com/starford/leetlab/internal/watcher"
	"github.com/starford/leetlab/web"
)

// runtime is the wired object graph shared by every command.
type runtime struct {
	cfg     *Config
	logger  *slog.Logger
	store   *storage.FS
	cache   *viewcache.DB
	catalog *registry.Catalog
	svc     *demoservice.Service
}

func (rt *runtime) Close() error {
	return rt.cache.Close()
}

func newApplication(opts []Option) (*application, error) {
	app := &application{logOutput: os.Stdout, version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// bootstrap discovers the demos and builds the catalog and service layer.
func bootstrap(app *application) (*runtime, error) {
	cfg := app.config

	logger := NewLogger(app.logOutput, cfg.App.LogLevel, cfg.App.LogFormat)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("demos_path", cfg.Demos.Path),
		slog.String("cache_path", cfg.Cache.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	store, err := storage.NewFS(cfg.Demos.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	cache, err := viewcache.Open(cfg.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("init view cache: %w", err)
	}

	runner := sandbox.NewRunner(sandbox.WithTimeout(cfg.Host.ScriptTimeout))
	ld := loader.New(store, cache, runner, logger)

	units, metas, err := registry.Discover(store, ld.ModuleFor, logger)
	if err != nil {
		cache.Close()
		return nil, fmt.Errorf("discover demos: %w", err)
	}
	catalog := registry.Build(units, metas, logger)

	if n, err := cache.Prune(catalog.IDs()); err != nil {
		logger.Warn("view cache prune failed", slog.String("error", err.Error()))
	} else if n > 0 {
		logger.Info("view cache pruned", slog.Int("removed", n))
	}

	return &runtime{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		cache:   cache,
		catalog: catalog,
		svc:     demoservice.NewService(catalog, ld, store),
	}, nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	rt, err := bootstrap(app)
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg, logger := rt.cfg, rt.logger

	broker := sse.NewBroker(500 * time.Millisecond)
	defer broker.Close()

	g, gCtx := errgroup.WithContext(ctx)

	sessions := session.NewManager(gCtx, rt.catalog, broker, logger,
		host.WithLoadTimeout(cfg.Host.LoadTimeout),
		host.WithLogger(logger))
	defer sessions.Close()

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: newRouter(rt, sessions, broker),
	}

	logger.Info("Server starting...",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.Int("demos", rt.catalog.Len()))

	if cfg.Demos.Watch {
		g.Go(func() error {
			return watcher.Watch(gCtx, rt.store.Root(), watcher.Options{
				Known: func(id string) bool {
					_, ok := rt.catalog.Get(id)
					return ok
				},
				Logger: logger,
			}, func(id string) {
				if err := rt.svc.ContentChanged(id); err != nil {
					logger.Warn("cache invalidate failed", slog.String("id", id), slog.String("error", err.Error()))
				}
				n := sessions.ReloadDemo(id)
				logger.Info("demo content changed", slog.String("id", id), slog.Int("reloaded_sessions", n))
				broker.PublishDemoUpdated(id)
			})
		})
	}

	g.Go(func() error {
		return sessions.RunSweeper(gCtx, cfg.Session.SweepInterval, cfg.Session.IdleTTL)
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// SSE streams only end when the broker closes them.
		broker.Close()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group's context so the watcher and sweeper stop
// once the HTTP server is down.
var errShutdown = errors.New("shutdown")

func newRouter(rt *runtime, sessions *session.Manager, broker *sse.Broker) http.Handler {
	cfg := rt.cfg

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","demos":%d}`, rt.catalog.Len())
	})

	r.Mount("/api", api.NewRouter(rt.svc, sessions, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))

	r.Get("/demos/{id}/assets/*", api.NewAssetHandler(rt.svc).ServeFile)

	static, err := fs.Sub(web.StaticFiles, "static")
	if err != nil {
		panic(err)
	}
	fileServer := http.FileServer(http.FS(static))
	r.Handle("/static/*", http.StripPrefix("/static/", fileServer))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFileFS(w, r, static, "index.html")
	})

	return r
}

// RunMCP serves the catalog over MCP stdio until stdin closes.
func RunMCP(_ context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	rt, err := bootstrap(app)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.logger.Info("MCP server starting on stdio", slog.Int("demos", rt.catalog.Len()))
	return mcpserver.New(rt.svc, app.version).ServeStdio()
}

// PrintCatalog writes the filtered catalog to out as a table.
func PrintCatalog(ctx context.Context, out io.Writer, query, tag string, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(io.Discard)}, opts...))
	if err != nil {
		return err
	}
	rt, err := bootstrap(app)
	if err != nil {
		return err
	}
	defer rt.Close()

	items, err := rt.svc.ListDemos(ctx, query, tag)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "DATE\tID\tTITLE\tTAGS")
	for _, it := range items {
		tags := strings.Join(it.ShownTags, ", ")
		if it.MoreTags > 0 {
			tags += fmt.Sprintf(" +%d", it.MoreTags)
		}
		if tags == "" {
			tags = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", it.Date, it.ID, it.Title, tags)
	}
	if len(items) == 0 {
		fmt.Fprintln(w, "(no demos)")
	}
	return w.Flush()
}
