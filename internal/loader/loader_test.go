package loader

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/leetlab/internal/apperr"
	"github.com/starford/leetlab/internal/models"
	"github.com/starford/leetlab/internal/sandbox"
	"github.com/starford/leetlab/internal/storage"
	"github.com/starford/leetlab/internal/testutil"
	"github.com/starford/leetlab/internal/viewcache"
)

const counterID = "2026-02-19-2620-counter"

// countingCache wraps the SQLite cache and counts hits and misses.
type countingCache struct {
	inner        viewcache.Store
	mu           sync.Mutex
	hits, misses int
}

func (c *countingCache) Get(id, cs string) (*models.View, error) {
	v, err := c.inner.Get(id, cs)
	c.mu.Lock()
	if err == nil {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()
	return v, err
}

func (c *countingCache) Put(v *models.View) error { return c.inner.Put(v) }
func (c *countingCache) Delete(id string) error   { return c.inner.Delete(id) }

func setup(t *testing.T) (string, *Loader, *countingCache) {
	t.Helper()
	root, store := testutil.TestDemos(t)
	testutil.SeedDemos(t, root)
	cache := &countingCache{inner: testutil.TestDB(t)}
	return root, New(store, cache, nil, nil), cache
}

func TestLoad_ReadsAndCompiles(t *testing.T) {
	_, l, _ := setup(t)
	mod, err := l.Load(context.Background(), counterID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	v := mod.Default
	if v.DemoID != counterID || v.HTML != testutil.CounterHTML || v.Script != testutil.CounterJS {
		t.Errorf("view = %+v", v)
	}
	if len(v.Exports) != 1 || v.Exports[0] != "createCounter" {
		t.Errorf("exports = %v", v.Exports)
	}
	if mod.Exports["createCounter"] != "function" {
		t.Errorf("module exports = %v", mod.Exports)
	}
	if v.Checksum == "" {
		t.Error("missing checksum")
	}
}

func TestLoad_CacheHitOnUnchangedContent(t *testing.T) {
	_, l, cache := setup(t)
	first, err := l.Load(context.Background(), counterID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := l.Load(context.Background(), counterID)
	if err != nil {
		t.Fatal(err)
	}
	if cache.misses != 1 || cache.hits != 1 {
		t.Errorf("hits=%d misses=%d, want 1/1", cache.hits, cache.misses)
	}
	if first.Default.Checksum != second.Default.Checksum {
		t.Error("checksum changed without content change")
	}
}

func TestLoad_CacheMissOnChangedContent(t *testing.T) {
	root, l, cache := setup(t)
	first, _ := l.Load(context.Background(), counterID)

	testutil.WriteFile(t, root, counterID+"/demo.html", "<h2>Counter v2</h2>")
	second, err := l.Load(context.Background(), counterID)
	if err != nil {
		t.Fatal(err)
	}
	if cache.misses != 2 {
		t.Errorf("misses = %d, want 2", cache.misses)
	}
	if second.Default.HTML != "<h2>Counter v2</h2>" || second.Default.Checksum == first.Default.Checksum {
		t.Errorf("stale view served: %+v", second.Default)
	}
}

func TestLoad_NoScript(t *testing.T) {
	root, l, _ := setup(t)
	testutil.WriteFile(t, root, "plain/demo.html", "<p>static</p>")
	mod, err := l.Load(context.Background(), "plain")
	if err != nil {
		t.Fatal(err)
	}
	if mod.Default.Script != "" || len(mod.Default.Exports) != 0 {
		t.Errorf("view = %+v", mod.Default)
	}
}

func TestLoad_MissingEntryFile(t *testing.T) {
	_, l, _ := setup(t)
	_, err := l.Load(context.Background(), "does-not-exist")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLoad_BadScriptFails(t *testing.T) {
	root, l, _ := setup(t)
	testutil.WriteFile(t, root, "broken/demo.html", "<p>x</p>")
	testutil.WriteFile(t, root, "broken/algo.js", "function (")
	if _, err := l.Load(context.Background(), "broken"); err == nil {
		t.Error("expected compile error")
	}
}

func TestLoad_ConcurrentCallsShareWork(t *testing.T) {
	_, l, _ := setup(t)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Load(context.Background(), counterID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Load: %v", err)
		}
	}
}

func TestLoad_CancelledContext(t *testing.T) {
	_, l, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// the shared load may still win the select
	if _, err := l.Load(ctx, counterID); err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want nil or context.Canceled", err)
	}
}

func TestProgram(t *testing.T) {
	root, l, _ := setup(t)
	p, err := l.Program(context.Background(), counterID)
	if err != nil {
		t.Fatalf("Program: %v", err)
	}
	res, err := l.Runner().Invoke(context.Background(), p, "createCounter", []any{5}, make([]sandbox.Call, 2))
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 || res[0] != int64(5) || res[1] != int64(6) {
		t.Errorf("results = %v", res)
	}

	testutil.WriteFile(t, root, "plain/demo.html", "<p>static</p>")
	if _, err := l.Program(context.Background(), "plain"); !errors.Is(err, apperr.ErrNoScript) {
		t.Errorf("err = %v, want ErrNoScript", err)
	}
}

func TestInvalidate(t *testing.T) {
	_, l, cache := setup(t)
	_, _ = l.Load(context.Background(), counterID)
	if err := l.Invalidate(counterID); err != nil {
		t.Fatal(err)
	}
	_, _ = l.Load(context.Background(), counterID)
	if cache.misses != 2 {
		t.Errorf("misses = %d, want 2 after invalidate", cache.misses)
	}
}

// gatedStore parks the first read of a demo.html until release is closed.
type gatedStore struct {
	storage.Provider
	once    sync.Once
	reached chan struct{}
	release chan struct{}
}

func (g *gatedStore) Read(p string) ([]byte, error) {
	data, err := g.Provider.Read(p)
	if strings.HasSuffix(p, storage.EntryFile) {
		g.once.Do(func() {
			close(g.reached)
			<-g.release
		})
	}
	return data, err
}

func TestInvalidate_DetachesInFlightLoad(t *testing.T) {
	root, store := testutil.TestDemos(t)
	testutil.SeedDemos(t, root)
	gate := &gatedStore{Provider: store, reached: make(chan struct{}), release: make(chan struct{})}
	l := New(gate, testutil.TestDB(t), nil, nil)

	first := make(chan *models.Module, 1)
	go func() {
		mod, _ := l.Load(context.Background(), counterID)
		first <- mod
	}()
	<-gate.reached

	testutil.WriteFile(t, root, counterID+"/demo.html", "<p>NEW</p>")
	if err := l.Invalidate(counterID); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	mod, err := l.Load(ctx, counterID)
	close(gate.release)
	if err != nil {
		t.Fatalf("Load after invalidate: %v", err)
	}
	if mod.Default.HTML != "<p>NEW</p>" {
		t.Errorf("html = %q, want edited content", mod.Default.HTML)
	}

	if old := <-first; old == nil || old.Default.HTML != testutil.CounterHTML {
		t.Errorf("first load = %+v", old)
	}
}

func TestInvalidate_DropsCompiledProgram(t *testing.T) {
	root, l, _ := setup(t)
	if _, err := l.Load(context.Background(), counterID); err != nil {
		t.Fatal(err)
	}
	for i := range 3 {
		testutil.WriteFile(t, root, counterID+"/algo.js", testutil.CounterJS+strings.Repeat("\n", i+1))
		if _, err := l.Load(context.Background(), counterID); err != nil {
			t.Fatal(err)
		}
	}
	if n := l.Runner().Cached(); n != 1 {
		t.Errorf("cached programs = %d, want 1", n)
	}
	if err := l.Invalidate(counterID); err != nil {
		t.Fatal(err)
	}
	if n := l.Runner().Cached(); n != 0 {
		t.Errorf("cached programs = %d after invalidate", n)
	}
}
