// Package testutil provides shared test helpers for demo folders and the view cache.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/leetlab/internal/storage"
	"github.com/starford/leetlab/internal/viewcache"
)

// CounterHTML and CounterJS are a minimal closure-counter demo.
const (
	CounterHTML = `<h2>Counter</h2><button data-call="createCounter">next</button>`
	CounterJS   = "function createCounter(n) {\n  return function () { return n++; };\n}\n"
	HelloHTML   = `<h2>Hello</h2>`
	HelloJS     = "function createHelloWorld() {\n  return function () { return \"Hello World\"; };\n}\n"
)

// TestDB creates a temporary view cache that is automatically closed.
func TestDB(t *testing.T) *viewcache.DB {
	t.Helper()
	db, err := viewcache.Open(filepath.Join(t.TempDir(), "views.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestDemos creates a temporary demos root with a storage.Provider.
func TestDemos(t *testing.T) (string, storage.Provider) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	return root, store
}

// WriteFile writes content to rel (slash-separated) under root, creating
// parent directories.
func WriteFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// SeedDemos writes the hello-world and counter demos under root.
func SeedDemos(t *testing.T, root string) {
	t.Helper()
	WriteFile(t, root, "2026-02-17-hello-world/demo.html", HelloHTML)
	WriteFile(t, root, "2026-02-17-hello-world/algo.js", HelloJS)
	WriteFile(t, root, "2026-02-17-hello-world/meta.yaml", "tags: [closure, basics]\n")
	WriteFile(t, root, "2026-02-19-2620-counter/demo.html", CounterHTML)
	WriteFile(t, root, "2026-02-19-2620-counter/algo.js", CounterJS)
	WriteFile(t, root, "2026-02-19-2620-counter/meta.yaml", "title: Counter\ntags: [closure, counter]\n")
	WriteFile(t, root, "2026-02-19-2620-counter/assets/style.css", "h2 { color: teal; }")
}

// Eventually polls fn every tick until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}
