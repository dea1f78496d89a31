package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/starford/leetlab/internal/apperr"
	"github.com/starford/leetlab/internal/models"
)

func stubModule(id string) models.ModuleLoader {
	return func(context.Context) (*models.Module, error) {
		return &models.Module{Default: &models.View{DemoID: id, HTML: "<p>" + id + "</p>"}}, nil
	}
}

func units(ids ...string) map[string]models.ModuleLoader {
	out := make(map[string]models.ModuleLoader, len(ids))
	for _, id := range ids {
		out["./"+id+"/demo.html"] = stubModule(id)
	}
	return out
}

var ignoreLoader = cmpopts.IgnoreFields(models.Descriptor{}, "Loader")

func TestBuild_InferredFields(t *testing.T) {
	c := Build(units("2026-02-17-hello-world", "misc-notes"), nil, nil)
	want := []models.Descriptor{
		{ID: "2026-02-17-hello-world", Title: "Hello World", Date: "2026-02-17", Tags: []string{}},
		{ID: "misc-notes", Title: "Misc Notes", Date: models.UnknownDate, Tags: []string{}},
	}
	if diff := cmp.Diff(want, c.All(), ignoreLoader); diff != "" {
		t.Errorf("catalog mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_SortOrder(t *testing.T) {
	c := Build(units(
		"zeta-notes",
		"2026-01-01-two-sum",
		"alpha-notes",
		"2026-02-19-counter",
		"2025-12-31-old",
	), nil, nil)

	want := []string{
		"2026-02-19-counter",
		"2026-01-01-two-sum",
		"2025-12-31-old",
		"alpha-notes",
		"zeta-notes",
	}
	if diff := cmp.Diff(want, c.IDs()); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_SortProperty(t *testing.T) {
	c := Build(units(
		"b-demo", "2024-05-05-x", "A-demo", "2026-01-01-y", "2026-01-01-a", "c-demo",
	), nil, nil)
	all := c.All()
	for i := 0; i+1 < len(all); i++ {
		a, b := all[i], all[i+1]
		switch {
		case a.HasDate() && b.HasDate():
			if a.Date < b.Date {
				t.Errorf("%s (%s) sorted before later %s (%s)", a.ID, a.Date, b.ID, b.Date)
			}
		case !a.HasDate() && b.HasDate():
			t.Errorf("unknown-date %s sorted before dated %s", a.ID, b.ID)
		case !a.HasDate() && !b.HasDate():
			if a.Title > b.Title {
				t.Errorf("titles out of order: %q before %q", a.Title, b.Title)
			}
		}
	}
}

func TestBuild_MetadataOverride(t *testing.T) {
	metas := map[string][]byte{
		"./misc-notes/meta.yaml": []byte("title: Custom\ndate: \"2026-03-01\"\ntags: [closure, closure, js]\n"),
	}
	c := Build(units("misc-notes"), metas, nil)
	d, ok := c.Get("misc-notes")
	if !ok {
		t.Fatal("misc-notes missing")
	}
	if d.Title != "Custom" {
		t.Errorf("title = %q, want Custom", d.Title)
	}
	if d.Date != "2026-03-01" {
		t.Errorf("date = %q, want 2026-03-01", d.Date)
	}
	if diff := cmp.Diff([]string{"closure", "js"}, d.Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_PartialMetadataFallsBack(t *testing.T) {
	metas := map[string][]byte{
		"2026-02-17-hello-world/meta.yaml": []byte("tags: [closure]\n"),
	}
	c := Build(units("2026-02-17-hello-world"), metas, nil)
	d, _ := c.Get("2026-02-17-hello-world")
	if d.Title != "Hello World" || d.Date != "2026-02-17" {
		t.Errorf("inferred fields lost: %+v", d)
	}
	if len(d.Tags) != 1 || d.Tags[0] != "closure" {
		t.Errorf("tags = %v", d.Tags)
	}
}

func TestBuild_MalformedMetadataIsolated(t *testing.T) {
	metas := map[string][]byte{
		"2026-02-17-hello-world/meta.yaml": []byte("title: [broken\n"),
		"2026-02-19-counter/meta.yaml":     []byte("date: yesterday\n"),
		"misc-notes/meta.yaml":             []byte("title: Kept\n"),
	}
	c := Build(units("2026-02-17-hello-world", "2026-02-19-counter", "misc-notes"), metas, nil)
	if c.Len() != 3 {
		t.Fatalf("len = %d, want 3", c.Len())
	}
	hello, _ := c.Get("2026-02-17-hello-world")
	if hello.Title != "Hello World" {
		t.Errorf("hello title = %q, want inferred", hello.Title)
	}
	counter, _ := c.Get("2026-02-19-counter")
	if counter.Date != "2026-02-19" {
		t.Errorf("counter date = %q, want inferred", counter.Date)
	}
	misc, _ := c.Get("misc-notes")
	if misc.Title != "Kept" {
		t.Errorf("misc title = %q, want Kept", misc.Title)
	}
}

func TestBuild_MetaWithoutUnitIgnored(t *testing.T) {
	metas := map[string][]byte{"orphan/meta.yaml": []byte("title: Orphan\n")}
	c := Build(units("misc-notes"), metas, nil)
	if c.Len() != 1 {
		t.Errorf("len = %d, want 1", c.Len())
	}
}

func TestBuild_UniqueIDs(t *testing.T) {
	u := units("dup")
	u["dup/other.html"] = stubModule("dup-2")
	c := Build(u, nil, nil)
	if c.Len() != 1 {
		t.Fatalf("len = %d, want 1", c.Len())
	}
	seen := map[string]bool{}
	for _, d := range c.All() {
		if seen[d.ID] {
			t.Errorf("duplicate id %q", d.ID)
		}
		seen[d.ID] = true
	}
}

func TestBuild_Idempotent(t *testing.T) {
	u := units("2026-02-17-hello-world", "misc-notes", "2026-02-19-counter", "b", "a")
	metas := map[string][]byte{"b/meta.yaml": []byte("title: Aardvark\n")}
	first := Build(u, metas, nil).All()
	second := Build(u, metas, nil).All()
	if diff := cmp.Diff(first, second, ignoreLoader); diff != "" {
		t.Errorf("builds differ (-first +second):\n%s", diff)
	}
}

func TestBuild_Empty(t *testing.T) {
	c := Build(nil, nil, nil)
	if c.Len() != 0 || len(c.All()) != 0 {
		t.Errorf("expected empty catalog")
	}
}

func TestLoader_ExposesDefaultView(t *testing.T) {
	c := Build(units("misc-notes"), nil, nil)
	d, _ := c.Get("misc-notes")
	v, err := d.Loader(context.Background())
	if err != nil {
		t.Fatalf("Loader: %v", err)
	}
	if v.DemoID != "misc-notes" {
		t.Errorf("view id = %q", v.DemoID)
	}
}

func TestLoader_NoDefaultView(t *testing.T) {
	u := map[string]models.ModuleLoader{
		"empty/demo.html": func(context.Context) (*models.Module, error) {
			return &models.Module{Exports: map[string]any{"x": 1}}, nil
		},
	}
	d, _ := Build(u, nil, nil).Get("empty")
	_, err := d.Loader(context.Background())
	if !errors.Is(err, apperr.ErrNoDefaultView) {
		t.Errorf("err = %v, want ErrNoDefaultView", err)
	}
}

func TestLoader_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	u := map[string]models.ModuleLoader{
		"bad/demo.html": func(context.Context) (*models.Module, error) { return nil, boom },
	}
	d, _ := Build(u, nil, nil).Get("bad")
	if _, err := d.Loader(context.Background()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestCatalog_AccessorsReturnCopies(t *testing.T) {
	metas := map[string][]byte{"a/meta.yaml": []byte("tags: [x]\n")}
	c := Build(units("a"), metas, nil)
	all := c.All()
	all[0].Tags[0] = "mutated"
	d, _ := c.Get("a")
	if d.Tags[0] != "x" {
		t.Errorf("catalog mutated through All(): %v", d.Tags)
	}
}

func TestUnitID(t *testing.T) {
	cases := map[string]string{
		"./a/demo.html": "a",
		"a/demo.html":   "a",
		"a":             "a",
		"../a/demo":     "",
		"/abs/demo":     "",
		".":             "",
	}
	for in, want := range cases {
		if got := unitID(in); got != want {
			t.Errorf("unitID(%q) = %q, want %q", in, got, want)
		}
	}
}
