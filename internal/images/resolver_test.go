package images

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	mu       sync.Mutex
	entities map[string]string
	media    map[string]Media
	files    map[string][]string
	urls     map[string]string
	err      error
	calls    map[string]int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		entities: map[string]string{},
		media:    map[string]Media{},
		files:    map[string][]string{},
		urls:     map[string]string{},
		calls:    map[string]int{},
	}
}

func (f *fakeCatalog) count(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
}

func (f *fakeCatalog) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeCatalog) FindEntity(_ context.Context, name string) (string, error) {
	f.count("entity")
	if f.err != nil {
		return "", f.err
	}
	return f.entities[name], nil
}

func (f *fakeCatalog) EntityMedia(_ context.Context, id string) (Media, error) {
	f.count("media")
	return f.media[id], nil
}

func (f *fakeCatalog) CategoryFiles(_ context.Context, category string, limit int) ([]string, error) {
	f.count("files")
	files := f.files[category]
	if len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

func (f *fakeCatalog) FileURL(_ context.Context, file string, width int) (string, error) {
	f.count("url")
	return f.urls[file], nil
}

func eagleCatalog() *fakeCatalog {
	c := newFakeCatalog()
	c.entities["Haliaeetus leucocephalus"] = "Q25319"
	c.media["Q25319"] = Media{Category: "Haliaeetus leucocephalus", File: "File:Eagle main.jpg"}
	c.files["Haliaeetus leucocephalus"] = []string{
		"File:Eagle 1.jpg",
		"File:Eagle range map.png",
		"File:Eagle 2.jpg",
		"File:Eagle call.ogg",
		"File:Eagle 2 copy.jpg",
	}
	c.urls["File:Eagle 1.jpg"] = "https://thumb/eagle1.jpg"
	c.urls["File:Eagle 2.jpg"] = "https://thumb/eagle2.jpg"
	c.urls["File:Eagle 2 copy.jpg"] = "https://thumb/eagle2.jpg"
	c.urls["File:Eagle main.jpg"] = "https://thumb/main.jpg"
	return c
}

func TestResolveFiltersAndDedupes(t *testing.T) {
	cat := eagleCatalog()
	r := NewResolver(cat, Config{}, nil)

	urls, err := r.Resolve(context.Background(), "Haliaeetus leucocephalus (Linnaeus, 1766)")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://thumb/eagle1.jpg", "https://thumb/eagle2.jpg"}, urls)
	assert.Equal(t, 3, cat.Calls("url"), "junk files are never resolved")
	assert.Equal(t, Resolved, r.State("Haliaeetus leucocephalus"))
}

func TestResolveCachesPerCanonicalName(t *testing.T) {
	cat := eagleCatalog()
	r := NewResolver(cat, Config{}, nil)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "Haliaeetus leucocephalus")
	require.NoError(t, err)
	_, err = r.Resolve(ctx, "Haliaeetus leucocephalus Linnaeus, 1766")
	require.NoError(t, err)
	_, err = r.Find(ctx, "Haliaeetus  leucocephalus")
	require.NoError(t, err)

	assert.Equal(t, 1, cat.Calls("entity"))
	assert.Equal(t, 1, cat.Calls("files"))
}

func TestResolveCachesEmpty(t *testing.T) {
	cat := newFakeCatalog()
	r := NewResolver(cat, Config{}, nil)
	ctx := context.Background()

	u, err := r.Find(ctx, "Nonexistus imaginarius")
	require.NoError(t, err)
	assert.Empty(t, u)
	_, err = r.Resolve(ctx, "Nonexistus imaginarius")
	require.NoError(t, err)

	assert.Equal(t, 1, cat.Calls("entity"))
	cached, ok := r.Cached("Nonexistus imaginarius")
	assert.True(t, ok)
	assert.Empty(t, cached)
	assert.Equal(t, Resolved, r.State("Nonexistus imaginarius"))
}

func TestResolveFailureIsNotCached(t *testing.T) {
	cat := eagleCatalog()
	cat.err = errors.New("connection reset")
	r := NewResolver(cat, Config{}, nil)
	ctx := context.Background()

	u, err := r.Find(ctx, "Haliaeetus leucocephalus")
	assert.Error(t, err)
	assert.Empty(t, u)
	assert.Equal(t, Unresolved, r.State("Haliaeetus leucocephalus"))

	cat.err = nil
	u, err = r.Find(ctx, "Haliaeetus leucocephalus")
	require.NoError(t, err)
	assert.NotEmpty(t, u)
	assert.Equal(t, 2, cat.Calls("entity"))
}

func TestResolveFallsBackToDirectFile(t *testing.T) {
	cat := eagleCatalog()
	cat.files["Haliaeetus leucocephalus"] = []string{"File:Eagle range map.png"}
	r := NewResolver(cat, Config{}, nil)

	urls, err := r.Resolve(context.Background(), "Haliaeetus leucocephalus")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://thumb/main.jpg"}, urls)
}

func TestResolveDirectFileOnly(t *testing.T) {
	cat := eagleCatalog()
	cat.media["Q25319"] = Media{File: "File:Eagle main.jpg"}
	r := NewResolver(cat, Config{}, nil)

	urls, err := r.Resolve(context.Background(), "Haliaeetus leucocephalus")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://thumb/main.jpg"}, urls)
	assert.Equal(t, 0, cat.Calls("files"))
}

func TestResolveRespectsMaxFiles(t *testing.T) {
	cat := eagleCatalog()
	r := NewResolver(cat, Config{MaxFiles: 1}, nil)

	urls, err := r.Resolve(context.Background(), "Haliaeetus leucocephalus")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://thumb/eagle1.jpg"}, urls)
}

func TestResolveBlankName(t *testing.T) {
	cat := eagleCatalog()
	r := NewResolver(cat, Config{}, nil)
	u, err := r.Find(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, u)
	assert.Equal(t, 0, cat.Calls("entity"))
}

func TestSelectPrefersUnseen(t *testing.T) {
	r := NewResolver(newFakeCatalog(), Config{}, nil)
	urls := []string{"u1", "u2"}

	first := r.Select("Turdus migratorius", urls)
	second := r.Select("Turdus migratorius", urls)
	assert.NotEqual(t, first, second)
	assert.ElementsMatch(t, urls, []string{first, second})

	for i := 0; i < 20; i++ {
		assert.Contains(t, urls, r.Select("Turdus migratorius", urls))
	}
}

func TestSelectUnseenAfterShownSet(t *testing.T) {
	for i := 0; i < 20; i++ {
		r := NewResolver(newFakeCatalog(), Config{}, nil)
		r.mu.Lock()
		r.marksFor("Turdus migratorius").shown["u1"] = struct{}{}
		r.mu.Unlock()
		assert.Equal(t, "u2", r.Select("Turdus migratorius", []string{"u1", "u2"}))
	}
}

func TestSelectSkipsBad(t *testing.T) {
	r := NewResolver(newFakeCatalog(), Config{}, nil)
	r.MarkBad("Turdus migratorius (Linnaeus, 1766)", "u1")
	urls := []string{"u1", "u2"}

	for i := 0; i < 50; i++ {
		assert.Equal(t, "u2", r.Select("Turdus migratorius", urls))
	}

	r.MarkBad("Turdus migratorius", "u2")
	assert.Contains(t, urls, r.Select("Turdus migratorius", urls), "all bad falls back to the full list")
	assert.Empty(t, r.Select("Turdus migratorius", nil))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unresolved", Unresolved.String())
	assert.Equal(t, "resolving", Resolving.String())
	assert.Equal(t, "resolved", Resolved.String())
}
