package images

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Media is what the structured data says about an entity's pictures.
type Media struct {
	Category string // media category holding candidate files
	File     string // single directly referenced file
}

// Catalog is the external media lookup. Every method reports "not found" as a
// zero value with a nil error.
type Catalog interface {
	FindEntity(ctx context.Context, name string) (string, error)
	EntityMedia(ctx context.Context, entityID string) (Media, error)
	CategoryFiles(ctx context.Context, category string, limit int) ([]string, error)
	FileURL(ctx context.Context, file string, width int) (string, error)
}

type State int

const (
	Unresolved State = iota
	Resolving
	Resolved
)

func (s State) String() string {
	switch s {
	case Resolving:
		return "resolving"
	case Resolved:
		return "resolved"
	default:
		return "unresolved"
	}
}

// marks holds the per-species selection history.
type marks struct {
	shown map[string]struct{}
	bad   map[string]struct{}
}

// Resolver turns scientific names into image URLs. Successful lookups are
// cached for the life of the process, including "no images".
type Resolver struct {
	catalog     Catalog
	urls        *cache.Cache
	width       int
	maxFiles    int
	concurrency int
	log         *logrus.Entry

	mu       sync.Mutex
	marks    map[string]*marks
	inflight map[string]int
	rng      *rand.Rand
}

type Config struct {
	Width       int // thumbnail width in pixels
	MaxFiles    int // candidate files taken from a category
	Concurrency int // parallel file to URL lookups
}

func NewResolver(catalog Catalog, cfg Config, log *logrus.Entry) *Resolver {
	if cfg.Width <= 0 {
		cfg.Width = 640
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 12
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if log == nil {
		log = logrus.WithField("component", "images")
	}
	return &Resolver{
		catalog:     catalog,
		urls:        cache.New(cache.NoExpiration, cache.NoExpiration),
		width:       cfg.Width,
		maxFiles:    cfg.MaxFiles,
		concurrency: cfg.Concurrency,
		log:         log,
		marks:       map[string]*marks{},
		inflight:    map[string]int{},
		rng:         rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
}

// Resolve returns the candidate URLs for name, running the lookup chain only
// when the canonical name has not been resolved before. Errors are not cached.
func (r *Resolver) Resolve(ctx context.Context, name string) ([]string, error) {
	key := CanonicalName(name)
	if key == "" {
		return nil, nil
	}
	if v, ok := r.urls.Get(key); ok {
		return v.([]string), nil
	}

	r.mu.Lock()
	r.inflight[key]++
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		if r.inflight[key]--; r.inflight[key] <= 0 {
			delete(r.inflight, key)
		}
		r.mu.Unlock()
	}()

	urls, err := r.lookup(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("resolve images for %q: %w", key, err)
	}
	urls = dedupe(urls)
	r.urls.Set(key, urls, cache.NoExpiration)
	r.log.WithFields(logrus.Fields{"species": key, "count": len(urls)}).Debug("resolved images")
	return urls, nil
}

func (r *Resolver) lookup(ctx context.Context, name string) ([]string, error) {
	id, err := r.catalog.FindEntity(ctx, name)
	if err != nil || id == "" {
		return nil, err
	}
	media, err := r.catalog.EntityMedia(ctx, id)
	if err != nil {
		return nil, err
	}

	var urls []string
	if media.Category != "" {
		// Ask for extra titles; the junk filter usually throws some away.
		titles, err := r.catalog.CategoryFiles(ctx, media.Category, r.maxFiles*3)
		if err != nil {
			return nil, err
		}
		var files []string
		for _, t := range titles {
			if IsPhoto(t) {
				files = append(files, t)
			}
			if len(files) >= r.maxFiles {
				break
			}
		}
		if urls, err = r.thumbnails(ctx, files); err != nil {
			return nil, err
		}
	}
	if len(urls) == 0 && media.File != "" {
		u, err := r.catalog.FileURL(ctx, media.File, r.width)
		if err != nil {
			return nil, err
		}
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls, nil
}

// thumbnails resolves files to URLs concurrently, keeping the file order.
func (r *Resolver) thumbnails(ctx context.Context, files []string) ([]string, error) {
	out := make([]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			u, err := r.catalog.FileURL(gctx, f, r.width)
			out[i] = u
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var urls []string
	for _, u := range out {
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls, nil
}

// Select picks a URL to display for name. URLs that are neither shown nor bad
// come first, then any URL that is not bad, then the full list.
func (r *Resolver) Select(name string, urls []string) string {
	if len(urls) == 0 {
		return ""
	}
	key := CanonicalName(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.marksFor(key)

	var fresh, good []string
	for _, u := range urls {
		if _, bad := m.bad[u]; bad {
			continue
		}
		good = append(good, u)
		if _, seen := m.shown[u]; !seen {
			fresh = append(fresh, u)
		}
	}
	pool := fresh
	if len(pool) == 0 {
		pool = good
	}
	if len(pool) == 0 {
		pool = urls
	}
	choice := pool[r.rng.IntN(len(pool))]
	m.shown[choice] = struct{}{}
	return choice
}

// Find resolves name and selects one URL. It returns "" when there are no
// images for the species.
func (r *Resolver) Find(ctx context.Context, name string) (string, error) {
	urls, err := r.Resolve(ctx, name)
	if err != nil || len(urls) == 0 {
		return "", err
	}
	return r.Select(name, urls), nil
}

// MarkBad records that url failed to load for name. It is skipped by Select
// while another URL is available.
func (r *Resolver) MarkBad(name, url string) {
	key := CanonicalName(name)
	if key == "" || url == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marksFor(key).bad[url] = struct{}{}
}

// State reports where name is in the resolution lifecycle.
func (r *Resolver) State(name string) State {
	key := CanonicalName(name)
	if _, ok := r.urls.Get(key); ok {
		return Resolved
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight[key] > 0 {
		return Resolving
	}
	return Unresolved
}

// Cached returns the cached URL list for name, if resolved.
func (r *Resolver) Cached(name string) ([]string, bool) {
	v, ok := r.urls.Get(CanonicalName(name))
	if !ok {
		return nil, false
	}
	return v.([]string), true
}

// marksFor returns the history for key. Called with r.mu held.
func (r *Resolver) marksFor(key string) *marks {
	m, ok := r.marks[key]
	if !ok {
		m = &marks{shown: map[string]struct{}{}, bad: map[string]struct{}{}}
		r.marks[key] = m
	}
	return m
}

func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
