package hints

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	cache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"psp.com/species-quiz/backend/internal/images"
)

const (
	DefaultWikipediaURL = "https://en.wikipedia.org/wiki/"
	DefaultUserAgent    = "Species-Quiz-Bot/1.0 (+https://example.org)"
)

var (
	ErrNoName   = errors.New("no scientific name to look up")
	ErrNotFound = errors.New("no article summary found")
)

// Provider fetches the lead paragraph of a species' encyclopedia article.
type Provider struct {
	client    *http.Client
	baseURL   string
	userAgent string
	cache     *cache.Cache
	log       *logrus.Entry
}

func NewProvider(client *http.Client, baseURL, userAgent string, ttl time.Duration) *Provider {
	if baseURL == "" {
		baseURL = DefaultWikipediaURL
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Provider{
		client:    client,
		baseURL:   baseURL,
		userAgent: userAgent,
		cache:     cache.New(ttl, 2*ttl),
		log:       logrus.WithField("component", "hints"),
	}
}

// Summary returns the article lead for scientificName, cached per canonical
// name.
func (p *Provider) Summary(ctx context.Context, scientificName string) (string, error) {
	name := images.CanonicalName(scientificName)
	if name == "" {
		return "", ErrNoName
	}
	if v, ok := p.cache.Get(name); ok {
		return v.(string), nil
	}

	text, err := p.fetch(ctx, name)
	if err != nil {
		return "", err
	}
	p.cache.Set(name, text, cache.DefaultExpiration)
	p.log.WithField("species", name).Debug("cached article summary")
	return text, nil
}

func (p *Provider) fetch(ctx context.Context, name string) (string, error) {
	pageURL := p.baseURL + url.PathEscape(strings.ReplaceAll(name, " ", "_"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.New("failed to load article: " + pageURL)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}
	text := LeadParagraph(doc)
	if text == "" {
		return "", ErrNotFound
	}
	return text, nil
}

// LeadParagraph returns the first non-empty paragraph of the article body with
// reference markers removed and whitespace collapsed.
func LeadParagraph(doc *goquery.Document) string {
	var lead string
	doc.Find("#mw-content-text p, main p, article p").EachWithBreak(func(_ int, p *goquery.Selection) bool {
		if p.HasClass("mw-empty-elt") {
			return true
		}
		p.Find("sup.reference, sup, style, .mw-ref").Remove()
		text := strings.Join(strings.Fields(strings.TrimSpace(p.Text())), " ")
		if text == "" {
			return true
		}
		lead = text
		return false
	})
	return lead
}
