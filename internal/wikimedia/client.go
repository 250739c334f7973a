package wikimedia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"psp.com/species-quiz/backend/internal/images"
)

const (
	DefaultWikidataAPI = "https://www.wikidata.org/w/api.php"
	DefaultCommonsAPI  = "https://commons.wikimedia.org/w/api.php"
	DefaultUserAgent   = "Species-Quiz-Bot/1.0 (+https://example.org)"

	// Wikidata properties.
	propCommonsCategory = "P373"
	propImage           = "P18"
)

// Client looks up species media through Wikidata (structured data) and
// Wikimedia Commons (media files).
type Client struct {
	http        *http.Client
	wikidataAPI string
	commonsAPI  string
	userAgent   string
}

var _ images.Catalog = (*Client)(nil)

type Option func(*Client)

func WithWikidataAPI(u string) Option { return func(c *Client) { c.wikidataAPI = u } }

func WithCommonsAPI(u string) Option { return func(c *Client) { c.commonsAPI = u } }

func WithUserAgent(ua string) Option { return func(c *Client) { c.userAgent = ua } }

func New(client *http.Client, opts ...Option) *Client {
	c := &Client{
		http:        client,
		wikidataAPI: DefaultWikidataAPI,
		commonsAPI:  DefaultCommonsAPI,
		userAgent:   DefaultUserAgent,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type apiError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

// FindEntity returns the Wikidata item ID for a scientific name.
func (c *Client) FindEntity(ctx context.Context, name string) (string, error) {
	var out struct {
		Error  *apiError `json:"error"`
		Search []struct {
			ID string `json:"id"`
		} `json:"search"`
	}
	params := url.Values{
		"action":   {"wbsearchentities"},
		"search":   {name},
		"language": {"en"},
		"type":     {"item"},
		"limit":    {"1"},
	}
	if err := c.get(ctx, c.wikidataAPI, params, &out); err != nil {
		return "", err
	}
	if out.Error != nil {
		return "", fmt.Errorf("wikidata search: %s: %s", out.Error.Code, out.Error.Info)
	}
	if len(out.Search) == 0 {
		return "", nil
	}
	return out.Search[0].ID, nil
}

type claim struct {
	Mainsnak struct {
		Datavalue struct {
			Value json.RawMessage `json:"value"`
		} `json:"datavalue"`
	} `json:"mainsnak"`
}

// EntityMedia returns the Commons category and the main image of an item.
func (c *Client) EntityMedia(ctx context.Context, entityID string) (images.Media, error) {
	var out struct {
		Error    *apiError `json:"error"`
		Entities map[string]struct {
			Claims map[string][]claim `json:"claims"`
		} `json:"entities"`
	}
	params := url.Values{
		"action": {"wbgetentities"},
		"ids":    {entityID},
		"props":  {"claims"},
	}
	if err := c.get(ctx, c.wikidataAPI, params, &out); err != nil {
		return images.Media{}, err
	}
	if out.Error != nil {
		if out.Error.Code == "no-such-entity" {
			return images.Media{}, nil
		}
		return images.Media{}, fmt.Errorf("wikidata entity %s: %s: %s", entityID, out.Error.Code, out.Error.Info)
	}
	ent, ok := out.Entities[entityID]
	if !ok {
		return images.Media{}, nil
	}
	media := images.Media{Category: firstString(ent.Claims[propCommonsCategory])}
	if f := firstString(ent.Claims[propImage]); f != "" {
		media.File = "File:" + f
	}
	return media, nil
}

func firstString(claims []claim) string {
	for _, cl := range claims {
		var s string
		if err := json.Unmarshal(cl.Mainsnak.Datavalue.Value, &s); err == nil && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// CategoryFiles lists up to limit file titles in a Commons category.
func (c *Client) CategoryFiles(ctx context.Context, category string, limit int) ([]string, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	var out struct {
		Error *apiError `json:"error"`
		Query struct {
			Categorymembers []struct {
				Title string `json:"title"`
			} `json:"categorymembers"`
		} `json:"query"`
	}
	if !strings.HasPrefix(category, "Category:") {
		category = "Category:" + category
	}
	params := url.Values{
		"action":        {"query"},
		"list":          {"categorymembers"},
		"cmtitle":       {category},
		"cmtype":        {"file"},
		"cmlimit":       {strconv.Itoa(limit)},
		"formatversion": {"2"},
	}
	if err := c.get(ctx, c.commonsAPI, params, &out); err != nil {
		return nil, err
	}
	if out.Error != nil {
		return nil, fmt.Errorf("commons category %s: %s: %s", category, out.Error.Code, out.Error.Info)
	}
	var titles []string
	for _, m := range out.Query.Categorymembers {
		titles = append(titles, m.Title)
	}
	return titles, nil
}

// FileURL returns a thumbnail URL of the given width for a Commons file, or
// the original file URL when no thumbnail is offered.
func (c *Client) FileURL(ctx context.Context, file string, width int) (string, error) {
	var out struct {
		Error *apiError `json:"error"`
		Query struct {
			Pages []struct {
				Missing   bool `json:"missing"`
				Imageinfo []struct {
					URL      string `json:"url"`
					ThumbURL string `json:"thumburl"`
				} `json:"imageinfo"`
			} `json:"pages"`
		} `json:"query"`
	}
	if !strings.HasPrefix(file, "File:") {
		file = "File:" + file
	}
	params := url.Values{
		"action":        {"query"},
		"titles":        {file},
		"prop":          {"imageinfo"},
		"iiprop":        {"url"},
		"formatversion": {"2"},
	}
	if width > 0 {
		params.Set("iiurlwidth", strconv.Itoa(width))
	}
	if err := c.get(ctx, c.commonsAPI, params, &out); err != nil {
		return "", err
	}
	if out.Error != nil {
		return "", fmt.Errorf("commons file %s: %s: %s", file, out.Error.Code, out.Error.Info)
	}
	for _, p := range out.Query.Pages {
		if p.Missing || len(p.Imageinfo) == 0 {
			continue
		}
		if p.Imageinfo[0].ThumbURL != "" {
			return p.Imageinfo[0].ThumbURL, nil
		}
		return p.Imageinfo[0].URL, nil
	}
	return "", nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	params.Set("format", "json")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.New("unexpected status from " + endpoint + ": " + resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", params.Get("action"), err)
	}
	return nil
}
