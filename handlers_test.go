package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"psp.com/species-quiz/backend/internal/config"
	"psp.com/species-quiz/backend/internal/events"
	"psp.com/species-quiz/backend/internal/hints"
	"psp.com/species-quiz/backend/internal/images"
	"psp.com/species-quiz/backend/internal/quiz"
	"psp.com/species-quiz/backend/internal/species"
)

type fakeCatalog struct{}

func (fakeCatalog) FindEntity(_ context.Context, name string) (string, error) { return "Q1", nil }
func (fakeCatalog) EntityMedia(context.Context, string) (images.Media, error) {
	return images.Media{File: "File:Robin.jpg"}, nil
}
func (fakeCatalog) CategoryFiles(context.Context, string, int) ([]string, error) { return nil, nil }
func (fakeCatalog) FileURL(context.Context, string, int) (string, error) {
	return "https://upload/thumb/Robin.jpg", nil
}

const robinJSON = `[{"Common Name":"American Robin","Scientific Name":"Turdus migratorius","Family":"Turdidae","Notes":""}]`

func newTestHandler(t *testing.T, data *species.Collection) http.Handler {
	t.Helper()
	wiki := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><main><p>The American robin (<i>Turdus migratorius</i>) is a migratory songbird of the true thrush genus.</p></main></body></html>`))
	}))
	t.Cleanup(wiki.Close)

	session := quiz.NewSession(data,
		quiz.WithImages(images.NewResolver(fakeCatalog{}, images.Config{}, nil)),
		quiz.WithPlaceholder("/placeholder.png"),
		quiz.WithSeed(1))
	hub := events.NewHub(nil)
	t.Cleanup(hub.Close)
	srv := newServer(session, hints.NewProvider(wiki.Client(), wiki.URL+"/wiki/", "test-agent", time.Hour), hub)
	return routes(srv, config.Config{AllowedOrigins: []string{"*"}})
}

func robin(t *testing.T) *species.Collection {
	data, err := species.DecodeJSON(strings.NewReader(robinJSON))
	require.NoError(t, err)
	return data
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestQuizRoundTrip(t *testing.T) {
	h := newTestHandler(t, robin(t))

	rec := do(h, http.MethodGet, "/api/question", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(h, http.MethodPost, "/api/next", "")
	require.Equal(t, http.StatusOK, rec.Code)
	q := decode[questionResp](t, rec)
	assert.Equal(t, []string{"Common Name", "Scientific Name", "Family"}, q.Question.Eligible)
	assert.Equal(t, []string{"Notes"}, q.Question.Disabled)
	assert.Empty(t, q.Question.Clues)
	assert.NotContains(t, rec.Body.String(), "Turdidae")

	rec = do(h, http.MethodPut, "/api/fields/Family", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	fields := decode[fieldsResp](t, rec)
	assert.Equal(t, []string{"Common Name", "Scientific Name"}, fields.Eligible)
	assert.False(t, fields.Enabled["Family"])

	rec = do(h, http.MethodGet, "/api/question", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"Family": "Turdidae"}, decode[questionResp](t, rec).Question.Clues)

	rec = do(h, http.MethodPost, "/api/grade", `{"answers":{"Common Name":"robin","Scientific Name":"turdus migratorius"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[quiz.Result](t, rec)
	assert.False(t, res.Correct)
	assert.Equal(t, "American Robin", res.Expected["Common Name"])

	rec = do(h, http.MethodPost, "/api/grade", `{"answers":{"Common Name":"  american   ROBIN ","Scientific Name":"Turdus Migratorius"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, quiz.MsgCorrect, decode[quiz.Result](t, rec).Message)

	rec = do(h, http.MethodGet, "/api/score", "")
	assert.Equal(t, scoreResp{Correct: 1, Wrong: 1, Total: 2}, decode[scoreResp](t, rec))
}

func TestRevealAndHint(t *testing.T) {
	h := newTestHandler(t, robin(t))
	require.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/next", "").Code)
	require.Equal(t, http.StatusOK, do(h, http.MethodPut, "/api/fields/Family", `{"enabled":false}`).Code)

	rec := do(h, http.MethodGet, "/api/reveal/Common%20Name", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "A_______ _____", decode[map[string]string](t, rec)["hint"])

	rec = do(h, http.MethodGet, "/api/reveal/Family", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodGet, "/api/hint", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "The ____ (____) is a migratory songbird of the true thrush genus.", decode[map[string]string](t, rec)["hint"])
}

func TestImageLifecycle(t *testing.T) {
	h := newTestHandler(t, robin(t))
	require.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/next", "").Code)

	require.Eventually(t, func() bool {
		img := decode[quiz.Image](t, do(h, http.MethodGet, "/api/image", ""))
		return !img.Loading && img.URL == "https://upload/thumb/Robin.jpg"
	}, time.Second, 10*time.Millisecond)

	rec := do(h, http.MethodPost, "/api/image/failed", `{"url":"https://upload/thumb/Robin.jpg"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	img := decode[quiz.Image](t, rec)
	assert.True(t, img.Placeholder)
	assert.Equal(t, "/placeholder.png", img.URL)

	rec = do(h, http.MethodPost, "/api/image/failed", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPut, "/api/image/show", `{"show":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[fieldsResp](t, do(h, http.MethodGet, "/api/fields", "")).ShowImages)
}

func TestFilterRoutes(t *testing.T) {
	h := newTestHandler(t, robin(t))

	rec := do(h, http.MethodPut, "/api/filter", `{"field":"Habitat","value":"Forest"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(h, http.MethodPut, "/api/filter", `{"field":"Family","value":"Corvidae"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, filterView{Field: "Family", Value: "Corvidae"}, decode[fieldsResp](t, rec).Filter)

	rec = do(h, http.MethodPost, "/api/next", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), quiz.MsgNoMatches)

	require.Equal(t, http.StatusOK, do(h, http.MethodPut, "/api/filter", `{"field":"Family","value":"turdidae"}`).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/next", "").Code)
}

func TestFieldValues(t *testing.T) {
	h := newTestHandler(t, robin(t))

	rec := do(h, http.MethodGet, "/api/fields/Family/values", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []species.ValueCount{{Value: "Turdidae", Count: 1}}, decode[[]species.ValueCount](t, rec))

	rec = do(h, http.MethodGet, "/api/fields/Notes/values", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/fields/Habitat/values", "").Code)
}

func TestUnplayableSession(t *testing.T) {
	h := newTestHandler(t, nil)

	rec := do(h, http.MethodPost, "/api/next", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), quiz.MsgNoData)

	assert.Equal(t, http.StatusServiceUnavailable, do(h, http.MethodGet, "/api/question", "").Code)
	assert.Equal(t, http.StatusConflict, do(h, http.MethodPost, "/api/grade", `{"answers":{}}`).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz", "").Code)
}

func TestReport(t *testing.T) {
	h := newTestHandler(t, robin(t))
	require.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/next", "").Code)
	require.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/grade", `{"answers":{}}`).Code)

	rec := do(h, http.MethodGet, "/api/report", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF"))
}

func TestSecurityHeaders(t *testing.T) {
	h := newTestHandler(t, robin(t))
	rec := do(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRateLimiter(t *testing.T) {
	l := newRateLimiter(2)
	now := time.Now()
	assert.True(t, l.allow("10.0.0.1", now))
	assert.True(t, l.allow("10.0.0.1", now))
	assert.False(t, l.allow("10.0.0.1", now))
	assert.True(t, l.allow("10.0.0.2", now))
	assert.True(t, l.allow("10.0.0.1", now.Add(time.Minute)))

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	mw := newRateLimiter(1).middleware(ok)
	assert.Equal(t, http.StatusOK, do(mw, http.MethodGet, "/api/score", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(mw, http.MethodGet, "/api/score", "").Code)
	assert.Equal(t, http.StatusOK, do(mw, http.MethodGet, "/healthz", "").Code)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://quiz.example"})
	req := httptest.NewRequest(http.MethodGet, "http://api.example/ws", nil)
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://quiz.example")
	assert.True(t, check(req))
	req.Header.Set("Origin", "http://api.example")
	assert.True(t, check(req))
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))
}
