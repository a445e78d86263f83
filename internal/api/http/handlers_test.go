package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daedalos/fetchproxy/internal/infrastructure/logging"
	"github.com/daedalos/fetchproxy/internal/proxy"
	"github.com/daedalos/fetchproxy/internal/proxy/fetch"
	"github.com/daedalos/fetchproxy/internal/proxy/rewrite"
	"github.com/daedalos/fetchproxy/internal/proxy/validate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newRouter mounts the handlers the same way the server does, over a service
// built from the given stages.
func newRouter(svc *proxy.Service) *gin.Engine {
	h := NewHandlers(svc, logging.NewNop())
	router := gin.New()
	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	router.GET("/fetch", h.Fetch)
	router.NoRoute(h.NoRoute)
	return router
}

// loopbackService builds a pipeline whose validator admits loopback targets
// so httptest upstreams are reachable. Everything else keeps defaults unless
// overridden via cfg.
func loopbackService(cfg fetch.Config) *proxy.Service {
	v := validate.New(validate.Config{AllowLoopback: true})
	return proxy.NewWithStages(v, fetch.New(cfg, v), rewrite.New(rewrite.Config{}), logging.NewNop())
}

// defaultService builds the pipeline with production validation, loopback
// included in the blocked set.
func defaultService() *proxy.Service {
	v := validate.New(validate.Config{})
	return proxy.NewWithStages(v, fetch.New(fetch.DefaultConfig(), v), rewrite.New(rewrite.Config{}), logging.NewNop())
}

func doFetch(t *testing.T, router *gin.Engine, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/fetch?url="+target, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestFetchMissingURLParam(t *testing.T) {
	router := newRouter(defaultService())

	req := httptest.NewRequest(http.MethodGet, "/fetch", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "url query parameter")
}

func TestFetchBlockedTarget(t *testing.T) {
	router := newRouter(defaultService())

	rec := doFetch(t, router, "http://127.0.0.1/admin")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body["error"], "blocked")
	assert.NotContains(t, body, "html")
}

func TestFetchInvalidScheme(t *testing.T) {
	router := newRouter(defaultService())

	rec := doFetch(t, router, "ftp://example.com/file")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFetchSuccessEnvelope(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><title>Docs Home</title></head><body><a href="/guide">guide</a></body></html>`))
	}))
	defer upstream.Close()

	router := newRouter(loopbackService(fetch.DefaultConfig()))
	rec := doFetch(t, router, upstream.URL)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Docs Home", body["title"])
	assert.Equal(t, upstream.URL, body["finalUrl"])

	html, ok := body["html"].(string)
	require.True(t, ok)
	assert.Contains(t, html, `<base href="`+upstream.URL)
	assert.Contains(t, html, `href="`+upstream.URL+`/guide"`)
	assert.Contains(t, html, rewrite.MessageNavigate)
}

func TestFetchOversizedBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>" + strings.Repeat("x", 3_000_000) + "</body></html>"))
	}))
	defer upstream.Close()

	router := newRouter(loopbackService(fetch.DefaultConfig()))
	rec := doFetch(t, router, upstream.URL)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "exceeds")
}

func TestFetchNonHTMLContent(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[]}`))
	}))
	defer upstream.Close()

	router := newRouter(loopbackService(fetch.DefaultConfig()))
	rec := doFetch(t, router, upstream.URL)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestFetchUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer upstream.Close()

	router := newRouter(loopbackService(fetch.DefaultConfig()))
	rec := doFetch(t, router, upstream.URL)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	router := newRouter(defaultService())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestNoRoute(t *testing.T) {
	router := newRouter(defaultService())

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
