package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"ava-backend/internal/handlers"
	"ava-backend/internal/middleware"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ws := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) }
	return New(ctx,
		Options{
			FrontendURL:        "http://localhost:3000",
			AdminPassword:      "secret",
			RateLimitPerSecond: 0.001,
			RateLimitBurst:     1,
		},
		middleware.NewSessionTokens("test-secret", time.Hour),
		handlers.NewAssistHandler(nil, nil, nil),
		handlers.NewSessionHandler(nil, nil, nil),
		handlers.NewProjectHandler(nil, nil),
		handlers.NewLiveHandler(nil),
		ws,
	)
}

func serve(h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_PublicRoutes(t *testing.T) {
	h := newTestRouter(t)

	rec := serve(h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = serve(h, http.MethodGet, "/observer.js", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "javascript")

	rec = serve(h, http.MethodGet, "/host.js", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(h, http.MethodGet, "/api/v1/survey/questions", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"questions"`)

	rec = serve(h, http.MethodGet, "/api/v1/demo-config?url=https://nowhere.example", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(h, http.MethodGet, "/api/v1/live/ws", "", nil)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestRouter_AdminRoutesRequireSecret(t *testing.T) {
	h := newTestRouter(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/admin/sessions"},
		{http.MethodPost, "/api/v1/admin/summarize"},
		{http.MethodGet, "/api/v1/projects"},
		{http.MethodPost, "/api/v1/projects"},
		{http.MethodDelete, "/api/v1/projects/6f1c1c52-3c1e-4f7e-9a55-1a2b3c4d5e6f"},
		{http.MethodGet, "/api/v1/projects/6f1c1c52-3c1e-4f7e-9a55-1a2b3c4d5e6f/analytics"},
	}
	for _, p := range paths {
		rec := serve(h, p.method, p.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s without secret", p.method, p.path)

		rec = serve(h, p.method, p.path, "", map[string]string{"Authorization": "Bearer wrong"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s with wrong secret", p.method, p.path)
	}
}

func TestRouter_LiveEndRequiresToken(t *testing.T) {
	h := newTestRouter(t)
	rec := serve(h, http.MethodPost, "/api/v1/live/sessions/6f1c1c52-3c1e-4f7e-9a55-1a2b3c4d5e6f/end", "{}", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_AssistRoutesAreRateLimited(t *testing.T) {
	h := newTestRouter(t)

	rec := serve(h, http.MethodPost, "/api/v1/chat", "{}", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h, http.MethodPost, "/api/v1/chat", "{}", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	h := newTestRouter(t)
	rec := serve(h, http.MethodOptions, "/api/v1/chat", "", map[string]string{
		"Origin":                        "http://localhost:3000",
		"Access-Control-Request-Method": "POST",
	})
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
