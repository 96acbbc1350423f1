package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/releaseguard/backend/internal/interfaces/http/dto"
	"github.com/releaseguard/backend/internal/interfaces/http/middleware"
)

type recordedUpstreamRequest struct {
	Method        string
	Path          string
	Authorization string
	ContentType   string
	CustomHeader  string
	Body          []byte
}

// newUpstream spins up a test server that records what it receives and
// replies with the given status and body.
func newUpstream(t *testing.T, status int, contentType, body string) (*httptest.Server, *recordedUpstreamRequest) {
	t.Helper()

	recorded := &recordedUpstreamRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorded.Method = r.Method
		recorded.Path = r.URL.Path
		recorded.Authorization = r.Header.Get("Authorization")
		recorded.ContentType = r.Header.Get("Content-Type")
		recorded.CustomHeader = r.Header.Get("X-Custom-Header")
		recorded.Body, _ = io.ReadAll(r.Body)

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("X-Upstream-Marker", "present")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, recorded
}

func newProxyRouter(rateLimit gin.HandlerFunc) *gin.Engine {
	h := NewProxyHandler(&http.Client{Timeout: 5 * time.Second}, rateLimit, zap.NewNop())
	router := gin.New()
	api := router.Group("/api/v1")
	h.RegisterRoutes(api)
	return router
}

func postProxy(t *testing.T, router *gin.Engine, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/proxy", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func decodeProxyResponse(t *testing.T, w *httptest.ResponseRecorder) ProxyResponse {
	t.Helper()

	resp := decodeResponse(t, w)
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var proxied ProxyResponse
	require.NoError(t, json.Unmarshal(raw, &proxied))
	return proxied
}

func TestProxyHandlerForwardsPost(t *testing.T) {
	upstream, recorded := newUpstream(t, http.StatusOK, "application/json", `{"items": [1, 2, 3]}`)
	router := newProxyRouter(nil)

	w := postProxy(t, router, map[string]any{
		"url":     upstream.URL + "/api/v2/flags",
		"method":  "post",
		"payload": map[string]any{"kind": "boolean"},
		"api_key": "api-test-key",
	})

	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "POST", recorded.Method)
	assert.Equal(t, "/api/v2/flags", recorded.Path)
	assert.Equal(t, "api-test-key", recorded.Authorization)
	assert.Equal(t, "application/json", recorded.ContentType)
	assert.JSONEq(t, `{"kind": "boolean"}`, string(recorded.Body))

	proxied := decodeProxyResponse(t, w)
	assert.Equal(t, http.StatusOK, proxied.StatusCode)
	assert.True(t, proxied.Success)
	assert.Equal(t, upstream.URL+"/api/v2/flags", proxied.URL)
	assert.Equal(t, "present", proxied.Headers["X-Upstream-Marker"])

	data, ok := proxied.Data.(map[string]any)
	require.True(t, ok, "JSON bodies should come back parsed")
	assert.Len(t, data["items"], 3)
}

func TestProxyHandlerGetHasNoBody(t *testing.T) {
	upstream, recorded := newUpstream(t, http.StatusOK, "application/json", `{}`)
	router := newProxyRouter(nil)

	w := postProxy(t, router, map[string]any{
		"url":     upstream.URL,
		"method":  "GET",
		"payload": map[string]any{"ignored": true},
		"api_key": "api-test-key",
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "GET", recorded.Method)
	assert.Empty(t, recorded.Body)
}

func TestProxyHandlerForwardsExtraHeaders(t *testing.T) {
	upstream, recorded := newUpstream(t, http.StatusOK, "application/json", `{}`)
	router := newProxyRouter(nil)

	w := postProxy(t, router, map[string]any{
		"url":     upstream.URL,
		"method":  "DELETE",
		"api_key": "api-test-key",
		"headers": map[string]string{"X-Custom-Header": "custom-value"},
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DELETE", recorded.Method)
	assert.Equal(t, "custom-value", recorded.CustomHeader)
}

func TestProxyHandlerRejectsUnsupportedMethod(t *testing.T) {
	router := newProxyRouter(nil)

	w := postProxy(t, router, map[string]any{
		"url":     "http://localhost:9/never-called",
		"method":  "PATCH",
		"api_key": "api-test-key",
	})

	require.Equal(t, http.StatusBadRequest, w.Code)

	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeBadRequest, resp.Error.Code)
	assert.Equal(t, "Unsupported method: PATCH", resp.Error.Message)
}

func TestProxyHandlerRejectsInvalidBody(t *testing.T) {
	router := newProxyRouter(nil)

	t.Run("missing fields", func(t *testing.T) {
		w := postProxy(t, router, map[string]any{"url": "http://example.com"})
		require.Equal(t, http.StatusBadRequest, w.Code)

		resp := decodeResponse(t, w)
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
	})

	t.Run("malformed url", func(t *testing.T) {
		w := postProxy(t, router, map[string]any{
			"url":     "not a url",
			"method":  "GET",
			"api_key": "api-test-key",
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestProxyHandlerUpstreamErrorStatus(t *testing.T) {
	upstream, _ := newUpstream(t, http.StatusNotFound, "application/json", `{"message": "flag not found"}`)
	router := newProxyRouter(nil)

	w := postProxy(t, router, map[string]any{
		"url":     upstream.URL,
		"method":  "GET",
		"api_key": "api-test-key",
	})

	// The proxy call itself succeeds; the envelope carries the upstream
	// failure
	require.Equal(t, http.StatusOK, w.Code)

	proxied := decodeProxyResponse(t, w)
	assert.Equal(t, http.StatusNotFound, proxied.StatusCode)
	assert.False(t, proxied.Success)
}

func TestProxyHandlerNonJSONBodyPassedRaw(t *testing.T) {
	upstream, _ := newUpstream(t, http.StatusOK, "text/plain", "plain text response")
	router := newProxyRouter(nil)

	w := postProxy(t, router, map[string]any{
		"url":     upstream.URL,
		"method":  "GET",
		"api_key": "api-test-key",
	})

	require.Equal(t, http.StatusOK, w.Code)

	proxied := decodeProxyResponse(t, w)
	assert.Equal(t, "plain text response", proxied.Data)
}

func TestProxyHandlerUnreachableUpstream(t *testing.T) {
	upstream, _ := newUpstream(t, http.StatusOK, "application/json", `{}`)
	url := upstream.URL
	upstream.Close()

	router := newProxyRouter(nil)

	w := postProxy(t, router, map[string]any{
		"url":     url,
		"method":  "GET",
		"api_key": "api-test-key",
	})

	require.Equal(t, http.StatusBadGateway, w.Code)

	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeUpstream, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "Upstream request failed")
}

func TestProxyHandlerRateLimited(t *testing.T) {
	upstream, _ := newUpstream(t, http.StatusOK, "application/json", `{}`)
	limiter := middleware.NewRateLimiter(1, time.Minute)
	router := newProxyRouter(middleware.RateLimit(limiter))

	body := map[string]any{
		"url":     upstream.URL,
		"method":  "GET",
		"api_key": "api-test-key",
	}

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	send := func(sessionID string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/v1/proxy", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Session-ID", sessionID)
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, send("caller-a").Code)
	assert.Equal(t, http.StatusTooManyRequests, send("caller-a").Code)

	// Another caller is tracked separately
	assert.Equal(t, http.StatusOK, send("caller-b").Code)
}
