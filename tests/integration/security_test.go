package integration

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecurity_RequestHygiene(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ts := NewTestServer(t)
	sessionID := ts.CreateSession(t)

	t.Run("security_headers_are_set_on_responses", func(t *testing.T) {
		w := ts.Request(t, http.MethodGet, "/api/v1/system/ping", nil)

		assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	})

	t.Run("request_id_is_generated_for_each_request", func(t *testing.T) {
		w1 := ts.Request(t, http.MethodGet, "/api/v1/sessions/"+sessionID+"/status", nil)
		w2 := ts.Request(t, http.MethodGet, "/api/v1/sessions/"+sessionID+"/status", nil)

		id1 := w1.Header().Get("X-Request-ID")
		id2 := w2.Header().Get("X-Request-ID")
		assert.NotEmpty(t, id1)
		assert.NotEmpty(t, id2)
		assert.NotEqual(t, id1, id2)
	})

	t.Run("custom_request_id_is_preserved", func(t *testing.T) {
		w := ts.RequestWithHeaders(t, http.MethodGet, "/api/v1/sessions/"+sessionID+"/status", nil,
			map[string]string{"X-Request-ID": "integration-req-123"})

		assert.Equal(t, "integration-req-123", w.Header().Get("X-Request-ID"))
	})

	t.Run("oversized_request_body_is_rejected", func(t *testing.T) {
		body := bytes.NewReader([]byte(`{"sdk_key":"` + strings.Repeat("x", 2<<20) + `"}`))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+sessionID+"/start", body)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		ts.Engine.ServeHTTP(w, req)

		require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		resp := ts.Decode(t, w)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "ERR_REQUEST_TOO_LARGE", resp.Error.Code)
	})

	t.Run("malformed_json_is_rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+sessionID+"/start",
			strings.NewReader("{not valid json"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Request-ID", "integration-req-456")
		w := httptest.NewRecorder()
		ts.Engine.ServeHTTP(w, req)

		require.Equal(t, http.StatusBadRequest, w.Code)
		resp := ts.Decode(t, w)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "ERR_BAD_REQUEST", resp.Error.Code)
		assert.Equal(t, "integration-req-456", resp.Error.RequestID)
	})

	t.Run("unknown_route_returns_404", func(t *testing.T) {
		w := ts.Request(t, http.MethodGet, "/api/v1/nope", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestSecurity_CORS(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ts := NewTestServer(t)

	t.Run("allowed_origin_gets_cors_headers", func(t *testing.T) {
		w := ts.RequestWithHeaders(t, http.MethodGet, "/api/v1/system/ping", nil,
			map[string]string{"Origin": "http://localhost:3000"})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("unknown_origin_gets_no_cors_headers", func(t *testing.T) {
		w := ts.RequestWithHeaders(t, http.MethodGet, "/api/v1/system/ping", nil,
			map[string]string{"Origin": "http://evil.example.com"})

		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight_from_allowed_origin_succeeds", func(t *testing.T) {
		w := ts.RequestWithHeaders(t, http.MethodOptions, "/api/v1/sessions", nil, map[string]string{
			"Origin":                        "http://localhost:3000",
			"Access-Control-Request-Method": "POST",
		})

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
		assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Methods"))
	})
}

func TestSecurity_ProxyAbuse(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ts := NewTestServer(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	t.Run("unsupported_method_is_rejected", func(t *testing.T) {
		w := ts.Request(t, http.MethodPost, "/api/v1/proxy", map[string]interface{}{
			"url":     upstream.URL,
			"method":  "PATCH",
			"api_key": "api-key",
		})

		require.Equal(t, http.StatusBadRequest, w.Code)
		resp := ts.Decode(t, w)
		require.NotNil(t, resp.Error)
		assert.Contains(t, resp.Error.Message, "Unsupported method")
	})

	t.Run("missing_api_key_is_rejected", func(t *testing.T) {
		w := ts.Request(t, http.MethodPost, "/api/v1/proxy", map[string]interface{}{
			"url":    upstream.URL,
			"method": "GET",
		})

		require.Equal(t, http.StatusBadRequest, w.Code)
		resp := ts.Decode(t, w)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "ERR_VALIDATION", resp.Error.Code)
	})

	t.Run("rate_limit_is_enforced_per_session", func(t *testing.T) {
		payload := map[string]interface{}{
			"url":     upstream.URL,
			"method":  "GET",
			"api_key": "api-key",
		}

		// limiter allows 3 per window in the test harness
		for i := 0; i < 3; i++ {
			w := ts.RequestWithHeaders(t, http.MethodPost, "/api/v1/proxy", payload,
				map[string]string{"X-Session-ID": "rl-caller-a"})
			require.Equal(t, http.StatusOK, w.Code)
		}

		w := ts.RequestWithHeaders(t, http.MethodPost, "/api/v1/proxy", payload,
			map[string]string{"X-Session-ID": "rl-caller-a"})
		require.Equal(t, http.StatusTooManyRequests, w.Code)
		resp := ts.Decode(t, w)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "ERR_RATE_LIMITED", resp.Error.Code)

		// a different caller still has budget
		w = ts.RequestWithHeaders(t, http.MethodPost, "/api/v1/proxy", payload,
			map[string]string{"X-Session-ID": "rl-caller-b"})
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
