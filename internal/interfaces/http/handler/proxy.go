package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/releaseguard/backend/internal/interfaces/http/dto"
)

// maxProxyResponseSize caps how much of an upstream response body is read
const maxProxyResponseSize = 5 << 20

// ProxyRequest represents the request body for the outbound passthrough
type ProxyRequest struct {
	URL     string            `json:"url" binding:"required,url"`
	Method  string            `json:"method" binding:"required"`
	Payload map[string]any    `json:"payload,omitempty"`
	APIKey  string            `json:"api_key" binding:"required"`
	Headers map[string]string `json:"headers,omitempty"`
}

// ProxyResponse represents the upstream result returned to the caller
type ProxyResponse struct {
	StatusCode int               `json:"status_code"`
	Data       any               `json:"data"`
	Success    bool              `json:"success"`
	Headers    map[string]string `json:"headers"`
	URL        string            `json:"url"`
}

// ProxyHandler forwards API requests on behalf of browser clients that
// cannot attach upstream credentials themselves
type ProxyHandler struct {
	BaseHandler
	httpClient *http.Client
	rateLimit  gin.HandlerFunc
	logger     *zap.Logger
}

// NewProxyHandler creates a new proxy handler. The rate limit middleware is
// applied to the proxy route only.
func NewProxyHandler(httpClient *http.Client, rateLimit gin.HandlerFunc, logger *zap.Logger) *ProxyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProxyHandler{
		httpClient: httpClient,
		rateLimit:  rateLimit,
		logger:     logger,
	}
}

// Proxy godoc
// @Summary      Forward a request to an external API
// @Description  Forward the given request with injected authorization and return the upstream result
// @Tags         proxy
// @Accept       json
// @Produce      json
// @Param        request body ProxyRequest true "Request to forward"
// @Success      200 {object} dto.Response{data=ProxyResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      429 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      502 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /proxy [post]
func (h *ProxyHandler) Proxy(c *gin.Context) {
	var req ProxyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindingError(c, err)
		return
	}

	method := strings.ToUpper(req.Method)
	var body io.Reader
	switch method {
	case http.MethodGet, http.MethodDelete:
	case http.MethodPost, http.MethodPut:
		if req.Payload != nil {
			payload, err := json.Marshal(req.Payload)
			if err != nil {
				h.BadRequest(c, "Invalid payload")
				return
			}
			body = bytes.NewReader(payload)
		}
	default:
		h.BadRequest(c, "Unsupported method: "+req.Method)
		return
	}

	upstream, err := http.NewRequestWithContext(c.Request.Context(), method, req.URL, body)
	if err != nil {
		h.BadRequest(c, "Invalid request: "+err.Error())
		return
	}

	upstream.Header.Set("Authorization", req.APIKey)
	upstream.Header.Set("Content-Type", "application/json")
	for name, value := range req.Headers {
		upstream.Header.Set(name, value)
	}

	resp, err := h.httpClient.Do(upstream)
	if err != nil {
		h.logger.Warn("Proxy upstream request failed",
			zap.String("url", req.URL),
			zap.String("method", method),
			zap.Error(err))
		h.Error(c, http.StatusBadGateway, dto.ErrCodeUpstream, "Upstream request failed: "+err.Error())
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxProxyResponseSize))
	if err != nil {
		h.Error(c, http.StatusBadGateway, dto.ErrCodeUpstream, "Failed to read upstream response: "+err.Error())
		return
	}

	// Upstream bodies are passed through parsed when they are JSON, raw
	// otherwise
	var data any
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &data); err != nil {
			data = string(respBody)
		}
	}

	headers := make(map[string]string, len(resp.Header))
	for name := range resp.Header {
		headers[name] = resp.Header.Get(name)
	}

	h.Success(c, ProxyResponse{
		StatusCode: resp.StatusCode,
		Data:       data,
		Success:    resp.StatusCode < 400,
		Headers:    headers,
		URL:        req.URL,
	})
}

// RegisterRoutes registers the proxy route with its rate limit middleware
func (h *ProxyHandler) RegisterRoutes(rg *gin.RouterGroup) {
	if h.rateLimit != nil {
		rg.POST("/proxy", h.rateLimit, h.Proxy)
		return
	}
	rg.POST("/proxy", h.Proxy)
}
