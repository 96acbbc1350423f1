package handler

import (
	"github.com/gin-gonic/gin"

	simulationapp "github.com/releaseguard/backend/internal/application/simulation"
	"github.com/releaseguard/backend/internal/domain/simulation"
)

// SimulationHandler handles simulation session HTTP requests
type SimulationHandler struct {
	BaseHandler
	service *simulationapp.Service
}

// NewSimulationHandler creates a new simulation handler
func NewSimulationHandler(service *simulationapp.Service) *SimulationHandler {
	return &SimulationHandler{
		service: service,
	}
}

// CreateSession godoc
// @Summary      Create a simulation session
// @Description  Mint a new session identifier with empty state
// @Tags         sessions
// @Produce      json
// @Success      200 {object} dto.Response{data=SessionResponse}
// @Router       /sessions [post]
func (h *SimulationHandler) CreateSession(c *gin.Context) {
	sessionID := h.service.CreateSession()
	h.Success(c, SessionResponse{SessionID: sessionID})
}

// Start godoc
// @Summary      Start a simulation
// @Description  Validate the run configuration and launch the emission loop for the session
// @Tags         sessions
// @Accept       json
// @Produce      json
// @Param        id      path string            true "Session ID"
// @Param        request body simulation.Config true "Run configuration"
// @Success      200 {object} dto.Response{data=simulation.Status}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /sessions/{id}/start [post]
func (h *SimulationHandler) Start(c *gin.Context) {
	sessionID := c.Param("id")

	var cfg simulation.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		h.BindingError(c, err)
		return
	}
	if err := cfg.Validate(); err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, h.service.Start(sessionID, cfg))
}

// Stop godoc
// @Summary      Stop a simulation
// @Description  Stop the session's emission loop if one is running
// @Tags         sessions
// @Produce      json
// @Param        id path string true "Session ID"
// @Success      200 {object} dto.Response{data=simulation.Status}
// @Router       /sessions/{id}/stop [post]
func (h *SimulationHandler) Stop(c *gin.Context) {
	sessionID := c.Param("id")
	h.Success(c, h.service.Stop(sessionID))
}

// Status godoc
// @Summary      Get session status
// @Description  Return the current status snapshot for the session
// @Tags         sessions
// @Produce      json
// @Param        id path string true "Session ID"
// @Success      200 {object} dto.Response{data=simulation.Status}
// @Router       /sessions/{id}/status [get]
func (h *SimulationHandler) Status(c *gin.Context) {
	sessionID := c.Param("id")
	h.Success(c, h.service.Status(sessionID))
}

// Logs godoc
// @Summary      Get session logs
// @Description  Return a page of stored log entries for the session
// @Tags         sessions
// @Produce      json
// @Param        id    path  string true  "Session ID"
// @Param        limit query int    false "Page size" default(100) minimum(1) maximum(1000)
// @Param        skip  query int    false "Entries to skip from the oldest" default(0) minimum(0)
// @Success      200 {object} dto.Response{data=LogsResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /sessions/{id}/logs [get]
func (h *SimulationHandler) Logs(c *gin.Context) {
	sessionID := c.Param("id")

	var query LogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.BindingError(c, err)
		return
	}

	entries, total, hasMore := h.service.Logs(sessionID, query.Limit, query.Skip)
	if entries == nil {
		entries = []simulation.LogEntry{}
	}

	h.Success(c, LogsResponse{
		Logs:               entries,
		TotalLogsGenerated: total,
		HasMore:            hasMore,
	})
}

// RegisterRoutes registers simulation session routes
func (h *SimulationHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/sessions")
	{
		sessions.POST("", h.CreateSession)
		sessions.POST("/:id/start", h.Start)
		sessions.POST("/:id/stop", h.Stop)
		sessions.GET("/:id/status", h.Status)
		sessions.GET("/:id/logs", h.Logs)
	}
}
