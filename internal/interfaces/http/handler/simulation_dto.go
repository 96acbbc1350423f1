package handler

import (
	"github.com/releaseguard/backend/internal/domain/simulation"
)

// =====================
// Simulation Request DTOs
// =====================

// LogsQuery represents the pagination parameters for session logs
type LogsQuery struct {
	Limit int `form:"limit,default=100" binding:"min=1,max=1000"`
	Skip  int `form:"skip,default=0" binding:"min=0"`
}

// =====================
// Simulation Response DTOs
// =====================

// SessionResponse carries the identifier of a newly created session
type SessionResponse struct {
	SessionID string `json:"session_id"`
}

// LogsResponse represents one page of stored session logs
type LogsResponse struct {
	Logs               []simulation.LogEntry `json:"logs"`
	TotalLogsGenerated int64                 `json:"total_logs_generated"`
	HasMore            bool                  `json:"has_more"`
}
