package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/releaseguard/backend/internal/domain/simulation"
	"github.com/releaseguard/backend/internal/interfaces/http/dto"
)

// streamBufferSize allows messages to queue without blocking broadcast
const streamBufferSize = 100

// recentLogDepth is how many recent log messages are kept for duplicate suppression
const recentLogDepth = 10

// StreamClient represents a connected SSE subscriber
type StreamClient struct {
	ID   string
	Chan chan StreamMessage
	Done chan struct{}
}

// StreamMessage is one frame queued for an SSE subscriber. Comment frames
// render as SSE comments and carry no payload the client parses.
type StreamMessage struct {
	Comment bool
	Data    string
}

// statusFrame is the wire frame pushed on connect and on every status update
type statusFrame struct {
	Type string            `json:"type"`
	Data simulation.Status `json:"data"`
}

// logFrame is the wire frame pushed per log line
type logFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	UserKey string `json:"user_key,omitempty"`
}

// sessionStream holds the subscribers and log dedup state for one session
type sessionStream struct {
	clients map[string]*StreamClient
	recent  []string
	lastAt  time.Time
}

// isDuplicate reports whether the message was already pushed within the
// window. Caller holds the hub mutex.
func (s *sessionStream) isDuplicate(message string, now time.Time, window time.Duration) bool {
	if window <= 0 || s.lastAt.IsZero() || now.Sub(s.lastAt) >= window {
		return false
	}
	for _, m := range s.recent {
		if m == message {
			return true
		}
	}
	return false
}

// remember records a pushed message for duplicate suppression. Caller holds
// the hub mutex.
func (s *sessionStream) remember(message string, now time.Time) {
	s.recent = append(s.recent, message)
	if len(s.recent) > recentLogDepth {
		s.recent = s.recent[len(s.recent)-recentLogDepth:]
	}
	s.lastAt = now
}

// snapshot copies the current subscriber set. Caller holds the hub mutex.
func (s *sessionStream) snapshot() []*StreamClient {
	clients := make([]*StreamClient, 0, len(s.clients))
	for _, client := range s.clients {
		clients = append(clients, client)
	}
	return clients
}

// StreamHandler fans simulation status and log updates out to per-session
// SSE subscribers. It implements simulation.Notifier.
type StreamHandler struct {
	BaseHandler
	registry    *simulation.Registry
	logger      *zap.Logger
	mu          sync.Mutex
	sessions    map[string]*sessionStream
	ctx         context.Context
	cancel      context.CancelFunc
	heartbeat   time.Duration
	dedupWindow time.Duration
	maxClients  int
	started     bool
	startMu     sync.Mutex
}

// StreamOption is a functional option for configuring the handler
type StreamOption func(*StreamHandler)

// WithStreamLogger sets the logger for the handler
func WithStreamLogger(logger *zap.Logger) StreamOption {
	return func(h *StreamHandler) {
		h.logger = logger
	}
}

// WithStreamHeartbeat sets the heartbeat interval
func WithStreamHeartbeat(interval time.Duration) StreamOption {
	return func(h *StreamHandler) {
		h.heartbeat = interval
	}
}

// WithStreamMaxClients sets the maximum number of concurrent subscribers
func WithStreamMaxClients(max int) StreamOption {
	return func(h *StreamHandler) {
		h.maxClients = max
	}
}

// WithStreamDedupWindow sets the window within which identical log messages
// from the same session are suppressed
func WithStreamDedupWindow(window time.Duration) StreamOption {
	return func(h *StreamHandler) {
		h.dedupWindow = window
	}
}

// NewStreamHandler creates a new SSE stream handler. The registry supplies
// the status snapshot pushed when a client connects.
func NewStreamHandler(registry *simulation.Registry, opts ...StreamOption) *StreamHandler {
	ctx, cancel := context.WithCancel(context.Background())
	h := &StreamHandler{
		registry:    registry,
		logger:      zap.NewNop(),
		sessions:    make(map[string]*sessionStream),
		ctx:         ctx,
		cancel:      cancel,
		heartbeat:   30 * time.Second,
		dedupWindow: time.Second,
		maxClients:  10000,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Start begins the heartbeat loop keeping idle connections alive
func (h *StreamHandler) Start() error {
	h.startMu.Lock()
	defer h.startMu.Unlock()

	if h.started {
		return fmt.Errorf("stream handler already started")
	}

	go h.sendHeartbeats()

	h.started = true
	h.logger.Info("Simulation stream handler started")
	return nil
}

// Stop disconnects all subscribers and stops the heartbeat loop
func (h *StreamHandler) Stop() {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ss := range h.sessions {
		for _, client := range ss.clients {
			close(client.Done)
		}
	}

	h.logger.Info("Simulation stream handler stopped")
}

// NotifyStatus pushes a status frame to every subscriber of the session.
// It implements simulation.Notifier.
func (h *StreamHandler) NotifyStatus(sessionID string, status simulation.Status) {
	data, err := json.Marshal(statusFrame{Type: "status", Data: status})
	if err != nil {
		h.logger.Error("Failed to marshal status frame", zap.Error(err))
		return
	}

	h.mu.Lock()
	ss, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	clients := ss.snapshot()
	h.mu.Unlock()

	h.send(clients, StreamMessage{Data: string(data)})
}

// NotifyLog pushes a log frame to every subscriber of the session, dropping
// messages identical to a recent one within the dedup window. It implements
// simulation.Notifier.
func (h *StreamHandler) NotifyLog(sessionID string, entry simulation.LogEntry) {
	h.mu.Lock()
	ss, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	now := time.Now()
	if ss.isDuplicate(entry.Message, now, h.dedupWindow) {
		h.mu.Unlock()
		return
	}
	ss.remember(entry.Message, now)
	clients := ss.snapshot()
	h.mu.Unlock()

	data, err := json.Marshal(logFrame{Type: "log", Message: entry.Message, UserKey: entry.UserKey})
	if err != nil {
		h.logger.Error("Failed to marshal log frame", zap.Error(err))
		return
	}

	h.send(clients, StreamMessage{Data: string(data)})
}

// send delivers a message to each client without blocking
func (h *StreamHandler) send(clients []*StreamClient, msg StreamMessage) {
	for _, client := range clients {
		select {
		case client.Chan <- msg:
		default:
			// Channel full, client might be slow
			h.logger.Warn("Client channel full, dropping message",
				zap.String("client_id", client.ID))
		}
	}
}

// sendHeartbeats periodically sends comment frames to keep connections alive
func (h *StreamHandler) sendHeartbeats() {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.mu.Lock()
			var clients []*StreamClient
			for _, ss := range h.sessions {
				clients = append(clients, ss.snapshot()...)
			}
			h.mu.Unlock()
			h.send(clients, StreamMessage{Comment: true, Data: "heartbeat"})
		}
	}
}

// register adds a subscriber to the session's stream
func (h *StreamHandler) register(sessionID string, client *StreamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ss, ok := h.sessions[sessionID]
	if !ok {
		ss = &sessionStream{clients: make(map[string]*StreamClient)}
		h.sessions[sessionID] = ss
	}
	ss.clients[client.ID] = client
}

// deregister removes a subscriber and drops the session's stream state when
// the last one leaves. The client channel is left open for the garbage
// collector so an in-flight broadcast can never send on a closed channel.
func (h *StreamHandler) deregister(sessionID, clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ss, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	delete(ss.clients, clientID)
	if len(ss.clients) == 0 {
		delete(h.sessions, sessionID)
	}
}

// GetClientCount returns the number of connected subscribers across sessions
func (h *StreamHandler) GetClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	count := 0
	for _, ss := range h.sessions {
		count += len(ss.clients)
	}
	return count
}

// Stream godoc
// @Summary      Subscribe to session updates via SSE
// @Description  Establishes a Server-Sent Events connection delivering status and log frames for the session
// @Tags         sessions
// @Produce      text/event-stream
// @Param        id path string true "Session ID"
// @Success      200 {string} string "SSE stream"
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /sessions/{id}/stream [get]
func (h *StreamHandler) Stream(c *gin.Context) {
	sessionID := c.Param("id")

	if h.maxClients > 0 && h.GetClientCount() >= h.maxClients {
		c.JSON(http.StatusServiceUnavailable, dto.NewErrorResponse(
			"MAX_CONNECTIONS_REACHED",
			"Maximum number of stream connections reached",
		))
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	client := &StreamClient{
		ID:   uuid.New().String(),
		Chan: make(chan StreamMessage, streamBufferSize),
		Done: make(chan struct{}),
	}

	h.register(sessionID, client)
	defer h.deregister(sessionID, client.ID)

	h.logger.Info("Stream client connected",
		zap.String("client_id", client.ID),
		zap.String("session_id", sessionID))

	// Push the current status so the client renders without waiting for the
	// next update
	status := h.registry.Get(sessionID).Snapshot()
	if data, err := json.Marshal(statusFrame{Type: "status", Data: status}); err == nil {
		h.writeFrame(c.Writer, StreamMessage{Data: string(data)})
		c.Writer.Flush()
	}

	reqCtx := c.Request.Context()

	for {
		select {
		case <-reqCtx.Done():
			h.logger.Info("Stream client disconnected",
				zap.String("client_id", client.ID),
				zap.String("session_id", sessionID))
			return
		case <-client.Done:
			h.logger.Info("Stream client disconnected (done signal)",
				zap.String("client_id", client.ID))
			return
		case <-h.ctx.Done():
			h.logger.Info("Stream handler stopped, disconnecting client",
				zap.String("client_id", client.ID))
			return
		case msg := <-client.Chan:
			h.writeFrame(c.Writer, msg)
			c.Writer.Flush()
		}
	}
}

// writeFrame writes one SSE frame to the response writer
func (h *StreamHandler) writeFrame(w io.Writer, msg StreamMessage) {
	if msg.Comment {
		fmt.Fprintf(w, ": %s\n\n", msg.Data)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", msg.Data)
}

// RegisterRoutes registers the stream route
func (h *StreamHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/sessions")
	{
		sessions.GET("/:id/stream", h.Stream)
	}
}
