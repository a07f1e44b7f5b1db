package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/chkda/transcription-service/domain/entities"
	"github.com/chkda/transcription-service/domain/repositories"
	"github.com/chkda/transcription-service/internal/auth"
	"github.com/chkda/transcription-service/internal/metrics"
)

const (
	serviceName         = "transcription-service"
	defaultListLimit    = 100
	maxTranscriptsLimit = 1000
)

// SessionDirectory exposes live sessions for diagnostics
type SessionDirectory interface {
	Sessions() []entities.SessionStats
	SessionStats(sessionID string) (entities.SessionStats, error)
	Count() int
}

// Dependencies are the collaborators the routes need. Archive and Auth may be nil.
type Dependencies struct {
	WebSocket echo.HandlerFunc
	Sessions  SessionDirectory
	Archive   repositories.TranscriptArchive
	Metrics   *metrics.Metrics
	Auth      *auth.Authenticator
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies, logger *zap.Logger) {
	h := &handlers{deps: deps, logger: logger}

	// Health check
	e.GET("/health", h.health)

	if deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Metrics.Handler()))
	}

	// API v1 routes
	v1 := e.Group("/api/v1")
	v1.GET("/sessions", h.listSessions)
	v1.GET("/sessions/:id", h.getSession)
	v1.GET("/sessions/:id/transcripts", h.listTranscripts)

	// WebSocket endpoint, JWT validated when auth is enabled.
	// Clients that dial the bare host connect on "/".
	e.GET("/", h.websocketWithAuth)
	e.GET("/ws", h.websocketWithAuth)
}

type handlers struct {
	deps   Dependencies
	logger *zap.Logger
}

func (h *handlers) health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Service:  serviceName,
		Sessions: h.deps.Sessions.Count(),
	})
}

func (h *handlers) listSessions(c echo.Context) error {
	sessions := h.deps.Sessions.Sessions()
	return c.JSON(http.StatusOK, SessionListResponse{
		Sessions: sessions,
		Count:    len(sessions),
	})
}

func (h *handlers) getSession(c echo.Context) error {
	stats, err := h.deps.Sessions.SessionStats(c.Param("id"))
	if errors.Is(err, entities.ErrSessionNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "session_not_found",
			Message: "No live session with this id",
		})
	}
	if err != nil {
		h.logger.Error("Failed to read session stats", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *handlers) listTranscripts(c echo.Context) error {
	if h.deps.Archive == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "archive_disabled",
			Message: "Transcript archive is not configured",
		})
	}

	limit := defaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_limit",
				Message: "limit must be a positive integer",
			})
		}
		limit = min(n, maxTranscriptsLimit)
	}

	sessionID := c.Param("id")
	records, err := h.deps.Archive.ListBySession(c.Request().Context(), sessionID, limit)
	if err != nil {
		h.logger.Error("Failed to list transcripts", zap.String("sessionID", sessionID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "archive_error",
			Message: "Failed to read transcripts",
		})
	}
	if records == nil {
		records = []*entities.TranscriptRecord{}
	}

	return c.JSON(http.StatusOK, TranscriptListResponse{
		SessionID:   sessionID,
		Transcripts: records,
	})
}

// websocketWithAuth validates the bearer token, when auth is enabled, before upgrading
func (h *handlers) websocketWithAuth(c echo.Context) error {
	if h.deps.Auth.Enabled() {
		token, err := auth.TokenFromRequest(c.Request())
		if err != nil {
			h.logger.Warn("WebSocket connection rejected: missing token")
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "missing_token",
				Message: "JWT token is required in Authorization header or token query parameter",
			})
		}

		claims, err := h.deps.Auth.ValidateToken(token)
		if err != nil {
			h.logger.Warn("WebSocket connection rejected: invalid token", zap.Error(err))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_token",
				Message: "Invalid or expired JWT token",
			})
		}

		h.logger.Info("WebSocket connection authenticated", zap.String("clientID", claims.ClientID))
	}

	return h.deps.WebSocket(c)
}
