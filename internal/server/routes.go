package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/switchboardhq/switchboard/internal/apperr"
	"github.com/switchboardhq/switchboard/internal/notify"
	"github.com/switchboardhq/switchboard/internal/share"
	"github.com/switchboardhq/switchboard/internal/stream"
	"github.com/switchboardhq/switchboard/internal/task"
)

// handlers bundles the services the routes close over.
type handlers struct {
	mgr    *task.Manager
	coord  *stream.Coordinator
	share  *share.Engine
	notify *notify.Multi
}

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, h *handlers) {
	api := router.Group("/api/v1", requireUser())

	api.POST("/tasks/allocate", h.handleAllocate)
	api.POST("/tasks", h.handleCreateOrAppend)
	api.GET("/tasks", h.handleList)
	api.GET("/tasks/:id", h.handleDetail)
	api.PATCH("/tasks/:id", h.handleUpdate)
	api.DELETE("/tasks/:id", h.handleDelete)

	api.POST("/chat/stream", h.handleChatStream)
	api.GET("/chat/resume/:subtaskID", h.handleResume)
	api.POST("/chat/cancel/:subtaskID", h.handleCancel)
	api.GET("/chat/streaming-content/:subtaskID", h.handleStreamingContent)

	api.POST("/share/token", h.handleShareToken)
	api.GET("/share/info", h.handleShareInfo)
	api.POST("/share/join", h.handleShareJoin)
	api.GET("/share/copies", h.handleShareList)
	api.DELETE("/share/copies/:taskID", h.handleShareRemove)

	// Public token-gated view; no user identity required.
	router.GET("/api/v1/public/tasks", h.handlePublicView)
}

// requireUser extracts the caller's user id from the X-User-ID header.
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid X-User-ID"})
			return
		}
		c.Set("userID", id)
		c.Next()
	}
}

func userID(c *gin.Context) int64 {
	return c.GetInt64("userID")
}

// httpStatus maps the service error taxonomy to HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation),
		errors.Is(err, apperr.ErrInvalidToken),
		errors.Is(err, apperr.ErrMissingWorkspace):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict),
		errors.Is(err, apperr.ErrAlreadyCopied),
		errors.Is(err, apperr.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrGone),
		errors.Is(err, apperr.ErrExpired):
		return http.StatusGone
	case errors.Is(err, apperr.ErrSelfCopy):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrInvalidConfiguration):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func abortWith(c *gin.Context, err error) {
	c.JSON(httpStatus(err), gin.H{"error": err.Error()})
}

// postTerminalEvent raises a best-effort notification when a task settles.
func (h *handlers) postTerminalEvent(c *gin.Context, v *task.View) {
	if v == nil || !v.Status.Terminal() {
		return
	}
	h.notify.Post(c.Request.Context(), notify.Event{
		TaskID:   v.ID,
		Title:    v.Title,
		Status:   string(v.Status),
		UserName: v.UserName,
		Error:    v.Error,
		At:       time.Now(),
	})
}
