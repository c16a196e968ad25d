package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/switchboardhq/switchboard/internal/kind"
	"github.com/switchboardhq/switchboard/internal/model"
	"github.com/switchboardhq/switchboard/internal/models"
	"github.com/switchboardhq/switchboard/internal/store"
	"github.com/switchboardhq/switchboard/internal/stream"
	"github.com/switchboardhq/switchboard/internal/task"
)

// sseHeaders disables caching and proxy buffering on a streaming response.
func sseHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
}

// writeSSE writes a single SSE data event to the writer.
func writeSSE(w io.Writer, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", jsonData)
	return err
}

// sseSink adapts a gin response writer to a stream.Sink, flushing after
// every event.
func sseSink(c *gin.Context) stream.Sink {
	return stream.SinkFunc(func(event any) error {
		if err := writeSSE(c.Writer, event); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	})
}

// handleChatStream creates or appends a task turn and streams the first
// pending assistant subtask's reply. Task and subtask ids travel both as
// response headers and in the first SSE event.
func (h *handlers) handleChatStream(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	uid := userID(c)
	v, err := h.mgr.CreateOrAppend(uid, req.toCreateRequest())
	if err != nil {
		abortWith(c, err)
		return
	}

	sub, err := h.firstPendingAssistant(v.ID)
	if err != nil {
		abortWith(c, err)
		return
	}

	source, err := h.resolveSource(c, sub, v)
	if err != nil {
		abortWith(c, err)
		return
	}

	c.Header("X-Task-Id", strconv.FormatInt(v.ID, 10))
	c.Header("X-Subtask-Id", strconv.FormatInt(sub.ID, 10))
	sseHeaders(c)

	if err := h.coord.StartStream(c.Request.Context(), v.ID, sub.ID, uid, source, sseSink(c)); err != nil {
		// Headers are committed; the error already went out in-band.
		return
	}
	if settled, err := h.mgr.Get(v.ID, uid); err == nil {
		h.postTerminalEvent(c, settled)
	}
}

// firstPendingAssistant finds the subtask the new turn should stream.
func (h *handlers) firstPendingAssistant(taskID int64) (*models.Subtask, error) {
	subs, err := store.SubtasksByTask(h.mgr.DB(), taskID, false)
	if err != nil {
		return nil, err
	}
	for i := range subs {
		if subs[i].Role == models.RoleAssistant && subs[i].Status == string(kind.StatePending) {
			return &subs[i], nil
		}
	}
	return nil, fmt.Errorf("server: task %d has no pending assistant subtask", taskID)
}

// resolveSource builds the model chunk source for a subtask from its first
// bound bot's model configuration, honoring a task-level model override.
func (h *handlers) resolveSource(c *gin.Context, sub *models.Subtask, v *task.View) (model.ChunkSource, error) {
	if len(sub.BotIDs) == 0 {
		return nil, fmt.Errorf("server: subtask %d has no bound bots", sub.ID)
	}
	bot, err := store.GetKindByID(h.mgr.DB(), sub.BotIDs[0], sub.UserID, models.KindBot)
	if err != nil {
		return nil, err
	}
	if bot == nil {
		return nil, fmt.Errorf("server: bot %d not found", sub.BotIDs[0])
	}
	var doc kind.BotDoc
	if err := kind.Unmarshal(bot.JSON, &doc); err != nil {
		return nil, err
	}

	cfg := model.Config{
		BaseURL:      stringField(doc.Spec.ModelConfig, "baseUrl"),
		APIKey:       stringField(doc.Spec.ModelConfig, "apiKey"),
		Model:        stringField(doc.Spec.ModelConfig, "model"),
		SystemPrompt: doc.Spec.SystemPrompt,
	}
	settings := kind.SettingsFromLabels(v.Labels)
	if settings.ForceOverrideModel && settings.ModelID != "" {
		cfg.Model = settings.ModelID
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("server: bot %d has no model endpoint configured", bot.ID)
	}
	return model.Stream(c.Request.Context(), cfg, sub.Prompt)
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// handleResume replays and follows a subtask's stream from the supplied
// offset.
func (h *handlers) handleResume(c *gin.Context) {
	subtaskID, err := strconv.ParseInt(c.Param("subtaskID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subtask id"})
		return
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	sub, err := store.GetSubtask(h.mgr.DB(), subtaskID, userID(c))
	if err != nil {
		abortWith(c, err)
		return
	}
	if sub != nil {
		c.Header("X-Task-Id", strconv.FormatInt(sub.TaskID, 10))
		c.Header("X-Subtask-Id", strconv.FormatInt(sub.ID, 10))
	}
	sseHeaders(c)

	if err := h.coord.Resume(c.Request.Context(), subtaskID, offset, userID(c), sseSink(c)); err != nil {
		writeSSE(c.Writer, stream.ErrorEvent{Error: err.Error()})
		c.Writer.Flush()
	}
}

// cancelRequest carries the partial content rendered before the user hit
// stop.
type cancelRequest struct {
	PartialContent string `json:"partialContent"`
}

func (h *handlers) handleCancel(c *gin.Context) {
	subtaskID, err := strconv.ParseInt(c.Param("subtaskID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subtask id"})
		return
	}
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	sub, err := h.coord.Cancel(c.Request.Context(), subtaskID, userID(c), req.PartialContent)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"subtaskId": sub.ID,
		"status":    sub.Status,
		"progress":  sub.Progress,
	})
}

// handleStreamingContent returns the accumulated in-flight content for a
// subtask as plain JSON, for clients that poll instead of streaming.
func (h *handlers) handleStreamingContent(c *gin.Context) {
	subtaskID, err := strconv.ParseInt(c.Param("subtaskID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subtask id"})
		return
	}
	sub, err := store.GetSubtask(h.mgr.DB(), subtaskID, userID(c))
	if err != nil {
		abortWith(c, err)
		return
	}
	if sub == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "subtask not found"})
		return
	}
	content, err := h.coord.Cache().GetAccumulated(subtaskID)
	if err == nil && content == "" && sub.Result != nil {
		content = sub.Result.Content
	}
	c.JSON(http.StatusOK, gin.H{
		"subtaskId": sub.ID,
		"status":    sub.Status,
		"content":   content,
		"length":    len(content),
	})
}
