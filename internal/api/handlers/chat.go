package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"marai-studio/internal/chat"
	"marai-studio/internal/marai"
	"marai-studio/internal/timeline"

	"github.com/gin-gonic/gin"
)

// ChatHandler serves the transcript chat of a task.
type ChatHandler struct {
	chat    *chat.Service
	clients ClientFunc
}

func NewChatHandler(svc *chat.Service, clients ClientFunc) *ChatHandler {
	return &ChatHandler{chat: svc, clients: clients}
}

type sendRequest struct {
	Message string `json:"message" binding:"required"`
}

// transcript loads the task's transcript, the chat's system context.
func (h *ChatHandler) transcript(c *gin.Context) (*timeline.Info, bool) {
	info, err := callerClient(c, h.clients).Info(c.Request.Context(), c.Param("slug"), marai.InfoTranscript)
	if err != nil {
		slog.Error("failed to load transcript", "slug", c.Param("slug"), "error", err)
		abortWith(c, upstreamStatus(err), err)
		return nil, false
	}
	return info, true
}

func (h *ChatHandler) GetChat(c *gin.Context) {
	info, ok := h.transcript(c)
	if !ok {
		return
	}
	history, err := h.chat.Open(c.Request.Context(), c.Param("slug"), info)
	switch {
	case errors.Is(err, chat.ErrNoTranscript):
		c.JSON(http.StatusOK, gin.H{"messages": []chat.ChatMessage{}})
	case err != nil:
		abortWith(c, http.StatusInternalServerError, err)
	default:
		c.JSON(http.StatusOK, history)
	}
}

// SendMessage asks the model. When the model is unreachable the stored
// history (with its apology bubble) is still returned, with status 502.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	info, ok := h.transcript(c)
	if !ok {
		return
	}

	history, err := h.chat.Send(c.Request.Context(), c.Param("slug"), info, req.Message)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		abortWith(c, http.StatusBadRequest, err)
	case errors.Is(err, chat.ErrNoTranscript):
		abortWith(c, http.StatusUnprocessableEntity, err)
	case err != nil && history != nil:
		slog.Warn("chat model failed", "slug", c.Param("slug"), "error", err)
		c.JSON(http.StatusBadGateway, history)
	case err != nil:
		abortWith(c, http.StatusInternalServerError, err)
	default:
		c.JSON(http.StatusOK, history)
	}
}

// DeleteChat forgets the conversation and answers with a fresh one.
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	info, ok := h.transcript(c)
	if !ok {
		return
	}
	history, err := h.chat.Delete(c.Request.Context(), c.Param("slug"), info)
	if err != nil {
		abortWith(c, http.StatusInternalServerError, err)
		return
	}
	if history == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, history)
}
