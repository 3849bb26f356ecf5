package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"marai-studio/internal/marai"

	"github.com/gin-gonic/gin"
)

// ExportLister lists stored exports of a task. *storage.Client satisfies it.
type ExportLister interface {
	ListExports(ctx context.Context, slug string) ([]string, error)
}

// TaskHandler proxies task reads and actions to the Marai backend with
// the caller's token.
type TaskHandler struct {
	clients ClientFunc
	exports ExportLister
}

func NewTaskHandler(clients ClientFunc, exports ExportLister) *TaskHandler {
	return &TaskHandler{clients: clients, exports: exports}
}

func (h *TaskHandler) fail(c *gin.Context, op string, err error) {
	slog.Error("marai request failed", "op", op, "slug", c.Param("slug"), "error", err)
	abortWith(c, upstreamStatus(err), err)
}

// ListTasks forwards the query string (page, status, task_type) as is.
func (h *TaskHandler) ListTasks(c *gin.Context) {
	tasks, err := callerClient(c, h.clients).ListTasks(c.Request.Context(), c.Request.URL.Query())
	if err != nil {
		h.fail(c, "list", err)
		return
	}
	if tasks == nil {
		tasks = []marai.Task{}
	}
	c.JSON(http.StatusOK, tasks)
}

func (h *TaskHandler) GetTask(c *gin.Context) {
	task, err := callerClient(c, h.clients).TaskDetail(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.fail(c, "detail", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) GetStatus(c *gin.Context) {
	st, err := callerClient(c, h.clients).TaskStatus(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.fail(c, "status", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// GetInfo returns one of the timeline payloads: dubbing, subtitle or transcript.
func (h *TaskHandler) GetInfo(c *gin.Context) {
	var kind marai.InfoKind
	switch c.Param("kind") {
	case "dubbing":
		kind = marai.InfoDubbing
	case "subtitle":
		kind = marai.InfoSubtitle
	case "transcript":
		kind = marai.InfoTranscript
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be dubbing, subtitle or transcript"})
		return
	}
	info, err := callerClient(c, h.clients).Info(c.Request.Context(), c.Param("slug"), kind)
	if err != nil {
		h.fail(c, string(kind), err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *TaskHandler) GetLog(c *gin.Context) {
	text, err := callerClient(c, h.clients).TaskLog(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.fail(c, "log", err)
		return
	}
	c.String(http.StatusOK, text)
}

func (h *TaskHandler) DeleteTask(c *gin.Context) {
	if err := callerClient(c, h.clients).DeleteTask(c.Request.Context(), c.Param("slug")); err != nil {
		h.fail(c, "delete", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RenderSubtitle asks the backend to burn the current subtitles in.
func (h *TaskHandler) RenderSubtitle(c *gin.Context) {
	if err := callerClient(c, h.clients).RenderSubtitle(c.Request.Context(), c.Param("slug")); err != nil {
		h.fail(c, "render", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "rendering"})
}

func (h *TaskHandler) ListExports(c *gin.Context) {
	if h.exports == nil {
		c.JSON(http.StatusOK, []string{})
		return
	}
	urls, err := h.exports.ListExports(c.Request.Context(), c.Param("slug"))
	if err != nil {
		abortWith(c, http.StatusInternalServerError, err)
		return
	}
	if urls == nil {
		urls = []string{}
	}
	c.JSON(http.StatusOK, urls)
}
