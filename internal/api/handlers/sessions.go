package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"marai-studio/internal/marai"
	"marai-studio/internal/models"
	"marai-studio/internal/studio"
	"marai-studio/internal/timeline"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// SessionHandler serves studio sessions: creation, commands, the
// websocket stream, exports and the edit log.
type SessionHandler struct {
	manager  *studio.Manager
	edits    *studio.EditLog
	clients  ClientFunc
	upgrader websocket.Upgrader
}

// NewSessionHandler builds a SessionHandler. With no allowed origins every
// websocket origin is accepted.
func NewSessionHandler(manager *studio.Manager, edits *studio.EditLog, clients ClientFunc, allowedOrigins []string) *SessionHandler {
	return &SessionHandler{
		manager: manager,
		edits:   edits,
		clients: clients,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
			},
		},
	}
}

// SessionView is the JSON shape of an open session.
type SessionView struct {
	ID        string      `json:"id"`
	Slug      string      `json:"slug"`
	Variant   string      `json:"variant"`
	Task      *marai.Task `json:"task,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	LastSeen  time.Time   `json:"last_seen"`
	Clients   int         `json:"clients"`
}

func viewOf(s *studio.Session) SessionView {
	return SessionView{
		ID:        s.ID,
		Slug:      s.Slug,
		Variant:   s.Variant.Name,
		Task:      s.Task,
		CreatedAt: s.CreatedAt,
		LastSeen:  s.LastSeen(),
		Clients:   s.Hub().Clients(),
	}
}

type createSessionRequest struct {
	Slug    string `json:"slug" binding:"required"`
	Variant string `json:"variant"`
}

// CreateSession opens a studio session on a task.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slug is required"})
		return
	}

	s, err := h.manager.Create(c.Request.Context(), callerClient(c, h.clients), req.Slug, req.Variant)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, studio.ErrUnknownVariant):
			status = http.StatusBadRequest
		case errors.Is(err, studio.ErrIncompletePayload):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, studio.ErrUpstream):
			status = upstreamStatus(err)
		}
		slog.Error("failed to open session", "slug", req.Slug, "variant", req.Variant, "error", err)
		abortWith(c, status, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"session": viewOf(s), "snapshot": s.Snapshot()})
}

func (h *SessionHandler) ListSessions(c *gin.Context) {
	sessions := h.manager.List()
	out := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, viewOf(s))
	}
	c.JSON(http.StatusOK, out)
}

func (h *SessionHandler) session(c *gin.Context) (*studio.Session, bool) {
	s, err := h.manager.Get(c.Param("id"))
	if err != nil {
		abortWith(c, http.StatusNotFound, err)
		return nil, false
	}
	return s, true
}

// GetSession returns a session and its current snapshot.
func (h *SessionHandler) GetSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": viewOf(s), "snapshot": s.Snapshot()})
}

// commandStatus maps a failed command to an HTTP status.
func commandStatus(err error) int {
	switch {
	case errors.Is(err, studio.ErrUnknownCommand), errors.Is(err, studio.ErrBadCommand),
		errors.Is(err, timeline.ErrUnknownDragMode):
		return http.StatusBadRequest
	case errors.Is(err, timeline.ErrTrackNotFound), errors.Is(err, timeline.ErrSegmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, timeline.ErrNotDragging), errors.Is(err, timeline.ErrAlreadyDragging):
		return http.StatusConflict
	case errors.Is(err, studio.ErrSessionClosed), errors.Is(err, timeline.ErrClosed):
		return http.StatusGone
	}
	return http.StatusUnprocessableEntity
}

// Command applies one transport, pointer or edit command and answers
// with the resulting snapshot.
func (h *SessionHandler) Command(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var cmd studio.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid command body"})
		return
	}
	if err := s.Apply(cmd); err != nil {
		abortWith(c, commandStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// Stream upgrades to a websocket that carries snapshots out and commands in.
func (h *SessionHandler) Stream(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "session", s.ID, "error", err)
		return
	}
	s.Serve(conn)
}

// Export stores the edited payload and returns where it went.
func (h *SessionHandler) Export(c *gin.Context) {
	url, err := h.manager.Export(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, studio.ErrSessionNotFound):
			status = http.StatusNotFound
		case errors.Is(err, studio.ErrNothingToSave):
			status = http.StatusConflict
		}
		abortWith(c, status, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"url": url})
}

// Edits lists the committed edits of the session's task.
func (h *SessionHandler) Edits(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if h.edits == nil {
		c.JSON(http.StatusOK, []models.SegmentEdit{})
		return
	}
	edits, err := h.edits.List(c.Request.Context(), s.Slug)
	if err != nil {
		abortWith(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, edits)
}

// RetryEdits queues the task's unsynced edits again.
func (h *SessionHandler) RetryEdits(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	n, err := s.RetryUnsynced(c.Request.Context())
	if err != nil {
		abortWith(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": n})
}

func (h *SessionHandler) CloseSession(c *gin.Context) {
	if err := h.manager.Close(c.Param("id")); err != nil {
		abortWith(c, http.StatusNotFound, err)
		return
	}
	c.Status(http.StatusNoContent)
}
