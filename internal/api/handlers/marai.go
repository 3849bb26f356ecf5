package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"marai-studio/internal/api/middleware"
	"marai-studio/internal/marai"
	"marai-studio/internal/studio"
	"marai-studio/internal/timeline"

	"github.com/gin-gonic/gin"
)

// TaskAPI is the Marai client surface the handlers call. *marai.Client
// satisfies it.
type TaskAPI interface {
	studio.Backend
	ListTasks(ctx context.Context, params url.Values) ([]marai.Task, error)
	TaskDetail(ctx context.Context, slug string) (*marai.Task, error)
	TaskStatus(ctx context.Context, slug string) (*marai.TaskStatus, error)
	Info(ctx context.Context, slug string, kind marai.InfoKind) (*timeline.Info, error)
	TaskLog(ctx context.Context, slug string) (string, error)
	DeleteTask(ctx context.Context, slug string) error
	RenderSubtitle(ctx context.Context, slug string) error
}

// ClientFunc returns a Marai client acting with the caller's token.
type ClientFunc func(token string) TaskAPI

// MaraiClients forwards each caller's token to the backend.
func MaraiClients(base *marai.Client) ClientFunc {
	return func(token string) TaskAPI { return base.WithToken(token) }
}

func callerClient(c *gin.Context, clients ClientFunc) TaskAPI {
	return clients(middleware.TokenFrom(c))
}

// upstreamStatus maps a Marai client error to the status we answer with.
func upstreamStatus(err error) int {
	var apiErr *marai.APIError
	switch {
	case errors.Is(err, marai.ErrUnauthorized), errors.Is(err, marai.ErrNoToken):
		return http.StatusUnauthorized
	case errors.Is(err, marai.ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound:
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}

func abortWith(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
