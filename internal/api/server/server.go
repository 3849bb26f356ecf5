package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"marai-studio/internal/chat"
	"marai-studio/internal/config"
	"marai-studio/internal/studio"

	"marai-studio/internal/api/handlers"
	"marai-studio/internal/api/middleware"
)

// Deps are the services the routes call into.
type Deps struct {
	Sessions *studio.Manager
	Edits    *studio.EditLog
	Chat     *chat.Service
	Clients  handlers.ClientFunc
	Exports  handlers.ExportLister
}

type Server struct {
	cfg    *config.Config
	deps   Deps
	auth   middleware.Validator
	router *gin.Engine
}

func New(cfg *config.Config, deps Deps) *Server {
	if cfg.Server.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		auth:   middleware.Validator{Secret: []byte(cfg.Server.JWTSecret)},
		router: gin.New(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	corsConfig := cors.DefaultConfig()
	if len(s.cfg.Server.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = s.cfg.Server.AllowedOrigins
		corsConfig.AllowCredentials = true
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	// The dashboard sends its token as a bearer header or the MAIAT cookie.
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}

	s.router.Use(gin.Recovery(), middleware.SilentLogger(), cors.New(corsConfig))
	s.router.Use(middleware.Gate(s.auth))
}

func (s *Server) setupRoutes() {
	sessionHandler := handlers.NewSessionHandler(s.deps.Sessions, s.deps.Edits, s.deps.Clients, s.cfg.Server.AllowedOrigins)
	taskHandler := handlers.NewTaskHandler(s.deps.Clients, s.deps.Exports)

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "marai-studio"})
	})

	// Behind the gate: only reached with a valid token.
	s.router.GET("/server_info", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":  "marai-studio",
			"api":      s.cfg.API.BaseURL,
			"sessions": len(s.deps.Sessions.List()),
			"output":   s.cfg.Server.Output,
		})
	})

	v1 := s.router.Group("/api/v1")
	v1.Use(middleware.RequireAuth(s.auth))
	{
		sessions := v1.Group("/sessions")
		sessions.POST("", sessionHandler.CreateSession)
		sessions.GET("", sessionHandler.ListSessions)
		sessions.GET("/:id", sessionHandler.GetSession)
		sessions.DELETE("/:id", sessionHandler.CloseSession)
		sessions.POST("/:id/commands", sessionHandler.Command)
		sessions.GET("/:id/ws", sessionHandler.Stream)
		sessions.POST("/:id/export", sessionHandler.Export)
		sessions.GET("/:id/edits", sessionHandler.Edits)
		sessions.POST("/:id/edits/retry", sessionHandler.RetryEdits)

		tasks := v1.Group("/tasks")
		tasks.GET("", taskHandler.ListTasks)
		tasks.GET("/:slug", taskHandler.GetTask)
		tasks.DELETE("/:slug", taskHandler.DeleteTask)
		tasks.GET("/:slug/status", taskHandler.GetStatus)
		tasks.GET("/:slug/info/:kind", taskHandler.GetInfo)
		tasks.GET("/:slug/log", taskHandler.GetLog)
		tasks.POST("/:slug/render_subtitle", taskHandler.RenderSubtitle)
		tasks.GET("/:slug/exports", taskHandler.ListExports)

		if s.deps.Chat != nil {
			chatHandler := handlers.NewChatHandler(s.deps.Chat, s.deps.Clients)
			tasks.GET("/:slug/chat", chatHandler.GetChat)
			tasks.POST("/:slug/chat", chatHandler.SendMessage)
			tasks.DELETE("/:slug/chat", chatHandler.DeleteChat)
		}
	}
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("🛑 Shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
