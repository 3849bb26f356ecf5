// Package app wires the configured services into the studio API server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marai-studio/internal/audio"
	"marai-studio/internal/chat"
	"marai-studio/internal/config"
	database "marai-studio/internal/db"
	"marai-studio/internal/kv"
	"marai-studio/internal/marai"
	"marai-studio/internal/storage"
	"marai-studio/internal/studio"
	"marai-studio/internal/timeline"

	apiserver "marai-studio/internal/api/server"
	"marai-studio/internal/api/handlers"
)

// Output kinds accepted by server.output.
const (
	OutputNull    = "null"
	OutputSpeaker = "speaker"
	OutputRemote  = "remote"
)

// NewOutput opens the audio sink named by kind. "remote" returns nil:
// the browser plays the audio and the server only keeps time.
func NewOutput(kind string) (audio.Output, error) {
	switch kind {
	case OutputRemote:
		return nil, nil
	case OutputSpeaker:
		out, err := audio.NewSpeakerOutput(audio.DefaultSampleRate, 100*time.Millisecond)
		if err != nil {
			return nil, fmt.Errorf("open speaker: %w", err)
		}
		return out, nil
	case OutputNull, "":
		return audio.NewNullOutput(audio.DefaultSampleRate), nil
	}
	return nil, fmt.Errorf("unknown output %q (want null, speaker or remote)", kind)
}

// NewClient builds a Marai client from the api section.
func NewClient(cfg *config.Config, opts ...marai.Option) *marai.Client {
	if cfg.API.TimeoutSeconds > 0 {
		opts = append(opts, marai.WithTimeout(time.Duration(cfg.API.TimeoutSeconds)*time.Second))
	}
	return marai.New(cfg.API.BaseURL, opts...)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/_metrics", promhttp.Handler())
	log.Printf("📊 Metrics exposed at http://localhost%s/_metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("⚠️ Metrics server error: %v", err)
	}
}

// Serve runs the API server until ctx ends.
func Serve(ctx context.Context, cfg *config.Config) error {
	db := database.New(cfg)
	if err := db.AutoMigrate(); err != nil {
		return err
	}
	store := storage.New(cfg)

	variants, err := timeline.LoadVariants(cfg.Timeline.VariantsFile)
	if err != nil {
		return err
	}

	out, err := NewOutput(cfg.Server.Output)
	if err != nil {
		return err
	}
	if out != nil {
		defer out.Close()
	}

	audio.RegisterMetrics()
	studio.RegisterMetrics()
	if cfg.Server.MetricsPort != "" {
		go serveMetrics(cfg.Server.MetricsPort)
	}

	edits := studio.NewEditLog(db.DB)
	manager := studio.NewManager(ctx, studio.Options{
		Variants:       variants,
		DefaultVariant: cfg.Timeline.DefaultVariant,
		FrameRate:      cfg.Timeline.FrameRate,
		PollInterval:   time.Duration(cfg.Timeline.PollIntervalMs) * time.Millisecond,
		IdleTimeout:    time.Duration(cfg.Timeline.SessionIdleMin) * time.Minute,
		Output:         out,
		Cache:          audio.NewCacheManager(store, cfg.Server.TempDir),
		Edits:          edits,
		Exports:        store,
	})
	go manager.Run(ctx, time.Minute)

	llm := chat.NewOllama(cfg.Chat.BaseURL, cfg.Chat.Model, time.Duration(cfg.Chat.TimeoutSeconds)*time.Second)
	srv := apiserver.New(cfg, apiserver.Deps{
		Sessions: manager,
		Edits:    edits,
		Chat:     chat.NewService(kv.New(db.DB), llm, cfg.Chat.BaseURL),
		Clients:  handlers.MaraiClients(NewClient(cfg)),
		Exports:  store,
	})

	log.Printf("🚀 Studio API starting on %s (output: %s)", cfg.Server.Port, cfg.Server.Output)
	return srv.Run(ctx, cfg.Server.Port)
}
