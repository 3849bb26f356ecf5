package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"marai-studio/internal/app"
	"marai-studio/internal/config"
	"marai-studio/internal/marai"
)

var (
	verbose   bool
	quiet     bool
	apiURL    string
	tokenFile string
)

var rootCmd = &cobra.Command{
	Use:   "marai",
	Short: "Marai dubbing studio: API server and task tools",
	Long: `marai runs the studio API that drives the dubbing dashboard timelines,
and talks to the Marai backend to list, watch and play back tasks.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if quiet {
		level = slog.LevelError
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

// loadConfig reads the config and applies the global flag overrides.
func loadConfig() *config.Config {
	cfg := config.Load()
	if apiURL != "" {
		cfg.API.BaseURL = apiURL
	}
	if tokenFile != "" {
		cfg.API.TokenFile = tokenFile
	}
	return cfg
}

// newClient builds a Marai client that keeps its token on disk.
func newClient(cfg *config.Config) *marai.Client {
	path := cfg.API.TokenFile
	if path == "" {
		path = marai.DefaultTokenPath()
	}
	return app.NewClient(cfg, marai.WithTokenStore(marai.FileTokenStore{Path: path}))
}

// Execute runs the command tree. SIGINT and SIGTERM cancel cmd.Context().
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "Marai backend URL (overrides MARAI_API_BASE_URL)")
	rootCmd.PersistentFlags().StringVar(&tokenFile, "token-file", "", "where the sign-in token is kept")
}
