package main

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"marai-studio/internal/app"
	"marai-studio/internal/audio"
	"marai-studio/internal/storage"
	"marai-studio/internal/studio"
	"marai-studio/internal/timeline"
)

var (
	playVariant string
	playOutput  string
	playFrom    time.Duration
)

var playCmd = &cobra.Command{
	Use:   "play <slug>",
	Short: "Play a task's timeline on this machine and print its captions",
	Long: `play loads a task the way the studio does, plays it through the local
speaker (or a silent mixer) and prints every caption as it becomes active.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func runPlay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	slug := args[0]
	cfg := loadConfig()

	variants, err := timeline.LoadVariants(cfg.Timeline.VariantsFile)
	if err != nil {
		return err
	}
	name := playVariant
	if name == "" {
		name = cfg.Timeline.DefaultVariant
	}
	v, ok := variants[name]
	if !ok {
		return fmt.Errorf("%w: %q", studio.ErrUnknownVariant, name)
	}

	if playOutput == app.OutputRemote {
		return errors.New("play needs a local output (speaker or null)")
	}
	out, err := app.NewOutput(playOutput)
	if err != nil {
		return err
	}
	defer out.Close()

	bundle, err := newClient(cfg).FetchTaskBundle(ctx, slug, studio.InfoKindFor(v))
	if err != nil {
		return err
	}
	slog.Info("loaded task", "slug", slug, "name", bundle.Task.Name, "variant", v.Name)

	cache := audio.NewCacheManager(storage.New(cfg), cfg.Server.TempDir)
	durationMs := bundle.Info.DurationMs

	var started atomic.Bool
	var once sync.Once
	done := make(chan struct{})

	tl := timeline.New(timeline.Options{
		Variant:      v,
		PollInterval: time.Duration(cfg.Timeline.PollIntervalMs) * time.Millisecond,
		Cues:         audio.NewLoader(ctx, cache, out),
		OpenElement: func(url string) (timeline.MediaElement, error) {
			el, err := audio.OpenElement(ctx, cache, out, url)
			if err != nil {
				return nil, err
			}
			return el, nil
		},
		Hooks: timeline.Hooks{
			OnActiveLineChange: func(line timeline.ActiveLine) {
				fmt.Printf("[%s] %s\n", timeline.FormatTime(line.Segment.StartMs, durationMs), line.Segment.Value)
			},
			OnPlayerStateChange: func(st timeline.PlayerState) {
				if st.Playing {
					started.Store(true)
					return
				}
				if started.Load() {
					once.Do(func() { close(done) })
				}
			},
		},
	})
	defer tl.Close()

	if !tl.Load(bundle.Info) {
		return fmt.Errorf("%s: %w", slug, studio.ErrIncompletePayload)
	}
	if playFrom > 0 {
		tl.SeekMs(playFrom.Milliseconds())
	}
	if err := tl.Play(); err != nil {
		return err
	}

	select {
	case <-done:
		slog.Info("playback finished", "slug", slug)
	case <-ctx.Done():
		tl.Stop()
		slog.Info("playback stopped", "slug", slug)
	}
	return nil
}

func init() {
	playCmd.Flags().StringVar(&playVariant, "variant", "", "timeline variant: dubbing, subtitle or transcript")
	playCmd.Flags().StringVarP(&playOutput, "output", "o", app.OutputSpeaker, "audio output: speaker or null")
	playCmd.Flags().DurationVar(&playFrom, "from", 0, "start position, e.g. 1m30s")
	rootCmd.AddCommand(playCmd)
}
