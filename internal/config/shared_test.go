package config

import (
	"testing"

	"github.com/spf13/viper"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	cfg, err := Decode(v)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"api timeout", cfg.API.TimeoutSeconds, 3600},
		{"server port", cfg.Server.Port, ":8080"},
		{"output", cfg.Server.Output, "null"},
		{"variant", cfg.Timeline.DefaultVariant, "dubbing"},
		{"frame rate", cfg.Timeline.FrameRate, 60},
		{"storage", cfg.Storage.Provider, "local"},
		{"db driver", cfg.Database.Driver, "sqlite"},
		{"chat model", cfg.Chat.Model, "gemma3:latest"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MARAI_API_BASE_URL", "https://marai.example.com/api")
	t.Setenv("MARAI_TIMELINE_FRAME_RATE", "30")

	v := viper.New()
	v.SetEnvPrefix("MARAI")
	v.AutomaticEnv()
	v.BindEnv("api.base_url", "MARAI_API_BASE_URL")
	v.BindEnv("timeline.frame_rate", "MARAI_TIMELINE_FRAME_RATE")
	SetDefaults(v)

	cfg, err := Decode(v)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.API.BaseURL != "https://marai.example.com/api" || cfg.Timeline.FrameRate != 30 {
		t.Errorf("Env not applied: %q %d", cfg.API.BaseURL, cfg.Timeline.FrameRate)
	}
	t.Logf("✅ Env overrides: %s @ %dfps", cfg.API.BaseURL, cfg.Timeline.FrameRate)
}
