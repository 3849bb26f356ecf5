package config

import (
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	API struct {
		BaseURL        string `mapstructure:"base_url"`
		TimeoutSeconds int    `mapstructure:"timeout_seconds"`
		TokenFile      string `mapstructure:"token_file"`
	} `mapstructure:"api"`
	Server struct {
		Port           string   `mapstructure:"port"`
		MetricsPort    string   `mapstructure:"metrics_port"`
		TempDir        string   `mapstructure:"temp_dir"`
		LogLevel       string   `mapstructure:"log_level"`
		JWTSecret      string   `mapstructure:"jwt_secret"`
		AllowedOrigins []string `mapstructure:"allowed_origins"`
		// Output is "null" for a silent real-time mixer, "speaker", or "remote"
		// when the browser plays the audio.
		Output string `mapstructure:"output"`
	} `mapstructure:"server"`
	Timeline struct {
		VariantsFile   string `mapstructure:"variants_file"`
		DefaultVariant string `mapstructure:"default_variant"`
		FrameRate      int    `mapstructure:"frame_rate"`
		PollIntervalMs int    `mapstructure:"poll_interval_ms"`
		SessionIdleMin int    `mapstructure:"session_idle_minutes"`
	} `mapstructure:"timeline"`
	Storage struct {
		Provider     string `mapstructure:"provider"`
		LocalStorage string `mapstructure:"local_storage"`
		KeyID        string `mapstructure:"key_id"`
		AppKey       string `mapstructure:"app_key"`
		Endpoint     string `mapstructure:"endpoint"`
		Region       string `mapstructure:"region"`
		BucketExport string `mapstructure:"bucket_export"`
	} `mapstructure:"storage"`
	Database struct {
		Driver   string `mapstructure:"driver"`
		Path     string `mapstructure:"path"`
		Host     string `mapstructure:"host"`
		Port     string `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
	} `mapstructure:"database"`
	Chat struct {
		BaseURL        string `mapstructure:"base_url"`
		Model          string `mapstructure:"model"`
		TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	} `mapstructure:"chat"`
}

// Load reads .env, then config.yaml, then MARAI_* environment variables.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Println("Info: loaded .env")
	}

	v := viper.New()
	v.SetEnvPrefix("MARAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("api.base_url")
	v.BindEnv("api.timeout_seconds")
	v.BindEnv("api.token_file")

	v.BindEnv("server.port")
	v.BindEnv("server.metrics_port")
	v.BindEnv("server.temp_dir")
	v.BindEnv("server.log_level")
	v.BindEnv("server.jwt_secret")
	v.BindEnv("server.allowed_origins")
	v.BindEnv("server.output")

	v.BindEnv("timeline.variants_file")
	v.BindEnv("timeline.default_variant")
	v.BindEnv("timeline.frame_rate")
	v.BindEnv("timeline.poll_interval_ms")
	v.BindEnv("timeline.session_idle_minutes")

	v.BindEnv("storage.provider")
	v.BindEnv("storage.local_storage")
	v.BindEnv("storage.key_id")
	v.BindEnv("storage.app_key")
	v.BindEnv("storage.endpoint")
	v.BindEnv("storage.region")
	v.BindEnv("storage.bucket_export")

	v.BindEnv("database.driver")
	v.BindEnv("database.path")
	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.name")

	v.BindEnv("chat.base_url")
	v.BindEnv("chat.model")
	v.BindEnv("chat.timeout_seconds")

	SetDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("../")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("Warning: Config error: %s", err)
		} else {
			log.Println("Info: config.yaml not found, using Environment Variables only.")
		}
	}

	cfg, err := Decode(v)
	if err != nil {
		log.Fatalf("Unable to decode config: %v", err)
	}

	if cfg.API.BaseURL == "" {
		log.Fatal("Critical: Marai API base URL is missing (MARAI_API_BASE_URL)")
	}

	return cfg
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:9605")
	v.SetDefault("api.timeout_seconds", 3600)
	v.SetDefault("api.token_file", "")

	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.metrics_port", ":9091")
	v.SetDefault("server.temp_dir", "/tmp/")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.output", "null")

	v.SetDefault("timeline.variants_file", "variants.yaml")
	v.SetDefault("timeline.default_variant", "dubbing")
	v.SetDefault("timeline.frame_rate", 60)
	v.SetDefault("timeline.poll_interval_ms", 100)
	v.SetDefault("timeline.session_idle_minutes", 30)

	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.local_storage", "./data")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.bucket_export", "marai-exports")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "marai.db")
	v.SetDefault("database.port", "5432")

	v.SetDefault("chat.base_url", "http://localhost:11434")
	v.SetDefault("chat.model", "gemma3:latest")
	v.SetDefault("chat.timeout_seconds", 120)
}

func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
