package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Presence  PresenceConfig  `mapstructure:"presence"`
	Voting    VotingConfig    `mapstructure:"voting"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	CORS      CORSConfig      `mapstructure:"cors"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type PresenceConfig struct {
	// Heartbeat interval the client is expected to honor; a record is
	// considered offline after OfflineFactor missed intervals.
	Interval      time.Duration `mapstructure:"interval"`
	OfflineFactor int           `mapstructure:"offline_factor"`
}

type VotingConfig struct {
	// Deck is the accepted vote value domain. Empty accepts any value.
	Deck []float64 `mapstructure:"deck"`
}

type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type IngestConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Provider         string        `mapstructure:"provider"` // "openai" or "claude"
	OpenAIKey        string        `mapstructure:"openai_key"`
	ClaudeKey        string        `mapstructure:"claude_key"`
	Model            string        `mapstructure:"model"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	FailureRetention time.Duration `mapstructure:"failure_retention"`
	ImageDir         string        `mapstructure:"image_dir"`
}

type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// Load reads the config file at path (optional) with env-var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("POINTDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", "8080")
	v.SetDefault("mysql.dsn", "pointdeck:pointdeck@tcp(localhost:3306)/pointdeck?parseTime=true")
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("presence.interval", 10*time.Second)
	v.SetDefault("presence.offline_factor", 2)
	v.SetDefault("voting.deck", []float64{0, 1, 2, 3, 5, 8, 13, 21, 34, 55, 89})
	v.SetDefault("rate_limit.requests", 60)
	v.SetDefault("rate_limit.window", time.Minute)
	v.SetDefault("ingest.enabled", false)
	v.SetDefault("ingest.provider", "openai")
	v.SetDefault("ingest.model", "")
	v.SetDefault("ingest.poll_interval", 5*time.Second)
	v.SetDefault("ingest.failure_retention", 5*time.Second)
	v.SetDefault("ingest.image_dir", "")
	v.SetDefault("cors.allow_origins", []string{"http://localhost:3000"})

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret (POINTDECK_AUTH_JWT_SECRET) is required")
	}
	return &cfg, nil
}
