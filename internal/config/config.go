package config

import (
	"fmt"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Storage     StorageConfig     `koanf:"storage"`
	Server      ServerConfig      `koanf:"server"`
	Scoring     ScoringConfig     `koanf:"scoring"`
	Sniper      SniperConfig      `koanf:"sniper"`
	AutoPublish AutoPublishConfig `koanf:"autopublish"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	Retry       RetryConfig       `koanf:"retry"`
	Platforms   PlatformsConfig   `koanf:"platforms"`
	AI          AIConfig          `koanf:"ai"`
	Media       MediaConfig       `koanf:"media"`
	Events      EventsConfig      `koanf:"events"`
	State       StateConfig       `koanf:"state"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// StorageConfig holds storage-related configuration
type StorageConfig struct {
	Type              string        `koanf:"type"` // "memory", "postgresql", "mongodb", "dynamodb"
	PostgresURI       string        `koanf:"postgres_uri"`
	MaxOpenConns      int           `koanf:"max_open_conns"`
	MaxIdleConns      int           `koanf:"max_idle_conns"`
	ConnMaxLifetime   time.Duration `koanf:"conn_max_lifetime"`
	KeepAliveInterval time.Duration `koanf:"keep_alive_interval"` // pings keep serverless databases awake
	MongoDBURI        string        `koanf:"mongodb_uri"`
	MongoDatabase     string        `koanf:"mongodb_database"`
	Region            string        `koanf:"region"` // For AWS DynamoDB
	Endpoint          string        `koanf:"endpoint"` // Custom endpoint for local testing
	TablePrefix       string        `koanf:"table_prefix"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// ScoringConfig is the single source of truth for the draft quality bar.
type ScoringConfig struct {
	Threshold int `koanf:"threshold"`
}

// SniperConfig controls the hunt scheduler.
type SniperConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Interval        time.Duration `koanf:"interval"`
	DailyQuota      int           `koanf:"daily_quota"`
	SearchLimit     int           `koanf:"search_limit"`
	CatalogPath     string        `koanf:"catalog_path"`
	DefaultCampaign string        `koanf:"default_campaign"`
	DefaultStrategy string        `koanf:"default_strategy"`
}

// AutoPublishConfig controls unattended approval of high-scoring drafts.
type AutoPublishConfig struct {
	Enabled      bool          `koanf:"enabled"`
	MinScore     int           `koanf:"min_score"`
	Interval     time.Duration `koanf:"interval"`
	BatchSize    int           `koanf:"batch_size"`
	PublishDelay time.Duration `koanf:"publish_delay"`
}

// MetricsConfig controls engagement sync.
type MetricsConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`
}

// MaxPublishAttempts bounds the publish attempts of a single draft.
const MaxPublishAttempts = 3

// RetryConfig is shared by every publish call site.
type RetryConfig struct {
	MaxAttempts int           `koanf:"max_attempts"`
	BaseDelay   time.Duration `koanf:"base_delay"`
	MaxDelay    time.Duration `koanf:"max_delay"`
}

// PlatformsConfig holds credentials and endpoints for each platform.
type PlatformsConfig struct {
	Timeout         time.Duration `koanf:"timeout"`
	PublishInterval time.Duration `koanf:"publish_interval"`
	Twitter         TwitterConfig `koanf:"twitter"`
	Discord         DiscordConfig `koanf:"discord"`
	Reddit          RedditConfig  `koanf:"reddit"`
}

// TwitterConfig holds X API credentials.
type TwitterConfig struct {
	BearerToken string `koanf:"bearer_token"`
	AccessToken string `koanf:"access_token"`
	BaseURL     string `koanf:"base_url"`
	UploadURL   string `koanf:"upload_url"`
	Handle      string `koanf:"handle"`
}

// DiscordConfig holds bot or webhook credentials.
type DiscordConfig struct {
	BotToken   string `koanf:"bot_token"`
	ChannelID  string `koanf:"channel_id"`
	GuildID    string `koanf:"guild_id"`
	WebhookURL string `koanf:"webhook_url"`
	BaseURL    string `koanf:"base_url"`
}

// RedditConfig holds script-app OAuth2 credentials.
type RedditConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	Username     string `koanf:"username"`
	Password     string `koanf:"password"`
	UserAgent    string `koanf:"user_agent"`
	Subreddit    string `koanf:"subreddit"`
	BaseURL      string `koanf:"base_url"`
	TokenURL     string `koanf:"token_url"`
}

// AIConfig holds the generative service settings.
type AIConfig struct {
	Timeout time.Duration `koanf:"timeout"`
	Text    TextAIConfig  `koanf:"text"`
	Image   ImageAIConfig `koanf:"image"`
}

// TextAIConfig configures the text model.
type TextAIConfig struct {
	APIKey      string  `koanf:"api_key"`
	Model       string  `koanf:"model"`
	BaseURL     string  `koanf:"base_url"`
	Temperature float64 `koanf:"temperature"`
}

// ImageAIConfig configures the image model.
type ImageAIConfig struct {
	APIKey  string `koanf:"api_key"`
	Model   string `koanf:"model"`
	BaseURL string `koanf:"base_url"`
	Size    string `koanf:"size"`
}

// MediaConfig configures S3 rehosting of generated images.
type MediaConfig struct {
	Bucket        string `koanf:"bucket"`
	Region        string `koanf:"region"`
	Endpoint      string `koanf:"endpoint"`
	Prefix        string `koanf:"prefix"`
	PublicBaseURL string `koanf:"public_base_url"`
}

// EventsConfig configures lifecycle event publishing.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// StateConfig selects where scheduler state lives.
type StateConfig struct {
	Type          string        `koanf:"type"` // "memory", "redis"
	RedisAddrs    []string      `koanf:"redis_addrs"`
	RedisPassword string        `koanf:"redis_password"`
	RedisDB       int           `koanf:"redis_db"`
	LockTTL       time.Duration `koanf:"lock_ttl"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Type:              "memory",
			MaxOpenConns:      25,
			MaxIdleConns:      5,
			ConnMaxLifetime:   5 * time.Minute,
			KeepAliveInterval: 4 * time.Minute,
			MongoDatabase:     "autopilot",
			Region:            "us-west-2",
			TablePrefix:       "autopilot_",
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Scoring: ScoringConfig{
			Threshold: 80,
		},
		Sniper: SniperConfig{
			Enabled:         true,
			Interval:        30 * time.Minute,
			DailyQuota:      50,
			SearchLimit:     25,
			DefaultStrategy: "helpful",
		},
		AutoPublish: AutoPublishConfig{
			Enabled:      false,
			MinScore:     90,
			Interval:     10 * time.Minute,
			BatchSize:    5,
			PublishDelay: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Interval: time.Hour,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Minute,
			MaxDelay:    30 * time.Minute,
		},
		Platforms: PlatformsConfig{
			Timeout:         30 * time.Second,
			PublishInterval: 2 * time.Second,
			Twitter: TwitterConfig{
				BaseURL:   "https://api.twitter.com",
				UploadURL: "https://upload.twitter.com",
			},
			Discord: DiscordConfig{
				BaseURL: "https://discord.com/api/v10",
			},
			Reddit: RedditConfig{
				BaseURL:   "https://oauth.reddit.com",
				TokenURL:  "https://www.reddit.com/api/v1/access_token",
				UserAgent: "social-autopilot/1.0",
			},
		},
		AI: AIConfig{
			Timeout: 60 * time.Second,
			Text: TextAIConfig{
				Model:       "gpt-4o-mini",
				BaseURL:     "https://api.openai.com/v1",
				Temperature: 0.7,
			},
			Image: ImageAIConfig{
				Model:   "dall-e-3",
				BaseURL: "https://api.openai.com/v1",
				Size:    "1024x1024",
			},
		},
		Media: MediaConfig{
			Region: "us-west-2",
			Prefix: "drafts/",
		},
		Events: EventsConfig{
			SubjectPrefix: "autopilot",
		},
		State: StateConfig{
			Type:    "memory",
			LockTTL: 30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Scoring.Threshold < 0 || c.Scoring.Threshold > 100 {
		return fmt.Errorf("scoring.threshold must be within 0..100, got %d", c.Scoring.Threshold)
	}
	if c.AutoPublish.MinScore < c.Scoring.Threshold || c.AutoPublish.MinScore > 100 {
		return fmt.Errorf("autopublish.min_score must be within %d..100, got %d", c.Scoring.Threshold, c.AutoPublish.MinScore)
	}
	switch c.Storage.Type {
	case "memory", "postgresql", "mongodb", "dynamodb":
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}
	switch c.State.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported state type: %s", c.State.Type)
	}
	if c.State.Type == "redis" && len(c.State.RedisAddrs) == 0 {
		return fmt.Errorf("state.redis_addrs is required for redis state")
	}
	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > MaxPublishAttempts {
		return fmt.Errorf("retry.max_attempts must be within 1..%d, got %d", MaxPublishAttempts, c.Retry.MaxAttempts)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be within 1..65535, got %d", c.Server.Port)
	}
	intervals := map[string]time.Duration{
		"sniper.interval":      c.Sniper.Interval,
		"autopublish.interval": c.AutoPublish.Interval,
		"metrics.interval":     c.Metrics.Interval,
		"platforms.timeout":    c.Platforms.Timeout,
	}
	for name, d := range intervals {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	if c.Sniper.DailyQuota < 0 {
		return fmt.Errorf("sniper.daily_quota must be >= 0, got %d", c.Sniper.DailyQuota)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	return nil
}
