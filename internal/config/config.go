package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Zhipu     ZhipuConfig
	Pika      PikaConfig
	Mxnzp     MxnzpConfig
	R2        R2Config
	Task      TaskConfig
	Cache     CacheConfig
	Retry     RetryConfig
	Mirror    MirrorConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	PublicURL string // base of share links, e.g. https://punchliner.vercel.app
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret   string
	Required bool
	JWKSURL  string // optional identity provider key set
	Audience string
}

type RateLimitConfig struct {
	GeneratePerHour int
	AIPerMin        int
	JokesPerMin     int
}

type ZhipuConfig struct {
	APIKey     string
	BaseURL    string
	ChatModel  string
	ImageModel string
}

type PikaConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type MxnzpConfig struct {
	AppID     string
	AppSecret string
	BaseURL   string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// TaskConfig drives the task publisher timers
type TaskConfig struct {
	TickInterval       time.Duration
	PollInterval       time.Duration
	Deadline           time.Duration
	Retention          time.Duration
	CancelOnDisconnect bool
}

type CacheConfig struct {
	Backend       string // memory | redis
	Capacity      int
	VideoTTL      time.Duration
	ImageTTL      time.Duration
	ShareTTL      time.Duration
	SweepInterval time.Duration
}

type RetryConfig struct {
	ImageAttempts int
	ImageBackoff  time.Duration
}

type MirrorConfig struct {
	Enabled bool
}

// Load reads .env, secrets, the optional config file and the environment
func Load() (*Config, error) {
	// .env is optional; real env vars win over it
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("ZHIPU_API_KEY")
	readSecret("PIKA_API_KEY")
	readSecret("MXNZP_APP_SECRET")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.public_url", "PUBLIC_URL")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("jwt.required", "JWT_REQUIRED")
	_ = v.BindEnv("jwt.jwks_url", "JWT_JWKS_URL")
	_ = v.BindEnv("jwt.audience", "JWT_AUDIENCE")
	_ = v.BindEnv("ratelimit.generate_per_hour", "RATELIMIT_GENERATE_PER_HOUR")
	_ = v.BindEnv("ratelimit.ai_per_min", "RATELIMIT_AI_PER_MIN")
	_ = v.BindEnv("ratelimit.jokes_per_min", "RATELIMIT_JOKES_PER_MIN")
	_ = v.BindEnv("zhipu.api_key", "ZHIPU_API_KEY")
	_ = v.BindEnv("zhipu.base_url", "ZHIPU_BASE_URL")
	_ = v.BindEnv("zhipu.chat_model", "ZHIPU_CHAT_MODEL")
	_ = v.BindEnv("zhipu.image_model", "ZHIPU_IMAGE_MODEL")
	_ = v.BindEnv("pika.api_key", "PIKA_API_KEY")
	_ = v.BindEnv("pika.base_url", "PIKA_BASE_URL")
	_ = v.BindEnv("pika.model", "PIKA_MODEL")
	_ = v.BindEnv("mxnzp.app_id", "MXNZP_APP_ID")
	_ = v.BindEnv("mxnzp.app_secret", "MXNZP_APP_SECRET")
	_ = v.BindEnv("mxnzp.base_url", "MXNZP_BASE_URL")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = v.BindEnv("task.tick_interval", "TASK_TICK_INTERVAL")
	_ = v.BindEnv("task.poll_interval", "TASK_POLL_INTERVAL")
	_ = v.BindEnv("task.deadline", "TASK_DEADLINE")
	_ = v.BindEnv("task.retention", "TASK_RETENTION")
	_ = v.BindEnv("task.cancel_on_disconnect", "TASK_CANCEL_ON_DISCONNECT")
	_ = v.BindEnv("cache.backend", "CACHE_BACKEND")
	_ = v.BindEnv("cache.capacity", "CACHE_CAPACITY")
	_ = v.BindEnv("cache.video_ttl", "CACHE_VIDEO_TTL")
	_ = v.BindEnv("cache.image_ttl", "CACHE_IMAGE_TTL")
	_ = v.BindEnv("cache.share_ttl", "CACHE_SHARE_TTL")
	_ = v.BindEnv("cache.sweep_interval", "CACHE_SWEEP_INTERVAL")
	_ = v.BindEnv("retry.image_attempts", "RETRY_IMAGE_ATTEMPTS")
	_ = v.BindEnv("retry.image_backoff", "RETRY_IMAGE_BACKOFF")
	_ = v.BindEnv("mirror.enabled", "MIRROR_ENABLED")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.public_url", "https://punchliner.vercel.app")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.required", false)
	v.SetDefault("ratelimit.generate_per_hour", 30)
	v.SetDefault("ratelimit.ai_per_min", 20)
	v.SetDefault("ratelimit.jokes_per_min", 60)

	// Zhipu defaults
	v.SetDefault("zhipu.base_url", "https://open.bigmodel.cn/api/paas/v4")
	v.SetDefault("zhipu.chat_model", "glm-4-flash")
	v.SetDefault("zhipu.image_model", "cogview-3-flash")

	// Pika defaults
	v.SetDefault("pika.base_url", "https://api.pika.art")
	v.SetDefault("pika.model", "pika-1.0")

	v.SetDefault("mxnzp.base_url", "https://www.mxnzp.com/api")

	// Task lifecycle defaults
	v.SetDefault("task.tick_interval", time.Second)
	v.SetDefault("task.poll_interval", 3*time.Second)
	v.SetDefault("task.deadline", 5*time.Minute)
	v.SetDefault("task.retention", time.Minute)
	v.SetDefault("task.cancel_on_disconnect", true)

	// Artifact cache defaults
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.capacity", 1024)
	v.SetDefault("cache.video_ttl", 24*time.Hour)
	v.SetDefault("cache.image_ttl", 24*time.Hour)
	v.SetDefault("cache.share_ttl", time.Hour)
	v.SetDefault("cache.sweep_interval", 10*time.Minute)

	v.SetDefault("retry.image_attempts", 3)
	v.SetDefault("retry.image_backoff", 2*time.Second)

	v.SetDefault("mirror.enabled", true)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			Env:       v.GetString("server.env"),
			LogLevel:  v.GetString("server.log_level"),
			PublicURL: strings.TrimRight(v.GetString("server.public_url"), "/"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:   v.GetString("jwt.secret"),
			Required: v.GetBool("jwt.required"),
			JWKSURL:  v.GetString("jwt.jwks_url"),
			Audience: v.GetString("jwt.audience"),
		},
		RateLimit: RateLimitConfig{
			GeneratePerHour: v.GetInt("ratelimit.generate_per_hour"),
			AIPerMin:        v.GetInt("ratelimit.ai_per_min"),
			JokesPerMin:     v.GetInt("ratelimit.jokes_per_min"),
		},
		Zhipu: ZhipuConfig{
			APIKey:     v.GetString("zhipu.api_key"),
			BaseURL:    v.GetString("zhipu.base_url"),
			ChatModel:  v.GetString("zhipu.chat_model"),
			ImageModel: v.GetString("zhipu.image_model"),
		},
		Pika: PikaConfig{
			APIKey:  v.GetString("pika.api_key"),
			BaseURL: v.GetString("pika.base_url"),
			Model:   v.GetString("pika.model"),
		},
		Mxnzp: MxnzpConfig{
			AppID:     v.GetString("mxnzp.app_id"),
			AppSecret: v.GetString("mxnzp.app_secret"),
			BaseURL:   v.GetString("mxnzp.base_url"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		Task: TaskConfig{
			TickInterval:       v.GetDuration("task.tick_interval"),
			PollInterval:       v.GetDuration("task.poll_interval"),
			Deadline:           v.GetDuration("task.deadline"),
			Retention:          v.GetDuration("task.retention"),
			CancelOnDisconnect: v.GetBool("task.cancel_on_disconnect"),
		},
		Cache: CacheConfig{
			Backend:       v.GetString("cache.backend"),
			Capacity:      v.GetInt("cache.capacity"),
			VideoTTL:      v.GetDuration("cache.video_ttl"),
			ImageTTL:      v.GetDuration("cache.image_ttl"),
			ShareTTL:      v.GetDuration("cache.share_ttl"),
			SweepInterval: v.GetDuration("cache.sweep_interval"),
		},
		Retry: RetryConfig{
			ImageAttempts: v.GetInt("retry.image_attempts"),
			ImageBackoff:  v.GetDuration("retry.image_backoff"),
		},
		Mirror: MirrorConfig{
			Enabled: v.GetBool("mirror.enabled"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the task publisher cannot run with
func (c *Config) Validate() error {
	if c.JWT.Required && c.JWT.Secret == "" && c.JWT.JWKSURL == "" {
		return errors.New("jwt.required is set but neither JWT_SECRET nor JWT_JWKS_URL is set")
	}
	if c.Task.TickInterval <= 0 || c.Task.PollInterval <= 0 || c.Task.Deadline <= 0 {
		return errors.New("task intervals and deadline must be positive")
	}
	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		return errors.New("cache.backend must be memory or redis")
	}
	return nil
}
