// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	Port        string
	JWTSecret   string
	JWTAudience string
	CORSOrigins []string
	FrontendURL string

	SunoAPIKey      string
	SunoBaseURL     string
	SunoCallbackURL string
	ProviderTimeout time.Duration

	PollInitial      time.Duration
	PollMultiplier   float64
	PollMax          time.Duration
	PollMaxAttempts  int
	VideoMaxAttempts int
	VideoCreditsCost int
	VideoAuthor      string
	VideoDomain      string

	FlutterwaveSecretKey   string
	FlutterwaveWebhookHash string
	FlutterwaveBaseURL     string
	PaymentRedirectURL     string
	PaymentCountry         string

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string

	WorkerConcurrency int
	StaleJobAfter     time.Duration
}

// Load reads configuration from environment variables, applying defaults.
// A .env file in the working directory (or CONFIG_ENV_PATH) is loaded first
// without overriding variables already set.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Port:        getEnv("PORT", "8080"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTAudience: getEnv("JWT_AUDIENCE", "authenticated"),
		CORSOrigins: getList("CORS_ORIGINS", []string{"http://localhost:3000"}),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),

		SunoAPIKey:      os.Getenv("SUNO_API_KEY"),
		SunoBaseURL:     getEnv("SUNO_BASE_URL", "https://api.sunoapi.org"),
		SunoCallbackURL: os.Getenv("SUNO_CALLBACK_URL"),
		ProviderTimeout: time.Second * time.Duration(getInt("PROVIDER_TIMEOUT_SECONDS", 30)),

		PollInitial:      time.Second * time.Duration(getInt("POLL_INITIAL_SECONDS", 5)),
		PollMultiplier:   getFloat("POLL_MULTIPLIER", 1.3),
		PollMax:          time.Second * time.Duration(getInt("POLL_MAX_SECONDS", 20)),
		PollMaxAttempts:  getInt("POLL_MAX_ATTEMPTS", 15),
		VideoMaxAttempts: getInt("VIDEO_MAX_ATTEMPTS", 20),
		VideoCreditsCost: getInt("VIDEO_CREDITS_COST", 1),
		VideoAuthor:      getEnv("VIDEO_AUTHOR", "Bimzik"),
		VideoDomain:      getEnv("VIDEO_DOMAIN", "bimzik.app"),

		FlutterwaveSecretKey:   os.Getenv("FLUTTERWAVE_SECRET_KEY"),
		FlutterwaveWebhookHash: os.Getenv("FLUTTERWAVE_WEBHOOK_SECRET"),
		FlutterwaveBaseURL:     getEnv("FLUTTERWAVE_BASE_URL", "https://api.flutterwave.com"),
		PaymentRedirectURL:     os.Getenv("PAYMENT_REDIRECT_URL"),
		PaymentCountry:         getEnv("PAYMENT_COUNTRY", "BJ"),

		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     getInt("SMTP_PORT", 587),
		SMTPUser:     os.Getenv("SMTP_USER"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@bimzik.app"),

		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubject:    getEnv("VAPID_SUBJECT", "mailto:support@bimzik.app"),

		S3Endpoint:      os.Getenv("S3_ENDPOINT"),
		S3Region:        os.Getenv("S3_REGION"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3Bucket:        os.Getenv("S3_BUCKET"),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:  getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:        getEnv("S3_PREFIX", "tracks"),

		WorkerConcurrency: getInt("WORKER_CONCURRENCY", 10),
		StaleJobAfter:     time.Minute * time.Duration(getInt("STALE_JOB_AFTER_MINUTES", 30)),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every missing required variable at once.
func (c Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.SunoAPIKey == "" {
		missing = append(missing, "SUNO_API_KEY")
	}
	if c.FlutterwaveSecretKey == "" {
		missing = append(missing, "FLUTTERWAVE_SECRET_KEY")
	}
	if c.FlutterwaveWebhookHash == "" {
		missing = append(missing, "FLUTTERWAVE_WEBHOOK_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}
	if c.PollMaxAttempts <= 0 || c.VideoMaxAttempts <= 0 {
		return fmt.Errorf("poll attempt budgets must be positive")
	}
	if c.PollMultiplier < 1 {
		return fmt.Errorf("POLL_MULTIPLIER must be >= 1, got %v", c.PollMultiplier)
	}
	return nil
}

// S3Enabled reports whether the artifact mirror is configured.
func (c Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != "" && c.S3AccessKey != "" && c.S3SecretKey != "" && c.S3PublicBaseURL != ""
}

func (c Config) SMTPEnabled() bool { return c.SMTPHost != "" }

func (c Config) PushEnabled() bool { return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != "" }

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func loadEnvFile() error {
	path := ".env"
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		path = custom
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("access env file %s: %w", path, err)
	}
	if info.IsDir() {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}
