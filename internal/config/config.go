package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	ServerPort string

	JWTSecret string

	RedisURL string

	LogLevel  string
	LogFormat string

	// Push providers. A provider with empty credentials is not registered.
	ExpoEnabled     bool
	ExpoAccessToken string

	FCMProjectID   string
	FCMClientEmail string
	FCMPrivateKey  string

	APNsKeyID      string
	APNsTeamID     string
	APNsAuthKey    string // .p8 contents, literal \n allowed
	APNsBundleID   string
	APNsProduction bool

	OfferTTL          time.Duration
	CallEndDedupe     time.Duration
	PushTimeout       time.Duration
	PushConcurrency   int
	WSSendBuffer      int
	CacheSweepEvery   time.Duration
	PresenceWriteWait time.Duration
}

var ErrMissingJWTSecret = errors.New("JWT_SECRET is required")

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found or error loading it, relying on environment variables")
	}

	serverPort := os.Getenv("SERVER_PORT")
	if serverPort == "" {
		serverPort = "8080"
	}

	sslMode := os.Getenv("DB_SSLMODE")
	if sslMode == "" {
		sslMode = "require"
	}

	cfg := &Config{
		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     os.Getenv("DB_PORT"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBSSLMode:  sslMode,

		ServerPort: serverPort,

		JWTSecret: os.Getenv("JWT_SECRET"),

		RedisURL: os.Getenv("REDIS_URL"),

		LogLevel:  envOr("LOG_LEVEL", "info"),
		LogFormat: envOr("LOG_FORMAT", "console"),

		ExpoEnabled:     envBool("EXPO_ENABLED", true),
		ExpoAccessToken: os.Getenv("EXPO_ACCESS_TOKEN"),

		FCMProjectID:   os.Getenv("FCM_PROJECT_ID"),
		FCMClientEmail: os.Getenv("FCM_CLIENT_EMAIL"),
		FCMPrivateKey:  os.Getenv("FCM_PRIVATE_KEY"),

		APNsKeyID:      os.Getenv("APNS_KEY_ID"),
		APNsTeamID:     os.Getenv("APNS_TEAM_ID"),
		APNsAuthKey:    strings.ReplaceAll(os.Getenv("APNS_AUTH_KEY"), "\\n", "\n"),
		APNsBundleID:   os.Getenv("APNS_BUNDLE_ID"),
		APNsProduction: envBool("APNS_PRODUCTION", false),

		OfferTTL:          envSeconds("OFFER_TTL_SECONDS", 60),
		CallEndDedupe:     envSeconds("CALL_END_DEDUPE_SECONDS", 5),
		PushTimeout:       envSeconds("PUSH_TIMEOUT_SECONDS", 10),
		PushConcurrency:   envInt("PUSH_CONCURRENCY", 16),
		WSSendBuffer:      envInt("WS_SEND_BUFFER", 64),
		CacheSweepEvery:   envSeconds("CACHE_SWEEP_SECONDS", 30),
		PresenceWriteWait: envSeconds("PRESENCE_WRITE_TIMEOUT_SECONDS", 3),
	}

	if cfg.JWTSecret == "" {
		return nil, ErrMissingJWTSecret
	}
	return cfg, nil
}

// FCMConfigured reports whether all three service-account fields are present.
func (c *Config) FCMConfigured() bool {
	return c.FCMProjectID != "" && c.FCMClientEmail != "" && c.FCMPrivateKey != ""
}

func (c *Config) APNsConfigured() bool {
	return c.APNsKeyID != "" && c.APNsTeamID != "" && c.APNsAuthKey != "" && c.APNsBundleID != ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envSeconds(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Second
}

func envBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return b
}
