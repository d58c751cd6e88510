package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Policy holds the tunable decision constants of the verification pipeline.
// The values mirror the ones the production system was tuned with; changing
// any of them shifts the false-accept/false-reject tradeoff.
type Policy struct {
	EnrollConfidence  float64 `validate:"gte=0,lte=1"`
	LivenessThreshold float64 `validate:"gte=0,lte=1"`
	MatchThreshold    float64 `validate:"gte=0,lte=1"`
	AgeDivisor        float64 `validate:"gt=0"`
	LandmarkDivisor   float64 `validate:"gt=0"`
	GenderBonus       float64 `validate:"gte=0,lte=1"`
}

// Config is the full environment-driven configuration of the service.
type Config struct {
	ListenAddr  string `validate:"required"`
	DatabaseDSN string `validate:"required"`
	RedisAddr   string `validate:"required"`
	JWTSecret   string `validate:"required"`
	JWTAudience string

	ProviderBaseURL string        `validate:"required,url"`
	ClientID        string        `validate:"required"`
	ClientSecret    string        `validate:"required"`
	TokenMargin     time.Duration `validate:"gt=0"`
	ProviderTimeout time.Duration `validate:"gt=0"`

	TemplateSecret string `validate:"required"`
	TemplateSalt   string `validate:"required"`

	Policy Policy
}

// Load reads configuration from the environment, applying defaults for
// everything except credentials and secrets. A .env file is honored when
// present so local runs match the deployment contract.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:  getEnv("LISTEN_ADDR", ":8080"),
		DatabaseDSN: getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=faceverify port=5432 sslmode=disable"),
		RedisAddr:   getEnv("REDIS_ADDR", "redis:6379"),
		JWTSecret:   getEnv("JWT_SECRET", "dev-secret"),
		JWTAudience: os.Getenv("JWT_AUDIENCE"),

		ProviderBaseURL: getEnv("FACE_PROVIDER_BASE_URL", "https://aip.baidubce.com"),
		ClientID:        os.Getenv("FACE_PROVIDER_CLIENT_ID"),
		ClientSecret:    os.Getenv("FACE_PROVIDER_CLIENT_SECRET"),
		TokenMargin:     getDurationEnv("FACE_PROVIDER_TOKEN_MARGIN", 5*time.Minute),
		ProviderTimeout: getDurationEnv("FACE_PROVIDER_TIMEOUT", 30*time.Second),

		TemplateSecret: os.Getenv("TEMPLATE_SECRET"),
		TemplateSalt:   getEnv("TEMPLATE_SALT", "face-template-v1"),

		Policy: Policy{
			EnrollConfidence:  getFloatEnv("POLICY_ENROLL_CONFIDENCE", 0.8),
			LivenessThreshold: getFloatEnv("POLICY_LIVENESS_THRESHOLD", 0.5),
			MatchThreshold:    getFloatEnv("POLICY_MATCH_THRESHOLD", 0.8),
			AgeDivisor:        getFloatEnv("POLICY_AGE_DIVISOR", 50),
			LandmarkDivisor:   getFloatEnv("POLICY_LANDMARK_DIVISOR", 100),
			GenderBonus:       getFloatEnv("POLICY_GENDER_BONUS", 0.1),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getFloatEnv(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
