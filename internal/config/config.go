package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env               string
	HTTPPort          string
	BackendURL        string
	PublicBackendURL  string
	HTTPTimeout       time.Duration
	RedisAddr         string
	SessionBackend    string
	SessionTTL        time.Duration
	JWTIssuer         string
	JWTSigningKey     string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	PollInterval      time.Duration
	RecoveryThreshold float64
	RecoveryIdle      time.Duration
	SubmitTimeout     time.Duration
	SubmitParallelism int
	SemesterStart     string
	SemesterEnd       string
	RateLimitPerMin   int
	CORSOrigin        string
}

// Load returns application config populated from environment variables with sensible defaults.
// A .env file in the working directory is read first when present.
func Load() App {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("ignoring .env: %v", err)
	}
	backend := getEnv("BACKEND_URL", "http://localhost:5000")
	return App{
		Env:               getEnv("APP_ENV", "dev"),
		HTTPPort:          getEnv("HTTP_PORT", "8081"),
		BackendURL:        backend,
		PublicBackendURL:  getEnv("PUBLIC_BACKEND_URL", backend),
		HTTPTimeout:       durationEnv("HTTP_TIMEOUT", 30*time.Second),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		SessionBackend:    getEnv("SESSION_BACKEND", "memory"),
		SessionTTL:        durationEnv("SESSION_TTL", 12*time.Hour),
		JWTIssuer:         getEnv("JWT_ISSUER", "attendance-portal"),
		JWTSigningKey:     getEnv("JWT_SIGNING_KEY", "dev-signing-secret-change"),
		AccessTTL:         durationEnv("ACCESS_TTL", 15*time.Minute),
		RefreshTTL:        durationEnv("REFRESH_TTL", 12*time.Hour),
		PollInterval:      durationEnv("POLL_INTERVAL", 5*time.Second),
		RecoveryThreshold: floatEnv("RECOVERY_THRESHOLD", 0.3),
		RecoveryIdle:      durationEnv("RECOVERY_IDLE", 30*time.Minute),
		SubmitTimeout:     durationEnv("SUBMIT_TIMEOUT", 2*time.Minute),
		SubmitParallelism: intEnv("SUBMIT_PARALLELISM", 8),
		SemesterStart:     getEnv("SEMESTER_START", "2025-09-01"),
		SemesterEnd:       getEnv("SEMESTER_END", "2025-12-20"),
		RateLimitPerMin:   intEnv("RATE_LIMIT_PER_MIN", 120),
		CORSOrigin:        getEnv("CORS_ORIGIN", ""),
	}
}

// Production reports whether the app runs in a production environment.
func (a App) Production() bool {
	return a.Env == "production" || a.Env == "prod"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}

func floatEnv(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return parsed
		}
		log.Printf("invalid float for %s, using fallback %v", key, fallback)
	}
	return fallback
}
