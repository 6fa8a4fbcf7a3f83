package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort       string
	AppMode       string
	LogMode       string
	DBHost        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBPort        string
	JWTSecret     string
	JWTExpiryMin  int
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Engine side
	APIBaseURL  string
	RealtimeURL string
	AccessToken string

	TypingQuietPeriod   time.Duration
	TypingStaleAfter    time.Duration
	TypingSweepInterval time.Duration

	MessageRateLimit int
	FraudBlockScore  int
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		AppPort:       getEnv("APP_PORT", "8080"),
		AppMode:       getEnv("APP_MODE", "debug"),
		LogMode:       getEnv("LOG_MODE", "development"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "safetrade"),
		DBPort:        getEnv("DB_PORT", "5432"),
		JWTSecret:     getEnv("JWT_SECRET", "change-me"),
		JWTExpiryMin:  getEnvAsInt("JWT_EXPIRY_MIN", 15),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		APIBaseURL:  getEnv("API_BASE_URL", "http://localhost:8080"),
		RealtimeURL: getEnv("REALTIME_URL", "ws://localhost:8080/v1/realtime"),
		AccessToken: getEnv("ACCESS_TOKEN", ""),

		TypingQuietPeriod:   getEnvAsMillis("TYPING_QUIET_MS", 3000),
		TypingStaleAfter:    getEnvAsMillis("TYPING_STALE_MS", 5000),
		TypingSweepInterval: getEnvAsMillis("TYPING_SWEEP_MS", 1000),

		MessageRateLimit: getEnvAsInt("MESSAGE_RATE_LIMIT", 60),
		FraudBlockScore:  getEnvAsInt("FRAUD_BLOCK_SCORE", 70),
	}
}

// PostgresDSN builds a pgx connection string from the DB_* settings.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsMillis(key string, fallback int) time.Duration {
	return time.Duration(getEnvAsInt(key, fallback)) * time.Millisecond
}
