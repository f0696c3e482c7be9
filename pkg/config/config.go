package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DB struct {
		Host     string
		Port     int
		User     string
		Password string
		Database string
	}
	RabbitMQ struct {
		Host     string
		Port     int
		User     string
		Password string
	}
	Redis struct {
		Addr string
	}
	HTTP struct {
		Port int
	}
	JWT struct {
		Secret string
	}
	Offer struct {
		// TimeoutSeconds is how long a driver has to respond to a trip offer.
		TimeoutSeconds int
	}
}

// LoadConfig reads the given .env file (if present) and resolves the
// configuration from the environment. A missing file is not an error so
// containerized deployments can rely on real environment variables.
func LoadConfig(filename string) (*Config, error) {
	if filename != "" {
		if err := godotenv.Load(filename); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}

	cfg := &Config{}
	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.DB.User = getEnv("DB_USER", "ridepool_user")
	cfg.DB.Password = getEnv("DB_PASS", "ridepool_pass")
	cfg.DB.Database = getEnv("DB_NAME", "ridepool_db")
	cfg.RabbitMQ.Host = getEnv("RABBITMQ_HOST", "localhost")
	cfg.RabbitMQ.Port = getEnvAsInt("RABBITMQ_PORT", 5672)
	cfg.RabbitMQ.User = getEnv("RABBITMQ_USER", "guest")
	cfg.RabbitMQ.Password = getEnv("RABBITMQ_PASS", "guest")
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.HTTP.Port = getEnvAsInt("HTTP_PORT", 3000)
	cfg.JWT.Secret = getEnv("JWT_SECRET", "dev-secret-change-me")
	cfg.Offer.TimeoutSeconds = getEnvAsInt("OFFER_TIMEOUT_SECONDS", 30)

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
