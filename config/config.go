package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Session store backends selectable with DUEL_SESSION_BACKEND.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	BindAddress string `env:"BIND_ADDRESS" envDefault:"localhost"`

	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"factduel"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"factduel123"`
	DBName     string `env:"DB_NAME" envDefault:"factduel"`

	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     string `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	JWTSecret string `env:"JWT_SECRET" envDefault:"your-secret-key-change-in-production"`

	SessionBackend  string        `env:"DUEL_SESSION_BACKEND" envDefault:"postgres"`
	QuestionTotal   int           `env:"DUEL_QUESTION_TOTAL" envDefault:"10"`
	IdleTimeout     time.Duration `env:"DUEL_IDLE_TIMEOUT" envDefault:"30m"`
	SweepInterval   time.Duration `env:"DUEL_SWEEP_INTERVAL" envDefault:"1m"`
	NameCacheTTL    time.Duration `env:"DISPLAY_NAME_CACHE_TTL" envDefault:"10m"`
	RedisSessionTTL time.Duration `env:"REDIS_SESSION_TTL" envDefault:"0s"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	OTelEndpoint   string   `env:"OTEL_ENDPOINT"`
}

// Load reads a .env file when one exists and then parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading environment variables directly")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	switch cfg.SessionBackend {
	case BackendPostgres, BackendRedis:
	default:
		return nil, fmt.Errorf("unknown DUEL_SESSION_BACKEND %q", cfg.SessionBackend)
	}
	if cfg.QuestionTotal <= 0 {
		return nil, fmt.Errorf("DUEL_QUESTION_TOTAL must be positive, got %d", cfg.QuestionTotal)
	}

	return cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return c.BindAddress + ":" + c.Port
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

func InitRedis(cfg *Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	return client
}
