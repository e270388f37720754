package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the overall gateway configuration.
type Config struct {
	DatabaseURL string `envconfig:"DATABASE_URL"`
	RedisAddr   string `envconfig:"REDIS_ADDR"     default:"localhost:6379"`
	RedisDB     int    `envconfig:"REDIS_DB"       default:"0"`
	LogLevel    string `envconfig:"LOG_LEVEL"      default:"info"`

	Admin  AdminConfig
	Worker WorkerConfig
}

// AdminConfig holds the operational HTTP server configuration.
type AdminConfig struct {
	Addr         string        `envconfig:"ADMIN_ADDR"          default:":8080"`
	ReadTimeout  time.Duration `envconfig:"ADMIN_READ_TIMEOUT"  default:"10s"`
	WriteTimeout time.Duration `envconfig:"ADMIN_WRITE_TIMEOUT" default:"10s"`
	IdleTimeout  time.Duration `envconfig:"ADMIN_IDLE_TIMEOUT"  default:"60s"`
}

// WorkerConfig holds intervals and batch sizes for the background loops.
type WorkerConfig struct {
	DispatchInterval   time.Duration `envconfig:"WORKER_DISPATCH_INTERVAL"   default:"2s"`
	DispatchBatchSize  int           `envconfig:"WORKER_DISPATCH_BATCH_SIZE" default:"50"`
	EscalatorInterval  time.Duration `envconfig:"WORKER_ESCALATOR_INTERVAL"  default:"5m"`
	EscalatorBatchSize int           `envconfig:"WORKER_ESCALATOR_BATCH_SIZE" default:"200"`
}

// Load reads configuration from environment variables, with an optional
// .env file for development.
func Load() (*Config, error) {
	var cfg Config

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found, skipping: %v", err)
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
