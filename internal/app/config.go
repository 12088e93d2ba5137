package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"github.com/xenking/shop-orders/pkg/httpmiddleware"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (ORDERS_ prefix), flags, a .env file, or YAML config
// files.
type Config struct {
	Addr          string `default:"0.0.0.0:8080" usage:"API server listen address"`
	APIPrefix     string `default:"" usage:"Path prefix for the order endpoints (e.g. /api)" flag:"api-prefix"`
	GatewaySecret string `usage:"Shared secret verifying gateway identity headers; empty treats every caller as a guest" flag:"gateway-secret"`
	TrustedProxies []string `default:"" usage:"Proxy IPs or CIDRs allowed to set X-Forwarded-For; empty trusts only the TCP peer" flag:"trusted-proxies"`
	Database      DatabaseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	RateLimit     RateLimitConfig
	CORS          CORSConfig
	Graceful      GracefulConfig
}

// DatabaseConfig configures the PostgreSQL pool and transactions.
type DatabaseConfig struct {
	URL         string        `usage:"PostgreSQL connection URL (ORDERS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	MaxConns    int32         `default:"0" usage:"Maximum pool connections, 0 keeps the pgx default" flag:"database-max-conns"`
	LockTimeout time.Duration `default:"5s" usage:"Maximum wait for a row lock inside a transaction" flag:"database-lock-timeout"`
}

// RedisConfig configures the idempotency key store. An empty Addr disables
// Idempotency-Key handling.
type RedisConfig struct {
	Addr           string        `default:"" usage:"Redis address host:port" flag:"redis-addr"`
	Password       string        `default:"" usage:"Redis password" flag:"redis-password"`
	DB             int           `default:"0" usage:"Redis database" flag:"redis-db"`
	IdempotencyTTL time.Duration `default:"24h" usage:"How long an Idempotency-Key is remembered" flag:"idempotency-ttl"`
}

// KafkaConfig configures guest order notifications. Without brokers the
// events are only logged.
type KafkaConfig struct {
	Brokers []string `default:"" usage:"Kafka bootstrap brokers" flag:"kafka-brokers"`
	Topic   string   `default:"orders.guest" usage:"Topic for guest order events" flag:"kafka-topic"`
	Buffer  int      `default:"256" usage:"Pending events before new ones are dropped" flag:"kafka-buffer"`
}

// RateLimitConfig controls the per-client token bucket rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
	Burst  int           `default:"0"   usage:"Max requests at once, 0 means Max"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from a .env file, environment variables and
// YAML config files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "ORDERS",
		Files:     []string{"config.yaml", "/etc/orders/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return errors.New("database URL is required: set ORDERS_DATABASE_URL or DATABASE_URL")
	}
	if c.Database.LockTimeout <= 0 {
		return errors.New("database lock timeout must be positive")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("kafka topic is required when brokers are set")
	}
	if _, err := httpmiddleware.ParseTrustedProxies(c.TrustedProxies); err != nil {
		return errors.Wrap(err, "parse trusted proxies")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's ORDERS_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.Database.URL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.Database.URL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = os.Getenv("REDIS_ADDR")
	}
	// aconfig turns an empty default into a single empty broker.
	brokers := c.Kafka.Brokers[:0]
	for _, b := range c.Kafka.Brokers {
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	c.Kafka.Brokers = brokers
}
