package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	HTTPPort        string        `envconfig:"HTTP_PORT" default:"8080"`
	GRPCPort        string        `envconfig:"GRPC_PORT" default:"50060"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`

	RemoteAPIURL    string        `envconfig:"REMOTE_API_URL" default:"http://localhost:4000/api"`
	RemoteTimeout   time.Duration `envconfig:"REMOTE_TIMEOUT" default:"10s"`
	RemoteRateLimit float64       `envconfig:"REMOTE_RATE_LIMIT" default:"20"`
	RemoteRateBurst int           `envconfig:"REMOTE_RATE_BURST" default:"10"`
	CartSyncTimeout time.Duration `envconfig:"CART_SYNC_TIMEOUT" default:"10s"`

	RedisAddr      string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD"`
	RedisDB        int    `envconfig:"REDIS_DB" default:"0"`
	CacheKeyPrefix string `envconfig:"CACHE_KEY_PREFIX" default:"storefront"`

	MongoURI    string `envconfig:"MONGO_URI" default:"mongodb://localhost:27017"`
	MongoDBName string `envconfig:"MONGO_DB_NAME" default:"storefront"`

	PostgresHost     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	PostgresPort     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	PostgresUser     string `envconfig:"POSTGRES_USER" default:"storefront"`
	PostgresPassword string `envconfig:"POSTGRES_PASSWORD" default:"storefront"`
	PostgresDB       string `envconfig:"POSTGRES_DB" default:"storefront"`
	MigrationsPath   string `envconfig:"MIGRATIONS_PATH" default:"internal/audit/migrations"`

	KafkaBrokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"storefront-orders"`
	KafkaGroupID string   `envconfig:"KAFKA_GROUP_ID"`

	TaxRate             string        `envconfig:"TAX_RATE" default:"0.075"`
	ReservationDuration time.Duration `envconfig:"RESERVATION_DURATION" default:"15m"`
	GuestTokenTTL       time.Duration `envconfig:"GUEST_TOKEN_TTL" default:"168h"`
	StagingTTL          time.Duration `envconfig:"MERGE_STAGING_TTL" default:"2m"`
	BearerVerifiedTTL   time.Duration `envconfig:"BEARER_VERIFIED_TTL" default:"15m"`
	CartSweepInterval   time.Duration `envconfig:"CART_SWEEP_INTERVAL" default:"10m"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if _, err := c.Tax(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Tax parses TAX_RATE, which must be in [0, 1).
func (c *Config) Tax() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.TaxRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid TAX_RATE %q: %w", c.TaxRate, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("TAX_RATE %s out of range [0, 1)", rate)
	}
	return rate, nil
}
