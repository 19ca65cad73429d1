package env

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	AWSRegion        string `env:"AWS_REGION,notEmpty"`
	AWSID            string `env:"AWS_ID"`
	AWSSecret        string `env:"AWS_SECRET"`
	AWSToken         string `env:"AWS_TOKEN"`
	DynamoDBEndpoint string `env:"DYNAMODB_ENDPOINT"`

	ChatRedisURL  string `env:"CHAT_REDIS_URL,notEmpty"`
	ChatRedisPass string `env:"CHAT_REDIS_PASS"`

	TelegramAPIEndpoint string        `env:"TELEGRAM_API_ENDPOINT"`
	TelegramTimeout     time.Duration `env:"TELEGRAM_TIMEOUT" envDefault:"10s"`

	PublicListenAddr string   `env:"PUBLIC_LISTEN_ADDR" envDefault:":82"`
	WSListenAddr     string   `env:"WS_LISTEN_ADDR" envDefault:":83"`
	AllowedOrigins   []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	QueueSize        int      `env:"REQUEST_QUEUE_SIZE" envDefault:"64"`
	QueueWorkers     int      `env:"REQUEST_QUEUE_WORKERS" envDefault:"32"`

	// Engine tunables
	ThrottleDelay       time.Duration `env:"THROTTLE_DELAY" envDefault:"10s"`
	ThrottleMaxBurst    int           `env:"THROTTLE_MAX_BURST" envDefault:"3"`
	ThrottleHistory     int           `env:"THROTTLE_HISTORY" envDefault:"100"`
	ThrottleIdleTTL     time.Duration `env:"THROTTLE_IDLE_TTL" envDefault:"30m"`
	ThrottlePurge       float64       `env:"THROTTLE_PURGE_CHANCE" envDefault:"0.01"`
	ConfigCacheTTL      time.Duration `env:"CONFIG_CACHE_TTL" envDefault:"5m"`
	ConfigNegativeTTL   time.Duration `env:"CONFIG_NEGATIVE_TTL" envDefault:"30s"`
	ConfigCacheCapacity int           `env:"CONFIG_CACHE_CAPACITY" envDefault:"10000"`
	APIKeyIndexTTL      time.Duration `env:"API_KEY_INDEX_TTL" envDefault:"1h"`
	FlightTimeout       time.Duration `env:"RESOLVE_FLIGHT_TIMEOUT" envDefault:"20s"`
	SessionCacheTTL     time.Duration `env:"SESSION_CACHE_TTL" envDefault:"30m"`

	JanitorSchedule string `env:"JANITOR_SCHEDULE" envDefault:"@every 1m"`
}

// Load reads an optional .env file from the working directory and parses the
// process environment into a Config.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("env: load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("env: parse: %w", err)
	}
	return cfg, nil
}
