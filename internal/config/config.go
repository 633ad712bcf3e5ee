package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/viper"

	"github.com/example/ride-escrow/internal/units"
)

// Allocation is value credited to an account when the server starts.
type Allocation struct {
	Address common.Address
	Amount  *uint256.Int
}

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values come from the environment, or from the file named by CONFIG_FILE
// with the environment taking precedence, over defaults that let the
// binary run locally.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	LedgerOwner   common.Address
	LedgerAddress common.Address
	FeePercent    uint64
	MinDriverAge  uint32
	Genesis       []Allocation

	RedisAddr          string
	RedisPassword      string
	RedisGeoKey        string
	RedisEventsChannel string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN         string
	RunMigrations bool

	WebhookURL string

	BoardRadiusMeters float64
	BoardTopN         int
	EventLogSize      int
	EventQueueSize    int

	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:           ":8080",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		FeePercent:         2,
		MinDriverAge:       18,
		RedisGeoKey:        "open_rides",
		RedisEventsChannel: "ride-events",
		KafkaTopic:         "ride-events",
		BoardRadiusMeters:  5000,
		BoardTopN:          20,
		EventLogSize:       10_000,
		EventQueueSize:     1024,
		RateLimitRPS:       10,
		RateLimitBurst:     20,
		LogLevel:           "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	v, err := newViper()
	if err != nil {
		return cfg, err
	}
	var errs []error

	setString(v, &cfg.HTTPAddr, "HTTP_ADDR")
	setDuration(v, &cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDuration(v, &cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDuration(v, &cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDuration(v, &cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setAddress(v, &cfg.LedgerOwner, "LEDGER_OWNER", &errs)
	setAddress(v, &cfg.LedgerAddress, "LEDGER_ADDRESS", &errs)
	setUint(v, &cfg.FeePercent, "PLATFORM_FEE_PERCENT", &errs)
	minAge := uint64(cfg.MinDriverAge)
	setUint(v, &minAge, "MIN_DRIVER_AGE", &errs)
	cfg.MinDriverAge = uint32(minAge)
	if raw := strings.TrimSpace(v.GetString("GENESIS_ALLOCATIONS")); raw != "" {
		alloc, err := ParseAllocations(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid GENESIS_ALLOCATIONS: %w", err))
		}
		cfg.Genesis = alloc
	}

	cfg.RedisAddr = strings.TrimSpace(v.GetString("REDIS_ADDR"))
	cfg.RedisPassword = v.GetString("REDIS_PASSWORD")
	setString(v, &cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setString(v, &cfg.RedisEventsChannel, "REDIS_EVENTS_CHANNEL")

	if brokers := v.GetString("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setString(v, &cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = v.GetString("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(v.GetString("MIGRATE"), "true")
	cfg.WebhookURL = strings.TrimSpace(v.GetString("WEBHOOK_URL"))

	setFloat(v, &cfg.BoardRadiusMeters, "BOARD_RADIUS_METERS", &errs)
	setInt(v, &cfg.BoardTopN, "BOARD_TOP_N", &errs)
	setInt(v, &cfg.EventLogSize, "EVENT_LOG_SIZE", &errs)
	setInt(v, &cfg.EventQueueSize, "EVENT_QUEUE_SIZE", &errs)

	setFloat(v, &cfg.RateLimitRPS, "RATE_LIMIT_RPS", &errs)
	setInt(v, &cfg.RateLimitBurst, "RATE_LIMIT_BURST", &errs)
	if origins := v.GetString("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitAndTrim(origins)
	}

	if lvl := v.GetString("LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = strings.ToLower(lvl)
	}

	if cfg.LedgerOwner == (common.Address{}) {
		errs = append(errs, errors.New("LEDGER_OWNER is required"))
	}
	if cfg.FeePercent > 100 {
		errs = append(errs, fmt.Errorf("PLATFORM_FEE_PERCENT must be <= 100"))
	}
	if cfg.BoardTopN <= 0 {
		errs = append(errs, fmt.Errorf("BOARD_TOP_N must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// IndexerConfig configures cmd/indexer.
type IndexerConfig struct {
	MetricsAddr   string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string
	PGDSN         string
	RunMigrations bool
	Attempts      int
	RetryDelay    time.Duration
	LogLevel      string
}

func defaultIndexerConfig() IndexerConfig {
	return IndexerConfig{
		MetricsAddr:  ":2112",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "ride-events",
		KafkaGroup:   "ride-escrow-indexer",
		RedisGeoKey:  "open_rides",
		Attempts:     3,
		RetryDelay:   200 * time.Millisecond,
		LogLevel:     "info",
	}
}

func LoadIndexerConfig() (IndexerConfig, error) {
	cfg := defaultIndexerConfig()
	v, err := newViper()
	if err != nil {
		return cfg, err
	}
	var errs []error

	setString(v, &cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := v.GetString("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setString(v, &cfg.KafkaTopic, "KAFKA_TOPIC")
	setString(v, &cfg.KafkaGroup, "KAFKA_GROUP")
	cfg.RedisAddr = strings.TrimSpace(v.GetString("REDIS_ADDR"))
	cfg.RedisPassword = v.GetString("REDIS_PASSWORD")
	setString(v, &cfg.RedisGeoKey, "REDIS_GEO_KEY")
	cfg.PGDSN = v.GetString("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(v.GetString("MIGRATE"), "true")
	setInt(v, &cfg.Attempts, "INDEXER_ATTEMPTS", &errs)
	setDuration(v, &cfg.RetryDelay, "INDEXER_RETRY_DELAY", &errs)
	if lvl := v.GetString("LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = strings.ToLower(lvl)
	}

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required"))
	}
	if cfg.RedisAddr == "" && cfg.PGDSN == "" {
		errs = append(errs, errors.New("one of REDIS_ADDR or PG_DSN is required"))
	}
	if cfg.Attempts <= 0 {
		errs = append(errs, fmt.Errorf("INDEXER_ATTEMPTS must be > 0"))
	}
	return cfg, errors.Join(errs...)
}

// ParseAllocations reads "addr=wei,addr=wei".
func ParseAllocations(raw string) ([]Allocation, error) {
	var out []Allocation
	for _, part := range splitAndTrim(raw) {
		addr, amount, ok := strings.Cut(part, "=")
		addr = strings.TrimSpace(addr)
		if !ok || !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("entry %q: want address=wei", part)
		}
		wei, err := units.ParseWei(strings.TrimSpace(amount))
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", part, err)
		}
		out = append(out, Allocation{Address: common.HexToAddress(addr), Amount: wei})
	}
	return out, nil
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.AutomaticEnv()
	if file := strings.TrimSpace(v.GetString("CONFIG_FILE")); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
	}
	return v, nil
}

func setDuration(v *viper.Viper, target *time.Duration, key string, errs *[]error) {
	if s := v.GetString(key); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloat(v *viper.Viper, target *float64, key string, errs *[]error) {
	if s := v.GetString(key); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setInt(v *viper.Viper, target *int, key string, errs *[]error) {
	if s := v.GetString(key); s != "" {
		i, err := strconv.Atoi(s)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setUint(v *viper.Viper, target *uint64, key string, errs *[]error) {
	if s := v.GetString(key); s != "" {
		u, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = u
	}
}

func setAddress(v *viper.Viper, target *common.Address, key string, errs *[]error) {
	if s := strings.TrimSpace(v.GetString(key)); s != "" {
		if !common.IsHexAddress(s) {
			*errs = append(*errs, fmt.Errorf("invalid %s: %q is not an address", key, s))
			return
		}
		*target = common.HexToAddress(s)
	}
}

func setString(v *viper.Viper, target *string, key string) {
	if s := strings.TrimSpace(v.GetString(key)); s != "" {
		*target = s
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
