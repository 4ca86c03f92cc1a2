package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"chainsettle/internal/domain"
)

type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	DBDriver        string
	DBDSN           string
	RedisAddr       string
	OtelEndpoint    string
	KafkaBrokers    []string
	KafkaTopic      string
	PriceAPIURL     string
	PriceAPIKey     string
	PriceRPS        float64
	Gas             GasConfig
	ConfirmTimeout  time.Duration
	ReceiptPoll     time.Duration
	WelcomeBonus    string
	WelcomeTimeout  time.Duration
	NetworksFile    string
	Networks        []domain.NetworkProfile
	ShutdownTimeout time.Duration
}

type GasConfig struct {
	MinGwei             uint64
	MaxGwei             uint64
	BaseIncreasePercent uint64
}

type EnvSource interface {
	Lookup(key string) (string, bool)
}

type EnvMap map[string]string

func (e EnvMap) Lookup(key string) (string, bool) {
	value, ok := e[key]
	return value, ok
}

func FromEnviron() EnvSource {
	env := make(EnvMap)
	for _, entry := range os.Environ() {
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		env[parts[0]] = parts[1]
	}
	return env
}

// Load reads process settings from source. Signer keys are not read here;
// profiles only carry the names of the variables that hold them.
func Load(source EnvSource) (Config, error) {
	if source == nil {
		return Config{}, errors.New("env source is required")
	}

	minGwei, err := parseUintEnv(source, "GAS_MIN_GWEI", 5)
	if err != nil {
		return Config{}, err
	}
	maxGwei, err := parseUintEnv(source, "GAS_MAX_GWEI", 50)
	if err != nil {
		return Config{}, err
	}
	if minGwei > maxGwei {
		return Config{}, fmt.Errorf("GAS_MIN_GWEI (%d) exceeds GAS_MAX_GWEI (%d)", minGwei, maxGwei)
	}
	baseIncrease, err := parseUintEnv(source, "GAS_BASE_INCREASE_PERCENT", 10)
	if err != nil {
		return Config{}, err
	}

	confirmTimeout, err := parseDurationEnv(source, "CONFIRM_TIMEOUT", 60*time.Second)
	if err != nil {
		return Config{}, err
	}
	receiptPoll, err := parseDurationEnv(source, "RECEIPT_POLL_INTERVAL", time.Second)
	if err != nil {
		return Config{}, err
	}
	welcomeTimeout, err := parseDurationEnv(source, "WELCOME_BONUS_TIMEOUT", 3*time.Minute)
	if err != nil {
		return Config{}, err
	}
	shutdownTimeout, err := parseDurationEnv(source, "SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}

	priceRPS, err := parseFloatEnv(source, "PRICE_API_RPS", 5)
	if err != nil {
		return Config{}, err
	}

	dbDriver := strings.ToLower(lookupTrimmed(source, "DB_DRIVER"))
	switch dbDriver {
	case "", "mysql", "sqlite":
	default:
		return Config{}, fmt.Errorf("invalid DB_DRIVER %q", dbDriver)
	}
	dbDSN := lookupTrimmed(source, "DB_DSN")
	if dbDriver != "" && dbDSN == "" {
		return Config{}, errors.New("DB_DSN is required when DB_DRIVER is set")
	}

	httpAddr := ":8080"
	if raw := lookupTrimmed(source, "HTTP_ADDR"); raw != "" {
		httpAddr = raw
	}

	kafkaTopic := lookupTrimmed(source, "KAFKA_TOPIC")
	if kafkaTopic == "" {
		kafkaTopic = "chainsettle-events"
	}

	networks := DefaultNetworks(source)
	networksFile := lookupTrimmed(source, "NETWORK_CONFIG_FILE")
	if networksFile != "" {
		networks, err = ApplyNetworksFile(networks, networksFile)
		if err != nil {
			return Config{}, err
		}
	}

	return Config{
		HTTPAddr:     httpAddr,
		LogLevel:     lookupTrimmed(source, "LOG_LEVEL"),
		LogFormat:    lookupTrimmed(source, "LOG_FORMAT"),
		DBDriver:     dbDriver,
		DBDSN:        dbDSN,
		RedisAddr:    lookupTrimmed(source, "REDIS_ADDR"),
		OtelEndpoint: lookupTrimmed(source, "OTEL_EXPORTER_OTLP_ENDPOINT"),
		KafkaBrokers: parseList(source, "KAFKA_BROKERS"),
		KafkaTopic:   kafkaTopic,
		PriceAPIURL:  lookupTrimmed(source, "PRICE_API_URL"),
		PriceAPIKey:  lookupTrimmed(source, "PRICE_API_KEY"),
		PriceRPS:     priceRPS,
		Gas: GasConfig{
			MinGwei:             minGwei,
			MaxGwei:             maxGwei,
			BaseIncreasePercent: baseIncrease,
		},
		ConfirmTimeout:  confirmTimeout,
		ReceiptPoll:     receiptPoll,
		WelcomeBonus:    lookupTrimmed(source, "WELCOME_BONUS_AMOUNT"),
		WelcomeTimeout:  welcomeTimeout,
		NetworksFile:    networksFile,
		Networks:        networks,
		ShutdownTimeout: shutdownTimeout,
	}, nil
}

func lookupTrimmed(source EnvSource, key string) string {
	raw, _ := source.Lookup(key)
	return strings.TrimSpace(raw)
}

func parseUintEnv(source EnvSource, key string, defaultValue uint64) (uint64, error) {
	raw := lookupTrimmed(source, key)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseFloatEnv(source EnvSource, key string, defaultValue float64) (float64, error) {
	raw := lookupTrimmed(source, key)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseDurationEnv(source EnvSource, key string, defaultValue time.Duration) (time.Duration, error) {
	raw := lookupTrimmed(source, key)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return value, nil
}

func parseList(source EnvSource, key string) []string {
	raw := lookupTrimmed(source, key)
	if raw == "" {
		return nil
	}
	var values []string
	for _, item := range strings.Split(raw, ",") {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		values = append(values, value)
	}
	return values
}
