package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// AppConfig holds process-wide settings.
type AppConfig struct {
	Env      string
	LogLevel string
}

// Production reports whether APP_ENV is production.
func (c AppConfig) Production() bool {
	return c.Env == "production"
}

// Development reports whether APP_ENV selects the console log encoder.
func (c AppConfig) Development() bool {
	return c.Env == "development"
}

func (c AppConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
	)
}

// GatewayConfig holds processor credentials. An empty URL selects the
// in-memory processor.
type GatewayConfig struct {
	URL            string
	MerchantID     string
	APIKey         string
	SigningSecret  string
	Timeout        time.Duration
	AccountPattern string
}

// InMemory reports whether no processor URL was configured.
func (c GatewayConfig) InMemory() bool {
	return c.URL == ""
}

func (c GatewayConfig) Validate() error {
	if c.InMemory() {
		return nil
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.URL, validation.Required, is.URL),
		validation.Field(&c.MerchantID, validation.Required),
		validation.Field(&c.APIKey, validation.Required),
		validation.Field(&c.SigningSecret, validation.Required),
		validation.Field(&c.Timeout, validation.Required),
	)
}

// StoreConfig selects the transaction and subscription stores.
type StoreConfig struct {
	DatabaseURL          string
	SubscriptionBoltPath string
}

// RedisConfig holds Redis connection and purchase guard settings.
type RedisConfig struct {
	URL                string
	DialTimeout        *time.Duration
	ReadTimeout        *time.Duration
	WriteTimeout       *time.Duration
	PoolSize           *int
	MinIdleConns       *int
	MaxRetries         *int
	HealthcheckTimeout time.Duration
	GuardTTL           time.Duration
	EnableOTel         bool
	TLSConfig          *tls.Config
}

// KafkaConfig holds outcome event settings. No brokers disables publishing.
type KafkaConfig struct {
	Brokers             []string
	OutcomeTopic        string
	ReconciliationTopic string
}

// Enabled reports whether any broker was configured.
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

func (c KafkaConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.OutcomeTopic, validation.Required),
		validation.Field(&c.ReconciliationTopic, validation.Required),
	)
}

// GRPCConfig holds the listen address and ingress rate limiting settings.
type GRPCConfig struct {
	Addr              string
	RateLimitInterval time.Duration
	RateLimitBurst    int
}

// ObservabilityConfig holds the HTTP address for the metrics endpoint.
type ObservabilityConfig struct {
	Addr string
}

// LoadApp reads APP_ENV and LOG_LEVEL.
func LoadApp() (AppConfig, error) {
	cfg := AppConfig{
		Env:      strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV"))),
		LogLevel: strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))),
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return cfg, nil
}

// LoadGateway reads processor settings from env.
func LoadGateway() (GatewayConfig, error) {
	cfg := GatewayConfig{
		URL:            strings.TrimSpace(os.Getenv("GATEWAY_URL")),
		MerchantID:     strings.TrimSpace(os.Getenv("GATEWAY_MERCHANT_ID")),
		APIKey:         strings.TrimSpace(os.Getenv("GATEWAY_API_KEY")),
		SigningSecret:  strings.TrimSpace(os.Getenv("GATEWAY_SIGNING_SECRET")),
		AccountPattern: strings.TrimSpace(os.Getenv("GATEWAY_ACCOUNT_PATTERN")),
	}
	if cfg.InMemory() {
		return cfg, nil
	}
	var err error
	if cfg.Timeout, err = requiredDuration("GATEWAY_TIMEOUT"); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("gateway: %w", err)
	}
	return cfg, nil
}

// LoadStores reads store selection from env. Both values are optional.
func LoadStores() StoreConfig {
	return StoreConfig{
		DatabaseURL:          strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SubscriptionBoltPath: strings.TrimSpace(os.Getenv("SUBSCRIPTION_BOLT_PATH")),
	}
}

// RedisConfigured reports whether REDIS_URL is set.
func RedisConfigured() bool {
	return strings.TrimSpace(os.Getenv("REDIS_URL")) != ""
}

// LoadRedis reads Redis config from env.
func LoadRedis() (RedisConfig, error) {
	cfg := RedisConfig{}

	url, err := requiredString("REDIS_URL")
	if err != nil {
		return cfg, err
	}
	cfg.URL = url

	if cfg.DialTimeout, err = optionalDuration("REDIS_DIAL_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.ReadTimeout, err = optionalDuration("REDIS_READ_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = optionalDuration("REDIS_WRITE_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.PoolSize, err = optionalInt("REDIS_POOL_SIZE"); err != nil {
		return cfg, err
	}
	if cfg.MinIdleConns, err = optionalInt("REDIS_MIN_IDLE_CONNS"); err != nil {
		return cfg, err
	}
	if cfg.MaxRetries, err = optionalInt("REDIS_MAX_RETRIES"); err != nil {
		return cfg, err
	}

	if cfg.HealthcheckTimeout, err = requiredDuration("REDIS_HEALTHCHECK_TIMEOUT"); err != nil {
		return cfg, err
	}
	ttl, err := optionalDuration("REDIS_GUARD_TTL")
	if err != nil {
		return cfg, err
	}
	if ttl != nil {
		cfg.GuardTTL = *ttl
	}

	if cfg.EnableOTel, err = optionalBool("REDIS_OTEL"); err != nil {
		return cfg, err
	}

	if cfg.TLSConfig, err = loadRedisTLSFromEnv(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// LoadKafka reads event publishing settings from env.
func LoadKafka() (KafkaConfig, error) {
	cfg := KafkaConfig{
		OutcomeTopic:        strings.TrimSpace(os.Getenv("KAFKA_OUTCOME_TOPIC")),
		ReconciliationTopic: strings.TrimSpace(os.Getenv("KAFKA_RECONCILIATION_TOPIC")),
	}
	for _, broker := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			cfg.Brokers = append(cfg.Brokers, broker)
		}
	}
	if cfg.Enabled() {
		if cfg.OutcomeTopic == "" {
			cfg.OutcomeTopic = "payment.outcomes"
		}
		if cfg.ReconciliationTopic == "" {
			cfg.ReconciliationTopic = "payment.reconciliation"
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("kafka: %w", err)
	}
	return cfg, nil
}

// LoadGRPC reads the gRPC listen address and ingress rate limit settings from env.
func LoadGRPC() (GRPCConfig, error) {
	addr := strings.TrimSpace(os.Getenv("GRPC_ADDR"))
	if addr == "" {
		addr = ":50051"
	}
	interval, err := requiredDuration("GRPC_RATE_LIMIT_INTERVAL")
	if err != nil {
		return GRPCConfig{}, err
	}
	burst, err := requiredInt("GRPC_RATE_LIMIT_BURST")
	if err != nil {
		return GRPCConfig{}, err
	}
	return GRPCConfig{
		Addr:              addr,
		RateLimitInterval: interval,
		RateLimitBurst:    burst,
	}, nil
}

// LoadObservability reads metrics HTTP server address from env.
func LoadObservability() (ObservabilityConfig, error) {
	addr, err := requiredString("OBS_ADDR")
	if err != nil {
		return ObservabilityConfig{}, err
	}
	return ObservabilityConfig{Addr: addr}, nil
}

func loadRedisTLSFromEnv() (*tls.Config, error) {
	caFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CA_FILE"))
	certFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CERT_FILE"))
	keyFile := strings.TrimSpace(os.Getenv("REDIS_TLS_KEY_FILE"))
	serverName := strings.TrimSpace(os.Getenv("REDIS_TLS_SERVER_NAME"))
	insecureStr := strings.TrimSpace(os.Getenv("REDIS_TLS_INSECURE_SKIP_VERIFY"))

	if caFile == "" && certFile == "" && keyFile == "" && serverName == "" && insecureStr == "" {
		return nil, nil
	}
	if (certFile == "") != (keyFile == "") {
		return nil, errors.New("REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set together")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
	}

	if insecureStr != "" {
		insecure, err := strconv.ParseBool(insecureStr)
		if err != nil {
			return nil, fmt.Errorf("REDIS_TLS_INSECURE_SKIP_VERIFY: %w", err)
		}
		tlsConfig.InsecureSkipVerify = insecure
	}

	if caFile != "" {
		pemData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read REDIS_TLS_CA_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, errors.New("REDIS_TLS_CA_FILE contains no valid certificates")
		}
		tlsConfig.RootCAs = pool
	}

	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis TLS keypair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func optionalDuration(name string) (*time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalInt(name string) (*int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalBool(name string) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return val, nil
}

func requiredString(name string) (string, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return raw, nil
}

func requiredInt(name string) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func requiredDuration(name string) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}
