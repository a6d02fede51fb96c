package config

import (
	"testing"
	"time"
)

func TestLoadApp(t *testing.T) {
	t.Setenv("APP_ENV", "Production")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := LoadApp()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Production() || cfg.LogLevel != "info" {
		t.Fatalf("unexpected app cfg: %+v", cfg)
	}

	t.Setenv("LOG_LEVEL", "verbose")
	if _, err := LoadApp(); err == nil {
		t.Fatalf("expected error for unknown log level")
	}
}

func TestLoadGateway(t *testing.T) {
	t.Setenv("GATEWAY_URL", "https://processor.example/api")
	t.Setenv("GATEWAY_MERCHANT_ID", "m-1")
	t.Setenv("GATEWAY_API_KEY", "key")
	t.Setenv("GATEWAY_SIGNING_SECRET", "secret")
	t.Setenv("GATEWAY_TIMEOUT", "15s")
	t.Setenv("GATEWAY_ACCOUNT_PATTERN", `^\d{10}$`)

	cfg, err := LoadGateway()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.InMemory() || cfg.Timeout != 15*time.Second || cfg.AccountPattern != `^\d{10}$` {
		t.Fatalf("unexpected gateway cfg: %+v", cfg)
	}
}

func TestLoadGateway_EmptyURLSelectsInMemory(t *testing.T) {
	t.Setenv("GATEWAY_URL", "")
	t.Setenv("GATEWAY_TIMEOUT", "")

	cfg, err := LoadGateway()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.InMemory() {
		t.Fatalf("expected in-memory gateway")
	}
}

func TestLoadGateway_MissingCredentials(t *testing.T) {
	t.Setenv("GATEWAY_URL", "https://processor.example/api")
	t.Setenv("GATEWAY_MERCHANT_ID", "")
	t.Setenv("GATEWAY_API_KEY", "key")
	t.Setenv("GATEWAY_SIGNING_SECRET", "secret")
	t.Setenv("GATEWAY_TIMEOUT", "15s")

	if _, err := LoadGateway(); err == nil {
		t.Fatalf("expected error for missing merchant id")
	}

	t.Setenv("GATEWAY_MERCHANT_ID", "m-1")
	t.Setenv("GATEWAY_TIMEOUT", "")
	if _, err := LoadGateway(); err == nil {
		t.Fatalf("expected error for missing timeout")
	}
}

func TestLoadStores(t *testing.T) {
	t.Setenv("DATABASE_URL", " postgres://localhost/nutripay ")
	t.Setenv("SUBSCRIPTION_BOLT_PATH", "")

	cfg := LoadStores()
	if cfg.DatabaseURL != "postgres://localhost/nutripay" || cfg.SubscriptionBoltPath != "" {
		t.Fatalf("unexpected store cfg: %+v", cfg)
	}
}

func TestLoadKafka(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("KAFKA_OUTCOME_TOPIC", "")
	t.Setenv("KAFKA_RECONCILIATION_TOPIC", "recon")

	cfg, err := LoadKafka()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Brokers) != 2 || cfg.Brokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.Brokers)
	}
	if cfg.OutcomeTopic != "payment.outcomes" || cfg.ReconciliationTopic != "recon" {
		t.Fatalf("unexpected topics: %+v", cfg)
	}
}

func TestLoadKafka_Disabled(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := LoadKafka()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Enabled() {
		t.Fatalf("expected kafka disabled")
	}
}

func TestLoadGRPC(t *testing.T) {
	t.Setenv("GRPC_ADDR", "")
	t.Setenv("GRPC_RATE_LIMIT_INTERVAL", "5ms")
	t.Setenv("GRPC_RATE_LIMIT_BURST", "10")

	cfg, err := LoadGRPC()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":50051" || cfg.RateLimitInterval != 5*time.Millisecond || cfg.RateLimitBurst != 10 {
		t.Fatalf("unexpected grpc cfg: %+v", cfg)
	}
}

func TestLoadGRPCMissingEnv(t *testing.T) {
	t.Setenv("GRPC_RATE_LIMIT_INTERVAL", "")
	if _, err := LoadGRPC(); err == nil {
		t.Fatalf("expected error for missing interval")
	}
}

func TestLoadObservability(t *testing.T) {
	t.Setenv("OBS_ADDR", ":9999")

	cfg, err := LoadObservability()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Fatalf("unexpected observability addr: %+v", cfg)
	}
}

func TestLoadRedis(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("REDIS_HEALTHCHECK_TIMEOUT", "2s")
	t.Setenv("REDIS_GUARD_TTL", "90s")

	if !RedisConfigured() {
		t.Fatalf("expected redis configured")
	}
	cfg, err := LoadRedis()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.URL != "redis://localhost:6379/0" {
		t.Fatalf("unexpected redis url: %s", cfg.URL)
	}
	if cfg.HealthcheckTimeout != 2*time.Second {
		t.Fatalf("unexpected healthcheck timeout: %v", cfg.HealthcheckTimeout)
	}
	if cfg.GuardTTL != 90*time.Second {
		t.Fatalf("unexpected guard ttl: %v", cfg.GuardTTL)
	}
}

func TestLoadRedis_WithOptionalFields(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("REDIS_HEALTHCHECK_TIMEOUT", "1s")
	t.Setenv("REDIS_DIAL_TIMEOUT", "3s")
	t.Setenv("REDIS_READ_TIMEOUT", "4s")
	t.Setenv("REDIS_WRITE_TIMEOUT", "5s")
	t.Setenv("REDIS_POOL_SIZE", "9")
	t.Setenv("REDIS_MIN_IDLE_CONNS", "2")
	t.Setenv("REDIS_MAX_RETRIES", "3")
	t.Setenv("REDIS_OTEL", "true")

	cfg, err := LoadRedis()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DialTimeout == nil || *cfg.DialTimeout != 3*time.Second {
		t.Fatalf("unexpected dial timeout: %v", cfg.DialTimeout)
	}
	if cfg.ReadTimeout == nil || *cfg.ReadTimeout != 4*time.Second {
		t.Fatalf("unexpected read timeout: %v", cfg.ReadTimeout)
	}
	if cfg.WriteTimeout == nil || *cfg.WriteTimeout != 5*time.Second {
		t.Fatalf("unexpected write timeout: %v", cfg.WriteTimeout)
	}
	if cfg.PoolSize == nil || *cfg.PoolSize != 9 {
		t.Fatalf("unexpected pool size: %v", cfg.PoolSize)
	}
	if cfg.MinIdleConns == nil || *cfg.MinIdleConns != 2 {
		t.Fatalf("unexpected min idle: %v", cfg.MinIdleConns)
	}
	if cfg.MaxRetries == nil || *cfg.MaxRetries != 3 {
		t.Fatalf("unexpected max retries: %v", cfg.MaxRetries)
	}
	if !cfg.EnableOTel {
		t.Fatalf("expected otel enabled")
	}
	if cfg.GuardTTL != 0 {
		t.Fatalf("expected unset guard ttl, got %v", cfg.GuardTTL)
	}
}

func TestLoadRedis_MissingURL(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	if RedisConfigured() {
		t.Fatalf("expected redis not configured")
	}
	if _, err := LoadRedis(); err == nil {
		t.Fatalf("expected missing url error")
	}
}

func TestLoadRedis_InvalidFields(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("REDIS_HEALTHCHECK_TIMEOUT", "bad")
	if _, err := LoadRedis(); err == nil {
		t.Fatalf("expected error for bad healthcheck timeout")
	}

	t.Setenv("REDIS_HEALTHCHECK_TIMEOUT", "1s")
	t.Setenv("REDIS_GUARD_TTL", "-1s")
	if _, err := LoadRedis(); err == nil {
		t.Fatalf("expected error for negative guard ttl")
	}
}

func TestLoadRedisTLS_NoSettingsReturnsNil(t *testing.T) {
	if cfg, err := loadRedisTLSFromEnv(); err != nil || cfg != nil {
		t.Fatalf("expected nil tls config, got %#v err %v", cfg, err)
	}
}

func TestLoadRedisTLS_MismatchedKeyPair(t *testing.T) {
	t.Setenv("REDIS_TLS_CERT_FILE", "cert")
	if _, err := loadRedisTLSFromEnv(); err == nil {
		t.Fatalf("expected cert/key mismatch error")
	}
}

func TestLoadRedisTLS_InvalidInsecureFlag(t *testing.T) {
	t.Setenv("REDIS_TLS_INSECURE_SKIP_VERIFY", "notabool")
	if _, err := loadRedisTLSFromEnv(); err == nil {
		t.Fatalf("expected parse bool error")
	}
}

func TestLoadRedisTLS_InsecureTrue(t *testing.T) {
	t.Setenv("REDIS_TLS_INSECURE_SKIP_VERIFY", "true")
	cfg, err := loadRedisTLSFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg == nil || !cfg.InsecureSkipVerify {
		t.Fatalf("expected insecure tls config, got %#v", cfg)
	}
}

func TestLoadRedisTLS_ReadCAError(t *testing.T) {
	t.Setenv("REDIS_TLS_CA_FILE", "/no/such/file")
	if _, err := loadRedisTLSFromEnv(); err == nil {
		t.Fatalf("expected read error for missing CA file")
	}
}

func TestOptionalAndRequiredHelpers(t *testing.T) {
	t.Setenv("X_OPT_DUR", "-1ms")
	if _, err := optionalDuration("X_OPT_DUR"); err == nil {
		t.Fatalf("expected negative duration error")
	}
	t.Setenv("X_OPT_INT", "-1")
	if _, err := optionalInt("X_OPT_INT"); err == nil {
		t.Fatalf("expected negative int error")
	}
	t.Setenv("X_OPT_BOOL", "notbool")
	if _, err := optionalBool("X_OPT_BOOL"); err == nil {
		t.Fatalf("expected bool parse error")
	}
	t.Setenv("X_REQ_INT", "-1")
	if _, err := requiredInt("X_REQ_INT"); err == nil {
		t.Fatalf("expected negative int error")
	}
	t.Setenv("X_REQ_DUR", "bad")
	if _, err := requiredDuration("X_REQ_DUR"); err == nil {
		t.Fatalf("expected bad duration error")
	}
}
