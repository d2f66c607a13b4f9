// Package config loads the layered service configuration: an optional .env
// base file, an optional .env.<APP_ENV> overlay, then the process
// environment. Every key is prefixed STQ_BILLING_.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const envPrefix = "STQ_BILLING_"

// Server holds the HTTP server and DB pool settings.
type Server struct {
	Host                string
	Port                int
	DatabaseURL         string
	ThreadCount         int
	ProcessingTimeoutMs int
}

// Client holds outbound HTTP settings.
type Client struct {
	HTTPClientRetries    int
	HTTPClientBufferSize int
	HTTPTimeoutMs        int
	SagaURL              string
}

// EventStore holds outbox worker settings.
type EventStore struct {
	MaxProcessingAttempts int32
	StuckThresholdSec     int
	PollingRateSec        int
}

// SystemAccounts maps the configured system wallet UUIDs.
type SystemAccounts struct {
	MainSTQ     uuid.UUID
	MainETH     uuid.UUID
	MainBTC     uuid.UUID
	CashbackSTQ uuid.UUID
}

// Payments holds the crypto-payments collaborator settings.
type Payments struct {
	URL                string
	JWTPublicKeyBase64 string
	UserJWT            string
	UserPrivateKey     string
	DeviceID           string
	MinPooledAccounts  int
	Accounts           SystemAccounts
	SignPublicKey      string
}

// PaymentsMock selects and configures the in-memory collaborator.
type PaymentsMock struct {
	UseMock           bool
	MinPooledAccounts int
	Accounts          SystemAccounts
}

// Stripe holds the card processor credentials.
type Stripe struct {
	PublicKey     string
	SecretKey     string
	SigningSecret string
}

// Fee holds platform commission settings.
type Fee struct {
	OrderPercent int64
	CurrencyCode string
}

// PaymentExpiry holds the per-rail invoice payment timeouts.
type PaymentExpiry struct {
	CryptoTimeoutMin int
	FiatTimeoutMin   int
}

// Subscription holds subscription billing cadence settings.
type Subscription struct {
	PeriodicityDays       int
	TrialTimeDurationDays int
}

// Redis holds the role-cache / event-publishing backend address.
type Redis struct {
	URL string
}

// Config is the full service configuration, passed by value through
// constructors.
type Config struct {
	Server        Server
	Client        Client
	EventStore    EventStore
	Payments      Payments
	PaymentsMock  PaymentsMock
	Stripe        Stripe
	Fee           Fee
	PaymentExpiry PaymentExpiry
	Subscription  Subscription
	Redis         Redis
}

// HTTPTimeout is the configured outbound HTTP timeout.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Client.HTTPTimeoutMs) * time.Millisecond
}

// Load reads the layered configuration.
func Load() (Config, error) {
	// Overlay wins over base; both are optional for containerized deploys
	// that configure purely through the environment.
	if env := os.Getenv("APP_ENV"); env != "" {
		_ = godotenv.Overload(".env." + env)
	}
	_ = godotenv.Load(".env")

	cfg := Config{
		Server: Server{
			Host:                getStr("SERVER_HOST", "0.0.0.0"),
			Port:                getInt("SERVER_PORT", 8000),
			DatabaseURL:         getStr("SERVER_DATABASE", ""),
			ThreadCount:         getInt("SERVER_THREAD_COUNT", 8),
			ProcessingTimeoutMs: getInt("SERVER_PROCESSING_TIMEOUT_MS", 30000),
		},
		Client: Client{
			HTTPClientRetries:    getInt("CLIENT_HTTP_CLIENT_RETRIES", 3),
			HTTPClientBufferSize: getInt("CLIENT_HTTP_CLIENT_BUFFER_SIZE", 10),
			HTTPTimeoutMs:        getInt("CLIENT_HTTP_TIMEOUT_MS", 10000),
			SagaURL:              getStr("CLIENT_SAGA_URL", ""),
		},
		EventStore: EventStore{
			MaxProcessingAttempts: int32(getInt("EVENT_STORE_MAX_PROCESSING_ATTEMPTS", 3)),
			StuckThresholdSec:     getInt("EVENT_STORE_STUCK_THRESHOLD_SEC", 300),
			PollingRateSec:        getInt("EVENT_STORE_POLLING_RATE_SEC", 5),
		},
		Payments: Payments{
			URL:                getStr("PAYMENTS_URL", ""),
			JWTPublicKeyBase64: getStr("PAYMENTS_JWT_PUBLIC_KEY_BASE64", ""),
			UserJWT:            getStr("PAYMENTS_USER_JWT", ""),
			UserPrivateKey:     getStr("PAYMENTS_USER_PRIVATE_KEY", ""),
			DeviceID:           getStr("PAYMENTS_DEVICE_ID", ""),
			MinPooledAccounts:  getInt("PAYMENTS_MIN_POOLED_ACCOUNTS", 5),
			SignPublicKey:      getStr("PAYMENTS_SIGN_PUBLIC_KEY", ""),
		},
		PaymentsMock: PaymentsMock{
			UseMock:           getBool("PAYMENTS_MOCK_USE_MOCK", false),
			MinPooledAccounts: getInt("PAYMENTS_MOCK_MIN_POOLED_ACCOUNTS", 2),
		},
		Stripe: Stripe{
			PublicKey:     getStr("STRIPE_PUBLIC_KEY", ""),
			SecretKey:     getStr("STRIPE_SECRET_KEY", ""),
			SigningSecret: getStr("STRIPE_SIGNING_SECRET", ""),
		},
		Fee: Fee{
			OrderPercent: int64(getInt("FEE_ORDER_PERCENT", 5)),
			CurrencyCode: getStr("FEE_CURRENCY_CODE", "eur"),
		},
		PaymentExpiry: PaymentExpiry{
			CryptoTimeoutMin: getInt("PAYMENT_EXPIRY_CRYPTO_TIMEOUT_MIN", 60),
			FiatTimeoutMin:   getInt("PAYMENT_EXPIRY_FIAT_TIMEOUT_MIN", 10),
		},
		Subscription: Subscription{
			PeriodicityDays:       getInt("SUBSCRIPTION_PERIODICITY_DAYS", 30),
			TrialTimeDurationDays: getInt("SUBSCRIPTION_TRIAL_TIME_DURATION_DAYS", 30),
		},
		Redis: Redis{
			URL: getStr("REDIS_URL", "redis://127.0.0.1:6379/0"),
		},
	}

	var err error
	if cfg.Payments.Accounts, err = loadAccounts("PAYMENTS_ACCOUNTS_"); err != nil {
		return Config{}, err
	}
	if cfg.PaymentsMock.Accounts, err = loadAccounts("PAYMENTS_MOCK_ACCOUNTS_"); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadAccounts(prefix string) (SystemAccounts, error) {
	var accounts SystemAccounts
	for _, entry := range []struct {
		key    string
		target *uuid.UUID
	}{
		{prefix + "MAIN_STQ", &accounts.MainSTQ},
		{prefix + "MAIN_ETH", &accounts.MainETH},
		{prefix + "MAIN_BTC", &accounts.MainBTC},
		{prefix + "CASHBACK_STQ", &accounts.CashbackSTQ},
	} {
		raw := getStr(entry.key, "")
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return SystemAccounts{}, fmt.Errorf("config %s%s: %w", envPrefix, entry.key, err)
		}
		*entry.target = id
	}
	return accounts, nil
}

func getStr(key, fallback string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
