package config

import (
	"fmt"
	"net"
	"net/url"

	logging "github.com/ipfs/go-log/v2"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var log = logging.Logger("config")

type Config struct {
	Port     string `envconfig:"PORT" default:"8080"`
	AppURL   string `envconfig:"APP_URL" default:"http://localhost:3000"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Store selects the persistence backend: postgres or memory.
	Store    string `envconfig:"STORE" default:"postgres"`
	Database DatabaseConfig

	JWTSecret      string `envconfig:"JWT_SECRET" required:"true"`
	TokenTTLHours  int    `envconfig:"TOKEN_TTL_HOURS" default:"72"`
	BootstrapToken string `envconfig:"ADMIN_BOOTSTRAP_SECRET"`

	PlatformFeeRate string `envconfig:"PLATFORM_FEE_RATE" default:"0.05"`
	Currency        string `envconfig:"CURRENCY" default:"INR"`
	AutoReleaseDays int    `envconfig:"AUTO_RELEASE_DAYS" default:"7"`
	ListingTTLDays  int    `envconfig:"LISTING_TTL_DAYS" default:"30"`
	NegotiationDays int    `envconfig:"NEGOTIATION_TTL_DAYS" default:"30"`

	// RedisAddr enables the asynq queue and worker; empty keeps events in-process only.
	RedisAddr string `envconfig:"REDIS_ADDR"`

	Ledger  LedgerConfig
	Gateway GatewayConfig
	Mail    MailConfig
}

type DatabaseConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" default:"wastex"`
	Password string `envconfig:"DB_PASSWORD"`
	Name     string `envconfig:"DB_NAME" default:"wastex"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	MaxConns int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns int32  `envconfig:"DB_MIN_CONNS" default:"2"`
}

func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
	}
	return u.String()
}

// LedgerConfig points at the signature ledger JSON-RPC endpoint. Mirroring is
// off when URL is empty.
type LedgerConfig struct {
	URL        string `envconfig:"LEDGER_URL"`
	Token      string `envconfig:"LEDGER_TOKEN"`
	Network    string `envconfig:"LEDGER_NETWORK" default:"sepolia"`
	TimeoutSec int    `envconfig:"LEDGER_TIMEOUT_SEC" default:"20"`
	MaxRetry   int    `envconfig:"LEDGER_MAX_RETRY" default:"8"`
}

type GatewayConfig struct {
	BaseURL string `envconfig:"GATEWAY_BASE_URL" default:"https://api.razorpay.com/v1"`
	KeyID   string `envconfig:"GATEWAY_KEY_ID"`
	Secret  string `envconfig:"GATEWAY_KEY_SECRET"`
}

type MailConfig struct {
	Provider    string `envconfig:"MAIL_PROVIDER"`
	SMTPHost    string `envconfig:"SMTP_HOST"`
	SMTPPort    string `envconfig:"SMTP_PORT"`
	SMTPUser    string `envconfig:"SMTP_USERNAME"`
	SMTPPass    string `envconfig:"SMTP_PASSWORD"`
	From        string `envconfig:"SMTP_FROM"`
	ReplyTo     string `envconfig:"MAIL_REPLY_TO"`
	PlunkAPIKey string `envconfig:"PLUNK_API_KEY"`
	PlunkURL    string `envconfig:"PLUNK_API_URL" default:"https://api.useplunk.com/v1/send"`
	AdminEmail  string `envconfig:"ADMIN_ALERT_EMAIL" default:"admin@wastex.local"`
}

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Infow(".env not found, using process environment")
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}
