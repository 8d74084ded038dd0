package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	ProviderRazorpay = "razorpay"
	ProviderMidtrans = "midtrans"
	ProviderDemo     = "demo"
)

type Config struct {
	Env            string   `env:"ENV" env-default:"development"`
	Port           string   `env:"PORT" env-default:"3000"`
	AppURL         string   `env:"APP_URL" env-default:"http://localhost:5173"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" env-separator:"," env-default:"http://localhost:5173"`

	Database
	Redis
	Gateway
	Course
	SMTP
	Waha
	Session
	Kafka
	Firebase
	Log
	Worker
}

type Database struct {
	URL            string `env:"DATABASE_URL"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START" env-default:"true"`
}

type Redis struct {
	URL string `env:"REDIS_URL"`
}

type Gateway struct {
	Provider              string `env:"PAYMENT_PROVIDER" env-default:"razorpay"`
	RazorpayKeyID         string `env:"RAZORPAY_KEY_ID"`
	RazorpayKeySecret     string `env:"RAZORPAY_KEY_SECRET"`
	RazorpayWebhookSecret string `env:"RAZORPAY_WEBHOOK_SECRET"`
	MidtransServerKey     string `env:"MIDTRANS_SERVER_KEY"`
	MidtransClientKey     string `env:"MIDTRANS_CLIENT_KEY"`
	MidtransIsProduction  bool   `env:"MIDTRANS_IS_PRODUCTION" env-default:"false"`
	DemoSecret            string `env:"DEMO_GATEWAY_SECRET" env-default:"demo_secret"`
}

type Course struct {
	Name              string `env:"COURSE_NAME" env-default:"Public Speaking Mastery (8-week program)"`
	PriceMinor        int64  `env:"COURSE_PRICE_MINOR" env-default:"149900"`
	Currency          string `env:"COURSE_CURRENCY" env-default:"INR"`
	WhatsappGroupLink string `env:"WHATSAPP_GROUP_LINK" env-default:"https://chat.whatsapp.com/EUs6LO0CtPi4ETAJfqKNV4"`
	SupportEmail      string `env:"SUPPORT_EMAIL" env-default:"infospeaksutra@gmail.com"`
}

type SMTP struct {
	Host          string `env:"SMTP_HOST" env-default:"smtp.gmail.com"`
	Port          string `env:"SMTP_PORT" env-default:"587"`
	User          string `env:"SMTP_USER"`
	Password      string `env:"SMTP_PASS"`
	From          string `env:"EMAIL_FROM"`
	OperatorEmail string `env:"OPERATOR_EMAIL"`
}

type Waha struct {
	BaseURL string `env:"WAHA_BASE_URL"`
	APIKey  string `env:"WAHA_API_KEY"`
}

type Session struct {
	Secret string        `env:"SESSION_SECRET"`
	TTL    time.Duration `env:"SESSION_TTL" env-default:"168h"`
}

type Kafka struct {
	Brokers []string `env:"KAFKA_BROKERS" env-separator:","`
	Topic   string   `env:"KAFKA_TOPIC" env-default:"enrollment-events"`
}

type Firebase struct {
	CredentialsPath string `env:"FIREBASE_CREDENTIALS_PATH" env-default:"./firebase-service-account.json"`
	APIKey          string `env:"FIREBASE_API_KEY"`
	AuthDomain      string `env:"FIREBASE_AUTH_DOMAIN"`
	ProjectID       string `env:"FIREBASE_PROJECT_ID"`
	// Empty allows any signed-in Firebase user.
	OperatorEmails []string `env:"OPERATOR_ALLOWED_EMAILS" env-separator:","`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" env-default:"info"`
	Format string `env:"LOG_FORMAT" env-default:"text"`
}

type Worker struct {
	Interval time.Duration `env:"WORKER_INTERVAL" env-default:"1m"`
	// Empty disables the worker's /metrics listener.
	MetricsAddr string `env:"WORKER_METRICS_ADDR" env-default:":9101"`
}

// IsProduction reports whether the service runs with production guarantees.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// WebhookSecret falls back to the key secret when no dedicated webhook secret is set.
func (g Gateway) WebhookSecret() string {
	if g.RazorpayWebhookSecret != "" {
		return g.RazorpayWebhookSecret
	}
	return g.RazorpayKeySecret
}

// Load reads the .env file (if any) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad is Load that exits the process on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// normalize applies the development fallbacks and rejects incomplete production setups.
func (c *Config) normalize() error {
	switch c.Gateway.Provider {
	case ProviderRazorpay:
		if c.RazorpayKeyID == "" || c.RazorpayKeySecret == "" {
			if c.IsProduction() {
				return fmt.Errorf("razorpay credentials are required in production")
			}
			log.Println("Warning: razorpay credentials missing, falling back to demo gateway")
			c.Gateway.Provider = ProviderDemo
		}
	case ProviderMidtrans:
		if c.MidtransServerKey == "" {
			if c.IsProduction() {
				return fmt.Errorf("midtrans server key is required in production")
			}
			log.Println("Warning: midtrans server key missing, falling back to demo gateway")
			c.Gateway.Provider = ProviderDemo
		} else if !strings.EqualFold(c.Course.Currency, "IDR") {
			// Snap charges whole rupiah only.
			return fmt.Errorf("midtrans requires COURSE_CURRENCY=IDR, got %q", c.Course.Currency)
		}
	case ProviderDemo:
		if c.IsProduction() {
			return fmt.Errorf("demo gateway cannot be used in production")
		}
	default:
		return fmt.Errorf("unknown PAYMENT_PROVIDER %q", c.Gateway.Provider)
	}

	if c.IsProduction() {
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if c.Session.Secret == "" {
			return fmt.Errorf("SESSION_SECRET is required in production")
		}
	}
	if c.Session.Secret == "" {
		log.Println("Warning: SESSION_SECRET not set, using an insecure development secret")
		c.Session.Secret = "dev-session-secret"
	}
	if c.Course.PriceMinor <= 0 {
		return fmt.Errorf("COURSE_PRICE_MINOR must be positive")
	}
	return nil
}
