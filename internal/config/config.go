package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	APIAddr string `env:"API_ADDR" envDefault:":8080"`

	PostgresDSN   string `env:"POSTGRES_DSN,notEmpty"`
	RedisURL      string `env:"REDIS_URL"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	// Internal jobs API (notification/billing/export endpoints).
	InternalAPIBase string `env:"INTERNAL_API_BASE" envDefault:"http://localhost:3000"`
	InternalAPIKey  string `env:"INTERNAL_API_KEY"`

	// Storage service used for signed URLs and uploads.
	StorageServiceURL string `env:"STORAGE_SERVICE_URL" envDefault:"http://localhost:9000"`
	StorageServiceKey string `env:"STORAGE_SERVICE_KEY"`

	// Office (LibreOffice) conversion service.
	ConversionBaseURL string `env:"CONVERSION_BASE_URL"`
	GotenbergUsername string `env:"GOTENBERG_USERNAME"`
	GotenbergPassword string `env:"GOTENBERG_PASSWORD"`

	// CAD/Keynote task-pipeline conversion API.
	ConvertAPIURL string `env:"CONVERT_API_URL"`
	ConvertAPIKey string `env:"CONVERT_API_KEY"`

	// Cache revalidation hook called after pages are enabled.
	RevalidateURL   string `env:"REVALIDATE_URL"`
	RevalidateToken string `env:"REVALIDATE_TOKEN"`

	// Optional webhook delivery audit sink. Absent token disables auditing.
	WebhookAuditURL   string `env:"WEBHOOK_AUDIT_URL" envDefault:"https://api.tinybird.co"`
	WebhookAuditToken string `env:"WEBHOOK_AUDIT_TOKEN"`

	MarketingURL string `env:"MARKETING_URL" envDefault:"https://www.docpipe.io"`

	LockTimeout time.Duration `env:"LOCK_TIMEOUT" envDefault:"30s"`
}

func Load() Config {
	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}
	return c
}
