package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds everything the fetcher reads from the environment. A .env file
// is honored when present; real deployments set the variables directly.
type Config struct {
	SupabaseURL        string `envconfig:"SUPABASE_URL" required:"true"`
	SupabaseServiceKey string `envconfig:"SUPABASE_SERVICE_ROLE_KEY" required:"true"`
	SentryDSN          string `envconfig:"SENTRY_DSN"`
	Release            string `envconfig:"RELEASE"`

	// Regions whose courses this instance is responsible for.
	RegionIDs []int `envconfig:"REGION_IDS" required:"true"`

	// Concurrency bounds the worker pool; FlushEvery bounds how many
	// un-persisted results may accumulate before a flush.
	Concurrency     int `envconfig:"FETCH_CONCURRENCY" default:"5"`
	FlushEvery      int `envconfig:"FLUSH_EVERY" default:"20"`
	UpsertBatchSize int `envconfig:"UPSERT_BATCH_SIZE" default:"100"`

	// Optional rotating proxy pool; empty means direct connections.
	ProxyURLs []string `envconfig:"PROXY_URLS"`

	// CPS service-account credentials for courses with requires_login.
	CPSUsername     string `envconfig:"CPS_USERNAME"`
	CPSPassword     string `envconfig:"CPS_PASSWORD"`
	CPSClientID     string `envconfig:"CPS_CLIENT_ID" default:"js1"`
	CPSClientSecret string `envconfig:"CPS_CLIENT_SECRET"`

	// Pinged once after a completed run so the cron monitor sees a heartbeat.
	CronCheckURL string `envconfig:"CRON_CHECK_URL"`

	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`
}

func Load() (*Config, error) {
	// Missing .env is fine; system environment wins either way.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}
