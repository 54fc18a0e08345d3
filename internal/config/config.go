package config

import (
	"fmt"
	"os"
	"strconv"
)

// Server holds the HTTP listener settings
type Server struct {
	Port              string
	JobToken          string // shared secret guarding the batch job endpoints
	RequestTimeoutSec int
}

// Database holds the postgres connection settings
type Database struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// Quotes holds the external quote source settings
type Quotes struct {
	CookieURL            string
	CrumbURL             string
	QuoteURL             string
	CredentialTTLMinutes int
}

// Feeds holds the directory feed endpoints, in merge priority order
type Feeds struct {
	PrimaryURL   string
	SecondaryURL string
}

// Jobs holds the bounded batch job settings. Values outside their bounds are
// clamped, never rejected.
type Jobs struct {
	FetchBatchSize          int // [1,500]
	MinFetchIntervalMinutes int // [1,1440]
	ErrorBackoffMinutes     int // [1,1440]
	MetricsBatchSize        int // [1,500]
	MetricsWorkers          int // [1,16]
}

// Config is the full service configuration
type Config struct {
	Server   Server
	Database Database
	Quotes   Quotes
	Feeds    Feeds
	Jobs     Jobs
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Server: Server{
			Port:              "8080",
			RequestTimeoutSec: 30,
		},
		Database: Database{
			Host:    "localhost",
			Port:    "5432",
			User:    "postgres",
			Name:    "stocklens",
			SSLMode: "disable",
		},
		Quotes: Quotes{
			CookieURL:            "https://fc.yahoo.com",
			CrumbURL:             "https://query1.finance.yahoo.com/v1/test/getcrumb",
			QuoteURL:             "https://query1.finance.yahoo.com/v7/finance/quote",
			CredentialTTLMinutes: 360,
		},
		Feeds: Feeds{
			PrimaryURL:   "https://www.nasdaqtrader.com/dynamic/symdir/nasdaqlisted.txt",
			SecondaryURL: "https://www.nasdaqtrader.com/dynamic/symdir/otherlisted.txt",
		},
		Jobs: Jobs{
			FetchBatchSize:          25,
			MinFetchIntervalMinutes: 30,
			ErrorBackoffMinutes:     60,
			MetricsBatchSize:        50,
			MetricsWorkers:          1,
		},
	}
}

// Load builds the configuration from defaults plus environment overrides
func Load() Config {
	cfg := Default()

	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Server.JobToken, "JOB_TOKEN")
	cfg.Server.RequestTimeoutSec = ClampInt("REQUEST_TIMEOUT_SEC", cfg.Server.RequestTimeoutSec, 1, 300)

	setString(&cfg.Database.Host, "DB_HOST")
	setString(&cfg.Database.Port, "DB_PORT")
	setString(&cfg.Database.User, "DB_USER")
	setString(&cfg.Database.Password, "DB_PASSWORD")
	setString(&cfg.Database.Name, "DB_NAME")
	setString(&cfg.Database.SSLMode, "DB_SSLMODE")

	setString(&cfg.Quotes.CookieURL, "QUOTES_COOKIE_URL")
	setString(&cfg.Quotes.CrumbURL, "QUOTES_CRUMB_URL")
	setString(&cfg.Quotes.QuoteURL, "QUOTES_QUOTE_URL")
	cfg.Quotes.CredentialTTLMinutes = ClampInt("QUOTES_CREDENTIAL_TTL_MIN", cfg.Quotes.CredentialTTLMinutes, 1, 10080)

	setString(&cfg.Feeds.PrimaryURL, "FEEDS_PRIMARY_URL")
	setString(&cfg.Feeds.SecondaryURL, "FEEDS_SECONDARY_URL")

	cfg.Jobs.FetchBatchSize = ClampInt("FETCH_BATCH_SIZE", cfg.Jobs.FetchBatchSize, 1, 500)
	cfg.Jobs.MinFetchIntervalMinutes = ClampInt("MIN_FETCH_INTERVAL_MIN", cfg.Jobs.MinFetchIntervalMinutes, 1, 1440)
	cfg.Jobs.ErrorBackoffMinutes = ClampInt("ERROR_BACKOFF_MIN", cfg.Jobs.ErrorBackoffMinutes, 1, 1440)
	cfg.Jobs.MetricsBatchSize = ClampInt("METRICS_BATCH_SIZE", cfg.Jobs.MetricsBatchSize, 1, 500)
	cfg.Jobs.MetricsWorkers = ClampInt("METRICS_WORKERS", cfg.Jobs.MetricsWorkers, 1, 16)

	return cfg
}

// ConnString renders the database settings as a lib/pq connection string.
// DB_CONN_STR, when set, wins over the individual parts (Docker friendly).
func (d Database) ConnString() string {
	if v := os.Getenv("DB_CONN_STR"); v != "" {
		return v
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// ClampInt reads an integer setting from the environment and clamps it into
// [min, max]. The default is used when the variable is unset or unparsable;
// the default itself is clamped too.
func ClampInt(name string, def, min, max int) int {
	v := def
	if raw := os.Getenv(name); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			v = parsed
		}
	}
	return Clamp(v, min, max)
}

// Clamp bounds v into [min, max]
func Clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func setString(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}
