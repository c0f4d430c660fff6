package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	FEC        FECConfig        `yaml:"fec" mapstructure:"fec"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Enrich     EnrichConfig     `yaml:"enrich" mapstructure:"enrich"`
	Airtable   AirtableConfig   `yaml:"airtable" mapstructure:"airtable"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Sync       SyncConfig       `yaml:"sync" mapstructure:"sync"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// FECConfig holds OpenFEC API settings and the upstream call policy.
type FECConfig struct {
	APIKey       string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	PageSize     int    `yaml:"page_size" mapstructure:"page_size"`
	CallDelayMs  int    `yaml:"call_delay_ms" mapstructure:"call_delay_ms"`
	CooldownSecs int    `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
	MaxAttempts  int    `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// IngestConfig lists the candidate categories walked by a backfill.
type IngestConfig struct {
	Cycles  []int    `yaml:"cycles" mapstructure:"cycles"`
	Parties []string `yaml:"parties" mapstructure:"parties"`
	Offices []string `yaml:"offices" mapstructure:"offices"`
}

// EnrichConfig bounds enrichment passes.
type EnrichConfig struct {
	BatchSize    int `yaml:"batch_size" mapstructure:"batch_size"`
	MaxBatchSize int `yaml:"max_batch_size" mapstructure:"max_batch_size"`
}

// AirtableConfig holds Airtable credentials and table names.
type AirtableConfig struct {
	Token           string `yaml:"token" mapstructure:"token"`
	BaseID          string `yaml:"base_id" mapstructure:"base_id"`
	BaseURL         string `yaml:"base_url" mapstructure:"base_url"`
	CandidatesTable string `yaml:"candidates_table" mapstructure:"candidates_table"`
	FilingsTable    string `yaml:"filings_table" mapstructure:"filings_table"`
}

// NotionConfig holds Notion API credentials and database IDs.
type NotionConfig struct {
	Token        string `yaml:"token" mapstructure:"token"`
	CandidatesDB string `yaml:"candidates_db" mapstructure:"candidates_db"`
	FilingsDB    string `yaml:"filings_db" mapstructure:"filings_db"`
}

// SyncConfig selects the downstream workspace.
type SyncConfig struct {
	Target string `yaml:"target" mapstructure:"target"`
}

// ServerConfig configures the job server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig controls run-health alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	UnitErrorThreshold   int     `yaml:"unit_error_threshold" mapstructure:"unit_error_threshold"`
	StaleRunHours        int     `yaml:"stale_run_hours" mapstructure:"stale_run_hours"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("fec.api_key", "")
	v.SetDefault("fec.base_url", "https://api.open.fec.gov/v1")
	v.SetDefault("fec.page_size", 100)
	v.SetDefault("fec.call_delay_ms", 250)
	v.SetDefault("fec.cooldown_secs", 10)
	v.SetDefault("fec.max_attempts", 3)
	v.SetDefault("ingest.cycles", []int{2026})
	v.SetDefault("ingest.parties", []string{"DEM", "IND"})
	v.SetDefault("ingest.offices", []string{"H", "S", "P"})
	v.SetDefault("enrich.batch_size", 25)
	v.SetDefault("enrich.max_batch_size", 100)
	v.SetDefault("airtable.token", "")
	v.SetDefault("airtable.base_id", "")
	v.SetDefault("airtable.base_url", "https://api.airtable.com/v0")
	v.SetDefault("airtable.candidates_table", "Candidates")
	v.SetDefault("airtable.filings_table", "Filings")
	v.SetDefault("notion.token", "")
	v.SetDefault("notion.candidates_db", "")
	v.SetDefault("notion.filings_db", "")
	v.SetDefault("sync.target", "airtable")
	v.SetDefault("store.database_url", "")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.unit_error_threshold", 50)
	v.SetDefault("monitoring.stale_run_hours", 6)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode needs. Modes: "migrate",
// "ingest", "enrich", "sync", "serve". All problems are reported at once.
func (c *Config) Validate(mode string) error {
	var errs []string

	needStore := func() {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required")
			}
		case "sqlite":
		default:
			errs = append(errs, fmt.Sprintf("store.driver %q must be postgres or sqlite", c.Store.Driver))
		}
	}
	needFEC := func() {
		if c.FEC.APIKey == "" {
			errs = append(errs, "fec.api_key is required")
		}
		if c.FEC.PageSize < 1 || c.FEC.PageSize > 100 {
			errs = append(errs, "fec.page_size must be between 1 and 100")
		}
		if c.FEC.CallDelayMs < 0 {
			errs = append(errs, "fec.call_delay_ms must be >= 0")
		}
		if c.FEC.MaxAttempts < 1 {
			errs = append(errs, "fec.max_attempts must be >= 1")
		}
	}
	needEnrich := func() {
		if c.Enrich.MaxBatchSize < 1 {
			errs = append(errs, "enrich.max_batch_size must be >= 1")
		}
		if c.Enrich.BatchSize < 1 || c.Enrich.BatchSize > c.Enrich.MaxBatchSize {
			errs = append(errs, "enrich.batch_size must be between 1 and enrich.max_batch_size")
		}
	}
	needTarget := func() {
		switch c.Sync.Target {
		case "airtable":
			if c.Airtable.Token == "" {
				errs = append(errs, "airtable.token is required")
			}
			if c.Airtable.BaseID == "" {
				errs = append(errs, "airtable.base_id is required")
			}
		case "notion":
			if c.Notion.Token == "" {
				errs = append(errs, "notion.token is required")
			}
			if c.Notion.CandidatesDB == "" || c.Notion.FilingsDB == "" {
				errs = append(errs, "notion.candidates_db and notion.filings_db are required")
			}
		default:
			errs = append(errs, fmt.Sprintf("sync.target %q must be airtable or notion", c.Sync.Target))
		}
	}

	switch mode {
	case "migrate":
		needStore()
	case "ingest":
		needStore()
		needFEC()
	case "enrich":
		needStore()
		needFEC()
		needEnrich()
	case "sync":
		needStore()
		needTarget()
	case "serve":
		needStore()
		needFEC()
		needEnrich()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
