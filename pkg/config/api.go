package config

import "time"

// APIConfig holds runtime configuration for the submission service.
type APIConfig struct {
	Common
	Redis
	Addr           string        `envconfig:"API_ADDR" default:":9000"`
	DatabaseURL    string        `envconfig:"DATABASE_URL"`
	MigrationsDir  string        `envconfig:"DB_MIGRATIONS_DIR"`
	AutoMigrate    bool          `envconfig:"DB_AUTO_MIGRATE" default:"true"`
	ArtifactScheme string        `envconfig:"ARTIFACT_SCHEME" default:"http"`
	ArtifactDomain string        `envconfig:"ARTIFACT_DOMAIN" default:"localhost:8000"`
	LogPattern     string        `envconfig:"LOG_CHANNEL_PATTERN" default:"logs:*"`
	LogBuffer      int           `envconfig:"WS_LOG_BUFFER" default:"100"`
	SSEHeartbeat   time.Duration `envconfig:"SSE_HEARTBEAT" default:"15s"`
	LedgerTimeout  time.Duration `envconfig:"LEDGER_TIMEOUT" default:"2s"`
	SubmitLimit    int           `envconfig:"SUBMIT_RATE_LIMIT" default:"30"`
	SubmitWindow   time.Duration `envconfig:"SUBMIT_RATE_WINDOW" default:"1m"`
	TrustedProxies []string      `envconfig:"TRUSTED_PROXIES"`
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() (APIConfig, error) {
	var cfg APIConfig
	if err := load(&cfg); err != nil {
		return APIConfig{}, err
	}
	return cfg, nil
}
