package config

import "time"

// BuilderConfig holds runtime configuration for the build worker.
type BuilderConfig struct {
	Common
	Redis
	Storage
	Addr                string        `envconfig:"BUILDER_ADDR" default:":5000"`
	WorkerID            string        `envconfig:"BUILDER_ID"`
	Concurrency         int           `envconfig:"BUILDER_CONCURRENCY" default:"1"`
	Workdir             string        `envconfig:"BUILDER_WORKDIR" default:"/tmp/minivercel/output"`
	GitTimeout          time.Duration `envconfig:"GIT_TIMEOUT" default:"60s"`
	BuildTimeout        time.Duration `envconfig:"BUILD_TIMEOUT" default:"10m"`
	Runner              string        `envconfig:"BUILD_RUNNER" default:"host"`
	DockerHost          string        `envconfig:"DOCKER_HOST"`
	BuildImage          string        `envconfig:"BUILD_IMAGE" default:"node:20-alpine"`
	Manifest            string        `envconfig:"BUILD_MANIFEST" default:"package.json"`
	InstallCommand      string        `envconfig:"INSTALL_COMMAND" default:"npm install"`
	BuildCommand        string        `envconfig:"BUILD_COMMAND" default:"npm run build"`
	OutputDir           string        `envconfig:"BUILD_OUTPUT_DIR" default:"build"`
	BuildEnv            []string      `envconfig:"BUILD_ENV" default:"NODE_OPTIONS=--openssl-legacy-provider"`
	PruneStale          bool          `envconfig:"PRUNE_STALE_ARTIFACTS" default:"true"`
	LeaseTTL            time.Duration `envconfig:"LEASE_TTL" default:"30s"`
	LeaseWait           time.Duration `envconfig:"LEASE_WAIT" default:"10m"`
	LeasePollInterval   time.Duration `envconfig:"LEASE_POLL_INTERVAL" default:"2s"`
	DequeueRetryBackoff time.Duration `envconfig:"DEQUEUE_RETRY_BACKOFF" default:"1s"`
}

// LoadBuilderConfig constructs a BuilderConfig from environment variables.
func LoadBuilderConfig() (BuilderConfig, error) {
	var cfg BuilderConfig
	if err := load(&cfg); err != nil {
		return BuilderConfig{}, err
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return cfg, nil
}
