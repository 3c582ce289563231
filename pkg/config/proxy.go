package config

import "time"

// ProxyConfig holds runtime configuration for the artifact router.
type ProxyConfig struct {
	Common
	Storage
	Addr             string        `envconfig:"PROXY_ADDR" default:":8000"`
	MetricsAddr      string        `envconfig:"PROXY_METRICS_ADDR" default:":8001"`
	DefaultProject   string        `envconfig:"PROXY_DEFAULT_PROJECT"`
	StripPrefixes    []string      `envconfig:"PROXY_STRIP_PREFIXES"`
	BreakerThreshold int           `envconfig:"STORAGE_BREAKER_THRESHOLD" default:"5"`
	BreakerTimeout   time.Duration `envconfig:"STORAGE_BREAKER_TIMEOUT" default:"10s"`
}

// LoadProxyConfig constructs a ProxyConfig from environment variables.
func LoadProxyConfig() (ProxyConfig, error) {
	var cfg ProxyConfig
	if err := load(&cfg); err != nil {
		return ProxyConfig{}, err
	}
	return cfg, nil
}
