package store

import (
	"time"

	"ghstrata/internal/platform/config"
)

// Config aggregates per backend configuration
type Config struct {
	AppName string

	CH CHConfig
}

// CHConfig configures clickhouse connectivity
type CHConfig struct {
	Enabled bool
	URL     string

	// Guard/boot knobs
	ConnectRetries int           // default 6
	PingTimeout    time.Duration // default 3s
}

// ConfigFromEnv reads GHSTRATA_CH_URL; an empty URL leaves clickhouse disabled
func ConfigFromEnv(cfg config.Conf, app string) Config {
	c := cfg.Prefix("GHSTRATA_CH_")
	url := c.MayString("URL", "")
	return Config{
		AppName: app,
		CH: CHConfig{
			Enabled:        url != "",
			URL:            url,
			ConnectRetries: c.MayInt("CONNECT_RETRIES", 6),
			PingTimeout:    c.MayDuration("PING_TIMEOUT", 3*time.Second),
		},
	}
}
