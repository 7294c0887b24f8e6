package config

import (
	"errors"
	"strings"
	"time"

	libconfig "voltlink/libs/config"
	"voltlink/internal/client/control"
	"voltlink/internal/client/watch"
)

// Stream channel selection for push-based convergence.
const (
	StreamSSE    = "sse"
	StreamNDJSON = "ndjson"
	StreamWS     = "ws"
)

// Config defines the client-side configuration.
type Config struct {
	Relay struct {
		BaseURL string        `yaml:"baseUrl" env:"VOLTLINK_RELAY_URL"`
		Token   string        `yaml:"token" env:"VOLTLINK_RELAY_TOKEN"`
		Timeout time.Duration `yaml:"timeout" env:"VOLTLINK_HTTP_TIMEOUT"`
	} `yaml:"relay"`
	Charging struct {
		DefaultIDTag      string        `yaml:"defaultIdTag" env:"VOLTLINK_DEFAULT_ID_TAG"`
		DebounceWindow    time.Duration `yaml:"debounceWindow" env:"VOLTLINK_DEBOUNCE_WINDOW"`
		StartTimeout      time.Duration `yaml:"startTimeout" env:"VOLTLINK_START_TIMEOUT"`
		StopTimeout       time.Duration `yaml:"stopTimeout" env:"VOLTLINK_STOP_TIMEOUT"`
		ReconcileInterval time.Duration `yaml:"reconcileInterval" env:"VOLTLINK_RECONCILE_INTERVAL"`
		Precheck          bool          `yaml:"precheck" env:"VOLTLINK_PRECHECK"`
	} `yaml:"charging"`
	Stream string `yaml:"stream" env:"VOLTLINK_STREAM"`
}

// Load configuration via the shared helper.
func Load() (*Config, error) {
	cfg := &Config{Stream: StreamSSE}
	if err := libconfig.Load(cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Relay.BaseURL) == "" {
		return nil, errors.New("config: relay base url required")
	}
	switch cfg.Stream {
	case StreamSSE, StreamNDJSON, StreamWS:
	default:
		return nil, errors.New("config: stream must be sse, ndjson or ws")
	}
	return cfg, nil
}

// HTTPTimeout returns the request timeout for non-streaming calls.
func (c *Config) HTTPTimeout() time.Duration {
	if c.Relay.Timeout <= 0 {
		return 10 * time.Second
	}
	return c.Relay.Timeout
}

// ControlConfig maps onto the orchestrator configuration for one charge box.
func (c *Config) ControlConfig(chargeBoxID string) control.Config {
	return control.Config{
		ChargeBoxID:       chargeBoxID,
		DefaultIDTag:      c.Charging.DefaultIDTag,
		DebounceWindow:    c.Charging.DebounceWindow,
		StartTimeout:      c.Charging.StartTimeout,
		StopTimeout:       c.Charging.StopTimeout,
		ReconcileInterval: c.Charging.ReconcileInterval,
		PrecheckStatus:    c.Charging.Precheck,
	}
}

// WatchConfig returns the convergence polling cadence (defaults apply).
func (c *Config) WatchConfig() watch.Config {
	return watch.Config{}
}
