// Package config loads and validates the relay's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultPaths are searched in order when no explicit path is given.
var DefaultPaths = []string{"config.yml", "configs/config.yml"}

// ErrMultipleFeeds is returned when more than one upstream feed URL is set.
var ErrMultipleFeeds = errors.New("provide at most one of feed.gtfsrtURL, feed.siriXmlURL, feed.siriJsonURL")

// Load reads the configuration at path. With an empty path the
// DefaultPaths are tried and, when none exists, defaults are returned.
func Load(path string) (AppConfig, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return AppConfig{}, fmt.Errorf("read config %s: %w", path, err)
		}
		data = b
	} else {
		for _, p := range DefaultPaths {
			b, err := os.ReadFile(p)
			if err == nil {
				data = b
				break
			}
			if !errors.Is(err, fs.ErrNotExist) {
				return AppConfig{}, fmt.Errorf("read config %s: %w", p, err)
			}
		}
	}
	return Parse(data)
}

// Parse decodes, defaults and validates YAML configuration. Empty input
// yields the defaults.
func Parse(data []byte) (AppConfig, error) {
	var cfg AppConfig
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := validator.New().Struct(cfg); err != nil {
		return AppConfig{}, fmt.Errorf("validate config: %w", err)
	}
	if cfg.Feed.count() > 1 {
		return AppConfig{}, ErrMultipleFeeds
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeoutMS == 0 {
		cfg.Server.ShutdownTimeoutMS = 10000
	}
	if cfg.Relay.SkewToleranceMS == 0 {
		cfg.Relay.SkewToleranceMS = 5000
	}
	if cfg.Relay.ReapQueueSize == 0 {
		cfg.Relay.ReapQueueSize = 256
	}
	if cfg.WebSocket.SendQueueSize == 0 {
		cfg.WebSocket.SendQueueSize = 64
	}
	if cfg.WebSocket.WriteTimeoutMS == 0 {
		cfg.WebSocket.WriteTimeoutMS = 10000
	}
	if cfg.WebSocket.PongTimeoutMS == 0 {
		cfg.WebSocket.PongTimeoutMS = 60000
	}
	if cfg.WebSocket.PingIntervalMS == 0 {
		cfg.WebSocket.PingIntervalMS = cfg.WebSocket.PongTimeoutMS * 9 / 10
	}
	if cfg.Feed.RefreshMinSecs == 0 {
		cfg.Feed.RefreshMinSecs = 10
	}
	if cfg.Feed.TimeoutMS == 0 {
		cfg.Feed.TimeoutMS = 10000
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "bus-locations"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "busrelay"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Tracing.Enabled && cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = 1
	}
}

func (f FeedConfig) count() int {
	n := 0
	for _, u := range []string{f.GTFSRTURL, f.SiriXMLURL, f.SiriJSONURL} {
		if u != "" {
			n++
		}
	}
	return n
}

// Enabled reports whether an upstream feed is configured.
func (f FeedConfig) Enabled() bool { return f.count() > 0 }

// Enabled reports whether Kafka brokers are configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// Duration accessors for the millisecond and second config fields.
func (s ServerConfig) ShutdownTimeout() time.Duration { return ms(s.ShutdownTimeoutMS) }
func (r RelayConfig) SkewTolerance() time.Duration    { return ms(r.SkewToleranceMS) }
func (w WebSocketConfig) WriteTimeout() time.Duration { return ms(w.WriteTimeoutMS) }
func (w WebSocketConfig) PongTimeout() time.Duration  { return ms(w.PongTimeoutMS) }
func (w WebSocketConfig) PingInterval() time.Duration { return ms(w.PingIntervalMS) }
func (f FeedConfig) Timeout() time.Duration           { return ms(f.TimeoutMS) }

// OfflineAfter is how long a bus may stay silent before it is announced
// offline. Zero disables the sweep.
func (r RelayConfig) OfflineAfter() time.Duration {
	return time.Duration(r.OfflineAfterSecs) * time.Second
}

func (m MetadataConfig) RefreshInterval() time.Duration {
	return time.Duration(m.RefreshIntervalSecs) * time.Second
}
