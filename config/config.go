// Package config loads the connector's runtime configuration: dial target,
// TLS settings, client identity, flow-control tuning, and reconnect backoff.
//
// Grounded on the teacher's config.Load, which layers a base YAML file, an
// optional environment-specific overlay, and environment variable
// overrides through github.com/spf13/viper; this package keeps that same
// three-layer precedence and TLSConfig shape.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// TLSConfig mirrors the teacher's server.tls block, applied here to the
// outbound dial instead of an inbound listener.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	CAFile   string `mapstructure:"ca_file"`
}

// IdentityConfig stamps every outbound frame.
type IdentityConfig struct {
	ClientID      string `mapstructure:"client_id"`
	ComponentName string `mapstructure:"component_name"`
}

// FlowControlConfig configures a channel's permit-based inbound grant.
type FlowControlConfig struct {
	Permits     int64 `mapstructure:"permits"`
	RefillBatch int64 `mapstructure:"refill_batch"`
}

// Config is the connector's top-level configuration.
type Config struct {
	Server struct {
		Target string    `mapstructure:"target"`
		TLS    TLSConfig `mapstructure:"tls"`
	} `mapstructure:"server"`
	Identity    IdentityConfig    `mapstructure:"identity"`
	FlowControl FlowControlConfig `mapstructure:"flow_control"`
	// ReconnectBackoffMS is the interval the reconnect supervisor waits
	// between a connection loss and the next connect attempt.
	ReconnectBackoffMS int `mapstructure:"reconnect_backoff_ms"`
}

// Backoff returns ReconnectBackoffMS as a time.Duration.
func (c *Config) Backoff() time.Duration {
	return time.Duration(c.ReconnectBackoffMS) * time.Millisecond
}

// Load reads cfgFile (or ./config.yaml / ./config/config.yaml if empty),
// merges an optional config.<env>.yaml overlay, and applies AXONCONNECT_*
// environment variable overrides.
func Load(cfgFile, env string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.target", "127.0.0.1:8124")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("identity.client_id", "axonconnect-client")
	v.SetDefault("identity.component_name", "axonconnect")
	v.SetDefault("flow_control.permits", 5000)
	v.SetDefault("flow_control.refill_batch", 2500)
	v.SetDefault("reconnect_backoff_ms", 2000)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	if env != "" {
		v.SetConfigName(fmt.Sprintf("config.%s", env))
		_ = v.MergeInConfig()
	}

	v.SetEnvPrefix("AXONCONNECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &cfg, nil
}
