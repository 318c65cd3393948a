// Package config loads the relay's runtime configuration (SPEC_FULL §1)
// from environment variables and an optional file, via Viper — the
// teacher's go.mod carries spf13/viper and spf13/pflag for exactly this
// purpose even though its own config loader wasn't part of the retrieved
// reference set; this package fills that gap in the teacher's own idiom.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved runtime configuration (spec §6
// "Environment").
type Config struct {
	ListenAddr string

	DatabaseURL string

	KVRestURL   string
	KVRestToken string

	AMQPURI string

	// VAPIDPublicKey is carried for parity with the environment surface
	// (spec §6) but push notifications are out of core (spec §1).
	VAPIDPublicKey string

	IdleExpiry       time.Duration
	StaleExpiry      time.Duration
	RecencyWindow    time.Duration
	CleanupEntryTTL  time.Duration
	CleanupDrainTick time.Duration

	HubEvictionInterval time.Duration
	HubIdleTimeout      time.Duration
	HubMailboxSize      int
}

// Load reads flags, environment variables (PARKBEAT_*), and an optional
// config file into a Config, applying spec-mandated defaults for every
// timing constant.
func Load(args []string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PARKBEAT")
	v.AutomaticEnv()

	flags := pflag.NewFlagSet("parkbeat-relay", pflag.ContinueOnError)
	flags.String("config-file", "", "path to an optional YAML/TOML config file")
	flags.String("listen-addr", ":8080", "HTTP/WebSocket listen address")
	if err := flags.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("config: bind flags: %w", err)
	}

	if file, _ := flags.GetString("config-file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read config file %s: %w", file, err)
		}
	}

	v.SetDefault("idle-expiry", 15*time.Second)
	v.SetDefault("stale-expiry", 20*time.Second)
	v.SetDefault("recency-window", 15*time.Second)
	v.SetDefault("cleanup-entry-ttl", 24*time.Hour)
	v.SetDefault("cleanup-drain-tick", 30*time.Second)
	v.SetDefault("hub-eviction-interval", time.Minute)
	v.SetDefault("hub-idle-timeout", 5*time.Minute)
	v.SetDefault("hub-mailbox-size", 256)

	cfg := &Config{
		ListenAddr:          v.GetString("listen-addr"),
		DatabaseURL:         v.GetString("database_url"),
		KVRestURL:           v.GetString("kv_rest_url"),
		KVRestToken:         v.GetString("kv_rest_token"),
		AMQPURI:             v.GetString("amqp_uri"),
		VAPIDPublicKey:      v.GetString("vapid_public_key"),
		IdleExpiry:          v.GetDuration("idle-expiry"),
		StaleExpiry:         v.GetDuration("stale-expiry"),
		RecencyWindow:       v.GetDuration("recency-window"),
		CleanupEntryTTL:     v.GetDuration("cleanup-entry-ttl"),
		CleanupDrainTick:    v.GetDuration("cleanup-drain-tick"),
		HubEvictionInterval: v.GetDuration("hub-eviction-interval"),
		HubIdleTimeout:      v.GetDuration("hub-idle-timeout"),
		HubMailboxSize:      v.GetInt("hub-mailbox-size"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	if c.KVRestURL == "" {
		return fmt.Errorf("config: KV_REST_URL is required")
	}
	return nil
}
