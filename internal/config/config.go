// Package config loads the YAML deployment configuration and watches it
// for changes so the rate-limit table can be adjusted without a restart.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/technosupport/flowforge/internal/middleware"
	"github.com/technosupport/flowforge/internal/ratelimit"
)

const defaultWindow = time.Minute

// Config is the root shape of config/default.yaml.
type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	NATS struct {
		URL             string `yaml:"url"`
		WorkflowSubject string `yaml:"workflow_subject"`
		PublishRetryMax int    `yaml:"publish_retry_max"`
	} `yaml:"nats"`

	JWT struct {
		Secret          string `yaml:"secret"`
		AccessTTLSec    int    `yaml:"access_ttl_seconds"`
		RefreshTTLHours int    `yaml:"refresh_ttl_hours"`
	} `yaml:"jwt"`

	RateLimit middleware.Config     `yaml:"rate_limit"`
	CORS      middleware.CORSConfig `yaml:"cors"`

	Container struct {
		Binary        string            `yaml:"binary"`
		FallbackImage string            `yaml:"fallback_image"`
		Images        map[string]string `yaml:"images"`
	} `yaml:"container"`

	Audit struct {
		SpoolDir string `yaml:"spool_dir"`
	} `yaml:"audit"`
}

func withDefaults(c Config) Config {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.JWT.AccessTTLSec <= 0 {
		c.JWT.AccessTTLSec = 900
	}
	if c.JWT.RefreshTTLHours <= 0 {
		c.JWT.RefreshTTLHours = 24 * 7
	}
	if c.NATS.WorkflowSubject == "" {
		c.NATS.WorkflowSubject = "flowforge.workflow.executed"
	}
	if c.RateLimit.GlobalIP.Rate == 0 {
		c.RateLimit.GlobalIP = ratelimit.LimitConfig{Rate: 600, Window: defaultWindow}
	}
	if c.RateLimit.User.Rate == 0 {
		c.RateLimit.User = ratelimit.LimitConfig{Rate: 300, Window: defaultWindow}
	}
	if c.RateLimit.Login.Rate == 0 {
		c.RateLimit.Login = ratelimit.LimitConfig{Rate: 10, Window: defaultWindow}
	}
	return c
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, err
	}
	return withDefaults(c), nil
}
