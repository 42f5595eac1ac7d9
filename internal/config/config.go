// Package config loads server configuration from an optional YAML file
// with environment-variable overlay. The one hard requirement is
// SLACK_TOKEN, the comma-separated set of accepted shared secrets:
// without it the process refuses to start.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Server struct {
		Addr string `yaml:"addr"`
		// BaseURL is the externally visible URL used in redemption links.
		BaseURL   string `yaml:"base_url"`
		StaticDir string `yaml:"static_dir"`
	} `yaml:"server"`

	Couch struct {
		URL      string `yaml:"url"`
		TicketDB string `yaml:"ticket_db"`
		EventsDB string `yaml:"events_db"`
	} `yaml:"couch"`

	Slack struct {
		// Tokens come exclusively from the SLACK_TOKEN environment
		// variable, comma-separated. Mandatory.
		Tokens []string `yaml:"-"`
	} `yaml:"-"`

	Admin struct {
		// JWTSecret signs and verifies the bearer tokens guarding
		// /admin/stats. Empty disables the endpoint.
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"admin"`

	Cache struct {
		Driver   string `yaml:"driver"` // memory | redis
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"cache"`

	Rate struct {
		WebhookMax    int           `yaml:"webhook_max"`
		WebhookWindow time.Duration `yaml:"webhook_window"`
	} `yaml:"rate"`

	SMTP struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		From     string `yaml:"from"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"smtp"`
}

// ErrNoSharedSecrets reports a missing SLACK_TOKEN.
var ErrNoSharedSecrets = errors.New("config: SLACK_TOKEN environment variable is required")

// Load reads the YAML file at path (missing file is fine, env-only
// setups are supported), applies defaults and the environment overlay,
// and validates the result.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return nil, err
			}
		case os.IsNotExist(err):
			// env-only
		default:
			return nil, err
		}
	}

	// sane defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.StaticDir == "" {
		c.Server.StaticDir = "public"
	}
	if c.Couch.TicketDB == "" {
		c.Couch.TicketDB = "so"
	}
	if c.Couch.EventsDB == "" {
		c.Couch.EventsDB = "events"
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = "memory"
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "dutydesk"
	}
	if c.Rate.WebhookMax == 0 {
		c.Rate.WebhookMax = 30
	}
	if c.Rate.WebhookWindow == 0 {
		c.Rate.WebhookWindow = time.Minute
	}
	if c.App.Env == "" {
		c.App.Env = "dev"
	}

	// env overlay
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = v
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := getEnvStr("ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("PORT"); ok {
		c.Server.Addr = ":" + v
	}
	if v, ok := getEnvStr("BASE_URL"); ok {
		c.Server.BaseURL = v
	}
	if v, ok := getEnvStr("COUCH_URL"); ok {
		c.Couch.URL = v
	}
	if v, ok := getEnvStr("COUCH_TICKET_DB"); ok {
		c.Couch.TicketDB = v
	}
	if v, ok := getEnvStr("COUCH_EVENTS_DB"); ok {
		c.Couch.EventsDB = v
	}
	if v, ok := getEnvStr("ADMIN_JWT_SECRET"); ok {
		c.Admin.JWTSecret = v
	}
	if v, ok := getEnvStr("CACHE_DRIVER"); ok {
		c.Cache.Driver = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Addr = v
	}
	if v, ok := getEnvInt("RATE_WEBHOOK_MAX"); ok {
		c.Rate.WebhookMax = v
	}
	if v, ok := getEnvCSV("SLACK_TOKEN"); ok {
		c.Slack.Tokens = v
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = "http://localhost" + c.Server.Addr
	}

	if len(c.Slack.Tokens) == 0 {
		return nil, ErrNoSharedSecrets
	}
	return &c, nil
}

// ---- env helpers ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvCSV(key string) ([]string, bool) {
	s, ok := getEnvStr(key)
	if !ok {
		return nil, false
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, len(out) > 0
}
