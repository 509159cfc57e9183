package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// RetrySettings is one retry budget.
type RetrySettings struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MaxElapsed  time.Duration `mapstructure:"max_elapsed"`
	MinBackoff  time.Duration `mapstructure:"min_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

type Config struct {
	Server struct {
		Addr   string `mapstructure:"addr"`
		Port   int    `mapstructure:"port"`
		APIKey string `mapstructure:"api_key"`
		Mode   string `mapstructure:"mode"` // gin mode: debug, release or test
	} `mapstructure:"server"`

	Database struct {
		Driver   string `mapstructure:"driver"` // postgres or sqlite
		DSN      string `mapstructure:"dsn"`
		MaxConns int32  `mapstructure:"max_conns"`
	} `mapstructure:"database"`

	Redis struct {
		Address  string `mapstructure:"address"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	AMQP struct {
		URL      string `mapstructure:"url"`
		Exchange string `mapstructure:"exchange"`
		Queue    string `mapstructure:"queue"`
	} `mapstructure:"amqp"`

	Dispatch struct {
		Backend     string        `mapstructure:"backend"` // local, asynq or amqp
		Concurrency int           `mapstructure:"concurrency"`
		QueueSize   int           `mapstructure:"queue_size"`
		JobTimeout  time.Duration `mapstructure:"job_timeout"`
		Queue       string        `mapstructure:"queue"` // asynq queue name
	} `mapstructure:"dispatch"`

	Retry struct {
		Extraction     RetrySettings `mapstructure:"extraction"`
		Delivery       RetrySettings `mapstructure:"delivery"`
		AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	} `mapstructure:"retry"`

	Callback struct {
		Timeout        time.Duration `mapstructure:"timeout"`
		ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
		ReadTimeout    time.Duration `mapstructure:"read_timeout"`
		IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
		MaxConnections int           `mapstructure:"max_connections"`
		MaxIdle        int           `mapstructure:"max_idle"`
		UserAgent      string        `mapstructure:"user_agent"`
	} `mapstructure:"callback"`

	Providers struct {
		Web struct {
			Engine    string        `mapstructure:"engine"` // http or browser
			Timeout   time.Duration `mapstructure:"timeout"`
			UserAgent string        `mapstructure:"user_agent"`
		} `mapstructure:"web"`
		Browser struct {
			Path     string `mapstructure:"path"`
			Proxy    string `mapstructure:"proxy"`
			Stealth  bool   `mapstructure:"stealth"`
			BlockAds bool   `mapstructure:"block_ads"`
		} `mapstructure:"browser"`
		PDF struct {
			Pdftotext string        `mapstructure:"pdftotext_path"`
			Pdfinfo   string        `mapstructure:"pdfinfo_path"`
			Timeout   time.Duration `mapstructure:"timeout"`
		} `mapstructure:"pdf"`
		Social struct {
			ApifyToken   string        `mapstructure:"apify_token"`
			BaseURL      string        `mapstructure:"base_url"`
			DefaultActor string        `mapstructure:"default_actor"`
			Timeout      time.Duration `mapstructure:"timeout"`
		} `mapstructure:"social"`
	} `mapstructure:"providers"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"` // text or json
	} `mapstructure:"log"`

	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
}

var defaults = map[string]any{
	"server.addr":    "0.0.0.0",
	"server.port":    8080,
	"server.api_key": "",
	"server.mode":    "release",

	"database.driver":    "sqlite",
	"database.dsn":       "harvest.db",
	"database.max_conns": 10,

	"redis.address":  "localhost:6379",
	"redis.password": "",
	"redis.db":       0,

	"amqp.url":      "",
	"amqp.exchange": "harvest.jobs",
	"amqp.queue":    "harvest.jobs.extraction",

	"dispatch.backend":     "local",
	"dispatch.concurrency": 4,
	"dispatch.queue_size":  256,
	"dispatch.job_timeout": "10m",
	"dispatch.queue":       "extraction",

	"retry.extraction.max_attempts": 3,
	"retry.extraction.max_elapsed":  "60s",
	"retry.extraction.min_backoff":  "1s",
	"retry.extraction.max_backoff":  "10s",
	"retry.delivery.max_attempts":   3,
	"retry.delivery.max_elapsed":    "30s",
	"retry.delivery.min_backoff":    "1s",
	"retry.delivery.max_backoff":    "10s",
	"retry.attempt_timeout":         "2m",

	"callback.timeout":         "30s",
	"callback.connect_timeout": "10s",
	"callback.read_timeout":    "30s",
	"callback.idle_timeout":    "90s",
	"callback.max_connections": 100,
	"callback.max_idle":        20,
	"callback.user_agent":      "harvest-callback/1.0",

	"providers.web.engine":           "http",
	"providers.web.timeout":          "30s",
	"providers.web.user_agent":       "Mozilla/5.0 (compatible; harvest/1.0)",
	"providers.browser.path":         "",
	"providers.browser.proxy":        "",
	"providers.browser.stealth":      true,
	"providers.browser.block_ads":    true,
	"providers.pdf.pdftotext_path":   "pdftotext",
	"providers.pdf.pdfinfo_path":     "pdfinfo",
	"providers.pdf.timeout":          "2m",
	"providers.social.apify_token":   "",
	"providers.social.base_url":      "https://api.apify.com",
	"providers.social.default_actor": "",
	"providers.social.timeout":       "5m",

	"log.level":  "info",
	"log.format": "text",

	"metrics.enabled": true,
}

// Well-known variable names accepted next to the HARVEST_ prefixed ones.
var envAliases = map[string]string{
	"server.api_key":               "API_KEY",
	"database.dsn":                 "DATABASE_URL",
	"redis.address":                "REDIS_ADDR",
	"amqp.url":                     "RABBITMQ_URL",
	"providers.social.apify_token": "APIFY_API_TOKEN",
}

// LoadConfig reads ./.env, ./config.yaml and HARVEST_* variables.
func LoadConfig() (*Config, error) {
	return Load(".")
}

// Load reads dir/.env (if present) into the process environment, then
// dir/config.yaml (optional), then the environment. Later sources win.
func Load(dir string) (*Config, error) {
	envFile := filepath.Join(dir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("error reading %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range envAliases {
		prefixed := "HARVEST_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, alias); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	return &cfg, nil
}

// ListenAddr joins server.addr and server.port.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Addr, c.Server.Port)
}
