// Package config loads the engine's YAML configuration file, applies
// defaults for omitted fields, and layers environment-variable
// overrides on top. Watch re-reads the file when it changes and passes
// the new Config to a callback; cmd/scrapecoord does not call it, so a
// running process keeps the Config it loaded at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Port          string `yaml:"port"`
	ServiceSecret string `yaml:"serviceSecret"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

type JobStoreConfig struct {
	RedisAddr        string        `yaml:"redisAddr"`
	RedisPassword    string        `yaml:"redisPassword"`
	RateLimitMax     int           `yaml:"rateLimitMax"`
	RateLimitWindow  time.Duration `yaml:"rateLimitWindowMs"`
	WorkerConcurrency int          `yaml:"workerConcurrency"`
}

type BrowserConfig struct {
	PoolSize            int           `yaml:"browserPoolSize"`
	MaxPagesPerBrowser  int           `yaml:"maxPagesPerBrowser"`
	PageTimeout         time.Duration `yaml:"pageTimeoutMs"`
	NavigationTimeout   time.Duration `yaml:"navigationTimeoutMs"`
}

type CaptchaConfig struct {
	StrategyOrder      []string `yaml:"strategyOrder"`
	ImageSolverAPIKey  string   `yaml:"imageSolverApiKey"`
	InteractiveAPIKey  string   `yaml:"interactiveSolverApiKey"`
}

type ObjectStoreConfig struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
	Prefix string `yaml:"prefix"`
	// Root is the local directory the reference Filesystem Store
	// writes under; unused when a cloud-backed Store is wired instead.
	Root string `yaml:"root"`
}

type PortalConfig struct {
	BaseURL    string `yaml:"baseUrl"`
	MaxRetries int    `yaml:"maxRetries"`
}

// OpsAlertConfig configures the optional Slack notice sink, which the
// Orchestrator uses for forced-shutdown notices (spec §5). An empty
// BotToken disables alerting entirely.
type OpsAlertConfig struct {
	BotToken string `yaml:"botToken"`
	Channel  string `yaml:"channel"`
}

type SchedulerConfig struct {
	IntervalMinutes       int `yaml:"intervalMinutes"`
	YoungCaseDays         int `yaml:"youngCaseDays"`
	RecentlyActiveDays    int `yaml:"recentlyActiveDays"`
	VeryStaleDays         int `yaml:"veryStaleDays"`
	VeryStaleIntervalDays int `yaml:"veryStaleIntervalDays"`
	HighStaleDays         int `yaml:"highStaleDays"`
	HighStaleIntervalDays int `yaml:"highStaleIntervalDays"`
}

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Timezone    string            `yaml:"timezone"`
	Logging     LoggingConfig     `yaml:"logging"`
	Database    DatabaseConfig    `yaml:"database"`
	JobStore    JobStoreConfig    `yaml:"jobstore"`
	Browser     BrowserConfig     `yaml:"browser"`
	Captcha     CaptchaConfig     `yaml:"captcha"`
	ObjectStore ObjectStoreConfig `yaml:"objectStore"`
	Portal      PortalConfig      `yaml:"portal"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	OpsAlert    OpsAlertConfig    `yaml:"opsAlert"`
}

// Default returns a Config with every field set to its spec-defined
// default (spec §4, §6).
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
		},
		Timezone: "UTC",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "scrape_coord",
			Database:        "scrape_coordination",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		JobStore: JobStoreConfig{
			RedisAddr:         "localhost:6379",
			RateLimitMax:      10,
			RateLimitWindow:   60 * time.Second,
			WorkerConcurrency: 6,
		},
		Browser: BrowserConfig{
			PoolSize:           3,
			MaxPagesPerBrowser: 20,
			PageTimeout:        30 * time.Second,
			NavigationTimeout:  30 * time.Second,
		},
		Captcha: CaptchaConfig{
			StrategyOrder: []string{"audio", "image", "interactive"},
		},
		ObjectStore: ObjectStoreConfig{
			Prefix: "cej",
			Root:   "./data/objects",
		},
		Portal: PortalConfig{
			MaxRetries: 3,
		},
		Scheduler: SchedulerConfig{
			IntervalMinutes:       10,
			YoungCaseDays:         7,
			RecentlyActiveDays:    7,
			VeryStaleDays:         90,
			VeryStaleIntervalDays: 7,
			HighStaleDays:         30,
			HighStaleIntervalDays: 3,
		},
	}
}

// Load reads path, merges it over Default(), and applies environment
// overrides. A missing optional section keeps its default value.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Unmarshal onto the defaults so omitted YAML keys retain them,
	// matching the teacher's "minimal content" Load behavior.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.LoadFromEnv()

	return cfg, nil
}

// LoadFromEnv overlays recognized environment variables onto cfg.
// Invalid numeric/duration values are ignored and the existing value
// is kept, mirroring internal/database's LoadFromEnv behavior.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Database.Port = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.Database.Database = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.JobStore.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.JobStore.RedisPassword = v
	}
	if v := os.Getenv("SERVICE_SECRET"); v != "" {
		c.Server.ServiceSecret = v
	}
	if v := os.Getenv("PORTAL_BASE_URL"); v != "" {
		c.Portal.BaseURL = v
	}
	if v := os.Getenv("IMAGE_SOLVER_API_KEY"); v != "" {
		c.Captcha.ImageSolverAPIKey = v
	}
	if v := os.Getenv("INTERACTIVE_SOLVER_API_KEY"); v != "" {
		c.Captcha.InteractiveAPIKey = v
	}
	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		c.OpsAlert.BotToken = v
	}
}

// Watch re-reads path whenever it changes on disk and invokes onChange
// with the newly loaded Config. The returned stop func closes the
// underlying watcher; callers should defer it. Errors from individual
// reloads are reported via onError rather than stopping the watch.
func Watch(path string, onChange func(*Config), onError func(error)) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch config file: %w", err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					if onError != nil {
						onError(err)
					}
					continue
				}
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(err)
				}
			}
		}
	}()

	return watcher.Close, nil
}
