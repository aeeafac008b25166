package config

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("when config file exists with valid content", func() {
			BeforeEach(func() {
				validConfig := `
server:
  port: "9090"
  serviceSecret: "shh"

timezone: "America/Lima"

logging:
  level: "debug"
  format: "text"

database:
  host: "db.internal"
  port: 5433
  user: "scraper"
  database: "scrape_db"

jobstore:
  redisAddr: "redis.internal:6379"
  rateLimitMax: 25
  rateLimitWindowMs: 45s

browser:
  browserPoolSize: 5
  maxPagesPerBrowser: 40

captcha:
  strategyOrder: ["image", "audio"]

portal:
  baseUrl: "https://portal.example"
  maxRetries: 5

scheduler:
  intervalMinutes: 15
`
				Expect(os.WriteFile(configFile, []byte(validConfig), 0644)).To(Succeed())
			})

			It("should load configuration successfully", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg).NotTo(BeNil())

				Expect(cfg.Server.Port).To(Equal("9090"))
				Expect(cfg.Server.ServiceSecret).To(Equal("shh"))
				Expect(cfg.Timezone).To(Equal("America/Lima"))
				Expect(cfg.Logging.Level).To(Equal("debug"))
				Expect(cfg.Logging.Format).To(Equal("text"))
				Expect(cfg.Database.Host).To(Equal("db.internal"))
				Expect(cfg.Database.Port).To(Equal(5433))
				Expect(cfg.JobStore.RedisAddr).To(Equal("redis.internal:6379"))
				Expect(cfg.JobStore.RateLimitMax).To(Equal(25))
				Expect(cfg.JobStore.RateLimitWindow).To(Equal(45 * time.Second))
				Expect(cfg.Browser.PoolSize).To(Equal(5))
				Expect(cfg.Browser.MaxPagesPerBrowser).To(Equal(40))
				Expect(cfg.Captcha.StrategyOrder).To(Equal([]string{"image", "audio"}))
				Expect(cfg.Portal.BaseURL).To(Equal("https://portal.example"))
				Expect(cfg.Portal.MaxRetries).To(Equal(5))
				Expect(cfg.Scheduler.IntervalMinutes).To(Equal(15))
			})
		})

		Context("when config file has minimal content", func() {
			BeforeEach(func() {
				minimalConfig := `
server:
  port: "3000"
`
				Expect(os.WriteFile(configFile, []byte(minimalConfig), 0644)).To(Succeed())
			})

			It("should load with defaults for missing values", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Server.Port).To(Equal("3000"))
				Expect(cfg.Timezone).To(Equal("UTC"))
				Expect(cfg.Database.MaxOpenConns).To(Equal(25))
				Expect(cfg.JobStore.RateLimitMax).To(Equal(10))
				Expect(cfg.Browser.PoolSize).To(Equal(3))
				Expect(cfg.Browser.MaxPagesPerBrowser).To(Equal(20))
				Expect(cfg.Scheduler.IntervalMinutes).To(Equal(10))
			})
		})

		Context("when the file does not exist", func() {
			It("returns an error", func() {
				_, err := Load(filepath.Join(tempDir, "missing.yaml"))
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("LoadFromEnv", func() {
		var cfg *Config

		BeforeEach(func() {
			cfg = Default()
		})

		AfterEach(func() {
			for _, key := range []string{"DB_HOST", "DB_PORT", "REDIS_ADDR", "SERVICE_SECRET"} {
				os.Unsetenv(key)
			}
		})

		It("overrides defaults from the environment", func() {
			os.Setenv("DB_HOST", "envhost")
			os.Setenv("DB_PORT", "6543")
			os.Setenv("REDIS_ADDR", "envredis:6379")
			os.Setenv("SERVICE_SECRET", "env-secret")

			cfg.LoadFromEnv()

			Expect(cfg.Database.Host).To(Equal("envhost"))
			Expect(cfg.Database.Port).To(Equal(6543))
			Expect(cfg.JobStore.RedisAddr).To(Equal("envredis:6379"))
			Expect(cfg.Server.ServiceSecret).To(Equal("env-secret"))
		})

		It("keeps the default when DB_PORT is not a valid integer", func() {
			os.Setenv("DB_PORT", "not-a-number")
			original := cfg.Database.Port

			cfg.LoadFromEnv()

			Expect(cfg.Database.Port).To(Equal(original))
		})
	})
})
