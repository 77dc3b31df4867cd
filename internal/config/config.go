package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/YonghoLee79/saramjobhunter/internal/discovery"
	"github.com/YonghoLee79/saramjobhunter/internal/driver"
	"github.com/YonghoLee79/saramjobhunter/internal/pipeline"
	"github.com/YonghoLee79/saramjobhunter/internal/session"
)

// Config holds all configuration for the automation service.
type Config struct {
	Saramin   SaraminConfig
	Search    SearchConfig
	Pacing    PacingConfig
	Login     LoginConfig
	Browser   BrowserConfig
	Apply     ApplyConfig
	Storage   StorageConfig
	Redis     RedisConfig
	RabbitMQ  RabbitMQConfig
	Server    ServerConfig
	Schedule  ScheduleConfig
	Selectors Selectors
	LogLevel  string `mapstructure:"LOG_LEVEL"`
}

type SaraminConfig struct {
	Username string `mapstructure:"SARAMIN_USERNAME"`
	Password string `mapstructure:"SARAMIN_PASSWORD"`
}

type SearchConfig struct {
	Keywords        []string `mapstructure:"SEARCH_KEYWORDS"`
	Location        string   `mapstructure:"LOCATION"`
	JobType         string   `mapstructure:"JOB_TYPE"`
	MaxApplications int      `mapstructure:"MAX_APPLICATIONS_PER_DAY"`
	MaxPages        int      `mapstructure:"MAX_PAGES"`
}

type PacingConfig struct {
	MinDelay time.Duration `mapstructure:"MIN_DELAY_BETWEEN_APPLICATIONS"`
	MaxDelay time.Duration `mapstructure:"MAX_DELAY_BETWEEN_APPLICATIONS"`
}

type LoginConfig struct {
	MaxAttempts    int           `mapstructure:"LOGIN_MAX_ATTEMPTS"`
	ManualFallback bool          `mapstructure:"MANUAL_LOGIN_FALLBACK"`
	ManualTimeout  time.Duration `mapstructure:"MANUAL_LOGIN_TIMEOUT"`
}

type BrowserConfig struct {
	Driver         string `mapstructure:"DRIVER"`
	Headless       bool   `mapstructure:"HEADLESS"`
	ChromePath     string `mapstructure:"CHROME_PATH"`
	StaticManifest string `mapstructure:"STATIC_MANIFEST"`
}

type ApplyConfig struct {
	CooldownDays       int  `mapstructure:"COOLDOWN_DAYS"`
	StrictConfirmation bool `mapstructure:"STRICT_CONFIRMATION"`
	RetryFailedDay     bool `mapstructure:"RETRY_FAILED_DAY"`
}

type StorageConfig struct {
	Driver        string `mapstructure:"STORAGE_DRIVER"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	SQLitePath    string `mapstructure:"SQLITE_PATH"`
	RetentionDays int    `mapstructure:"RETENTION_DAYS"`
}

type RedisConfig struct {
	URL string `mapstructure:"REDIS_URL"`
}

type RabbitMQConfig struct {
	URL string `mapstructure:"RABBITMQ_URL"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"API_PORT"`
	ReadTimeout  time.Duration `mapstructure:"API_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"API_WRITE_TIMEOUT"`
	RateLimit    int           `mapstructure:"API_RATE_LIMIT"`
	GinMode      string        `mapstructure:"GIN_MODE"`
}

type ScheduleConfig struct {
	Cron string `mapstructure:"SCHEDULE_CRON"`
}

// Selectors are the page lookups, overridable by SELECTORS_FILE.
type Selectors struct {
	Login   session.Selectors  `yaml:"login"`
	Listing []driver.Selector  `yaml:"listing"`
	Posting pipeline.Selectors `yaml:"posting"`
}

// DefaultSelectors returns the built-in Saramin lookups.
func DefaultSelectors() Selectors {
	return Selectors{
		Login:   session.DefaultSelectors(),
		Listing: discovery.DefaultListingSelectors(),
		Posting: pipeline.DefaultSelectors(),
	}
}

const (
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	DriverChromedp  = "chromedp"
	DriverStatic    = "static"
)

// Load reads configuration from environment variables and .env file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Set defaults
	v.SetDefault("SARAMIN_USERNAME", "")
	v.SetDefault("SARAMIN_PASSWORD", "")
	v.SetDefault("SEARCH_KEYWORDS", "")
	v.SetDefault("SEARCH_KEYWORD", "바이오")
	v.SetDefault("LOCATION", "서울")
	v.SetDefault("JOB_TYPE", "정규직")
	v.SetDefault("MAX_APPLICATIONS_PER_DAY", 10)
	v.SetDefault("MAX_PAGES", 5)
	v.SetDefault("MIN_DELAY_BETWEEN_APPLICATIONS", 30)
	v.SetDefault("MAX_DELAY_BETWEEN_APPLICATIONS", 60)
	v.SetDefault("LOGIN_MAX_ATTEMPTS", 3)
	v.SetDefault("MANUAL_LOGIN_FALLBACK", false)
	v.SetDefault("MANUAL_LOGIN_TIMEOUT", "0s")
	v.SetDefault("DRIVER", DriverChromedp)
	v.SetDefault("HEADLESS", false)
	v.SetDefault("CHROME_PATH", "")
	v.SetDefault("STATIC_MANIFEST", "")
	v.SetDefault("COOLDOWN_DAYS", 30)
	v.SetDefault("STRICT_CONFIRMATION", false)
	v.SetDefault("RETRY_FAILED_DAY", false)
	v.SetDefault("STORAGE_DRIVER", StorageSQLite)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SQLITE_PATH", "applications.db")
	v.SetDefault("RETENTION_DAYS", 90)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("API_PORT", 8080)
	v.SetDefault("API_READ_TIMEOUT", "10s")
	v.SetDefault("API_WRITE_TIMEOUT", "30s")
	v.SetDefault("API_RATE_LIMIT", 30)
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("SCHEDULE_CRON", "")
	v.SetDefault("SCHEDULED_TIME", "09:00")
	v.SetDefault("SELECTORS_FILE", "")
	v.SetDefault("LOG_LEVEL", "info")

	// Attempt to read .env file (non-fatal if missing)
	_ = v.ReadInConfig()

	cfg := &Config{}
	cfg.Saramin.Username = v.GetString("SARAMIN_USERNAME")
	cfg.Saramin.Password = v.GetString("SARAMIN_PASSWORD")

	keywords := v.GetString("SEARCH_KEYWORDS")
	if strings.TrimSpace(keywords) == "" {
		keywords = v.GetString("SEARCH_KEYWORD")
	}
	cfg.Search.Keywords = splitList(keywords)
	cfg.Search.Location = v.GetString("LOCATION")
	cfg.Search.JobType = v.GetString("JOB_TYPE")
	cfg.Search.MaxApplications = v.GetInt("MAX_APPLICATIONS_PER_DAY")
	cfg.Search.MaxPages = v.GetInt("MAX_PAGES")

	// Delays are whole seconds.
	cfg.Pacing.MinDelay = time.Duration(v.GetInt("MIN_DELAY_BETWEEN_APPLICATIONS")) * time.Second
	cfg.Pacing.MaxDelay = time.Duration(v.GetInt("MAX_DELAY_BETWEEN_APPLICATIONS")) * time.Second

	cfg.Login.MaxAttempts = v.GetInt("LOGIN_MAX_ATTEMPTS")
	cfg.Login.ManualFallback = v.GetBool("MANUAL_LOGIN_FALLBACK")
	cfg.Login.ManualTimeout = v.GetDuration("MANUAL_LOGIN_TIMEOUT")

	cfg.Browser.Driver = strings.ToLower(v.GetString("DRIVER"))
	cfg.Browser.Headless = v.GetBool("HEADLESS")
	cfg.Browser.ChromePath = v.GetString("CHROME_PATH")
	cfg.Browser.StaticManifest = v.GetString("STATIC_MANIFEST")

	cfg.Apply.CooldownDays = v.GetInt("COOLDOWN_DAYS")
	cfg.Apply.StrictConfirmation = v.GetBool("STRICT_CONFIRMATION")
	cfg.Apply.RetryFailedDay = v.GetBool("RETRY_FAILED_DAY")

	cfg.Storage.Driver = strings.ToLower(v.GetString("STORAGE_DRIVER"))
	cfg.Storage.DatabaseURL = v.GetString("DATABASE_URL")
	cfg.Storage.SQLitePath = v.GetString("SQLITE_PATH")
	cfg.Storage.RetentionDays = v.GetInt("RETENTION_DAYS")
	cfg.Redis.URL = v.GetString("REDIS_URL")
	cfg.RabbitMQ.URL = v.GetString("RABBITMQ_URL")

	cfg.Server.Port = v.GetInt("API_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("API_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("API_WRITE_TIMEOUT")
	cfg.Server.RateLimit = v.GetInt("API_RATE_LIMIT")
	cfg.Server.GinMode = v.GetString("GIN_MODE")

	cfg.Schedule.Cron = v.GetString("SCHEDULE_CRON")
	if cfg.Schedule.Cron == "" {
		spec, err := cronFromClock(v.GetString("SCHEDULED_TIME"))
		if err != nil {
			return nil, err
		}
		cfg.Schedule.Cron = spec
	}
	cfg.LogLevel = v.GetString("LOG_LEVEL")

	cfg.Selectors = DefaultSelectors()
	if path := v.GetString("SELECTORS_FILE"); path != "" {
		if err := cfg.Selectors.loadFile(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate enforces the constraints needed to run.
func (c *Config) Validate() error {
	return c.validate(true)
}

// ValidateService checks everything but the credentials, which a served
// instance receives with each start request.
func (c *Config) ValidateService() error {
	return c.validate(false)
}

func (c *Config) validate(needCredentials bool) error {
	var errs []error
	if needCredentials && (c.Saramin.Username == "" || c.Saramin.Password == "") {
		errs = append(errs, errors.New("SARAMIN_USERNAME and SARAMIN_PASSWORD are required"))
	}
	if len(c.Search.Keywords) == 0 {
		errs = append(errs, errors.New("at least one search keyword is required"))
	}
	if c.Search.MaxApplications < 1 {
		errs = append(errs, errors.New("MAX_APPLICATIONS_PER_DAY must be at least 1"))
	}
	if c.Search.MaxPages < 1 {
		errs = append(errs, errors.New("MAX_PAGES must be at least 1"))
	}
	if c.Pacing.MinDelay < 0 || c.Pacing.MinDelay > c.Pacing.MaxDelay {
		errs = append(errs, errors.New("delays must satisfy 0 <= MIN_DELAY_BETWEEN_APPLICATIONS <= MAX_DELAY_BETWEEN_APPLICATIONS"))
	}
	switch c.Storage.Driver {
	case StorageSQLite:
	case StoragePostgres:
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver))
	}
	switch c.Browser.Driver {
	case DriverChromedp:
	case DriverStatic:
		if c.Browser.StaticManifest == "" {
			errs = append(errs, errors.New("STATIC_MANIFEST is required for the static driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DRIVER %q", c.Browser.Driver))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// loadFile overlays the lists present in a YAML file onto s.
func (s *Selectors) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read selectors file: %w", err)
	}
	if err := yaml.Unmarshal(raw, s); err != nil {
		return fmt.Errorf("parse selectors file: %w", err)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// cronFromClock turns "HH:MM" into a daily cron spec.
func cronFromClock(clock string) (string, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(clock))
	if err != nil {
		return "", fmt.Errorf("invalid SCHEDULED_TIME %q: %w", clock, err)
	}
	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
}
