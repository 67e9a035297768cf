/*
Package config loads bsewatch settings.

Priority, lowest to highest: built-in defaults, TOML files (later files win),
BSEWATCH_* environment variables, then the unprefixed secret variables
(SLACK_BOT_TOKEN, TELEGRAM_BOT_TOKEN, GEMINI_API_KEY, ...). CLI flags are
applied by the caller after Load returns.
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

const envPrefix = "BSEWATCH"

// Duration accepts "15s", "2m", "744h" from TOML and the environment.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	Feed        FeedConfig        `toml:"feed" envconfig:"FEED"`
	Engine      EngineConfig      `toml:"engine" envconfig:"ENGINE"`
	Schedule    ScheduleConfig    `toml:"schedule" envconfig:"SCHEDULE"`
	Cache       CacheConfig       `toml:"cache" envconfig:"CACHE"`
	Eligibility EligibilityConfig `toml:"eligibility" envconfig:"ELIGIBILITY"`
	Storage     StorageConfig     `toml:"storage" envconfig:"STORAGE"`
	Classifier  ClassifierConfig  `toml:"classifier" envconfig:"CLASSIFIER"`
	Notify      NotifyConfig      `toml:"notify" envconfig:"NOTIFY"`
	MarketCap   MarketCapConfig   `toml:"market_cap" envconfig:"MARKET_CAP"`
	Server      ServerConfig      `toml:"server" envconfig:"SERVER"`
	Logging     LoggingConfig     `toml:"logging" envconfig:"LOGGING"`
}

type FeedConfig struct {
	BSEPageURL        string   `toml:"bse_page_url" envconfig:"BSE_PAGE_URL" validate:"required,url"`
	BSEAPIURL         string   `toml:"bse_api_url" envconfig:"BSE_API_URL" validate:"required,url"`
	AttachmentBaseURL string   `toml:"attachment_base_url" envconfig:"ATTACHMENT_BASE_URL" validate:"required,url"`
	NSEEnabled        bool     `toml:"nse_enabled" envconfig:"NSE_ENABLED"`
	NSEHomeURL        string   `toml:"nse_home_url" envconfig:"NSE_HOME_URL" validate:"omitempty,url"`
	NSEAPIURL         string   `toml:"nse_api_url" envconfig:"NSE_API_URL" validate:"omitempty,url"`
	UserAgent         string   `toml:"user_agent" envconfig:"USER_AGENT" validate:"required"`
	Timeout           Duration `toml:"timeout" envconfig:"TIMEOUT"`
	RequestsPerSecond float64  `toml:"requests_per_second" envconfig:"REQUESTS_PER_SECOND" validate:"gt=0"`
	DaysBack          int      `toml:"days_back" envconfig:"DAYS_BACK"`
	MaxResults        int      `toml:"max_results" envconfig:"MAX_RESULTS"`
}

type EngineConfig struct {
	Timezone             string   `toml:"timezone" envconfig:"TIMEZONE" validate:"required"`
	QualifyingCategories []string `toml:"qualifying_categories" envconfig:"QUALIFYING_CATEGORIES" validate:"required,min=1,dive,required"`
	NotifySynthetic      bool     `toml:"notify_synthetic" envconfig:"NOTIFY_SYNTHETIC"`
	Concurrency          int      `toml:"concurrency" envconfig:"CONCURRENCY" validate:"min=1,max=64"`
	Retention            Duration `toml:"retention" envconfig:"RETENTION"`
}

type ScheduleConfig struct {
	ActiveStart    string   `toml:"active_start" envconfig:"ACTIVE_START" validate:"required,datetime=15:04"`
	ActiveEnd      string   `toml:"active_end" envconfig:"ACTIVE_END" validate:"required,datetime=15:04"`
	ActiveDays     []string `toml:"active_days" envconfig:"ACTIVE_DAYS" validate:"dive,oneof=Mon Tue Wed Thu Fri Sat Sun"`
	ActiveInterval Duration `toml:"active_interval" envconfig:"ACTIVE_INTERVAL"`
	IdleInterval   Duration `toml:"idle_interval" envconfig:"IDLE_INTERVAL"`
}

type CacheConfig struct {
	Dir      string   `toml:"dir" envconfig:"DIR" validate:"required"`
	Timeout  Duration `toml:"timeout" envconfig:"TIMEOUT"`
	MaxPages int      `toml:"max_pages" envconfig:"MAX_PAGES" validate:"min=1"`
	MaxChars int      `toml:"max_chars" envconfig:"MAX_CHARS" validate:"min=1"`
}

type EligibilityConfig struct {
	FOStocksPath  string            `toml:"fo_stocks_path" envconfig:"FO_STOCKS_PATH" validate:"required"`
	IndexCacheDir string            `toml:"index_cache_dir" envconfig:"INDEX_CACHE_DIR" validate:"required"`
	IndexTTL      Duration          `toml:"index_ttl" envconfig:"INDEX_TTL"`
	IndexTimeout  Duration          `toml:"index_timeout" envconfig:"INDEX_TIMEOUT"`
	IndexSources  map[string]string `toml:"index_sources" envconfig:"INDEX_SOURCES" validate:"required,min=1,dive,url"`
}

type StorageConfig struct {
	Backend string `toml:"backend" envconfig:"BACKEND" validate:"oneof=badger sqlite memory"`
	Path    string `toml:"path" envconfig:"PATH" validate:"required_unless=Backend memory"`
}

type ClassifierConfig struct {
	Provider        string   `toml:"provider" envconfig:"PROVIDER" validate:"omitempty,oneof=gemini claude none"`
	GeminiAPIKey    string   `toml:"gemini_api_key" envconfig:"GEMINI_API_KEY"`
	GeminiModel     string   `toml:"gemini_model" envconfig:"GEMINI_MODEL"`
	AnthropicAPIKey string   `toml:"anthropic_api_key" envconfig:"ANTHROPIC_API_KEY"`
	ClaudeModel     string   `toml:"claude_model" envconfig:"CLAUDE_MODEL"`
	Timeout         Duration `toml:"timeout" envconfig:"TIMEOUT"`
	MaxInputChars   int      `toml:"max_input_chars" envconfig:"MAX_INPUT_CHARS" validate:"min=100"`
}

type NotifyConfig struct {
	Console   bool           `toml:"console" envconfig:"CONSOLE"`
	WebSocket bool           `toml:"websocket" envconfig:"WEBSOCKET"`
	Slack     SlackConfig    `toml:"slack" envconfig:"SLACK"`
	Telegram  TelegramConfig `toml:"telegram" envconfig:"TELEGRAM"`
	Email     EmailConfig    `toml:"email" envconfig:"EMAIL"`
	Timeout   Duration       `toml:"timeout" envconfig:"TIMEOUT"`
}

type SlackConfig struct {
	Token   string `toml:"token" envconfig:"TOKEN"`
	Channel string `toml:"channel" envconfig:"CHANNEL"`
	APIURL  string `toml:"api_url" envconfig:"API_URL" validate:"omitempty,url"`
}

type TelegramConfig struct {
	Token   string `toml:"token" envconfig:"TOKEN"`
	ChatID  string `toml:"chat_id" envconfig:"CHAT_ID"`
	APIBase string `toml:"api_base" envconfig:"API_BASE" validate:"omitempty,url"`
}

type EmailConfig struct {
	SMTPServer string `toml:"smtp_server" envconfig:"SMTP_SERVER"`
	SMTPPort   int    `toml:"smtp_port" envconfig:"SMTP_PORT" validate:"omitempty,min=1,max=65535"`
	SMTPUser   string `toml:"smtp_user" envconfig:"SMTP_USER"`
	SMTPPass   string `toml:"smtp_pass" envconfig:"SMTP_PASS"`
	FromEmail  string `toml:"from_email" envconfig:"FROM_EMAIL" validate:"omitempty,email"`
	ToEmail    string `toml:"to_email" envconfig:"TO_EMAIL" validate:"omitempty,email"`
}

// Enabled reports whether enough SMTP settings are present to send mail.
func (e EmailConfig) Enabled() bool {
	return e.SMTPServer != "" && e.SMTPUser != "" && e.SMTPPass != "" && e.ToEmail != ""
}

type MarketCapConfig struct {
	Enabled bool     `toml:"enabled" envconfig:"ENABLED"`
	URL     string   `toml:"url" envconfig:"URL" validate:"omitempty,url"`
	Timeout Duration `toml:"timeout" envconfig:"TIMEOUT"`
}

type ServerConfig struct {
	Host            string   `toml:"host" envconfig:"HOST"`
	Port            int      `toml:"port" envconfig:"PORT" validate:"min=1,max=65535"`
	ReadTimeout     Duration `toml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    Duration `toml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	ShutdownTimeout Duration `toml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// Addr is the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LoggingConfig struct {
	Level    string   `toml:"level" envconfig:"LEVEL" validate:"oneof=trace debug info warn error"`
	Output   []string `toml:"output" envconfig:"OUTPUT" validate:"dive,oneof=console stdout file"`
	FilePath string   `toml:"file_path" envconfig:"FILE_PATH"`
}

// secretEnv carries the unprefixed variable names operators already use.
type secretEnv struct {
	SlackToken      string `envconfig:"SLACK_BOT_TOKEN"`
	SlackChannel    string `envconfig:"SLACK_CHANNEL"`
	TelegramToken   string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID  string `envconfig:"TELEGRAM_CHAT_ID"`
	GeminiAPIKey    string `envconfig:"GEMINI_API_KEY"`
	AnthropicAPIKey string `envconfig:"ANTHROPIC_API_KEY"`
}

func NewDefaultConfig() *Config {
	return &Config{
		Feed: FeedConfig{
			BSEPageURL:        "https://www.bseindia.com/corporates/Corpfiling_new.aspx",
			BSEAPIURL:         "https://api.bseindia.com/BseIndiaAPI/api/AnnGetData/w",
			AttachmentBaseURL: "https://www.bseindia.com/xml-data/corpfiling/AttachLive",
			NSEEnabled:        true,
			NSEHomeURL:        "https://www.nseindia.com",
			NSEAPIURL:         "https://www.nseindia.com/api/corporate-announcements",
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Timeout:           Duration{15 * time.Second},
			RequestsPerSecond: 2,
			DaysBack:          1,
			MaxResults:        200,
		},
		Engine: EngineConfig{
			Timezone:             "Asia/Kolkata",
			QualifyingCategories: []string{"NIFTY50", "NIFTYNEXT50", "NIFTY500"},
			Concurrency:          4,
			Retention:            Duration{31 * 24 * time.Hour},
		},
		Schedule: ScheduleConfig{
			ActiveStart:    "09:00",
			ActiveEnd:      "16:00",
			ActiveDays:     []string{"Mon", "Tue", "Wed", "Thu", "Fri"},
			ActiveInterval: Duration{2 * time.Minute},
			IdleInterval:   Duration{15 * time.Minute},
		},
		Cache: CacheConfig{
			Dir:      "announcements_pdfs",
			Timeout:  Duration{30 * time.Second},
			MaxPages: 5,
			MaxChars: 5000,
		},
		Eligibility: EligibilityConfig{
			FOStocksPath:  "fo_stocks.json",
			IndexCacheDir: "nse_cache",
			IndexTTL:      Duration{24 * time.Hour},
			IndexTimeout:  Duration{10 * time.Second},
			IndexSources: map[string]string{
				"NIFTY50":     "https://www.niftyindices.com/IndexConstituent/ind_nifty50list.csv",
				"NIFTYNEXT50": "https://www.niftyindices.com/IndexConstituent/ind_niftynext50list.csv",
				"NIFTY500":    "https://www.niftyindices.com/IndexConstituent/ind_nifty500list.csv",
			},
		},
		Storage: StorageConfig{
			Backend: "badger",
			Path:    "data/seen",
		},
		Classifier: ClassifierConfig{
			GeminiModel:   "gemini-2.5-flash",
			ClaudeModel:   "claude-3-5-haiku-latest",
			Timeout:       Duration{20 * time.Second},
			MaxInputChars: 4000,
		},
		Notify: NotifyConfig{
			Console: true,
			Slack:   SlackConfig{Channel: "#bse-announcements"},
			Telegram: TelegramConfig{
				APIBase: "https://api.telegram.org",
			},
			Email:   EmailConfig{SMTPServer: "smtp.gmail.com", SMTPPort: 587},
			Timeout: Duration{15 * time.Second},
		},
		MarketCap: MarketCapConfig{
			Enabled: true,
			URL:     "https://api.bseindia.com/BseIndiaAPI/api/ComHeadernew/w",
			Timeout: Duration{5 * time.Second},
		},
		Server: ServerConfig{
			Host:            "",
			Port:            5000,
			ReadTimeout:     Duration{15 * time.Second},
			WriteTimeout:    Duration{60 * time.Second},
			ShutdownTimeout: Duration{30 * time.Second},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"console"},
		},
	}
}

// Load applies defaults, then each TOML file in order, then the environment,
// and validates the result. Missing paths are an error; pass none to skip files.
func Load(paths ...string) (*Config, error) {
	cfg := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return fmt.Errorf("failed to load config from env: %w", err)
	}

	var secrets secretEnv
	if err := envconfig.Process("", &secrets); err != nil {
		return fmt.Errorf("failed to load secrets from env: %w", err)
	}
	overlay(&cfg.Notify.Slack.Token, secrets.SlackToken)
	overlay(&cfg.Notify.Slack.Channel, secrets.SlackChannel)
	overlay(&cfg.Notify.Telegram.Token, secrets.TelegramToken)
	overlay(&cfg.Notify.Telegram.ChatID, secrets.TelegramChatID)
	overlay(&cfg.Classifier.GeminiAPIKey, secrets.GeminiAPIKey)
	overlay(&cfg.Classifier.AnthropicAPIKey, secrets.AnthropicAPIKey)
	return nil
}

func overlay(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}

// Validate checks struct tags plus the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return err
	}

	var errs []error
	durations := map[string]Duration{
		"feed.timeout":              c.Feed.Timeout,
		"engine.retention":          c.Engine.Retention,
		"schedule.active_interval":  c.Schedule.ActiveInterval,
		"schedule.idle_interval":    c.Schedule.IdleInterval,
		"cache.timeout":             c.Cache.Timeout,
		"eligibility.index_ttl":     c.Eligibility.IndexTTL,
		"eligibility.index_timeout": c.Eligibility.IndexTimeout,
		"classifier.timeout":        c.Classifier.Timeout,
		"notify.timeout":            c.Notify.Timeout,
	}
	for name, d := range durations {
		if d.Duration <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	// Lookback is capped at 30 days; eviction must outlive it or old items re-notify.
	if c.Engine.Retention.Duration <= 30*24*time.Hour {
		errs = append(errs, fmt.Errorf("engine.retention must exceed 720h, got %s", c.Engine.Retention.Duration))
	}

	if _, err := time.LoadLocation(c.Engine.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid engine.timezone %q: %w", c.Engine.Timezone, err))
	}

	switch c.Classifier.Provider {
	case "gemini":
		if c.Classifier.GeminiAPIKey == "" {
			errs = append(errs, errors.New("classifier.provider gemini requires GEMINI_API_KEY"))
		}
	case "claude":
		if c.Classifier.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("classifier.provider claude requires ANTHROPIC_API_KEY"))
		}
	}

	return errors.Join(errs...)
}

// Location returns the exchange time zone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Engine.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
