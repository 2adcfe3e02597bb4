package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/hamed0406/noticerelay/internal/domain"
)

// EnvPrefix marks environment overrides. Levels are separated by "__", e.g.
// NOTICERELAY_PLATFORM__BASE_URL.
const EnvPrefix = "NOTICERELAY_"

const DefaultPath = "config.yaml"

type Config struct {
	Platform Platform `koanf:"platform"`
	Notify   Notify   `koanf:"notify"`
	Queue    Queue    `koanf:"queue"`
	Log      Log      `koanf:"log"`
	API      API      `koanf:"api"`
}

type Competition struct {
	ID   int    `koanf:"id" validate:"gt=0"`
	Name string `koanf:"name"`
}

type Platform struct {
	BaseURL       string        `koanf:"base_url" validate:"required,url"`
	PollInterval  int           `koanf:"poll_interval" validate:"gte=1"` // seconds
	Competitions  []Competition `koanf:"competitions" validate:"dive"`
	CompetitionID int           `koanf:"competition_id" validate:"gte=0"`
	InsecureTLS   bool          `koanf:"insecure_tls"`
	Timeout       time.Duration `koanf:"timeout" validate:"gt=0"`
}

type Notify struct {
	Kind       string        `koanf:"kind" validate:"required,oneof=discord slack telegram"`
	Timeout    time.Duration `koanf:"timeout" validate:"gt=0"`
	RatePerSec float64       `koanf:"rate_per_sec" validate:"gte=0"`
	Timezone   string        `koanf:"timezone"`
	Discord    struct {
		WebhookURL string `koanf:"webhook_url" validate:"omitempty,url"`
		Username   string `koanf:"username"`
	} `koanf:"discord"`
	Slack struct {
		WebhookURL string `koanf:"webhook_url" validate:"omitempty,url"`
	} `koanf:"slack"`
	Telegram struct {
		Token  string `koanf:"token"`
		ChatID int64  `koanf:"chat_id"`
		APIURL string `koanf:"api_url" validate:"omitempty,url"`
	} `koanf:"telegram"`
}

type Queue struct {
	Driver     string        `koanf:"driver" validate:"oneof=file sqlite postgres"`
	Path       string        `koanf:"path"`
	DSN        string        `koanf:"dsn"`
	Tick       time.Duration `koanf:"tick" validate:"gt=0"`
	MaxRetries int           `koanf:"max_retries" validate:"min=1,max=10"`
}

type Log struct {
	Dir     string `koanf:"dir"`
	Level   string `koanf:"level" validate:"oneof=debug info warn error"`
	Console bool   `koanf:"console"`
}

type API struct {
	Addr           string   `koanf:"addr"`
	PublicKeys     []string `koanf:"public_keys"`
	AdminKeys      []string `koanf:"admin_keys"`
	RPM            int      `koanf:"rpm" validate:"gte=0"`
	Burst          int      `koanf:"burst" validate:"gte=0"`
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// Default is the configuration before any file or env is applied.
func Default() Config {
	var c Config
	c.Platform.PollInterval = 10
	c.Platform.InsecureTLS = true
	c.Platform.Timeout = 10 * time.Second
	c.Notify.Timeout = 10 * time.Second
	c.Notify.RatePerSec = 2
	c.Notify.Timezone = "Asia/Shanghai"
	c.Queue.Driver = "file"
	c.Queue.Path = "failed_messages.json"
	c.Queue.Tick = time.Second
	c.Queue.MaxRetries = 4
	c.Log.Dir = "logs"
	c.Log.Level = "info"
	c.API.RPM = 120
	c.API.Burst = 20
	return c
}

// Load applies defaults, then the YAML file at path (skipped when missing),
// then NOTICERELAY_* environment variables, and validates the result.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("load %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("stat %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envKey maps NOTICERELAY_API__PUBLIC_KEYS=a,b to api.public_keys=[a b].
func envKey(key, value string) (string, interface{}) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")
	if strings.Contains(value, ",") {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return key, out
	}
	return key, value
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	var errs []error
	if len(c.Competitions()) == 0 {
		errs = append(errs, errors.New("platform: at least one competition is required"))
	}
	switch c.Notify.Kind {
	case "discord":
		if c.Notify.Discord.WebhookURL == "" {
			errs = append(errs, errors.New("notify.discord.webhook_url is required"))
		}
	case "slack":
		if c.Notify.Slack.WebhookURL == "" {
			errs = append(errs, errors.New("notify.slack.webhook_url is required"))
		}
	case "telegram":
		if c.Notify.Telegram.Token == "" || c.Notify.Telegram.ChatID == 0 {
			errs = append(errs, errors.New("notify.telegram.token and chat_id are required"))
		}
	}
	if c.Notify.Timezone != "" {
		if _, err := time.LoadLocation(c.Notify.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("notify.timezone: %w", err))
		}
	}
	switch c.Queue.Driver {
	case "postgres":
		if c.Queue.DSN == "" {
			errs = append(errs, errors.New("queue.dsn is required for postgres"))
		}
	case "file", "sqlite":
		if strings.TrimSpace(c.Queue.Path) == "" {
			errs = append(errs, errors.New("queue.path is required"))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Competitions returns the configured list, or the competition_id shorthand
// as a single entry.
func (c Config) Competitions() []domain.Competition {
	if len(c.Platform.Competitions) > 0 {
		out := make([]domain.Competition, 0, len(c.Platform.Competitions))
		for _, m := range c.Platform.Competitions {
			out = append(out, domain.Competition{ID: m.ID, Name: m.Name})
		}
		return out
	}
	if c.Platform.CompetitionID > 0 {
		return []domain.Competition{{ID: c.Platform.CompetitionID}}
	}
	return nil
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Platform.PollInterval) * time.Second
}
