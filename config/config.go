package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	GatewayEvolution = "evolution"
	GatewayWhatsmeow = "whatsmeow"
)

type Config struct {
	LogLevel      string `yaml:"log_level"`
	HTTPAddr      string `yaml:"http_addr"`
	Timezone      string `yaml:"timezone"`
	WebhookSecret string `yaml:"webhook_secret"`
	Gateway       string `yaml:"gateway"`

	Database  DatabaseConfig  `yaml:"database"`
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp"`
	Evolution EvolutionConfig `yaml:"evolution"`
	Chatwoot  ChatwootConfig  `yaml:"chatwoot"`
	Trello    TrelloConfig    `yaml:"trello"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	S3        S3Config        `yaml:"s3"`
	Warmup    WarmupConfig    `yaml:"warmup"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Outreach  OutreachConfig  `yaml:"outreach"`
}

type WhatsAppConfig struct {
	// SessionDSN is the sqlite store that keeps the paired device.
	SessionDSN string `yaml:"session_dsn"`
}

type EvolutionConfig struct {
	URL            string `yaml:"url"`
	APIKey         string `yaml:"api_key"`
	Instance       string `yaml:"instance"`
	ChunkPauseMs   int    `yaml:"chunk_pause_ms"`
	TypingDelayMs  int    `yaml:"typing_delay_ms"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type ChatwootConfig struct {
	URL             string   `yaml:"url"`
	Token           string   `yaml:"token"`
	AccountID       string   `yaml:"account_id"`
	DeclineKeywords []string `yaml:"decline_keywords"`
}

type TrelloConfig struct {
	APIKey         string `yaml:"api_key"`
	Token          string `yaml:"token"`
	BoardID        string `yaml:"board_id"`
	ListCold       string `yaml:"list_cold"`
	ListConnection string `yaml:"list_connection"`
	ListInterested string `yaml:"list_interested"`
	ListArchived   string `yaml:"list_archived"`
}

type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type S3Config struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Endpoint  string `yaml:"endpoint"`
	// PathStyle addresses buckets as endpoint/bucket, as MinIO expects.
	PathStyle bool `yaml:"path_style"`
}

type WarmupStep struct {
	MaxDays int `yaml:"max_days"`
	Limit   int `yaml:"limit"`
}

type WarmupConfig struct {
	Enabled    bool         `yaml:"enabled"`
	StartDate  string       `yaml:"start_date"`
	Steps      []WarmupStep `yaml:"steps"`
	FinalLimit int          `yaml:"final_limit"`
}

type ScheduleConfig struct {
	WorkHours                []string `yaml:"work_hours"`
	ExcludedDays             []string `yaml:"excluded_days"`
	MessageIntervalMinutes   int      `yaml:"message_interval_minutes"`
	HeartbeatIntervalMinutes int      `yaml:"heartbeat_interval_minutes"`
	ErrorBackoffSeconds      int      `yaml:"error_backoff_seconds"`
}

type OutreachConfig struct {
	MaxCandidatesPerCycle int      `yaml:"max_candidates_per_cycle"`
	FollowUpBudget        int      `yaml:"follow_up_budget"`
	FirstFollowUpHours    int      `yaml:"first_follow_up_hours"`
	FollowUpHours         int      `yaml:"follow_up_hours"`
	StopKeywords          []string `yaml:"stop_keywords"`
}

// Load reads an optional .env, the optional YAML file at path and the
// environment, in increasing order of precedence.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		LogLevel: "info",
		HTTPAddr: ":8081",
		Timezone: "America/Sao_Paulo",
		Gateway:  GatewayEvolution,
		Database: DatabaseConfig{
			Driver:       "sqlite",
			DSN:          "file:outreach.db?_pragma=busy_timeout(5000)",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		WhatsApp: WhatsAppConfig{
			SessionDSN: "file:whatsapp-session.db?_pragma=foreign_keys(1)",
		},
		Evolution: EvolutionConfig{
			Instance:       "Ivair",
			ChunkPauseMs:   3000,
			TypingDelayMs:  1200,
			TimeoutSeconds: 20,
		},
		AMQP: AMQPConfig{Exchange: "outreach"},
		S3:   S3Config{Region: "us-east-1"},
		Schedule: ScheduleConfig{
			WorkHours:                []string{"09:00-11:20", "14:00-17:20"},
			ExcludedDays:             []string{"saturday", "sunday"},
			MessageIntervalMinutes:   30,
			HeartbeatIntervalMinutes: 5,
			ErrorBackoffSeconds:      60,
		},
		Outreach: OutreachConfig{
			MaxCandidatesPerCycle: 10,
			FollowUpBudget:        3,
			FirstFollowUpHours:    48,
			FollowUpHours:         72,
		},
	}
}

func applyEnvOverrides(cfg *Config) error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(name string, dst *int) error {
		v, ok := os.LookupEnv(name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s must be an integer: %w", name, err)
		}
		*dst = n
		return nil
	}

	str("LOG_LEVEL", &cfg.LogLevel)
	str("HTTP_ADDR", &cfg.HTTPAddr)
	str("TIMEZONE", &cfg.Timezone)
	str("WEBHOOK_SECRET", &cfg.WebhookSecret)
	str("MESSAGING_GATEWAY", &cfg.Gateway)

	str("DATABASE_DRIVER", &cfg.Database.Driver)
	str("DATABASE_DSN", &cfg.Database.DSN)
	str("WHATSAPP_SESSION_DSN", &cfg.WhatsApp.SessionDSN)

	str("EVOLUTION_API_URL", &cfg.Evolution.URL)
	str("EVOLUTION_API_KEY", &cfg.Evolution.APIKey)
	str("EVOLUTION_INSTANCE_NAME", &cfg.Evolution.Instance)

	str("CHATWOOT_API_URL", &cfg.Chatwoot.URL)
	str("CHATWOOT_API_TOKEN", &cfg.Chatwoot.Token)
	str("CHATWOOT_ACCOUNT_ID", &cfg.Chatwoot.AccountID)

	str("TRELLO_API_KEY", &cfg.Trello.APIKey)
	str("TRELLO_TOKEN", &cfg.Trello.Token)
	str("TRELLO_BOARD_ID", &cfg.Trello.BoardID)
	str("TRELLO_LIST_COLD", &cfg.Trello.ListCold)
	str("TRELLO_LIST_CONNECTION", &cfg.Trello.ListConnection)
	str("TRELLO_LIST_INTERESTED", &cfg.Trello.ListInterested)
	str("TRELLO_LIST_ARCHIVED", &cfg.Trello.ListArchived)

	str("AMQP_URL", &cfg.AMQP.URL)
	str("AMQP_EXCHANGE", &cfg.AMQP.Exchange)

	str("S3_REGION", &cfg.S3.Region)
	str("S3_ACCESS_KEY", &cfg.S3.AccessKey)
	str("S3_SECRET_KEY", &cfg.S3.SecretKey)
	str("S3_ENDPOINT", &cfg.S3.Endpoint)

	str("WARMUP_START_DATE", &cfg.Warmup.StartDate)
	if v, ok := os.LookupEnv("WARMUP_ENABLED"); ok && v != "" {
		enabled, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("WARMUP_ENABLED must be a boolean: %w", err)
		}
		cfg.Warmup.Enabled = enabled
	}
	if v, ok := os.LookupEnv("S3_PATH_STYLE"); ok && v != "" {
		pathStyle, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("S3_PATH_STYLE must be a boolean: %w", err)
		}
		cfg.S3.PathStyle = pathStyle
	}

	if err := num("MESSAGE_INTERVAL_MINUTES", &cfg.Schedule.MessageIntervalMinutes); err != nil {
		return err
	}
	return num("MAX_CANDIDATES_PER_CYCLE", &cfg.Outreach.MaxCandidatesPerCycle)
}

func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	switch c.Gateway {
	case GatewayEvolution, GatewayWhatsmeow:
	default:
		return fmt.Errorf("gateway must be %q or %q, got %q", GatewayEvolution, GatewayWhatsmeow, c.Gateway)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.Schedule.MessageIntervalMinutes <= 0 {
		return errors.New("schedule.message_interval_minutes must be > 0")
	}
	if c.Schedule.HeartbeatIntervalMinutes <= 0 {
		return errors.New("schedule.heartbeat_interval_minutes must be > 0")
	}
	if len(c.Schedule.WorkHours) == 0 {
		return errors.New("schedule.work_hours must list at least one range")
	}
	if c.Outreach.MaxCandidatesPerCycle <= 0 {
		return errors.New("outreach.max_candidates_per_cycle must be > 0")
	}
	if c.Outreach.FollowUpBudget < 0 {
		return errors.New("outreach.follow_up_budget must be >= 0")
	}
	if c.Warmup.Enabled && c.Warmup.StartDate != "" {
		if _, err := c.WarmupStart(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WarmupStart parses Warmup.StartDate as a calendar day in the configured
// timezone. It returns nil when no date is set.
func (c *Config) WarmupStart() (*time.Time, error) {
	if c.Warmup.StartDate == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation("2006-01-02", c.Warmup.StartDate, c.Location())
	if err != nil {
		return nil, fmt.Errorf("warmup.start_date must be YYYY-MM-DD: %w", err)
	}
	return &t, nil
}

func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Schedule.MessageIntervalMinutes) * time.Minute
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Schedule.HeartbeatIntervalMinutes) * time.Minute
}

func (c *Config) ErrorBackoff() time.Duration {
	return time.Duration(c.Schedule.ErrorBackoffSeconds) * time.Second
}
