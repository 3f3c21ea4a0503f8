package cfg

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Telegram configuration
	BotToken  string `long:"bot-token" env:"BOT_TOKEN" description:"Telegram bot API token (required unless dry-run)"`
	BotTarget string `long:"bot-target" env:"BOT_TARGET" description:"Target chat id or @channel for news (required unless dry-run)"`
	BotAdmin  string `long:"bot-admin" env:"BOT_ADMIN" description:"Telegram user id allowed to send admin commands"`

	// Delivery configuration
	NewsCount     int `long:"news-count" env:"NEWS_COUNT" default:"2" description:"Maximum articles delivered per run"`
	MaxAgeDays    int `long:"max-age-days" env:"MAX_AGE_DAYS" default:"30" description:"Articles older than this are never delivered"`
	RetentionDays int `long:"retention-days" env:"RETENTION_DAYS" default:"30" description:"Delivery records older than this are pruned"`
	RunInterval   int `long:"run-interval" env:"RUN_INTERVAL" default:"41" description:"Pipeline interval in minutes"`
	ActiveFrom    int `long:"active-from" env:"ACTIVE_FROM" default:"6" description:"First hour of the day (local) when scheduled runs happen"`
	ActiveUntil   int `long:"active-until" env:"ACTIVE_UNTIL" default:"22" description:"Hour of the day (local) after which scheduled runs stop"`
	FetchTimeout  int `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"5" description:"Per-feed fetch timeout in seconds"`
	FetchWorkers  int `long:"fetch-workers" env:"FETCH_WORKERS" default:"4" description:"Number of feeds fetched in parallel"`

	// Storage configuration
	DBPath    string `long:"db-path" env:"DB_PATH" default:"store/rss-relay.db" description:"SQLite database file"`
	FeedsFile string `long:"feeds-file" env:"FEEDS_FILE" default:"feeds.yml" description:"YAML list of feeds seeded into an empty registry"`

	// HTTP admin API
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port (0 disables the server)"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Rewriting
	RewriteEndpoint string   `long:"rewrite-endpoint" env:"REWRITE_ENDPOINT" default:"https://api.openai.com/v1/chat/completions" description:"OpenAI-compatible chat completions endpoint"`
	RewriteAPIKey   string   `long:"rewrite-api-key" env:"REWRITE_API_KEY" description:"API key for the rewrite endpoint (rewriting disabled when empty)"`
	RewriteModels   []string `long:"rewrite-models" env:"REWRITE_MODELS" env-delim:"," default:"gpt-4o-mini" description:"Models tried in order when rewriting"`
	RewriteLanguage string   `long:"rewrite-language" env:"REWRITE_LANGUAGE" default:"italiano" description:"Language the summaries are translated into"`

	// Run modes
	DryRun    bool `short:"d" long:"dry-run" env:"DRY_RUN" description:"Log messages instead of sending them; the ledger is not written"`
	Force     bool `short:"f" long:"force" description:"Run the pipeline once and exit"`
	NoRewrite bool `short:"n" long:"no-rewrite" env:"NO_REWRITE" description:"Disable text rewriting"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"RSS Relay/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, Europe/Rome)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

// Load parses command-line arguments and environment variables. It returns nil, nil
// when help was requested.
func Load(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		BotToken:        strings.TrimSpace(raw.BotToken),
		BotTarget:       strings.TrimSpace(raw.BotTarget),
		NewsCount:       raw.NewsCount,
		MaxAgeDays:      raw.MaxAgeDays,
		RetentionDays:   raw.RetentionDays,
		RunInterval:     raw.RunInterval,
		ActiveFrom:      raw.ActiveFrom,
		ActiveUntil:     raw.ActiveUntil,
		FetchTimeout:    raw.FetchTimeout,
		FetchWorkers:    raw.FetchWorkers,
		DBPath:          raw.DBPath,
		FeedsFile:       raw.FeedsFile,
		Port:            raw.Port,
		APIAccessKey:    raw.APIAccessKey,
		RewriteEndpoint: raw.RewriteEndpoint,
		RewriteAPIKey:   raw.RewriteAPIKey,
		RewriteModels:   raw.RewriteModels,
		RewriteLanguage: raw.RewriteLanguage,
		DryRun:          raw.DryRun,
		Force:           raw.Force,
		NoRewrite:       raw.NoRewrite,
		UserAgent:       raw.UserAgent,
		Timezone:        raw.Timezone,
		Debug:           raw.Debug,
		Version:         GetVersion(),
	}

	if admin := strings.TrimSpace(raw.BotAdmin); admin != "" {
		id, err := strconv.ParseInt(admin, 10, 64)
		if err != nil {
			return nil, &ConfigError{Field: "BOT_ADMIN", Message: fmt.Sprintf("%q is not a numeric user id", admin)}
		}
		cfg.BotAdmin = id
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

// Validate checks the values the process cannot run without. Telegram
// credentials are only required when messages are actually sent.
func (c *Cfg) Validate() error {
	if !c.DryRun {
		switch {
		case c.BotToken == "":
			return &ConfigError{Field: "BOT_TOKEN", Message: "token is empty"}
		case len(c.BotToken) < 10:
			return &ConfigError{Field: "BOT_TOKEN", Message: "token is too short"}
		case !strings.Contains(c.BotToken, ":"):
			return &ConfigError{Field: "BOT_TOKEN", Message: "invalid token format"}
		}

		switch {
		case c.BotTarget == "":
			return &ConfigError{Field: "BOT_TARGET", Message: "target is empty"}
		case len(c.BotTarget) < 5:
			return &ConfigError{Field: "BOT_TARGET", Message: "target is too short"}
		case !isChatTarget(c.BotTarget):
			return &ConfigError{Field: "BOT_TARGET", Message: "target must be a numeric chat id or an @channel name"}
		}
	}

	positiveFields := map[string]int{
		"NEWS_COUNT":     c.NewsCount,
		"MAX_AGE_DAYS":   c.MaxAgeDays,
		"RETENTION_DAYS": c.RetentionDays,
		"RUN_INTERVAL":   c.RunInterval,
		"FETCH_TIMEOUT":  c.FetchTimeout,
		"FETCH_WORKERS":  c.FetchWorkers,
	}

	for fieldName, fieldValue := range positiveFields {
		if fieldValue <= 0 {
			return &ConfigError{Field: fieldName, Message: "must be positive"}
		}
	}

	if c.ActiveFrom < 0 || c.ActiveFrom > 23 {
		return &ConfigError{Field: "ACTIVE_FROM", Message: "must be an hour between 0 and 23"}
	}
	if c.ActiveUntil < 1 || c.ActiveUntil > 24 {
		return &ConfigError{Field: "ACTIVE_UNTIL", Message: "must be an hour between 1 and 24"}
	}
	if c.ActiveFrom >= c.ActiveUntil {
		return &ConfigError{Field: "ACTIVE_UNTIL", Message: "must be later than ACTIVE_FROM"}
	}

	if c.DBPath == "" {
		return &ConfigError{Field: "DB_PATH", Message: "database path is required"}
	}

	return nil
}

// IsActiveHour reports whether scheduled runs are allowed at t.
func (c *Cfg) IsActiveHour(t time.Time) bool {
	hour := t.In(time.Local).Hour()
	return hour >= c.ActiveFrom && hour < c.ActiveUntil
}

func isChatTarget(target string) bool {
	if strings.HasPrefix(target, "@") {
		return len(target) > 1
	}
	_, err := strconv.ParseInt(target, 10, 64)
	return err == nil
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			fmt.Printf("Timezone configured: %s\n", timezone)
		}
	}
	return nil
}
