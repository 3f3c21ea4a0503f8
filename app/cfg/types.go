package cfg

import "time"

type Cfg struct {
	// Telegram configuration
	BotToken  string
	BotTarget string
	BotAdmin  int64

	// Delivery configuration
	NewsCount     int
	MaxAgeDays    int
	RetentionDays int
	RunInterval   int
	ActiveFrom    int
	ActiveUntil   int
	FetchTimeout  int
	FetchWorkers  int

	// Storage configuration
	DBPath    string
	FeedsFile string

	// HTTP admin API
	Port         string
	APIAccessKey string

	// Rewriting
	RewriteEndpoint string
	RewriteAPIKey   string
	RewriteModels   []string
	RewriteLanguage string

	// Run modes
	DryRun    bool
	Force     bool
	NoRewrite bool

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}

// ConfigError reports a missing or malformed configuration value.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "invalid configuration for " + e.Field + ": " + e.Message
}

func (c *Cfg) RewriteEnabled() bool {
	return !c.NoRewrite && c.RewriteAPIKey != "" && c.RewriteEndpoint != ""
}

func (c *Cfg) GetRunInterval() time.Duration {
	return time.Duration(c.RunInterval) * time.Minute
}

func (c *Cfg) GetFetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeout) * time.Second
}

func (c *Cfg) GetMaxAge() time.Duration {
	return time.Duration(c.MaxAgeDays) * 24 * time.Hour
}
