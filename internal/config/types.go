package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Providers ProvidersConfig `json:"providers"`
	Search    SearchConfig    `json:"search"`
	Cache     CacheConfig     `json:"cache"`
	Recurring RecurringConfig `json:"recurring"`

	Storage       *StorageConfig      `json:"storage,omitempty"`
	Observability ObservabilityConfig `json:"observability,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id that receives the chat log sink ("" disables it).
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// CommandTimeout bounds a single chat command handler. Default: 30s.
	CommandTimeout string `json:"command_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// ProvidersConfig controls the outbound booru clients.
//
// Defaults (when fields are omitted/zero):
//   - timeout: "10s"
//   - user_agent: "boorubot/1.0"
//   - rate_per_sec: 2 (per provider)
//   - random_pages: 10
type ProvidersConfig struct {
	Timeout     string  `json:"timeout,omitempty"`
	UserAgent   string  `json:"user_agent,omitempty"`
	RatePerSec  float64 `json:"rate_per_sec,omitempty"`
	Burst       int     `json:"burst,omitempty"`
	RandomPages int     `json:"random_pages,omitempty"`

	// Disabled lists provider names excluded from every search.
	Disabled []string `json:"disabled,omitempty"`

	// Credentials are optional per-provider API credentials keyed by provider name.
	Credentials map[string]ProviderCredentials `json:"credentials,omitempty"`

	// BaseURLs overrides the API root of a provider (mirrors, tests).
	BaseURLs map[string]string `json:"base_urls,omitempty"`
}

type ProviderCredentials struct {
	Login  string `json:"login"`
	APIKey string `json:"api_key"`
}

type SearchConfig struct {
	// BatchProviders is the fixed provider set queried by /hentaibomb.
	// Default: gelbooru, danbooru, konachan, yandere.
	BatchProviders []string `json:"batch_providers,omitempty"`
	// Timeout bounds a whole single-item search across all providers. Default: 45s.
	Timeout string `json:"timeout,omitempty"`
}

// CacheConfig controls the dedup cache.
//
// Scope is "global" (one delivered-set shared by every chat) or "origin"
// (each chat has its own dedup window). Default: global.
type CacheConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Capacity int    `json:"capacity,omitempty"` // default 5000
	TTL      string `json:"ttl,omitempty"`      // "0s" or empty disables expiry
	Scope    string `json:"scope,omitempty"`
}

type RecurringConfig struct {
	// MinInterval is the smallest accepted interval. Default: "20s".
	MinInterval string `json:"min_interval,omitempty"`
	// TickTimeout bounds one delivery tick. Default: "60s".
	TickTimeout string `json:"tick_timeout,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/boorubot.db" }
//	"storage": { "driver": "redis", "addr": "127.0.0.1:6379", "db": 2 }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)

	// redis
	Addr      string `json:"addr,omitempty"`
	Password  string `json:"password,omitempty"`
	DB        int    `json:"db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
}

// ObservabilityConfig controls the optional operator HTTP server
// (/metrics, /healthz and pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type ObservabilityConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9090"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /debug/pprof/profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}
