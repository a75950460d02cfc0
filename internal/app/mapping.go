package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"boorubot/internal/blacklist"
	"boorubot/internal/booru"
	"boorubot/internal/bot"
	"boorubot/internal/cache"
	"boorubot/internal/config"
	"boorubot/internal/observability"
	"boorubot/internal/recurring"
	"boorubot/internal/search"
	"boorubot/internal/storage"
	logx "boorubot/pkg/logx"
)

// mapLogConfig builds the logging config. chat overrides the chat sink flag so
// the target can be set before the sink is enabled.
func mapLogConfig(cfg *config.Config, chat bool) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    chat,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// logChatID parses telegram.group_log. ok is false when the field is empty or
// not a chat id.
func logChatID(cfg *config.Config) (int64, bool) {
	s := strings.TrimSpace(cfg.Telegram.GroupLog)
	if s == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	case "redis":
		if strings.TrimSpace(sc.Addr) == "" {
			return storage.Config{}, false, fmt.Errorf("storage.addr is required when storage.driver=redis")
		}
		return storage.Config{
			Driver:    "redis",
			Addr:      strings.TrimSpace(sc.Addr),
			Password:  sc.Password,
			DB:        sc.DB,
			KeyPrefix: sc.KeyPrefix,
		}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapProviderOptions returns the shared client options and the per-provider
// override hook (credentials, base urls).
func mapProviderOptions(cfg *config.Config) (booru.Options, func(booru.ID, booru.Options) booru.Options) {
	p := cfg.Providers
	rps := p.RatePerSec
	if rps == 0 {
		rps = config.DefaultRatePerSec
	}
	ua := strings.TrimSpace(p.UserAgent)
	if ua == "" {
		ua = config.DefaultUserAgent
	}
	base := booru.Options{
		HTTP:       booru.DefaultHTTPClient(),
		UserAgent:  ua,
		RatePerSec: rps,
		Burst:      max(p.Burst, 1),
	}

	creds := map[booru.ID]booru.Credentials{}
	for name, c := range p.Credentials {
		if id, ok := booru.ParseID(name); ok {
			creds[id] = booru.Credentials{Login: c.Login, APIKey: c.APIKey}
		}
	}
	urls := map[booru.ID]string{}
	for name, u := range p.BaseURLs {
		if id, ok := booru.ParseID(name); ok {
			urls[id] = u
		}
	}
	optsFor := func(id booru.ID, o booru.Options) booru.Options {
		if c, ok := creds[id]; ok {
			o.Credentials = c
		}
		if u, ok := urls[id]; ok {
			o.BaseURL = u
		}
		return o
	}
	return base, optsFor
}

func mapSearchConfig(cfg *config.Config) (search.Config, error) {
	timeout, err := config.ParseDurationOrDefault("providers.timeout", cfg.Providers.Timeout, config.DefaultProviderTimeout)
	if err != nil {
		return search.Config{}, err
	}
	pages := cfg.Providers.RandomPages
	if pages <= 0 {
		pages = config.DefaultRandomPages
	}
	return search.Config{
		ProviderTimeout: timeout,
		RandomPages:     pages,
		Disabled:        cfg.Providers.DisabledIDs(),
	}, nil
}

func mapSearchTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("search.timeout", cfg.Search.Timeout, config.DefaultSearchTimeout)
}

// mapCacheConfig returns ok=false when the dedup cache is disabled.
func mapCacheConfig(cfg *config.Config) (cache.Config, bool, error) {
	if !cfg.Cache.IsEnabled() {
		return cache.Config{}, false, nil
	}
	ttl, err := config.ParseDurationField("cache.ttl", cfg.Cache.TTL)
	if err != nil {
		return cache.Config{}, false, err
	}
	return cache.Config{
		Capacity: cfg.Cache.EffectiveCapacity(),
		TTL:      ttl,
		Scope:    cache.ParseScope(cfg.Cache.EffectiveScope()),
	}, true, nil
}

func mapRecurringConfig(cfg *config.Config) (recurring.Config, error) {
	minInterval, err := config.ParseDurationOrDefault("recurring.min_interval", cfg.Recurring.MinInterval, config.DefaultMinInterval)
	if err != nil {
		return recurring.Config{}, err
	}
	tick, err := config.ParseDurationOrDefault("recurring.tick_timeout", cfg.Recurring.TickTimeout, config.DefaultTickTimeout)
	if err != nil {
		return recurring.Config{}, err
	}
	return recurring.Config{MinInterval: minInterval, TickTimeout: tick}, nil
}

func mapRouterConfig(cfg *config.Config) (bot.Config, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.command_timeout", cfg.Telegram.CommandTimeout, config.DefaultCommandTimeout)
	if err != nil {
		return bot.Config{}, err
	}
	rc, err := mapRecurringConfig(cfg)
	if err != nil {
		return bot.Config{}, err
	}
	return bot.Config{
		Owners:      cfg.Telegram.OwnerUserIDs,
		Timeout:     timeout,
		MinInterval: rc.MinInterval,
	}, nil
}

func mapObservabilityConfig(cfg *config.Config) (observability.Config, error) {
	oc := cfg.Observability
	read, err := config.ParseDurationOrDefault("observability.read_timeout", oc.ReadTimeout, 10*time.Second)
	if err != nil {
		return observability.Config{}, err
	}
	write, err := config.ParseDurationField("observability.write_timeout", oc.WriteTimeout)
	if err != nil {
		return observability.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("observability.idle_timeout", oc.IdleTimeout, 60*time.Second)
	if err != nil {
		return observability.Config{}, err
	}
	addr := strings.TrimSpace(oc.Addr)
	if addr == "" {
		addr = observability.DefaultAddr
	}
	return observability.Config{
		Enabled:              oc.Enabled,
		Addr:                 addr,
		Token:                strings.TrimSpace(oc.Token),
		AllowInsecure:        oc.AllowInsecure,
		Pprof:                oc.Pprof,
		ReadTimeout:          read,
		WriteTimeout:         write,
		IdleTimeout:          idle,
		MutexProfileFraction: oc.MutexProfileFraction,
		BlockProfileRate:     oc.BlockProfileRate,
	}, nil
}

// validate rejects a config the running app could not apply. It backs both
// startup and hot reload.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSearchConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapCacheConfig(cfg); err != nil {
		return err
	}
	if _, err := mapRouterConfig(cfg); err != nil {
		return err
	}
	if _, err := mapObservabilityConfig(cfg); err != nil {
		return err
	}
	return nil
}

// NewStandaloneSearch builds an orchestrator without dedup or persistence for
// one-off lookups from the command line. cfg may be nil.
func NewStandaloneSearch(cfg *config.Config, log logx.Logger) (*search.Orchestrator, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	sc, err := mapSearchConfig(cfg)
	if err != nil {
		return nil, err
	}
	base, optsFor := mapProviderOptions(cfg)
	return search.New(booru.NewClients(base, optsFor), blacklist.New(nil, log), nil, sc, log), nil
}

// LoadConfig parses and validates the config file at path without starting
// anything.
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.NewManager(path).Parse()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
