package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"boorubot/internal/booru"
)

const (
	CacheScopeGlobal = "global"
	CacheScopeOrigin = "origin"

	DefaultProviderTimeout = 10 * time.Second
	DefaultSearchTimeout   = 45 * time.Second
	DefaultMinInterval     = 20 * time.Second
	DefaultTickTimeout     = 60 * time.Second
	DefaultCommandTimeout  = 30 * time.Second
	DefaultCacheCapacity   = 5000
	DefaultRandomPages     = 10
	DefaultRatePerSec      = 2
	DefaultUserAgent       = "boorubot/1.0"
)

// DefaultBatchProviders is used when search.batch_providers is omitted.
var DefaultBatchProviders = []booru.ID{booru.Gelbooru, booru.Danbooru, booru.Konachan, booru.Yandere}

// IsEnabled reports whether dedup is on. An omitted flag means enabled.
func (c CacheConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// EffectiveScope returns the configured scope or the default.
func (c CacheConfig) EffectiveScope() string {
	s := strings.ToLower(strings.TrimSpace(c.Scope))
	if s == "" {
		return CacheScopeGlobal
	}
	return s
}

func (c CacheConfig) EffectiveCapacity() int {
	if c.Capacity <= 0 {
		return DefaultCacheCapacity
	}
	return c.Capacity
}

// DisabledIDs resolves providers.disabled into ids. Unknown names are reported by Validate.
func (p ProvidersConfig) DisabledIDs() map[booru.ID]bool {
	out := make(map[booru.ID]bool, len(p.Disabled))
	for _, name := range p.Disabled {
		if id, ok := booru.ParseID(name); ok {
			out[id] = true
		}
	}
	return out
}

// BatchIDs resolves search.batch_providers, falling back to the defaults.
func (s SearchConfig) BatchIDs() []booru.ID {
	if len(s.BatchProviders) == 0 {
		return append([]booru.ID(nil), DefaultBatchProviders...)
	}
	out := make([]booru.ID, 0, len(s.BatchProviders))
	for _, name := range s.BatchProviders {
		if id, ok := booru.ParseID(name); ok {
			out = append(out, id)
		}
	}
	return out
}

// Validate checks cross-field constraints that the strict decoder cannot.
// It is used at startup and as the hot-reload validator.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	durations := []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"telegram.command_timeout", cfg.Telegram.CommandTimeout},
		{"providers.timeout", cfg.Providers.Timeout},
		{"search.timeout", cfg.Search.Timeout},
		{"cache.ttl", cfg.Cache.TTL},
		{"recurring.min_interval", cfg.Recurring.MinInterval},
		{"recurring.tick_timeout", cfg.Recurring.TickTimeout},
		{"observability.read_timeout", cfg.Observability.ReadTimeout},
		{"observability.write_timeout", cfg.Observability.WriteTimeout},
		{"observability.idle_timeout", cfg.Observability.IdleTimeout},
	}
	if cfg.Storage != nil {
		durations = append(durations, struct{ path, raw string }{"storage.busy_timeout", cfg.Storage.BusyTimeout})
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}

	if mi, err := ParseDurationField("recurring.min_interval", cfg.Recurring.MinInterval); err == nil && mi > 0 && mi < time.Second {
		errs = append(errs, errors.New("recurring.min_interval: must be >= 1s"))
	}

	checkNames := func(path string, names []string) {
		for _, name := range names {
			if _, ok := booru.ParseID(name); !ok {
				errs = append(errs, fmt.Errorf("%s: unknown provider %q", path, name))
			}
		}
	}
	checkNames("providers.disabled", cfg.Providers.Disabled)
	checkNames("search.batch_providers", cfg.Search.BatchProviders)
	for name := range cfg.Providers.Credentials {
		checkNames("providers.credentials", []string{name})
	}
	for name := range cfg.Providers.BaseURLs {
		checkNames("providers.base_urls", []string{name})
	}
	if cfg.Providers.RatePerSec < 0 {
		errs = append(errs, errors.New("providers.rate_per_sec: must be >= 0"))
	}
	if cfg.Providers.RandomPages < 0 {
		errs = append(errs, errors.New("providers.random_pages: must be >= 0"))
	}

	switch cfg.Cache.EffectiveScope() {
	case CacheScopeGlobal, CacheScopeOrigin:
	default:
		errs = append(errs, fmt.Errorf("cache.scope: must be %q or %q", CacheScopeGlobal, CacheScopeOrigin))
	}
	if cfg.Cache.Capacity < 0 {
		errs = append(errs, errors.New("cache.capacity: must be >= 0"))
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite":
		case "redis":
			if strings.TrimSpace(s.Addr) == "" {
				errs = append(errs, errors.New("storage.addr: required for redis"))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unsupported %q", s.Driver))
		}
	}

	return errors.Join(errs...)
}
