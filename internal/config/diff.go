package config

import (
	"reflect"
	"sort"
	"strings"

	logx "boorubot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging. Secrets (tokens, passwords, api keys) are never
// included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	// Telegram (never log token)
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		strings.TrimSpace(oldCfg.Telegram.CommandTimeout) != strings.TrimSpace(newCfg.Telegram.CommandTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		strings.TrimSpace(oldCfg.Telegram.GroupLog) != strings.TrimSpace(newCfg.Telegram.GroupLog) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// Providers (never log credentials)
	oP, nP := oldCfg.Providers, newCfg.Providers
	if oP.Timeout != nP.Timeout || oP.UserAgent != nP.UserAgent || oP.RatePerSec != nP.RatePerSec ||
		oP.Burst != nP.Burst || oP.RandomPages != nP.RandomPages ||
		!reflect.DeepEqual(oP.Disabled, nP.Disabled) ||
		!reflect.DeepEqual(oP.BaseURLs, nP.BaseURLs) ||
		!reflect.DeepEqual(oP.Credentials, nP.Credentials) {
		changed = append(changed, "providers")
		attrs = append(attrs,
			logx.String("providers.timeout", strings.TrimSpace(nP.Timeout)),
			logx.Strings("providers.disabled", nP.Disabled),
			logx.Int("providers.random_pages", nP.RandomPages),
			logx.Int("providers.credentials_count", len(nP.Credentials)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Search, newCfg.Search) {
		changed = append(changed, "search")
		attrs = append(attrs, logx.Strings("search.batch_providers", newCfg.Search.BatchProviders))
	}

	if !reflect.DeepEqual(oldCfg.Cache, newCfg.Cache) {
		changed = append(changed, "cache")
		attrs = append(attrs,
			logx.Bool("cache.enabled", newCfg.Cache.IsEnabled()),
			logx.Int("cache.capacity", newCfg.Cache.EffectiveCapacity()),
			logx.String("cache.scope", newCfg.Cache.EffectiveScope()),
			logx.String("cache.ttl", strings.TrimSpace(newCfg.Cache.TTL)),
		)
	}

	if oldCfg.Recurring != newCfg.Recurring {
		changed = append(changed, "recurring")
		attrs = append(attrs,
			logx.String("recurring.min_interval", strings.TrimSpace(newCfg.Recurring.MinInterval)),
			logx.String("recurring.tick_timeout", strings.TrimSpace(newCfg.Recurring.TickTimeout)),
		)
	}

	// Storage: nil means disabled. Password is never logged.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	oS.Password, nS.Password = redactSet(oS.Password), redactSet(nS.Password)
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.Bool("storage.addr_set", strings.TrimSpace(nS.Addr) != ""),
		)
	}

	// Observability (never log token)
	oO, nO := oldCfg.Observability, newCfg.Observability
	oO.Token, nO.Token = redactSet(oO.Token), redactSet(nO.Token)
	if oO != nO {
		changed = append(changed, "observability")
		attrs = append(attrs,
			logx.Bool("observability.enabled", nO.Enabled),
			logx.String("observability.addr", strings.TrimSpace(nO.Addr)),
			logx.Bool("observability.pprof", nO.Pprof),
			logx.Bool("observability.token_set", nO.Token != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// redactSet keeps only whether a secret is set so comparisons don't leak it.
func redactSet(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return "set"
}
