// Package app wires the bot together: config, logging, storage, providers,
// the content service, the command router and the operator HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"boorubot/internal/blacklist"
	"boorubot/internal/booru"
	"boorubot/internal/bot"
	"boorubot/internal/cache"
	"boorubot/internal/config"
	"boorubot/internal/content"
	"boorubot/internal/observability"
	"boorubot/internal/recurring"
	"boorubot/internal/search"
	"boorubot/internal/storage"
	kit "boorubot/internal/transport"
	"boorubot/internal/transport/telegram"
	logx "boorubot/pkg/logx"
)

var errNotReady = errors.New("not ready")

type App struct {
	cfgm *config.Manager

	log   logx.Logger
	logs  *logx.Service
	store storage.Store

	adapter kit.Adapter

	blacklist *blacklist.Blacklist
	search    *search.Orchestrator
	recurring *recurring.Registry
	content   *content.Service
	router    *bot.Router
	obs       *observability.Server

	// cache is the dedup cache held by content; nil when disabled. Only the
	// reload loop swaps it.
	cache *cache.Cache

	updates chan kit.Update
	ready   atomic.Bool

	cancel context.CancelFunc
	group  *errgroup.Group
	gctx   context.Context
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// The chat sink starts disabled so Apply does not warn before the target is set.
	logSvc, log := logx.New(mapLogConfig(cfg, false), ad)
	if chatID, ok := logChatID(cfg); ok {
		logSvc.SetChatTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
	logSvc.Apply(mapLogConfig(cfg, cfg.Logging.Telegram.Enabled))
	appLog := log.With(logx.String("comp", "app"))

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, err
		}
		store = st
		appLog.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	bl := blacklist.New(store, log)
	loadCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = bl.Load(loadCtx)
	cancel()
	if err != nil {
		closeStore(store)
		return nil, fmt.Errorf("load blacklist: %w", err)
	}

	var dedup *cache.Cache
	if cc, enabled, err := mapCacheConfig(cfg); err != nil {
		closeStore(store)
		return nil, err
	} else if enabled {
		dedup = cache.New(cc)
	}

	base, optsFor := mapProviderOptions(cfg)
	clients := booru.NewClients(base, optsFor)
	media := map[booru.MediaKind]content.MediaSource{}
	for _, kind := range []booru.MediaKind{booru.MediaBoobs, booru.MediaButts} {
		src, err := booru.NewMediaSource(kind, booru.MediaOptions{Options: base})
		if err != nil {
			closeStore(store)
			return nil, err
		}
		media[kind] = src
	}

	sc, err := mapSearchConfig(cfg)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	orch := search.New(clients, bl, nil, sc, log)

	rc, err := mapRecurringConfig(cfg)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	reg := recurring.New(rc, log)

	svc := content.New(content.Deps{
		Search:    orch,
		Media:     media,
		Blacklist: bl,
		Cache:     dedup,
		Recurring: reg,
		Delivery:  ad,
		Store:     store,
	}, log)
	svc.SetBatchProviders(cfg.Search.BatchIDs())
	if st, err := mapSearchTimeout(cfg); err == nil {
		svc.SetSearchTimeout(st)
	}

	routerCfg, err := mapRouterConfig(cfg)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	router := bot.NewRouter(svc, ad, routerCfg, log)

	a := &App{
		cfgm:      cfgm,
		log:       appLog,
		logs:      logSvc,
		store:     store,
		adapter:   ad,
		blacklist: bl,
		search:    orch,
		recurring: reg,
		content:   svc,
		router:    router,
		cache:     dedup,
		updates:   make(chan kit.Update, 256),
	}

	oc, err := mapObservabilityConfig(cfg)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	a.obs = observability.New(oc, a.readiness, log)

	appLog.Info("app configured",
		logx.Int("providers", len(clients)),
		logx.Bool("dedup", dedup != nil),
		logx.Bool("storage", store != nil),
		logx.Duration("min_interval", rc.MinInterval),
	)
	return a, nil
}

func closeStore(st storage.Store) {
	if st != nil {
		_ = st.Close()
	}
}

func (a *App) readiness(context.Context) error {
	if !a.ready.Load() {
		return errNotReady
	}
	return nil
}

// Done is closed when the run context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.gctx == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.gctx.Done()
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	a.cancel, a.group, a.gctx = cancel, g, gctx

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	if oc, err := mapObservabilityConfig(a.cfgm.Get()); err == nil {
		if err := a.obs.Reconfigure(gctx, oc); err != nil {
			a.log.Warn("observability server not started", logx.Err(err))
		}
	}

	if err := a.adapter.Start(gctx, a.updates); err != nil {
		cancel()
		return err
	}
	if mu, ok := a.adapter.(kit.CommandMenuUpdater); ok {
		menuCtx, menuCancel := context.WithTimeout(gctx, 10*time.Second)
		if err := mu.UpdateMenuCommands(menuCtx, a.router.MenuCommands()); err != nil {
			a.log.Warn("update command menu failed", logx.Err(err))
		}
		menuCancel()
	}

	g.Go(func() error { return a.router.Dispatch(gctx, a.updates) })

	sub := a.cfgm.Subscribe(8)
	g.Go(func() error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(gctx, sub)
		return nil
	})
	g.Go(func() error {
		err := a.cfgm.Watch(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.ready.Store(true)
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started")
	return nil
}

// ReloadConfig re-reads the config file now (SIGHUP). Subscribers receive it
// through the normal reload path.
func (a *App) ReloadConfig(ctx context.Context) {
	changed, err := a.cfgm.Reload(ctx)
	switch {
	case err != nil:
		a.log.Warn("manual config reload failed", logx.Err(err))
	case !changed:
		a.log.Info("manual config reload: no changes")
	}
}

// reloadLoop fans config updates out to every component.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			if newCfg == nil {
				continue
			}
			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			a.warnRestartRequired(lastApplied, newCfg)
			lastApplied = newCfg
			a.applyConfig(ctx, newCfg)

			if len(sections) > 0 {
				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
			} else {
				a.log.Info("config reloaded (no changes)")
			}
		}
	}
}

// warnRestartRequired logs settings that are only read at startup.
func (a *App) warnRestartRequired(oldCfg, newCfg *config.Config) {
	if oldCfg == nil || newCfg == nil {
		return
	}
	var fields []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token {
		fields = append(fields, "telegram.token")
	}
	if oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
		fields = append(fields, "telegram.poll_timeout")
	}
	oP, nP := oldCfg.Providers, newCfg.Providers
	if oP.UserAgent != nP.UserAgent || oP.RatePerSec != nP.RatePerSec || oP.Burst != nP.Burst ||
		!maps.Equal(oP.BaseURLs, nP.BaseURLs) || !maps.Equal(oP.Credentials, nP.Credentials) {
		fields = append(fields, "providers.client")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		fields = append(fields, "storage")
	}
	if len(fields) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.Strings("fields", fields))
	}
}

func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	if chatID, ok := logChatID(cfg); ok {
		a.logs.SetChatTarget(chatID, cfg.Logging.Telegram.ThreadID)
	} else {
		a.logs.SetChatTarget(0, 0)
	}
	a.logs.Apply(mapLogConfig(cfg, cfg.Logging.Telegram.Enabled))

	if rc, err := mapRouterConfig(cfg); err != nil {
		a.log.Warn("invalid router config; keeping previous", logx.Err(err))
	} else {
		a.router.Apply(rc)
	}

	if sc, err := mapSearchConfig(cfg); err != nil {
		a.log.Warn("invalid search config; keeping previous", logx.Err(err))
	} else {
		a.search.SetConfig(sc)
	}
	if st, err := mapSearchTimeout(cfg); err == nil {
		a.content.SetSearchTimeout(st)
	}
	a.content.SetBatchProviders(cfg.Search.BatchIDs())

	if rc, err := mapRecurringConfig(cfg); err != nil {
		a.log.Warn("invalid recurring config; keeping previous", logx.Err(err))
	} else {
		a.recurring.Apply(rc)
	}

	a.applyCache(cfg)

	if oc, err := mapObservabilityConfig(cfg); err != nil {
		a.log.Warn("invalid observability config; keeping previous", logx.Err(err))
	} else if err := a.obs.Reconfigure(ctx, oc); err != nil {
		a.log.Warn("observability reconfigure failed", logx.Err(err))
	}
}

// applyCache resizes the live cache, or creates or drops it when the enabled
// flag flips. TTL and scope changes rebuild the cache.
func (a *App) applyCache(cfg *config.Config) {
	cc, enabled, err := mapCacheConfig(cfg)
	if err != nil {
		a.log.Warn("invalid cache config; keeping previous", logx.Err(err))
		return
	}
	switch {
	case !enabled && a.cache != nil:
		a.cache = nil
		a.content.SetCache(nil)
		a.log.Info("dedup cache disabled via config")
	case enabled && a.cache == nil:
		a.cache = cache.New(cc)
		a.content.SetCache(a.cache)
		a.log.Info("dedup cache enabled via config")
	case enabled && a.cache.Config().TTL == cc.TTL && a.cache.Config().Scope == cc.Scope:
		if evicted := a.cache.Resize(cc.Capacity); evicted > 0 {
			a.log.Info("dedup cache resized", logx.Int("capacity", cc.Capacity), logx.Int("evicted", evicted))
		}
	case enabled:
		a.cache = cache.New(cc)
		a.content.SetCache(a.cache)
		a.log.Info("dedup cache rebuilt", logx.String("scope", cfg.Cache.EffectiveScope()))
	}
}

// Stop shuts components down in dependency order. Every step is bounded so
// one component cannot stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.group == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.ready.Store(false)
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < limit {
				limit = rem
			}
		}
		if limit <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("recurring", 4*time.Second, a.content.Close)
	step("observability", time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("workers", 2*time.Second, func(context.Context) error { return a.group.Wait() })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
