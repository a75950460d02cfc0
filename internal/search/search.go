// Package search picks one fresh item out of the configured providers.
//
// A single search walks the providers in random order until one yields an
// item that is well formed, not blacklisted for the origin, and not yet
// delivered. A batch queries a fixed provider set in parallel and is limited
// to one in-flight request per origin.
package search

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"boorubot/internal/booru"
	"boorubot/internal/metrics"
	logx "boorubot/pkg/logx"
)

var (
	// ErrNotFound means every candidate provider was exhausted.
	ErrNotFound = errors.New("no matching content found")
	// ErrBusy means the origin already has a batch request in flight.
	ErrBusy = errors.New("a batch request is already running")
)

// Query is one search request.
type Query struct {
	Tags          []string
	Origin        int64
	ForceExplicit bool
}

// Blacklist is the tag filter consulted for every request and item.
type Blacklist interface {
	Any(origin int64, tags []string) (string, bool)
}

// Deduper records delivered items. A nil Deduper disables dedup.
type Deduper interface {
	TryInsert(origin int64, provider booru.ID, remoteID string) bool
}

type Config struct {
	ProviderTimeout time.Duration
	// RandomPages bounds the random page picked for untagged queries.
	RandomPages int
	Disabled    map[booru.ID]bool
}

type Orchestrator struct {
	clients   map[booru.ID]booru.Client
	blacklist Blacklist
	dedup     atomic.Pointer[dedupHolder]
	guard     *InFlightGuard
	cfg       atomic.Pointer[Config]
	log       logx.Logger

	intn func(n int) int
}

type dedupHolder struct{ d Deduper }

func New(clients map[booru.ID]booru.Client, bl Blacklist, dedup Deduper, cfg Config, log logx.Logger) *Orchestrator {
	if log.IsZero() {
		log = logx.Nop()
	}
	o := &Orchestrator{
		clients:   clients,
		blacklist: bl,
		guard:     NewInFlightGuard(),
		log:       log.With(logx.String("comp", "search")),
		intn:      rand.IntN,
	}
	o.SetConfig(cfg)
	o.SetDeduper(dedup)
	return o
}

// SetConfig swaps the runtime settings (hot reload).
func (o *Orchestrator) SetConfig(cfg Config) {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 10 * time.Second
	}
	if cfg.RandomPages <= 0 {
		cfg.RandomPages = 1
	}
	disabled := make(map[booru.ID]bool, len(cfg.Disabled))
	for id, off := range cfg.Disabled {
		disabled[id] = off
	}
	cfg.Disabled = disabled
	o.cfg.Store(&cfg)
}

// SetDeduper enables (non-nil) or disables (nil) dedup.
func (o *Orchestrator) SetDeduper(d Deduper) {
	o.dedup.Store(&dedupHolder{d: d})
}

func (o *Orchestrator) Guard() *InFlightGuard { return o.guard }

// Search runs the fallback loop over the whole registry, or over the explicit
// pool when q.ForceExplicit is set.
func (o *Orchestrator) Search(ctx context.Context, q Query) (booru.Item, error) {
	return o.search(ctx, q, booru.IDs(booru.List(q.ForceExplicit)), "single")
}

// SearchIn runs the fallback loop restricted to ids.
func (o *Orchestrator) SearchIn(ctx context.Context, q Query, ids ...booru.ID) (booru.Item, error) {
	return o.search(ctx, q, ids, "provider")
}

func (o *Orchestrator) search(ctx context.Context, q Query, ids []booru.ID, mode string) (booru.Item, error) {
	q.Tags = normalizeTags(q.Tags)
	if tag, hit := o.blacklist.Any(q.Origin, q.Tags); hit {
		o.log.Debug("query tag blacklisted", logx.Int64("origin", q.Origin), logx.String("tag", tag))
		metrics.RecordSearch(mode, "blacklisted")
		return booru.Item{}, ErrNotFound
	}

	candidates := lo.Shuffle(o.candidates(ids))
	for _, id := range candidates {
		if ctx.Err() != nil {
			break
		}
		if item, ok := o.tryProvider(ctx, id, q); ok {
			metrics.RecordSearch(mode, "found")
			return item, nil
		}
	}
	metrics.RecordSearch(mode, "not_found")
	return booru.Item{}, ErrNotFound
}

// Batch queries every provider in ids concurrently and returns the items
// found, in the order of ids. At most one batch per origin runs at a time.
func (o *Orchestrator) Batch(ctx context.Context, q Query, ids []booru.ID) ([]booru.Item, error) {
	if !o.guard.TryEnter(q.Origin) {
		metrics.RecordSearch("batch", "busy")
		return nil, ErrBusy
	}
	defer o.guard.Exit(q.Origin)

	q.Tags = normalizeTags(q.Tags)
	if tag, hit := o.blacklist.Any(q.Origin, q.Tags); hit {
		o.log.Debug("query tag blacklisted", logx.Int64("origin", q.Origin), logx.String("tag", tag))
		metrics.RecordSearch("batch", "blacklisted")
		return nil, ErrNotFound
	}

	ids = o.candidates(ids)
	results := make([]*booru.Item, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					o.log.Error("batch provider panic", logx.String("provider", id.String()),
						logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = nil
				}
			}()
			if item, ok := o.tryProvider(gctx, id, q); ok {
				results[i] = &item
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]booru.Item, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	if len(out) == 0 {
		metrics.RecordSearch("batch", "not_found")
		return nil, ErrNotFound
	}
	metrics.RecordSearch("batch", "found")
	return out, nil
}

// candidates keeps ids that are enabled and have a client, preserving order.
func (o *Orchestrator) candidates(ids []booru.ID) []booru.ID {
	cfg := o.cfg.Load()
	return lo.Filter(ids, func(id booru.ID, _ int) bool {
		_, ok := o.clients[id]
		return ok && !cfg.Disabled[id]
	})
}

// tryProvider is one step of the fallback loop. Every provider failure counts
// as an empty result.
func (o *Orchestrator) tryProvider(ctx context.Context, id booru.ID, q Query) (booru.Item, bool) {
	cfg := o.cfg.Load()
	page := 0
	if len(q.Tags) == 0 && cfg.RandomPages > 1 {
		page = o.intn(cfg.RandomPages)
	}

	items, err := o.fetch(ctx, id, booru.FetchRequest{Tags: q.Tags, Page: page, Explicit: q.ForceExplicit})
	if err == nil && len(items) == 0 && page > 0 {
		// Random pages can overshoot small result sets.
		items, err = o.fetch(ctx, id, booru.FetchRequest{Tags: q.Tags, Explicit: q.ForceExplicit})
	}
	if err != nil {
		o.log.Debug("provider fetch failed", logx.String("provider", id.String()), logx.Err(err))
		return booru.Item{}, false
	}
	return o.pick(id, q.Origin, items)
}

func (o *Orchestrator) fetch(ctx context.Context, id booru.ID, req booru.FetchRequest) ([]booru.Item, error) {
	cfg := o.cfg.Load()
	fctx, cancel := context.WithTimeout(ctx, cfg.ProviderTimeout)
	defer cancel()

	start := time.Now()
	items, err := o.clients[id].Fetch(fctx, req)
	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case len(items) == 0:
		status = "empty"
	}
	metrics.RecordFetch(id.String(), status, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("fetch page %d: %w", req.Page, err)
	}
	return items, nil
}

// pick returns the first acceptable item from a shuffled page.
func (o *Orchestrator) pick(id booru.ID, origin int64, items []booru.Item) (booru.Item, bool) {
	dedup := o.dedup.Load().d
	for _, it := range lo.Shuffle(items) {
		if !wellFormed(it.FileURL) {
			o.log.Error("provider returned malformed url", logx.String("provider", id.String()),
				logx.String("id", it.RemoteID), logx.String("url", it.FileURL))
			metrics.RecordDrop("bad_url")
			continue
		}
		if _, hit := o.blacklist.Any(origin, it.Tags); hit {
			metrics.RecordDrop("blacklisted")
			continue
		}
		if dedup != nil && !dedup.TryInsert(origin, it.Provider, it.RemoteID) {
			metrics.RecordDrop("duplicate")
			continue
		}
		return it, true
	}
	return booru.Item{}, false
}

// wellFormed accepts absolute http(s) URLs with a host.
func wellFormed(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, booru.SplitTags(t)...)
	}
	return lo.Uniq(out)
}
