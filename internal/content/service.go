// Package content is the facade the command layer talks to. It ties the
// search orchestrator, media sources, blacklist, dedup cache and recurring
// registry to a delivery channel, and writes audit entries for operator
// actions when a store is configured.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"

	"boorubot/internal/blacklist"
	"boorubot/internal/booru"
	"boorubot/internal/cache"
	"boorubot/internal/metrics"
	"boorubot/internal/recurring"
	"boorubot/internal/search"
	"boorubot/internal/storage"
	kit "boorubot/internal/transport"
	logx "boorubot/pkg/logx"
)

var (
	ErrUnknownKind = errors.New("unknown content kind")
	ErrNoDelivery  = errors.New("no delivery channel configured")
)

// MediaSource returns one random untagged item.
type MediaSource interface {
	Random(ctx context.Context) (booru.Item, error)
}

// Actor is whoever triggered an operation; it only feeds the audit log.
type Actor struct {
	ID       int64
	Username string
}

type Deps struct {
	Search    *search.Orchestrator
	Media     map[booru.MediaKind]MediaSource
	Blacklist *blacklist.Blacklist
	Cache     *cache.Cache // nil when dedup is disabled
	Recurring *recurring.Registry
	Delivery  kit.Delivery
	Store     storage.Store // optional, audit only
}

type Service struct {
	search    *search.Orchestrator
	media     map[booru.MediaKind]MediaSource
	blacklist *blacklist.Blacklist
	cache     atomic.Pointer[cacheHolder]
	recurring *recurring.Registry
	delivery  kit.Delivery
	store     storage.Store
	batchIDs  atomic.Pointer[[]booru.ID]
	timeout   atomic.Int64 // search deadline in ns; 0 means none
	log       logx.Logger

	intn func(n int) int
}

type cacheHolder struct{ c *cache.Cache }

func New(d Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		search:    d.Search,
		media:     d.Media,
		blacklist: d.Blacklist,
		recurring: d.Recurring,
		delivery:  d.Delivery,
		store:     d.Store,
		log:       log.With(logx.String("comp", "content")),
		intn:      rand.IntN,
	}
	s.SetCache(d.Cache)
	s.SetBatchProviders(nil)
	return s
}

// SetCache swaps the dedup cache; nil disables dedup.
func (s *Service) SetCache(c *cache.Cache) {
	s.cache.Store(&cacheHolder{c: c})
	if c == nil {
		s.search.SetDeduper(nil)
		return
	}
	s.search.SetDeduper(c)
}

// SetBatchProviders sets the provider set used by Batch. An empty list falls
// back to gelbooru, danbooru, konachan and yandere.
func (s *Service) SetBatchProviders(ids []booru.ID) {
	if len(ids) == 0 {
		ids = []booru.ID{booru.Gelbooru, booru.Danbooru, booru.Konachan, booru.Yandere}
	}
	cp := append([]booru.ID(nil), ids...)
	s.batchIDs.Store(&cp)
}

func (s *Service) BatchProviders() []booru.ID {
	return append([]booru.ID(nil), *s.batchIDs.Load()...)
}

// SetSearchTimeout bounds a whole search across all providers. Zero disables
// the bound.
func (s *Service) SetSearchTimeout(d time.Duration) {
	s.timeout.Store(int64(max(d, 0)))
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := time.Duration(s.timeout.Load()); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// Search returns one fresh item from any provider of the pool.
func (s *Service) Search(ctx context.Context, q search.Query) (booru.Item, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.search.Search(ctx, q)
}

// SearchProvider returns one fresh item from a single provider.
func (s *Service) SearchProvider(ctx context.Context, id booru.ID, q search.Query) (booru.Item, error) {
	if _, ok := booru.Lookup(id); !ok {
		return booru.Item{}, booru.ErrUnknownProvider
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.search.SearchIn(ctx, q, id)
}

// Batch returns one item per provider of the batch set, in set order.
func (s *Service) Batch(ctx context.Context, q search.Query) ([]booru.Item, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.search.Batch(ctx, q, s.BatchProviders())
}

// Media returns one random item of kind. Source failures map to
// search.ErrNotFound.
func (s *Service) Media(ctx context.Context, kind booru.MediaKind) (booru.Item, error) {
	src := s.media[kind]
	if src == nil {
		return booru.Item{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	start := time.Now()
	item, err := src.Random(ctx)
	if err != nil {
		metrics.RecordFetch(string(kind), "error", time.Since(start).Seconds())
		s.log.Debug("media fetch failed", logx.String("kind", string(kind)), logx.Err(err))
		return booru.Item{}, fmt.Errorf("%w: %s: %v", search.ErrNotFound, kind, err)
	}
	metrics.RecordFetch(string(kind), "ok", time.Since(start).Seconds())
	return item, nil
}

// Deliver posts item to a destination. Delivery failures are returned as is;
// nothing is retried.
func (s *Service) Deliver(ctx context.Context, to kit.ChatTarget, item booru.Item, caption string) error {
	if s.delivery == nil {
		return ErrNoDelivery
	}
	if _, err := s.delivery.SendPhoto(ctx, to, item.FileURL, caption); err != nil {
		metrics.RecordDelivery("error")
		return fmt.Errorf("send %s/%s: %w", item.Provider, item.RemoteID, err)
	}
	metrics.RecordDelivery("ok")
	return nil
}

// DeliverLinks posts the file URLs of items as one text message.
func (s *Service) DeliverLinks(ctx context.Context, to kit.ChatTarget, items []booru.Item) error {
	if s.delivery == nil {
		return ErrNoDelivery
	}
	links := make([]string, 0, len(items))
	for _, it := range items {
		links = append(links, it.FileURL)
	}
	if _, err := s.delivery.SendText(ctx, to, strings.Join(links, "\n\n"), nil); err != nil {
		metrics.RecordDelivery("error")
		return fmt.Errorf("send links: %w", err)
	}
	metrics.RecordDelivery("ok")
	return nil
}

// Caption labels an item with the tag it was searched for, or its provider.
func Caption(item booru.Item, tag string) string {
	if tag = strings.TrimSpace(tag); tag != "" {
		return "tag: " + tag
	}
	return item.Provider.String() + " #" + item.RemoteID
}

// StartRecurring installs the recurring job for (to, kind). For KindHentai
// each entry of tags is a tag choice (one or more space separated tags); every
// tick picks one at random. It returns false when interval is below the
// minimum.
func (s *Service) StartRecurring(ctx context.Context, actor Actor, to kit.ChatTarget, kind recurring.Kind, interval time.Duration, tags []string) (bool, error) {
	job, err := s.jobFor(kind, to)
	if err != nil {
		return false, err
	}
	started, err := s.recurring.Start(recurring.Key{Dest: to, Kind: kind}, interval, tags, job)
	if err == nil && started {
		s.audit(ctx, actor, to, "recurring_start", string(kind), nil, map[string]any{
			"interval_s": int64(interval / time.Second),
			"tags":       tags,
		})
	}
	return started, err
}

// StopRecurring stops the job for (to, kind) and reports whether one existed.
func (s *Service) StopRecurring(ctx context.Context, actor Actor, to kit.ChatTarget, kind recurring.Kind) bool {
	stopped := s.recurring.Stop(recurring.Key{Dest: to, Kind: kind})
	if stopped {
		s.audit(ctx, actor, to, "recurring_stop", string(kind), nil, nil)
	}
	return stopped
}

func (s *Service) ListRecurring() []recurring.Snapshot {
	return s.recurring.List()
}

func (s *Service) jobFor(kind recurring.Kind, to kit.ChatTarget) (recurring.Job, error) {
	switch kind {
	case recurring.KindHentai:
		return func(ctx context.Context, t recurring.Tick) error {
			var choice string
			if len(t.Tags) > 0 {
				choice = t.Tags[s.intn(len(t.Tags))]
			}
			item, err := s.Search(ctx, search.Query{
				Tags:          booru.SplitTags(choice),
				Origin:        to.ChatID,
				ForceExplicit: true,
			})
			if errors.Is(err, search.ErrNotFound) {
				s.log.Debug("recurring search found nothing", logx.Int64("chat_id", to.ChatID), logx.String("tag", choice))
				return nil
			}
			if err != nil {
				return err
			}
			return s.Deliver(ctx, to, item, Caption(item, choice))
		}, nil
	case recurring.KindBoobs, recurring.KindButts:
		mk := booru.MediaKind(kind)
		if s.media[mk] == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
		}
		return func(ctx context.Context, _ recurring.Tick) error {
			item, err := s.Media(ctx, mk)
			if err != nil {
				return err
			}
			return s.Deliver(ctx, to, item, "")
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

// ToggleBlacklist flips tag for origin and reports whether it is now
// blacklisted.
func (s *Service) ToggleBlacklist(ctx context.Context, actor Actor, origin int64, tag string) (bool, error) {
	added, err := s.blacklist.Toggle(ctx, origin, tag)
	// On failure the returned state is the unchanged one, not the attempt.
	adding := added
	if err != nil {
		adding = !added
	}
	action := "blacklist_remove"
	if adding {
		action = "blacklist_add"
	}
	s.audit(ctx, actor, kit.ChatTarget{ChatID: origin}, action, booru.NormalizeTag(tag), err, nil)
	return added, err
}

func (s *Service) ListBlacklist(origin int64) []string {
	return s.blacklist.List(origin)
}

// ClearCache empties the dedup cache and returns how many entries it held.
func (s *Service) ClearCache(ctx context.Context, actor Actor, at kit.ChatTarget) int {
	c := s.cache.Load().c
	if c == nil {
		return 0
	}
	n := c.Len()
	c.Clear()
	s.audit(ctx, actor, at, "cache_clear", "", nil, map[string]any{"entries": n})
	s.log.Info("dedup cache cleared", logx.Int("entries", n), logx.Int64("actor_id", actor.ID))
	return n
}

// Close stops every recurring job.
func (s *Service) Close(ctx context.Context) error {
	return s.recurring.Close(ctx)
}

func (s *Service) audit(ctx context.Context, actor Actor, at kit.ChatTarget, action, target string, opErr error, meta map[string]any) {
	if s.store == nil {
		return
	}
	e := storage.AuditEntry{
		At:            time.Now().UTC(),
		ActorID:       actor.ID,
		ActorUsername: actor.Username,
		ChatID:        at.ChatID,
		ThreadID:      at.ThreadID,
		Action:        action,
		Target:        target,
	}
	if opErr != nil {
		e.Error = opErr.Error()
	}
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			e.MetaJSON = string(b)
		}
	}
	// Audit writes survive request cancellation.
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.store.AppendAudit(actx, e); err != nil {
		s.log.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}
