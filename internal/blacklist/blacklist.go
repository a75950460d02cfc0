// Package blacklist holds the per-origin sets of forbidden tags.
package blacklist

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/lo"

	"boorubot/internal/booru"
	"boorubot/internal/storage"
	logx "boorubot/pkg/logx"
)

// originSet is one origin's tags. Each origin has its own lock so toggles in
// different chats never contend.
type originSet struct {
	mu   sync.RWMutex
	tags map[string]struct{}
}

type Blacklist struct {
	mu      sync.RWMutex
	origins map[int64]*originSet

	store storage.Store // optional
	log   logx.Logger
}

// New returns an empty blacklist. store may be nil for a memory-only list.
func New(store storage.Store, log logx.Logger) *Blacklist {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Blacklist{
		origins: map[int64]*originSet{},
		store:   store,
		log:     log.With(logx.String("comp", "blacklist")),
	}
}

// Load restores persisted blacklists. It is a no-op without a store.
func (b *Blacklist) Load(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	all, err := b.store.LoadBlacklist(ctx)
	if err != nil {
		return err
	}
	total := 0
	for origin, tags := range all {
		set := b.set(origin, true)
		set.mu.Lock()
		for _, t := range tags {
			if t = booru.NormalizeTag(t); t != "" {
				set.tags[t] = struct{}{}
				total++
			}
		}
		set.mu.Unlock()
	}
	b.log.Info("blacklist loaded", logx.Int("origins", len(all)), logx.Int("tags", total))
	return nil
}

func (b *Blacklist) set(origin int64, create bool) *originSet {
	b.mu.RLock()
	s := b.origins[origin]
	b.mu.RUnlock()
	if s != nil || !create {
		return s
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if s = b.origins[origin]; s == nil {
		s = &originSet{tags: map[string]struct{}{}}
		b.origins[origin] = s
	}
	return s
}

// IsBlacklisted reports whether tag is forbidden for origin.
func (b *Blacklist) IsBlacklisted(origin int64, tag string) bool {
	s := b.set(origin, false)
	if s == nil {
		return false
	}
	tag = booru.NormalizeTag(tag)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tags[tag]
	return ok
}

// Any returns the first of tags that is forbidden for origin.
func (b *Blacklist) Any(origin int64, tags []string) (string, bool) {
	s := b.set(origin, false)
	if s == nil {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Find(tags, func(t string) bool {
		_, ok := s.tags[booru.NormalizeTag(t)]
		return ok
	})
}

// Toggle adds tag if absent or removes it if present, and reports whether the
// tag is now blacklisted. With a store configured the change is written
// through; if that fails the in-memory flip is undone and the error returned.
func (b *Blacklist) Toggle(ctx context.Context, origin int64, tag string) (bool, error) {
	tag = booru.NormalizeTag(tag)
	if tag == "" {
		return false, ErrEmptyTag
	}
	s := b.set(origin, true)
	s.mu.Lock()
	defer s.mu.Unlock()

	_, present := s.tags[tag]
	if present {
		delete(s.tags, tag)
	} else {
		s.tags[tag] = struct{}{}
	}

	if b.store != nil {
		var err error
		if present {
			err = b.store.RemoveBlacklistTag(ctx, origin, tag)
		} else {
			err = b.store.AddBlacklistTag(ctx, origin, tag)
		}
		if err != nil {
			if present {
				s.tags[tag] = struct{}{}
			} else {
				delete(s.tags, tag)
			}
			b.log.Warn("blacklist persist failed; change rolled back",
				logx.Int64("origin", origin), logx.String("tag", tag), logx.Err(err))
			return present, err
		}
	}
	b.log.Debug("blacklist toggled", logx.Int64("origin", origin), logx.String("tag", tag), logx.Bool("added", !present))
	return !present, nil
}

// List returns origin's tags in sorted order.
func (b *Blacklist) List(origin int64) []string {
	s := b.set(origin, false)
	if s == nil {
		return []string{}
	}
	s.mu.RLock()
	out := lo.Keys(s.tags)
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}
