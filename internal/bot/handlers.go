package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"boorubot/internal/booru"
	"boorubot/internal/content"
	"boorubot/internal/recurring"
	"boorubot/internal/search"
)

const notFoundText = "no results found"

func (r *Router) builtinCommands() []Command {
	cmds := []Command{
		{
			Name:        "help",
			Description: "show commands",
			Usage:       "/help",
			Handle: func(ctx context.Context, req *Request) error {
				r.reply(ctx, req, r.helpText())
				return nil
			},
		},
		{
			Name:        "hentai",
			Description: "random explicit image from any booru",
			Usage:       "/hentai [tags]",
			Handle:      r.handleHentai,
		},
		{
			Name:        "hentaibomb",
			Description: "one link from each bomb booru",
			Usage:       "/hentaibomb [tags]",
			Handle:      r.handleBomb,
		},
		{
			Name:        "boobs",
			Description: "random boobs",
			Usage:       "/boobs",
			Handle:      r.mediaHandler(booru.MediaBoobs),
		},
		{
			Name:        "butts",
			Description: "random butts",
			Usage:       "/butts",
			Handle:      r.mediaHandler(booru.MediaButts),
		},
		{
			Name:        "autohentai",
			Description: "post /hentai every interval; 0 stops",
			Usage:       "/autohentai [seconds] [tag1|tag2]",
			Access:      AccessOwnerOnly,
			Handle:      r.autoHandler(recurring.KindHentai),
		},
		{
			Name:        "autoboobs",
			Description: "post /boobs every interval; 0 stops",
			Usage:       "/autoboobs [seconds]",
			Access:      AccessOwnerOnly,
			Handle:      r.autoHandler(recurring.KindBoobs),
		},
		{
			Name:        "autobutts",
			Description: "post /butts every interval; 0 stops",
			Usage:       "/autobutts [seconds]",
			Access:      AccessOwnerOnly,
			Handle:      r.autoHandler(recurring.KindButts),
		},
		{
			Name:        "autostatus",
			Description: "list recurring posts",
			Usage:       "/autostatus",
			Access:      AccessOwnerOnly,
			Handle:      r.handleAutoStatus,
		},
		{
			Name:        "nsfwtagbl",
			Description: "list blacklisted tags or toggle one",
			Usage:       "/nsfwtagbl [tag]",
			Handle:      r.handleBlacklist,
		},
		{
			Name:        "nsfwcc",
			Description: "clear the dedup cache",
			Usage:       "/nsfwcc",
			Access:      AccessOwnerOnly,
			Handle:      r.handleClearCache,
		},
	}
	for _, d := range booru.List(false) {
		cmds = append(cmds, Command{
			Name:        d.Name(),
			Description: "random image from " + d.Name(),
			Usage:       "/" + d.Name() + " [tags]",
			Handle:      r.providerHandler(d.ID),
		})
	}
	return cmds
}

func queryTags(args []string) []string {
	var out []string
	for _, a := range args {
		out = append(out, booru.SplitTags(a)...)
	}
	return out
}

func (r *Router) handleHentai(ctx context.Context, req *Request) error {
	tags := queryTags(req.Args)
	item, err := r.content.Search(ctx, search.Query{Tags: tags, Origin: req.Origin, ForceExplicit: true})
	if errors.Is(err, search.ErrNotFound) {
		r.reply(ctx, req, notFoundText)
		return nil
	}
	if err != nil {
		return err
	}
	return r.content.Deliver(ctx, req.Chat, item, content.Caption(item, strings.Join(tags, " ")))
}

func (r *Router) handleBomb(ctx context.Context, req *Request) error {
	items, err := r.content.Batch(ctx, search.Query{Tags: queryTags(req.Args), Origin: req.Origin, ForceExplicit: true})
	switch {
	case errors.Is(err, search.ErrBusy):
		r.reply(ctx, req, "a bomb is already running here, wait for it to finish")
		return nil
	case errors.Is(err, search.ErrNotFound):
		r.reply(ctx, req, notFoundText)
		return nil
	case err != nil:
		return err
	}
	return r.content.DeliverLinks(ctx, req.Chat, items)
}

func (r *Router) providerHandler(id booru.ID) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		tags := queryTags(req.Args)
		item, err := r.content.SearchProvider(ctx, id, search.Query{Tags: tags, Origin: req.Origin})
		if errors.Is(err, search.ErrNotFound) {
			r.reply(ctx, req, notFoundText)
			return nil
		}
		if err != nil {
			return err
		}
		return r.content.Deliver(ctx, req.Chat, item, content.Caption(item, strings.Join(tags, " ")))
	}
}

func (r *Router) mediaHandler(kind booru.MediaKind) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		item, err := r.content.Media(ctx, kind)
		if errors.Is(err, search.ErrNotFound) {
			r.reply(ctx, req, notFoundText)
			return nil
		}
		if err != nil {
			return err
		}
		return r.content.Deliver(ctx, req.Chat, item, "")
	}
}

func (r *Router) autoHandler(kind recurring.Kind) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		var first string
		if len(req.Args) > 0 {
			first = req.Args[0]
		}
		interval, err := parseInterval(first)
		if err != nil {
			r.reply(ctx, req, err.Error())
			return nil
		}
		if interval == 0 {
			if r.content.StopRecurring(ctx, req.Actor, req.Chat, kind) {
				r.reply(ctx, req, "stopped")
			} else {
				r.reply(ctx, req, "nothing to stop")
			}
			return nil
		}

		var tags []string
		if kind == recurring.KindHentai && len(req.Args) > 1 {
			tags = parseTagChoices(req.Args[1:])
		}
		started, err := r.content.StartRecurring(ctx, req.Actor, req.Chat, kind, interval, tags)
		if err != nil {
			return err
		}
		if !started {
			r.mu.RLock()
			minInterval := r.minInterval
			r.mu.RUnlock()
			r.reply(ctx, req, fmt.Sprintf("interval must be at least %s", minInterval))
			return nil
		}
		msg := fmt.Sprintf("posting %s every %s", kind, interval)
		if len(tags) > 0 {
			msg += " with tags: " + strings.Join(tags, ", ")
		}
		r.reply(ctx, req, msg)
		return nil
	}
}

func (r *Router) handleAutoStatus(ctx context.Context, req *Request) error {
	jobs := r.content.ListRecurring()
	if len(jobs) == 0 {
		r.reply(ctx, req, "no recurring posts")
		return nil
	}
	var b strings.Builder
	for _, j := range jobs {
		fmt.Fprintf(&b, "%s chat=%d", j.Key.Kind, j.Key.Dest.ChatID)
		if j.Key.Dest.ThreadID != 0 {
			fmt.Fprintf(&b, " thread=%d", j.Key.Dest.ThreadID)
		}
		fmt.Fprintf(&b, " every=%s ticks=%d", j.Interval, j.Ticks)
		if len(j.Tags) > 0 {
			fmt.Fprintf(&b, " tags=%s", strings.Join(j.Tags, "|"))
		}
		b.WriteByte('\n')
	}
	r.reply(ctx, req, strings.TrimRight(b.String(), "\n"))
	return nil
}

func (r *Router) handleBlacklist(ctx context.Context, req *Request) error {
	tag := strings.TrimSpace(strings.Join(req.Args, " "))
	if len(strings.Fields(tag)) > 1 {
		r.reply(ctx, req, "usage: /nsfwtagbl <tag> (one tag; use _ for spaces)")
		return nil
	}
	if tag == "" {
		list := r.content.ListBlacklist(req.Origin)
		if len(list) == 0 {
			r.reply(ctx, req, "blacklisted tags: -")
			return nil
		}
		r.reply(ctx, req, "blacklisted tags: "+strings.Join(list, ", "))
		return nil
	}
	added, err := r.content.ToggleBlacklist(ctx, req.Actor, req.Origin, tag)
	if err != nil {
		return err
	}
	if added {
		r.reply(ctx, req, "blacklisted tag: "+booru.NormalizeTag(tag))
	} else {
		r.reply(ctx, req, "removed tag from blacklist: "+booru.NormalizeTag(tag))
	}
	return nil
}

func (r *Router) handleClearCache(ctx context.Context, req *Request) error {
	n := r.content.ClearCache(ctx, req.Actor, req.Chat)
	r.reply(ctx, req, fmt.Sprintf("👌 cleared %d cached items", n))
	return nil
}

var _ Content = (*content.Service)(nil)
