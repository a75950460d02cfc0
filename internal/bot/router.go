// Package bot maps chat commands onto the content service.
package bot

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"boorubot/internal/booru"
	"boorubot/internal/content"
	"boorubot/internal/recurring"
	"boorubot/internal/search"
	kit "boorubot/internal/transport"
	logx "boorubot/pkg/logx"
)

// Content is the slice of content.Service the router needs.
type Content interface {
	Search(ctx context.Context, q search.Query) (booru.Item, error)
	SearchProvider(ctx context.Context, id booru.ID, q search.Query) (booru.Item, error)
	Batch(ctx context.Context, q search.Query) ([]booru.Item, error)
	Media(ctx context.Context, kind booru.MediaKind) (booru.Item, error)
	Deliver(ctx context.Context, to kit.ChatTarget, item booru.Item, caption string) error
	DeliverLinks(ctx context.Context, to kit.ChatTarget, items []booru.Item) error
	StartRecurring(ctx context.Context, actor content.Actor, to kit.ChatTarget, kind recurring.Kind, interval time.Duration, tags []string) (bool, error)
	StopRecurring(ctx context.Context, actor content.Actor, to kit.ChatTarget, kind recurring.Kind) bool
	ListRecurring() []recurring.Snapshot
	ToggleBlacklist(ctx context.Context, actor content.Actor, origin int64, tag string) (bool, error)
	ListBlacklist(origin int64) []string
	ClearCache(ctx context.Context, actor content.Actor, at kit.ChatTarget) int
}

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Description string
	Usage       string
	Access      Access
	Handle      HandlerFunc
}

// Request is one parsed command invocation.
type Request struct {
	Msg     *kit.Message
	Chat    kit.ChatTarget
	Origin  int64
	Actor   content.Actor
	Command string
	Args    []string
	ReqID   string
	Log     logx.Logger
}

// OriginOf returns the blacklist scope of a message: the user for private
// chats, the chat otherwise.
func OriginOf(m *kit.Message) int64 {
	if m == nil {
		return 0
	}
	if m.IsPrivate {
		return m.FromID
	}
	return m.ChatID
}

type Config struct {
	Owners      []int64
	Timeout     time.Duration
	MinInterval time.Duration
	Workers     int
	QueueSize   int
}

type Router struct {
	content Content
	sender  kit.Delivery
	log     logx.Logger

	mu          sync.RWMutex
	owners      []int64
	timeout     time.Duration
	minInterval time.Duration

	commands map[string]Command
	workers  int
	jobs     chan func()
}

func NewRouter(c Content, sender kit.Delivery, cfg Config, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = max(runtime.NumCPU(), 4)
	}
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = 256
	}
	r := &Router{
		content: c,
		sender:  sender,
		log:     log.With(logx.String("comp", "bot")),
		workers: workers,
		jobs:    make(chan func(), queue),
	}
	r.Apply(cfg)
	r.commands = map[string]Command{}
	for _, cmd := range r.builtinCommands() {
		r.commands[cmd.Name] = cmd
	}
	return r
}

// Apply updates owners, handler timeout and the advertised minimum interval.
// Safe to call during hot reload.
func (r *Router) Apply(cfg Config) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r.mu.Lock()
	r.owners = append([]int64(nil), cfg.Owners...)
	r.timeout = timeout
	r.minInterval = cfg.MinInterval
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.owners, id)
}

// MenuCommands lists the commands for the platform menu, sorted by name.
func (r *Router) MenuCommands() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// Dispatch consumes updates until ctx is done or updates is closed. Handlers
// run on a bounded worker pool.
func (r *Router) Dispatch(ctx context.Context, updates <-chan kit.Update) error {
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers), logx.Int("job_queue_cap", cap(r.jobs)))

	var wg sync.WaitGroup
	wg.Add(r.workers)
	for i := 0; i < r.workers; i++ {
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					r.log.Error("panic in command worker", logx.Int("worker", i), logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
				}
			}()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-r.jobs:
					job()
				}
			}
		}()
	}
	defer func() {
		wg.Wait()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == kit.UpdateMessage {
				r.route(ctx, up.Message)
			}
		}
	}
}

func (r *Router) route(ctx context.Context, msg *kit.Message) {
	if msg == nil {
		return
	}
	parts := tokenizeCommandLine(msg.Text)
	if len(parts) == 0 {
		return
	}
	word, ok := commandWord(parts[0])
	if !ok {
		return
	}
	cmd, ok := r.commands[word]
	if !ok {
		// Other bots in the same group may own the command.
		return
	}

	req := r.newRequest(msg, cmd.Name, parts[1:])
	if cmd.Access == AccessOwnerOnly && !r.isOwner(msg.FromID) {
		req.Log.Info("unauthorized command")
		r.reply(ctx, req, "unauthorized")
		return
	}

	r.mu.RLock()
	timeout := r.timeout
	r.mu.RUnlock()
	final := Chain(cmd.Handle, mwPanicRecover(), mwRequestLog(), mwTimeout(timeout))

	select {
	case r.jobs <- func() { _ = final(ctx, req) }:
	default:
		r.reply(ctx, req, "busy, try again")
	}
}

func (r *Router) newRequest(msg *kit.Message, name string, args []string) *Request {
	rid := newReqID()
	return &Request{
		Msg:     msg,
		Chat:    msg.Target(),
		Origin:  OriginOf(msg),
		Actor:   content.Actor{ID: msg.FromID, Username: msg.FromUsername},
		Command: name,
		Args:    args,
		ReqID:   rid,
		Log: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int("thread_id", msg.ThreadID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", name),
		),
	}
}

func (r *Router) reply(ctx context.Context, req *Request, text string) {
	if r.sender == nil {
		return
	}
	if _, err := r.sender.SendText(ctx, req.Chat, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		req.Log.Warn("reply failed", logx.Err(err))
	}
}

func (r *Router) helpText() string {
	names := make([]string, 0, len(r.commands))
	for n := range r.commands {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString("commands:\n")
	for _, n := range names {
		c := r.commands[n]
		b.WriteString(c.Usage)
		if c.Description != "" {
			b.WriteString(" - ")
			b.WriteString(c.Description)
		}
		if c.Access == AccessOwnerOnly {
			b.WriteString(" (owner)")
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
