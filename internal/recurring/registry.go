// Package recurring runs at most one interval delivery job per
// (destination, content kind) key.
//
// Replacing or stopping a job cancels its tick context, removes its cron
// entry and waits for in-flight ticks to drain before the call returns, so a
// superseded job never delivers after its replacement is installed. The drain
// holds only the per-key lock; other keys are never blocked by it.
package recurring

import (
	"context"
	"errors"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"boorubot/internal/metrics"
	kit "boorubot/internal/transport"
	logx "boorubot/pkg/logx"
)

// Kind is the content kind of a recurring job.
type Kind string

const (
	KindHentai Kind = "hentai"
	KindBoobs  Kind = "boobs"
	KindButts  Kind = "butts"
)

// Key identifies a job. At most one job is live per key.
type Key struct {
	Dest kit.ChatTarget
	Kind Kind
}

// Tick is passed to a job on every firing.
type Tick struct {
	Key  Key
	Tags []string
	Seq  uint64
}

// Job performs one delivery. Errors are logged; the schedule continues.
type Job func(ctx context.Context, t Tick) error

var (
	ErrClosed = errors.New("recurring registry closed")
	ErrNilJob = errors.New("recurring job is nil")
)

type Config struct {
	MinInterval time.Duration
	TickTimeout time.Duration
}

// Snapshot describes a live job.
type Snapshot struct {
	Key      Key
	ID       string
	Interval time.Duration
	Tags     []string
	Started  time.Time
	Ticks    uint64
}

type entry struct {
	key      Key
	id       string
	interval time.Duration
	tags     []string
	started  time.Time
	cronID   cron.EntryID

	// ctx is cancelled when the entry is superseded or stopped. Ticks check it
	// before running, so it doubles as the entry's generation marker.
	ctx    context.Context
	cancel context.CancelFunc

	// Ticks hold runMu for reading; stop takes it for writing to drain them.
	runMu sync.RWMutex
	ticks atomic.Uint64
}

type Registry struct {
	// keyLocks serializes Start and Stop per key. It is taken before mu.
	keyLocks sync.Map // Key -> *sync.Mutex

	mu     sync.Mutex
	c      *cron.Cron
	jobs   map[Key]*entry
	closed bool

	// cfg is read by ticks, which must never take mu.
	cfg atomic.Pointer[Config]

	base   context.Context
	cancel context.CancelFunc
	log    logx.Logger
}

func New(cfg Config, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	base, cancel := context.WithCancel(context.Background())
	r := &Registry{
		c:      cron.New(),
		jobs:   map[Key]*entry{},
		base:   base,
		cancel: cancel,
		log:    log.With(logx.String("comp", "recurring")),
	}
	r.Apply(cfg)
	r.c.Start()
	return r
}

func withDefaults(cfg Config) Config {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 20 * time.Second
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = time.Minute
	}
	return cfg
}

// Apply swaps the runtime settings. Live jobs keep their interval.
func (r *Registry) Apply(cfg Config) {
	cfg = withDefaults(cfg)
	r.cfg.Store(&cfg)
}

func (r *Registry) keyLock(key Key) *sync.Mutex {
	mu, _ := r.keyLocks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Start installs a job for key, replacing any existing one. It returns false
// without touching the registry when interval is below the configured minimum.
func (r *Registry) Start(key Key, interval time.Duration, tags []string, job Job) (bool, error) {
	if job == nil {
		return false, ErrNilJob
	}
	if interval < r.cfg.Load().MinInterval {
		return false, nil
	}
	kmu := r.keyLock(key)
	kmu.Lock()
	defer kmu.Unlock()

	old, err := r.detach(key)
	if err != nil {
		return false, err
	}
	if old != nil {
		old.drain()
		r.log.Info("recurring job replaced", logx.String("kind", string(key.Kind)),
			logx.Int64("chat_id", key.Dest.ChatID), logx.String("old_id", old.id))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, ErrClosed
	}
	ctx, cancel := context.WithCancel(r.base)
	e := &entry{
		key:      key,
		id:       uuid.NewString(),
		interval: interval,
		tags:     append([]string(nil), tags...),
		started:  time.Now(),
		ctx:      ctx,
		cancel:   cancel,
	}
	e.cronID = r.c.Schedule(cron.Every(interval), cron.FuncJob(func() { r.fire(e, job) }))
	r.jobs[key] = e
	metrics.RecurringJobs.Set(float64(len(r.jobs)))

	r.log.Info("recurring job started", logx.String("id", e.id), logx.String("kind", string(key.Kind)),
		logx.Int64("chat_id", key.Dest.ChatID), logx.Duration("interval", interval), logx.Strings("tags", e.tags))
	return true, nil
}

// detach removes the job for key from the registry and cancels it. The caller
// drains it after mu is released.
func (r *Registry) detach(key Key) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	e := r.jobs[key]
	if e == nil {
		return nil, nil
	}
	r.detachLocked(e)
	return e, nil
}

func (r *Registry) detachLocked(e *entry) {
	e.cancel()
	r.c.Remove(e.cronID)
	delete(r.jobs, e.key)
	metrics.RecurringJobs.Set(float64(len(r.jobs)))
}

// Stop removes the job for key and reports whether one existed. It returns
// once the job's in-flight ticks have finished.
func (r *Registry) Stop(key Key) bool {
	kmu := r.keyLock(key)
	kmu.Lock()
	defer kmu.Unlock()

	r.mu.Lock()
	e := r.jobs[key]
	if e != nil {
		r.detachLocked(e)
	}
	r.mu.Unlock()
	if e == nil {
		return false
	}
	e.drain()
	r.log.Info("recurring job stopped", logx.String("id", e.id), logx.String("kind", string(key.Kind)),
		logx.Int64("chat_id", key.Dest.ChatID), logx.Uint64("ticks", e.ticks.Load()))
	return true
}

// StopAll removes every job and returns how many were stopped.
func (r *Registry) StopAll() int {
	r.mu.Lock()
	stopped := make([]*entry, 0, len(r.jobs))
	for _, e := range r.jobs {
		stopped = append(stopped, e)
		r.detachLocked(e)
	}
	r.mu.Unlock()
	for _, e := range stopped {
		e.drain()
	}
	return len(stopped)
}

// drain waits for in-flight ticks of a cancelled entry.
func (e *entry) drain() {
	e.runMu.Lock()
	e.runMu.Unlock() //nolint:staticcheck
}

// List returns the live jobs ordered by chat, thread and kind.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	out := make([]Snapshot, 0, len(r.jobs))
	for _, e := range r.jobs {
		out = append(out, Snapshot{
			Key:      e.key,
			ID:       e.id,
			Interval: e.interval,
			Tags:     append([]string(nil), e.tags...),
			Started:  e.started,
			Ticks:    e.ticks.Load(),
		})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.Dest.ChatID != b.Dest.ChatID {
			return a.Dest.ChatID < b.Dest.ChatID
		}
		if a.Dest.ThreadID != b.Dest.ThreadID {
			return a.Dest.ThreadID < b.Dest.ThreadID
		}
		return a.Kind < b.Kind
	})
	return out
}

// Len returns the number of live jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Close stops every job and the underlying cron. It waits for running ticks
// until ctx is done.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	stopped := make(chan int, 1)
	go func() { stopped <- r.StopAll() }()
	select {
	case n := <-stopped:
		r.log.Info("recurring registry closing", logx.Int("jobs", n))
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-r.c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) fire(e *entry, job Job) {
	// A writer holds or waits for runMu only while the entry is being stopped.
	if !e.runMu.TryRLock() {
		return
	}
	defer e.runMu.RUnlock()
	if e.ctx.Err() != nil {
		return
	}

	timeout := r.cfg.Load().TickTimeout

	seq := e.ticks.Add(1)
	log := r.log.With(logx.String("id", e.id), logx.String("kind", string(e.key.Kind)),
		logx.Int64("chat_id", e.key.Dest.ChatID), logx.Uint64("seq", seq))

	ctx, cancel := context.WithTimeout(e.ctx, timeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			metrics.RecordTick(string(e.key.Kind), "panic")
			log.Error("recurring tick panic", logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
		}
	}()

	start := time.Now()
	err := job(ctx, Tick{Key: e.key, Tags: e.tags, Seq: seq})
	if err != nil {
		metrics.RecordTick(string(e.key.Kind), "error")
		log.Warn("recurring tick failed", logx.Err(err), logx.Duration("took", time.Since(start)))
		return
	}
	metrics.RecordTick(string(e.key.Kind), "ok")
	log.Debug("recurring tick done", logx.Duration("took", time.Since(start)))
}
