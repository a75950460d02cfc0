package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "boorubot/internal/transport"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Chat    ChatConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// ChatConfig controls the operator chat sink.
type ChatConfig struct {
	Enabled    bool
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

const (
	defaultLogPath = "./boorubot.log"
	chatQueueSize  = 256
	chatMaxLen     = 3500
	chatMaxValue   = 600
)

// Service owns the live sinks. Apply rebuilds them; Loggers taken from the
// Service pick up the change on their next event.
type Service struct {
	root   atomic.Pointer[zerolog.Logger]
	sender kit.Delivery

	chatQ     chan chatLine
	chatStart sync.Once
	chatStop  context.CancelFunc
	chatDone  sync.WaitGroup

	mu       sync.Mutex
	file     *os.File
	target   kit.ChatTarget
	limiter  *rate.Limiter
	minLevel zerolog.Level
}

type chatLine struct {
	to   kit.ChatTarget
	text string
}

// New applies cfg and returns the Service with a root Logger bound to it.
// sender may be nil, which disables the chat sink.
func New(cfg Config, sender kit.Delivery) (*Service, Logger) {
	s := &Service{
		sender: sender,
		chatQ:  make(chan chatLine, chatQueueSize),
		target: kit.ChatTarget{ThreadID: cfg.Chat.ThreadID},
	}
	boot := consoleLogger(os.Stdout, parseLevel(cfg.Level, zerolog.InfoLevel))
	s.root.Store(&boot)
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger { return *s.root.Load() }

// SetChatTarget points the chat sink at chatID. A zero threadID keeps the
// configured thread.
func (s *Service) SetChatTarget(chatID int64, threadID int) {
	s.mu.Lock()
	s.target.ChatID = chatID
	if threadID != 0 {
		s.target.ThreadID = threadID
	}
	s.mu.Unlock()
}

// Apply rebuilds the sinks from cfg. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rps := max(1, cfg.Chat.RatePerSec)
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	s.minLevel = parseLevel(cfg.Chat.MinLevel, zerolog.WarnLevel)
	if cfg.Chat.ThreadID != 0 {
		s.target.ThreadID = cfg.Chat.ThreadID
	}

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}
	if f := s.reopenFileLocked(cfg.File); f != nil {
		sinks = append(sinks, zerolog.SyncWriter(f))
	}
	if cfg.Chat.Enabled && s.sender != nil {
		s.startChatLocked()
		sinks = append(sinks, chatSink{s})
		if s.target.ChatID == 0 {
			fmt.Fprintln(os.Stderr, "logx: chat sink enabled without a chat id; telegram.group_log is empty")
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

func (s *Service) reopenFileLocked(fc FileConfig) *os.File {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if !fc.Enabled {
		return nil
	}
	path := strings.TrimSpace(fc.Path)
	if path == "" {
		path = defaultLogPath
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logx: open %s: %v\n", path, err)
		return nil
	}
	s.file = f
	return f
}

func (s *Service) startChatLocked() {
	s.chatStart.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.chatStop = cancel
		s.chatDone.Add(1)
		go func() {
			defer s.chatDone.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case l := <-s.chatQ:
					_, _ = s.sender.SendText(ctx, l.to, l.text, &kit.SendOptions{DisablePreview: true})
				}
			}
		}()
	})
}

// Close stops the chat worker and closes the log file.
func (s *Service) Close() error {
	s.mu.Lock()
	f, stop := s.file, s.chatStop
	s.file, s.chatStop = nil, nil
	s.mu.Unlock()

	if stop != nil {
		stop()
		s.chatDone.Wait()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

// offer queues one event for the chat. It drops the event rather than block.
func (s *Service) offer(level zerolog.Level, p []byte) {
	s.mu.Lock()
	to, lim, minLevel := s.target, s.limiter, s.minLevel
	s.mu.Unlock()

	if to.ChatID == 0 || level < minLevel || lim == nil || !lim.Allow() {
		return
	}
	text := renderChat(p)
	if text == "" {
		return
	}
	select {
	case s.chatQ <- chatLine{to: to, text: text}:
	default:
	}
}

type chatSink struct{ s *Service }

func (c chatSink) Write(p []byte) (int, error) { return c.WriteLevel(zerolog.InfoLevel, p) }

func (c chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.s.offer(level, p)
	return len(p), nil
}

// renderChat turns a JSON event into "[LEVEL] message" followed by one
// "- key=value" line per remaining field, keys sorted.
func renderChat(p []byte) string {
	var ev map[string]any
	if err := json.Unmarshal(p, &ev); err != nil {
		return clip(strings.TrimSpace(string(p)), chatMaxLen)
	}
	var b strings.Builder
	if lvl, _ := ev[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := ev[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	delete(ev, zerolog.LevelFieldName)
	delete(ev, zerolog.MessageFieldName)
	delete(ev, zerolog.TimestampFieldName)
	keys := make([]string, 0, len(ev))
	for k := range ev {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(ev[k]), chatMaxValue))
	}
	return clip(b.String(), chatMaxLen)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
