package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file
//   - "redis": Redis sets (blacklist) and a capped stream (audit)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	Addr      string // redis only
	Password  string
	DB        int
	KeyPrefix string // default "boorubot:"
}

// Store is the persistence API used by the blacklist and the content service.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error

	// LoadBlacklist returns every persisted origin blacklist.
	LoadBlacklist(ctx context.Context) (map[int64][]string, error)
	AddBlacklistTag(ctx context.Context, origin int64, tag string) error
	RemoveBlacklistTag(ctx context.Context, origin int64, tag string) error

	Close() error
}

// AuditEntry records an operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At            time.Time `json:"at"`
	ActorID       int64     `json:"actor_id,omitempty"`
	ActorUsername string    `json:"actor_username,omitempty"`
	ChatID        int64     `json:"chat_id"`
	ThreadID      int       `json:"thread_id,omitempty"`
	Action        string    `json:"action"`
	Target        string    `json:"target,omitempty"`
	Error         string    `json:"error,omitempty"`
	TookMS        int64     `json:"took_ms,omitempty"`
	MetaJSON      string    `json:"meta,omitempty"`
}
