package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "boorubot/pkg/logx"
)

const auditStreamMaxLen = 10000

// redisStore keeps one set per origin plus an index set of origins, and
// appends audit entries to a capped stream.
//
// Keys:
//   - <prefix>blacklist:origins   SET of origin ids
//   - <prefix>blacklist:<origin>  SET of tags
//   - <prefix>audit               STREAM
type redisStore struct {
	client *redis.Client
	prefix string
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("storage.addr is required for redis driver")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "boorubot:"
	}
	return &redisStore{client: client, prefix: prefix, log: log}, nil
}

func (s *redisStore) originsKey() string { return s.prefix + "blacklist:origins" }

func (s *redisStore) originKey(origin int64) string {
	return s.prefix + "blacklist:" + strconv.FormatInt(origin, 10)
}

func (s *redisStore) Close() error { return s.client.Close() }

func (s *redisStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.prefix + "audit",
		MaxLen: auditStreamMaxLen,
		Approx: true,
		Values: map[string]any{
			"at":             e.At.Format(time.RFC3339Nano),
			"actor_id":       e.ActorID,
			"actor_username": e.ActorUsername,
			"chat_id":        e.ChatID,
			"thread_id":      e.ThreadID,
			"action":         e.Action,
			"target":         e.Target,
			"err":            e.Error,
			"took_ms":        e.TookMS,
			"meta":           e.MetaJSON,
		},
	}).Err()
}

func (s *redisStore) LoadBlacklist(ctx context.Context) (map[int64][]string, error) {
	origins, err := s.client.SMembers(ctx, s.originsKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[int64][]string, len(origins))
	for _, raw := range origins {
		origin, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.log.Warn("skipping malformed blacklist origin", logx.String("origin", raw))
			continue
		}
		tags, err := s.client.SMembers(ctx, s.originKey(origin)).Result()
		if err != nil {
			return nil, err
		}
		if len(tags) == 0 {
			continue
		}
		sort.Strings(tags)
		out[origin] = tags
	}
	return out, nil
}

func (s *redisStore) AddBlacklistTag(ctx context.Context, origin int64, tag string) error {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.originKey(origin), tag)
	pipe.SAdd(ctx, s.originsKey(), strconv.FormatInt(origin, 10))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisStore) RemoveBlacklistTag(ctx context.Context, origin int64, tag string) error {
	// The origin stays in the index; LoadBlacklist skips empty sets.
	return s.client.SRem(ctx, s.originKey(origin), tag).Err()
}
