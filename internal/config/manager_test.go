package config

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boorubot/internal/booru"
	logx "boorubot/pkg/logx"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParseYAMLAndJSON(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
	}{
		{
			name: "json",
			file: "config.json",
			body: `{"telegram":{"token":"x","owner_user_ids":[7]},"cache":{"capacity":2,"scope":"origin"},"search":{"batch_providers":["yandere"]}}`,
		},
		{
			name: "yaml",
			file: "config.yaml",
			body: "telegram:\n  token: x\n  owner_user_ids: [7]\ncache:\n  capacity: 2\n  scope: origin\nsearch:\n  batch_providers: [yandere]\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewManager(writeFile(t, tt.file, tt.body))
			cfg, err := m.Load()
			require.NoError(t, err)
			assert.Equal(t, "x", cfg.Telegram.Token)
			assert.Equal(t, []int64{7}, cfg.Telegram.OwnerUserIDs)
			assert.Equal(t, 2, cfg.Cache.EffectiveCapacity())
			assert.Equal(t, CacheScopeOrigin, cfg.Cache.EffectiveScope())
			assert.Equal(t, []booru.ID{booru.Yandere}, cfg.Search.BatchIDs())
			assert.Same(t, cfg, m.Get())
		})
	}
}

func TestParseExpandsEnvReferences(t *testing.T) {
	t.Setenv("BOORUBOT_TEST_TOKEN", "from-env")
	m := NewManager(writeFile(t, "config.yaml", "telegram:\n  token: ${BOORUBOT_TEST_TOKEN}\nstorage:\n  driver: redis\n  addr: x:1\n  password: pa$$word\n"))
	cfg, err := m.Parse()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Telegram.Token)
	assert.Equal(t, "pa$$word", cfg.Storage.Password)
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown field", body: `{"telegram":{"token":"x"},"plugins":{}}`},
		{name: "trailing data", body: `{}{}`},
		{name: "malformed", body: `{"telegram":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewManager(writeFile(t, "config.json", tt.body)).Parse()
			require.Error(t, err)
		})
	}
}

func TestReload(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"telegram":{"token":"a"}}`)
	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	changed, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, changed, "identical content is not republished")

	require.NoError(t, os.WriteFile(path, []byte(`{"telegram":{"token":"b"}}`), 0o600))
	changed, err = m.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	select {
	case got := <-sub:
		assert.Equal(t, "b", got.Telegram.Token)
	default:
		t.Fatal("subscriber did not receive the reloaded config")
	}

	m.SetValidator(func(context.Context, *Config) error { return errors.New("nope") })
	require.NoError(t, os.WriteFile(path, []byte(`{"telegram":{"token":"c"}}`), 0o600))
	_, err = m.Reload(context.Background())
	require.ErrorContains(t, err, "rejected")
	assert.Equal(t, "b", m.Get().Telegram.Token, "rejected config is not committed")

	require.NoError(t, os.WriteFile(path, []byte(`{"telegram":`), 0o600))
	_, err = m.Reload(context.Background())
	require.Error(t, err)
	assert.Equal(t, "b", m.Get().Telegram.Token)
}

func TestPublishKeepsLatest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused.json")
	sub := m.Subscribe(1)
	m.publish(&Config{Search: SearchConfig{Timeout: "1s"}})
	m.publish(&Config{Search: SearchConfig{Timeout: "2s"}})
	got := <-sub
	assert.Equal(t, "2s", got.Search.Timeout)

	m.Unsubscribe(sub)
	_, ok := <-sub
	assert.False(t, ok, "unsubscribe closes the channel")
}

func TestWatchPublishesFileChange(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"telegram":{"token":"a"}}`)
	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// The watcher may not be armed yet; keep rewriting until it fires.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(`{"telegram":{"token":"b"}}`), 0o600)
		select {
		case got := <-sub:
			return got.Telegram.Token == "b"
		default:
			return false
		}
	}, 5*time.Second, 100*time.Millisecond)
}

func TestBackoff(t *testing.T) {
	t.Parallel()
	b := backoff{cur: watchBackoffMin}
	first := b.next()
	assert.GreaterOrEqual(t, first, watchBackoffMin)
	assert.LessOrEqual(t, first, watchBackoffMin*3/2)
	for range 10 {
		b.next()
	}
	assert.Equal(t, watchBackoffMax, b.cur)
	b.reset()
	assert.Equal(t, watchBackoffMin, b.cur)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults ok", mutate: func(*Config) {}},
		{name: "bad duration", mutate: func(c *Config) { c.Providers.Timeout = "soon" }, wantErr: "providers.timeout"},
		{name: "unknown provider", mutate: func(c *Config) { c.Providers.Disabled = []string{"nope"} }, wantErr: "unknown provider"},
		{name: "bad scope", mutate: func(c *Config) { c.Cache.Scope = "chat" }, wantErr: "cache.scope"},
		{name: "sub-second interval", mutate: func(c *Config) { c.Recurring.MinInterval = "500ms" }, wantErr: "min_interval"},
		{name: "redis without addr", mutate: func(c *Config) { c.Storage = &StorageConfig{Driver: "redis"} }, wantErr: "storage.addr"},
		{name: "bad driver", mutate: func(c *Config) { c.Storage = &StorageConfig{Driver: "mongo"} }, wantErr: "storage.driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{}
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Telegram: TelegramConfig{Token: "old"}}
	newCfg := &Config{
		Telegram:      TelegramConfig{Token: "new-secret"},
		Cache:         CacheConfig{Capacity: 10},
		Observability: ObservabilityConfig{Token: "tok-secret"},
	}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"cache", "observability"}, changed)

	var buf bytes.Buffer
	logx.NewWriter(&buf, "debug").Info("config reloaded", attrs...)
	assert.NotContains(t, buf.String(), "secret")
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", DefaultMinInterval)
	require.NoError(t, err)
	assert.Equal(t, DefaultMinInterval, d)

	d, err = ParseDurationOrDefault("x", "90s", DefaultMinInterval)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = ParseDurationOrDefault("x", "-1s", 0)
	require.Error(t, err)
}
