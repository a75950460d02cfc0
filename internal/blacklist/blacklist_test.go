package blacklist

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boorubot/internal/storage"
	logx "boorubot/pkg/logx"
)

func TestToggleInvolution(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := New(nil, logx.Nop())

	added, err := b.Toggle(ctx, 1, "  Gore ")
	require.NoError(t, err)
	assert.True(t, added)
	assert.True(t, b.IsBlacklisted(1, "gore"))
	assert.True(t, b.IsBlacklisted(1, "GORE"))

	added, err = b.Toggle(ctx, 1, "gore")
	require.NoError(t, err)
	assert.False(t, added)
	assert.False(t, b.IsBlacklisted(1, "gore"))
	assert.Empty(t, b.List(1))
}

func TestOriginIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := New(nil, logx.Nop())

	_, err := b.Toggle(ctx, 1, "x")
	require.NoError(t, err)
	assert.False(t, b.IsBlacklisted(2, "x"))
	assert.Empty(t, b.List(2))

	_, err = b.Toggle(ctx, 1, "b")
	require.NoError(t, err)
	_, err = b.Toggle(ctx, 1, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "x"}, b.List(1))

	tag, ok := b.Any(1, []string{"zzz", "B"})
	assert.True(t, ok)
	assert.Equal(t, "B", tag)
	_, ok = b.Any(2, []string{"x"})
	assert.False(t, ok)
}

func TestToggleEmptyTag(t *testing.T) {
	t.Parallel()
	_, err := New(nil, logx.Nop()).Toggle(context.Background(), 1, "   ")
	assert.ErrorIs(t, err, ErrEmptyTag)
}

func TestConcurrentTogglesPairUp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := New(nil, logx.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = b.Toggle(ctx, 3, "tag")
		}()
	}
	wg.Wait()
	assert.False(t, b.IsBlacklisted(3, "tag"), "an even number of toggles must cancel out")
}

type failingStore struct {
	storage.Store
	err error
}

func (f failingStore) AddBlacklistTag(context.Context, int64, string) error    { return f.err }
func (f failingStore) RemoveBlacklistTag(context.Context, int64, string) error { return f.err }

func TestToggleRollsBackOnPersistFailure(t *testing.T) {
	t.Parallel()
	boom := errors.New("disk full")
	b := New(failingStore{err: boom}, logx.Nop())

	added, err := b.Toggle(context.Background(), 1, "gore")
	assert.ErrorIs(t, err, boom)
	assert.False(t, added)
	assert.False(t, b.IsBlacklisted(1, "gore"))
}

func TestLoadFromStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bl.json")

	st, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	b := New(st, logx.Nop())
	_, err = b.Toggle(ctx, 10, "scat")
	require.NoError(t, err)
	_, err = b.Toggle(ctx, 11, "guro")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	restored := New(st, logx.Nop())
	require.NoError(t, restored.Load(ctx))
	assert.True(t, restored.IsBlacklisted(10, "scat"))
	assert.True(t, restored.IsBlacklisted(11, "guro"))
	assert.False(t, restored.IsBlacklisted(10, "guro"))
}
