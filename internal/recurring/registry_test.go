package recurring

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "boorubot/internal/transport"
	logx "boorubot/pkg/logx"
)

func newRegistry(t *testing.T, minInterval time.Duration) *Registry {
	t.Helper()
	r := New(Config{MinInterval: minInterval, TickTimeout: 2 * time.Second}, logx.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Close(ctx)
	})
	return r
}

func key(chat int64, kind Kind) Key {
	return Key{Dest: kit.ChatTarget{ChatID: chat}, Kind: kind}
}

func counter(n *atomic.Int32) Job {
	return func(context.Context, Tick) error {
		n.Add(1)
		return nil
	}
}

func TestStartBelowMinimumIsNoop(t *testing.T) {
	t.Parallel()
	r := newRegistry(t, 0)
	var n atomic.Int32

	ok, err := r.Start(key(1, KindHentai), 15*time.Second, nil, counter(&n))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Stop(key(1, KindHentai)))
}

func TestStartRejectsNilJob(t *testing.T) {
	t.Parallel()
	r := newRegistry(t, time.Second)
	_, err := r.Start(key(1, KindBoobs), time.Minute, nil, nil)
	assert.ErrorIs(t, err, ErrNilJob)
}

func TestReplacementSupersedesOldJob(t *testing.T) {
	t.Parallel()
	r := newRegistry(t, time.Second)
	k := key(7, KindHentai)

	var oldTicks, newTicks atomic.Int32
	ok, err := r.Start(k, time.Second, []string{"a"}, counter(&oldTicks))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.Start(k, time.Second, []string{"b"}, counter(&newTicks))
	require.NoError(t, err)
	require.True(t, ok)
	frozen := oldTicks.Load()

	require.Eventually(t, func() bool { return newTicks.Load() >= 2 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, frozen, oldTicks.Load(), "superseded job fired after replacement")
	assert.Equal(t, 1, r.Len())

	snap := r.List()
	require.Len(t, snap, 1)
	assert.Equal(t, []string{"b"}, snap[0].Tags)
}

func TestTickErrorsAndPanicsKeepSchedule(t *testing.T) {
	t.Parallel()
	r := newRegistry(t, time.Second)

	var failing, exploding atomic.Int32
	_, err := r.Start(key(1, KindBoobs), time.Second, nil, func(context.Context, Tick) error {
		failing.Add(1)
		return errors.New("send failed")
	})
	require.NoError(t, err)
	_, err = r.Start(key(1, KindButts), time.Second, nil, func(context.Context, Tick) error {
		exploding.Add(1)
		panic("boom")
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return failing.Load() >= 2 && exploding.Load() >= 2
	}, 6*time.Second, 20*time.Millisecond)
	assert.Equal(t, 2, r.Len())
}

func TestStopDrainsInFlightTick(t *testing.T) {
	t.Parallel()
	r := newRegistry(t, time.Second)
	k := key(3, KindHentai)

	started := make(chan struct{}, 1)
	var finished atomic.Bool
	_, err := r.Start(k, time.Second, nil, func(ctx context.Context, _ Tick) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		finished.Store(true)
		return ctx.Err()
	})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("tick never started")
	}
	require.True(t, r.Stop(k))
	assert.True(t, finished.Load(), "Stop returned before the tick drained")
	assert.False(t, r.Stop(k))
}

func TestListOrderAndStopAll(t *testing.T) {
	t.Parallel()
	r := newRegistry(t, time.Second)
	var n atomic.Int32

	for _, k := range []Key{key(2, KindHentai), key(1, KindButts), key(1, KindBoobs)} {
		ok, err := r.Start(k, time.Hour, nil, counter(&n))
		require.NoError(t, err)
		require.True(t, ok)
	}

	snap := r.List()
	require.Len(t, snap, 3)
	assert.Equal(t, key(1, KindBoobs), snap[0].Key)
	assert.Equal(t, key(1, KindButts), snap[1].Key)
	assert.Equal(t, key(2, KindHentai), snap[2].Key)
	assert.NotEqual(t, snap[0].ID, snap[1].ID)

	assert.Equal(t, 3, r.StopAll())
	assert.Empty(t, r.List())
}

func TestClosedRegistryRejectsStart(t *testing.T) {
	t.Parallel()
	r := New(Config{MinInterval: time.Second}, logx.Nop())
	var n atomic.Int32
	_, err := r.Start(key(1, KindHentai), time.Hour, nil, counter(&n))
	require.NoError(t, err)

	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, 0, r.Len())
	_, err = r.Start(key(1, KindHentai), time.Hour, nil, counter(&n))
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, r.Close(context.Background()))
}

func TestApplyRaisesMinimum(t *testing.T) {
	t.Parallel()
	r := newRegistry(t, time.Second)
	r.Apply(Config{MinInterval: time.Minute})
	var n atomic.Int32
	ok, err := r.Start(key(1, KindHentai), 30*time.Second, nil, counter(&n))
	require.NoError(t, err)
	assert.False(t, ok)
}

// blockingJob signals started on its first call and then blocks until release
// is closed, ignoring ctx like a send that cannot be interrupted.
func blockingJob(started chan<- struct{}, release <-chan struct{}, calls *atomic.Int32) Job {
	return func(context.Context, Tick) error {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return nil
	}
}

func liveEntry(t *testing.T, r *Registry, k Key) *entry {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.jobs[k]
	require.NotNil(t, e)
	return e
}

func TestTickDoesNotTakeRegistryLock(t *testing.T) {
	t.Parallel()
	r := newRegistry(t, time.Second)
	k := key(4, KindHentai)
	var n atomic.Int32
	_, err := r.Start(k, time.Hour, nil, counter(&n))
	require.NoError(t, err)
	e := liveEntry(t, r, k)

	done := make(chan struct{})
	r.mu.Lock()
	go func() {
		r.fire(e, counter(&n))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		r.mu.Unlock()
		t.Fatal("tick blocked on the registry lock")
	}
	r.mu.Unlock()
	assert.Equal(t, int32(1), n.Load())
}

func TestSupersedeWhileTickRunning(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		supersede func(r *Registry, k Key) bool
	}{
		{
			name: "replace",
			supersede: func(r *Registry, k Key) bool {
				var n atomic.Int32
				ok, err := r.Start(k, time.Hour, []string{"new"}, counter(&n))
				return err == nil && ok
			},
		},
		{
			name:      "stop",
			supersede: func(r *Registry, k Key) bool { return r.Stop(k) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := newRegistry(t, time.Second)
			k := key(5, KindHentai)
			started, release := make(chan struct{}), make(chan struct{})
			var calls atomic.Int32
			job := blockingJob(started, release, &calls)
			_, err := r.Start(k, time.Hour, nil, job)
			require.NoError(t, err)

			e := liveEntry(t, r, k)
			go r.fire(e, job)
			select {
			case <-started:
			case <-time.After(2 * time.Second):
				t.Fatal("tick never started")
			}

			superseded := make(chan bool, 1)
			go func() { superseded <- tt.supersede(r, k) }()

			// Other keys stay usable while the old tick is still sending.
			var other atomic.Int32
			unrelated := make(chan struct{})
			go func() {
				_, _ = r.Start(key(6, KindBoobs), time.Hour, nil, counter(&other))
				_ = r.List()
				close(unrelated)
			}()
			select {
			case <-unrelated:
			case <-time.After(2 * time.Second):
				t.Fatal("unrelated key blocked behind a draining tick")
			}

			select {
			case <-superseded:
				t.Fatal("returned before the in-flight tick drained")
			case <-time.After(100 * time.Millisecond):
			}
			close(release)
			select {
			case ok := <-superseded:
				assert.True(t, ok)
			case <-time.After(2 * time.Second):
				t.Fatal("supersede did not return after the tick finished")
			}

			r.fire(e, job)
			assert.Equal(t, int32(1), calls.Load(), "cancelled entry ran again")
		})
	}
}

func TestSlowTickOverlapsNextTick(t *testing.T) {
	t.Parallel()
	r := newRegistry(t, time.Second)
	release := make(chan struct{})
	var active, peak, calls atomic.Int32
	_, err := r.Start(key(8, KindButts), time.Second, nil, func(ctx context.Context, _ Tick) error {
		cur := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		if calls.Add(1) == 1 {
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return peak.Load() >= 2 }, 5*time.Second, 20*time.Millisecond)
	close(release)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}
