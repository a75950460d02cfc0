package search

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boorubot/internal/blacklist"
	"boorubot/internal/booru"
	"boorubot/internal/cache"
	logx "boorubot/pkg/logx"
)

type fakeClient struct {
	mu      sync.Mutex
	items   []booru.Item
	err     error
	calls   atomic.Int32
	reqs    []booru.FetchRequest
	block   chan struct{}
	explode bool
}

func (f *fakeClient) Fetch(ctx context.Context, req booru.FetchRequest) ([]booru.Item, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.explode {
		panic("provider exploded")
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return append([]booru.Item(nil), f.items...), nil
}

func item(p booru.ID, id string, tags ...string) booru.Item {
	return booru.Item{Provider: p, RemoteID: id, FileURL: "https://example.com/" + p.String() + "/" + id + ".jpg", Tags: tags}
}

func newOrchestrator(t *testing.T, clients map[booru.ID]booru.Client, bl *blacklist.Blacklist, dedup Deduper) *Orchestrator {
	t.Helper()
	if bl == nil {
		bl = blacklist.New(nil, logx.Nop())
	}
	return New(clients, bl, dedup, Config{ProviderTimeout: time.Second}, logx.Nop())
}

func TestSearchFallsBackAcrossProviders(t *testing.T) {
	t.Parallel()
	// A fails, B is empty, C has the item: whatever the shuffle order, C wins.
	a := &fakeClient{err: errors.New("503")}
	b := &fakeClient{}
	c := &fakeClient{items: []booru.Item{item(booru.Konachan, "x")}}
	o := newOrchestrator(t, map[booru.ID]booru.Client{
		booru.Rule34: a, booru.Gelbooru: b, booru.Konachan: c,
	}, nil, cache.New(cache.Config{Capacity: 10}))

	got, err := o.Search(context.Background(), Query{Tags: []string{"cat"}, Origin: 1, ForceExplicit: true})
	require.NoError(t, err)
	assert.Equal(t, booru.Konachan, got.Provider)
	assert.Equal(t, "x", got.RemoteID)
	assert.Equal(t, int32(1), c.calls.Load())
}

func TestSearchDedupExhaustsToNotFound(t *testing.T) {
	t.Parallel()
	c := &fakeClient{items: []booru.Item{item(booru.Yandere, "only")}}
	o := newOrchestrator(t, map[booru.ID]booru.Client{booru.Yandere: c}, nil, cache.New(cache.Config{Capacity: 10}))

	q := Query{Tags: []string{"a"}, Origin: 1}
	_, err := o.Search(context.Background(), q)
	require.NoError(t, err)
	_, err = o.Search(context.Background(), q)
	assert.ErrorIs(t, err, ErrNotFound)

	// Without dedup the same item is served again.
	o.SetDeduper(nil)
	_, err = o.Search(context.Background(), q)
	assert.NoError(t, err)
}

func TestSearchBlacklistedQuerySkipsProviders(t *testing.T) {
	t.Parallel()
	bl := blacklist.New(nil, logx.Nop())
	_, err := bl.Toggle(context.Background(), 1, "gore")
	require.NoError(t, err)

	c := &fakeClient{items: []booru.Item{item(booru.Yandere, "1")}}
	o := newOrchestrator(t, map[booru.ID]booru.Client{booru.Yandere: c}, bl, nil)

	_, err = o.Search(context.Background(), Query{Tags: []string{"GORE"}, Origin: 1})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(0), c.calls.Load())

	// Another origin is unaffected.
	_, err = o.Search(context.Background(), Query{Tags: []string{"gore"}, Origin: 2})
	assert.NoError(t, err)
}

func TestSearchFiltersBlacklistedAndMalformedItems(t *testing.T) {
	t.Parallel()
	bl := blacklist.New(nil, logx.Nop())
	_, err := bl.Toggle(context.Background(), 1, "gore")
	require.NoError(t, err)

	bad := item(booru.Danbooru, "bad")
	bad.FileURL = "not a url"
	relative := item(booru.Danbooru, "rel")
	relative.FileURL = "/data/rel.jpg"
	c := &fakeClient{items: []booru.Item{
		item(booru.Danbooru, "1", "gore", "cat"),
		bad,
		relative,
		item(booru.Danbooru, "2", "cat"),
	}}
	o := newOrchestrator(t, map[booru.ID]booru.Client{booru.Danbooru: c}, bl, nil)

	for i := 0; i < 10; i++ {
		got, err := o.Search(context.Background(), Query{Tags: []string{"cat"}, Origin: 1})
		require.NoError(t, err)
		assert.Equal(t, "2", got.RemoteID)
	}
}

func TestSearchExcludesDisabledProviders(t *testing.T) {
	t.Parallel()
	c := &fakeClient{items: []booru.Item{item(booru.Gelbooru, "1")}}
	o := newOrchestrator(t, map[booru.ID]booru.Client{booru.Gelbooru: c}, nil, nil)
	o.SetConfig(Config{Disabled: map[booru.ID]bool{booru.Gelbooru: true}})

	_, err := o.Search(context.Background(), Query{Origin: 1})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(0), c.calls.Load())
}

func TestSearchExplicitPoolOnly(t *testing.T) {
	t.Parallel()
	safe := &fakeClient{items: []booru.Item{item(booru.Safebooru, "s")}}
	o := newOrchestrator(t, map[booru.ID]booru.Client{booru.Safebooru: safe}, nil, nil)

	_, err := o.Search(context.Background(), Query{Origin: 1, ForceExplicit: true})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(0), safe.calls.Load())

	got, err := o.Search(context.Background(), Query{Origin: 1})
	require.NoError(t, err)
	assert.Equal(t, booru.Safebooru, got.Provider)
}

func TestUntaggedSearchUsesRandomPageThenFallsBack(t *testing.T) {
	t.Parallel()
	c := &fakeClient{}
	o := newOrchestrator(t, map[booru.ID]booru.Client{booru.Yandere: c}, nil, nil)
	o.SetConfig(Config{ProviderTimeout: time.Second, RandomPages: 5})
	o.intn = func(n int) int { return n - 1 }

	_, err := o.SearchIn(context.Background(), Query{Origin: 1}, booru.Yandere)
	assert.ErrorIs(t, err, ErrNotFound)
	require.Len(t, c.reqs, 2)
	assert.Equal(t, 4, c.reqs[0].Page)
	assert.Equal(t, 0, c.reqs[1].Page)
}

func TestProviderTimeoutCountsAsEmpty(t *testing.T) {
	t.Parallel()
	slow := &fakeClient{block: make(chan struct{}), items: []booru.Item{item(booru.Rule34, "late")}}
	fast := &fakeClient{items: []booru.Item{item(booru.Gelbooru, "ok")}}
	o := newOrchestrator(t, map[booru.ID]booru.Client{booru.Rule34: slow, booru.Gelbooru: fast}, nil, nil)
	o.SetConfig(Config{ProviderTimeout: 20 * time.Millisecond})

	got, err := o.Search(context.Background(), Query{Tags: []string{"x"}, Origin: 1})
	require.NoError(t, err)
	assert.Equal(t, "ok", got.RemoteID)
}

func TestBatchCollectsInDeclarationOrder(t *testing.T) {
	t.Parallel()
	clients := map[booru.ID]booru.Client{
		booru.Gelbooru: &fakeClient{items: []booru.Item{item(booru.Gelbooru, "g")}},
		booru.Danbooru: &fakeClient{err: errors.New("down")},
		booru.Konachan: &fakeClient{items: []booru.Item{item(booru.Konachan, "k")}},
		booru.Yandere:  &fakeClient{items: []booru.Item{item(booru.Yandere, "y")}},
	}
	o := newOrchestrator(t, clients, nil, nil)

	ids := []booru.ID{booru.Yandere, booru.Gelbooru, booru.Danbooru, booru.Konachan}
	got, err := o.Batch(context.Background(), Query{Origin: 1, ForceExplicit: true}, ids)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"y", "g", "k"}, []string{got[0].RemoteID, got[1].RemoteID, got[2].RemoteID})
	assert.False(t, o.Guard().Busy(1))
}

func TestBatchBusyPerOrigin(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	slow := &fakeClient{block: block, items: []booru.Item{item(booru.Gelbooru, "1")}}
	o := newOrchestrator(t, map[booru.ID]booru.Client{booru.Gelbooru: slow}, nil, nil)
	o.SetConfig(Config{ProviderTimeout: 5 * time.Second})

	done := make(chan error, 1)
	go func() {
		_, err := o.Batch(context.Background(), Query{Origin: 1}, []booru.ID{booru.Gelbooru})
		done <- err
	}()
	require.Eventually(t, func() bool { return o.Guard().Busy(1) }, time.Second, 5*time.Millisecond)

	_, err := o.Batch(context.Background(), Query{Origin: 1}, []booru.ID{booru.Gelbooru})
	assert.ErrorIs(t, err, ErrBusy)

	// A different origin is not blocked by origin 1.
	assert.True(t, o.Guard().TryEnter(2))
	o.Guard().Exit(2)

	close(block)
	require.NoError(t, <-done)
	assert.False(t, o.Guard().Busy(1))
}

func TestBatchReleasesGuardOnPanicAndEmpty(t *testing.T) {
	t.Parallel()
	o := newOrchestrator(t, map[booru.ID]booru.Client{
		booru.Gelbooru: &fakeClient{explode: true},
		booru.Yandere:  &fakeClient{},
	}, nil, nil)

	_, err := o.Batch(context.Background(), Query{Origin: 9}, []booru.ID{booru.Gelbooru, booru.Yandere})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, o.Guard().Busy(9))
}

func TestConcurrentSearchesNeverShareAnItem(t *testing.T) {
	t.Parallel()
	items := make([]booru.Item, 0, 20)
	for i := 0; i < 20; i++ {
		items = append(items, item(booru.Yandere, string(rune('a'+i))))
	}
	c := &fakeClient{items: items}
	o := newOrchestrator(t, map[booru.ID]booru.Client{booru.Yandere: c}, nil, cache.New(cache.Config{Capacity: 100}))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]int{}
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := o.Search(context.Background(), Query{Tags: []string{"x"}, Origin: 1})
			if err != nil {
				return
			}
			mu.Lock()
			seen[got.RemoteID]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 20)
	for id, n := range seen {
		assert.Equal(t, 1, n, "item %s delivered twice", id)
	}
}
